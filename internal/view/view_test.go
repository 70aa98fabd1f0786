package view

import (
	"encoding/json"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mercury/internal/layout"
	"github.com/roach88/mercury/internal/mercury"
	"github.com/roach88/mercury/internal/notebook"
	"github.com/roach88/mercury/internal/watchdog"
)

func controlOutput(modelID, position string) notebook.Output {
	payload, _ := json.Marshal(map[string]string{
		"model_id": modelID,
		"position": position,
		"widget":   "Slider",
	})
	return notebook.Output{
		Type: "display_data",
		Data: map[string]json.RawMessage{mercury.MIMEType: payload},
	}
}

func scenarioSnapshot() layout.Snapshot {
	return layout.Snapshot{
		Sidebar: []layout.Entry{{
			CellID:  "code1",
			Kind:    notebook.KindCode,
			Role:    layout.RoleCell,
			Outputs: []notebook.Output{controlOutput("w1", "sidebar")},
		}},
		Main: []layout.Entry{
			{CellID: "md0", Kind: notebook.KindMarkdown, Role: layout.RoleCell, ShowInput: true, Source: "# Sales"},
			{CellID: "code3", Kind: notebook.KindCode, Role: layout.RoleCell, Outputs: []notebook.Output{
				{Type: "stream", Name: "stdout", Text: "2\n"},
			}},
		},
		Bottom: []layout.Entry{{
			CellID:  "code4",
			Kind:    notebook.KindCode,
			Role:    layout.RoleCell,
			Outputs: []notebook.Output{controlOutput("w2", "bottom")},
		}},
		Sizes: layout.Sizes{Sidebar: layout.DefaultSidebarWidth, Bottom: layout.DefaultBottomHeight},
	}
}

func lineIndex(lines []string, needle string) int {
	for i, l := range lines {
		if strings.Contains(l, needle) {
			return i
		}
	}
	return -1
}

func TestRender_PlacesRegions(t *testing.T) {
	out := Render(scenarioSnapshot(), 100)
	lines := strings.Split(out, "\n")

	side := lineIndex(lines, "sidebar")
	require.GreaterOrEqual(t, side, 0)
	assert.Contains(t, lines[side], "main", "sidebar and main share the top row")
	assert.Less(t, strings.Index(lines[side], "sidebar"), strings.Index(lines[side], "main"))

	bottom := lineIndex(lines, "bottom")
	require.GreaterOrEqual(t, bottom, 0)
	assert.Greater(t, bottom, lineIndex(lines, "code3"), "bottom strip is below the main column")

	assert.Contains(t, out, "◆ Slider (w1)")
	assert.Contains(t, out, "◆ Slider (w2)")
	assert.Contains(t, out, "# Sales")
	assert.Less(t, strings.Index(out, "md0"), strings.Index(out, "code3"), "main keeps visual order")
}

func TestRender_EveryLineFillsWidth(t *testing.T) {
	for _, width := range []int{60, 80, 120} {
		out := Render(scenarioSnapshot(), width)
		for i, line := range strings.Split(out, "\n") {
			assert.Equal(t, width, lipgloss.Width(line), "width %d line %d: %q", width, i, line)
		}
	}
}

func TestRender_HiddenRegionsTakeNoSpace(t *testing.T) {
	snap := layout.Snapshot{
		Main: []layout.Entry{{CellID: "md0", Kind: notebook.KindMarkdown, ShowInput: true, Source: "hello"}},
	}
	out := Render(snap, 80)
	assert.NotContains(t, out, "sidebar")
	assert.NotContains(t, out, "bottom")
	assert.Contains(t, out, "hello")
}

func TestRender_EmptyMain(t *testing.T) {
	out := Render(layout.Snapshot{}, 0)
	assert.Contains(t, out, "(empty)")
	assert.Equal(t, DefaultWidth, lipgloss.Width(out))
}

func TestRender_ShowCodeSplitsInputAndOutput(t *testing.T) {
	snap := layout.Snapshot{
		Sidebar: []layout.Entry{{
			CellID:  "code1",
			Kind:    notebook.KindCode,
			Role:    layout.RoleOutput,
			Outputs: []notebook.Output{controlOutput("w1", "sidebar")},
		}},
		Main: []layout.Entry{{
			CellID:    "code1",
			Kind:      notebook.KindCode,
			Role:      layout.RoleInput,
			ShowInput: true,
			Source:    "slider()",
		}},
	}
	out := Render(snap, 90)
	assert.Contains(t, out, "[out] code1")
	assert.Contains(t, out, "[in] code1")
	assert.Contains(t, out, "slider()")
}

func TestRenderOutput_Variants(t *testing.T) {
	st := defaultStyles()
	tests := []struct {
		name string
		out  notebook.Output
		want string
	}{
		{"stream", notebook.Output{Type: "stream", Text: "hi\n"}, "hi"},
		{"error", notebook.Output{Type: "error", ErrorName: "NameError", ErrorValue: "x"}, "NameError: x"},
		{"plain string", notebook.Output{Type: "execute_result", Data: map[string]json.RawMessage{
			"text/plain": json.RawMessage(`"42"`),
		}}, "42"},
		{"plain lines", notebook.Output{Type: "execute_result", Data: map[string]json.RawMessage{
			"text/plain": json.RawMessage(`["a\n", "b"]`),
		}}, "a\nb"},
		{"other mime", notebook.Output{Type: "display_data", Data: map[string]json.RawMessage{
			"image/png": json.RawMessage(`"..."`),
		}}, "<image/png>"},
		{"malformed control", notebook.Output{Type: "display_data", Data: map[string]json.RawMessage{
			mercury.MIMEType: json.RawMessage(`[1]`),
		}}, "◆ malformed control"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, renderOutput(st, tt.out), tt.want)
		})
	}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_AcknowledgeNotice(t *testing.T) {
	acks := 0
	m := NewModel("Sales", scenarioSnapshot(), WithAcknowledge(func() { acks++ }))

	// Nothing to acknowledge yet.
	next, _ := m.Update(key("a"))
	assert.Equal(t, 0, acks)

	next, _ = next.Update(NoticeMsg{Notice: watchdog.Notice{Source: watchdog.SourceKernel, Reason: "kernel connection lost"}})
	_, shown := next.(Model).Notice()
	require.True(t, shown)
	assert.Contains(t, next.View(), "Connection lost")
	assert.Contains(t, next.View(), "kernel connection lost")

	next, _ = next.Update(key("a"))
	_, shown = next.(Model).Notice()
	assert.False(t, shown)
	assert.Equal(t, 1, acks)
	assert.Contains(t, next.View(), "Sales")
}

func TestModel_Quit(t *testing.T) {
	m := NewModel("Sales", layout.Snapshot{})
	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestModel_FollowsUpdates(t *testing.T) {
	updates := make(chan tea.Msg, 1)
	m := NewModel("Sales", layout.Snapshot{}, WithUpdates(updates))

	snap := scenarioSnapshot()
	updates <- SnapshotMsg{Snapshot: snap}

	cmd := m.Init()
	require.NotNil(t, cmd)
	next, cmd := m.Update(cmd())
	assert.Equal(t, snap, next.(Model).Snapshot())
	assert.NotNil(t, cmd, "keeps listening")

	close(updates)
	assert.Nil(t, cmd())
}

func TestModel_WindowSize(t *testing.T) {
	m := NewModel("Sales", scenarioSnapshot())
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Contains(t, next.View(), "code1")
	for _, line := range strings.Split(Render(scenarioSnapshot(), 120), "\n") {
		assert.Equal(t, 120, lipgloss.Width(line))
	}
}
