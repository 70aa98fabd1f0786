package layout

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mercury/internal/mercury"
	"github.com/roach88/mercury/internal/notebook"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func control(modelID, position string) notebook.Output {
	return notebook.Output{
		Type: "display_data",
		Data: map[string]json.RawMessage{
			mercury.MIMEType: json.RawMessage(fmt.Sprintf(`{"model_id":%q,"position":%q}`, modelID, position)),
		},
	}
}

func scenarioCells() *notebook.CellList {
	return notebook.NewList(
		notebook.NewMarkdownCell("md0", "# Report"),
		notebook.NewCodeCell("code1", "x = 1"),
		notebook.NewCodeCell("code2", "w = slider()", control("w1", "sidebar")),
		notebook.NewCodeCell("code3", "print(w.value)"),
	)
}

// assertOrdered checks that no region holds two pieces whose visual order
// contradicts the notebook order.
func assertOrdered(t *testing.T, m *Manager, cells *notebook.CellList) {
	t.Helper()
	order := map[string]int{}
	for i, c := range cells.Items() {
		order[c.ID] = i
	}
	snap := m.Snapshot()
	for _, r := range mercury.Regions {
		ids := snap.CellIDs(r)
		for i := 1; i < len(ids); i++ {
			prev, okPrev := order[ids[i-1]]
			cur, okCur := order[ids[i]]
			require.True(t, okPrev && okCur, "region %s holds a cell no longer in the notebook: %v", r, ids)
			assert.LessOrEqual(t, prev, cur, "region %s out of order: %v", r, ids)
		}
	}
}

func TestManager_InitialScenario(t *testing.T) {
	cells := scenarioCells()
	m := New(cells, quiet())
	defer m.Close()

	snap := m.Snapshot()
	assert.Equal(t, []string{"md0", "code1", "code3"}, snap.CellIDs(mercury.RegionMain))
	assert.Equal(t, []string{"code2"}, snap.CellIDs(mercury.RegionSidebar))
	assert.Empty(t, snap.CellIDs(mercury.RegionBottom))
	assert.Equal(t, Sizes{Sidebar: DefaultSidebarWidth, Bottom: 0}, snap.Sizes)

	md := snap.Main[0]
	assert.True(t, md.ShowInput)
	assert.True(t, md.Rendered)
	assert.False(t, md.Editable)

	code := snap.Main[1]
	assert.False(t, code.ShowInput)
	assert.Empty(t, code.Source)
}

func TestManager_MalformedPayloadGoesToSidebar(t *testing.T) {
	bad := notebook.Output{
		Type: "display_data",
		Data: map[string]json.RawMessage{mercury.MIMEType: json.RawMessage(`"{not json"`)},
	}
	cells := notebook.NewList(notebook.NewCodeCell("c", "", bad))
	m := New(cells, quiet())
	defer m.Close()

	assert.Equal(t, []string{"c"}, m.Snapshot().CellIDs(mercury.RegionSidebar))
}

func TestManager_PlaceCellIsIdempotent(t *testing.T) {
	cells := scenarioCells()
	m := New(cells, quiet())
	defer m.Close()

	require.True(t, m.PlaceCell("code3", "bottom"))
	first := m.Snapshot()
	require.True(t, m.PlaceCell("code3", "bottom"))
	second := m.Snapshot()

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"code3"}, second.CellIDs(mercury.RegionBottom))
	assert.Equal(t, []string{"md0", "code1"}, second.CellIDs(mercury.RegionMain))
}

func TestManager_PlaceCellPreservesOrder(t *testing.T) {
	cells := notebook.NewList(
		notebook.NewCodeCell("a", ""),
		notebook.NewCodeCell("b", ""),
		notebook.NewCodeCell("c", ""),
	)
	m := New(cells, quiet())
	defer m.Close()

	m.PlaceCell("c", "sidebar")
	m.PlaceCell("a", "sidebar")
	m.PlaceCell("b", "sidebar")

	assert.Equal(t, []string{"a", "b", "c"}, m.Snapshot().CellIDs(mercury.RegionSidebar))
	assert.Empty(t, m.Snapshot().CellIDs(mercury.RegionMain))
	assert.Equal(t, 0.0, m.Sizes().Bottom)
}

func TestManager_PlaceUnknownCell(t *testing.T) {
	m := New(scenarioCells(), quiet())
	defer m.Close()
	assert.False(t, m.PlaceCell("nope", "sidebar"))
}

func TestManager_OverrideIgnoredForMarkdown(t *testing.T) {
	cells := scenarioCells()
	m := New(cells, quiet())
	defer m.Close()

	m.PlaceCell("md0", "sidebar")
	assert.Equal(t, []string{"code2"}, m.Snapshot().CellIDs(mercury.RegionSidebar))
}

func TestManager_SizesTrackVisibility(t *testing.T) {
	cells := notebook.NewList(notebook.NewCodeCell("a", ""), notebook.NewCodeCell("b", ""))
	m := New(cells, quiet())
	defer m.Close()

	var events []Sizes
	m.SizesChanged.Connect(func(s Sizes) { events = append(events, s) })

	m.PlaceCell("a", "bottom")
	m.PlaceCell("b", "bottom") // bottom already visible: no reset
	m.PlaceCell("a", "")
	m.PlaceCell("b", "")

	assert.Equal(t, []Sizes{
		{Bottom: DefaultBottomHeight},
		{Bottom: 0},
	}, events)
}

func TestManager_StructuralChanges(t *testing.T) {
	cells := scenarioCells()
	m := New(cells, quiet())
	defer m.Close()
	base := m.Rebuilds()

	cells.Insert(2, notebook.NewCodeCell("new", "", control("w2", "sidebar")))
	assert.Equal(t, []string{"new", "code2"}, m.Snapshot().CellIDs(mercury.RegionSidebar))

	cells.Move(2, 3) // new after code2
	assert.Equal(t, []string{"code2", "new"}, m.Snapshot().CellIDs(mercury.RegionSidebar))

	cells.Remove(0)
	assert.Equal(t, []string{"code1", "code3"}, m.Snapshot().CellIDs(mercury.RegionMain))

	cells.Set(0, notebook.NewCodeCell("swapped", "", control("w3", "bottom")))
	snap := m.Snapshot()
	assert.Equal(t, []string{"swapped"}, snap.CellIDs(mercury.RegionBottom))
	assert.Equal(t, []string{"code3"}, snap.CellIDs(mercury.RegionMain))
	assert.Equal(t, DefaultBottomHeight, snap.Sizes.Bottom)

	assert.Equal(t, base, m.Rebuilds(), "well-formed changes apply incrementally")
	assertOrdered(t, m, cells)
}

func TestManager_InsertAtFrontOfPopulatedRegion(t *testing.T) {
	cells := notebook.NewList(
		notebook.NewCodeCell("a", ""),
		notebook.NewCodeCell("b", ""),
		notebook.NewCodeCell("s1", "", control("w1", "sidebar")),
	)
	m := New(cells, quiet())
	defer m.Close()

	cells.Insert(0, notebook.NewCodeCell("x", ""))
	assert.Equal(t, []string{"x", "a", "b"}, m.Snapshot().CellIDs(mercury.RegionMain))

	cells.Insert(0, notebook.NewCodeCell("s0", "", control("w0", "sidebar")))
	assert.Equal(t, []string{"s0", "s1"}, m.Snapshot().CellIDs(mercury.RegionSidebar))

	// Several cells in one change land at their own ranks.
	cells.Insert(1, notebook.NewCodeCell("y", ""), notebook.NewCodeCell("s2", "", control("w2", "sidebar")))
	snap := m.Snapshot()
	assert.Equal(t, []string{"s0", "s2", "s1"}, snap.CellIDs(mercury.RegionSidebar))
	assert.Equal(t, []string{"y", "x", "a", "b"}, snap.CellIDs(mercury.RegionMain))
	assertOrdered(t, m, cells)
}

func TestManager_MalformedChangeFallsBackToRebuild(t *testing.T) {
	cells := scenarioCells()
	m := New(cells, quiet())
	defer m.Close()
	base := m.Rebuilds()

	m.ApplyChange(notebook.ListChange[*notebook.Cell]{Type: notebook.ChangeRemove, OldIndex: 7, OldValues: []*notebook.Cell{nil}})
	assert.Equal(t, base+1, m.Rebuilds())

	// Descriptor that no longer matches the list.
	m.ApplyChange(notebook.ListChange[*notebook.Cell]{Type: notebook.ChangeMove, OldIndex: 0, NewIndex: 1,
		NewValues: []*notebook.Cell{notebook.NewCodeCell("ghost", "")}})
	assert.Equal(t, base+2, m.Rebuilds())

	m.ApplyChange(notebook.ListChange[*notebook.Cell]{Type: "clear"})
	assert.Equal(t, base+2, m.Rebuilds(), "unknown change only refreshes order")

	assert.Equal(t, []string{"md0", "code1", "code3"}, m.Snapshot().CellIDs(mercury.RegionMain))
}

func TestManager_ShowCodeSplitsControlCells(t *testing.T) {
	cells := scenarioCells()
	m := New(cells, quiet(), WithShowCode(true))
	defer m.Close()

	snap := m.Snapshot()
	assert.Equal(t, []string{"md0", "code1", "code2", "code3"}, snap.CellIDs(mercury.RegionMain))
	assert.Equal(t, []string{"code2"}, snap.CellIDs(mercury.RegionSidebar))

	input := snap.Main[2]
	assert.Equal(t, RoleInput, input.Role)
	assert.Equal(t, "w = slider()", input.Source)
	assert.False(t, input.ShowOutputChrome)

	output := snap.Sidebar[0]
	assert.Equal(t, RoleOutput, output.Role)
	assert.False(t, output.ShowOutputChrome)
	assert.Len(t, output.Outputs, 1)

	plain := snap.Main[1]
	assert.Equal(t, RoleCell, plain.Role)
	assert.True(t, plain.ShowInput)
	assert.False(t, plain.ShowOutputChrome)

	assert.Equal(t, []mercury.Region{mercury.RegionMain, mercury.RegionSidebar}, m.RegionOf("code2"))

	m.SetShowCode(false)
	assert.Equal(t, []string{"md0", "code1", "code3"}, m.Snapshot().CellIDs(mercury.RegionMain))
}

func TestManager_ChangedCoalescesReentrantNotifications(t *testing.T) {
	cells := scenarioCells()
	m := New(cells, quiet())
	defer m.Close()

	calls := 0
	m.Changed.Connect(func(struct{}) {
		calls++
		// Placement from inside a change handler does not recurse.
		m.PlaceCell("code1", "bottom")
	})
	m.PlaceCell("code3", "bottom")

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"code1", "code3"}, m.Snapshot().CellIDs(mercury.RegionBottom))
}

func TestManager_OrderHoldsUnderRandomPermutations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	positions := []string{"", "sidebar", "bottom"}
	next := 0
	newCell := func() *notebook.Cell {
		next++
		id := fmt.Sprintf("c%d", next)
		if rng.Intn(4) == 0 {
			return notebook.NewMarkdownCell(id, "text")
		}
		pos := positions[rng.Intn(len(positions))]
		if pos == "" {
			return notebook.NewCodeCell(id, "")
		}
		return notebook.NewCodeCell(id, "", control("w"+id, pos))
	}

	cells := notebook.NewList[*notebook.Cell]()
	for i := 0; i < 6; i++ {
		cells.Push(newCell())
	}
	m := New(cells, quiet(), WithShowCode(rng.Intn(2) == 0))
	defer m.Close()

	for step := 0; step < 400; step++ {
		n := cells.Len()
		switch op := rng.Intn(4); {
		case op == 0 || n < 2:
			cells.Insert(rng.Intn(n+1), newCell())
		case op == 1:
			cells.Remove(rng.Intn(n))
		case op == 2:
			cells.Move(rng.Intn(n), rng.Intn(n))
		default:
			cells.Set(rng.Intn(n), newCell())
		}
		assertOrdered(t, m, cells)

		total := 0
		snap := m.Snapshot()
		for _, r := range mercury.Regions {
			total += len(snap.Region(r))
		}
		assert.GreaterOrEqual(t, total, cells.Len(), "step %d: every cell is laid out", step)
	}
}

func TestManager_CloseStopsReacting(t *testing.T) {
	cells := scenarioCells()
	m := New(cells, quiet())
	m.Close()

	assert.Equal(t, 0, cells.Changed.Len())
	cells.Push(notebook.NewCodeCell("late", ""))
	assert.False(t, m.PlaceCell("late", "sidebar"))
	assert.Empty(t, m.Snapshot().CellIDs(mercury.RegionMain))
}
