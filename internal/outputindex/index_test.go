package outputindex

import (
	"bytes"
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
	payload := fmt.Sprintf(`{"model_id":%q,"position":%q}`, modelID, position)
	return notebook.Output{
		Type: "display_data",
		Data: map[string]json.RawMessage{mercury.MIMEType: json.RawMessage(payload)},
	}
}

type recorder struct {
	added   []WidgetAdded
	unbound []Unbound
}

func record(ix *Index) *recorder {
	r := &recorder{}
	ix.WidgetAdded.Connect(func(w WidgetAdded) { r.added = append(r.added, w) })
	ix.Unbound.Connect(func(u Unbound) { r.unbound = append(r.unbound, u) })
	return r
}

func TestIndex_PrimesExistingOutputs(t *testing.T) {
	cells := notebook.NewList(
		notebook.NewMarkdownCell("md0", "# hi"),
		notebook.NewCodeCell("code2", "w", control("w1", "sidebar")),
	)
	ix := New(cells, quiet())
	defer ix.Close()

	cellID, ok := ix.CellFor("w1")
	require.True(t, ok)
	assert.Equal(t, "code2", cellID)
	assert.Equal(t, 1, ix.Watched())
}

func TestIndex_OutputAddEmitsOnlyOnChange(t *testing.T) {
	cell := notebook.NewCodeCell("c1", "w")
	cells := notebook.NewList(cell)
	ix := New(cells, quiet())
	defer ix.Close()
	rec := record(ix)

	cell.Outputs.Push(control("w1", "sidebar"))
	cell.Outputs.Push(control("w1", "sidebar"))
	cell.Outputs.Push(control("w1", "bottom"))

	require.Len(t, rec.added, 2)
	assert.Equal(t, WidgetAdded{ModelID: "w1", CellID: "c1", Position: "sidebar"}, rec.added[0])
	assert.Equal(t, mercury.RegionBottom, rec.added[1].Region())
	b, ok := ix.Binding("w1")
	require.True(t, ok)
	assert.Equal(t, "bottom", b.Position)
}

func TestIndex_OutputRemoveDropsBinding(t *testing.T) {
	cell := notebook.NewCodeCell("c1", "w", control("w1", "sidebar"))
	ix := New(notebook.NewList(cell), quiet())
	defer ix.Close()
	rec := record(ix)

	cell.Outputs.Clear()

	_, ok := ix.CellFor("w1")
	assert.False(t, ok)
	assert.Equal(t, []Unbound{{ModelID: "w1", CellID: "c1"}}, rec.unbound)
}

func TestIndex_MalformedAndEmptyPayloadsAreNotTracked(t *testing.T) {
	cell := notebook.NewCodeCell("c1", "w")
	ix := New(notebook.NewList(cell), quiet())
	defer ix.Close()

	cell.Outputs.Push(notebook.Output{
		Type: "display_data",
		Data: map[string]json.RawMessage{mercury.MIMEType: json.RawMessage(`"{not json"`)},
	})
	cell.Outputs.Push(control("", "sidebar"))

	assert.Equal(t, 0, ix.Len())
}

func TestIndex_CellListChangesResubscribe(t *testing.T) {
	a := notebook.NewCodeCell("a", "")
	b := notebook.NewCodeCell("b", "", control("wb", "sidebar"))
	cells := notebook.NewList(a)
	ix := New(cells, quiet())
	defer ix.Close()
	rec := record(ix)

	cells.Push(b)
	assert.Equal(t, 2, ix.Watched())
	id, ok := ix.CellFor("wb")
	require.True(t, ok)
	assert.Equal(t, "b", id)
	require.Len(t, rec.added, 1, "a newly added cell is primed")

	cells.Move(1, 0)
	assert.Equal(t, 2, ix.Watched())

	cells.Remove(0)
	assert.Equal(t, 1, ix.Watched())
	_, ok = ix.CellFor("wb")
	assert.False(t, ok, "bindings of a removed cell are dropped")

	// The removed cell's outputs no longer reach the index.
	b.Outputs.Push(control("late", "sidebar"))
	_, ok = ix.CellFor("late")
	assert.False(t, ok)
}

func TestIndex_SetReplacesCell(t *testing.T) {
	old := notebook.NewCodeCell("x", "", control("w1", "sidebar"))
	cells := notebook.NewList(old)
	ix := New(cells, quiet())
	defer ix.Close()

	cells.Set(0, notebook.NewCodeCell("y", "", control("w2", "bottom")))

	_, ok := ix.CellFor("w1")
	assert.False(t, ok)
	id, ok := ix.CellFor("w2")
	require.True(t, ok)
	assert.Equal(t, "y", id)
}

func TestIndex_CloseStopsTracking(t *testing.T) {
	cell := notebook.NewCodeCell("c1", "")
	cells := notebook.NewList(cell)
	ix := New(cells, quiet())
	ix.Close()

	cell.Outputs.Push(control("w1", "sidebar"))
	cells.Push(notebook.NewCodeCell("c2", "", control("w2", "sidebar")))

	assert.Equal(t, 0, ix.Len())
	assert.Equal(t, 0, cell.Outputs.Changed.Len())
}

// Property: after any sequence of output adds/removes, no binding survives
// for a model id whose output is gone.
func TestIndex_NoBindingOutlivesItsOutput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cell := notebook.NewCodeCell("c1", "")
	ix := New(notebook.NewList(cell), quiet())
	defer ix.Close()

	for step := 0; step < 500; step++ {
		if cell.Outputs.Len() > 0 && rng.Intn(2) == 0 {
			cell.Outputs.Remove(rng.Intn(cell.Outputs.Len()))
		} else {
			cell.Outputs.Push(control(fmt.Sprintf("w%d", rng.Intn(5)), "sidebar"))
		}

		live := map[string]bool{}
		for _, o := range cell.Outputs.Items() {
			p, ok, err := mercury.PayloadOf(o)
			require.True(t, ok)
			require.NoError(t, err)
			live[p.ModelID] = true
		}
		for _, b := range ix.Bindings() {
			assert.True(t, live[b.ModelID], "step %d: binding %s has no output", step, b.ModelID)
		}
	}
}

func TestIndex_UnresolvedAndMalformedControlsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	bad := notebook.Output{
		Type: "display_data",
		Data: map[string]json.RawMessage{mercury.MIMEType: json.RawMessage(`{not json`)},
	}
	cell := notebook.NewCodeCell("c1", "w", control("", "sidebar"), bad)
	ix := New(notebook.NewList(cell), WithLogger(logger))
	defer ix.Close()

	assert.Equal(t, 0, ix.Len())
	assert.Contains(t, buf.String(), string(mercury.ErrCodeUnresolvedControl))
	assert.Contains(t, buf.String(), string(mercury.ErrCodeParse)+": malformed control payload")
}
