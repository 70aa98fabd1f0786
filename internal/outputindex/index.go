// Package outputindex maps dashboard control instances to the code cell
// that displays them.
//
// The index subscribes to the output list of every code cell in the
// notebook. Whenever an output carrying the reserved mercury payload
// appears, the payload's model_id is bound to the owning cell; when that
// output is removed, the binding goes away and Unbound fires so the kernel
// message interpreter can drop any pending update for the same control.
package outputindex

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/mercury/internal/event"
	"github.com/roach88/mercury/internal/mercury"
	"github.com/roach88/mercury/internal/notebook"
)

// Binding ties a control instance to its owning cell.
type Binding struct {
	ModelID  string
	CellID   string
	Position string
}

// WidgetAdded is emitted when a control is bound to a cell for the first
// time or its (cell, position) pair changes.
type WidgetAdded struct {
	ModelID  string
	CellID   string
	Position string
}

// Region is the layout region named by Position.
func (w WidgetAdded) Region() mercury.Region {
	return mercury.RegionForPosition(w.Position)
}

// Unbound is emitted when a control's output disappears.
type Unbound struct {
	ModelID string
	CellID  string
}

// Index maintains {model id → cell id}.
type Index struct {
	log   *slog.Logger
	cells *notebook.CellList

	mu            sync.Mutex
	bindings      map[string]Binding
	outputsToCell map[*notebook.OutputList]string
	watched       map[*notebook.Cell]*event.Subscription
	closed        bool

	scope event.Scope

	WidgetAdded event.Signal[WidgetAdded]
	Unbound     event.Signal[Unbound]
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger used for dropped outputs.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) { ix.log = l }
}

// New builds an index over cells and subscribes to its changes. Cells that
// already exist are primed with their current outputs.
//
// Signals emitted during priming reach only handlers connected before the
// call, so callers that need the initial bindings should read Bindings.
func New(cells *notebook.CellList, opts ...Option) *Index {
	ix := &Index{
		log:           slog.Default(),
		cells:         cells,
		bindings:      make(map[string]Binding),
		outputsToCell: make(map[*notebook.OutputList]string),
		watched:       make(map[*notebook.Cell]*event.Subscription),
	}
	for _, opt := range opts {
		opt(ix)
	}

	ix.reconcile()
	ix.scope.Add(cells.Changed.Connect(func(notebook.ListChange[*notebook.Cell]) {
		ix.reconcile()
	}))
	return ix
}

// CellFor returns the cell bound to modelID.
func (ix *Index) CellFor(modelID string) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	b, ok := ix.bindings[modelID]
	return b.CellID, ok
}

// Binding returns the full binding for modelID.
func (ix *Index) Binding(modelID string) (Binding, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	b, ok := ix.bindings[modelID]
	return b, ok
}

// Bindings returns every binding sorted by model id.
func (ix *Index) Bindings() []Binding {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]Binding, 0, len(ix.bindings))
	for _, b := range ix.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// Len returns the number of bindings.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.bindings)
}

// Watched returns the number of code cells currently subscribed.
func (ix *Index) Watched() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.watched)
}

// Close unsubscribes from the cell list and every output list.
func (ix *Index) Close() {
	ix.scope.Close()

	ix.mu.Lock()
	ix.closed = true
	watched := ix.watched
	ix.watched = make(map[*notebook.Cell]*event.Subscription)
	ix.bindings = make(map[string]Binding)
	ix.outputsToCell = make(map[*notebook.OutputList]string)
	ix.mu.Unlock()

	for _, sub := range watched {
		sub.Close()
	}
}

// reconcile subscribes code cells present in the list and drops the ones
// that left it. The live list is authoritative, so coalesced or reordered
// change notifications cannot leave a stale subscription behind.
func (ix *Index) reconcile() {
	current := ix.cells.Items()
	present := make(map[*notebook.Cell]bool, len(current))
	for _, c := range current {
		if c.IsCode() {
			present[c] = true
		}
	}

	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return
	}
	var stale []*notebook.Cell
	for c := range ix.watched {
		if !present[c] {
			stale = append(stale, c)
		}
	}
	var fresh []*notebook.Cell
	for _, c := range current {
		if present[c] && ix.watched[c] == nil {
			fresh = append(fresh, c)
		}
	}
	ix.mu.Unlock()

	for _, c := range stale {
		ix.unwatch(c)
	}
	for _, c := range fresh {
		ix.watch(c)
	}
}

func (ix *Index) watch(c *notebook.Cell) {
	outputs := c.Outputs
	sub := outputs.Changed.Connect(func(ch notebook.ListChange[notebook.Output]) {
		ix.onOutputsChange(outputs, &ch)
	})

	ix.mu.Lock()
	ix.watched[c] = sub
	ix.outputsToCell[outputs] = c.ID
	ix.mu.Unlock()

	// Prime with the outputs the cell already has.
	ix.onOutputsChange(outputs, nil)
}

func (ix *Index) unwatch(c *notebook.Cell) {
	ix.mu.Lock()
	sub := ix.watched[c]
	delete(ix.watched, c)
	delete(ix.outputsToCell, c.Outputs)
	var dropped []Unbound
	for id, b := range ix.bindings {
		if b.CellID == c.ID {
			delete(ix.bindings, id)
			dropped = append(dropped, Unbound{ModelID: id, CellID: c.ID})
		}
	}
	ix.mu.Unlock()

	sub.Close()
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].ModelID < dropped[j].ModelID })
	for _, u := range dropped {
		ix.Unbound.Emit(u)
	}
}

// onOutputsChange updates bindings for one output list. A nil change means
// "treat every current output as newly added".
func (ix *Index) onOutputsChange(outputs *notebook.OutputList, ch *notebook.ListChange[notebook.Output]) {
	var added, removed []notebook.Output
	if ch == nil {
		added = outputs.Items()
	} else {
		switch ch.Type {
		case notebook.ChangeAdd:
			added = ch.NewValues
		case notebook.ChangeRemove:
			removed = ch.OldValues
		case notebook.ChangeSet:
			added = ch.NewValues
			removed = ch.OldValues
		case notebook.ChangeMove:
		}
	}

	var unbound []Unbound
	var widgets []WidgetAdded

	ix.mu.Lock()
	for _, o := range removed {
		p, ok, err := mercury.PayloadOf(o)
		if !ok || err != nil || p.ModelID == "" {
			continue
		}
		prev, had := ix.bindings[p.ModelID]
		delete(ix.bindings, p.ModelID)
		cellID := prev.CellID
		if !had {
			cellID = ix.outputsToCell[outputs]
		}
		unbound = append(unbound, Unbound{ModelID: p.ModelID, CellID: cellID})
	}

	for _, o := range added {
		p, ok, err := mercury.PayloadOf(o)
		if !ok {
			continue
		}
		if err != nil {
			ix.log.Debug("skipping malformed control payload", "error", err)
			continue
		}
		cellID, found := ix.outputsToCell[outputs]
		if !found || p.ModelID == "" {
			ix.log.Error("unresolved control output",
				"model_id", p.ModelID,
				"error", mercury.NewUnresolvedControlError(p.ModelID),
			)
			continue
		}
		next := Binding{ModelID: p.ModelID, CellID: cellID, Position: p.Position}
		prev, had := ix.bindings[p.ModelID]
		ix.bindings[p.ModelID] = next
		if !had || prev.CellID != next.CellID || prev.Position != next.Position {
			widgets = append(widgets, WidgetAdded{ModelID: p.ModelID, CellID: cellID, Position: p.Position})
		}
	}
	ix.mu.Unlock()

	for _, u := range unbound {
		ix.Unbound.Emit(u)
	}
	for _, w := range widgets {
		ix.WidgetAdded.Emit(w)
	}
}
