package notebook

import (
	"sync"

	"github.com/roach88/mercury/internal/event"
)

// MetadataKey is the notebook-level metadata key mercury reads and writes.
const MetadataKey = "mercury"

// Metadata holds the app fields stored under the "mercury" metadata key.
type Metadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	ShowCode    bool   `json:"showCode,omitempty"`
	AutoRerun   *bool  `json:"autoRerun,omitempty"`
}

// Rerun reports whether widget updates should re-execute downstream cells.
// Absent means true.
func (m Metadata) Rerun() bool {
	return m.AutoRerun == nil || *m.AutoRerun
}

// Document is one open notebook: its cells, metadata and shared state.
type Document struct {
	Path  string
	Cells *CellList

	// ContentChanged fires after any structural or metadata change.
	ContentChanged event.Signal[struct{}]
	// MetadataChanged fires with the new metadata after SetMetadata.
	MetadataChanged event.Signal[Metadata]
	// ExecutedChanged fires when the shared executed flag flips.
	ExecutedChanged event.Signal[bool]

	mu       sync.Mutex
	meta     Metadata
	extra    map[string]any
	executed bool
	deleted  []string

	gate  event.Gate
	scope event.Scope
}

// NewDocument creates a document over cells.
func NewDocument(path string, cells ...*Cell) *Document {
	d := &Document{
		Path:  path,
		Cells: NewList(cells...),
		extra: map[string]any{},
	}
	d.scope.Add(d.Cells.Changed.Connect(d.onCellsChanged))
	return d
}

// Metadata returns the current mercury metadata.
func (d *Document) Metadata() Metadata {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meta
}

// SetMetadata replaces the mercury metadata.
func (d *Document) SetMetadata(m Metadata) {
	d.mu.Lock()
	d.meta = m
	d.mu.Unlock()

	d.MetadataChanged.Emit(m)
	d.notifyContent()
}

// Executed reads the shared "has the initial bulk run completed" flag.
func (d *Document) Executed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.executed
}

// SetExecuted writes the shared executed flag. Only the scheduler calls
// this, around the bulk run.
func (d *Document) SetExecuted(v bool) {
	d.mu.Lock()
	changed := d.executed != v
	d.executed = v
	d.mu.Unlock()

	if changed {
		d.ExecutedChanged.Emit(v)
	}
}

// DeletedCells returns the ids of cells removed from the document.
func (d *Document) DeletedCells() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.deleted))
	copy(out, d.deleted)
	return out
}

// IndexOf returns the notebook index of the cell with id, or -1.
func (d *Document) IndexOf(id string) int {
	for i, c := range d.Cells.Items() {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// Cell returns the cell with id.
func (d *Document) Cell(id string) (*Cell, bool) {
	for _, c := range d.Cells.Items() {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// Close detaches the document's own subscriptions.
func (d *Document) Close() {
	d.scope.Close()
}

func (d *Document) onCellsChanged(ch ListChange[*Cell]) {
	if ch.Type == ChangeRemove || ch.Type == ChangeSet {
		d.mu.Lock()
		for _, c := range ch.OldValues {
			if c != nil {
				d.deleted = append(d.deleted, c.ID)
			}
		}
		d.mu.Unlock()
	}
	d.notifyContent()
}

// notifyContent emits ContentChanged through the document's gate so a
// handler that mutates the document cannot cause a nested emission storm.
func (d *Document) notifyContent() {
	d.gate.Run(func() {
		d.ContentChanged.Emit(struct{}{})
	})
}
