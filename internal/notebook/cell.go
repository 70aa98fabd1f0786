package notebook

import (
	"encoding/json"
	"sync"
)

// Kind is the cell variant tag.
type Kind string

const (
	KindCode     Kind = "code"
	KindMarkdown Kind = "markdown"
	KindRaw      Kind = "raw"
)

// Output is one entry of a code cell's output area.
type Output struct {
	// Type is the nbformat output_type: display_data, execute_result,
	// stream, error or update_display_data.
	Type string

	// Data maps MIME type to its JSON payload.
	Data map[string]json.RawMessage

	// Name and Text are set for stream outputs.
	Name string
	Text string

	ExecutionCount *int

	ErrorName  string
	ErrorValue string
	Traceback  []string
}

// Has reports whether the output carries a payload for mime.
func (o Output) Has(mime string) bool {
	_, ok := o.Data[mime]
	return ok
}

// OutputList is the observable output area of a code cell.
type OutputList = List[Output]

// CellList is the observable, ordered list of notebook cells.
type CellList = List[*Cell]

// Cell is a notebook cell. Identity (ID) is stable for the cell's lifetime.
type Cell struct {
	ID       string
	Kind     Kind
	Metadata map[string]any

	// Outputs is nil for markdown and raw cells.
	Outputs *OutputList

	mu             sync.Mutex
	source         string
	executionCount *int
	trusted        bool
}

// NewCodeCell builds a code cell with the given initial outputs.
func NewCodeCell(id, source string, outputs ...Output) *Cell {
	return &Cell{
		ID:      id,
		Kind:    KindCode,
		Outputs: NewList(outputs...),
		source:  source,
	}
}

// NewMarkdownCell builds a markdown cell.
func NewMarkdownCell(id, source string) *Cell {
	return &Cell{ID: id, Kind: KindMarkdown, source: source}
}

// NewRawCell builds a raw cell.
func NewRawCell(id, source string) *Cell {
	return &Cell{ID: id, Kind: KindRaw, source: source}
}

// Source returns the cell text.
func (c *Cell) Source() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// SetSource replaces the cell text.
func (c *Cell) SetSource(src string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = src
}

// ExecutionCount returns the execution counter; ok is false when the cell
// has never been executed.
func (c *Cell) ExecutionCount() (n int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.executionCount == nil {
		return 0, false
	}
	return *c.executionCount, true
}

// SetExecutionCount records the counter reported by execute_reply.
func (c *Cell) SetExecutionCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executionCount = &n
}

// ClearExecutionCount resets the counter before a new run.
func (c *Cell) ClearExecutionCount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executionCount = nil
}

// Trusted reports whether the cell's outputs may be rendered as active
// content.
func (c *Cell) Trusted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trusted
}

// SetTrusted marks the cell trusted.
func (c *Cell) SetTrusted(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trusted = v
}

// IsCode reports whether the cell is a code cell.
func (c *Cell) IsCode() bool {
	return c != nil && c.Kind == KindCode
}
