package layout

import (
	"github.com/roach88/mercury/internal/mercury"
	"github.com/roach88/mercury/internal/notebook"
)

// Entry is one piece of a region as seen by renderers.
type Entry struct {
	CellID string        `json:"cell_id"`
	Kind   notebook.Kind `json:"kind"`
	Role   Role          `json:"role"`

	// ShowInput is set when the piece renders the cell's source: markdown
	// and raw cells, and input pieces in show-code mode.
	ShowInput bool `json:"show_input"`

	// ShowOutputChrome is false for input pieces and for every piece in
	// show-code mode.
	ShowOutputChrome bool `json:"show_output_chrome"`
	Rendered         bool `json:"rendered,omitempty"`
	Editable         bool `json:"editable"`

	Source  string            `json:"source"`
	Outputs []notebook.Output `json:"outputs,omitempty"`
}

// Snapshot is a point-in-time copy of the three regions.
type Snapshot struct {
	Sidebar []Entry `json:"sidebar"`
	Main    []Entry `json:"main"`
	Bottom  []Entry `json:"bottom"`
	Sizes   Sizes   `json:"sizes"`
}

// Region returns the entries of r.
func (s Snapshot) Region(r mercury.Region) []Entry {
	switch r {
	case mercury.RegionSidebar:
		return s.Sidebar
	case mercury.RegionBottom:
		return s.Bottom
	default:
		return s.Main
	}
}

// CellIDs returns the cell ids of r in visual order.
func (s Snapshot) CellIDs(r mercury.Region) []string {
	entries := s.Region(r)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.CellID
	}
	return out
}

// Snapshot copies the current regions.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{Sizes: m.sizes}
	for _, r := range mercury.Regions {
		var entries []Entry
		for _, p := range m.regions[r] {
			entries = append(entries, m.entryLocked(p))
		}
		switch r {
		case mercury.RegionSidebar:
			snap.Sidebar = entries
		case mercury.RegionBottom:
			snap.Bottom = entries
		default:
			snap.Main = entries
		}
	}
	return snap
}

// RegionOf returns the regions holding the cell's pieces, in piece order.
func (m *Manager) RegionOf(cellID string) []mercury.Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.itemLocked(cellID)
	if it == nil {
		return nil
	}
	out := make([]mercury.Region, len(it.pieces))
	for i, p := range it.pieces {
		out[i] = p.region
	}
	return out
}

func (m *Manager) entryLocked(p *piece) Entry {
	c := p.item.cell
	class := p.item.class
	e := Entry{
		CellID:   c.ID,
		Kind:     c.Kind,
		Role:     p.role,
		Rendered: class.Rendered,
		Editable: class.Editable,
		Source:   c.Source(),
	}

	switch {
	case c.Kind != notebook.KindCode:
		e.ShowInput = true
	case p.role == RoleInput:
		e.ShowInput = true
	case p.role == RoleOutput:
		e.Outputs = c.Outputs.Items()
	default:
		// A whole code cell shows its outputs, and its input in show-code
		// mode when the two are not split.
		e.ShowInput = class.ShowInput
		e.ShowOutputChrome = !class.ShowInput
		e.Outputs = c.Outputs.Items()
	}
	if p.role == RoleOutput {
		e.ShowOutputChrome = !class.ShowInput
	}
	if !e.ShowInput {
		e.Source = ""
	}
	return e
}
