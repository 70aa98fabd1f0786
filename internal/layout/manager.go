package layout

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/mercury/internal/event"
	"github.com/roach88/mercury/internal/mercury"
	"github.com/roach88/mercury/internal/notebook"
)

// Default split proportions of the side regions.
const (
	DefaultSidebarWidth = 0.20
	DefaultBottomHeight = 0.15
)

// Role says which part of a cell a piece shows.
type Role string

const (
	RoleCell   Role = "cell"
	RoleInput  Role = "input"
	RoleOutput Role = "output"
)

// Sizes are the split proportions of the side regions. Zero means hidden.
type Sizes struct {
	Sidebar float64 `json:"sidebar"`
	Bottom  float64 `json:"bottom"`
}

type piece struct {
	item   *item
	role   Role
	region mercury.Region
}

type item struct {
	cell   *notebook.Cell
	class  mercury.Classification
	pieces []*piece
}

// Manager owns the three regions of one notebook.
type Manager struct {
	log   *slog.Logger
	cells *notebook.CellList

	mu       sync.Mutex
	showCode bool
	items    []*item
	regions  map[mercury.Region][]*piece
	order    map[string]int
	sizes    Sizes
	rebuilds int
	closed   bool

	gate  event.Gate
	scope event.Scope

	// Changed fires after every operation that may have moved a piece.
	// Re-entrant notifications are coalesced.
	Changed event.Signal[struct{}]

	// SizesChanged fires when a side region is shown or hidden.
	SizesChanged event.Signal[Sizes]
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithShowCode starts the manager in show-code mode.
func WithShowCode(v bool) Option {
	return func(m *Manager) { m.showCode = v }
}

// New lays out cells and subscribes to structural changes of the list.
func New(cells *notebook.CellList, opts ...Option) *Manager {
	m := &Manager{
		log:     slog.Default(),
		cells:   cells,
		regions: make(map[mercury.Region][]*piece),
		order:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.mu.Lock()
	m.rebuildLocked()
	m.refreshVisibilityLocked()
	m.mu.Unlock()

	m.scope.Add(cells.Changed.Connect(m.ApplyChange))
	return m
}

// ShowCode reports whether show-code mode is on.
func (m *Manager) ShowCode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.showCode
}

// SetShowCode switches show-code mode and rebuilds when it changes.
func (m *Manager) SetShowCode(v bool) {
	m.mu.Lock()
	if m.closed || m.showCode == v {
		m.mu.Unlock()
		return
	}
	m.showCode = v
	m.rebuildLocked()
	sizes, sizesChanged := m.refreshVisibilityLocked()
	m.mu.Unlock()

	m.notify(sizes, sizesChanged)
}

// PlaceCell moves the cell's body (or its output piece in a split cell)
// to the region named by override, or to the region its reserved payload
// resolves to when override is empty. It reports false when the cell is
// not laid out.
func (m *Manager) PlaceCell(cellID, override string) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	it := m.itemLocked(cellID)
	if it == nil {
		m.mu.Unlock()
		m.log.Warn("cannot place unknown cell", "cell_id", cellID)
		return false
	}

	class := m.classifyLocked(it.cell)
	if override != "" && class.Kind == notebook.KindCode {
		class.Region = mercury.RegionForPosition(override)
	}
	m.detachItemLocked(it)
	it.class = class
	m.attachItemLocked(it)
	sizes, sizesChanged := m.refreshVisibilityLocked()
	m.mu.Unlock()

	m.notify(sizes, sizesChanged)
	return true
}

// ApplyChange reacts to one cell-list mutation. It is connected to the
// list's Changed signal by New and may also be called directly.
func (m *Manager) ApplyChange(ch notebook.ListChange[*notebook.Cell]) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	applied := false
	switch ch.Type {
	case notebook.ChangeAdd:
		applied = m.applyAddLocked(ch)
	case notebook.ChangeRemove:
		applied = m.applyRemoveLocked(ch)
	case notebook.ChangeMove:
		applied = m.applyMoveLocked(ch)
	case notebook.ChangeSet:
		applied = m.applySetLocked(ch)
	default:
		m.rebuildOrderLocked()
		applied = true
	}

	// Coalesced or out-of-band mutations can leave the mirror out of step
	// with the live list even when the descriptor looked sane.
	if !applied || !m.mirrorsLocked() {
		m.log.Debug("layout change fell back to rebuild", "type", ch.Type)
		m.rebuildLocked()
	}
	sizes, sizesChanged := m.refreshVisibilityLocked()
	m.mu.Unlock()

	m.notify(sizes, sizesChanged)
}

// Rebuild discards every placement and lays out the live list again.
func (m *Manager) Rebuild() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.rebuildLocked()
	sizes, sizesChanged := m.refreshVisibilityLocked()
	m.mu.Unlock()

	m.notify(sizes, sizesChanged)
}

// Sizes returns the current split proportions.
func (m *Manager) Sizes() Sizes {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sizes
}

// Rebuilds returns how many full rebuilds have run, including the initial
// layout.
func (m *Manager) Rebuilds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebuilds
}

// Close unsubscribes from the cell list and drops every piece.
func (m *Manager) Close() {
	m.scope.Close()

	m.mu.Lock()
	m.closed = true
	m.items = nil
	m.regions = make(map[mercury.Region][]*piece)
	m.mu.Unlock()

	m.Changed.Clear()
	m.SizesChanged.Clear()
}

func (m *Manager) notify(sizes Sizes, sizesChanged bool) {
	if sizesChanged {
		m.SizesChanged.Emit(sizes)
	}
	m.gate.Run(func() { m.Changed.Emit(struct{}{}) })
}

func (m *Manager) applyAddLocked(ch notebook.ListChange[*notebook.Cell]) bool {
	if ch.NewIndex < 0 || ch.NewIndex > len(m.items) || len(ch.NewValues) == 0 {
		return false
	}
	added := make([]*item, len(ch.NewValues))
	for i, c := range ch.NewValues {
		added[i] = &item{cell: c, class: m.classifyLocked(c)}
	}
	m.items = slices.Insert(m.items, ch.NewIndex, added...)

	// Ranks must include the new cells before any of them is placed.
	m.rebuildOrderLocked()
	for _, it := range added {
		m.attachItemLocked(it)
	}
	return true
}

func (m *Manager) applyRemoveLocked(ch notebook.ListChange[*notebook.Cell]) bool {
	end := ch.OldIndex + len(ch.OldValues)
	if ch.OldIndex < 0 || end > len(m.items) || len(ch.OldValues) == 0 {
		return false
	}
	for i, c := range ch.OldValues {
		if m.items[ch.OldIndex+i].cell != c {
			return false
		}
	}
	for _, it := range m.items[ch.OldIndex:end] {
		m.detachItemLocked(it)
	}
	m.items = slices.Delete(m.items, ch.OldIndex, end)
	m.rebuildOrderLocked()
	return true
}

func (m *Manager) applyMoveLocked(ch notebook.ListChange[*notebook.Cell]) bool {
	n := len(m.items)
	if ch.OldIndex < 0 || ch.OldIndex >= n || ch.NewIndex < 0 || ch.NewIndex >= n {
		return false
	}
	it := m.items[ch.OldIndex]
	if len(ch.NewValues) > 0 && ch.NewValues[0] != it.cell {
		return false
	}
	m.items = slices.Delete(m.items, ch.OldIndex, ch.OldIndex+1)
	m.items = slices.Insert(m.items, ch.NewIndex, it)

	m.detachItemLocked(it)
	m.rebuildOrderLocked()
	for _, p := range it.pieces {
		m.insertLocked(p)
	}
	return true
}

func (m *Manager) applySetLocked(ch notebook.ListChange[*notebook.Cell]) bool {
	if ch.NewIndex < 0 || ch.NewIndex >= len(m.items) || len(ch.NewValues) != 1 {
		return false
	}
	old := m.items[ch.NewIndex]
	if len(ch.OldValues) == 1 && ch.OldValues[0] != old.cell {
		return false
	}
	m.detachItemLocked(old)

	c := ch.NewValues[0]
	it := &item{cell: c}
	m.items[ch.NewIndex] = it
	m.rebuildOrderLocked()
	it.class = m.classifyLocked(c)
	m.attachItemLocked(it)
	return true
}

// mirrorsLocked reports whether the item list matches the live cell list.
func (m *Manager) mirrorsLocked() bool {
	live := m.cells.Items()
	if len(live) != len(m.items) {
		return false
	}
	for i, c := range live {
		if m.items[i].cell != c {
			return false
		}
	}
	return true
}

func (m *Manager) rebuildLocked() {
	m.rebuilds++
	m.regions = make(map[mercury.Region][]*piece)
	m.items = m.items[:0]
	for _, c := range m.cells.Items() {
		m.items = append(m.items, &item{cell: c})
	}
	m.rebuildOrderLocked()
	for _, it := range m.items {
		it.class = m.classifyLocked(it.cell)
		m.attachItemLocked(it)
	}
}

func (m *Manager) rebuildOrderLocked() {
	m.order = make(map[string]int, len(m.items))
	for i, it := range m.items {
		m.order[it.cell.ID] = i
	}
}

func (m *Manager) itemLocked(cellID string) *item {
	for _, it := range m.items {
		if it.cell.ID == cellID {
			return it
		}
	}
	return nil
}

func (m *Manager) classifyLocked(c *notebook.Cell) mercury.Classification {
	class, err := mercury.Classify(c, m.showCode)
	if err != nil {
		m.log.Warn("classifying cell failed, placing in main", "cell_id", c.ID, "error", err)
		return mercury.Classification{Kind: c.Kind, Region: mercury.RegionMain}
	}
	return class
}

// attachItemLocked builds the item's pieces from its classification and
// inserts them.
func (m *Manager) attachItemLocked(it *item) {
	if it.class.SplitsInput() {
		it.pieces = []*piece{
			{item: it, role: RoleInput, region: it.class.InputRegion},
			{item: it, role: RoleOutput, region: it.class.Region},
		}
	} else {
		it.pieces = []*piece{{item: it, role: RoleCell, region: it.class.Region}}
	}
	for _, p := range it.pieces {
		m.insertLocked(p)
	}
}

func (m *Manager) detachItemLocked(it *item) {
	for _, p := range it.pieces {
		list := m.regions[p.region]
		if i := slices.Index(list, p); i >= 0 {
			m.regions[p.region] = slices.Delete(list, i, i+1)
		}
	}
}

// insertLocked places p before the first piece of its region whose cell
// comes later in the notebook.
func (m *Manager) insertLocked(p *piece) {
	rank := m.rankLocked(p)
	list := m.regions[p.region]
	at := len(list)
	for i, q := range list {
		if m.rankLocked(q) > rank {
			at = i
			break
		}
	}
	m.regions[p.region] = slices.Insert(list, at, p)
}

func (m *Manager) rankLocked(p *piece) int {
	if r, ok := m.order[p.item.cell.ID]; ok {
		return r
	}
	return len(m.order)
}

// refreshVisibilityLocked collapses empty side regions and restores the
// default proportion when one gains its first piece.
func (m *Manager) refreshVisibilityLocked() (Sizes, bool) {
	next := m.sizes
	if len(m.regions[mercury.RegionSidebar]) == 0 {
		next.Sidebar = 0
	} else if next.Sidebar == 0 {
		next.Sidebar = DefaultSidebarWidth
	}
	if len(m.regions[mercury.RegionBottom]) == 0 {
		next.Bottom = 0
	} else if next.Bottom == 0 {
		next.Bottom = DefaultBottomHeight
	}
	if next == m.sizes {
		return m.sizes, false
	}
	m.sizes = next
	return next, true
}
