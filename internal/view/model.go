package view

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/roach88/mercury/internal/layout"
	"github.com/roach88/mercury/internal/watchdog"
)

// SnapshotMsg carries a new layout to the program.
type SnapshotMsg struct {
	Snapshot layout.Snapshot
}

// NoticeMsg carries a raised connection-lost notice.
type NoticeMsg struct {
	Notice watchdog.Notice
}

// Model is the bubbletea model of the terminal dashboard.
type Model struct {
	title   string
	snap    layout.Snapshot
	notice  *watchdog.Notice
	width   int
	height  int
	updates <-chan tea.Msg

	// acknowledge is called when the user dismisses the notice.
	acknowledge func()
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithUpdates feeds SnapshotMsg and NoticeMsg values into the program.
func WithUpdates(ch <-chan tea.Msg) ModelOption {
	return func(m *Model) {
		m.updates = ch
	}
}

// WithAcknowledge sets the callback run when the notice is dismissed.
func WithAcknowledge(fn func()) ModelOption {
	return func(m *Model) {
		m.acknowledge = fn
	}
}

// NewModel creates a Model showing snap under title.
func NewModel(title string, snap layout.Snapshot, opts ...ModelOption) Model {
	m := Model{
		title: title,
		snap:  snap,
		width: DefaultWidth,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Notice returns the notice being displayed, if any.
func (m Model) Notice() (watchdog.Notice, bool) {
	if m.notice == nil {
		return watchdog.Notice{}, false
	}
	return *m.notice, true
}

// Snapshot returns the layout being displayed.
func (m Model) Snapshot() layout.Snapshot {
	return m.snap
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.listen()
}

// listen waits for the next update. A closed channel ends the stream.
func (m Model) listen() tea.Cmd {
	if m.updates == nil {
		return nil
	}
	ch := m.updates
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "a":
			if m.notice != nil {
				m.notice = nil
				if m.acknowledge != nil {
					m.acknowledge()
				}
			}
		}

	case SnapshotMsg:
		m.snap = msg.Snapshot
		return m, m.listen()

	case NoticeMsg:
		n := msg.Notice
		m.notice = &n
		return m, m.listen()
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	st := defaultStyles()
	body := lipgloss.JoinVertical(lipgloss.Left,
		st.label.Render(m.title),
		Render(m.snap, m.width),
		st.muted.Render("q quit"),
	)
	if m.notice == nil {
		return body
	}

	box := st.modal.Render(lipgloss.JoinVertical(lipgloss.Left,
		st.failure.Bold(true).Render("Connection lost"),
		m.notice.Reason,
		"",
		st.muted.Render("press a to acknowledge"),
	))
	height := m.height
	if height <= 0 {
		height = lipgloss.Height(body)
	}
	return lipgloss.Place(m.width, height, lipgloss.Center, lipgloss.Center, box)
}
