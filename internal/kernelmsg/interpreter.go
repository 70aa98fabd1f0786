package kernelmsg

import (
	"log/slog"
	"sync"

	"github.com/roach88/mercury/internal/event"
)

// WidgetUpdated reports that the kernel finished applying an update to a
// control. CellModelID is empty when the control has no known owner.
type WidgetUpdated struct {
	WidgetModelID string
	CellModelID   string
}

// CellResolver maps a control instance to its owning cell.
// *outputindex.Index satisfies it.
type CellResolver interface {
	CellFor(modelID string) (string, bool)
}

// MessageSource is a source of kernel messages, typically a live connection.
type MessageSource interface {
	OnAnyMessage(fn func(AnyMessage)) *event.Subscription
}

// Interpreter tracks pending control updates and emits WidgetUpdated when
// the kernel acknowledges one.
type Interpreter struct {
	log   *slog.Logger
	cells CellResolver

	mu      sync.Mutex
	pending map[string]Header // comm id → header of the outbound update
	conn    *event.Subscription
	closed  bool

	WidgetUpdated event.Signal[WidgetUpdated]
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLogger sets the interpreter's logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Interpreter) { in.log = l }
}

// NewInterpreter returns an interpreter that resolves owning cells through
// cells. cells may be nil, in which case CellModelID is always empty.
func NewInterpreter(cells CellResolver, opts ...Option) *Interpreter {
	in := &Interpreter{
		log:     slog.Default(),
		cells:   cells,
		pending: make(map[string]Header),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Attach switches the interpreter to a new connection. The previous
// connection is unsubscribed first so a kernel change never delivers a
// message twice. A nil source only detaches.
func (in *Interpreter) Attach(s MessageSource) {
	in.mu.Lock()
	old := in.conn
	in.conn = nil
	closed := in.closed
	in.mu.Unlock()

	old.Close()
	if closed || s == nil {
		return
	}

	sub := s.OnAnyMessage(in.Handle)

	in.mu.Lock()
	if in.closed || in.conn != nil {
		// Lost a race with Close or a concurrent Attach.
		in.mu.Unlock()
		sub.Close()
		return
	}
	in.conn = sub
	in.mu.Unlock()
}

// Handle processes one observed message.
func (in *Interpreter) Handle(m AnyMessage) {
	if m.Msg == nil {
		return
	}
	switch m.Direction {
	case DirectionSend:
		in.handleSend(m.Msg)
	case DirectionRecv:
		in.handleRecv(m.Msg)
	}
}

func (in *Interpreter) handleSend(msg *Message) {
	if msg.Channel != ChannelShell || msg.Type() != TypeCommMsg {
		return
	}
	c, ok := msg.CommMsg()
	if !ok || c.Data.Method != MethodUpdate {
		return
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	in.pending[c.CommID] = msg.Header
	in.log.Debug("control update pending", "comm_id", c.CommID, "msg_id", msg.Header.MsgID)
}

func (in *Interpreter) handleRecv(msg *Message) {
	if msg.Channel != ChannelIOPub {
		return
	}

	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}

	var commID string
	switch msg.Type() {
	case TypeCommMsg:
		if c, ok := msg.CommMsg(); ok && c.Data.Method == MethodEchoUpdate {
			if _, pending := in.pending[c.CommID]; pending {
				commID = c.CommID
			}
		}
	case TypeStatus:
		// Fallback for kernels that never echo updates.
		if s, ok := msg.Status(); ok && s.ExecutionState == StateIdle {
			parent := msg.ParentID()
			for id, h := range in.pending {
				if h.MsgID == parent {
					commID = id
					break
				}
			}
		}
	}

	if commID == "" {
		in.mu.Unlock()
		return
	}
	h := in.pending[commID]
	if msg.ParentID() != h.MsgID {
		in.mu.Unlock()
		return
	}
	delete(in.pending, commID)
	in.mu.Unlock()

	var cellID string
	if in.cells != nil {
		cellID, _ = in.cells.CellFor(commID)
	}
	in.log.Debug("control updated", "comm_id", commID, "cell_id", cellID)
	in.WidgetUpdated.Emit(WidgetUpdated{WidgetModelID: commID, CellModelID: cellID})
}

// Forget drops the pending update for modelID, if any. The output index
// calls it when the control's output disappears.
func (in *Interpreter) Forget(modelID string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	_, ok := in.pending[modelID]
	delete(in.pending, modelID)
	return ok
}

// Pending returns the stored header for modelID's outstanding update.
func (in *Interpreter) Pending(modelID string) (Header, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	h, ok := in.pending[modelID]
	return h, ok
}

// PendingCount returns the number of outstanding updates.
func (in *Interpreter) PendingCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.pending)
}

// Close detaches from the connection and stops reacting to messages.
func (in *Interpreter) Close() {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.closed = true
	conn := in.conn
	in.conn = nil
	in.pending = make(map[string]Header)
	in.mu.Unlock()

	conn.Close()
	in.WidgetUpdated.Clear()
}
