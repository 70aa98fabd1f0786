package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/mercury/internal/event"
	"github.com/roach88/mercury/internal/kernelmsg"
	"github.com/roach88/mercury/internal/mercury"
	"github.com/roach88/mercury/internal/notebook"
	"github.com/roach88/mercury/internal/scheduler"
)

// execution is one in-flight execute_request.
type execution struct {
	req        scheduler.Request
	clearOnOut bool
}

// CellExecutor is the scheduler.Executor that runs cells on a Session.
type CellExecutor struct {
	log     *slog.Logger
	session *Session

	mu       sync.Mutex
	inflight map[string]*execution // execute_request msg_id → execution
	conn     *event.Subscription
	status   *event.Subscription
	closed   bool
	scope    event.Scope
}

// ExecutorOption configures a CellExecutor.
type ExecutorOption func(*CellExecutor)

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *CellExecutor) { e.log = l }
}

// NewCellExecutor returns an executor bound to session. It follows the
// session's connection across kernel changes.
func NewCellExecutor(session *Session, opts ...ExecutorOption) *CellExecutor {
	e := &CellExecutor{
		log:      slog.Default(),
		session:  session,
		inflight: make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Attach(session.Connection())
	e.scope.Add(session.OnKernelChanged(func(ch KernelChange) { e.Attach(ch.New) }))
	return e
}

var _ scheduler.Executor = (*CellExecutor)(nil)

// Run clears the cell's outputs and sends an execute_request. It returns
// once the request is queued on the socket.
func (e *CellExecutor) Run(ctx context.Context, req scheduler.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cell := req.Cell
	if cell == nil || !cell.IsCode() {
		return fmt.Errorf("execute: not a code cell")
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return mercury.NewDisposedError("executor")
	}

	conn := e.session.Connection()
	if conn == nil || conn.Status() != kernelmsg.ConnConnected {
		return mercury.NewDisconnectedError("no kernel connection")
	}

	msg, err := kernelmsg.New(kernelmsg.ChannelShell, kernelmsg.TypeExecuteRequest, e.session.ID(), kernelmsg.ExecuteRequest{
		Code:            cell.Source(),
		StoreHistory:    true,
		UserExpressions: map[string]any{},
		StopOnError:     true,
	})
	if err != nil {
		return err
	}
	if req.Config.RecordTiming {
		msg.Metadata["recordTiming"] = true
	}
	if len(req.DeletedCells) > 0 {
		msg.Metadata["deletedCells"] = req.DeletedCells
	}
	msg.Metadata["cellId"] = cell.ID

	cell.Outputs.Clear()
	cell.ClearExecutionCount()

	e.mu.Lock()
	e.inflight[msg.Header.MsgID] = &execution{req: req}
	e.mu.Unlock()

	if err := conn.Send(msg); err != nil {
		e.mu.Lock()
		delete(e.inflight, msg.Header.MsgID)
		e.mu.Unlock()
		return mercury.NewExecutionError(cell.ID, err)
	}
	if req.OnScheduled != nil {
		req.OnScheduled(cell)
	}
	return nil
}

// Attach follows conn. In-flight executions on the previous connection
// can no longer complete and are finished as abandoned.
func (e *CellExecutor) Attach(conn *Connection) {
	e.mu.Lock()
	old, oldStatus := e.conn, e.status
	e.conn, e.status = nil, nil
	closed := e.closed
	e.mu.Unlock()

	old.Close()
	oldStatus.Close()
	if old != nil {
		e.abandon("kernel changed")
	}
	if closed || conn == nil {
		return
	}

	sub := conn.OnAnyMessage(e.handle)
	status := conn.StatusChanged.Connect(func(s kernelmsg.ConnectionStatus) {
		if s == kernelmsg.ConnDisconnected {
			e.abandon("kernel disconnected")
		}
	})

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		sub.Close()
		status.Close()
		return
	}
	e.conn, e.status = sub, status
	e.mu.Unlock()
}

// Inflight returns the number of executions awaiting completion.
func (e *CellExecutor) Inflight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

// Close stops following the session. Pending executions are dropped
// without completion callbacks.
func (e *CellExecutor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	conn, status := e.conn, e.status
	e.conn, e.status = nil, nil
	e.inflight = make(map[string]*execution)
	e.mu.Unlock()

	e.scope.Close()
	conn.Close()
	status.Close()
}

func (e *CellExecutor) abandon(reason string) {
	e.mu.Lock()
	pending := e.inflight
	e.inflight = make(map[string]*execution)
	e.mu.Unlock()

	for _, x := range pending {
		e.log.Warn("execution abandoned", "cell_id", x.req.Cell.ID, "reason", reason)
		if x.req.OnExecuted != nil {
			x.req.OnExecuted(x.req.Cell)
		}
	}
}

func (e *CellExecutor) handle(m kernelmsg.AnyMessage) {
	if m.Direction != kernelmsg.DirectionRecv || m.Msg == nil {
		return
	}
	msg := m.Msg

	e.mu.Lock()
	x := e.inflight[msg.ParentID()]
	e.mu.Unlock()
	if x == nil {
		return
	}
	cell := x.req.Cell

	switch msg.Channel {
	case kernelmsg.ChannelShell:
		if msg.Type() == kernelmsg.TypeExecuteReply {
			e.onReply(x, msg)
		}
	case kernelmsg.ChannelIOPub:
		switch msg.Type() {
		case kernelmsg.TypeStatus:
			if s, ok := msg.Status(); ok && s.ExecutionState == kernelmsg.StateIdle {
				e.finish(msg.ParentID(), x)
			}
		case kernelmsg.TypeClearOutput:
			var c kernelmsg.ClearOutput
			if err := msg.Decode(&c); err == nil {
				if c.Wait {
					e.mu.Lock()
					x.clearOnOut = true
					e.mu.Unlock()
				} else {
					cell.Outputs.Clear()
				}
			}
		default:
			if out, ok := outputFrom(msg); ok {
				e.mu.Lock()
				wipe := x.clearOnOut
				x.clearOnOut = false
				e.mu.Unlock()
				if wipe {
					cell.Outputs.Clear()
				}
				appendOutput(cell.Outputs, out)
			}
		}
	}
}

func (e *CellExecutor) onReply(x *execution, msg *kernelmsg.Message) {
	var r kernelmsg.ExecuteReply
	if err := msg.Decode(&r); err != nil {
		e.log.Debug("undecodable execute_reply", "error", err)
		return
	}
	if r.ExecutionCount != nil {
		x.req.Cell.SetExecutionCount(*r.ExecutionCount)
	}
	if r.Status != "ok" {
		e.log.Info("cell raised", "cell_id", x.req.Cell.ID, "ename", r.EName, "evalue", r.EValue)
	}
}

func (e *CellExecutor) finish(msgID string, x *execution) {
	e.mu.Lock()
	if e.inflight[msgID] != x {
		e.mu.Unlock()
		return
	}
	delete(e.inflight, msgID)
	e.mu.Unlock()

	if x.req.OnExecuted != nil {
		x.req.OnExecuted(x.req.Cell)
	}
}

// outputFrom converts an iopub output message into a notebook output.
func outputFrom(msg *kernelmsg.Message) (notebook.Output, bool) {
	switch msg.Type() {
	case kernelmsg.TypeStream:
		var s kernelmsg.Stream
		if msg.Decode(&s) != nil {
			return notebook.Output{}, false
		}
		return notebook.Output{Type: "stream", Name: s.Name, Text: s.Text}, true
	case kernelmsg.TypeDisplayData:
		var d kernelmsg.DisplayData
		if msg.Decode(&d) != nil {
			return notebook.Output{}, false
		}
		return notebook.Output{Type: "display_data", Data: d.Data}, true
	case kernelmsg.TypeExecuteResult:
		var r kernelmsg.ExecuteResult
		if msg.Decode(&r) != nil {
			return notebook.Output{}, false
		}
		return notebook.Output{Type: "execute_result", Data: r.Data, ExecutionCount: r.ExecutionCount}, true
	case kernelmsg.TypeError:
		var er kernelmsg.Error
		if msg.Decode(&er) != nil {
			return notebook.Output{}, false
		}
		return notebook.Output{Type: "error", ErrorName: er.EName, ErrorValue: er.EValue, Traceback: er.Traceback}, true
	}
	return notebook.Output{}, false
}

// appendOutput merges consecutive stream chunks of the same name, the way
// output areas do.
func appendOutput(outputs *notebook.OutputList, out notebook.Output) {
	if out.Type == "stream" {
		if n := outputs.Len(); n > 0 {
			last := outputs.Get(n - 1)
			if last.Type == "stream" && last.Name == out.Name {
				last.Text += out.Text
				outputs.Set(n-1, last)
				return
			}
		}
	}
	outputs.Push(out)
}
