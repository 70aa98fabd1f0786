package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/mercury/internal/app"
	"github.com/roach88/mercury/internal/engine"
	"github.com/roach88/mercury/internal/event"
	"github.com/roach88/mercury/internal/kernelmsg"
	"github.com/roach88/mercury/internal/mercury"
	"github.com/roach88/mercury/internal/notebook"
	"github.com/roach88/mercury/internal/scheduler"
	"github.com/roach88/mercury/internal/store"
	"github.com/roach88/mercury/internal/testutil"
	"github.com/roach88/mercury/internal/watchdog"
)

// sessionID is the kernel session stamped on scenario messages.
const sessionID = "harness"

// Harness is the scenario execution environment.
// It runs every step on its own engine loop with a scripted kernel.
type Harness struct {
	loop     *engine.Engine
	store    *store.Store
	core     *app.Core
	session  *scriptedSession
	exec     *scriptedExecutor
	watchdog *watchdog.Watchdog
	ids      *testutil.SequentialIDs
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database and engine loop
// 2. Build the notebook and wire the dashboard core
// 3. Execute steps, one loop event each
// 4. Evaluate assertions against the final state
// 5. Read back the recorded trace
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run bounded by ctx.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in scenarios
	loop := engine.New(engine.WithLogger(logger))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(runCtx) }()
	defer func() {
		loop.Stop()
		<-done
	}()

	h := &Harness{
		loop:    loop,
		store:   st,
		session: newScriptedSession(),
		exec:    newScriptedExecutor(scenario.Execution),
		ids:     testutil.NewSequentialIDs("msg"),
		logger:  logger,
	}

	doc := buildDocument(scenario)
	err = loop.Do(ctx, "harness.setup", func() error {
		h.core = app.NewCore(runCtx, doc, h.exec, h.session,
			app.WithCoreLogger(logger),
			app.WithRecorder(st),
			app.WithSeq(loop.Seq),
		)
		h.watchdog = watchdog.New(
			watchdog.WithLogger(logger),
			watchdog.WithClock(testutil.NewStepClock().Now),
		)
		h.watchdog.Watch(h.session)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	defer h.teardown(ctx)

	for i, step := range scenario.Steps {
		name := stepName(step)
		if err := loop.Do(ctx, "harness."+name, func() error { return h.apply(step) }); err != nil {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, name, err)
		}
	}

	result := NewResult()
	err = loop.Do(ctx, "harness.assert", func() error {
		state := h.state()
		result.Layout = state.Layout
		for _, msg := range EvaluateAssertions(state, scenario.Assertions) {
			result.AddError(msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("assert: %w", err)
	}

	trace, err := st.Trace(ctx, scenario.Path)
	if err != nil {
		return nil, err
	}
	if trace != nil {
		result.Trace = trace
	}
	return result, nil
}

func (h *Harness) teardown(ctx context.Context) {
	closeAll := func() error {
		h.watchdog.Close()
		h.core.Close()
		return nil
	}
	if err := h.loop.Do(ctx, "harness.teardown", closeAll); err != nil {
		closeAll()
	}
}

// state captures what assertions look at. Called on the loop.
func (h *Harness) state() State {
	s := State{
		DocExecuted: h.core.Doc.Executed(),
		Executed:    map[string]bool{},
		Layout:      h.core.Layout.Snapshot(),
		Pending:     h.core.Interp.PendingCount(),
		Bindings:    h.core.Index.Len(),
	}
	for _, c := range h.core.Doc.Cells.Items() {
		_, ran := c.ExecutionCount()
		s.Executed[c.ID] = ran
	}
	_, s.NoticeShown = h.watchdog.Shown()
	return s
}

func stepName(step Step) string {
	switch {
	case step.BulkRun != nil:
		return "bulk_run"
	case step.Kernel != nil:
		return "kernel"
	case step.Status != nil:
		return "status"
	case step.AddOutput != nil:
		return "add_output"
	case step.RemoveOutput != nil:
		return "remove_output"
	case step.InsertCell != nil:
		return "insert_cell"
	case step.RemoveCell != nil:
		return "remove_cell"
	case step.MoveCell != nil:
		return "move_cell"
	case step.Complete != nil:
		return "complete"
	case step.Metadata != nil:
		return "metadata"
	}
	return "unknown"
}

// apply runs one step. Called on the loop.
func (h *Harness) apply(step Step) error {
	doc := h.core.Doc

	switch {
	case step.BulkRun != nil:
		h.core.Execute()

	case step.Kernel != nil:
		m, err := h.message(step.Kernel)
		if err != nil {
			return err
		}
		h.core.Interp.Handle(m)

	case step.Status != nil:
		h.session.set(
			kernelmsg.ConnectionStatus(step.Status.Connection),
			kernelmsg.KernelStatus(step.Status.Kernel),
		)

	case step.AddOutput != nil:
		c, err := codeCell(doc, step.AddOutput.Cell)
		if err != nil {
			return err
		}
		c.Outputs.Push(buildOutput(step.AddOutput.Output))

	case step.RemoveOutput != nil:
		c, err := codeCell(doc, step.RemoveOutput.Cell)
		if err != nil {
			return err
		}
		if step.RemoveOutput.Index == nil {
			c.Outputs.Clear()
			return nil
		}
		if _, ok := c.Outputs.Remove(*step.RemoveOutput.Index); !ok {
			return fmt.Errorf("cell %s has no output %d", c.ID, *step.RemoveOutput.Index)
		}

	case step.InsertCell != nil:
		at := step.InsertCell.Index
		if at < 0 || at > doc.Cells.Len() {
			return fmt.Errorf("insert index %d out of range", at)
		}
		if _, exists := doc.Cell(step.InsertCell.Cell.ID); exists {
			return fmt.Errorf("cell %s already exists", step.InsertCell.Cell.ID)
		}
		doc.Cells.Insert(at, buildCell(step.InsertCell.Cell))

	case step.RemoveCell != nil:
		at := doc.IndexOf(step.RemoveCell.Cell)
		if at < 0 {
			return mercury.NewUnknownCellError(step.RemoveCell.Cell)
		}
		doc.Cells.Remove(at)

	case step.MoveCell != nil:
		from := doc.IndexOf(step.MoveCell.Cell)
		if from < 0 {
			return mercury.NewUnknownCellError(step.MoveCell.Cell)
		}
		if !doc.Cells.Move(from, step.MoveCell.To) {
			return fmt.Errorf("cannot move cell %s to %d", step.MoveCell.Cell, step.MoveCell.To)
		}

	case step.Complete != nil:
		return h.exec.complete(step.Complete.Cell)

	case step.Metadata != nil:
		doc.SetMetadata(step.Metadata.metadata())
	}
	return nil
}

func (m MetadataSpec) metadata() notebook.Metadata {
	return notebook.Metadata{
		Title:     m.Title,
		ShowCode:  m.ShowCode,
		AutoRerun: m.AutoRerun,
	}
}

func codeCell(doc *notebook.Document, id string) (*notebook.Cell, error) {
	c, ok := doc.Cell(id)
	if !ok {
		return nil, mercury.NewUnknownCellError(id)
	}
	if !c.IsCode() {
		return nil, fmt.Errorf("cell %s is %s, not code", id, c.Kind)
	}
	return c, nil
}

// message builds the kernel message of a step. Ids are sequential unless
// the step names one, so parents can be referenced by name.
func (h *Harness) message(k *KernelStep) (kernelmsg.AnyMessage, error) {
	direction := kernelmsg.DirectionRecv
	channel := kernelmsg.ChannelIOPub
	if k.Direction == string(kernelmsg.DirectionSend) {
		direction = kernelmsg.DirectionSend
		channel = kernelmsg.ChannelShell
	}
	if k.Channel != "" {
		channel = kernelmsg.Channel(k.Channel)
	}

	var content any
	switch k.Type {
	case kernelmsg.TypeCommMsg:
		content = kernelmsg.CommMsg{CommID: k.CommID, Data: kernelmsg.CommData{Method: k.Method}}
	case kernelmsg.TypeStatus:
		content = kernelmsg.Status{ExecutionState: k.State}
	default:
		content = map[string]any{}
	}

	msg, err := kernelmsg.New(channel, k.Type, sessionID, content)
	if err != nil {
		return kernelmsg.AnyMessage{}, err
	}
	msg.Header.MsgID = k.MsgID
	if msg.Header.MsgID == "" {
		msg.Header.MsgID = h.ids.Next()
	}
	if k.Parent != "" {
		msg.ParentHeader = kernelmsg.Header{MsgID: k.Parent, Session: sessionID}
	}
	return kernelmsg.AnyMessage{Direction: direction, Msg: msg}, nil
}

func buildDocument(s *Scenario) *notebook.Document {
	cells := make([]*notebook.Cell, len(s.Cells))
	for i, spec := range s.Cells {
		cells[i] = buildCell(spec)
	}
	doc := notebook.NewDocument(s.Path, cells...)
	doc.SetMetadata(s.Metadata.metadata())
	return doc
}

func buildCell(spec CellSpec) *notebook.Cell {
	switch spec.Kind {
	case notebook.KindMarkdown:
		return notebook.NewMarkdownCell(spec.ID, spec.Source)
	case notebook.KindRaw:
		return notebook.NewRawCell(spec.ID, spec.Source)
	}
	outputs := make([]notebook.Output, len(spec.Outputs))
	for i, o := range spec.Outputs {
		outputs[i] = buildOutput(o)
	}
	return notebook.NewCodeCell(spec.ID, spec.Source, outputs...)
}

func buildOutput(o OutputSpec) notebook.Output {
	switch {
	case o.Control != nil:
		payload, _ := json.Marshal(mercury.Payload{
			ModelID:  o.Control.ModelID,
			Position: o.Control.Position,
			Widget:   o.Control.Widget,
		})
		return notebook.Output{
			Type: "display_data",
			Data: map[string]json.RawMessage{mercury.MIMEType: payload},
		}
	case o.Raw != "":
		return notebook.Output{
			Type: "display_data",
			Data: map[string]json.RawMessage{mercury.MIMEType: json.RawMessage(o.Raw)},
		}
	default:
		return notebook.Output{Type: "stream", Name: "stdout", Text: o.Stream}
	}
}

// scriptedSession is a kernel session whose status changes only through
// status steps. It starts connected and idle.
type scriptedSession struct {
	mu     sync.Mutex
	conn   kernelmsg.ConnectionStatus
	kernel kernelmsg.KernelStatus

	connChanged   event.Signal[kernelmsg.ConnectionStatus]
	kernelChanged event.Signal[kernelmsg.KernelStatus]
}

func newScriptedSession() *scriptedSession {
	return &scriptedSession{conn: kernelmsg.ConnConnected, kernel: kernelmsg.KernelIdle}
}

func (s *scriptedSession) ConnectionStatus() kernelmsg.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *scriptedSession) KernelStatus() kernelmsg.KernelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kernel
}

func (s *scriptedSession) OnConnectionStatus(fn func(kernelmsg.ConnectionStatus)) *event.Subscription {
	return s.connChanged.Connect(fn)
}

func (s *scriptedSession) OnKernelStatus(fn func(kernelmsg.KernelStatus)) *event.Subscription {
	return s.kernelChanged.Connect(fn)
}

// set applies the non-empty statuses and emits those that changed.
func (s *scriptedSession) set(conn kernelmsg.ConnectionStatus, kernel kernelmsg.KernelStatus) {
	s.mu.Lock()
	connFlipped := conn != "" && conn != s.conn
	kernelFlipped := kernel != "" && kernel != s.kernel
	if connFlipped {
		s.conn = conn
	}
	if kernelFlipped {
		s.kernel = kernel
	}
	s.mu.Unlock()

	if connFlipped {
		s.connChanged.Emit(conn)
	}
	if kernelFlipped {
		s.kernelChanged.Emit(kernel)
	}
}

// scriptedExecutor runs cells without a kernel. Execution counts are
// handed out in completion order.
type scriptedExecutor struct {
	deferred bool
	reject   map[string]bool
	count    int
	held     []scheduler.Request
}

func newScriptedExecutor(spec ExecutionSpec) *scriptedExecutor {
	e := &scriptedExecutor{deferred: spec.Deferred, reject: map[string]bool{}}
	for _, id := range spec.Reject {
		e.reject[id] = true
	}
	return e
}

func (e *scriptedExecutor) Run(_ context.Context, req scheduler.Request) error {
	if e.reject[req.Cell.ID] {
		return mercury.NewDisconnectedError("execution rejected")
	}
	req.OnScheduled(req.Cell)
	if e.deferred {
		e.held = append(e.held, req)
		return nil
	}
	e.finish(req)
	return nil
}

func (e *scriptedExecutor) finish(req scheduler.Request) {
	e.count++
	req.Cell.SetExecutionCount(e.count)
	req.OnExecuted(req.Cell)
}

// complete finishes the oldest held execution of cellID, or every held
// execution when cellID is empty.
func (e *scriptedExecutor) complete(cellID string) error {
	if cellID == "" {
		if len(e.held) == 0 {
			return fmt.Errorf("no held executions")
		}
		held := e.held
		e.held = nil
		for _, req := range held {
			e.finish(req)
		}
		return nil
	}
	for i, req := range e.held {
		if req.Cell.ID == cellID {
			e.held = append(e.held[:i:i], e.held[i+1:]...)
			e.finish(req)
			return nil
		}
	}
	return fmt.Errorf("no held execution for cell %s", cellID)
}
