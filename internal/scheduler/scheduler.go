package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/mercury/internal/event"
	"github.com/roach88/mercury/internal/kernelmsg"
	"github.com/roach88/mercury/internal/mercury"
	"github.com/roach88/mercury/internal/notebook"
)

// Config carries notebook-level execution settings passed through to the
// executor.
type Config struct {
	RecordTiming     bool
	MaxNumberOutputs int
}

// Session is the view of the kernel session the scheduler needs.
type Session interface {
	ConnectionStatus() kernelmsg.ConnectionStatus
	KernelStatus() kernelmsg.KernelStatus
	OnConnectionStatus(fn func(kernelmsg.ConnectionStatus)) *event.Subscription
	OnKernelStatus(fn func(kernelmsg.KernelStatus)) *event.Subscription
}

// Request asks an executor to run a single cell.
type Request struct {
	Cell         *notebook.Cell
	Document     *notebook.Document
	Config       Config
	Session      Session
	DeletedCells []string

	// OnScheduled is called when the cell is queued on the kernel and
	// OnExecuted when its execution finishes. Both are non-nil.
	OnScheduled func(*notebook.Cell)
	OnExecuted  func(*notebook.Cell)
}

// Executor runs one cell. Run returns once the request is accepted or
// queued, not when the cell finishes.
type Executor interface {
	Run(ctx context.Context, req Request) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request) error

// Run calls f.
func (f ExecutorFunc) Run(ctx context.Context, req Request) error { return f(ctx, req) }

// Scheduler drives the bulk run and downstream re-runs of one document.
type Scheduler struct {
	log      *slog.Logger
	doc      *notebook.Document
	exec     Executor
	session  Session
	config   Config
	maxCells int

	mu      sync.Mutex
	current *Barrier
	started bool
	waiting event.Scope
	closed  bool

	// Completed fires once the bulk run's barrier resolves without error.
	Completed event.Signal[struct{}]
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithMaxCells caps the bulk run to the first n code cells. Zero means no
// cap.
func WithMaxCells(n int) Option {
	return func(s *Scheduler) { s.maxCells = n }
}

// WithConfig sets the notebook config passed to every request.
func WithConfig(c Config) Option {
	return func(s *Scheduler) { s.config = c }
}

// New returns a scheduler for doc.
func New(doc *notebook.Document, exec Executor, session Session, opts ...Option) *Scheduler {
	s := &Scheduler{
		log:     slog.Default(),
		doc:     doc,
		exec:    exec,
		session: session,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute starts the bulk run and returns its barrier. The run starts at
// once when the kernel is connected and idle; otherwise it starts on the
// first status transition that makes it so. A document already executed
// returns a resolved barrier, and repeated calls return the same barrier.
func (s *Scheduler) Execute(ctx context.Context) *Barrier {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return resolvedBarrier(mercury.NewDisposedError("scheduler"))
	}
	if s.current != nil {
		b := s.current
		s.mu.Unlock()
		return b
	}
	if s.doc.Executed() {
		s.mu.Unlock()
		s.log.Debug("bulk run skipped, document already executed", "path", s.doc.Path)
		return resolvedBarrier(nil)
	}
	b := NewBarrier(s.onBulkResolved)
	s.current = b
	s.mu.Unlock()

	if !s.tryStart(ctx) {
		s.log.Debug("bulk run waiting for kernel",
			"connection", s.session.ConnectionStatus(),
			"kernel", s.session.KernelStatus(),
		)
		s.waiting.Add(s.session.OnConnectionStatus(func(kernelmsg.ConnectionStatus) { s.tryStart(ctx) }))
		s.waiting.Add(s.session.OnKernelStatus(func(kernelmsg.KernelStatus) { s.tryStart(ctx) }))
		// The status may have flipped between the check and the subscription.
		s.tryStart(ctx)
	}
	return b
}

// tryStart runs the bulk pass if the kernel is ready and the pass has not
// started yet. It reports whether the pass has started.
func (s *Scheduler) tryStart(ctx context.Context) bool {
	if s.session.ConnectionStatus() != kernelmsg.ConnConnected ||
		s.session.KernelStatus() != kernelmsg.KernelIdle {
		return false
	}

	s.mu.Lock()
	if s.closed || s.started || s.current == nil {
		started := s.started
		s.mu.Unlock()
		return started
	}
	s.started = true
	b := s.current
	s.mu.Unlock()

	s.waiting.Close()
	s.submitAll(ctx, b)
	return true
}

func (s *Scheduler) submitAll(ctx context.Context, b *Barrier) {
	s.doc.SetExecuted(false)

	var cells []*notebook.Cell
	for _, c := range s.doc.Cells.Items() {
		if c.IsCode() {
			cells = append(cells, c)
		}
	}
	if s.maxCells > 0 && len(cells) > s.maxCells {
		cells = cells[:s.maxCells]
	}

	s.log.Info("bulk run started", "path", s.doc.Path, "cells", len(cells))
	for _, c := range cells {
		if err := ctx.Err(); err != nil {
			b.Fail(err)
			return
		}
		req := s.request(c, b.Add, b.MarkDone)
		if err := s.exec.Run(ctx, req); err != nil {
			s.log.Warn("cell execution request failed",
				"cell_id", c.ID,
				"error", mercury.NewExecutionError(c.ID, err),
			)
			b.Forget(c.ID)
		}
	}
	b.Seal()
}

func (s *Scheduler) onBulkResolved(err error) {
	if err != nil {
		s.log.Warn("bulk run aborted", "path", s.doc.Path, "error", err)
		return
	}
	s.doc.SetExecuted(true)
	s.log.Info("bulk run complete", "path", s.doc.Path)
	s.Completed.Emit(struct{}{})
}

// Rerun executes every code cell strictly below cellID, in ascending
// order, without waiting for one to finish before issuing the next. It
// returns the ids it submitted. An empty or unknown cell id, or a
// document with autoRerun off, submits nothing.
func (s *Scheduler) Rerun(ctx context.Context, cellID string) []string {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}
	if cellID == "" {
		s.log.Warn("a control not linked to a cell has updated")
		return nil
	}
	if !s.doc.Metadata().Rerun() {
		s.log.Debug("auto rerun disabled", "cell_id", cellID)
		return nil
	}

	cells := s.doc.Cells.Items()
	at := -1
	for i, c := range cells {
		if c.ID == cellID {
			at = i
			break
		}
	}
	if at < 0 {
		s.log.Warn("cannot rerun below cell", "error", mercury.NewUnknownCellError(cellID))
		return nil
	}

	var submitted []string
	noop := func(string) {}
	for _, c := range cells[at+1:] {
		if !c.IsCode() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return submitted
		}
		if err := s.exec.Run(ctx, s.request(c, noop, noop)); err != nil {
			s.log.Warn("cell execution request failed",
				"cell_id", c.ID,
				"error", mercury.NewExecutionError(c.ID, err),
			)
			continue
		}
		submitted = append(submitted, c.ID)
	}
	s.log.Debug("downstream rerun", "cell_id", cellID, "submitted", len(submitted))
	return submitted
}

// OnWidgetUpdated adapts Rerun to the interpreter's WidgetUpdated signal.
func (s *Scheduler) OnWidgetUpdated(ctx context.Context) func(kernelmsg.WidgetUpdated) {
	return func(u kernelmsg.WidgetUpdated) {
		s.Rerun(ctx, u.CellModelID)
	}
}

// Running returns the current bulk-run barrier, or nil before Execute.
func (s *Scheduler) Running() *Barrier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close drops status subscriptions and releases any bulk-run waiter.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	b := s.current
	s.mu.Unlock()

	s.waiting.Close()
	if b != nil {
		b.Fail(mercury.NewDisposedError("scheduler"))
	}
	s.Completed.Clear()
}

func (s *Scheduler) request(c *notebook.Cell, scheduled, executed func(string)) Request {
	return Request{
		Cell:         c,
		Document:     s.doc,
		Config:       s.config,
		Session:      s.session,
		DeletedCells: s.doc.DeletedCells(),
		OnScheduled:  func(c *notebook.Cell) { scheduled(c.ID) },
		OnExecuted:   func(c *notebook.Cell) { executed(c.ID) },
	}
}
