package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/mercury/internal/event"
	"github.com/roach88/mercury/internal/kernelmsg"
	"github.com/roach88/mercury/internal/layout"
	"github.com/roach88/mercury/internal/notebook"
	"github.com/roach88/mercury/internal/outputindex"
	"github.com/roach88/mercury/internal/scheduler"
	"github.com/roach88/mercury/internal/store"
)

// Recorder persists the execution trace. *store.Store implements it.
type Recorder interface {
	SetExecuted(ctx context.Context, path string, executed bool, seq int64) error
	WriteExecution(ctx context.Context, e store.Execution) error
	WriteWidgetUpdate(ctx context.Context, u store.WidgetUpdate) error
}

// Core is the kernel-independent part of a dashboard.
type Core struct {
	log     *slog.Logger
	rec     Recorder
	seq     func() int64
	ctx     context.Context
	exec    scheduler.Executor
	session scheduler.Session
	cfg     coreConfig

	Doc       *notebook.Document
	Index     *outputindex.Index
	Interp    *kernelmsg.Interpreter
	Layout    *layout.Manager
	Scheduler *scheduler.Scheduler

	scope     event.Scope
	closeOnce sync.Once
}

// CoreOption configures a Core.
type CoreOption func(*coreConfig)

type coreConfig struct {
	log      *slog.Logger
	rec      Recorder
	seq      func() int64
	maxCells int
	config   scheduler.Config
}

// WithCoreLogger sets the logger handed to every component.
func WithCoreLogger(l *slog.Logger) CoreOption {
	return func(c *coreConfig) { c.log = l }
}

// WithRecorder records executions and widget updates.
func WithRecorder(r Recorder) CoreOption {
	return func(c *coreConfig) { c.rec = r }
}

// WithSeq sets the logical clock read when a trace row is written.
func WithSeq(fn func() int64) CoreOption {
	return func(c *coreConfig) { c.seq = fn }
}

// WithMaxCells caps the bulk run.
func WithMaxCells(n int) CoreOption {
	return func(c *coreConfig) { c.maxCells = n }
}

// WithSchedulerConfig sets the per-request execution config.
func WithSchedulerConfig(sc scheduler.Config) CoreOption {
	return func(c *coreConfig) { c.config = sc }
}

// NewCore wires doc to exec and session. ctx bounds every execution the
// scheduler issues, including re-runs triggered long after NewCore
// returns.
func NewCore(ctx context.Context, doc *notebook.Document, exec scheduler.Executor, session scheduler.Session, opts ...CoreOption) *Core {
	cfg := coreConfig{log: slog.Default(), seq: func() int64 { return 0 }}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Core{
		log:     cfg.log,
		rec:     cfg.rec,
		seq:     cfg.seq,
		ctx:     ctx,
		exec:    exec,
		session: session,
		cfg:     cfg,
		Doc:     doc,
	}

	c.Index = outputindex.New(doc.Cells, outputindex.WithLogger(cfg.log))
	c.Interp = kernelmsg.NewInterpreter(c.Index, kernelmsg.WithLogger(cfg.log))
	c.Layout = layout.New(doc.Cells,
		layout.WithLogger(cfg.log),
		layout.WithShowCode(doc.Metadata().ShowCode),
	)
	c.Scheduler = c.newScheduler()

	c.scope.Add(c.Index.WidgetAdded.Connect(func(w outputindex.WidgetAdded) {
		c.Layout.PlaceCell(w.CellID, w.Position)
	}))
	c.scope.Add(c.Index.Unbound.Connect(func(u outputindex.Unbound) {
		c.Interp.Forget(u.ModelID)
		c.Layout.PlaceCell(u.CellID, "")
	}))
	c.scope.Add(c.Interp.WidgetUpdated.Connect(c.onWidgetUpdated))
	c.scope.Add(doc.MetadataChanged.Connect(func(m notebook.Metadata) {
		c.Layout.SetShowCode(m.ShowCode)
	}))
	c.scope.Add(doc.ExecutedChanged.Connect(c.onExecutedChanged))
	return c
}

// Execute starts the bulk run.
func (c *Core) Execute() *scheduler.Barrier {
	return c.Scheduler.Execute(c.ctx)
}

// Reset replaces the scheduler after a kernel restart and starts a fresh
// bulk run. The previous run, if still waiting, fails as disposed.
func (c *Core) Reset() *scheduler.Barrier {
	c.Scheduler.Close()
	c.Doc.SetExecuted(false)
	c.Scheduler = c.newScheduler()
	return c.Execute()
}

func (c *Core) newScheduler() *scheduler.Scheduler {
	return scheduler.New(c.Doc, &tracingExecutor{core: c, next: c.exec}, c.session,
		scheduler.WithLogger(c.cfg.log),
		scheduler.WithMaxCells(c.cfg.maxCells),
		scheduler.WithConfig(c.cfg.config),
	)
}

// Close disposes every component. Safe to call more than once.
func (c *Core) Close() {
	c.closeOnce.Do(func() {
		c.scope.Close()
		c.Scheduler.Close()
		c.Interp.Close()
		c.Layout.Close()
		c.Index.Close()
		c.Doc.Close()
	})
}

func (c *Core) onWidgetUpdated(u kernelmsg.WidgetUpdated) {
	rerun := c.Scheduler.Rerun(c.ctx, u.CellModelID)
	if c.rec == nil || u.CellModelID == "" {
		return
	}
	err := c.rec.WriteWidgetUpdate(c.ctx, store.WidgetUpdate{
		Seq:     c.seq(),
		Path:    c.Doc.Path,
		ModelID: u.WidgetModelID,
		CellID:  u.CellModelID,
		Rerun:   rerun,
	})
	if err != nil {
		c.log.Error("trace write failed", "model_id", u.WidgetModelID, "error", err)
	}
}

func (c *Core) onExecutedChanged(executed bool) {
	if c.rec == nil {
		return
	}
	if err := c.rec.SetExecuted(c.ctx, c.Doc.Path, executed, c.seq()); err != nil {
		c.log.Error("executed flag write failed", "path", c.Doc.Path, "error", err)
	}
}

func (c *Core) record(cell *notebook.Cell, phase store.Phase) {
	if c.rec == nil {
		return
	}
	row := store.Execution{
		Seq:         c.seq(),
		Path:        c.Doc.Path,
		CellID:      cell.ID,
		Phase:       phase,
		Fingerprint: store.Fingerprint(cell.Source()),
	}
	if n, ok := cell.ExecutionCount(); ok && phase == store.PhaseExecuted {
		row.ExecutionCount = &n
	}
	if err := c.rec.WriteExecution(c.ctx, row); err != nil {
		c.log.Error("trace write failed", "cell_id", cell.ID, "phase", phase, "error", err)
	}
}

// tracingExecutor records every request's lifecycle before handing it to
// the real executor.
type tracingExecutor struct {
	core *Core
	next scheduler.Executor
}

func (t *tracingExecutor) Run(ctx context.Context, req scheduler.Request) error {
	scheduled, executed := req.OnScheduled, req.OnExecuted
	req.OnScheduled = func(cell *notebook.Cell) {
		t.core.record(cell, store.PhaseScheduled)
		scheduled(cell)
	}
	req.OnExecuted = func(cell *notebook.Cell) {
		t.core.record(cell, store.PhaseExecuted)
		executed(cell)
	}
	err := t.next.Run(ctx, req)
	if err != nil {
		t.core.record(req.Cell, store.PhaseRejected)
	}
	return err
}
