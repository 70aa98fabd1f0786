package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/roach88/mercury/internal/engine"
	"github.com/roach88/mercury/internal/event"
	"github.com/roach88/mercury/internal/kernel"
	"github.com/roach88/mercury/internal/layout"
	"github.com/roach88/mercury/internal/notebook"
	"github.com/roach88/mercury/internal/portal"
	"github.com/roach88/mercury/internal/scheduler"
	"github.com/roach88/mercury/internal/watchdog"
)

// DefaultKernelName is the kernel spec started for a notebook.
const DefaultKernelName = "python3"

// shutdownTimeout bounds the teardown of the server-side session.
const shutdownTimeout = 5 * time.Second

// App is a running dashboard for one notebook.
type App struct {
	log    *slog.Logger
	loop   *engine.Engine
	client *kernel.Client
	path   string

	kernelName    string
	probeInterval time.Duration
	watch         bool
	coreOpts      []CoreOption

	ctx    context.Context
	cancel context.CancelFunc

	core     *Core
	session  *kernel.Session
	exec     *kernel.CellExecutor
	watchdog *watchdog.Watchdog
	reloader *reloader

	scope     event.Scope
	closeOnce sync.Once
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger for the app and its components.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithKernelName overrides DefaultKernelName.
func WithKernelName(name string) Option {
	return func(a *App) { a.kernelName = name }
}

// WithProbe enables the backend reachability probe.
func WithProbe(interval time.Duration) Option {
	return func(a *App) { a.probeInterval = interval }
}

// WithWatch enables metadata hot-reload from the notebook file.
func WithWatch(v bool) Option {
	return func(a *App) { a.watch = v }
}

// WithCore passes options through to the Core.
func WithCore(opts ...CoreOption) Option {
	return func(a *App) { a.coreOpts = append(a.coreOpts, opts...) }
}

// New builds the dashboard for doc. Nothing talks to the kernel until
// Start. loop must be running, or started before Start is called.
func New(loop *engine.Engine, client *kernel.Client, doc *notebook.Document, opts ...Option) *App {
	a := &App{
		log:        slog.Default(),
		loop:       loop,
		client:     client,
		path:       doc.Path,
		kernelName: DefaultKernelName,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.session = kernel.NewSession(client,
		kernel.WithSessionLogger(a.log),
		kernel.WithSessionPost(kernel.PostFunc(a.post)),
	)
	a.exec = kernel.NewCellExecutor(a.session, kernel.WithExecutorLogger(a.log))

	coreOpts := append([]CoreOption{WithCoreLogger(a.log), WithSeq(loop.Seq)}, a.coreOpts...)
	a.core = NewCore(a.ctx, doc, a.exec, a.session, coreOpts...)

	a.scope.Add(a.session.OnKernelChanged(func(ch kernel.KernelChange) {
		if ch.New == nil {
			a.core.Interp.Attach(nil)
			return
		}
		a.core.Interp.Attach(ch.New)
	}))

	a.watchdog = watchdog.New(watchdog.WithLogger(a.log), watchdog.WithPost(a.post))
	a.watchdog.Watch(a.session)
	return a
}

// post routes fn through the event loop. Events posted after the loop
// stopped are dropped.
func (a *App) post(name string, fn func()) {
	if !a.loop.Post(name, fn) {
		a.log.Debug("event dropped, loop stopped", "event", name)
	}
}

// Start opens the kernel session, runs the bulk pass and waits for it,
// then rebuilds the layout from the final outputs.
func (a *App) Start(ctx context.Context) error {
	err := a.loop.Do(ctx, "session.start", func() error {
		return a.session.Start(ctx, a.path, a.kernelName)
	})
	if err != nil {
		return fmt.Errorf("start %s: %w", a.path, err)
	}

	if a.watch {
		r, err := newReloader(a.path, a.log, a.post, a.reloadMetadata)
		if err != nil {
			a.log.Warn("metadata hot-reload disabled", "path", a.path, "error", err)
		} else {
			a.reloader = r
		}
	}
	if a.probeInterval > 0 {
		probe := watchdog.HTTPProbe(&http.Client{}, a.client.BaseURL(), watchdog.DefaultProbeTimeout)
		a.watchdog.StartProbe(a.ctx, a.probeInterval, probe)
	}

	var barrier *scheduler.Barrier
	if err := a.loop.Do(ctx, "bulk.execute", func() error {
		barrier = a.core.Execute()
		return nil
	}); err != nil {
		return err
	}
	if err := barrier.Wait(ctx); err != nil {
		return fmt.Errorf("bulk run %s: %w", a.path, err)
	}

	return a.loop.Do(ctx, "layout.rebuild", func() error {
		a.core.Layout.Rebuild()
		return nil
	})
}

// Restart restarts the kernel and re-runs the whole notebook.
func (a *App) Restart(ctx context.Context) error {
	var barrier *scheduler.Barrier
	err := a.loop.Do(ctx, "kernel.restart", func() error {
		if err := a.session.Restart(ctx); err != nil {
			return err
		}
		barrier = a.core.Reset()
		return nil
	})
	if err != nil {
		return fmt.Errorf("restart %s: %w", a.path, err)
	}
	return barrier.Wait(ctx)
}

// Core returns the composed components. Use them only from the loop.
func (a *App) Core() *Core { return a.core }

// Session returns the kernel session.
func (a *App) Session() *kernel.Session { return a.session }

// Watchdog returns the connection watchdog.
func (a *App) Watchdog() *watchdog.Watchdog { return a.watchdog }

// Acknowledge dismisses the connection-lost notice.
func (a *App) Acknowledge() {
	a.post("notice.acknowledge", a.watchdog.Acknowledge)
}

var _ portal.Source = (*App)(nil)

// View reads the notebook state on the loop.
func (a *App) View(ctx context.Context) (portal.NotebookView, error) {
	var v portal.NotebookView
	err := a.loop.Do(ctx, "api.view", func() error {
		meta := a.core.Doc.Metadata()
		v = portal.NotebookView{
			Path:        a.path,
			Title:       meta.Title,
			Description: meta.Description,
			ShowCode:    meta.ShowCode,
			AutoRerun:   meta.Rerun(),
			Executed:    a.core.Doc.Executed(),
			Layout:      a.core.Layout.Snapshot(),
		}
		return nil
	})
	return v, err
}

// Snapshot reads the layout on the loop.
func (a *App) Snapshot(ctx context.Context) (layout.Snapshot, error) {
	v, err := a.View(ctx)
	return v.Layout, err
}

// OnLayoutChanged subscribes to layout changes. fn runs on the loop.
func (a *App) OnLayoutChanged(fn func()) *event.Subscription {
	return a.core.Layout.Changed.Connect(func(struct{}) { fn() })
}

// reloadMetadata re-reads the mercury metadata from disk. Runs on the loop.
func (a *App) reloadMetadata() {
	fresh, err := notebook.Load(a.path)
	if err != nil {
		a.log.Warn("metadata reload failed", "path", a.path, "error", err)
		return
	}
	defer fresh.Close()
	meta := fresh.Metadata()
	if sameMetadata(meta, a.core.Doc.Metadata()) {
		return
	}
	a.log.Info("metadata reloaded", "path", a.path, "show_code", meta.ShowCode, "auto_rerun", meta.Rerun())
	a.core.Doc.SetMetadata(meta)
}

func sameMetadata(a, b notebook.Metadata) bool {
	return a.Title == b.Title &&
		a.Description == b.Description &&
		a.ShowCode == b.ShowCode &&
		(a.AutoRerun == nil) == (b.AutoRerun == nil) &&
		a.Rerun() == b.Rerun()
}

// Close disposes the dashboard: the file watcher and probe stop, the
// kernel session is deleted and every component is closed. It runs the
// teardown on the loop when the loop is still running.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.cancel()
		if a.reloader != nil {
			a.reloader.Close()
		}
		a.watchdog.Close()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var once sync.Once
		teardown := func() error {
			once.Do(func() { a.teardown(ctx) })
			return nil
		}
		if err := a.loop.Do(ctx, "app.close", teardown); err != nil {
			teardown()
		}
	})
}

func (a *App) teardown(ctx context.Context) {
	a.scope.Close()
	a.core.Close()
	a.exec.Close()
	if err := a.session.Shutdown(ctx); err != nil {
		a.log.Warn("session shutdown failed", "path", a.path, "error", err)
	}
}
