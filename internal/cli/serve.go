package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/mercury/internal/app"
	"github.com/roach88/mercury/internal/config"
	"github.com/roach88/mercury/internal/engine"
	"github.com/roach88/mercury/internal/kernel"
	"github.com/roach88/mercury/internal/notebook"
	"github.com/roach88/mercury/internal/portal"
	"github.com/roach88/mercury/internal/store"
	"github.com/roach88/mercury/internal/view"
	"github.com/roach88/mercury/internal/watchdog"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Server     string // Jupyter server base URL
	Token      string // Jupyter server token
	Addr       string
	APIToken   string
	Config     string
	Database   string
	KernelName string
	Probe      time.Duration
	Watch      bool
	TUI        bool
	LogFile    string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve <notebook.ipynb>",
		Short: "Serve a notebook as a dashboard",
		Long: `Open a kernel session for the notebook, run every cell once and serve
the resulting dashboard.

The layout is pushed to websocket clients on /ws whenever it changes.
With --tui the dashboard is also rendered in the terminal. With --db every
cell execution and control update is recorded for "mercury trace".

Examples:
  mercury serve ./sales.ipynb --server http://localhost:8888 --token secret
  mercury serve ./sales.ipynb --server http://localhost:8888 --tui
  mercury serve ./sales.ipynb --server http://localhost:8888 --db ./mercury.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Server, "server", "", "Jupyter server base URL (required)")
	_ = cmd.MarkFlagRequired("server")
	cmd.Flags().StringVar(&opts.Token, "token", "", "Jupyter server token")
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8000", "address the dashboard listens on")
	cmd.Flags().StringVar(&opts.APIToken, "api-token", "", "bearer token required by the dashboard API")
	cmd.Flags().StringVar(&opts.Config, "config", config.DefaultPath, "path to config.toml")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the execution trace in this SQLite database")
	cmd.Flags().StringVar(&opts.KernelName, "kernel", app.DefaultKernelName, "kernel spec name")
	cmd.Flags().DurationVar(&opts.Probe, "probe", 10*time.Second, "backend reachability probe interval (0 disables)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", true, "reload notebook metadata when the file changes")
	cmd.Flags().BoolVar(&opts.TUI, "tui", false, "render the dashboard in the terminal")
	cmd.Flags().StringVar(&opts.LogFile, "log-file", "", "write logs to this file")

	return cmd
}

func runServe(opts *ServeOptions, path string, cmd *cobra.Command) error {
	logger, closeLog, err := serveLogger(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open log file", err)
	}
	defer closeLog()
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		_ = formatter.Error(CodeConfig, err.Error(), map[string]string{"path": opts.Config})
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			return WrapExitError(ExitCommandError, "invalid config", err)
		}
		return WrapExitError(ExitFailure, "failed to load config", err)
	}

	doc, err := notebook.Load(path)
	if err != nil {
		_ = formatter.Error(CodeNotebook, "cannot read notebook", map[string]string{"path": path})
		return WrapExitError(ExitCommandError, "failed to load notebook", err)
	}

	client, err := kernel.NewClient(opts.Server, opts.Token, &http.Client{})
	if err != nil {
		_ = formatter.Error(CodeKernel, "invalid server URL", map[string]string{"server": opts.Server})
		return WrapExitError(ExitCommandError, "invalid server URL", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	engineOpts := []engine.Option{engine.WithLogger(logger)}
	var coreOpts []app.CoreOption
	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()

		// Resume the clock so seqs stay unique across runs.
		seq, err := st.MaxSeq(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read database", err)
		}
		engineOpts = append(engineOpts, engine.WithClock(engine.NewClockAt(seq)))
		coreOpts = append(coreOpts, app.WithRecorder(st))
	}

	// The loop outlives ctx so the app can tear down on it after a signal.
	loop := engine.New(engineOpts...)
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(context.Background()) }()
	defer func() {
		loop.Stop()
		<-loopDone
	}()

	a := app.New(loop, client, doc,
		app.WithLogger(logger),
		app.WithKernelName(opts.KernelName),
		app.WithProbe(opts.Probe),
		app.WithWatch(opts.Watch),
		app.WithCore(coreOpts...),
	)
	defer a.Close()

	srv := portal.NewServer(a, cfg, portal.WithServerLogger(logger), portal.WithToken(opts.APIToken))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Listen(opts.Addr); err != nil {
			return fmt.Errorf("listen %s: %w", opts.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown()
	})

	runErr := serveDashboard(gctx, a, opts, path, cfg.Title(), logger)
	cancel()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = WrapExitError(ExitFailure, "server failed", err)
	}
	return runErr
}

// serveDashboard runs the bulk pass, then blocks until ctx ends or the
// terminal view quits.
func serveDashboard(ctx context.Context, a *app.App, opts *ServeOptions, path, title string, logger *slog.Logger) error {
	logger.Info("starting dashboard", "notebook", path, "addr", opts.Addr, "kernel", opts.KernelName)
	if err := a.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return WrapExitError(ExitFailure, "failed to start dashboard", err)
	}
	logger.Info("dashboard ready", "notebook", path)

	if opts.TUI {
		return runTUI(ctx, a, title)
	}
	<-ctx.Done()
	return nil
}

// serveLogger writes to stderr, or to --log-file. The terminal view owns
// the screen, so --tui without --log-file discards logs.
func serveLogger(opts *ServeOptions, cmd *cobra.Command) (*slog.Logger, func(), error) {
	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		return newLogger(opts.Verbose, f), func() { _ = f.Close() }, nil
	}
	var w io.Writer = cmd.ErrOrStderr()
	if opts.TUI {
		w = io.Discard
	}
	return newLogger(opts.Verbose, w), func() {}, nil
}

// runTUI renders the dashboard until the user quits or ctx ends.
func runTUI(ctx context.Context, a *app.App, title string) error {
	snap, err := a.Snapshot(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read layout", err)
	}

	updates := make(chan tea.Msg, 16)
	send := func(msg tea.Msg) {
		select {
		case updates <- msg:
		case <-ctx.Done():
		}
	}

	// Both callbacks run on the loop goroutine; Snapshot goes through the
	// loop, so it has to be fetched elsewhere.
	layoutSub := a.OnLayoutChanged(func() {
		go func() {
			snap, err := a.Snapshot(ctx)
			if err != nil {
				return
			}
			send(view.SnapshotMsg{Snapshot: snap})
		}()
	})
	defer layoutSub.Close()
	noticeSub := a.Watchdog().Notified.Connect(func(n watchdog.Notice) {
		select {
		case updates <- view.NoticeMsg{Notice: n}:
		default:
		}
	})
	defer noticeSub.Close()

	m := view.NewModel(title, snap,
		view.WithUpdates(updates),
		view.WithAcknowledge(a.Acknowledge),
	)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return WrapExitError(ExitFailure, "terminal view failed", fmt.Errorf("run: %w", err))
	}
	return nil
}
