// Package watchdog turns connection loss into a single user-visible
// notice.
//
// A notice is raised when the kernel connection reports disconnected, or
// when the optional reachability probe fails. While a notice is shown no
// further notice is raised; Acknowledge re-arms the watchdog.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/roach88/mercury/internal/event"
	"github.com/roach88/mercury/internal/kernelmsg"
)

// DefaultProbeTimeout bounds a single reachability request.
const DefaultProbeTimeout = 5 * time.Second

// Source names what raised a notice.
type Source string

const (
	SourceKernel Source = "kernel"
	SourceProbe  Source = "probe"
)

// Notice is the connection-lost notification.
type Notice struct {
	Source Source
	Reason string
	At     time.Time
}

// StatusSource reports kernel connection status transitions.
type StatusSource interface {
	OnConnectionStatus(fn func(kernelmsg.ConnectionStatus)) *event.Subscription
}

// ProbeFunc checks that the backend is reachable.
type ProbeFunc func(ctx context.Context) error

// Watchdog raises one Notice per connection-loss episode.
type Watchdog struct {
	log  *slog.Logger
	now  func() time.Time
	post func(name string, fn func())

	mu     sync.Mutex
	shown  bool
	last   Notice
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup

	scope event.Scope

	// Notified fires when a notice is raised.
	Notified event.Signal[Notice]
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithLogger sets the watchdog's logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watchdog) { w.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) { w.now = now }
}

// WithPost routes probe failures through fn, typically the event loop's
// Post, so the notice is raised on the loop goroutine.
func WithPost(fn func(name string, fn func())) Option {
	return func(w *Watchdog) { w.post = fn }
}

// New returns an armed watchdog.
func New(opts ...Option) *Watchdog {
	w := &Watchdog{
		log:  slog.Default(),
		now:  time.Now,
		post: func(_ string, fn func()) { fn() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch subscribes to src's connection status. The subscription lives
// until Close.
func (w *Watchdog) Watch(src StatusSource) {
	w.scope.Add(src.OnConnectionStatus(w.OnConnectionStatus))
}

// OnConnectionStatus raises a notice on transition to disconnected.
func (w *Watchdog) OnConnectionStatus(s kernelmsg.ConnectionStatus) {
	if s != kernelmsg.ConnDisconnected {
		return
	}
	w.raise(SourceKernel, "kernel connection lost")
}

// Acknowledge dismisses the current notice and re-arms the watchdog.
func (w *Watchdog) Acknowledge() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.shown = false
}

// Shown reports whether a notice is currently displayed, and which.
func (w *Watchdog) Shown() (Notice, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.shown
}

// StartProbe runs probe every interval until Close. A failing probe
// raises a notice. Probing never blocks the caller.
func (w *Watchdog) StartProbe(ctx context.Context, interval time.Duration, probe ProbeFunc) {
	w.mu.Lock()
	if w.closed || w.cancel != nil {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := probe(ctx); err != nil && ctx.Err() == nil {
					w.log.Debug("reachability probe failed", "error", err)
					w.post("watchdog.probe", func() {
						w.raise(SourceProbe, "server unreachable: "+err.Error())
					})
				}
			}
		}
	}()
}

// Close stops the probe and drops the status subscription.
func (w *Watchdog) Close() {
	w.mu.Lock()
	w.closed = true
	cancel := w.cancel
	w.mu.Unlock()

	w.scope.Close()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	w.Notified.Clear()
}

func (w *Watchdog) raise(src Source, reason string) {
	w.mu.Lock()
	if w.closed || w.shown {
		w.mu.Unlock()
		return
	}
	w.shown = true
	n := Notice{Source: src, Reason: reason, At: w.now()}
	w.last = n
	w.mu.Unlock()

	w.log.Warn("connection lost", "source", src, "reason", reason)
	w.Notified.Emit(n)
}

// HTTPProbe returns a probe that GETs baseURL with a bounded timeout. Any
// response below 500 counts as reachable.
func HTTPProbe(client *http.Client, baseURL string, timeout time.Duration) ProbeFunc {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return fmt.Errorf("build probe request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("probe %s: status %d", baseURL, resp.StatusCode)
		}
		return nil
	}
}
