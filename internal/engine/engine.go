package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Engine is the single-writer event loop.
//
// CRITICAL: All dashboard state mutations happen in the Run goroutine.
// External callers use Post() to submit work.
//
// Thread-safety model:
//   - Post(), Do(), Stop(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Engine struct {
	clock  *Clock
	queue  *eventQueue
	logger *slog.Logger

	// onEvent observes each processed event after it ran. Tests and the
	// trace recorder use it; it runs on the loop goroutine.
	onEvent func(seq int64, name string, err error)

	// current is the seq of the event being processed, 0 outside Run.
	current int64
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithLogger sets the logger used for loop lifecycle and event failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock sets a pre-configured clock, used to resume a trace.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithObserver registers a callback run after each event with its seq,
// name and failure (nil on success).
func WithObserver(fn func(seq int64, name string, err error)) Option {
	return func(e *Engine) {
		e.onEvent = fn
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:  NewClock(),
		queue:  newEventQueue(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Post submits fn for execution on the loop goroutine.
// Returns false if the engine has been stopped.
func (e *Engine) Post(name string, fn func()) bool {
	if fn == nil {
		return false
	}
	return e.queue.Enqueue(Event{Name: name, Fn: fn})
}

// Do posts fn and waits until the loop has run it. It returns the
// recovered failure of fn, ctx.Err() if ctx ends first, or an error if the
// engine is stopped.
//
// Do must not be called from the loop goroutine.
func (e *Engine) Do(ctx context.Context, name string, fn func() error) error {
	done := make(chan error, 1)
	ok := e.Post(name, func() {
		var err error
		defer func() { done <- err }()
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("event %s panicked: %v", name, r)
				panic(r)
			}
		}()
		err = fn()
	})
	if !ok {
		return fmt.Errorf("engine stopped: cannot run %s", name)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the single-writer event loop.
// Blocks until context is cancelled or Stop() is called and the queue has
// drained.
//
// ERROR HANDLING: A panicking event is logged with its name and seq and
// processing continues. One bad kernel frame must not take the dashboard
// down.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			e.process(event)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes when the queue is closed, so this
			// case fires immediately once Stop has been called.
			if e.queue.closedAndEmpty() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine.
// Already posted events still run; Run returns once they are drained.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Seq returns the seq of the event currently being processed. It is only
// meaningful on the loop goroutine.
func (e *Engine) Seq() int64 {
	return e.current
}

// Pending returns the number of queued, unprocessed events.
func (e *Engine) Pending() int {
	return e.queue.Len()
}

// process runs one event.
// CRITICAL: Called only from Run() goroutine - single-writer guarantee.
func (e *Engine) process(event Event) {
	seq := e.clock.Next()
	e.current = seq
	defer func() { e.current = 0 }()

	err := e.invoke(event)
	if err != nil {
		e.logger.Error("event failed",
			"event", event.Name,
			"seq", seq,
			"error", err,
		)
	} else {
		e.logger.Debug("event processed", "event", event.Name, "seq", seq)
	}

	if e.onEvent != nil {
		e.onEvent(seq, event.Name, err)
	}
}

func (e *Engine) invoke(event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			e.logger.Debug("event stack", "event", event.Name, "stack", string(debug.Stack()))
		}
	}()
	event.Fn()
	return nil
}
