package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/mercury/internal/event"
	"github.com/roach88/mercury/internal/kernelmsg"
	"github.com/roach88/mercury/internal/notebook"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type fakeSession struct {
	mu     sync.Mutex
	conn   kernelmsg.ConnectionStatus
	kernel kernelmsg.KernelStatus

	connChanged   event.Signal[kernelmsg.ConnectionStatus]
	kernelChanged event.Signal[kernelmsg.KernelStatus]
}

func readySession() *fakeSession {
	return &fakeSession{conn: kernelmsg.ConnConnected, kernel: kernelmsg.KernelIdle}
}

func (f *fakeSession) ConnectionStatus() kernelmsg.ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn
}

func (f *fakeSession) KernelStatus() kernelmsg.KernelStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kernel
}

func (f *fakeSession) OnConnectionStatus(fn func(kernelmsg.ConnectionStatus)) *event.Subscription {
	return f.connChanged.Connect(fn)
}

func (f *fakeSession) OnKernelStatus(fn func(kernelmsg.KernelStatus)) *event.Subscription {
	return f.kernelChanged.Connect(fn)
}

func (f *fakeSession) setConn(s kernelmsg.ConnectionStatus) {
	f.mu.Lock()
	f.conn = s
	f.mu.Unlock()
	f.connChanged.Emit(s)
}

func (f *fakeSession) setKernel(s kernelmsg.KernelStatus) {
	f.mu.Lock()
	f.kernel = s
	f.mu.Unlock()
	f.kernelChanged.Emit(s)
}

// recordingExecutor queues requests and lets the test decide when each
// cell completes.
type recordingExecutor struct {
	mu        sync.Mutex
	submitted []string
	requests  map[string]Request
	reject    map[string]bool
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{requests: map[string]Request{}, reject: map[string]bool{}}
}

func (e *recordingExecutor) Run(_ context.Context, req Request) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reject[req.Cell.ID] {
		return errors.New("kernel refused")
	}
	e.submitted = append(e.submitted, req.Cell.ID)
	e.requests[req.Cell.ID] = req
	req.OnScheduled(req.Cell)
	return nil
}

func (e *recordingExecutor) complete(id string) {
	e.mu.Lock()
	req := e.requests[id]
	e.mu.Unlock()
	req.OnExecuted(req.Cell)
}

func (e *recordingExecutor) ids() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.submitted...)
}

func threeCodeCells() *notebook.Document {
	return notebook.NewDocument("demo.ipynb",
		notebook.NewMarkdownCell("md0", "# title"),
		notebook.NewCodeCell("c1", "a = 1"),
		notebook.NewCodeCell("c2", "b = 2"),
		notebook.NewCodeCell("c3", "c = 3"),
	)
}
