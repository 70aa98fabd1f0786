package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/mercury/internal/event"
	"github.com/roach88/mercury/internal/kernelmsg"
	"github.com/roach88/mercury/internal/mercury"
)

// KernelChange reports that the session's connection was replaced.
// Either side may be nil.
type KernelChange struct {
	Old *Connection
	New *Connection
}

// Dialer opens a channels connection. Dial is the production dialer.
type Dialer func(ctx context.Context, url string, client *Client, kernelID string, opts ...ConnOption) (*Connection, error)

func defaultDialer(ctx context.Context, url string, client *Client, kernelID string, opts ...ConnOption) (*Connection, error) {
	return Dial(ctx, url, client.Header(), kernelID, opts...)
}

// Session is a notebook session and its current kernel connection.
type Session struct {
	log    *slog.Logger
	client *Client
	post   PostFunc
	dial   Dialer

	mu       sync.Mutex
	model    SessionModel
	conn     *Connection
	connSubs *event.Scope
	closed   bool

	// KernelChanged fires after the connection is replaced.
	KernelChanged event.Signal[KernelChange]
	// ConnectionStatusChanged forwards the current connection's status.
	ConnectionStatusChanged event.Signal[kernelmsg.ConnectionStatus]
	// StatusChanged forwards the current kernel's execution state.
	StatusChanged event.Signal[kernelmsg.KernelStatus]
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the session's logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// WithSessionPost routes connection events through fn.
func WithSessionPost(fn PostFunc) SessionOption {
	return func(s *Session) { s.post = fn }
}

// WithDialer overrides how channels connections are opened.
func WithDialer(d Dialer) SessionOption {
	return func(s *Session) { s.dial = d }
}

// NewSession returns an unstarted session.
func NewSession(client *Client, opts ...SessionOption) *Session {
	s := &Session{
		log:    slog.Default(),
		client: client,
		post:   direct,
		dial:   defaultDialer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates the server-side session for path and connects to its
// kernel.
func (s *Session) Start(ctx context.Context, path, kernelName string) error {
	model, err := s.client.CreateSession(ctx, path, kernelName)
	if err != nil {
		return fmt.Errorf("start session for %s: %w", path, err)
	}
	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
	s.log.Info("session started", "session_id", model.ID, "kernel_id", model.Kernel.ID, "path", path)
	return s.connect(ctx)
}

// Restart restarts the kernel and replaces the connection.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	kernelID := s.model.Kernel.ID
	s.mu.Unlock()
	if kernelID == "" {
		return mercury.NewDisconnectedError("session has no kernel")
	}
	if _, err := s.client.RestartKernel(ctx, kernelID); err != nil {
		return fmt.Errorf("restart kernel: %w", err)
	}
	return s.connect(ctx)
}

func (s *Session) connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return mercury.NewDisposedError("session")
	}
	model := s.model
	s.mu.Unlock()

	url := s.client.ChannelsURL(model.Kernel.ID, model.ID)
	conn, err := s.dial(ctx, url, s.client, model.Kernel.ID,
		WithPost(s.post),
		WithConnLogger(s.log),
	)
	if err != nil {
		return err
	}
	s.swap(conn)
	return nil
}

// swap installs conn, closes the previous connection and announces the
// change.
func (s *Session) swap(conn *Connection) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	old := s.conn
	s.conn = conn
	if s.connSubs != nil {
		s.connSubs.Close()
	}
	s.connSubs = &event.Scope{}
	if conn != nil {
		s.connSubs.Add(conn.StatusChanged.Connect(func(st kernelmsg.ConnectionStatus) {
			s.ConnectionStatusChanged.Emit(st)
		}))
		s.connSubs.Add(conn.KernelStatusChanged.Connect(func(st kernelmsg.KernelStatus) {
			s.StatusChanged.Emit(st)
		}))
	}
	s.mu.Unlock()

	s.KernelChanged.Emit(KernelChange{Old: old, New: conn})
	if old != nil {
		_ = old.Close()
	}
	if conn != nil {
		s.ConnectionStatusChanged.Emit(conn.Status())
	}
}

// Connection returns the current connection, or nil.
func (s *Session) Connection() *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Model returns the server-side session description.
func (s *Session) Model() SessionModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// ID returns the session id.
func (s *Session) ID() string { return s.Model().ID }

// ConnectionStatus returns the current connection's status.
func (s *Session) ConnectionStatus() kernelmsg.ConnectionStatus {
	if c := s.Connection(); c != nil {
		return c.Status()
	}
	return kernelmsg.ConnDisconnected
}

// KernelStatus returns the current kernel's execution state.
func (s *Session) KernelStatus() kernelmsg.KernelStatus {
	if c := s.Connection(); c != nil {
		return c.KernelStatus()
	}
	return kernelmsg.KernelUnknown
}

// OnConnectionStatus subscribes to connection status transitions.
func (s *Session) OnConnectionStatus(fn func(kernelmsg.ConnectionStatus)) *event.Subscription {
	return s.ConnectionStatusChanged.Connect(fn)
}

// OnKernelStatus subscribes to kernel execution state transitions.
func (s *Session) OnKernelStatus(fn func(kernelmsg.KernelStatus)) *event.Subscription {
	return s.StatusChanged.Connect(fn)
}

// OnKernelChanged subscribes to connection replacement.
func (s *Session) OnKernelChanged(fn func(KernelChange)) *event.Subscription {
	return s.KernelChanged.Connect(fn)
}

// Close closes the connection. The server-side session is left running;
// use Shutdown to delete it as well.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	subs := s.connSubs
	s.connSubs = nil
	s.mu.Unlock()

	if subs != nil {
		subs.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.KernelChanged.Clear()
	s.ConnectionStatusChanged.Clear()
	s.StatusChanged.Clear()
}

// Shutdown closes the connection and deletes the server-side session.
func (s *Session) Shutdown(ctx context.Context) error {
	id := s.ID()
	s.Close()
	if id == "" {
		return nil
	}
	return s.client.DeleteSession(ctx, id)
}
