package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/mercury/internal/event"
	"github.com/roach88/mercury/internal/kernelmsg"
	"github.com/roach88/mercury/internal/mercury"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 << 20
	sendBuffer     = 256
)

// PostFunc schedules fn on the goroutine that owns the dashboard state.
type PostFunc func(name string, fn func())

func direct(_ string, fn func()) { fn() }

// Connection is one kernel channels websocket.
type Connection struct {
	log      *slog.Logger
	post     PostFunc
	kernelID string

	ws   *websocket.Conn
	send chan []byte
	quit chan struct{}
	wg   sync.WaitGroup

	mu     sync.Mutex
	status kernelmsg.ConnectionStatus
	kernel kernelmsg.KernelStatus
	closed bool

	// AnyMessage reports every frame sent or received.
	AnyMessage event.Signal[kernelmsg.AnyMessage]
	// StatusChanged reports connection status transitions.
	StatusChanged event.Signal[kernelmsg.ConnectionStatus]
	// KernelStatusChanged reports kernel execution state transitions.
	KernelStatusChanged event.Signal[kernelmsg.KernelStatus]
}

// ConnOption configures a Connection.
type ConnOption func(*Connection)

// WithConnLogger sets the connection's logger.
func WithConnLogger(l *slog.Logger) ConnOption {
	return func(c *Connection) { c.log = l }
}

// WithPost routes inbound frames and status changes through fn.
func WithPost(fn PostFunc) ConnOption {
	return func(c *Connection) { c.post = fn }
}

// Dial opens the channels websocket at url and starts the pumps.
func Dial(ctx context.Context, url string, header http.Header, kernelID string, opts ...ConnOption) (*Connection, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial kernel %s: status %d: %w", kernelID, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial kernel %s: %w", kernelID, err)
	}
	return newConnection(ws, kernelID, opts...), nil
}

func newConnection(ws *websocket.Conn, kernelID string, opts ...ConnOption) *Connection {
	c := &Connection{
		log:      slog.Default(),
		post:     direct,
		kernelID: kernelID,
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
		quit:     make(chan struct{}),
		status:   kernelmsg.ConnConnected,
		kernel:   kernelmsg.KernelUnknown,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
	return c
}

// KernelID returns the id of the kernel this connection talks to.
func (c *Connection) KernelID() string { return c.kernelID }

// Status returns the connection status.
func (c *Connection) Status() kernelmsg.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// KernelStatus returns the last reported kernel execution state.
func (c *Connection) KernelStatus() kernelmsg.KernelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kernel
}

// OnAnyMessage subscribes fn to every frame in both directions.
func (c *Connection) OnAnyMessage(fn func(kernelmsg.AnyMessage)) *event.Subscription {
	return c.AnyMessage.Connect(fn)
}

// Send queues msg for the write pump. Observers see the message before it
// is written.
func (c *Connection) Send(msg *kernelmsg.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type(), err)
	}

	c.mu.Lock()
	if c.closed || c.status != kernelmsg.ConnConnected {
		c.mu.Unlock()
		return mercury.NewDisconnectedError("kernel connection is not open")
	}
	c.mu.Unlock()

	c.AnyMessage.Emit(kernelmsg.AnyMessage{Direction: kernelmsg.DirectionSend, Msg: msg})

	select {
	case c.send <- raw:
		return nil
	case <-c.quit:
		return mercury.NewDisconnectedError("kernel connection closed")
	default:
		return fmt.Errorf("send %s: buffer full", msg.Type())
	}
}

// Close stops both pumps and closes the socket. It does not report a
// disconnection: the close is intentional.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.status = kernelmsg.ConnDisconnected
	c.mu.Unlock()

	close(c.quit)
	c.wg.Wait()
	c.AnyMessage.Clear()
	c.StatusChanged.Clear()
	c.KernelStatusChanged.Clear()
	return nil
}

func (c *Connection) readPump() {
	defer c.wg.Done()
	defer c.ws.Close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("kernel websocket read failed", "kernel_id", c.kernelID, "error", err)
			}
			c.lost()
			return
		}

		var msg kernelmsg.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("dropping undecodable kernel frame", "kernel_id", c.kernelID, "error", err)
			continue
		}
		c.post("kernel.recv", func() { c.deliver(&msg) })
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.wg.Done()
	}()

	for {
		select {
		case raw := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.log.Warn("kernel websocket write failed", "kernel_id", c.kernelID, "error", err)
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.ws.Close()
				return
			}
		case <-c.quit:
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "dashboard closed"),
				time.Now().Add(writeWait),
			)
			// Unblocks the read pump.
			_ = c.ws.Close()
			return
		}
	}
}

// deliver runs on the post goroutine.
func (c *Connection) deliver(msg *kernelmsg.Message) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	var changed bool
	var next kernelmsg.KernelStatus
	if msg.Channel == kernelmsg.ChannelIOPub {
		if s, ok := msg.Status(); ok {
			next = kernelmsg.KernelStatus(s.ExecutionState)
			changed = next != c.kernel
			c.kernel = next
		}
	}
	c.mu.Unlock()

	if changed {
		c.KernelStatusChanged.Emit(next)
	}
	c.AnyMessage.Emit(kernelmsg.AnyMessage{Direction: kernelmsg.DirectionRecv, Msg: msg})
}

// lost reports an unexpected end of the socket.
func (c *Connection) lost() {
	c.post("kernel.lost", func() {
		c.mu.Lock()
		if c.closed || c.status == kernelmsg.ConnDisconnected {
			c.mu.Unlock()
			return
		}
		c.status = kernelmsg.ConnDisconnected
		c.kernel = kernelmsg.KernelUnknown
		c.mu.Unlock()

		c.log.Warn("kernel connection lost", "kernel_id", c.kernelID)
		c.StatusChanged.Emit(kernelmsg.ConnDisconnected)
	})
}
