package portal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/roach88/mercury/internal/config"
	"github.com/roach88/mercury/internal/event"
	"github.com/roach88/mercury/internal/layout"
)

// NotebookView is the served notebook as the host API reports it.
type NotebookView struct {
	Path        string          `json:"path"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	ShowCode    bool            `json:"show_code"`
	AutoRerun   bool            `json:"auto_rerun"`
	Executed    bool            `json:"executed"`
	Layout      layout.Snapshot `json:"layout"`
}

// Source supplies the served notebook. View is called from request
// goroutines and must synchronize with the dashboard's event loop.
type Source interface {
	View(ctx context.Context) (NotebookView, error)
	OnLayoutChanged(fn func()) *event.Subscription
}

// Server is the dashboard's host API.
type Server struct {
	log     *slog.Logger
	src     Source
	cfg     config.Config
	token   string
	timeout time.Duration

	app *fiber.App
	hub *Hub
	sub *event.Subscription
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server's logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithToken requires token on every request, as the query parameter
// "token" or an "Authorization: token <t>" header.
func WithToken(token string) ServerOption {
	return func(s *Server) { s.token = token }
}

// NewServer builds the fiber app and starts pushing layout changes to
// websocket clients.
func NewServer(src Source, cfg config.Config, opts ...ServerOption) *Server {
	s := &Server{
		log:     slog.Default(),
		src:     src,
		cfg:     cfg,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.log)
	s.app = fiber.New(fiber.Config{
		AppName:               "mercury",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.routes()
	s.sub = src.OnLayoutChanged(s.broadcastLayout)
	return s
}

// App returns the fiber app, for tests and embedding.
func (s *Server) App() *fiber.App { return s.app }

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Listener serves on ln until Shutdown.
func (s *Server) Listener(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown stops the layout push, disconnects websocket clients and
// stops the HTTP server.
func (s *Server) Shutdown() error {
	s.sub.Close()
	s.hub.Close()
	return s.app.Shutdown()
}

func (s *Server) routes() {
	api := s.app.Group("/mercury", s.authorize)
	api.Get("/api/notebooks", s.handleNotebooks)
	api.Get("/api/theme", s.handleTheme)
	api.Get("/api/config", s.handleConfig)
	api.Get("/ws", s.handleWs)
}

func (s *Server) authorize(c *fiber.Ctx) error {
	if s.token == "" {
		return c.Next()
	}
	token := c.Query("token")
	if token == "" {
		auth := c.Get(fiber.HeaderAuthorization)
		if t, ok := strings.CutPrefix(auth, "token "); ok {
			token = t
		} else if t, ok := strings.CutPrefix(auth, "Bearer "); ok {
			token = t
		}
	}
	if token != s.token {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	}
	return c.Next()
}

func (s *Server) handleNotebooks(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), s.timeout)
	defer cancel()
	view, err := s.src.View(ctx)
	if err != nil {
		return err
	}
	if view.Title == "" {
		view.Title = s.cfg.Title()
	}
	return c.JSON([]NotebookView{view})
}

func (s *Server) handleTheme(c *fiber.Ctx) error {
	theme := s.cfg.Theme
	if theme == nil {
		theme = map[string]any{}
	}
	return c.JSON(theme)
}

func (s *Server) handleConfig(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"title":   s.cfg.Title(),
		"main":    s.cfg.Main,
		"welcome": s.cfg.Welcome,
	})
}

func (s *Server) handleWs(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(func(conn *websocket.Conn) {
		client := newHubClient(s.hub, conn)
		if msg, err := s.layoutMessage(); err == nil {
			client.send <- msg
		} else {
			s.log.Warn("initial layout push failed", "error", err)
		}
		client.serve()
	})(c)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		code = ferr.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.log.Error("api request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// broadcastLayout runs on the event loop after a layout change. It must
// not block on View, which would wait for the loop itself, so the
// snapshot is fetched on a separate goroutine.
func (s *Server) broadcastLayout() {
	if s.hub.Len() == 0 {
		return
	}
	go func() {
		msg, err := s.layoutMessage()
		if err != nil {
			s.log.Warn("layout push failed", "error", err)
			return
		}
		s.hub.Broadcast(msg)
	}()
}

// LayoutMessage is pushed to websocket clients.
type LayoutMessage struct {
	Type   string          `json:"type"`
	Layout layout.Snapshot `json:"layout"`
}

func (s *Server) layoutMessage() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	view, err := s.src.View(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(LayoutMessage{Type: "layout", Layout: view.Layout})
}
