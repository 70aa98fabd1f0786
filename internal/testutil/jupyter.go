package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/roach88/mercury/internal/kernelmsg"
)

// Fixed identifiers served by FakeJupyter.
const (
	FakeKernelID  = "kernel-1"
	FakeSessionID = "session-1"
)

// FakeJupyter is an in-process Jupyter server: enough of the REST API to
// start a session and restart its kernel, plus a channels websocket that
// behaves like a small kernel.
//
// On execute_request the kernel emits busy, the outputs returned by
// Respond (a stdout stream echoing the code by default), execute_reply and
// idle. On a comm update it emits busy, an echo_update unless NoEcho is
// set, and idle.
type FakeJupyter struct {
	Server *httptest.Server
	Token  string

	// Respond maps executed code to the iopub messages the kernel emits.
	Respond func(code string) []Frame

	mu       sync.Mutex
	noEcho   bool
	conns    []*fakeKernelConn
	executed []string
	restarts int
	count    int
}

// Frame is one iopub output the fake kernel emits for an execution.
type Frame struct {
	MsgType string
	Content any
}

type fakeKernelConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *fakeKernelConn) write(msg *kernelmsg.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewFakeJupyter starts a server that is closed when the test ends.
func NewFakeJupyter(t testing.TB) *FakeJupyter {
	t.Helper()
	f := &FakeJupyter{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/sessions", f.handleSessions)
	mux.HandleFunc("/api/sessions/", f.handleSession)
	mux.HandleFunc("/api/kernels/", f.handleKernel)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

// URL returns the server base URL.
func (f *FakeJupyter) URL() string { return f.Server.URL }

// SetNoEcho makes the kernel acknowledge comm updates only through idle.
func (f *FakeJupyter) SetNoEcho(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noEcho = v
}

// Executed returns the code of every execute_request received, in order.
func (f *FakeJupyter) Executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

// Restarts returns how many kernel restarts were requested.
func (f *FakeJupyter) Restarts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

// Connections returns the number of channels websockets accepted so far.
func (f *FakeJupyter) Connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// DropConnections closes every kernel websocket without a close frame.
func (f *FakeJupyter) DropConnections() {
	f.mu.Lock()
	conns := f.conns
	f.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.NetConn().Close()
	}
}

// Close drops the websockets and shuts the server down.
func (f *FakeJupyter) Close() {
	f.DropConnections()
	f.Server.Close()
}

func (f *FakeJupyter) authorized(w http.ResponseWriter, r *http.Request) bool {
	if f.Token == "" || r.Header.Get("Authorization") == "token "+f.Token {
		return true
	}
	http.Error(w, `{"message":"Forbidden"}`, http.StatusForbidden)
	return false
}

func (f *FakeJupyter) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Path   string `json:"path"`
		Kernel struct {
			Name string `json:"name"`
		} `json:"kernel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":   FakeSessionID,
		"path": body.Path,
		"name": body.Path,
		"type": "notebook",
		"kernel": map[string]any{
			"id":   FakeKernelID,
			"name": body.Kernel.Name,
		},
	})
}

func (f *FakeJupyter) handleSession(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	if r.Method == http.MethodDelete && strings.TrimPrefix(r.URL.Path, "/api/sessions/") == FakeSessionID {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.NotFound(w, r)
}

func (f *FakeJupyter) handleKernel(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/kernels/")
	switch {
	case rest == FakeKernelID && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"id": FakeKernelID, "name": "python3", "execution_state": "idle"})
	case rest == FakeKernelID+"/restart" && r.Method == http.MethodPost:
		f.mu.Lock()
		f.restarts++
		f.count = 0
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"id": FakeKernelID, "name": "python3"})
	case rest == FakeKernelID+"/channels":
		f.serveChannels(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *FakeJupyter) serveChannels(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &fakeKernelConn{ws: ws}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()
	defer ws.Close()

	starting := &kernelmsg.Message{Header: kernelmsg.Header{Session: r.URL.Query().Get("session_id")}}
	if f.emit(conn, starting, kernelmsg.TypeStatus, kernelmsg.Status{ExecutionState: kernelmsg.StateIdle}) != nil {
		return
	}

	for {
		var msg kernelmsg.Message
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		if err := f.react(conn, &msg); err != nil {
			return
		}
	}
}

func (f *FakeJupyter) react(conn *fakeKernelConn, req *kernelmsg.Message) error {
	switch req.Type() {
	case kernelmsg.TypeExecuteRequest:
		var ex kernelmsg.ExecuteRequest
		if err := req.Decode(&ex); err != nil {
			return nil
		}
		f.mu.Lock()
		f.executed = append(f.executed, ex.Code)
		f.count++
		n := f.count
		respond := f.Respond
		f.mu.Unlock()

		frames := []Frame{{MsgType: kernelmsg.TypeStream, Content: kernelmsg.Stream{Name: "stdout", Text: ex.Code + "\n"}}}
		if respond != nil {
			frames = respond(ex.Code)
		}

		if err := f.emit(conn, req, kernelmsg.TypeStatus, kernelmsg.Status{ExecutionState: kernelmsg.StateBusy}); err != nil {
			return err
		}
		for _, fr := range frames {
			if err := f.emit(conn, req, fr.MsgType, fr.Content); err != nil {
				return err
			}
		}
		if err := f.reply(conn, req, kernelmsg.ExecuteReply{Status: "ok", ExecutionCount: &n}); err != nil {
			return err
		}
		return f.emit(conn, req, kernelmsg.TypeStatus, kernelmsg.Status{ExecutionState: kernelmsg.StateIdle})

	case kernelmsg.TypeCommMsg:
		c, ok := req.CommMsg()
		if !ok || c.Data.Method != kernelmsg.MethodUpdate {
			return nil
		}
		f.mu.Lock()
		noEcho := f.noEcho
		f.mu.Unlock()

		if err := f.emit(conn, req, kernelmsg.TypeStatus, kernelmsg.Status{ExecutionState: kernelmsg.StateBusy}); err != nil {
			return err
		}
		if !noEcho {
			echo := kernelmsg.CommMsg{CommID: c.CommID, Data: kernelmsg.CommData{Method: kernelmsg.MethodEchoUpdate, State: c.Data.State}}
			if err := f.emit(conn, req, kernelmsg.TypeCommMsg, echo); err != nil {
				return err
			}
		}
		return f.emit(conn, req, kernelmsg.TypeStatus, kernelmsg.Status{ExecutionState: kernelmsg.StateIdle})
	}
	return nil
}

func (f *FakeJupyter) emit(conn *fakeKernelConn, parent *kernelmsg.Message, msgType string, content any) error {
	msg, err := kernelmsg.Reply(parent, kernelmsg.ChannelIOPub, msgType, content)
	if err != nil {
		return err
	}
	return conn.write(msg)
}

func (f *FakeJupyter) reply(conn *fakeKernelConn, parent *kernelmsg.Message, content kernelmsg.ExecuteReply) error {
	msg, err := kernelmsg.Reply(parent, kernelmsg.ChannelShell, kernelmsg.TypeExecuteReply, content)
	if err != nil {
		return err
	}
	return conn.write(msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
