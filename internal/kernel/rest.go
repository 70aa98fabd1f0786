package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultRequestTimeout bounds a single REST call.
const DefaultRequestTimeout = 30 * time.Second

// KernelModel is a kernel as described by /api/kernels.
type KernelModel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ExecutionState string `json:"execution_state,omitempty"`
	Connections    int    `json:"connections,omitempty"`
}

// SessionModel is a session as described by /api/sessions.
type SessionModel struct {
	ID     string      `json:"id"`
	Path   string      `json:"path"`
	Name   string      `json:"name"`
	Type   string      `json:"type"`
	Kernel KernelModel `json:"kernel"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, strings.TrimSpace(e.Body))
}

// Client calls the Jupyter server REST API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient returns a client for the server at baseURL. token may be
// empty for servers without auth.
func NewClient(baseURL, token string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	if hc == nil {
		hc = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &Client{base: u, token: token, http: hc}, nil
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string { return c.base.String() }

// Header returns the auth header for websocket dials.
func (c *Client) Header() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "token "+c.token)
	}
	return h
}

// ChannelsURL returns the websocket URL of a kernel's channels endpoint.
func (c *Client) ChannelsURL(kernelID, sessionID string) string {
	u := c.base.JoinPath("api", "kernels", url.PathEscape(kernelID), "channels")
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := url.Values{}
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String()
}

// CreateSession starts (or reuses) a notebook session for path.
func (c *Client) CreateSession(ctx context.Context, path, kernelName string) (SessionModel, error) {
	body := map[string]any{
		"path":   path,
		"name":   path,
		"type":   "notebook",
		"kernel": map[string]string{"name": kernelName},
	}
	var out SessionModel
	if err := c.do(ctx, http.MethodPost, "/api/sessions", body, &out); err != nil {
		return SessionModel{}, err
	}
	return out, nil
}

// GetKernel describes a running kernel.
func (c *Client) GetKernel(ctx context.Context, id string) (KernelModel, error) {
	var out KernelModel
	if err := c.do(ctx, http.MethodGet, "/api/kernels/"+url.PathEscape(id), nil, &out); err != nil {
		return KernelModel{}, err
	}
	return out, nil
}

// RestartKernel restarts a kernel in place. Its id does not change.
func (c *Client) RestartKernel(ctx context.Context, id string) (KernelModel, error) {
	var out KernelModel
	if err := c.do(ctx, http.MethodPost, "/api/kernels/"+url.PathEscape(id)+"/restart", nil, &out); err != nil {
		return KernelModel{}, err
	}
	return out, nil
}

// DeleteSession shuts a session (and its kernel) down.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header = c.Header()
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
