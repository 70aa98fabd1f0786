// Package portal is the boundary between a dashboard and the outside
// world: a client for the portal service that lists notebooks and starts
// their dashboards, and the host API server a running dashboard exposes.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"
)

const (
	// BaseDelay is the first retry delay.
	BaseDelay = 800 * time.Millisecond
	// Multiplier grows each retry delay.
	Multiplier = 1.7
	// MaxDelay caps a single retry delay.
	MaxDelay = 5 * time.Second
	// MaxAttempts bounds launch retries.
	MaxAttempts = 10
	// ListTTL is how long a fetched notebook list is reused.
	ListTTL = 30 * time.Second
)

const listKey = "notebooks"

// launchBackOff is the launch retry schedule: BaseDelay growing by
// Multiplier up to MaxDelay, without jitter or an elapsed-time limit.
func launchBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = BaseDelay
	b.Multiplier = Multiplier
	b.MaxInterval = MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Backoff returns the delay before retry n (0-based).
func Backoff(n int) time.Duration {
	b := launchBackOff()
	d := b.NextBackOff()
	for i := 0; i < n; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Notebook is a notebook registered with the portal.
type Notebook struct {
	ID                 int     `json:"id"`
	Name               string  `json:"name"`
	Description        string  `json:"description"`
	FilePath           string  `json:"file_path"`
	URL                string  `json:"url"`
	Port               *int    `json:"port"`
	PID                *int    `json:"pid"`
	Status             string  `json:"status"`
	ThumbnailImage     *string `json:"thumbnail_image"`
	ThumbnailBg        *string `json:"thumbnail_bg"`
	ThumbnailText      *string `json:"thumbnail_text"`
	ThumbnailTextColor *string `json:"thumbnail_text_color"`
}

// Launch is the portal's launch response.
type Launch struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// HTTPError is a non-2xx portal response.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("portal: %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("portal: %d %s", e.Status, http.StatusText(e.Status))
}

// Busy reports a 423 response: the portal is starting another dashboard.
func (e *HTTPError) Busy() bool { return e.Status == http.StatusLocked }

// LaunchError is returned once launch retries are exhausted or a
// non-retryable response arrives.
type LaunchError struct {
	ID       int
	Attempts int
	Err      error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch notebook %d failed after %d attempt(s): %v", e.ID, e.Attempts, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// errNotReady marks a launched dashboard that does not answer yet.
var errNotReady = errors.New("dashboard not ready")

// Retryable reports whether a launch failure should be retried: 423,
// 5xx, network errors and a dashboard that is not answering yet.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.Busy() || herr.Status >= 500
	}
	// Transport failures and errNotReady.
	return true
}

// Client talks to the portal REST API.
type Client struct {
	log   *slog.Logger
	base  *url.URL
	hc    *http.Client
	list  *cache.Cache
	timer backoff.Timer

	readyAttempts int
	readyDelay    time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client's logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// WithTimer replaces the timer retries wait on, used by tests to skip
// real delays.
func WithTimer(t backoff.Timer) ClientOption {
	return func(c *Client) { c.timer = t }
}

// WithReadyCheck sets how often, and how far apart, a launched dashboard
// URL is pinged before the launch counts as done. Zero attempts disables
// the check.
func WithReadyCheck(attempts int, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.readyAttempts = attempts
		c.readyDelay = delay
	}
}

// NewClient returns a client for the portal API at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse portal url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("portal url %q: unsupported scheme", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	c := &Client{
		log:           slog.Default(),
		base:          u,
		hc:            &http.Client{Timeout: 30 * time.Second},
		list:          cache.New(ListTTL, 2*ListTTL),
		readyAttempts: 10,
		readyDelay:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Notebooks returns every notebook. The list is cached for ListTTL.
func (c *Client) Notebooks(ctx context.Context) ([]Notebook, error) {
	if x, found := c.list.Get(listKey); found {
		return x.([]Notebook), nil
	}
	var out []Notebook
	if err := c.do(ctx, http.MethodGet, "notebooks/", &out); err != nil {
		return nil, err
	}
	c.list.Set(listKey, out, cache.DefaultExpiration)
	return out, nil
}

// Notebook returns one notebook.
func (c *Client) Notebook(ctx context.Context, id int) (Notebook, error) {
	var nb Notebook
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("notebooks/%d/", id), &nb)
	return nb, err
}

// Launch starts the notebook's dashboard, or gets the URL of the running
// one, and waits until it answers. Retryable failures back off per
// Backoff for up to MaxAttempts attempts.
func (c *Client) Launch(ctx context.Context, id int) (Launch, error) {
	var (
		res      Launch
		attempts int
	)
	op := func() error {
		attempts++
		var err error
		res, err = c.launchOnce(ctx, id)
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		c.log.Info("launch retry scheduled",
			"notebook_id", id,
			"attempt", attempts,
			"max_attempts", MaxAttempts,
			"delay", delay,
			"error", err,
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(launchBackOff(), MaxAttempts-1), ctx)
	if err := backoff.RetryNotifyWithTimer(op, b, notify, c.timer); err != nil {
		return Launch{}, &LaunchError{ID: id, Attempts: attempts, Err: err}
	}
	// A launch changes the notebook's status and port.
	c.list.Delete(listKey)
	return res, nil
}

func (c *Client) launchOnce(ctx context.Context, id int) (Launch, error) {
	var res Launch
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("notebooks/%d/launch/", id), &res); err != nil {
		return Launch{}, err
	}
	if res.URL == "" || c.readyAttempts <= 0 {
		return res, nil
	}
	if !c.waitReady(ctx, res.URL) {
		return Launch{}, errNotReady
	}
	return res, nil
}

// waitReady pings the dashboard URL until any response arrives.
func (c *Client) waitReady(ctx context.Context, dashboardURL string) bool {
	base, _, _ := strings.Cut(dashboardURL, "?")
	ping := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s?_=%d", base, time.Now().UnixNano()), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.readyDelay), uint64(c.readyAttempts-1)), ctx)
	return backoff.RetryNotifyWithTimer(ping, b, nil, c.timer) == nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	u := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("portal request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("portal %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("portal %s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		_ = json.Unmarshal(body, &payload)
		msg := payload.Error
		if msg == "" {
			msg = payload.Detail
		}
		return &HTTPError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("portal %s %s: decode: %w", method, path, err)
	}
	return nil
}
