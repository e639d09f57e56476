// Package gateway is the single point of contact with the banking REST
// backend. Every call sends and expects JSON, carries the browser session's
// backend cookies, and turns non-2xx responses into *APIError values whose
// message is the server's "detail" text.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

const maxResponseBytes = 4 << 20

// APIError is a non-2xx backend response.
type APIError struct {
	Status int
	Detail string
	Path   string
}

// Error returns the server-provided detail verbatim so it can be shown to
// the user unchanged.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("API Error: %d", e.Status)
}

// IsStatus reports whether err is an *APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client holds the backend location and transport policy shared by all
// sessions.
type Client struct {
	baseURL   *url.URL
	transport http.RoundTripper
	timeout   time.Duration
	retries   int
	backoff   func(attempt int) time.Duration
	logger    *slog.Logger
}

type Option func(*Client)

// WithTimeout bounds every single request attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetries sets how many extra attempts idempotent GETs get on transport
// errors and 502/503/504 responses.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithBackoff replaces the delay schedule between GET retries.
func WithBackoff(f func(attempt int) time.Duration) Option {
	return func(c *Client) { c.backoff = f }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend URL %q must be http or https", baseURL)
	}
	c := &Client{
		baseURL:   u,
		transport: http.DefaultTransport,
		timeout:   10 * time.Second,
		retries:   2,
		backoff:   exponentialBackoff,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// exponentialBackoff returns 200ms, 400ms, 800ms... capped at 2s.
func exponentialBackoff(attempt int) time.Duration {
	d := 200 * time.Millisecond
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= 2*time.Second {
			return 2 * time.Second
		}
	}
	return d
}

// Session is one browser session's view of the backend: the shared Client
// plus the cookies the backend has set for that browser.
type Session struct {
	client *Client
	jar    *sessionJar
	http   *http.Client
}

// NewSession returns a session with an empty cookie jar.
func (c *Client) NewSession() *Session {
	jar := newSessionJar()
	return &Session{
		client: c,
		jar:    jar,
		http: &http.Client{
			Transport: c.transport,
			Jar:       jar,
			Timeout:   c.timeout,
		},
	}
}

// Cookies returns the backend cookies held for this session.
func (s *Session) Cookies() []*http.Cookie {
	return s.jar.Cookies(s.client.baseURL)
}

// RestoreCookies seeds the jar, typically from durable session storage.
func (s *Session) RestoreCookies(cookies []*http.Cookie) {
	if len(cookies) > 0 {
		s.jar.SetCookies(s.client.baseURL, cookies)
	}
}

// TakeDirty reports whether the backend changed any cookie since the last
// call, and clears the flag.
func (s *Session) TakeDirty() bool {
	return s.jar.takeDirty()
}

// Clear drops every backend cookie.
func (s *Session) Clear() {
	s.jar.reset()
}

// sessionJar is a resettable cookie jar that remembers whether it changed.
type sessionJar struct {
	mu    sync.Mutex
	inner *cookiejar.Jar
	dirty bool
}

func newSessionJar() *sessionJar {
	inner, _ := cookiejar.New(nil)
	return &sessionJar{inner: inner}
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner.SetCookies(u, cookies)
	if len(cookies) > 0 {
		j.dirty = true
	}
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inner.Cookies(u)
}

func (j *sessionJar) reset() {
	inner, _ := cookiejar.New(nil)
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner = inner
	j.dirty = true
}

func (j *sessionJar) takeDirty() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	d := j.dirty
	j.dirty = false
	return d
}

func (s *Session) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return s.do(ctx, http.MethodGet, path, query, nil)
}

func (s *Session) post(ctx context.Context, path string, body any) ([]byte, error) {
	return s.do(ctx, http.MethodPost, path, nil, body)
}

// getJSON and postJSON decode the response into out when out is non-nil.
func (s *Session) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	raw, err := s.get(ctx, path, query)
	if err != nil {
		return err
	}
	return decodeInto(path, raw, out)
}

func (s *Session) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := s.post(ctx, path, body)
	if err != nil {
		return err
	}
	return decodeInto(path, raw, out)
}

func decodeInto(path string, raw []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (s *Session) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts += s.client.retries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := s.client.backoff(attempt - 1)
			s.client.logger.WarnContext(ctx, "Retrying backend request",
				"method", method, "path", path, "attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		raw, retry, err := s.once(ctx, method, path, query, payload)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, lastErr
}

// once performs a single attempt and reports whether a failure is retryable.
func (s *Session) once(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, bool, error) {
	u := *s.client.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, false, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, isTransient(err), fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, true, fmt.Errorf("read %s %s response: %w", method, path, err)
	}

	s.client.logger.DebugContext(ctx, "Backend request completed",
		"method", method, "path", path, "status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Detail: extractDetail(raw), Path: path}
		retry := resp.StatusCode == http.StatusBadGateway ||
			resp.StatusCode == http.StatusServiceUnavailable ||
			resp.StatusCode == http.StatusGatewayTimeout
		return nil, retry, apiErr
	}
	return raw, false, nil
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// extractDetail pulls the human-readable message from an error body. The
// backend sends {"detail": "..."}; validation failures send a list of
// {"msg": "..."} objects under "detail".
func extractDetail(raw []byte) string {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	for _, key := range []string{"detail", "message", "error"} {
		v, ok := body[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(v, &s) == nil && s != "" {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if json.Unmarshal(v, &items) == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	return ""
}
