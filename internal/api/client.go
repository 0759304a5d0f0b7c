package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"tala-companion/internal/auth"
)

const (
	DefaultBaseURL = "http://localhost:5000/api"
	DefaultTimeout = 15 * time.Second
)

var (
	ErrNotAuthenticated = auth.ErrNotAuthenticated
	ErrSessionExpired   = errors.New("session expired, please log in again")
	ErrNoData           = errors.New("no data received from API")
)

// authPaths never trigger a token refresh on 401.
var authPaths = []string{
	"/auth/login",
	"/auth/signup",
	"/auth/request-reset",
	"/auth/verify-reset",
	"/auth/reset-password",
	"/auth/refresh-token",
}

// Error is a failed call: a non-2xx status or an envelope with
// success=false.
type Error struct {
	Status  int
	Message string
	Field   string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	session *auth.Session
	logger  *zap.Logger
}

func New(opts Options, session *auth.Session) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		timeout: opts.Timeout,
		http:    opts.HTTPClient,
		session: session,
		logger:  opts.Logger.Named("api"),
	}
}

func (c *Client) Session() *auth.Session {
	return c.session
}

// WithSession returns a client sharing transport and settings but bound to
// another user's tokens.
func (c *Client) WithSession(session *auth.Session) *Client {
	cp := *c
	cp.session = session
	return &cp
}

type request struct {
	method  string
	path    string
	query   url.Values
	body    any
	timeout time.Duration
}

func isAuthPath(path string) bool {
	for _, p := range authPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (c *Client) newRequest(ctx context.Context, r request) (*http.Request, error) {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token := c.session.AccessToken(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do sends the request. A 401 from a non-auth endpoint is answered with one
// token refresh and one retry.
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	resp, err := c.send(ctx, r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || isAuthPath(r.path) {
		return resp, nil
	}
	resp.Body.Close()

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	return c.send(ctx, r)
}

func (c *Client) send(ctx context.Context, r request) (*http.Response, error) {
	req, err := c.newRequest(ctx, r)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("method", r.method), zap.String("path", r.path), zap.Error(err))
		return nil, fmt.Errorf("no response received from server: %w", err)
	}
	c.logger.Debug("request",
		zap.String("method", r.method),
		zap.String("path", r.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
		zap.String("request_id", req.Header.Get("X-Request-ID")))
	return resp, nil
}

func (c *Client) refresh(ctx context.Context) error {
	store := c.session.Store()
	tokens, err := store.Load(ctx)
	if err != nil || tokens.RefreshToken == "" {
		_ = c.session.End(ctx)
		return fmt.Errorf("%w: no refresh token available", ErrSessionExpired)
	}

	fresh, err := call[auth.Tokens](ctx, c, request{
		method: http.MethodPost,
		path:   "/auth/refresh-token",
		body:   map[string]string{"refreshToken": tokens.RefreshToken},
	})
	if err == nil && fresh.AccessToken == "" {
		err = errors.New("invalid refresh token response")
	}
	if err != nil {
		c.logger.Info("token refresh failed, ending session", zap.Error(err))
		_ = c.session.End(ctx)
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tokens.RefreshToken
	}
	return store.Save(ctx, fresh)
}

// call performs an enveloped request and decodes its data into T.
func call[T any](ctx context.Context, c *Client, r request) (T, error) {
	var zero T
	raw, err := c.exchange(ctx, r)
	if err != nil {
		return zero, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return zero, ErrNoData
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("decode %s: %w", r.path, err)
	}
	return out, nil
}

// exchange returns the raw envelope data of a successful call.
func (c *Client) exchange(ctx context.Context, r request) (json.RawMessage, error) {
	timeout := r.timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}
	return unwrap(r.path, resp.StatusCode, body)
}

// unwrap turns an envelope into data or an *Error. success=false is a
// failure whatever the status code says.
func unwrap(path string, status int, body []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if status >= 200 && status < 300 {
			return nil, fmt.Errorf("decode envelope of %s: %w", path, err)
		}
		return nil, &Error{Status: status, Message: fmt.Sprintf("API request to %s failed with status %d", path, status)}
	}
	if env.Success && status >= 200 && status < 300 {
		return env.Data, nil
	}

	msg := env.Error
	if msg == "" {
		msg = env.Message
	}
	if msg == "" {
		if status >= 200 && status < 300 {
			msg = "API request failed"
		} else {
			msg = fmt.Sprintf("API request to %s failed with status %d", path, status)
		}
	}
	return nil, &Error{Status: status, Message: msg, Field: env.Error}
}

// errorMessage pulls a readable message out of a non-enveloped error body.
func errorMessage(body []byte, fallback string) string {
	for _, key := range []string{"error", "message"} {
		if v := gjson.GetBytes(body, key); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return fallback
}

// Message extracts what the user should read from any error returned by the
// client.
func Message(err error, fallback string) string {
	var apiErr *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr):
		return apiErr.Message
	case errors.Is(err, ErrSessionExpired):
		return ErrSessionExpired.Error()
	case errors.Is(err, ErrNotAuthenticated):
		return ErrNotAuthenticated.Error()
	default:
		return fallback
	}
}

func (c *Client) userPath(ctx context.Context, format string, args ...any) (string, error) {
	id, err := c.session.UserID(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(format, append([]any{url.PathEscape(id)}, args...)...), nil
}
