package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/relayd/api"
	"pkt.systems/relayd/internal/svcfields"
)

const (
	// DefaultHTTPTimeout bounds each SDK request unless overridden.
	DefaultHTTPTimeout = 60 * time.Second
	// DefaultMaxIdleConns matches the idle pool the CLI expects.
	DefaultMaxIdleConns = 32
	// DefaultMaxIdleConnsPerHost caps idle connections per endpoint.
	DefaultMaxIdleConnsPerHost = 8
	// maxErrorBody caps how much of an error body is retained on APIError.
	maxErrorBody = 64 << 10
)

// ErrNoToken is returned by authenticated calls before Login or WithToken.
var ErrNoToken = errors.New("relayd: no bearer token; call Login or use WithToken")

// Client talks to a single relayd server.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	httpTimeout time.Duration
	logger      pslog.Base

	mu    sync.RWMutex
	token string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient supplies a custom HTTP client/transport stack.
func WithHTTPClient(cli *http.Client) Option {
	return func(c *Client) {
		if cli != nil {
			c.httpClient = cli
		}
	}
}

// WithLogger supplies a logger for client diagnostics.
// Passing nil falls back to pslog.NoopLogger().
func WithLogger(logger pslog.Base) Option {
	return func(c *Client) {
		if logger == nil {
			c.logger = pslog.NoopLogger()
			return
		}
		if full, ok := logger.(pslog.Logger); ok {
			c.logger = svcfields.WithSubsystem(full, svcfields.ClientSDK)
			return
		}
		c.logger = logger
	}
}

// WithHTTPTimeout overrides the per-request timeout. Zero or negative values
// keep the default.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpTimeout = d
		}
	}
}

// WithToken presets the bearer token, skipping Login.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New creates a client targeting baseURL (e.g. http://localhost:8080).
// Unix-domain sockets are supported via base URLs such as
// unix:///var/run/relayd.sock. Bare host:port values default to http.
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		httpTimeout: DefaultHTTPTimeout,
		logger:      pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	httpClient, base, err := buildHTTPClient(baseURL)
	if err != nil {
		return nil, err
	}
	c.baseURL = base
	if c.httpClient == nil {
		c.httpClient = httpClient
	}
	if c.httpClient.Transport == nil {
		if tr, ok := http.DefaultTransport.(*http.Transport); ok {
			cloned := tr.Clone()
			applyDefaultTransportTuning(cloned)
			c.httpClient.Transport = cloned
		}
	}
	return c, nil
}

// BaseURL returns the normalized server URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the bearer token currently attached to requests.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// Close releases idle connections held by the underlying transport.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// APIError describes a non-2xx response.
type APIError struct {
	// Status is the HTTP status code returned by the server.
	Status int
	// Response is the decoded error envelope, when available.
	Response api.ErrorResponse
	// Body contains the raw response body bytes for additional diagnostics.
	Body []byte
}

func (e *APIError) Error() string {
	if e.Response.ErrorCode != "" {
		if e.Response.Message != "" {
			return fmt.Sprintf("relayd: %s (%s)", e.Response.ErrorCode, e.Response.Message)
		}
		return "relayd: " + e.Response.ErrorCode
	}
	return fmt.Sprintf("relayd: status %d", e.Status)
}

// Code returns the machine readable error code, or "".
func (e *APIError) Code() string {
	if e == nil {
		return ""
	}
	return e.Response.ErrorCode
}

// IsCode reports whether err is an *APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Response.ErrorCode == code
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	auth        bool
}

func (c *Client) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if c.httpTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, c.httpTimeout)
}

// send performs req and returns the open response on 2xx. The caller closes
// the body and must call cancel once done with it.
func (c *Client) send(ctx context.Context, req request) (*http.Response, context.CancelFunc, error) {
	reqCtx, cancel := c.requestContext(ctx)
	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, req.method, target, body)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.auth {
		token := c.Token()
		if token == "" {
			cancel()
			return nil, nil, ErrNoToken
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	applyCorrelationHeader(ctx, httpReq)

	c.logger.Trace("client.http.start", "method", req.method, "path", req.path)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		c.logger.Debug("client.http.transport_error", "method", req.method, "path", req.path, "error", err)
		return nil, nil, err
	}
	if resp.StatusCode >= 300 {
		defer cancel()
		defer resp.Body.Close()
		c.logger.Debug("client.http.error", "method", req.method, "path", req.path, "status", resp.StatusCode)
		return nil, nil, decodeError(resp)
	}
	c.logger.Trace("client.http.success", "method", req.method, "path", req.path, "status", resp.StatusCode)
	return resp, cancel, nil
}

// do performs req and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, req request, out any) error {
	resp, cancel, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	defer cancel()
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("relayd: decode %s response: %w", req.path, err)
	}
	return nil
}

func jsonRequest(method, path string, payload any, auth bool) (request, error) {
	req := request{method: method, path: path, auth: auth}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return request{}, err
		}
		req.body = data
		req.contentType = "application/json"
	}
	return req, nil
}

func decodeError(resp *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return err
	}
	apiErr := &APIError{Status: resp.StatusCode, Body: data}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &apiErr.Response)
	}
	return apiErr
}

func buildHTTPClient(rawBase string) (*http.Client, string, error) {
	trimmed := strings.TrimSpace(rawBase)
	if trimmed == "" {
		return nil, "", fmt.Errorf("baseURL required")
	}
	if strings.HasPrefix(trimmed, "unix://") {
		return newUnixHTTPClient(trimmed)
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, "", fmt.Errorf("relayd: parse endpoint %q: %w", rawBase, err)
	}
	if u.Host == "" {
		return nil, "", fmt.Errorf("relayd: endpoint %q has no host", rawBase)
	}
	return &http.Client{}, strings.TrimRight(u.String(), "/"), nil
}

func newUnixHTTPClient(raw string) (*http.Client, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", fmt.Errorf("parse unix baseURL: %w", err)
	}
	socketPath := u.Path
	if u.Host != "" {
		if socketPath == "" || socketPath == "/" {
			socketPath = "/" + u.Host
		} else {
			socketPath = "/" + u.Host + socketPath
		}
	}
	if socketPath == "" {
		return nil, "", fmt.Errorf("unix baseURL missing socket path")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	applyDefaultTransportTuning(transport)
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 15 * time.Second}
	transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
		return dialer.DialContext(ctx, "unix", socketPath)
	}
	transport.DialTLSContext = nil
	transport.TLSClientConfig = nil
	return &http.Client{Transport: transport}, "http://unix", nil
}

func applyDefaultTransportTuning(tr *http.Transport) {
	if tr == nil {
		return
	}
	if tr.MaxIdleConns < DefaultMaxIdleConns {
		tr.MaxIdleConns = DefaultMaxIdleConns
	}
	if tr.MaxIdleConnsPerHost < DefaultMaxIdleConnsPerHost {
		tr.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
}
