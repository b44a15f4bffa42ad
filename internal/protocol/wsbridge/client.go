// Package wsbridge implements protocol.Client over a websocket connection to
// a protocol sidecar. The sidecar owns pairing, encryption and the network
// socket; relayd exchanges JSON command, reply and event frames with it.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/pslog"
	"pkt.systems/relayd/internal/clock"
	"pkt.systems/relayd/internal/ids"
	"pkt.systems/relayd/internal/protocol"
	"pkt.systems/relayd/internal/svcfields"
)

// ErrBridgeLost is returned to pending commands when the websocket drops.
var ErrBridgeLost = errors.New("wsbridge: connection to sidecar lost")

// Options configures a Client.
type Options struct {
	// URL is the ws:// or wss:// sidecar endpoint.
	URL string
	// Token, when set, is sent as a bearer token on the upgrade request.
	Token        string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	Backoff      Backoff
	EventBuffer  int
	Clock        clock.Clock
	Logger       pslog.Logger
}

// Client is a protocol.Client backed by a sidecar websocket.
type Client struct {
	url    string
	header http.Header
	opts   Options
	dialer *websocket.Dialer
	clock  clock.Clock
	logger pslog.Logger

	dialMu sync.Mutex
	rng    *rand.Rand

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan frame
	status  protocol.ConnStatus
	code    string
	closed  bool

	writeMu sync.Mutex

	emitMu sync.Mutex
	events chan protocol.Event
	done   chan struct{}
}

// New validates opts and returns a Client. No connection is made until the
// first command.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(opts.URL))
	if err != nil {
		return nil, fmt.Errorf("wsbridge: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("wsbridge: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("wsbridge: url %q has no host", opts.URL)
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	opts.Backoff = opts.Backoff.withDefaults()
	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	return &Client{
		url:    u.String(),
		header: header,
		opts:   opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.DialTimeout,
		},
		clock:   clock.Or(opts.Clock),
		logger:  svcfields.WithSubsystem(opts.Logger, svcfields.ProtocolWS),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		pending: make(map[string]chan frame),
		status:  protocol.ConnClosed,
		events:  make(chan protocol.Event, opts.EventBuffer),
		done:    make(chan struct{}),
	}, nil
}

// Connect asks the sidecar to start a connection attempt.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == protocol.ConnClosed {
		c.status = protocol.ConnConnecting
	}
	c.mu.Unlock()
	if _, err := c.request(ctx, command{Op: opConnect}); err != nil {
		c.mu.Lock()
		if c.status == protocol.ConnConnecting {
			c.status = protocol.ConnClosed
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// Status reports the last connection state announced by the sidecar.
func (c *Client) Status(context.Context) (protocol.ConnStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return protocol.ConnClosed, protocol.ErrClosed
	}
	return c.status, nil
}

// PairingCode returns the last QR payload announced by the sidecar.
func (c *Client) PairingCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// Logout asks the sidecar to log out and drop credentials.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.request(ctx, command{Op: opLogout})
	return err
}

// SendText implements protocol.Client.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	reply, err := c.request(ctx, command{Op: opSendText, To: to, Text: body})
	if err != nil {
		return "", err
	}
	return reply.MessageID, nil
}

// SendAudio implements protocol.Client.
func (c *Client) SendAudio(ctx context.Context, to string, data []byte, mimeType string) (string, error) {
	reply, err := c.request(ctx, command{Op: opSendAudio, To: to, Data: data, MimeType: mimeType})
	if err != nil {
		return "", err
	}
	return reply.MessageID, nil
}

// CheckNumber implements protocol.Client.
func (c *Client) CheckNumber(ctx context.Context, address string) (bool, error) {
	reply, err := c.request(ctx, command{Op: opCheckNumber, To: address})
	if err != nil {
		return false, err
	}
	return reply.Registered, nil
}

// FetchMedia implements protocol.Client.
func (c *Client) FetchMedia(ctx context.Context, messageID string) (protocol.Media, error) {
	reply, err := c.request(ctx, command{Op: opFetchMedia, MessageID: messageID})
	if err != nil {
		return protocol.Media{}, err
	}
	if len(reply.Data) == 0 {
		return protocol.Media{}, protocol.ErrMediaUnavailable
	}
	return protocol.Media{MimeType: reply.MimeType, Size: int64(len(reply.Data)), Data: reply.Data}, nil
}

// Events implements protocol.Client.
func (c *Client) Events() <-chan protocol.Event {
	return c.events
}

// Close drops the websocket and closes the event channel.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.status = protocol.ConnClosed
	conn := c.conn
	c.conn = nil
	c.failPendingLocked()
	close(c.done)
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "relayd shutdown"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	c.emitMu.Lock()
	close(c.events)
	c.emitMu.Unlock()
	return err
}

func (c *Client) request(ctx context.Context, cmd command) (frame, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := c.ensureConn(ctx)
	if err != nil {
		return frame{}, err
	}
	cmd.ID = ids.Short()
	replyCh := make(chan frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return frame{}, protocol.ErrClosed
	}
	c.pending[cmd.ID] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.ID)
		c.mu.Unlock()
	}()

	if err := c.write(conn, cmd); err != nil {
		return frame{}, fmt.Errorf("wsbridge: %s: %w", cmd.Op, err)
	}
	select {
	case reply, ok := <-replyCh:
		if !ok {
			if c.isClosed() {
				return frame{}, protocol.ErrClosed
			}
			return frame{}, ErrBridgeLost
		}
		if !reply.OK {
			detail := reply.Error
			if detail == "" {
				detail = "rejected"
			}
			return reply, fmt.Errorf("wsbridge: %s: %s", cmd.Op, detail)
		}
		return reply, nil
	case <-ctx.Done():
		return frame{}, fmt.Errorf("wsbridge: %s: %w", cmd.Op, ctx.Err())
	}
}

func (c *Client) write(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ensureConn returns the live websocket, dialing with backoff when none is
// open. Only one dial runs at a time.
func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, protocol.ErrClosed
	}
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	c.mu.Lock()
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, protocol.ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * c.opts.PingInterval))
	})
	_ = conn.SetReadDeadline(time.Now().Add(2 * c.opts.PingInterval))
	go c.readLoop(conn)
	go c.pingLoop(conn)
	c.logger.Info("bridge.dial.connected", "url", c.url)
	return conn, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err == nil {
			return conn, nil
		}
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		lastErr = err
		if c.opts.Backoff.MaxAttempts > 0 && attempt >= c.opts.Backoff.MaxAttempts {
			break
		}
		delay := NextBackoffDelay(c.opts.Backoff, attempt, c.rng)
		c.logger.Warn("bridge.dial.retry", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wsbridge: dial %s: %w", c.url, errors.Join(lastErr, ctx.Err()))
		case <-c.done:
			return nil, protocol.ErrClosed
		case <-c.clock.After(delay):
		}
	}
	return nil, fmt.Errorf("wsbridge: dial %s: %w", c.url, lastErr)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.lost(conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * c.opts.PingInterval))
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("bridge.frame.invalid", "error", err)
			continue
		}
		c.handle(f)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	for {
		select {
		case <-c.done:
			return
		case <-c.clock.After(c.opts.PingInterval):
		}
		c.mu.Lock()
		current := c.conn == conn
		c.mu.Unlock()
		if !current {
			return
		}
		c.writeMu.Lock()
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout))
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Debug("bridge.ping.failed", "error", err)
			return
		}
	}
}

// lost tears down conn and reports the drop once.
func (c *Client) lost(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.status = protocol.ConnClosed
	c.code = ""
	c.failPendingLocked()
	closed := c.closed
	c.mu.Unlock()
	_ = conn.Close()
	if closed {
		return
	}
	c.logger.Warn("bridge.connection.lost", "error", cause)
	c.emit(protocol.Disconnected{Reason: protocol.ReasonBridgeLost, ShouldReconnect: true})
}

// failPendingLocked wakes every waiting command; a closed reply channel
// means the websocket went away before the sidecar answered.
func (c *Client) failPendingLocked() {
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) handle(f frame) {
	switch f.Type {
	case frameReply:
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		if ok {
			delete(c.pending, f.ID)
		}
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("bridge.reply.orphan", "id", f.ID)
			return
		}
		ch <- f
	case frameQR:
		c.mu.Lock()
		c.status = protocol.ConnConnecting
		c.code = f.QR
		c.mu.Unlock()
		c.emit(protocol.PairingRequired{Code: f.QR})
	case frameOpen:
		c.mu.Lock()
		c.status = protocol.ConnOpen
		c.code = ""
		c.mu.Unlock()
		c.emit(protocol.Connected{Self: f.Me})
	case frameClose:
		c.mu.Lock()
		c.status = protocol.ConnClosed
		c.code = ""
		c.mu.Unlock()
		reason := protocol.DisconnectReason(f.Reason)
		if reason == "" {
			reason = protocol.ReasonConnectionClosed
		}
		c.emit(protocol.Disconnected{Reason: reason, ShouldReconnect: f.ShouldReconnect})
	case frameMessage:
		if f.Message == nil || f.Message.ID == "" {
			c.logger.Warn("bridge.frame.invalid", "type", f.Type, "error", "message without id")
			return
		}
		c.emit(protocol.MessageReceived{Message: f.Message.toProtocol()})
	default:
		c.logger.Debug("bridge.frame.unknown", "type", f.Type)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) emit(ev protocol.Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}
