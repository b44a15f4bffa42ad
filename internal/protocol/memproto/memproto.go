// Package memproto implements protocol.Client as an in-process simulated
// messaging network. It backs the mem:// protocol URL used for local
// development and drives the session tests deterministically.
package memproto

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/relayd/internal/clock"
	"pkt.systems/relayd/internal/ids"
	"pkt.systems/relayd/internal/protocol"
	"pkt.systems/relayd/internal/svcfields"
)

// DefaultSelf is the account address reported once paired.
const DefaultSelf = "10000000000@s.whatsapp.net"

const defaultEventBuffer = 64

// ErrNotOpen is returned by sends while the simulated connection is not open.
var ErrNotOpen = errors.New("memproto: connection not open")

// Op names a command that can carry an injected failure.
type Op string

const (
	OpConnect     Op = "connect"
	OpLogout      Op = "logout"
	OpSendText    Op = "send_text"
	OpSendAudio   Op = "send_audio"
	OpCheckNumber Op = "check_number"
	OpFetchMedia  Op = "fetch_media"
)

// Options configures a Network.
type Options struct {
	// AutoPair emits Connected this long after a pairing code was issued.
	// Zero waits for an explicit Pair call.
	AutoPair time.Duration
	// Registered lists the numbers CheckNumber reports as active. Entries
	// may be bare numbers or full addresses.
	Registered []string
	// Paired starts the network with stored credentials so Connect resumes
	// without a pairing code.
	Paired      bool
	Self        string
	EventBuffer int
	Clock       clock.Clock
	Logger      pslog.Logger
}

// Sent records an outbound message accepted by the network.
type Sent struct {
	ID       string
	To       string
	Kind     protocol.MessageKind
	Text     string
	Data     []byte
	MimeType string
	At       time.Time
}

// Network is the simulated collaborator.
type Network struct {
	opts   Options
	clock  clock.Clock
	logger pslog.Logger

	mu           sync.Mutex
	status       protocol.ConnStatus
	paired       bool
	code         string
	registered   map[string]struct{}
	media        map[string]protocol.Media
	sent         []Sent
	failures     map[Op]error
	connectCalls int
	closed       bool

	emitMu sync.Mutex
	events chan protocol.Event
	done   chan struct{}
}

// New returns a Network in the closed state.
func New(opts Options) *Network {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if strings.TrimSpace(opts.Self) == "" {
		opts.Self = DefaultSelf
	}
	n := &Network{
		opts:       opts,
		clock:      clock.Or(opts.Clock),
		logger:     svcfields.WithSubsystem(opts.Logger, svcfields.ProtocolMem),
		status:     protocol.ConnClosed,
		paired:     opts.Paired,
		registered: make(map[string]struct{}),
		media:      make(map[string]protocol.Media),
		failures:   make(map[Op]error),
		events:     make(chan protocol.Event, opts.EventBuffer),
		done:       make(chan struct{}),
	}
	for _, number := range opts.Registered {
		if key := localPart(number); key != "" {
			n.registered[key] = struct{}{}
		}
	}
	return n
}

// FromURL builds a Network from a mem:// URL. Supported query parameters are
// autopair (duration), registered (comma separated numbers), paired (bool),
// self (address) and buffer (event channel size).
func FromURL(u *url.URL, logger pslog.Logger, clk clock.Clock) (*Network, error) {
	if u == nil || u.Scheme != "mem" {
		return nil, fmt.Errorf("memproto: unsupported url %v", u)
	}
	opts := Options{Logger: logger, Clock: clk}
	q := u.Query()
	if raw := q.Get("autopair"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("memproto: autopair: %w", err)
		}
		opts.AutoPair = d
	}
	if raw := q.Get("registered"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				opts.Registered = append(opts.Registered, part)
			}
		}
	}
	switch strings.ToLower(q.Get("paired")) {
	case "", "0", "false", "no":
	default:
		opts.Paired = true
	}
	if raw := q.Get("buffer"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("memproto: buffer must be a non-negative integer")
		}
		opts.EventBuffer = n
	}
	opts.Self = q.Get("self")
	return New(opts), nil
}

// Connect starts a simulated attempt. With stored credentials it connects
// immediately, otherwise it issues a pairing code.
func (n *Network) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return protocol.ErrClosed
	}
	n.connectCalls++
	if err := n.failures[OpConnect]; err != nil {
		n.mu.Unlock()
		return err
	}
	if n.status == protocol.ConnOpen {
		n.mu.Unlock()
		return nil
	}
	n.status = protocol.ConnConnecting
	if n.paired {
		n.status = protocol.ConnOpen
		n.code = ""
		self := n.opts.Self
		n.mu.Unlock()
		n.logger.Debug("mem.connect.resumed", "self", self)
		n.emit(protocol.Connected{Self: self})
		return nil
	}
	code := "mem-pair-" + ids.Short()
	n.code = code
	autoPair := n.opts.AutoPair
	n.mu.Unlock()
	n.logger.Debug("mem.connect.pairing", "code", code)
	n.emit(protocol.PairingRequired{Code: code})
	if autoPair > 0 {
		go n.autoPair(code, autoPair)
	}
	return nil
}

func (n *Network) autoPair(code string, after time.Duration) {
	select {
	case <-n.clock.After(after):
	case <-n.done:
		return
	}
	n.mu.Lock()
	current := n.code
	n.mu.Unlock()
	if current != code {
		return
	}
	n.Pair()
}

// Pair completes a pending pairing as if the user scanned the code. It
// reports false when no pairing was pending.
func (n *Network) Pair() bool {
	n.mu.Lock()
	if n.closed || n.status != protocol.ConnConnecting || n.code == "" {
		n.mu.Unlock()
		return false
	}
	n.status = protocol.ConnOpen
	n.paired = true
	n.code = ""
	self := n.opts.Self
	n.mu.Unlock()
	n.logger.Debug("mem.pair.complete", "self", self)
	n.emit(protocol.Connected{Self: self})
	return true
}

// Drop closes the simulated connection with reason.
func (n *Network) Drop(reason protocol.DisconnectReason, shouldReconnect bool) {
	n.mu.Lock()
	n.status = protocol.ConnClosed
	n.code = ""
	n.mu.Unlock()
	n.emit(protocol.Disconnected{Reason: reason, ShouldReconnect: shouldReconnect})
}

// Deliver injects an inbound message. Media bytes are kept for FetchMedia and
// stripped from the event so the session exercises the fetch path.
func (n *Network) Deliver(msg protocol.Message) {
	if msg.ID == "" {
		msg.ID = ids.Short()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = n.clock.Now()
	}
	if msg.Kind == "" {
		msg.Kind = protocol.KindText
	}
	if msg.Media != nil {
		stored := *msg.Media
		stored.Data = append([]byte(nil), msg.Media.Data...)
		if stored.Size == 0 {
			stored.Size = int64(len(stored.Data))
		}
		n.mu.Lock()
		n.media[msg.ID] = stored
		n.mu.Unlock()
		msg.Media = &protocol.Media{MimeType: stored.MimeType, Size: stored.Size}
	}
	n.emit(protocol.MessageReceived{Message: msg})
}

// Status implements protocol.Client.
func (n *Network) Status(context.Context) (protocol.ConnStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return protocol.ConnClosed, protocol.ErrClosed
	}
	return n.status, nil
}

// PairingCode implements protocol.Client.
func (n *Network) PairingCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.code
}

// Logout clears credentials and closes the connection.
func (n *Network) Logout(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return protocol.ErrClosed
	}
	if err := n.failures[OpLogout]; err != nil {
		n.mu.Unlock()
		return err
	}
	n.paired = false
	n.status = protocol.ConnClosed
	n.code = ""
	n.mu.Unlock()
	n.emit(protocol.Disconnected{Reason: protocol.ReasonLoggedOut})
	return nil
}

// SendText implements protocol.Client.
func (n *Network) SendText(ctx context.Context, to, body string) (string, error) {
	return n.record(ctx, OpSendText, Sent{To: to, Kind: protocol.KindText, Text: body})
}

// SendAudio implements protocol.Client.
func (n *Network) SendAudio(ctx context.Context, to string, data []byte, mimeType string) (string, error) {
	return n.record(ctx, OpSendAudio, Sent{
		To:       to,
		Kind:     protocol.KindAudio,
		Data:     append([]byte(nil), data...),
		MimeType: mimeType,
	})
}

func (n *Network) record(ctx context.Context, op Op, sent Sent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return "", protocol.ErrClosed
	}
	if err := n.failures[op]; err != nil {
		return "", err
	}
	if n.status != protocol.ConnOpen {
		return "", ErrNotOpen
	}
	sent.ID = ids.Short()
	sent.At = n.clock.Now()
	n.sent = append(n.sent, sent)
	return sent.ID, nil
}

// CheckNumber implements protocol.Client.
func (n *Network) CheckNumber(ctx context.Context, address string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false, protocol.ErrClosed
	}
	if err := n.failures[OpCheckNumber]; err != nil {
		return false, err
	}
	_, ok := n.registered[localPart(address)]
	return ok, nil
}

// FetchMedia implements protocol.Client.
func (n *Network) FetchMedia(ctx context.Context, messageID string) (protocol.Media, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Media{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return protocol.Media{}, protocol.ErrClosed
	}
	if err := n.failures[OpFetchMedia]; err != nil {
		return protocol.Media{}, err
	}
	media, ok := n.media[messageID]
	if !ok {
		return protocol.Media{}, protocol.ErrMediaUnavailable
	}
	media.Data = append([]byte(nil), media.Data...)
	return media, nil
}

// Events implements protocol.Client.
func (n *Network) Events() <-chan protocol.Event {
	return n.events
}

// Close stops the network and closes the event channel.
func (n *Network) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.status = protocol.ConnClosed
	close(n.done)
	n.mu.Unlock()

	n.emitMu.Lock()
	close(n.events)
	n.emitMu.Unlock()
	return nil
}

// Fail injects err for op until cleared with a nil error.
func (n *Network) Fail(op Op, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err == nil {
		delete(n.failures, op)
		return
	}
	n.failures[op] = err
}

// Register marks number as an active account.
func (n *Network) Register(number string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if key := localPart(number); key != "" {
		n.registered[key] = struct{}{}
	}
}

// Sent returns a copy of every accepted outbound message.
func (n *Network) Sent() []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Sent, len(n.sent))
	copy(out, n.sent)
	return out
}

// ConnectCalls reports how many times Connect was invoked.
func (n *Network) ConnectCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connectCalls
}

// emit serialises event delivery so the channel order matches the order in
// which state changes were made.
func (n *Network) emit(ev protocol.Event) {
	n.emitMu.Lock()
	defer n.emitMu.Unlock()
	select {
	case <-n.done:
		return
	default:
	}
	select {
	case n.events <- ev:
	case <-n.done:
	}
}

func localPart(address string) string {
	address = strings.TrimSpace(address)
	if idx := strings.IndexByte(address, '@'); idx >= 0 {
		address = address[:idx]
	}
	return strings.TrimPrefix(address, "+")
}
