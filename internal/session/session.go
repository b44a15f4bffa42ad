// Package session tracks the lifecycle of the single messaging connection,
// buffers inbound messages and dispatches outbound sends. The protocol
// client's events are applied by one bridge goroutine; HTTP handlers only
// read snapshots or issue bounded commands.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/relayd/internal/clock"
	"pkt.systems/relayd/internal/protocol"
	"pkt.systems/relayd/internal/svcfields"
)

const (
	defaultInitTimeout = 30 * time.Second
	defaultPairingWait = 20 * time.Second
	defaultSendTimeout = 30 * time.Second
)

// Option customises a Session.
type Option func(*Session)

// WithSuffix sets the domain appended to bare phone numbers.
func WithSuffix(suffix string) Option {
	return func(s *Session) {
		s.suffix = NormalizeSuffix(suffix)
	}
}

// WithInitTimeout bounds each connection attempt (default 30s).
func WithInitTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.initTimeout = d
		}
	}
}

// WithPairingWait bounds how long Initialize waits for a pairing code or a
// resumed connection (default 20s).
func WithPairingWait(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.pairingWait = d
		}
	}
}

// WithSendTimeout bounds every outbound command (default 30s).
func WithSendTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.sendTimeout = d
		}
	}
}

// WithMaxMessages caps the inbound buffer; zero keeps it unbounded.
func WithMaxMessages(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.buffer = NewBuffer(n)
		}
	}
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		s.clock = clock.Or(c)
	}
}

// WithLogger assigns the base logger.
func WithLogger(logger pslog.Logger) Option {
	return func(s *Session) {
		s.logger = svcfields.Ensure(logger)
	}
}

// Session is the process-wide connection registry. It is created by the
// server root and handed to the HTTP layer.
type Session struct {
	client      protocol.Client
	buffer      *Buffer
	clock       clock.Clock
	logger      pslog.Logger
	suffix      string
	initTimeout time.Duration
	pairingWait time.Duration
	sendTimeout time.Duration
	metrics     *sessionMetrics

	mu         sync.RWMutex
	phase      Phase
	code       string
	errDetail  string
	self       string
	connecting bool
	attempt    uint64
	updatedAt  time.Time
	changed    chan struct{}
	closed     bool
	// logoutClose is set while the close event for our own logout is
	// still expected from the client.
	logoutClose bool

	sendMu sync.Mutex

	startOnce  sync.Once
	bridgeDone chan struct{}
}

// New returns a Session bound to client. Call Start to begin consuming
// events.
func New(client protocol.Client, opts ...Option) *Session {
	s := &Session{
		client:      client,
		buffer:      NewBuffer(0),
		clock:       clock.Real{},
		logger:      pslog.NoopLogger(),
		suffix:      DefaultSuffix,
		initTimeout: defaultInitTimeout,
		pairingWait: defaultPairingWait,
		sendTimeout: defaultSendTimeout,
		phase:       PhaseDisconnected,
		changed:     make(chan struct{}),
		bridgeDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.updatedAt = s.clock.Now()
	s.metrics = newSessionMetrics(svcfields.WithSubsystem(s.logger, svcfields.Telemetry), s)
	return s
}

// Start launches the event bridge. It is safe to call more than once.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		go s.runBridge(s.client.Events())
	})
}

// Close stops the protocol client and waits for the bridge to drain.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.client.Close()
	s.startOnce.Do(func() { close(s.bridgeDone) })
	select {
	case <-s.bridgeDone:
		return err
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
}

// Buffer exposes the inbound message log.
func (s *Session) Buffer() *Buffer {
	return s.buffer
}

// Suffix returns the configured address suffix.
func (s *Session) Suffix() string {
	return s.suffix
}

// Status returns the current connection snapshot.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	return Status{
		Phase:       s.phase,
		PairingCode: s.code,
		Error:       s.errDetail,
		Connecting:  s.connecting,
		Self:        s.self,
		UpdatedAt:   s.updatedAt,
	}
}

// setPhaseLocked applies a transition and wakes waiters. The pairing code is
// only kept in AwaitingPairing and the error detail only in Error.
func (s *Session) setPhaseLocked(next Phase, code, detail string) {
	prev := s.phase
	s.phase = next
	switch next {
	case PhaseAwaitingPairing:
		s.code = code
		s.errDetail = ""
	case PhaseError:
		s.code = ""
		s.errDetail = detail
	default:
		s.code = ""
		s.errDetail = ""
	}
	if next != PhaseConnected {
		s.self = ""
	}
	s.updatedAt = s.clock.Now()
	s.notifyLocked()
	if prev != next {
		s.logger.Info("session.phase.change", "from", string(prev), "to", string(next), "detail", detail)
		s.metrics.phaseChanged(next)
	}
}

func (s *Session) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) commandContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}
