package relayd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/relayd/internal/auth"
	"pkt.systems/relayd/internal/clock"
	"pkt.systems/relayd/internal/httpapi"
	"pkt.systems/relayd/internal/protocol"
	"pkt.systems/relayd/internal/session"
	"pkt.systems/relayd/internal/svcfields"
	"pkt.systems/relayd/internal/version"
)

// Server wraps the HTTP server, the messaging session and supporting components.
type Server struct {
	cfg          Config
	logger       pslog.Logger
	session      *session.Session
	users        *auth.UsersFile
	tokens       *auth.Issuer
	handler      *httpapi.Handler
	httpSrv      *http.Server
	listener     net.Listener
	socketPath   string
	clock        clock.Clock
	telemetry    *telemetryBundle
	lastServeErr error

	mu          sync.Mutex
	shutdown    bool
	sweeperStop chan struct{}
	sweeperDone sync.WaitGroup
	watchCancel context.CancelFunc
	readyOnce   sync.Once
	readyCh     chan struct{}
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger       pslog.Logger
	Protocol     protocol.Client
	Clock        clock.Clock
	OTLPEndpoint string
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithProtocol injects a pre-built protocol client (useful for tests). The
// server takes ownership and closes it on shutdown.
func WithProtocol(c protocol.Client) Option {
	return func(o *options) {
		o.Protocol = c
	}
}

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.Clock = c
	}
}

// WithOTLPEndpoint overrides the OTLP collector endpoint used for telemetry.
func WithOTLPEndpoint(endpoint string) Option {
	return func(o *options) {
		o.OTLPEndpoint = endpoint
	}
}

// NewServer constructs a relayd server according to cfg.
// Example:
//
//	cfg := relayd.Config{Protocol: "mem://?autopair=3s", JWTSecret: secret, AuthUsername: "admin", AuthPassword: pw}
//	srv, err := relayd.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := svcfields.Ensure(o.Logger)
	serverClock := clock.Or(o.Clock)

	users, err := openUsersFile(cfg, logger)
	if err != nil {
		return nil, err
	}
	credentials := buildCredentials(cfg, users)
	tokens, err := auth.NewIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.TokenTTL, serverClock)
	if err != nil {
		return nil, err
	}

	otlpEndpoint := cfg.OTLPEndpoint
	if o.OTLPEndpoint != "" {
		otlpEndpoint = o.OTLPEndpoint
	}
	telemetry, err := setupTelemetry(context.Background(), otlpEndpoint, cfg.MetricsListen, cfg.PprofListen, cfg.EnableProfilingMetrics, svcfields.WithSubsystem(logger, svcfields.Telemetry))
	if err != nil {
		return nil, err
	}
	shutdownTelemetry := func() {
		if telemetry == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = telemetry.Shutdown(shutdownCtx)
		cancel()
	}

	client := o.Protocol
	if client == nil {
		client, err = openProtocol(cfg, logger, serverClock)
		if err != nil {
			shutdownTelemetry()
			return nil, err
		}
	}
	sess := session.New(client,
		session.WithSuffix(cfg.PhoneSuffix),
		session.WithInitTimeout(cfg.InitTimeout),
		session.WithPairingWait(cfg.PairingWait),
		session.WithSendTimeout(cfg.SendTimeout),
		session.WithMaxMessages(cfg.MaxMessages),
		session.WithClock(serverClock),
		session.WithLogger(logger),
	)
	sess.Start()

	srv := &Server{
		cfg:       cfg,
		logger:    svcfields.WithSubsystem(logger, svcfields.ServerLifecycle),
		session:   sess,
		users:     users,
		tokens:    tokens,
		clock:     serverClock,
		telemetry: telemetry,
		readyCh:   make(chan struct{}),
	}
	srv.handler = httpapi.New(httpapi.Config{
		Session:            sess,
		Credentials:        credentials,
		Tokens:             tokens,
		Logger:             logger,
		JSONMaxBytes:       cfg.JSONMaxBytes,
		AudioMaxBytes:      cfg.AudioMaxBytes,
		Version:            version.Current(),
		Ready:              srv.isReady,
		HTTPTracingEnabled: otlpEndpoint != "",
	})
	mux := http.NewServeMux()
	srv.handler.Register(mux)

	srv.httpSrv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
		ErrorLog: log.New(serverErrorWriter{logger: svcfields.WithSubsystem(logger, svcfields.ServerHTTP)}, "", 0),
	}
	srv.logger.Info("server.configured",
		"protocol", redactProtocol(cfg.Protocol),
		"suffix", cfg.PhoneSuffix,
		"max_messages", cfg.MaxMessages,
		"retention", cfg.MessageRetention,
		"tls", cfg.TLSEnabled(),
	)
	return srv, nil
}

func openUsersFile(cfg Config, logger pslog.Logger) (*auth.UsersFile, error) {
	path := strings.TrimSpace(cfg.UsersFile)
	if path == "" {
		return nil, nil
	}
	users, err := auth.LoadUsersFile(path, logger)
	if err != nil {
		return nil, fmt.Errorf("config: users file: %w", err)
	}
	return users, nil
}

func buildCredentials(cfg Config, users *auth.UsersFile) auth.Credentials {
	var chain auth.Chain
	if cfg.AuthUsername != "" {
		chain = append(chain, auth.Static{Username: cfg.AuthUsername, Password: cfg.AuthPassword})
	}
	if users != nil {
		chain = append(chain, users)
	}
	return chain
}

// Handler returns the underlying HTTP handler so relayd can be mounted inside
// an existing mux when embedding the server into another program.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Session exposes the messaging session.
func (s *Server) Session() *session.Session {
	return s.session
}

// Tokens exposes the bearer token issuer.
func (s *Server) Tokens() *auth.Issuer {
	return s.tokens
}

// Start begins serving requests and blocks until the server stops.
func (s *Server) Start() error {
	if s.cfg.ListenProto == "unix" {
		if err := os.Remove(s.cfg.Listen); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale unix socket: %w", err)
		}
	}
	ln, err := net.Listen(s.cfg.ListenProto, s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (%s %s): %w", s.cfg.ListenProto, s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.listener = ln
	if s.cfg.ListenProto == "unix" {
		s.socketPath = s.cfg.Listen
	}
	s.mu.Unlock()
	s.startUsersWatch()
	s.startSweeper()
	defer s.stopSweeper()
	s.signalReady()
	s.logger.Info("server.listening", "network", s.cfg.ListenProto, "address", ln.Addr().String(), "tls", s.cfg.TLSEnabled(), "version", version.Current())

	var serveErr error
	if s.cfg.TLSEnabled() {
		serveErr = s.httpSrv.ServeTLS(ln, s.cfg.TLSCert, s.cfg.TLSKey)
	} else {
		serveErr = s.httpSrv.Serve(ln)
	}
	s.recordServeErr(serveErr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// Shutdown gracefully stops the server and returns any fatal serve/shutdown
// error. The returned error will be nil for clean shutdowns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	cancelWatch := s.watchCancel
	s.watchCancel = nil
	s.mu.Unlock()

	s.logger.Info("server.shutdown.begin")
	var errs []error
	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	s.mu.Lock()
	if l := s.listener; l != nil {
		_ = l.Close()
		s.listener = nil
	}
	s.mu.Unlock()
	s.stopSweeper()
	if cancelWatch != nil {
		cancelWatch()
	}
	if s.users != nil {
		_ = s.users.Close()
	}
	if err := s.session.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("session close: %w", err))
	}
	if s.telemetry != nil {
		telemetryCtx := ctx
		if telemetryCtx.Err() != nil {
			var cancel context.CancelFunc
			telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := s.telemetry.Shutdown(telemetryCtx); err != nil {
			errs = append(errs, err)
		}
		s.telemetry = nil
	}
	if s.cfg.ListenProto == "unix" && s.socketPath != "" {
		if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := s.LastServeError(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info("server.shutdown.complete")
	return nil
}

// Close gracefully shuts the server down using a background context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

func (s *Server) isReady() bool {
	select {
	case <-s.readyCh:
	default:
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.shutdown
}

// WaitUntilReady blocks until the server listener is initialized or context ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr returns the bound listener address once available.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.listener; l != nil {
		return l.Addr()
	}
	return nil
}

func (s *Server) startUsersWatch() {
	if s.users == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.users.Watch(ctx); err != nil {
		cancel()
		s.logger.Warn("server.users.watch_failed", "error", err)
		return
	}
	s.mu.Lock()
	s.watchCancel = cancel
	s.mu.Unlock()
}

func (s *Server) startSweeper() {
	if s.cfg.MessageRetention <= 0 || s.cfg.SweeperInterval <= 0 {
		return
	}
	s.mu.Lock()
	if s.sweeperStop != nil {
		s.mu.Unlock()
		return
	}
	s.sweeperStop = make(chan struct{})
	s.sweeperDone.Add(1)
	stopCh := s.sweeperStop
	interval := s.cfg.SweeperInterval
	s.mu.Unlock()
	logger := svcfields.WithSubsystem(s.logger, svcfields.ServerSweeper)
	go func() {
		defer s.sweeperDone.Done()
		for {
			select {
			case <-stopCh:
				return
			case <-s.clock.After(interval):
				if n := s.sweepRetention(); n > 0 {
					logger.Debug("sweeper.messages.evicted", "count", n)
				}
			}
		}
	}()
}

func (s *Server) stopSweeper() {
	s.mu.Lock()
	stopCh := s.sweeperStop
	if stopCh != nil {
		close(stopCh)
		s.sweeperStop = nil
	}
	s.mu.Unlock()
	if stopCh != nil {
		s.sweeperDone.Wait()
	}
}

// sweepRetention drops buffered messages older than the retention window.
func (s *Server) sweepRetention() int {
	if s.cfg.MessageRetention <= 0 {
		return 0
	}
	return s.session.Buffer().Sweep(s.clock.Now().Add(-s.cfg.MessageRetention))
}

func (s *Server) recordServeErr(err error) {
	s.mu.Lock()
	s.lastServeErr = err
	s.mu.Unlock()
}

// LastServeError returns the most recent error reported by the underlying HTTP
// server.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServeErr
}

// serverErrorWriter routes net/http's internal error log into pslog.
type serverErrorWriter struct {
	logger pslog.Logger
}

func (w serverErrorWriter) Write(p []byte) (int, error) {
	w.logger.Warn("http.server.error", "error", strings.TrimSpace(string(p)))
	return len(p), nil
}

// redactProtocol strips credentials from a protocol URL for logging.
func redactProtocol(raw string) string {
	if i := strings.Index(raw, "@"); i >= 0 {
		if j := strings.Index(raw, "://"); j >= 0 && j < i {
			return raw[:j+3] + "***" + raw[i:]
		}
	}
	return raw
}

// StartServer starts a relayd server in a background goroutine and waits until
// it is ready to accept connections. It returns the running server alongside a
// stop function that gracefully shuts it down.
// Example:
//
//	srv, stop, err := relayd.StartServer(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stop(context.Background())
func StartServer(ctx context.Context, cfg Config, opts ...Option) (*Server, func(context.Context) error, error) {
	srv, err := NewServer(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	waitCtx := ctx
	if waitCtx == nil {
		waitCtx = context.Background()
	}
	select {
	case err := <-errCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if err == nil {
			err = errors.New("server stopped before becoming ready")
		}
		return nil, nil, err
	case <-srv.readyCh:
	case <-waitCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil, nil, waitCtx.Err()
	}
	var (
		stopOnce sync.Once
		stopErr  error
	)
	stop := func(shutdownCtx context.Context) error {
		stopOnce.Do(func() {
			if shutdownCtx == nil {
				shutdownCtx = context.Background()
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				stopErr = err
				return
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				stopErr = err
			}
		})
		return stopErr
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			_ = stop(context.Background())
		}()
	}
	return srv, stop, nil
}
