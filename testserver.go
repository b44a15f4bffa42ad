package relayd

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/relayd/client"
	"pkt.systems/relayd/internal/protocol/memproto"
	"pkt.systems/relayd/internal/session"
)

// Credentials and signing secret used by test servers unless overridden.
const (
	TestUsername  = "operator"
	TestPassword  = "test-password"
	TestJWTSecret = "relayd-test-secret-0123456789abcdef"
)

// TestServer wraps a running relayd.Server backed by the simulated network
// with convenient handles for tests.
type TestServer struct {
	Server   *Server
	BaseURL  string
	Listener net.Addr
	// Client is logged in as TestUsername unless WithoutTestClient was used.
	Client *client.Client
	Config Config
	// Network is the simulated collaborator; use it to pair, deliver inbound
	// messages and inject failures.
	Network *memproto.Network

	stop func(context.Context) error
}

type testingWriter struct {
	t  testing.TB
	mu sync.Mutex
	// closed guards against writes after the associated test has finished.
	closed bool
}

func (w *testingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return len(p), nil
	}
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		func(entry string) {
			defer func() {
				if r := recover(); r != nil {
					if strings.Contains(fmt.Sprint(r), "Log in goroutine") {
						return
					}
					panic(r)
				}
			}()
			w.t.Log(entry)
		}(string(line))
	}
	return len(p), nil
}

func (w *testingWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// NewTestingLogger creates a structured logger that writes through testing.TB.
func NewTestingLogger(t testing.TB, level pslog.Level) pslog.Logger {
	writer := &testingWriter{t: t}
	t.Cleanup(writer.close)
	return pslog.NewWithOptions(context.Background(), writer, pslog.Options{
		Mode:             pslog.ModeStructured,
		DisableTimestamp: true,
		NoColor:          true,
		MinLevel:         level,
	}).With("app", "testserver")
}

// Stop shuts down the server using the provided context.
func (ts *TestServer) Stop(ctx context.Context) error {
	if ts == nil || ts.stop == nil {
		return nil
	}
	if ts.Client != nil {
		_ = ts.Client.Close()
	}
	return ts.stop(ctx)
}

// URL returns the base URL clients should use to reach the server.
func (ts *TestServer) URL() string {
	if ts == nil {
		return ""
	}
	return ts.BaseURL
}

// NewClient returns a new, unauthenticated client configured against the
// test server.
func (ts *TestServer) NewClient(opts ...client.Option) (*client.Client, error) {
	if ts == nil {
		return nil, fmt.Errorf("nil test server")
	}
	return client.New(ts.BaseURL, opts...)
}

// Connect starts the session and completes pairing if the network asks for
// it, returning once the session reports connected.
func (ts *TestServer) Connect(ctx context.Context) error {
	sess := ts.Server.Session()
	res := sess.Initialize(ctx)
	if !res.OK {
		return fmt.Errorf("test server: start session: %s: %s", res.Reason, res.Detail)
	}
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		st := sess.Status()
		if st.Phase == session.PhaseConnected {
			return nil
		}
		if st.PairingCode != "" {
			ts.Network.Pair()
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("test server: waiting for connection: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

type testServerOptions struct {
	cfg           Config
	mutators      []func(*Config)
	network       memproto.Options
	logger        pslog.Logger
	testTB        testing.TB
	testLogLevel  pslog.Level
	disableClient bool
	startTimeout  time.Duration
}

// TestServerOption customises NewTestServer behaviour.
type TestServerOption func(*testServerOptions)

// WithTestConfig replaces the base configuration.
func WithTestConfig(cfg Config) TestServerOption {
	return func(o *testServerOptions) {
		o.cfg = cfg
	}
}

// WithTestConfigFunc mutates the configuration before start.
func WithTestConfigFunc(fn func(*Config)) TestServerOption {
	return func(o *testServerOptions) {
		if fn != nil {
			o.mutators = append(o.mutators, fn)
		}
	}
}

// WithTestUnixSocket serves over a unix socket at path.
func WithTestUnixSocket(path string) TestServerOption {
	return func(o *testServerOptions) {
		o.mutators = append(o.mutators, func(cfg *Config) {
			cfg.ListenProto = "unix"
			cfg.Listen = path
		})
	}
}

// WithTestNetwork configures the simulated collaborator.
func WithTestNetwork(opts memproto.Options) TestServerOption {
	return func(o *testServerOptions) {
		o.network = opts
	}
}

// WithTestLogger supplies the server logger.
func WithTestLogger(logger pslog.Logger) TestServerOption {
	return func(o *testServerOptions) {
		o.logger = logger
	}
}

// WithTestLoggerFromTB routes server logs through t at level.
func WithTestLoggerFromTB(t testing.TB, level pslog.Level) TestServerOption {
	return func(o *testServerOptions) {
		o.testTB = t
		o.testLogLevel = level
	}
}

// WithoutTestClient skips creating and logging in the default client.
func WithoutTestClient() TestServerOption {
	return func(o *testServerOptions) {
		o.disableClient = true
	}
}

// WithTestStartTimeout bounds server start.
func WithTestStartTimeout(d time.Duration) TestServerOption {
	return func(o *testServerOptions) {
		o.startTimeout = d
	}
}

// NewTestServer starts a relayd server on a loopback port backed by a fresh
// simulated network.
func NewTestServer(ctx context.Context, opts ...TestServerOption) (*TestServer, error) {
	options := testServerOptions{
		cfg: Config{
			Listen:       "127.0.0.1:0",
			ListenProto:  "tcp",
			JWTSecret:    TestJWTSecret,
			AuthUsername: TestUsername,
			AuthPassword: TestPassword,
			PairingWait:  2 * time.Second,
		},
		startTimeout: 5 * time.Second,
		testLogLevel: pslog.DebugLevel,
	}
	for _, opt := range opts {
		opt(&options)
	}
	cfg := options.cfg
	for _, mut := range options.mutators {
		mut(&cfg)
	}
	if cfg.ListenProto == "" {
		cfg.ListenProto = "tcp"
	}
	if cfg.ListenProto != "unix" && cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:0"
	}
	cfg.Protocol = DefaultProtocol

	logger := options.logger
	if logger == nil {
		if options.testTB != nil {
			logger = NewTestingLogger(options.testTB, options.testLogLevel)
		} else {
			logger = pslog.NoopLogger()
		}
	}
	netOpts := options.network
	if netOpts.Logger == nil {
		netOpts.Logger = logger
	}
	network := memproto.New(netOpts)

	if ctx == nil {
		ctx = context.Background()
	}
	startOpts := []Option{WithLogger(logger), WithProtocol(network)}
	if netOpts.Clock != nil {
		startOpts = append(startOpts, WithClock(netOpts.Clock))
	}
	serverCtx, cancelServer := context.WithCancel(context.Background())
	type startResult struct {
		srv  *Server
		stop func(context.Context) error
		err  error
	}
	resultCh := make(chan startResult, 1)
	go func() {
		srv, stop, err := StartServer(serverCtx, cfg, startOpts...)
		resultCh <- startResult{srv: srv, stop: stop, err: err}
	}()
	var res startResult
	select {
	case res = <-resultCh:
	case <-time.After(options.startTimeout):
		cancelServer()
		res = <-resultCh
		if res.err == nil {
			res.err = fmt.Errorf("test server start timeout after %s", options.startTimeout)
		}
	case <-ctx.Done():
		cancelServer()
		res = <-resultCh
		if res.err == nil {
			res.err = ctx.Err()
		}
	}
	if res.err != nil {
		cancelServer()
		_ = network.Close()
		return nil, res.err
	}
	srv := res.srv
	stop := func(stopCtx context.Context) error {
		err := res.stop(stopCtx)
		cancelServer()
		return err
	}
	addr := srv.ListenerAddr()
	if addr == nil {
		_ = stop(context.Background())
		return nil, fmt.Errorf("test server: listener not initialised")
	}
	ts := &TestServer{
		Server:   srv,
		BaseURL:  computeBaseURL(cfg, addr),
		Listener: addr,
		Config:   cfg,
		Network:  network,
		stop:     stop,
	}
	if !options.disableClient {
		cli, err := client.New(ts.BaseURL, client.WithLogger(logger))
		if err != nil {
			_ = stop(context.Background())
			return nil, err
		}
		if cfg.AuthUsername != "" {
			if _, err := cli.Login(ctx, cfg.AuthUsername, cfg.AuthPassword); err != nil {
				_ = stop(context.Background())
				return nil, fmt.Errorf("test server: login: %w", err)
			}
		}
		ts.Client = cli
	}
	return ts, nil
}

// StartTestServer is a convenience wrapper that fails the test on error and registers cleanup.
func StartTestServer(t testing.TB, opts ...TestServerOption) *TestServer {
	t.Helper()
	ts, err := NewTestServer(context.Background(), opts...)
	if err != nil {
		t.Fatalf("start test server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ts.Stop(ctx); err != nil {
			t.Errorf("stop test server: %v", err)
		}
	})
	return ts
}

func computeBaseURL(cfg Config, addr net.Addr) string {
	if cfg.ListenProto == "unix" {
		return "unix://" + cfg.Listen
	}
	scheme := "http"
	if cfg.TLSEnabled() {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, addr.String())
}
