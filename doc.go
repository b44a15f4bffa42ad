// Package relayd exposes the Go APIs behind a single-binary REST gateway for a
// phone-linked messaging account. One server owns one logical session: it
// drives pairing through a QR code, buffers inbound messages in memory, sends
// text and audio, and serves inbound audio back over HTTP. Every route except
// login, the probes and the audio stream requires a bearer token.
//
// # Running a server
//
// The server listens on `Config.ListenProto` (default `tcp`) and
// `Config.Listen` (default `:8080`). `Config.Protocol` selects the messaging
// collaborator: `mem://` runs the simulated in-process network, `ws://` and
// `wss://` dial a protocol bridge.
//
//	cfg := relayd.Config{
//	    Protocol:     "wss://bridge.internal/ws",
//	    JWTSecret:    os.Getenv("RELAYD_JWT_SECRET"),
//	    AuthUsername: "operator",
//	    AuthPassword: os.Getenv("RELAYD_AUTH_PASSWORD"),
//	    MaxMessages:  1000,
//	}
//	srv, err := relayd.NewServer(cfg)
//	if err != nil { log.Fatal(err) }
//	go func() {
//	    if err := srv.Start(); err != nil {
//	        log.Fatalf("relayd: %v", err)
//	    }
//	}()
//	defer srv.Shutdown(context.Background())
//
// `StartServer` wraps the same flow and returns once the listener is ready,
// together with a stop function.
//
// # Credentials
//
// Operators authenticate with either a single static username/password pair
// or a YAML users file of bcrypt hashes (`relayd auth hash-password` prints
// entries). The users file is watched and reloaded when it changes. Both can
// be configured at once; the static pair is tried first.
//
// # Inbound buffer
//
// Inbound messages are kept in arrival order and deduplicated by id.
// `Config.MaxMessages` bounds the buffer (oldest evicted first) and
// `Config.MessageRetention` lets a background sweeper drop messages older
// than the window. Both default to off, which keeps everything until the
// buffer is cleared.
//
// # Unix domain sockets
//
// For same-host sidecars set `ListenProto` to "unix" and `Listen` to a socket
// path. Stale sockets are removed on start and the socket is unlinked on
// shutdown. The client SDK accepts `unix:///path/to/relayd.sock` base URLs.
//
// # Observability
//
// Trace export is enabled by `Config.OTLPEndpoint` (grpc://, grpcs://,
// http://, https:// or a bare host:port for insecure gRPC). `MetricsListen`
// serves Prometheus metrics, `EnableProfilingMetrics` adds Go runtime
// metrics, and `PprofListen` exposes net/http/pprof.
//
// # Testing
//
// `StartTestServer` runs a server on a loopback port backed by a fresh
// simulated network and returns a logged in client:
//
//	ts := relayd.StartTestServer(t)
//	if err := ts.Connect(ctx); err != nil { t.Fatal(err) }
//	sent, err := ts.Client.SendText(ctx, "5491100000000", "hola")
//
// `TestServer.Network` drives the simulated side of the conversation:
// pairing, inbound deliveries and injected failures.
package relayd
