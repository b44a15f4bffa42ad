// Package client provides the Go SDK for the relayd REST API. It mirrors the
// CLI behaviour while exposing a typed API for bots, schedulers and operator
// tooling.
//
// # Quick start
//
// Construct a client with `client.New`. The URL scheme decides the transport:
//
//   - https://host:8080 for TLS listeners
//   - http://host:8080 for plaintext on trusted networks (the default for bare host:port)
//   - unix:///path/to/relayd.sock when the server listens on a local socket
//
// Log in once; the token is remembered and attached to every later request:
//
//	ctx := context.Background()
//	cli, err := client.New("http://127.0.0.1:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := cli.Login(ctx, "operator", os.Getenv("RELAYD_PASSWORD")); err != nil {
//	    log.Fatal(err)
//	}
//	st, err := cli.StartSession(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if st.Status == "awaiting_pairing" {
//	    fmt.Println("scan:", st.QR)
//	}
//
// A token obtained out of band (for example from `relayd auth token`) can be
// supplied with WithToken instead of calling Login.
//
// # Errors
//
// Non-2xx responses are returned as *APIError carrying the HTTP status and
// the decoded error envelope:
//
//	_, err := cli.SendText(ctx, "5491112223344", "hola")
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.Response.ErrorCode == "not_connected" {
//	    // start a session first
//	}
//
// # Correlation
//
// Requests carry the X-Correlation-Id header when the context was annotated
// with WithCorrelationID, so client and server logs can be joined.
package client
