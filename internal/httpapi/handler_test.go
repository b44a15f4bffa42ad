package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/relayd/api"
	"pkt.systems/relayd/internal/auth"
	"pkt.systems/relayd/internal/clock"
	"pkt.systems/relayd/internal/correlation"
	"pkt.systems/relayd/internal/protocol"
	"pkt.systems/relayd/internal/protocol/memproto"
	"pkt.systems/relayd/internal/session"
)

const (
	testUser     = "operator"
	testPassword = "correct horse battery staple"
)

type testEnv struct {
	server  *httptest.Server
	net     *memproto.Network
	session *session.Session
	tokens  *auth.Issuer
	ready   *atomic.Bool
}

type envOption func(*Config)

func withAudioMax(n int64) envOption {
	return func(c *Config) { c.AudioMaxBytes = n }
}

func newTestEnv(t *testing.T, opts memproto.Options, envOpts ...envOption) *testEnv {
	t.Helper()
	logger := pslog.NewStructured(context.Background(), io.Discard)
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	network := memproto.New(opts)
	sess := session.New(network, session.WithLogger(logger), session.WithPairingWait(2*time.Second))
	sess.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sess.Close(ctx)
	})
	tokens, err := auth.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), "relayd", time.Hour, clk)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	ready := &atomic.Bool{}
	ready.Store(true)
	cfg := Config{
		Session:     sess,
		Credentials: auth.Static{Username: testUser, Password: testPassword},
		Tokens:      tokens,
		Logger:      logger,
		Version:     "test",
		Ready:       ready.Load,
	}
	for _, opt := range envOpts {
		opt(&cfg)
	}
	handler := New(cfg)
	mux := http.NewServeMux()
	handler.Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &testEnv{server: server, net: network, session: sess, tokens: tokens, ready: ready}
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	token, _, err := e.tokens.Issue(testUser)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (e *testEnv) connect(t *testing.T) {
	t.Helper()
	var resp api.SessionResponse
	if status := e.doJSON(t, http.MethodPost, "/session/start", e.token(t), nil, &resp); status != http.StatusOK {
		t.Fatalf("start: status %d", status)
	}
	if resp.Status != "connected" {
		e.net.Pair()
	}
	waitFor(t, "session connected", func() bool { return e.session.Status().Phase == session.PhaseConnected })
}

func (e *testEnv) doJSON(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	return e.doRaw(t, method, path, token, "application/json", reader, out)
}

func (e *testEnv) doRaw(t *testing.T, method, path, token, contentType string, body io.Reader, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, memproto.Options{})

	var login api.LoginResponse
	status := env.doJSON(t, http.MethodPost, "/auth/login", "", api.LoginRequest{Username: testUser, Password: testPassword}, &login)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if login.Token == "" || login.ExpiresAt == 0 {
		t.Fatalf("unexpected login response %+v", login)
	}
	if _, err := env.tokens.Verify(login.Token); err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}

	var errResp api.ErrorResponse
	status = env.doJSON(t, http.MethodPost, "/auth/login", "", api.LoginRequest{Username: testUser, Password: "nope"}, &errResp)
	if status != http.StatusUnauthorized || errResp.ErrorCode != "invalid_credentials" {
		t.Fatalf("expected 401 invalid_credentials, got %d %+v", status, errResp)
	}
	if errResp.Success {
		t.Fatal("error responses must report success=false")
	}
}

func TestLoginRejectsMalformedBodies(t *testing.T) {
	env := newTestEnv(t, memproto.Options{})
	cases := map[string]string{
		"empty":    ``,
		"unknown":  `{"username":"a","password":"b","admin":true}`,
		"missing":  `{"username":"a"}`,
		"trailing": `{"username":"a","password":"b"} {}`,
		"garbage":  `{"username":`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var errResp api.ErrorResponse
			status := env.doRaw(t, http.MethodPost, "/auth/login", "", "application/json", strings.NewReader(raw), &errResp)
			if status != http.StatusBadRequest || errResp.ErrorCode != "invalid_body" {
				t.Fatalf("expected 400 invalid_body, got %d %+v", status, errResp)
			}
		})
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, memproto.Options{})
	routes := []struct{ method, path string }{
		{http.MethodPost, "/session/start"},
		{http.MethodGet, "/session/status"},
		{http.MethodPost, "/session/logout"},
		{http.MethodGet, "/session/mensajes/recibidos"},
		{http.MethodDelete, "/session/mensajes/recibidos"},
		{http.MethodGet, "/session/mensajes/audio/abc/base64"},
		{http.MethodPost, "/message/check-number"},
		{http.MethodPost, "/message/send-text"},
		{http.MethodPost, "/message/enviar-audio-base64"},
		{http.MethodPost, "/message/enviar-audio-file"},
	}
	for _, route := range routes {
		var errResp api.ErrorResponse
		if status := env.doRaw(t, route.method, route.path, "", "", http.NoBody, &errResp); status != http.StatusUnauthorized || errResp.ErrorCode != "missing_token" {
			t.Fatalf("%s %s without token: %d %+v", route.method, route.path, status, errResp)
		}
		if status := env.doRaw(t, route.method, route.path, "not.a.jwt", "", http.NoBody, &errResp); status != http.StatusForbidden || errResp.ErrorCode != "invalid_token" {
			t.Fatalf("%s %s with bad token: %d %+v", route.method, route.path, status, errResp)
		}
	}
	if env.net.ConnectCalls() != 0 {
		t.Fatal("unauthenticated start must not reach the protocol client")
	}
}

func TestSessionStartReturnsPairingQR(t *testing.T) {
	env := newTestEnv(t, memproto.Options{})
	token := env.token(t)

	var first api.SessionResponse
	if status := env.doJSON(t, http.MethodPost, "/session/start", token, nil, &first); status != http.StatusOK {
		t.Fatalf("start: %d", status)
	}
	if first.Status != "awaiting_pairing" || first.QR == "" {
		t.Fatalf("expected pairing payload, got %+v", first)
	}
	if !strings.HasPrefix(first.QRBase64, "data:image/png;base64,") {
		t.Fatalf("qrBase64 is not a PNG data URL: %.40q", first.QRBase64)
	}

	var second api.SessionResponse
	env.doJSON(t, http.MethodPost, "/session/start", token, nil, &second)
	if second.QR != first.QR {
		t.Fatalf("second start returned a new pairing payload")
	}
	if env.net.ConnectCalls() != 1 {
		t.Fatalf("expected one connection attempt, got %d", env.net.ConnectCalls())
	}

	var st api.SessionResponse
	env.doJSON(t, http.MethodGet, "/session/status", token, nil, &st)
	if st.Status != "awaiting_pairing" || st.QR != first.QR {
		t.Fatalf("status mismatch %+v", st)
	}
	env.net.Pair()
	waitFor(t, "connected", func() bool { return env.session.Status().Phase == session.PhaseConnected })
	env.doJSON(t, http.MethodGet, "/session/status", token, nil, &st)
	if st.Status != "connected" || st.QR != "" || st.Me != memproto.DefaultSelf {
		t.Fatalf("connected status mismatch %+v", st)
	}
}

func TestSessionStartFailure(t *testing.T) {
	env := newTestEnv(t, memproto.Options{})
	env.net.Fail(memproto.OpConnect, errors.New("dial refused"))
	var errResp api.ErrorResponse
	status := env.doJSON(t, http.MethodPost, "/session/start", env.token(t), nil, &errResp)
	if status != http.StatusInternalServerError || errResp.ErrorCode != string(session.ReasonInitFailed) {
		t.Fatalf("expected 500 init_failed, got %d %+v", status, errResp)
	}
	var st api.SessionResponse
	env.doJSON(t, http.MethodGet, "/session/status", env.token(t), nil, &st)
	if st.Status != "error" || !strings.Contains(st.Error, "dial refused") {
		t.Fatalf("expected error status, got %+v", st)
	}
}

func TestSessionLogout(t *testing.T) {
	env := newTestEnv(t, memproto.Options{Paired: true})
	token := env.token(t)

	var errResp api.ErrorResponse
	if status := env.doJSON(t, http.MethodPost, "/session/logout", token, nil, &errResp); status != http.StatusBadRequest || errResp.ErrorCode != "not_connected" {
		t.Fatalf("logout before connect: %d %+v", status, errResp)
	}

	env.connect(t)
	var resp api.SessionResponse
	if status := env.doJSON(t, http.MethodPost, "/session/logout", token, nil, &resp); status != http.StatusOK {
		t.Fatalf("logout: %d", status)
	}
	if resp.Status != "disconnected" {
		t.Fatalf("expected disconnected after logout, got %+v", resp)
	}
}

func TestSendTextRequiresConnection(t *testing.T) {
	env := newTestEnv(t, memproto.Options{})
	var errResp api.ErrorResponse
	status := env.doJSON(t, http.MethodPost, "/message/send-text", env.token(t), api.SendTextRequest{To: "5491112223344", Message: "hola"}, &errResp)
	if status != http.StatusBadRequest || errResp.ErrorCode != "not_connected" {
		t.Fatalf("expected 400 not_connected, got %d %+v", status, errResp)
	}
	if len(env.net.Sent()) != 0 {
		t.Fatal("send reached the protocol client while disconnected")
	}
}

func TestSendTextNormalizesRecipient(t *testing.T) {
	env := newTestEnv(t, memproto.Options{Paired: true})
	env.connect(t)

	var resp api.SendResponse
	status := env.doJSON(t, http.MethodPost, "/message/send-text", env.token(t), api.SendTextRequest{To: "+54 9 11 1222-3344", Message: "hola"}, &resp)
	if status != http.StatusOK || !resp.Success {
		t.Fatalf("send: %d %+v", status, resp)
	}
	if resp.To != "5491112223344@s.whatsapp.net" || resp.MessageID == "" {
		t.Fatalf("unexpected send response %+v", resp)
	}
	sent := env.net.Sent()
	if len(sent) != 1 || sent[0].To != resp.To || sent[0].Text != "hola" {
		t.Fatalf("unexpected sent log %+v", sent)
	}
}

func TestSendTextFailure(t *testing.T) {
	env := newTestEnv(t, memproto.Options{Paired: true})
	env.connect(t)
	env.net.Fail(memproto.OpSendText, errors.New("upstream rejected"))
	var errResp api.ErrorResponse
	status := env.doJSON(t, http.MethodPost, "/message/send-text", env.token(t), api.SendTextRequest{To: "123", Message: "x"}, &errResp)
	if status != http.StatusInternalServerError || errResp.ErrorCode != "send_failed" {
		t.Fatalf("expected 500 send_failed, got %d %+v", status, errResp)
	}

	status = env.doJSON(t, http.MethodPost, "/message/send-text", env.token(t), api.SendTextRequest{To: " + ", Message: "x"}, &errResp)
	if status != http.StatusBadRequest || errResp.ErrorCode != "invalid_recipient" {
		t.Fatalf("expected 400 invalid_recipient, got %d %+v", status, errResp)
	}
}

func TestSendAudioBase64(t *testing.T) {
	env := newTestEnv(t, memproto.Options{Paired: true})
	env.connect(t)
	token := env.token(t)
	audio := []byte("OggS fake opus payload")

	var resp api.SendResponse
	req := api.SendAudioBase64Request{To: "111", Base64: "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(audio)}
	if status := env.doJSON(t, http.MethodPost, "/message/enviar-audio-base64", token, req, &resp); status != http.StatusOK {
		t.Fatalf("send audio: %d %+v", status, resp)
	}
	req = api.SendAudioBase64Request{To: "222", Base64: base64.RawStdEncoding.EncodeToString(audio)}
	if status := env.doJSON(t, http.MethodPost, "/message/enviar-audio-base64", token, req, &resp); status != http.StatusOK {
		t.Fatalf("send bare audio: %d %+v", status, resp)
	}

	sent := env.net.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sent))
	}
	if sent[0].MimeType != "audio/mpeg" || !bytes.Equal(sent[0].Data, audio) {
		t.Fatalf("data URL send mismatch %+v", sent[0])
	}
	if sent[1].MimeType != session.DefaultAudioMimeType || sent[1].Kind != protocol.KindAudio {
		t.Fatalf("bare send mismatch %+v", sent[1])
	}

	var errResp api.ErrorResponse
	req = api.SendAudioBase64Request{To: "111", Base64: "!!not base64!!"}
	if status := env.doJSON(t, http.MethodPost, "/message/enviar-audio-base64", token, req, &errResp); status != http.StatusBadRequest || errResp.ErrorCode != "invalid_audio" {
		t.Fatalf("expected invalid_audio, got %d %+v", status, errResp)
	}
}

func TestSendAudioBase64TooLarge(t *testing.T) {
	env := newTestEnv(t, memproto.Options{Paired: true}, withAudioMax(8))
	env.connect(t)
	var errResp api.ErrorResponse
	req := api.SendAudioBase64Request{To: "111", Base64: base64.StdEncoding.EncodeToString(make([]byte, 64))}
	status := env.doJSON(t, http.MethodPost, "/message/enviar-audio-base64", env.token(t), req, &errResp)
	if status != http.StatusRequestEntityTooLarge || errResp.ErrorCode != "payload_too_large" {
		t.Fatalf("expected 413, got %d %+v", status, errResp)
	}
	if len(env.net.Sent()) != 0 {
		t.Fatal("oversized audio must not be sent")
	}
}

func multipartAudio(t *testing.T, to, field, partType string, data []byte) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if to != "" {
		if err := mw.WriteField(api.FormFieldTo, to); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if field != "" {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="note.ogg"`)
		hdr.Set("Content-Type", partType)
		part, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return mw.FormDataContentType(), &buf
}

func TestSendAudioFile(t *testing.T) {
	env := newTestEnv(t, memproto.Options{Paired: true})
	env.connect(t)
	token := env.token(t)
	audio := []byte("voice note bytes")

	ct, body := multipartAudio(t, "5491100000000", api.FormFieldAudio, "audio/ogg", audio)
	var resp api.SendResponse
	if status := env.doRaw(t, http.MethodPost, "/message/enviar-audio-file", token, ct, body, &resp); status != http.StatusOK {
		t.Fatalf("upload: %d %+v", status, resp)
	}
	ct, body = multipartAudio(t, "5491100000000", api.FormFieldFile, "application/octet-stream", audio)
	if status := env.doRaw(t, http.MethodPost, "/message/enviar-audio-file", token, ct, body, &resp); status != http.StatusOK {
		t.Fatalf("upload via file field: %d %+v", status, resp)
	}
	sent := env.net.Sent()
	if len(sent) != 2 || sent[0].MimeType != "audio/ogg" || sent[1].MimeType != session.DefaultAudioMimeType {
		t.Fatalf("unexpected sends %+v", sent)
	}
	if !bytes.Equal(sent[0].Data, audio) {
		t.Fatalf("payload mismatch")
	}

	var errResp api.ErrorResponse
	ct, body = multipartAudio(t, "5491100000000", "", "", nil)
	if status := env.doRaw(t, http.MethodPost, "/message/enviar-audio-file", token, ct, body, &errResp); status != http.StatusBadRequest {
		t.Fatalf("expected 400 without file, got %d", status)
	}
	ct, body = multipartAudio(t, "", api.FormFieldAudio, "audio/ogg", audio)
	if status := env.doRaw(t, http.MethodPost, "/message/enviar-audio-file", token, ct, body, &errResp); status != http.StatusBadRequest {
		t.Fatalf("expected 400 without recipient, got %d", status)
	}
	if status := env.doRaw(t, http.MethodPost, "/message/enviar-audio-file", token, "application/json", strings.NewReader(`{}`), &errResp); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for non multipart body, got %d", status)
	}
}

func TestCheckNumber(t *testing.T) {
	env := newTestEnv(t, memproto.Options{Paired: true, Registered: []string{"5491100000000"}})
	token := env.token(t)

	var errResp api.ErrorResponse
	if status := env.doJSON(t, http.MethodPost, "/message/check-number", token, api.CheckNumberRequest{To: "5491100000000"}, &errResp); status != http.StatusBadRequest || errResp.ErrorCode != "not_connected" {
		t.Fatalf("expected not_connected, got %d %+v", status, errResp)
	}

	env.connect(t)
	var resp api.CheckNumberResponse
	env.doJSON(t, http.MethodPost, "/message/check-number", token, api.CheckNumberRequest{To: "+54 9 11 0000 0000"}, &resp)
	if !resp.Success || !resp.Registered || resp.To != "5491100000000@s.whatsapp.net" {
		t.Fatalf("unexpected response %+v", resp)
	}
	env.net.Fail(memproto.OpCheckNumber, errors.New("lookup failed"))
	var errResp500 api.ErrorResponse
	if status := env.doJSON(t, http.MethodPost, "/message/check-number", token, api.CheckNumberRequest{To: "123"}, &errResp500); status != http.StatusInternalServerError || errResp500.ErrorCode != "check_failed" {
		t.Fatalf("expected 500 check_failed, got %d %+v", status, errResp500)
	}
	env.net.Fail(memproto.OpCheckNumber, nil)
	env.doJSON(t, http.MethodPost, "/message/check-number", token, api.CheckNumberRequest{To: "123"}, &resp)
	if resp.Registered {
		t.Fatalf("expected unregistered, got %+v", resp)
	}
}

func deliverBoth(t *testing.T, env *testEnv, audio []byte) {
	t.Helper()
	env.net.Deliver(protocol.Message{
		ID:        "text-1",
		From:      "5491112223344@s.whatsapp.net",
		Timestamp: time.Unix(1_700_000_100, 0),
		Kind:      protocol.KindText,
		Text:      "hola",
	})
	env.net.Deliver(protocol.Message{
		ID:        "audio-1",
		From:      "5491112223344@s.whatsapp.net",
		Timestamp: time.Unix(1_700_000_200, 0),
		Kind:      protocol.KindAudio,
		Media:     &protocol.Media{MimeType: "audio/ogg; codecs=opus", Data: audio},
	})
	waitFor(t, "messages buffered", func() bool { return env.session.Buffer().Len() == 2 })
}

func TestMessagesListAndClear(t *testing.T) {
	env := newTestEnv(t, memproto.Options{Paired: true})
	env.connect(t)
	token := env.token(t)
	deliverBoth(t, env, []byte("opus"))

	var list api.MessagesResponse
	if status := env.doJSON(t, http.MethodGet, "/session/mensajes/recibidos", token, nil, &list); status != http.StatusOK {
		t.Fatalf("list: %d", status)
	}
	if len(list.Mensajes) != 2 || list.Mensajes[0].ID != "text-1" || list.Mensajes[1].ID != "audio-1" {
		t.Fatalf("unexpected list %+v", list)
	}
	if list.Mensajes[0].Text != "hola" || list.Mensajes[1].Type != "audio" || list.Mensajes[1].Size != 4 {
		t.Fatalf("unexpected message fields %+v", list.Mensajes)
	}

	env.doJSON(t, http.MethodGet, "/session/mensajes/recibidos?since=1700000150", token, nil, &list)
	if len(list.Mensajes) != 1 || list.Mensajes[0].ID != "audio-1" {
		t.Fatalf("since filter mismatch %+v", list)
	}
	env.doJSON(t, http.MethodGet, "/session/mensajes/recibidos?limit=1", token, nil, &list)
	if len(list.Mensajes) != 1 {
		t.Fatalf("limit mismatch %+v", list)
	}
	var errResp api.ErrorResponse
	if status := env.doJSON(t, http.MethodGet, "/session/mensajes/recibidos?limit=-2", token, nil, &errResp); status != http.StatusBadRequest || errResp.ErrorCode != "invalid_query" {
		t.Fatalf("expected invalid_query, got %d %+v", status, errResp)
	}

	var cleared api.ClearResponse
	if status := env.doJSON(t, http.MethodDelete, "/session/mensajes/recibidos", token, nil, &cleared); status != http.StatusOK || cleared.Cleared != 2 {
		t.Fatalf("clear: %d %+v", status, cleared)
	}
	env.doJSON(t, http.MethodGet, "/session/mensajes/recibidos", token, nil, &list)
	if list.Mensajes == nil || len(list.Mensajes) != 0 {
		t.Fatalf("expected empty non-null list, got %+v", list)
	}
}

func TestAudioRetrieval(t *testing.T) {
	env := newTestEnv(t, memproto.Options{Paired: true})
	env.connect(t)
	audio := []byte("opus frames")
	deliverBoth(t, env, audio)

	resp, err := http.Get(env.server.URL + "/session/mensajes/audio/audio-1")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !bytes.Equal(data, audio) {
		t.Fatalf("stream mismatch: %d %q", resp.StatusCode, data)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/ogg; codecs=opus" {
		t.Fatalf("content type %q", ct)
	}

	var b64 api.AudioBase64Response
	if status := env.doJSON(t, http.MethodGet, "/session/mensajes/audio/audio-1/base64", env.token(t), nil, &b64); status != http.StatusOK {
		t.Fatalf("base64: %d", status)
	}
	decoded, err := base64.StdEncoding.DecodeString(b64.Base64)
	if err != nil || !bytes.Equal(decoded, audio) || b64.MimeType != "audio/ogg; codecs=opus" {
		t.Fatalf("base64 mismatch %+v", b64)
	}

	var errResp api.ErrorResponse
	if status := env.doJSON(t, http.MethodGet, "/session/mensajes/audio/missing", "", nil, &errResp); status != http.StatusNotFound || errResp.ErrorCode != "not_found" {
		t.Fatalf("expected 404 not_found, got %d %+v", status, errResp)
	}
	if status := env.doJSON(t, http.MethodGet, "/session/mensajes/audio/text-1", "", nil, &errResp); status != http.StatusNotFound || errResp.ErrorCode != "not_audio" {
		t.Fatalf("expected 404 not_audio, got %d %+v", status, errResp)
	}

	env.net.Fail(memproto.OpFetchMedia, errors.New("cdn down"))
	if status := env.doJSON(t, http.MethodGet, "/session/mensajes/audio/audio-1", "", nil, &errResp); status != http.StatusInternalServerError || errResp.ErrorCode != "internal_error" {
		t.Fatalf("expected 500 internal_error, got %d %+v", status, errResp)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t, memproto.Options{})
	var health api.HealthResponse
	if status := env.doJSON(t, http.MethodGet, "/healthz", "", nil, &health); status != http.StatusOK || health.Status != "ok" {
		t.Fatalf("healthz: %d %+v", status, health)
	}
	var ready api.HealthResponse
	if status := env.doJSON(t, http.MethodGet, "/readyz", "", nil, &ready); status != http.StatusOK || ready.Session != "disconnected" {
		t.Fatalf("readyz: %d %+v", status, ready)
	}
	env.ready.Store(false)
	if status := env.doJSON(t, http.MethodGet, "/readyz", "", nil, &ready); status != http.StatusServiceUnavailable || ready.Success {
		t.Fatalf("readyz not ready: %d %+v", status, ready)
	}
}

func TestSwaggerDoc(t *testing.T) {
	env := newTestEnv(t, memproto.Options{})
	var doc map[string]any
	if status := env.doJSON(t, http.MethodGet, "/swagger/doc.json", "", nil, &doc); status != http.StatusOK {
		t.Fatalf("swagger doc: %d", status)
	}
	paths, ok := doc["paths"].(map[string]any)
	if !ok {
		t.Fatalf("doc has no paths: %v", doc)
	}
	for _, p := range []string{"/auth/login", "/session/start", "/message/send-text", "/session/mensajes/audio/{id}"} {
		if _, ok := paths[p]; !ok {
			t.Fatalf("doc is missing %s", p)
		}
	}
}

func TestCorrelationHeaderEchoed(t *testing.T) {
	env := newTestEnv(t, memproto.Options{})
	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/healthz", http.NoBody)
	req.Header.Set(correlation.Header, "trace-abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(correlation.Header); got != "trace-abc-123" {
		t.Fatalf("expected echoed correlation id, got %q", got)
	}

	resp, err = http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get(correlation.Header) == "" {
		t.Fatal("expected generated correlation id")
	}
}
