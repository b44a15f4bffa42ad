package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/pslog"
	"pkt.systems/relayd/internal/protocol"
)

type fakeSidecar struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conn    *websocket.Conn
	auth    string
	writeMu sync.Mutex
}

func (s *fakeSidecar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Errorf("upgrade: %v", err)
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.auth = r.Header.Get("Authorization")
	s.mu.Unlock()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.t.Errorf("decode command: %v", err)
			return
		}
		s.respond(conn, cmd)
	}
}

func (s *fakeSidecar) respond(conn *websocket.Conn, cmd command) {
	reply := frame{Type: frameReply, ID: cmd.ID, OK: true}
	switch cmd.Op {
	case opConnect:
		s.send(conn, reply)
		s.send(conn, frame{Type: frameQR, QR: "qr-payload-1"})
		return
	case opSendText:
		reply.MessageID = "srv-" + cmd.Text
	case opSendAudio:
		if cmd.To == "blocked@s.whatsapp.net" {
			reply.OK = false
			reply.Error = "recipient blocked"
		} else {
			reply.MessageID = "srv-audio"
		}
	case opCheckNumber:
		reply.Registered = cmd.To == "1@s.whatsapp.net"
	case opFetchMedia:
		if cmd.MessageID == "a1" {
			reply.Data = []byte("opus-bytes")
			reply.MimeType = "audio/ogg"
		}
	case opLogout:
		s.send(conn, reply)
		s.send(conn, frame{Type: frameClose, Reason: string(protocol.ReasonLoggedOut)})
		return
	}
	s.send(conn, reply)
}

func (s *fakeSidecar) send(conn *websocket.Conn, f frame) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(f); err != nil {
		s.t.Logf("sidecar write: %v", err)
	}
}

func (s *fakeSidecar) push(f frame) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.t.Fatalf("no sidecar connection")
	}
	s.send(conn, f)
}

func (s *fakeSidecar) drop() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func newBridge(t *testing.T) (*Client, *fakeSidecar) {
	t.Helper()
	sidecar := &fakeSidecar{t: t}
	srv := httptest.NewServer(sidecar)
	t.Cleanup(srv.Close)
	client, err := New(Options{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/bridge",
		Token:  "sidecar-secret",
		Logger: pslog.NewStructured(context.Background(), io.Discard),
		Backoff: Backoff{
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
			MaxAttempts:  3,
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, sidecar
}

func nextEvent(t *testing.T, c *Client) protocol.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatalf("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return nil
}

func TestConnectEmitsPairingAndOpen(t *testing.T) {
	c, sidecar := newBridge(t)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ev, ok := nextEvent(t, c).(protocol.PairingRequired)
	if !ok || ev.Code != "qr-payload-1" {
		t.Fatalf("expected pairing event, got %#v", ev)
	}
	if c.PairingCode() != "qr-payload-1" {
		t.Fatalf("pairing code %q", c.PairingCode())
	}
	sidecar.mu.Lock()
	auth := sidecar.auth
	sidecar.mu.Unlock()
	if auth != "Bearer sidecar-secret" {
		t.Fatalf("authorization header %q", auth)
	}

	sidecar.push(frame{Type: frameOpen, Me: "5@s.whatsapp.net"})
	open, ok := nextEvent(t, c).(protocol.Connected)
	if !ok || open.Self != "5@s.whatsapp.net" {
		t.Fatalf("expected connected event, got %#v", open)
	}
	if status, _ := c.Status(ctx); status != protocol.ConnOpen {
		t.Fatalf("status %q", status)
	}
	if c.PairingCode() != "" {
		t.Fatalf("pairing code should clear on open")
	}
}

func TestCommandsRoundTrip(t *testing.T) {
	c, _ := newBridge(t)
	ctx := context.Background()

	id, err := c.SendText(ctx, "1@s.whatsapp.net", "hello")
	if err != nil || id != "srv-hello" {
		t.Fatalf("send text: id=%q err=%v", id, err)
	}
	id, err = c.SendAudio(ctx, "1@s.whatsapp.net", []byte{1, 2, 3}, "audio/ogg")
	if err != nil || id != "srv-audio" {
		t.Fatalf("send audio: id=%q err=%v", id, err)
	}
	if _, err := c.SendAudio(ctx, "blocked@s.whatsapp.net", []byte{1}, "audio/ogg"); err == nil || !strings.Contains(err.Error(), "recipient blocked") {
		t.Fatalf("expected rejection, got %v", err)
	}
	ok, err := c.CheckNumber(ctx, "1@s.whatsapp.net")
	if err != nil || !ok {
		t.Fatalf("check number: ok=%v err=%v", ok, err)
	}
	media, err := c.FetchMedia(ctx, "a1")
	if err != nil || string(media.Data) != "opus-bytes" || media.MimeType != "audio/ogg" {
		t.Fatalf("fetch media: %+v err=%v", media, err)
	}
	if _, err := c.FetchMedia(ctx, "none"); !errors.Is(err, protocol.ErrMediaUnavailable) {
		t.Fatalf("expected ErrMediaUnavailable, got %v", err)
	}
}

func TestLogoutEmitsClose(t *testing.T) {
	c, _ := newBridge(t)
	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	ev, ok := nextEvent(t, c).(protocol.Disconnected)
	if !ok || ev.Reason != protocol.ReasonLoggedOut || ev.ShouldReconnect {
		t.Fatalf("unexpected event %#v", ev)
	}
}

func TestMessageFrame(t *testing.T) {
	c, sidecar := newBridge(t)
	if _, err := c.CheckNumber(context.Background(), "2@s.whatsapp.net"); err != nil {
		t.Fatalf("prime connection: %v", err)
	}
	sidecar.push(frame{Type: frameMessage, Message: &wireMessage{
		ID:        "m1",
		From:      "9@s.whatsapp.net",
		Timestamp: 1000,
		Type:      "audio",
		MimeType:  "audio/ogg",
		Size:      42,
	}})
	ev, ok := nextEvent(t, c).(protocol.MessageReceived)
	if !ok {
		t.Fatalf("expected message event, got %#v", ev)
	}
	msg := ev.Message
	if msg.ID != "m1" || msg.Kind != protocol.KindAudio || msg.Media == nil || msg.Media.Size != 42 {
		t.Fatalf("unexpected message %#v", msg)
	}
	if !msg.Timestamp.Equal(time.Unix(1000, 0)) {
		t.Fatalf("timestamp %v", msg.Timestamp)
	}
}

func TestConnectionLossEmitsBridgeLost(t *testing.T) {
	c, sidecar := newBridge(t)
	if _, err := c.CheckNumber(context.Background(), "2@s.whatsapp.net"); err != nil {
		t.Fatalf("prime connection: %v", err)
	}
	sidecar.drop()
	ev, ok := nextEvent(t, c).(protocol.Disconnected)
	if !ok || ev.Reason != protocol.ReasonBridgeLost || !ev.ShouldReconnect {
		t.Fatalf("unexpected event %#v", ev)
	}
	if _, err := c.SendText(context.Background(), "1@s.whatsapp.net", "again"); err != nil {
		t.Fatalf("expected redial on next command, got %v", err)
	}
}

func TestDialGivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()
	c, err := New(Options{
		URL:     url,
		Backoff: Backoff{InitialDelay: time.Millisecond, Multiplier: 1, MaxAttempts: 2},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()
	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected dial error")
	}
	if status, _ := c.Status(context.Background()); status != protocol.ConnClosed {
		t.Fatalf("status %q want close", status)
	}
}

func TestCloseFailsCommands(t *testing.T) {
	c, _ := newBridge(t)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := c.SendText(context.Background(), "1@s.whatsapp.net", "x"); !errors.Is(err, protocol.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, ok := <-c.Events(); ok {
		t.Fatalf("expected closed event channel")
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"http://example.com", "ws://", "::"} {
		if _, err := New(Options{URL: raw}); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestNextBackoffDelay(t *testing.T) {
	cfg := Backoff{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
	for i, w := range want {
		if got := NextBackoffDelay(cfg, i+1, nil); got != w {
			t.Fatalf("attempt %d: got %s want %s", i+1, got, w)
		}
	}
	cfg.Jitter = true
	rng := rand.New(rand.NewSource(1))
	for attempt := 1; attempt <= 5; attempt++ {
		got := NextBackoffDelay(cfg, attempt, rng)
		if got < 50*time.Millisecond || got > 1500*time.Millisecond {
			t.Fatalf("jittered delay %s out of range", got)
		}
	}
}
