package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/relayd/internal/clock"
	"pkt.systems/relayd/internal/protocol"
	"pkt.systems/relayd/internal/protocol/memproto"
)

func newTestSession(t *testing.T, opts memproto.Options, sessOpts ...Option) (*Session, *memproto.Network) {
	t.Helper()
	net := memproto.New(opts)
	logger := pslog.NewStructured(context.Background(), io.Discard)
	sessOpts = append([]Option{WithLogger(logger), WithPairingWait(2 * time.Second)}, sessOpts...)
	s := New(net, sessOpts...)
	s.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, net
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

func connectSession(t *testing.T, s *Session) {
	t.Helper()
	res := s.Initialize(context.Background())
	if !res.OK {
		t.Fatalf("initialize failed: %+v", res)
	}
	waitFor(t, "connected", func() bool { return s.Status().Phase == PhaseConnected })
}

func TestInitializeReturnsPairingCode(t *testing.T) {
	s, net := newTestSession(t, memproto.Options{})
	res := s.Initialize(context.Background())
	if !res.OK || res.Status.Phase != PhaseAwaitingPairing || res.Status.PairingCode == "" {
		t.Fatalf("unexpected start result %+v", res)
	}
	again := s.Initialize(context.Background())
	if again.Status.PairingCode != res.Status.PairingCode {
		t.Fatalf("second initialize returned %q want %q", again.Status.PairingCode, res.Status.PairingCode)
	}
	if calls := net.ConnectCalls(); calls != 1 {
		t.Fatalf("connect called %d times", calls)
	}
}

func TestInitializeConcurrentSharesAttempt(t *testing.T) {
	s, net := newTestSession(t, memproto.Options{})
	const callers = 8
	codes := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = s.Initialize(context.Background()).Status.PairingCode
		}(i)
	}
	wg.Wait()
	for i := 1; i < callers; i++ {
		if codes[i] == "" || codes[i] != codes[0] {
			t.Fatalf("caller %d saw code %q, caller 0 saw %q", i, codes[i], codes[0])
		}
	}
	if calls := net.ConnectCalls(); calls != 1 {
		t.Fatalf("connect called %d times", calls)
	}
}

func TestInitializeResumesAndIsIdempotent(t *testing.T) {
	s, net := newTestSession(t, memproto.Options{Paired: true, Self: "77@s.whatsapp.net"})
	res := s.Initialize(context.Background())
	if !res.OK || res.Status.Phase != PhaseConnected {
		t.Fatalf("expected connected, got %+v", res)
	}
	if res.Status.Self != "77@s.whatsapp.net" {
		t.Fatalf("self %q", res.Status.Self)
	}
	again := s.Initialize(context.Background())
	if !again.OK || !again.AlreadyConnected {
		t.Fatalf("expected already connected, got %+v", again)
	}
	if net.ConnectCalls() != 1 {
		t.Fatalf("connect called %d times", net.ConnectCalls())
	}
}

func TestPairingCompletesConnection(t *testing.T) {
	s, net := newTestSession(t, memproto.Options{})
	s.Initialize(context.Background())
	if !net.Pair() {
		t.Fatalf("pair failed")
	}
	waitFor(t, "connected", func() bool { return s.Status().Phase == PhaseConnected })
	if st := s.Status(); st.PairingCode != "" || st.Error != "" || st.Connecting {
		t.Fatalf("connected status not clean: %+v", st)
	}
}

func TestInitializeFailureMovesToError(t *testing.T) {
	s, net := newTestSession(t, memproto.Options{})
	net.Fail(memproto.OpConnect, errors.New("socket refused"))
	res := s.Initialize(context.Background())
	if res.OK || res.Reason != ReasonInitFailed {
		t.Fatalf("expected init failure, got %+v", res)
	}
	st := s.Status()
	if st.Phase != PhaseError || st.Error == "" || st.Connecting {
		t.Fatalf("unexpected status %+v", st)
	}
	net.Fail(memproto.OpConnect, nil)
	if res := s.Initialize(context.Background()); !res.OK {
		t.Fatalf("retry from error failed: %+v", res)
	}
	if st := s.Status(); st.Error != "" {
		t.Fatalf("error detail should clear on awaiting pairing: %+v", st)
	}
}

type silentClient struct {
	events   chan protocol.Event
	once     sync.Once
	connects atomic.Int32
}

func newSilentClient() *silentClient {
	return &silentClient{events: make(chan protocol.Event)}
}

func (c *silentClient) Connect(context.Context) error {
	c.connects.Add(1)
	return nil
}
func (c *silentClient) Status(context.Context) (protocol.ConnStatus, error) {
	return protocol.ConnConnecting, nil
}
func (c *silentClient) PairingCode() string           { return "" }
func (c *silentClient) Logout(context.Context) error  { return nil }
func (c *silentClient) Events() <-chan protocol.Event { return c.events }
func (c *silentClient) Close() error {
	c.once.Do(func() { close(c.events) })
	return nil
}
func (c *silentClient) CheckNumber(context.Context, string) (bool, error) {
	return false, nil
}
func (c *silentClient) SendText(context.Context, string, string) (string, error) {
	return "", errors.New("unexpected send")
}
func (c *silentClient) SendAudio(context.Context, string, []byte, string) (string, error) {
	return "", errors.New("unexpected send")
}
func (c *silentClient) FetchMedia(context.Context, string) (protocol.Media, error) {
	return protocol.Media{}, protocol.ErrMediaUnavailable
}

func TestInitializeWaitIsBounded(t *testing.T) {
	client := newSilentClient()
	s := New(client, WithPairingWait(30*time.Millisecond))
	s.Start()
	defer s.Close(context.Background())
	start := time.Now()
	res := s.Initialize(context.Background())
	if !res.OK || !res.Pending {
		t.Fatalf("expected pending result, got %+v", res)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("initialize blocked for %s", time.Since(start))
	}
	if got := s.Status().Label(); got != "connecting" {
		t.Fatalf("label %q want connecting", got)
	}
}

func TestSilentAttemptExpires(t *testing.T) {
	client := newSilentClient()
	s := New(client, WithInitTimeout(50*time.Millisecond), WithPairingWait(10*time.Millisecond))
	s.Start()
	defer s.Close(context.Background())

	if res := s.Initialize(context.Background()); !res.Pending {
		t.Fatalf("expected pending result, got %+v", res)
	}
	waitFor(t, "attempt expiry", func() bool { return !s.Status().Connecting })
	st := s.Status()
	if st.Phase != PhaseError || st.Error != initTimeoutDetail {
		t.Fatalf("unexpected status after expiry %+v", st)
	}
	s.Initialize(context.Background())
	if got := client.connects.Load(); got != 2 {
		t.Fatalf("connect calls %d want 2", got)
	}
}

func TestInitializeRightAfterLogout(t *testing.T) {
	s, net := newTestSession(t, memproto.Options{Paired: true})
	connectSession(t, s)
	for i := 0; i < 200; i++ {
		if res := s.Logout(context.Background()); !res.OK {
			t.Fatalf("iteration %d: logout failed: %+v", i, res)
		}
		res := s.Initialize(context.Background())
		if !res.OK || res.Pending || res.Status.Phase != PhaseAwaitingPairing {
			t.Fatalf("iteration %d: initialize after logout: %+v", i, res)
		}
		if !net.Pair() {
			t.Fatalf("iteration %d: pair failed", i)
		}
		waitFor(t, "connected", func() bool { return s.Status().Phase == PhaseConnected })
	}
}

func TestMessageWithoutTimestampIsStamped(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	client := newSilentClient()
	s := New(client, WithClock(clk))
	s.Start()
	defer s.Close(context.Background())

	client.events <- protocol.MessageReceived{Message: protocol.Message{ID: "m1", From: "1@s.whatsapp.net", Kind: protocol.KindText, Text: "hola"}}
	waitFor(t, "recorded message", func() bool { return s.Buffer().Len() == 1 })

	msg, _ := s.Buffer().Get("m1")
	if !msg.Timestamp.Equal(clk.Now()) {
		t.Fatalf("timestamp %v want receive time %v", msg.Timestamp, clk.Now())
	}
	if n := s.Buffer().Sweep(clk.Now().Add(-time.Hour)); n != 0 {
		t.Fatalf("sweep dropped %d fresh messages", n)
	}
	if got := s.Buffer().Select(clk.Now().Add(-time.Minute), 0); len(got) != 1 {
		t.Fatalf("since filter returned %d messages", len(got))
	}
}

func TestLogoutFromConnected(t *testing.T) {
	s, _ := newTestSession(t, memproto.Options{Paired: true})
	connectSession(t, s)
	res := s.Logout(context.Background())
	if !res.OK {
		t.Fatalf("logout failed: %+v", res)
	}
	st := s.Status()
	if st.Phase != PhaseDisconnected || st.PairingCode != "" {
		t.Fatalf("unexpected status after logout %+v", st)
	}
}

func TestLogoutWithoutSession(t *testing.T) {
	s, _ := newTestSession(t, memproto.Options{})
	before := s.Status()
	res := s.Logout(context.Background())
	if res.OK || res.Reason != ReasonNotConnected {
		t.Fatalf("expected not connected, got %+v", res)
	}
	if after := s.Status(); after.Phase != before.Phase || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("logout without session changed state")
	}
}

func TestSendWhileDisconnectedNeverReachesClient(t *testing.T) {
	s, net := newTestSession(t, memproto.Options{})
	text := s.SendText(context.Background(), "123", "hello")
	audio := s.SendAudio(context.Background(), "123", []byte{1}, "")
	for _, res := range []SendResult{text, audio} {
		if res.Delivered || res.Reason != ReasonNotConnected {
			t.Fatalf("expected not connected, got %+v", res)
		}
	}
	s.Initialize(context.Background())
	if res := s.SendText(context.Background(), "123", "hello"); res.Reason != ReasonNotConnected {
		t.Fatalf("awaiting pairing must not send, got %+v", res)
	}
	if sent := net.Sent(); len(sent) != 0 {
		t.Fatalf("client received %d sends", len(sent))
	}
}

func TestSendTextNormalizesRecipient(t *testing.T) {
	s, net := newTestSession(t, memproto.Options{Paired: true})
	connectSession(t, s)
	res := s.SendText(context.Background(), "5491112223344", "hola")
	if !res.Delivered || res.MessageID == "" {
		t.Fatalf("send failed: %+v", res)
	}
	sent := net.Sent()
	if len(sent) != 1 || sent[0].To != "5491112223344@s.whatsapp.net" {
		t.Fatalf("unexpected sent %#v", sent)
	}
}

func TestSendIgnoresCallerCancellation(t *testing.T) {
	s, net := newTestSession(t, memproto.Options{Paired: true})
	connectSession(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := s.SendAudio(ctx, "123", []byte("opus"), "")
	if !res.Delivered {
		t.Fatalf("send should run to completion: %+v", res)
	}
	if sent := net.Sent(); len(sent) != 1 || sent[0].MimeType != DefaultAudioMimeType {
		t.Fatalf("unexpected sent %#v", sent)
	}
}

func TestSendFailureIsTyped(t *testing.T) {
	s, net := newTestSession(t, memproto.Options{Paired: true})
	connectSession(t, s)
	net.Fail(memproto.OpSendText, errors.New("rate limited"))
	res := s.SendText(context.Background(), "123", "x")
	if res.Delivered || res.Reason != ReasonSendFailed || res.Detail == "" {
		t.Fatalf("expected send failure, got %+v", res)
	}
	if res := s.SendText(context.Background(), "", "x"); res.Reason != ReasonInvalidRecipient {
		t.Fatalf("expected invalid recipient, got %+v", res)
	}
}

func TestCheckNumber(t *testing.T) {
	s, _ := newTestSession(t, memproto.Options{Paired: true, Registered: []string{"5491112223344"}})
	if res := s.CheckNumber(context.Background(), "5491112223344"); res.Reason != ReasonNotConnected {
		t.Fatalf("expected not connected, got %+v", res)
	}
	connectSession(t, s)
	res := s.CheckNumber(context.Background(), "+5491112223344")
	if !res.OK || !res.Registered || res.To != "5491112223344@s.whatsapp.net" {
		t.Fatalf("unexpected check result %+v", res)
	}
	if res := s.CheckNumber(context.Background(), "1"); !res.OK || res.Registered {
		t.Fatalf("expected unregistered, got %+v", res)
	}
	if s.Status().Phase != PhaseConnected {
		t.Fatalf("check number mutated state")
	}
}

func TestMessagesAndAudio(t *testing.T) {
	s, net := newTestSession(t, memproto.Options{})
	net.Deliver(protocol.Message{ID: "t1", From: "1@s.whatsapp.net", Kind: protocol.KindText, Text: "hi"})
	net.Deliver(protocol.Message{ID: "t1", From: "1@s.whatsapp.net", Kind: protocol.KindText, Text: "hi"})
	net.Deliver(protocol.Message{
		ID:    "a1",
		From:  "1@s.whatsapp.net",
		Kind:  protocol.KindAudio,
		Media: &protocol.Media{MimeType: "audio/mpeg", Data: []byte("mp3")},
	})
	waitFor(t, "messages", func() bool { return s.Buffer().Len() == 2 })

	audio, err := s.Audio(context.Background(), "a1")
	if err != nil {
		t.Fatalf("audio: %v", err)
	}
	if audio.MimeType != "audio/mpeg" || string(audio.Data) != "mp3" {
		t.Fatalf("unexpected audio %+v", audio)
	}
	if _, err := s.Audio(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Audio(context.Background(), "t1"); !errors.Is(err, ErrNotAudio) {
		t.Fatalf("expected ErrNotAudio, got %v", err)
	}
	if n := s.Buffer().Clear(); n != 2 {
		t.Fatalf("clear returned %d", n)
	}
	if len(s.Buffer().List()) != 0 {
		t.Fatalf("expected empty buffer")
	}
}

func TestDisconnectClassificationAndReconnect(t *testing.T) {
	s, net := newTestSession(t, memproto.Options{Paired: true})
	connectSession(t, s)

	net.Drop(protocol.ReasonConnectionReplaced, false)
	waitFor(t, "error phase", func() bool { return s.Status().Phase == PhaseError })
	if st := s.Status(); st.Error == "" || st.Connecting {
		t.Fatalf("unexpected error status %+v", st)
	}

	connectSession(t, s)
	calls := net.ConnectCalls()
	net.Drop(protocol.ReasonConnectionLost, true)
	waitFor(t, "reconnect", func() bool {
		return net.ConnectCalls() > calls && s.Status().Phase == PhaseConnected
	})

	net.Drop(protocol.ReasonTimedOut, false)
	waitFor(t, "disconnected", func() bool { return s.Status().Phase == PhaseDisconnected })
}

func TestStatusLabel(t *testing.T) {
	cases := []struct {
		st   Status
		want string
	}{
		{Status{Phase: PhaseDisconnected}, "disconnected"},
		{Status{Phase: PhaseDisconnected, Connecting: true}, "connecting"},
		{Status{Phase: PhaseError, Connecting: true}, "connecting"},
		{Status{Phase: PhaseAwaitingPairing, Connecting: true}, "awaiting_pairing"},
		{Status{Phase: PhaseConnected}, "connected"},
		{Status{Phase: PhaseError}, "error"},
	}
	for _, tc := range cases {
		if got := tc.st.Label(); got != tc.want {
			t.Fatalf("%+v label=%q want %q", tc.st, got, tc.want)
		}
	}
}
