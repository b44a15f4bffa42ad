package memproto

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"pkt.systems/relayd/internal/clock"
	"pkt.systems/relayd/internal/protocol"
)

func nextEvent(t *testing.T, n *Network) protocol.Event {
	t.Helper()
	select {
	case ev, ok := <-n.Events():
		if !ok {
			t.Fatalf("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return nil
}

func TestConnectIssuesPairingCodeThenPair(t *testing.T) {
	n := New(Options{})
	defer n.Close()
	ctx := context.Background()

	if err := n.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ev, ok := nextEvent(t, n).(protocol.PairingRequired)
	if !ok || ev.Code == "" {
		t.Fatalf("expected pairing event, got %#v", ev)
	}
	if got := n.PairingCode(); got != ev.Code {
		t.Fatalf("pairing code %q want %q", got, ev.Code)
	}
	if status, _ := n.Status(ctx); status != protocol.ConnConnecting {
		t.Fatalf("status %q", status)
	}
	if !n.Pair() {
		t.Fatalf("pair returned false")
	}
	if _, ok := nextEvent(t, n).(protocol.Connected); !ok {
		t.Fatalf("expected connected event")
	}
	if n.PairingCode() != "" {
		t.Fatalf("pairing code should clear once connected")
	}
	if n.Pair() {
		t.Fatalf("second pair should report false")
	}
}

func TestConnectResumesWithStoredCredentials(t *testing.T) {
	n := New(Options{Paired: true, Self: "99@s.whatsapp.net"})
	defer n.Close()
	if err := n.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ev, ok := nextEvent(t, n).(protocol.Connected)
	if !ok || ev.Self != "99@s.whatsapp.net" {
		t.Fatalf("expected connected event, got %#v", ev)
	}
}

func TestAutoPairUsesClock(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	n := New(Options{AutoPair: 5 * time.Second, Clock: clk})
	defer n.Close()
	if err := n.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	nextEvent(t, n)
	deadline := time.Now().Add(2 * time.Second)
	for clk.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("autopair timer never armed")
		}
		time.Sleep(time.Millisecond)
	}
	clk.Advance(5 * time.Second)
	if _, ok := nextEvent(t, n).(protocol.Connected); !ok {
		t.Fatalf("expected connected after autopair")
	}
}

func TestSendRequiresOpenConnection(t *testing.T) {
	n := New(Options{Paired: true})
	defer n.Close()
	ctx := context.Background()
	if _, err := n.SendText(ctx, "1@s.whatsapp.net", "hi"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	_ = n.Connect(ctx)
	nextEvent(t, n)
	id, err := n.SendText(ctx, "1@s.whatsapp.net", "hi")
	if err != nil || id == "" {
		t.Fatalf("send: id=%q err=%v", id, err)
	}
	if _, err := n.SendAudio(ctx, "1@s.whatsapp.net", []byte{1, 2}, "audio/ogg"); err != nil {
		t.Fatalf("send audio: %v", err)
	}
	sent := n.Sent()
	if len(sent) != 2 || sent[0].Text != "hi" || sent[1].Kind != protocol.KindAudio {
		t.Fatalf("unexpected sent log %#v", sent)
	}
}

func TestFailureInjection(t *testing.T) {
	n := New(Options{Paired: true})
	defer n.Close()
	ctx := context.Background()
	_ = n.Connect(ctx)
	nextEvent(t, n)
	boom := errors.New("boom")
	n.Fail(OpSendText, boom)
	if _, err := n.SendText(ctx, "1@s.whatsapp.net", "x"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	n.Fail(OpSendText, nil)
	if _, err := n.SendText(ctx, "1@s.whatsapp.net", "x"); err != nil {
		t.Fatalf("expected cleared failure, got %v", err)
	}
}

func TestCheckNumberMatchesLocalPart(t *testing.T) {
	n := New(Options{Registered: []string{"+5491112223344"}})
	defer n.Close()
	ctx := context.Background()
	ok, err := n.CheckNumber(ctx, "5491112223344@s.whatsapp.net")
	if err != nil || !ok {
		t.Fatalf("expected registered, ok=%v err=%v", ok, err)
	}
	ok, _ = n.CheckNumber(ctx, "12@s.whatsapp.net")
	if ok {
		t.Fatalf("expected unregistered")
	}
}

func TestDeliverKeepsMediaForFetch(t *testing.T) {
	n := New(Options{})
	defer n.Close()
	n.Deliver(protocol.Message{
		ID:    "a1",
		From:  "1@s.whatsapp.net",
		Kind:  protocol.KindAudio,
		Media: &protocol.Media{MimeType: "audio/ogg", Data: []byte("opus")},
	})
	ev := nextEvent(t, n).(protocol.MessageReceived)
	if ev.Message.Media == nil || len(ev.Message.Media.Data) != 0 || ev.Message.Media.Size != 4 {
		t.Fatalf("unexpected media on event %#v", ev.Message.Media)
	}
	media, err := n.FetchMedia(context.Background(), "a1")
	if err != nil || string(media.Data) != "opus" {
		t.Fatalf("fetch: %q %v", media.Data, err)
	}
	if _, err := n.FetchMedia(context.Background(), "zz"); !errors.Is(err, protocol.ErrMediaUnavailable) {
		t.Fatalf("expected ErrMediaUnavailable, got %v", err)
	}
}

func TestCloseClosesEvents(t *testing.T) {
	n := New(Options{})
	if err := n.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-n.Events(); ok {
		t.Fatalf("expected closed channel")
	}
	if err := n.Connect(context.Background()); !errors.Is(err, protocol.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	n.Deliver(protocol.Message{ID: "late"})
}

func TestFromURL(t *testing.T) {
	u, _ := url.Parse("mem://?autopair=2s&registered=1,2&paired=true&self=7@s.whatsapp.net")
	n, err := FromURL(u, nil, nil)
	if err != nil {
		t.Fatalf("from url: %v", err)
	}
	defer n.Close()
	if n.opts.AutoPair != 2*time.Second || !n.paired || n.opts.Self != "7@s.whatsapp.net" {
		t.Fatalf("unexpected options %#v", n.opts)
	}
	if len(n.registered) != 2 {
		t.Fatalf("registered %v", n.registered)
	}
	bad, _ := url.Parse("mem://?autopair=soon")
	if _, err := FromURL(bad, nil, nil); err == nil {
		t.Fatalf("expected autopair parse error")
	}
}
