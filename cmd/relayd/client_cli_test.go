package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/relayd"
	"pkt.systems/relayd/api"
	"pkt.systems/relayd/internal/protocol"
)

func TestParseSince(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tests := []struct {
		name    string
		input   string
		expect  time.Time
		wantErr bool
	}{
		{name: "empty", input: "", expect: time.Time{}},
		{name: "duration", input: "15m", expect: now.Add(-15 * time.Minute)},
		{name: "unix seconds", input: "1699999000", expect: time.Unix(1_699_999_000, 0)},
		{name: "rfc3339", input: "2023-11-14T22:00:00Z", expect: time.Date(2023, 11, 14, 22, 0, 0, 0, time.UTC)},
		{name: "negative seconds", input: "-5", wantErr: true},
		{name: "negative duration", input: "-5m", wantErr: true},
		{name: "garbage", input: "yesterday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSince(tt.input, now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.expect) {
				t.Fatalf("parseSince(%q)=%v, want %v", tt.input, got, tt.expect)
			}
		})
	}
}

func TestClientCommandsRequireToken(t *testing.T) {
	ts := relayd.StartTestServer(t, relayd.WithoutTestClient())
	t.Setenv(envToken, "")
	_, _, err := executeRootCommand(t, "", "client", "--server", ts.URL(), "status")
	if err == nil || !strings.Contains(err.Error(), "relayd client login") {
		t.Fatalf("expected login hint, got %v", err)
	}
}

func TestClientLoginPrintsExports(t *testing.T) {
	ts := relayd.StartTestServer(t, relayd.WithoutTestClient())
	t.Setenv(envToken, "")
	stdout, _, err := executeRootCommand(t, relayd.TestPassword+"\n",
		"client", "--server", ts.URL(), "login", "-u", relayd.TestUsername, "--password-stdin")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "export "+envToken+"=") || !strings.HasPrefix(lines[1], "export "+envTokenExpires+"=") {
		t.Fatalf("unexpected login output %q", stdout)
	}
	token := strings.TrimPrefix(lines[0], "export "+envToken+"=")
	if _, err := ts.Server.Tokens().Verify(token); err != nil {
		t.Fatalf("printed token does not verify: %v", err)
	}

	t.Setenv(envToken, token)
	stdout, _, err = executeRootCommand(t, "", "client", "--server", ts.URL(), "status")
	if err != nil {
		t.Fatalf("status with env token: %v", err)
	}
	if !strings.Contains(stdout, "status: disconnected") {
		t.Fatalf("unexpected status output %q", stdout)
	}
}

func TestClientStartWritesQR(t *testing.T) {
	ts := relayd.StartTestServer(t)
	qrPath := filepath.Join(t.TempDir(), "pair.png")
	stdout, _, err := executeRootCommand(t, "",
		"client", "-s", ts.URL(), "--token", ts.Client.Token(), "start", "--qr-out", qrPath)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !strings.Contains(stdout, "status: awaiting_pairing") || !strings.Contains(stdout, "qr: ") {
		t.Fatalf("unexpected start output %q", stdout)
	}
	png, err := os.ReadFile(qrPath)
	if err != nil {
		t.Fatalf("read qr: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("qr file is not a PNG")
	}

	ts.Network.Pair()
	stdout, _, err = executeRootCommand(t, "",
		"client", "-s", ts.URL(), "--token", ts.Client.Token(), "-o", "json", "start", "--wait", "3s")
	if err != nil {
		t.Fatalf("start --wait: %v", err)
	}
	var st api.SessionResponse
	if err := json.Unmarshal([]byte(stdout), &st); err != nil {
		t.Fatalf("decode json: %v (%q)", err, stdout)
	}
	if st.Status != "connected" {
		t.Fatalf("expected connected, got %+v", st)
	}
}

func TestClientSendAndList(t *testing.T) {
	ts := relayd.StartTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	base := []string{"client", "-s", ts.URL(), "--token", ts.Client.Token()}
	run := func(args ...string) string {
		t.Helper()
		stdout, _, err := executeRootCommand(t, "", append(append([]string{}, base...), args...)...)
		if err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return stdout
	}

	out := run("send-text", "+54 9 11 0000-0000", "hola", "mundo")
	if !strings.Contains(out, "to 5491100000000@s.whatsapp.net") {
		t.Fatalf("unexpected send-text output %q", out)
	}
	audioPath := filepath.Join(t.TempDir(), "note.ogg")
	if err := os.WriteFile(audioPath, []byte("OggS-note"), 0o600); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	run("send-audio", "5491100000000", audioPath, "--mimetype", "audio/ogg")
	run("send-audio", "5491100000000", audioPath, "--mimetype", "audio/mpeg", "--base64")
	sent := ts.Network.Sent()
	if len(sent) != 3 || sent[0].Text != "hola mundo" {
		t.Fatalf("unexpected sends %+v", sent)
	}
	if sent[1].MimeType != "audio/ogg" || sent[2].MimeType != "audio/mpeg" || string(sent[2].Data) != "OggS-note" {
		t.Fatalf("unexpected audio sends %+v", sent[1:])
	}

	ts.Network.Register("5491100000000")
	if out := run("check", "5491100000000"); !strings.Contains(out, "registered=true") {
		t.Fatalf("unexpected check output %q", out)
	}

	ts.Network.Deliver(protocol.Message{ID: "in-1", From: "5491100000000@s.whatsapp.net", Timestamp: time.Now(), Text: "buenas"})
	ts.Network.Deliver(protocol.Message{
		ID:        "in-2",
		From:      "5491100000000@s.whatsapp.net",
		Timestamp: time.Now(),
		Kind:      protocol.KindAudio,
		Media:     &protocol.Media{MimeType: "audio/ogg", Data: []byte("voice")},
	})
	buffer := ts.Server.Session().Buffer()
	deadline := time.Now().Add(2 * time.Second)
	for buffer.Len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("messages never buffered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	var msgs []api.Message
	if err := json.Unmarshal([]byte(run("-o", "json", "messages", "--since", "1m")), &msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "in-1" || msgs[1].Type != "audio" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if out := run("messages", "--limit", "1"); !strings.Contains(out, "in-2") || strings.Contains(out, "in-1") {
		t.Fatalf("unexpected limited listing %q", out)
	}

	if out := run("audio", "in-2"); out != "voice" {
		t.Fatalf("unexpected audio bytes %q", out)
	}
	dst := filepath.Join(t.TempDir(), "in-2.ogg")
	run("audio", "in-2", "-O", dst)
	if data, err := os.ReadFile(dst); err != nil || string(data) != "voice" {
		t.Fatalf("unexpected audio file %q %v", data, err)
	}
	if out := run("audio", "in-2", "--base64"); strings.TrimSpace(out) != "dm9pY2U=" {
		t.Fatalf("unexpected base64 output %q", out)
	}

	if out := run("clear"); !strings.Contains(out, "cleared 2 messages") {
		t.Fatalf("unexpected clear output %q", out)
	}
	if out := run("logout"); !strings.Contains(out, "status: disconnected") {
		t.Fatalf("unexpected logout output %q", out)
	}
}

func TestClientRejectsUnknownOutput(t *testing.T) {
	_, _, err := executeRootCommand(t, "", "client", "--token", "x", "-o", "xml", "status")
	if err == nil || !strings.Contains(err.Error(), "invalid output format") {
		t.Fatalf("expected output format error, got %v", err)
	}
}
