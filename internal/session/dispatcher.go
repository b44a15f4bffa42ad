package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pkt.systems/relayd/internal/protocol"
)

// DefaultAudioMimeType is used when a sender omits the audio MIME type.
const DefaultAudioMimeType = "audio/ogg; codecs=opus"

// SendText sends body to the recipient. The send runs detached from ctx's
// cancellation and is bounded by the send timeout.
func (s *Session) SendText(ctx context.Context, to, body string) SendResult {
	return s.dispatch(ctx, "text", to, func(cctx context.Context, addr string) (string, error) {
		return s.client.SendText(cctx, addr, body)
	})
}

// SendAudio sends data as an audio attachment.
func (s *Session) SendAudio(ctx context.Context, to string, data []byte, mimeType string) SendResult {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = DefaultAudioMimeType
	}
	return s.dispatch(ctx, "audio", to, func(cctx context.Context, addr string) (string, error) {
		return s.client.SendAudio(cctx, addr, data, mimeType)
	})
}

func (s *Session) dispatch(ctx context.Context, kind, to string, send func(context.Context, string) (string, error)) SendResult {
	addr, ok := NormalizeAddress(to, s.suffix)
	if !ok {
		return SendResult{To: to, Reason: ReasonInvalidRecipient, Detail: "recipient is required"}
	}
	if s.Status().Phase != PhaseConnected {
		s.metrics.sent(kind, ReasonNotConnected)
		return SendResult{To: addr, Reason: ReasonNotConnected, Detail: ErrNotConnected.Error()}
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	cctx, cancel := s.commandContext(ctx, s.sendTimeout)
	defer cancel()
	id, err := send(cctx, addr)
	if err != nil {
		reason := ReasonSendFailed
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		s.metrics.sent(kind, reason)
		s.logger.Warn("session.send.failed", "kind", kind, "to", addr, "error", err)
		return SendResult{To: addr, Reason: reason, Detail: fmt.Sprintf("send %s: %v", kind, err)}
	}
	s.metrics.sent(kind, "")
	s.logger.Debug("session.send.ok", "kind", kind, "to", addr, "message_id", id)
	return SendResult{Delivered: true, To: addr, MessageID: id}
}

// CheckNumber asks the protocol client whether the recipient has an active
// account. It needs an open session and does not change state.
func (s *Session) CheckNumber(ctx context.Context, to string) CheckResult {
	addr, ok := NormalizeAddress(to, s.suffix)
	if !ok {
		return CheckResult{To: to, Reason: ReasonInvalidRecipient, Detail: "number is required"}
	}
	if s.Status().Phase != PhaseConnected {
		return CheckResult{To: addr, Reason: ReasonNotConnected, Detail: ErrNotConnected.Error()}
	}
	cctx, cancel := s.commandContext(ctx, s.sendTimeout)
	defer cancel()
	registered, err := s.client.CheckNumber(cctx, addr)
	if err != nil {
		reason := ReasonCheckFailed
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		return CheckResult{To: addr, Reason: reason, Detail: fmt.Sprintf("check number: %v", err)}
	}
	return CheckResult{OK: true, To: addr, Registered: registered}
}

// Audio resolves the audio attachment of a buffered message. Inline bytes are
// returned directly; otherwise the protocol client downloads them.
func (s *Session) Audio(ctx context.Context, id string) (Audio, error) {
	msg, ok := s.buffer.Get(id)
	if !ok {
		return Audio{}, ErrNotFound
	}
	if msg.Kind != protocol.KindAudio || msg.Media == nil {
		return Audio{}, ErrNotAudio
	}
	mimeType := msg.Media.MimeType
	if len(msg.Media.Data) > 0 {
		return Audio{ID: id, MimeType: orDefaultMime(mimeType), Data: append([]byte(nil), msg.Media.Data...)}, nil
	}
	cctx, cancel := s.commandContext(ctx, s.sendTimeout)
	defer cancel()
	media, err := s.client.FetchMedia(cctx, id)
	if err != nil {
		return Audio{}, fmt.Errorf("fetch media %s: %w", id, err)
	}
	if media.MimeType != "" {
		mimeType = media.MimeType
	}
	return Audio{ID: id, MimeType: orDefaultMime(mimeType), Data: media.Data}, nil
}

func orDefaultMime(mimeType string) string {
	if strings.TrimSpace(mimeType) == "" {
		return DefaultAudioMimeType
	}
	return mimeType
}
