package session

import (
	"context"
	"fmt"

	"pkt.systems/relayd/internal/protocol"
	"pkt.systems/relayd/internal/svcfields"
)

// runBridge applies protocol events in arrival order until the client closes
// its event channel.
func (s *Session) runBridge(events <-chan protocol.Event) {
	defer close(s.bridgeDone)
	logger := svcfields.WithSubsystem(s.logger, svcfields.SessionBridge)
	logger.Debug("bridge.start")
	for ev := range events {
		s.apply(ev)
	}
	logger.Debug("bridge.stop")
}

func (s *Session) apply(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.PairingRequired:
		s.onPairingRequired(e.Code)
	case protocol.Connected:
		s.onConnected(e.Self)
	case protocol.Disconnected:
		s.onDisconnected(e.Reason, e.ShouldReconnect)
	case protocol.MessageReceived:
		s.onMessageReceived(e.Message)
	default:
		s.logger.Warn("bridge.event.dropped", "type", fmt.Sprintf("%T", ev))
	}
}

func (s *Session) onPairingRequired(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseConnected {
		s.logger.Debug("bridge.pairing.ignored", "reason", "already connected")
		return
	}
	s.logoutClose = false
	s.connecting = true
	s.setPhaseLocked(PhaseAwaitingPairing, code, "")
}

func (s *Session) onConnected(self string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logoutClose = false
	s.connecting = false
	s.setPhaseLocked(PhaseConnected, "", "")
	s.self = self
}

func (s *Session) onDisconnected(reason protocol.DisconnectReason, shouldReconnect bool) {
	s.mu.Lock()
	if s.logoutClose && reason == protocol.ReasonLoggedOut {
		s.logoutClose = false
		if s.phase != PhaseConnected {
			// Logout already applied the transition; a newer attempt may
			// be in flight.
			s.mu.Unlock()
			s.logger.Debug("bridge.disconnect.logout_ack")
			return
		}
	}
	next := PhaseDisconnected
	detail := ""
	if reason.IsError() {
		next = PhaseError
		detail = fmt.Sprintf("disconnected: %s", reason)
	}
	reconnect := shouldReconnect && !s.closed
	// A reconnect keeps the attempt flag set so waiting initializers and
	// concurrent starts see one continuous attempt.
	s.connecting = reconnect
	s.setPhaseLocked(next, "", detail)
	s.mu.Unlock()

	s.logger.Info("bridge.disconnected", "reason", string(reason), "reconnect", reconnect)
	if reconnect {
		go s.reconnect()
	}
}

func (s *Session) reconnect() {
	if s.isClosed() {
		return
	}
	if err := s.connect(context.Background()); err != nil {
		s.logger.Warn("bridge.reconnect.failed", "error", err)
	}
}

func (s *Session) onMessageReceived(msg protocol.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.clock.Now()
	}
	added, evicted := s.buffer.Record(msg)
	if !added {
		s.logger.Debug("bridge.message.duplicate", "id", msg.ID)
		return
	}
	if evicted != "" {
		s.logger.Debug("bridge.message.evicted", "id", evicted)
	}
	s.metrics.messageReceived(msg.Kind)
	s.logger.Debug("bridge.message.recorded", "id", msg.ID, "from", msg.From, "kind", string(msg.Kind))
}
