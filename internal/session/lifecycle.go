package session

import (
	"context"
	"errors"
	"fmt"
)

// Initialize starts a connection attempt unless one is already open or in
// flight, then waits for a pairing code or connection. Concurrent callers
// share the same attempt and observe the same pairing code.
func (s *Session) Initialize(ctx context.Context) StartResult {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.closed {
		st := s.statusLocked()
		s.mu.Unlock()
		return StartResult{Reason: ReasonInitFailed, Detail: "session closed", Status: st}
	}
	if s.phase == PhaseConnected {
		st := s.statusLocked()
		s.mu.Unlock()
		return StartResult{OK: true, AlreadyConnected: true, Status: st}
	}
	start := !s.connecting
	if start {
		s.connecting = true
		s.updatedAt = s.clock.Now()
		s.notifyLocked()
	}
	s.mu.Unlock()

	if start {
		s.logger.Info("session.initialize.begin")
		if err := s.connect(ctx); err != nil {
			st := s.Status()
			return StartResult{Reason: ReasonInitFailed, Detail: st.Error, Status: st}
		}
	}
	return s.awaitProgress(ctx)
}

const initTimeoutDetail = "initialize: timed out waiting for protocol client"

// connect hands an attempt to the protocol client. Failures move the session
// to Error and end the attempt. An accepted attempt that produces neither a
// pairing code nor a connection within initTimeout is expired the same way.
func (s *Session) connect(ctx context.Context) error {
	s.mu.Lock()
	s.attempt++
	gen := s.attempt
	s.mu.Unlock()

	cctx, cancel := s.commandContext(ctx, s.initTimeout)
	defer cancel()
	err := s.client.Connect(cctx)
	if err == nil {
		go s.expireAttempt(gen)
		return nil
	}
	detail := fmt.Sprintf("initialize: %v", err)
	if errors.Is(err, context.DeadlineExceeded) {
		detail = initTimeoutDetail
	}
	s.mu.Lock()
	s.connecting = false
	s.setPhaseLocked(PhaseError, "", detail)
	s.mu.Unlock()
	s.logger.Warn("session.initialize.failed", "error", err)
	return err
}

func (s *Session) expireAttempt(gen uint64) {
	select {
	case <-s.clock.After(s.initTimeout):
	case <-s.bridgeDone:
		return
	}
	s.mu.Lock()
	if s.closed || gen != s.attempt || !s.connecting ||
		s.phase == PhaseConnected || (s.phase == PhaseAwaitingPairing && s.code != "") {
		s.mu.Unlock()
		return
	}
	s.connecting = false
	s.setPhaseLocked(PhaseError, "", initTimeoutDetail)
	s.mu.Unlock()
	s.logger.Warn("session.initialize.expired", "timeout", s.initTimeout.String())
}

func (s *Session) awaitProgress(ctx context.Context) StartResult {
	deadline := s.clock.After(s.pairingWait)
	for {
		s.mu.RLock()
		st := s.statusLocked()
		changed := s.changed
		s.mu.RUnlock()

		switch {
		case st.Phase == PhaseConnected:
			return StartResult{OK: true, Status: st}
		case st.Phase == PhaseAwaitingPairing && st.PairingCode != "":
			return StartResult{OK: true, Status: st}
		case !st.Connecting && st.Phase == PhaseError:
			return StartResult{Reason: ReasonInitFailed, Detail: st.Error, Status: st}
		case !st.Connecting:
			return StartResult{Reason: ReasonInitFailed, Detail: "connection closed during initialization", Status: st}
		}

		select {
		case <-changed:
		case <-deadline:
			return StartResult{OK: true, Pending: true, Status: st}
		case <-ctx.Done():
			return StartResult{OK: true, Pending: true, Status: st}
		}
	}
}

// Logout ends an open session and clears the collaborator's credentials.
// Without an open session it fails without side effects.
func (s *Session) Logout(ctx context.Context) LogoutResult {
	s.mu.RLock()
	phase := s.phase
	st := s.statusLocked()
	s.mu.RUnlock()
	if phase != PhaseConnected {
		return LogoutResult{Reason: ReasonNotConnected, Detail: ErrNotConnected.Error(), Status: st}
	}

	s.mu.Lock()
	s.logoutClose = true
	s.mu.Unlock()
	cctx, cancel := s.commandContext(ctx, s.sendTimeout)
	defer cancel()
	if err := s.client.Logout(cctx); err != nil {
		s.mu.Lock()
		s.logoutClose = false
		s.mu.Unlock()
		s.logger.Warn("session.logout.failed", "error", err)
		reason := ReasonLogoutFailed
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		return LogoutResult{Reason: reason, Detail: fmt.Sprintf("logout: %v", err), Status: s.Status()}
	}

	s.mu.Lock()
	s.connecting = false
	s.setPhaseLocked(PhaseDisconnected, "", "")
	st = s.statusLocked()
	s.mu.Unlock()
	s.logger.Info("session.logout.complete")
	return LogoutResult{OK: true, Status: st}
}
