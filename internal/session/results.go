package session

import (
	"errors"
	"time"
)

var (
	// ErrNotFound reports an unknown message id.
	ErrNotFound = errors.New("session: message not found")
	// ErrNotAudio reports a message that carries no audio.
	ErrNotAudio = errors.New("session: message is not audio")
	// ErrNotConnected reports a command that needs an open session.
	ErrNotConnected = errors.New("session: no active session")
)

// Phase is the lifecycle phase of the single logical connection.
type Phase string

const (
	PhaseDisconnected    Phase = "disconnected"
	PhaseAwaitingPairing Phase = "awaiting_pairing"
	PhaseConnected       Phase = "connected"
	PhaseError           Phase = "error"
)

// Status is a point-in-time view of the connection state.
type Status struct {
	Phase       Phase
	PairingCode string
	Error       string
	// Connecting is true while an attempt is in flight.
	Connecting bool
	Self       string
	UpdatedAt  time.Time
}

// Label is the wire status: the phase, or "connecting" while an attempt is in
// flight and no pairing code has been issued yet.
func (s Status) Label() string {
	switch s.Phase {
	case PhaseConnected, PhaseAwaitingPairing:
		return string(s.Phase)
	}
	if s.Connecting {
		return "connecting"
	}
	return string(s.Phase)
}

// Reason classifies a failed command.
type Reason string

const (
	ReasonNotConnected     Reason = "not_connected"
	ReasonInitFailed       Reason = "init_failed"
	ReasonLogoutFailed     Reason = "logout_failed"
	ReasonSendFailed       Reason = "send_failed"
	ReasonCheckFailed      Reason = "check_failed"
	ReasonTimeout          Reason = "timeout"
	ReasonInvalidRecipient Reason = "invalid_recipient"
)

// StartResult is the outcome of Initialize.
type StartResult struct {
	OK bool
	// AlreadyConnected marks the idempotent no-op.
	AlreadyConnected bool
	// Pending is set when the wait ended before a pairing code or connection
	// arrived; the attempt continues in the background.
	Pending bool
	Reason  Reason
	Detail  string
	Status  Status
}

// LogoutResult is the outcome of Logout.
type LogoutResult struct {
	OK     bool
	Reason Reason
	Detail string
	Status Status
}

// SendResult is the outcome of an outbound send.
type SendResult struct {
	Delivered bool
	To        string
	MessageID string
	Reason    Reason
	Detail    string
}

// CheckResult is the outcome of a registration lookup.
type CheckResult struct {
	OK         bool
	To         string
	Registered bool
	Reason     Reason
	Detail     string
}

// Audio is the resolved audio attachment of an inbound message.
type Audio struct {
	ID       string
	MimeType string
	Data     []byte
}
