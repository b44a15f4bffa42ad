// Package protocol defines the contract relayd expects from the messaging
// protocol client. Device pairing, encryption and socket management live
// behind this interface; relayd only issues commands and consumes events.
package protocol

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by every command after Close.
var ErrClosed = errors.New("protocol: client closed")

// ErrMediaUnavailable is returned by FetchMedia when the message carries no
// downloadable media.
var ErrMediaUnavailable = errors.New("protocol: media unavailable")

// Client is the external messaging client. Implementations must be safe for
// concurrent use; events are delivered on the channel returned by Events in
// the order the underlying connection produced them.
type Client interface {
	// Connect begins a connection attempt. It returns once the attempt has
	// been handed to the protocol stack; the outcome arrives as events.
	Connect(ctx context.Context) error
	// Status reports the collaborator's own view of the connection.
	Status(ctx context.Context) (ConnStatus, error)
	// PairingCode returns the latest pairing artifact, or "".
	PairingCode() string
	// Logout terminates the connection and clears stored credentials.
	Logout(ctx context.Context) error
	// SendText sends body to the fully qualified address and returns the
	// protocol message id.
	SendText(ctx context.Context, to, body string) (string, error)
	// SendAudio sends data as an audio attachment.
	SendAudio(ctx context.Context, to string, data []byte, mimeType string) (string, error)
	// CheckNumber reports whether address has an active account.
	CheckNumber(ctx context.Context, address string) (bool, error)
	// FetchMedia downloads the media attached to a received message.
	FetchMedia(ctx context.Context, messageID string) (Media, error)
	// Events returns the event stream. It is closed by Close.
	Events() <-chan Event
	// Close releases transport resources.
	Close() error
}

// ConnStatus is the collaborator-side connection view.
type ConnStatus string

const (
	ConnClosed     ConnStatus = "close"
	ConnConnecting ConnStatus = "connecting"
	ConnOpen       ConnStatus = "open"
)

// MessageKind classifies inbound payloads.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindAudio MessageKind = "audio"
	KindOther MessageKind = "other"
)

// Media references binary content attached to a message. Data is optional;
// when empty the bytes are fetched on demand with Client.FetchMedia.
type Media struct {
	MimeType string
	Size     int64
	Data     []byte
}

// Message is a message received from the network.
type Message struct {
	ID        string
	From      string
	FromMe    bool
	Timestamp time.Time
	Kind      MessageKind
	Text      string
	Media     *Media
}

// DisconnectReason classifies why a connection closed.
type DisconnectReason string

const (
	ReasonLoggedOut           DisconnectReason = "logged_out"
	ReasonConnectionClosed    DisconnectReason = "connection_closed"
	ReasonConnectionLost      DisconnectReason = "connection_lost"
	ReasonTimedOut            DisconnectReason = "timed_out"
	ReasonRestartRequired     DisconnectReason = "restart_required"
	ReasonBridgeLost          DisconnectReason = "bridge_lost"
	ReasonBadSession          DisconnectReason = "bad_session"
	ReasonConnectionReplaced  DisconnectReason = "connection_replaced"
	ReasonForbidden           DisconnectReason = "forbidden"
	ReasonMultideviceMismatch DisconnectReason = "multidevice_mismatch"
)

// IsError reports whether the reason leaves the session in an error phase
// rather than a plain disconnect. Unknown reasons count as errors.
func (r DisconnectReason) IsError() bool {
	switch r {
	case ReasonLoggedOut, ReasonConnectionClosed, ReasonConnectionLost,
		ReasonTimedOut, ReasonRestartRequired, ReasonBridgeLost:
		return false
	}
	return true
}

// Event is one of PairingRequired, Connected, Disconnected, MessageReceived.
type Event interface {
	isEvent()
}

// PairingRequired carries a fresh pairing artifact to render for the user.
type PairingRequired struct {
	Code string
}

// Connected signals an authenticated, open connection.
type Connected struct {
	Self string
}

// Disconnected signals the connection closed.
type Disconnected struct {
	Reason          DisconnectReason
	ShouldReconnect bool
}

// MessageReceived carries one inbound message.
type MessageReceived struct {
	Message Message
}

func (PairingRequired) isEvent() {}
func (Connected) isEvent()       {}
func (Disconnected) isEvent()    {}
func (MessageReceived) isEvent() {}
