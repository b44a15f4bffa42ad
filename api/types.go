// Package api holds the JSON envelopes exchanged by the relayd server and its
// Go client. Field names follow the established wire contract, including the
// Spanish route vocabulary (mensajes) used by existing integrations.
package api

// ErrorResponse is returned for every failed JSON request.
type ErrorResponse struct {
	// Success is always false.
	Success bool `json:"success"`
	// ErrorCode is a stable machine readable code (e.g. not_connected).
	ErrorCode string `json:"error"`
	// Message is a human readable explanation.
	Message string `json:"message"`
}

// LoginRequest models POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries a bearer token.
type LoginResponse struct {
	Token string `json:"token"`
	// ExpiresAt is the token expiry as a Unix timestamp in seconds.
	ExpiresAt int64 `json:"expiresAt,omitempty"`
}

// SessionResponse is returned by the session start, status and logout
// endpoints.
type SessionResponse struct {
	Success bool `json:"success"`
	// Status is one of disconnected, connecting, awaiting_pairing, connected
	// or error.
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	// QR is the raw pairing payload while awaiting pairing.
	QR string `json:"qr,omitempty"`
	// QRBase64 is the pairing payload rendered as a PNG data URL.
	QRBase64 string `json:"qrBase64,omitempty"`
	// Connecting is true while a connection attempt is in flight.
	Connecting bool `json:"connecting"`
	// Error carries the failure detail when Status is error.
	Error string `json:"error,omitempty"`
	// UpdatedAt is the last state change as a Unix timestamp in seconds.
	UpdatedAt int64 `json:"updatedAt,omitempty"`
	// Me is the account address once connected.
	Me string `json:"me,omitempty"`
}

// Message is one buffered inbound message.
type Message struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	FromMe bool   `json:"fromMe"`
	// Timestamp is the protocol timestamp as Unix seconds.
	Timestamp int64 `json:"timestamp"`
	// Type is text, audio or other.
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// MessagesResponse lists buffered messages in arrival order.
type MessagesResponse struct {
	Success  bool      `json:"success"`
	Mensajes []Message `json:"mensajes"`
}

// ClearResponse reports a buffer clear.
type ClearResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Cleared int    `json:"cleared"`
}

// AudioBase64Response carries an inbound audio attachment.
type AudioBase64Response struct {
	Success  bool   `json:"success"`
	ID       string `json:"id"`
	MimeType string `json:"mimetype"`
	Base64   string `json:"base64"`
}

// CheckNumberRequest models POST /message/check-number.
type CheckNumberRequest struct {
	To string `json:"to"`
}

// CheckNumberResponse reports whether a number has an active account.
type CheckNumberResponse struct {
	Success    bool   `json:"success"`
	To         string `json:"to"`
	Registered bool   `json:"registered"`
	Message    string `json:"message,omitempty"`
}

// SendTextRequest models POST /message/send-text.
type SendTextRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// SendAudioBase64Request models POST /message/enviar-audio-base64. Base64 may
// be a bare base64 string or a data URL.
type SendAudioBase64Request struct {
	To       string `json:"to"`
	Base64   string `json:"base64"`
	MimeType string `json:"mimetype,omitempty"`
}

// SendResponse is returned by every send endpoint.
type SendResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	To        string `json:"to,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// HealthResponse is returned by the health and readiness probes.
type HealthResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	// Session is the current session status label (readyz only).
	Session string `json:"session,omitempty"`
}

// Form field names accepted by POST /message/enviar-audio-file.
const (
	FormFieldAudio    = "audio"
	FormFieldFile     = "file"
	FormFieldTo       = "to"
	FormFieldMimeType = "mimetype"
)
