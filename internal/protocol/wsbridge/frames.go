package wsbridge

import (
	"time"

	"pkt.systems/relayd/internal/protocol"
)

// Command ops understood by the sidecar.
const (
	opConnect     = "connect"
	opLogout      = "logout"
	opSendText    = "send_text"
	opSendAudio   = "send_audio"
	opCheckNumber = "check_number"
	opFetchMedia  = "fetch_media"
)

// Inbound frame types.
const (
	frameReply   = "reply"
	frameQR      = "qr"
	frameOpen    = "open"
	frameClose   = "close"
	frameMessage = "message"
)

type command struct {
	ID        string `json:"id"`
	Op        string `json:"op"`
	To        string `json:"to,omitempty"`
	Text      string `json:"text,omitempty"`
	Data      []byte `json:"data,omitempty"`
	MimeType  string `json:"mimetype,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// frame is the union of every sidecar to relayd frame.
type frame struct {
	Type string `json:"type"`

	// reply
	ID         string `json:"id,omitempty"`
	OK         bool   `json:"ok,omitempty"`
	Error      string `json:"error,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	Registered bool   `json:"registered,omitempty"`
	Data       []byte `json:"data,omitempty"`
	MimeType   string `json:"mimetype,omitempty"`

	// events
	QR              string       `json:"qr,omitempty"`
	Me              string       `json:"me,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	ShouldReconnect bool         `json:"should_reconnect,omitempty"`
	Message         *wireMessage `json:"message,omitempty"`
}

type wireMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	FromMe    bool   `json:"from_me"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	MimeType  string `json:"mimetype,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Data      []byte `json:"data,omitempty"`
}

func (m wireMessage) toProtocol() protocol.Message {
	msg := protocol.Message{
		ID:     m.ID,
		From:   m.From,
		FromMe: m.FromMe,
		Text:   m.Text,
	}
	if m.Timestamp > 0 {
		msg.Timestamp = time.Unix(m.Timestamp, 0).UTC()
	}
	switch protocol.MessageKind(m.Type) {
	case protocol.KindText, protocol.KindAudio:
		msg.Kind = protocol.MessageKind(m.Type)
	default:
		msg.Kind = protocol.KindOther
	}
	if msg.Kind == protocol.KindAudio || m.MimeType != "" || len(m.Data) > 0 {
		size := m.Size
		if size == 0 {
			size = int64(len(m.Data))
		}
		msg.Media = &protocol.Media{MimeType: m.MimeType, Size: size, Data: m.Data}
	}
	return msg
}
