package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pkt.systems/relayd/api"
)

// Login exchanges operator credentials for a bearer token. On success the
// token is stored on the client and used by every later call.
func (c *Client) Login(ctx context.Context, username, password string) (*api.LoginResponse, error) {
	req, err := jsonRequest(http.MethodPost, "/auth/login", api.LoginRequest{Username: username, Password: password}, false)
	if err != nil {
		return nil, err
	}
	var out api.LoginResponse
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// StartSession initializes the messaging session. It is idempotent when the
// session is already connected.
func (c *Client) StartSession(ctx context.Context) (*api.SessionResponse, error) {
	return c.sessionCall(ctx, http.MethodPost, "/session/start")
}

// Status reports the current session state.
func (c *Client) Status(ctx context.Context) (*api.SessionResponse, error) {
	return c.sessionCall(ctx, http.MethodGet, "/session/status")
}

// Logout ends the session and clears the linked credentials.
func (c *Client) Logout(ctx context.Context) (*api.SessionResponse, error) {
	return c.sessionCall(ctx, http.MethodPost, "/session/logout")
}

func (c *Client) sessionCall(ctx context.Context, method, path string) (*api.SessionResponse, error) {
	var out api.SessionResponse
	if err := c.do(ctx, request{method: method, path: path, auth: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MessagesOptions filters the inbound buffer listing.
type MessagesOptions struct {
	// Since keeps messages at or after this instant (second precision).
	Since time.Time
	// Limit keeps only the newest Limit messages when positive.
	Limit int
}

// Messages lists buffered inbound messages in arrival order.
func (c *Client) Messages(ctx context.Context, opts MessagesOptions) ([]api.Message, error) {
	query := url.Values{}
	if !opts.Since.IsZero() {
		query.Set("since", strconv.FormatInt(opts.Since.Unix(), 10))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	var out api.MessagesResponse
	if err := c.do(ctx, request{method: http.MethodGet, path: "/session/mensajes/recibidos", query: query, auth: true}, &out); err != nil {
		return nil, err
	}
	return out.Mensajes, nil
}

// ClearMessages empties the inbound buffer.
func (c *Client) ClearMessages(ctx context.Context) (*api.ClearResponse, error) {
	var out api.ClearResponse
	if err := c.do(ctx, request{method: http.MethodDelete, path: "/session/mensajes/recibidos", auth: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Audio is a streamed inbound audio attachment. Close releases the connection.
type Audio struct {
	MimeType string
	Size     int64
	Body     io.ReadCloser
}

// Close closes the body.
func (a *Audio) Close() error {
	if a == nil || a.Body == nil {
		return nil
	}
	return a.Body.Close()
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r cancelReadCloser) Close() error {
	err := r.ReadCloser.Close()
	r.cancel()
	return err
}

// AudioStream fetches the raw bytes of an inbound audio message. The stream
// endpoint is public so no token is required.
func (c *Client) AudioStream(ctx context.Context, id string) (*Audio, error) {
	resp, cancel, err := c.send(ctx, request{method: http.MethodGet, path: "/session/mensajes/audio/" + url.PathEscape(id)})
	if err != nil {
		return nil, err
	}
	return &Audio{
		MimeType: resp.Header.Get("Content-Type"),
		Size:     resp.ContentLength,
		Body:     cancelReadCloser{ReadCloser: resp.Body, cancel: cancel},
	}, nil
}

// AudioBytes is AudioStream read fully into memory.
func (c *Client) AudioBytes(ctx context.Context, id string) ([]byte, string, error) {
	audio, err := c.AudioStream(ctx, id)
	if err != nil {
		return nil, "", err
	}
	defer audio.Close()
	data, err := io.ReadAll(audio.Body)
	if err != nil {
		return nil, "", err
	}
	return data, audio.MimeType, nil
}

// AudioBase64 fetches an inbound audio message as base64 JSON.
func (c *Client) AudioBase64(ctx context.Context, id string) (*api.AudioBase64Response, error) {
	var out api.AudioBase64Response
	path := "/session/mensajes/audio/" + url.PathEscape(id) + "/base64"
	if err := c.do(ctx, request{method: http.MethodGet, path: path, auth: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckNumber reports whether to has an active account.
func (c *Client) CheckNumber(ctx context.Context, to string) (*api.CheckNumberResponse, error) {
	req, err := jsonRequest(http.MethodPost, "/message/check-number", api.CheckNumberRequest{To: to}, true)
	if err != nil {
		return nil, err
	}
	var out api.CheckNumberResponse
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendText sends a UTF-8 text message.
func (c *Client) SendText(ctx context.Context, to, message string) (*api.SendResponse, error) {
	req, err := jsonRequest(http.MethodPost, "/message/send-text", api.SendTextRequest{To: to, Message: message}, true)
	if err != nil {
		return nil, err
	}
	return c.doSend(ctx, req)
}

// SendAudioBase64 sends an audio message from base64 or a data URL.
func (c *Client) SendAudioBase64(ctx context.Context, payload api.SendAudioBase64Request) (*api.SendResponse, error) {
	req, err := jsonRequest(http.MethodPost, "/message/enviar-audio-base64", payload, true)
	if err != nil {
		return nil, err
	}
	return c.doSend(ctx, req)
}

// AudioUpload describes a multipart audio upload.
type AudioUpload struct {
	To       string
	Filename string
	// MimeType is sent both as a form field and as the part Content-Type.
	MimeType string
	Data     io.Reader
}

// SendAudioFile uploads audio as multipart/form-data.
func (c *Client) SendAudioFile(ctx context.Context, upload AudioUpload) (*api.SendResponse, error) {
	if upload.Data == nil {
		return nil, fmt.Errorf("relayd: audio upload requires data")
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField(api.FormFieldTo, upload.To); err != nil {
		return nil, err
	}
	if upload.MimeType != "" {
		if err := mw.WriteField(api.FormFieldMimeType, upload.MimeType); err != nil {
			return nil, err
		}
	}
	filename := upload.Filename
	if filename == "" {
		filename = "audio"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, api.FormFieldAudio, escapeQuotes(filename)))
	partType := upload.MimeType
	if partType == "" {
		partType = "application/octet-stream"
	}
	header.Set("Content-Type", partType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, upload.Data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return c.doSend(ctx, request{
		method:      http.MethodPost,
		path:        "/message/enviar-audio-file",
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
		auth:        true,
	})
}

func (c *Client) doSend(ctx context.Context, req request) (*api.SendResponse, error) {
	var out api.SendResponse
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health calls the liveness probe.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.do(ctx, request{method: http.MethodGet, path: "/healthz"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready calls the readiness probe. A 503 is returned as *APIError.
func (c *Client) Ready(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.do(ctx, request{method: http.MethodGet, path: "/readyz"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
