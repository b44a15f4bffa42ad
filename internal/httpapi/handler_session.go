package httpapi

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/relayd/api"
	"pkt.systems/relayd/internal/protocol"
	"pkt.systems/relayd/internal/qrimage"
	"pkt.systems/relayd/internal/session"
)

// handleSessionStart godoc
// @Summary      Start the session
// @Description  Starts a connection attempt unless one is open or already in flight. While awaiting pairing the response carries the raw pairing payload (`qr`) and a PNG data URL (`qrBase64`). Repeated calls while pairing return the same payload.
// @Tags         session
// @Produce      json
// @Success      200  {object}  api.SessionResponse
// @Failure      401  {object}  api.ErrorResponse
// @Failure      403  {object}  api.ErrorResponse
// @Failure      500  {object}  api.ErrorResponse
// @Security     BearerAuth
// @Router       /session/start [post]
func (h *Handler) handleSessionStart(w http.ResponseWriter, r *http.Request) error {
	res := h.session.Initialize(r.Context())
	if !res.OK {
		return httpError{Status: http.StatusInternalServerError, Code: string(res.Reason), Detail: res.Detail}
	}
	resp := h.sessionResponse(r, res.Status)
	switch {
	case res.AlreadyConnected:
		resp.Message = "session already connected"
	case res.Status.Phase == session.PhaseConnected:
		resp.Message = "session connected"
	case res.Status.Phase == session.PhaseAwaitingPairing:
		resp.Message = "scan the QR code to pair this device"
	default:
		resp.Message = "connection attempt in progress"
	}
	h.writeJSON(w, http.StatusOK, resp, nil)
	return nil
}

// handleSessionStatus godoc
// @Summary      Session status
// @Description  Returns the current connection phase, the pairing payload while awaiting pairing and the error detail after a failure.
// @Tags         session
// @Produce      json
// @Success      200  {object}  api.SessionResponse
// @Failure      401  {object}  api.ErrorResponse
// @Failure      403  {object}  api.ErrorResponse
// @Security     BearerAuth
// @Router       /session/status [get]
func (h *Handler) handleSessionStatus(w http.ResponseWriter, r *http.Request) error {
	h.writeJSON(w, http.StatusOK, h.sessionResponse(r, h.session.Status()), nil)
	return nil
}

// handleSessionLogout godoc
// @Summary      Log out
// @Description  Terminates the open session and clears the stored protocol credentials. Fails with 400 when no session is open.
// @Tags         session
// @Produce      json
// @Success      200  {object}  api.SessionResponse
// @Failure      400  {object}  api.ErrorResponse
// @Failure      401  {object}  api.ErrorResponse
// @Failure      403  {object}  api.ErrorResponse
// @Failure      500  {object}  api.ErrorResponse
// @Security     BearerAuth
// @Router       /session/logout [post]
func (h *Handler) handleSessionLogout(w http.ResponseWriter, r *http.Request) error {
	res := h.session.Logout(r.Context())
	if !res.OK {
		status := http.StatusInternalServerError
		if res.Reason == session.ReasonNotConnected {
			status = http.StatusBadRequest
		}
		return httpError{Status: status, Code: string(res.Reason), Detail: res.Detail}
	}
	resp := h.sessionResponse(r, res.Status)
	resp.Message = "session closed"
	h.writeJSON(w, http.StatusOK, resp, nil)
	return nil
}

// handleMessagesList godoc
// @Summary      List received messages
// @Description  Returns buffered inbound messages in arrival order. `since` (Unix seconds) and `limit` narrow the result.
// @Tags         messages
// @Produce      json
// @Param        since  query     int  false  "Only messages at or after this Unix timestamp"
// @Param        limit  query     int  false  "Maximum number of messages"
// @Success      200    {object}  api.MessagesResponse
// @Failure      400    {object}  api.ErrorResponse
// @Failure      401    {object}  api.ErrorResponse
// @Failure      403    {object}  api.ErrorResponse
// @Security     BearerAuth
// @Router       /session/mensajes/recibidos [get]
func (h *Handler) handleMessagesList(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	var since time.Time
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || secs < 0 {
			return httpError{Status: http.StatusBadRequest, Code: "invalid_query", Detail: "since must be a non-negative Unix timestamp"}
		}
		since = time.Unix(secs, 0)
	}
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return httpError{Status: http.StatusBadRequest, Code: "invalid_query", Detail: "limit must be a non-negative integer"}
		}
		limit = n
	}
	msgs := h.session.Buffer().Select(since, limit)
	out := make([]api.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, toAPIMessage(msg))
	}
	h.writeJSON(w, http.StatusOK, api.MessagesResponse{Success: true, Mensajes: out}, nil)
	return nil
}

// handleMessagesClear godoc
// @Summary      Clear received messages
// @Tags         messages
// @Produce      json
// @Success      200  {object}  api.ClearResponse
// @Failure      401  {object}  api.ErrorResponse
// @Failure      403  {object}  api.ErrorResponse
// @Security     BearerAuth
// @Router       /session/mensajes/recibidos [delete]
func (h *Handler) handleMessagesClear(w http.ResponseWriter, r *http.Request) error {
	n := h.session.Buffer().Clear()
	h.requestLogger(r.Context()).Info("session.messages.cleared", "count", n)
	h.writeJSON(w, http.StatusOK, api.ClearResponse{
		Success: true,
		Message: fmt.Sprintf("%d messages cleared", n),
		Cleared: n,
	}, nil)
	return nil
}

// handleAudioStream godoc
// @Summary      Stream received audio
// @Description  Streams the audio attachment of a received message with its MIME type. This route is unauthenticated so media players can fetch it directly.
// @Tags         messages
// @Produce      octet-stream
// @Param        id   path      string  true  "Message id"
// @Success      200  {file}    binary
// @Failure      404  {object}  api.ErrorResponse
// @Failure      500  {object}  api.ErrorResponse
// @Router       /session/mensajes/audio/{id} [get]
func (h *Handler) handleAudioStream(w http.ResponseWriter, r *http.Request) error {
	audio, err := h.resolveAudio(r)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", audio.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return nil
	}
	_, _ = w.Write(audio.Data)
	return nil
}

// handleAudioBase64 godoc
// @Summary      Fetch received audio as base64
// @Tags         messages
// @Produce      json
// @Param        id   path      string  true  "Message id"
// @Success      200  {object}  api.AudioBase64Response
// @Failure      401  {object}  api.ErrorResponse
// @Failure      403  {object}  api.ErrorResponse
// @Failure      404  {object}  api.ErrorResponse
// @Failure      500  {object}  api.ErrorResponse
// @Security     BearerAuth
// @Router       /session/mensajes/audio/{id}/base64 [get]
func (h *Handler) handleAudioBase64(w http.ResponseWriter, r *http.Request) error {
	audio, err := h.resolveAudio(r)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, api.AudioBase64Response{
		Success:  true,
		ID:       audio.ID,
		MimeType: audio.MimeType,
		Base64:   base64.StdEncoding.EncodeToString(audio.Data),
	}, nil)
	return nil
}

func (h *Handler) resolveAudio(r *http.Request) (session.Audio, error) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		return session.Audio{}, httpError{Status: http.StatusNotFound, Code: "not_found", Detail: "message id is required"}
	}
	audio, err := h.session.Audio(r.Context(), id)
	switch {
	case err == nil:
		return audio, nil
	case errors.Is(err, session.ErrNotFound):
		return session.Audio{}, httpError{Status: http.StatusNotFound, Code: "not_found", Detail: fmt.Sprintf("message %s not found", id)}
	case errors.Is(err, session.ErrNotAudio):
		return session.Audio{}, httpError{Status: http.StatusNotFound, Code: "not_audio", Detail: fmt.Sprintf("message %s has no audio", id)}
	case errors.Is(err, protocol.ErrMediaUnavailable):
		return session.Audio{}, httpError{Status: http.StatusNotFound, Code: "media_unavailable", Detail: fmt.Sprintf("audio for message %s is no longer available", id)}
	default:
		return session.Audio{}, err
	}
}

func (h *Handler) sessionResponse(r *http.Request, st session.Status) api.SessionResponse {
	resp := api.SessionResponse{
		Success:    true,
		Status:     st.Label(),
		Connecting: st.Connecting,
		Error:      st.Error,
		Me:         st.Self,
	}
	if !st.UpdatedAt.IsZero() {
		resp.UpdatedAt = st.UpdatedAt.Unix()
	}
	if st.PairingCode != "" {
		resp.QR = st.PairingCode
		if img, err := qrimage.DataURL(st.PairingCode); err == nil {
			resp.QRBase64 = img
		} else {
			h.requestLogger(r.Context()).Warn("session.qr.render_failed", "error", err)
		}
	}
	return resp
}

func toAPIMessage(msg protocol.Message) api.Message {
	out := api.Message{
		ID:     msg.ID,
		From:   msg.From,
		FromMe: msg.FromMe,
		Type:   string(msg.Kind),
		Text:   msg.Text,
	}
	if !msg.Timestamp.IsZero() {
		out.Timestamp = msg.Timestamp.Unix()
	}
	if msg.Media != nil {
		out.MimeType = msg.Media.MimeType
		out.Size = msg.Media.Size
	}
	return out
}
