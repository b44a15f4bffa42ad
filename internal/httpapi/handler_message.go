package httpapi

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"pkt.systems/relayd/api"
	"pkt.systems/relayd/internal/session"
)

// handleCheckNumber godoc
// @Summary      Check a number
// @Description  Reports whether the number has an active account. Bare numbers get the network suffix appended.
// @Tags         message
// @Accept       json
// @Produce      json
// @Param        request  body      api.CheckNumberRequest  true  "Number to check"
// @Success      200      {object}  api.CheckNumberResponse
// @Failure      400      {object}  api.ErrorResponse
// @Failure      401      {object}  api.ErrorResponse
// @Failure      403      {object}  api.ErrorResponse
// @Failure      500      {object}  api.ErrorResponse
// @Security     BearerAuth
// @Router       /message/check-number [post]
func (h *Handler) handleCheckNumber(w http.ResponseWriter, r *http.Request) error {
	var req api.CheckNumberRequest
	if err := h.decodeRequest(w, r, schemaCheckNumber, &req); err != nil {
		return err
	}
	res := h.session.CheckNumber(r.Context(), req.To)
	if !res.OK {
		return sessionFailure(res.Reason, res.Detail)
	}
	msg := "number is not registered"
	if res.Registered {
		msg = "number is registered"
	}
	h.writeJSON(w, http.StatusOK, api.CheckNumberResponse{
		Success:    true,
		To:         res.To,
		Registered: res.Registered,
		Message:    msg,
	}, nil)
	return nil
}

// handleSendText godoc
// @Summary      Send a text message
// @Tags         message
// @Accept       json
// @Produce      json
// @Param        request  body      api.SendTextRequest  true  "Recipient and body"
// @Success      200      {object}  api.SendResponse
// @Failure      400      {object}  api.ErrorResponse
// @Failure      401      {object}  api.ErrorResponse
// @Failure      403      {object}  api.ErrorResponse
// @Failure      500      {object}  api.ErrorResponse
// @Security     BearerAuth
// @Router       /message/send-text [post]
func (h *Handler) handleSendText(w http.ResponseWriter, r *http.Request) error {
	var req api.SendTextRequest
	if err := h.decodeRequest(w, r, schemaSendText, &req); err != nil {
		return err
	}
	return h.writeSendResult(w, h.session.SendText(r.Context(), req.To, req.Message), "message sent")
}

// handleSendAudioBase64 godoc
// @Summary      Send audio from base64
// @Description  `base64` may be a bare base64 string or a `data:<mime>;base64,` URL. The MIME type defaults to `audio/ogg; codecs=opus`.
// @Tags         message
// @Accept       json
// @Produce      json
// @Param        request  body      api.SendAudioBase64Request  true  "Recipient and audio"
// @Success      200      {object}  api.SendResponse
// @Failure      400      {object}  api.ErrorResponse
// @Failure      401      {object}  api.ErrorResponse
// @Failure      403      {object}  api.ErrorResponse
// @Failure      413      {object}  api.ErrorResponse
// @Failure      500      {object}  api.ErrorResponse
// @Security     BearerAuth
// @Router       /message/enviar-audio-base64 [post]
func (h *Handler) handleSendAudioBase64(w http.ResponseWriter, r *http.Request) error {
	var req api.SendAudioBase64Request
	if err := h.decodeRequest(w, r, schemaSendAudioBase64, &req); err != nil {
		return err
	}
	data, mimeType, err := decodeAudioPayload(req.Base64)
	if err != nil {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_audio", Detail: err.Error()}
	}
	if int64(len(data)) > h.audioMaxBytes {
		return httpError{
			Status: http.StatusRequestEntityTooLarge,
			Code:   "payload_too_large",
			Detail: fmt.Sprintf("audio exceeds %d bytes", h.audioMaxBytes),
		}
	}
	if strings.TrimSpace(req.MimeType) != "" {
		mimeType = req.MimeType
	}
	return h.writeSendResult(w, h.session.SendAudio(r.Context(), req.To, data, mimeType), "audio sent")
}

// handleSendAudioFile godoc
// @Summary      Send an uploaded audio file
// @Description  Multipart upload with the audio in field `audio` (or `file`) and the recipient in field `to`. The part Content-Type, or field `mimetype`, sets the MIME type.
// @Tags         message
// @Accept       mpfd
// @Produce      json
// @Param        to        formData  string  true   "Recipient"
// @Param        audio     formData  file    true   "Audio file"
// @Param        mimetype  formData  string  false  "MIME type override"
// @Success      200       {object}  api.SendResponse
// @Failure      400       {object}  api.ErrorResponse
// @Failure      401       {object}  api.ErrorResponse
// @Failure      403       {object}  api.ErrorResponse
// @Failure      413       {object}  api.ErrorResponse
// @Failure      500       {object}  api.ErrorResponse
// @Security     BearerAuth
// @Router       /message/enviar-audio-file [post]
func (h *Handler) handleSendAudioFile(w http.ResponseWriter, r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_body", Detail: "expected multipart/form-data"}
	}
	// Room for the form fields and part headers on top of the audio cap.
	r.Body = http.MaxBytesReader(w, r.Body, h.audioMaxBytes+64<<10)
	if err := r.ParseMultipartForm(h.audioMaxBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return httpError{
				Status: http.StatusRequestEntityTooLarge,
				Code:   "payload_too_large",
				Detail: fmt.Sprintf("upload exceeds %d bytes", h.audioMaxBytes),
			}
		}
		return httpError{Status: http.StatusBadRequest, Code: "invalid_body", Detail: fmt.Sprintf("failed to parse upload: %v", err)}
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	to := strings.TrimSpace(r.FormValue(api.FormFieldTo))
	if to == "" {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_body", Detail: "field to is required"}
	}
	file, header, err := formAudio(r)
	if err != nil {
		return err
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, h.audioMaxBytes+1))
	if err != nil {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_body", Detail: fmt.Sprintf("failed to read upload: %v", err)}
	}
	if int64(len(data)) > h.audioMaxBytes {
		return httpError{
			Status: http.StatusRequestEntityTooLarge,
			Code:   "payload_too_large",
			Detail: fmt.Sprintf("audio exceeds %d bytes", h.audioMaxBytes),
		}
	}
	if len(data) == 0 {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_audio", Detail: "audio file is empty"}
	}
	mimeType := strings.TrimSpace(r.FormValue(api.FormFieldMimeType))
	if mimeType == "" {
		mimeType = header.Header.Get("Content-Type")
	}
	if mimeType == "application/octet-stream" {
		mimeType = ""
	}
	return h.writeSendResult(w, h.session.SendAudio(r.Context(), to, data, mimeType), "audio sent")
}

func formAudio(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	for _, field := range []string{api.FormFieldAudio, api.FormFieldFile} {
		file, header, err := r.FormFile(field)
		if err == nil {
			return file, header, nil
		}
		if !errors.Is(err, http.ErrMissingFile) {
			return nil, nil, httpError{Status: http.StatusBadRequest, Code: "invalid_body", Detail: fmt.Sprintf("failed to read %s: %v", field, err)}
		}
	}
	return nil, nil, httpError{Status: http.StatusBadRequest, Code: "invalid_body", Detail: "audio file is required in field audio or file"}
}

func (h *Handler) writeSendResult(w http.ResponseWriter, res session.SendResult, okMessage string) error {
	if !res.Delivered {
		return sessionFailure(res.Reason, res.Detail)
	}
	h.writeJSON(w, http.StatusOK, api.SendResponse{
		Success:   true,
		Message:   okMessage,
		To:        res.To,
		MessageID: res.MessageID,
	}, nil)
	return nil
}

// sessionFailure maps a typed session failure onto the HTTP taxonomy:
// caller mistakes and a missing session are 400, collaborator failures 500.
func sessionFailure(reason session.Reason, detail string) error {
	status := http.StatusInternalServerError
	switch reason {
	case session.ReasonNotConnected, session.ReasonInvalidRecipient:
		status = http.StatusBadRequest
	}
	return httpError{Status: status, Code: string(reason), Detail: detail}
}

// decodeAudioPayload accepts bare base64 (standard or URL alphabet, padded or
// not) and data URLs. The MIME type of a data URL is returned when present.
func decodeAudioPayload(raw string) ([]byte, string, error) {
	raw = strings.TrimSpace(raw)
	mimeType := ""
	if rest, ok := strings.CutPrefix(raw, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, "", errors.New("data URL must be base64 encoded")
		}
		mimeType = strings.TrimSuffix(meta, ";base64")
		raw = payload
	}
	raw = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, raw)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(raw); err == nil {
			if len(data) == 0 {
				return nil, "", errors.New("audio payload is empty")
			}
			return data, mimeType, nil
		}
	}
	return nil, "", errors.New("base64 payload is not valid")
}
