package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/pslog"
	"pkt.systems/relayd/internal/correlation"
)

type correlationAppliedKey struct{}

func routerSys(operation string) string {
	parts := strings.FieldsFunc(operation, func(r rune) bool {
		switch r {
		case '.', '/', '-', '_':
			return true
		}
		return false
	})
	if len(parts) == 0 {
		return "api.http.router"
	}
	return "api.http.router." + strings.Join(parts, ".")
}

func applyCorrelation(ctx context.Context, logger pslog.Logger, span trace.Span) (context.Context, pslog.Logger) {
	if id := correlation.ID(ctx); id != "" {
		if ctx.Value(correlationAppliedKey{}) == nil {
			logger = logger.With("cid", id)
			ctx = context.WithValue(ctx, correlationAppliedKey{}, struct{}{})
		} else if existing := pslog.LoggerFromContext(ctx); existing != nil {
			logger = existing
		}
		if span != nil {
			span.SetAttributes(attribute.String("relayd.correlation_id", id))
		}
	}
	ctx = pslog.ContextWithLogger(ctx, logger)
	return ctx, logger
}

type jsonDecodeOptions struct {
	allowEmpty       bool
	disallowUnknowns bool
}

func decodeJSONBody(body io.Reader, dst any, opts jsonDecodeOptions) error {
	if body == nil {
		if opts.allowEmpty {
			return nil
		}
		return io.EOF
	}
	dec := json.NewDecoder(body)
	if opts.disallowUnknowns {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		if opts.allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	var trailing json.RawMessage
	if err := dec.Decode(&trailing); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return fmt.Errorf("unexpected trailing JSON value")
}

// readLimited reads the whole body, mapping an oversized body to 413.
func readLimited(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, limit)
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, httpError{
				Status: http.StatusRequestEntityTooLarge,
				Code:   "payload_too_large",
				Detail: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit),
			}
		}
		return nil, httpError{
			Status: http.StatusBadRequest,
			Code:   "invalid_body",
			Detail: fmt.Sprintf("failed to read request: %v", err),
		}
	}
	return data, nil
}

// decodeRequest reads a JSON body, validates it against the named schema and
// decodes it strictly into dst.
func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request, schema string, dst any) error {
	data, err := readLimited(w, r, h.bodyLimit(schema))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_body", Detail: "request body is required"}
	}
	if err := h.schemas.validate(schema, data); err != nil {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_body", Detail: err.Error()}
	}
	if err := decodeJSONBody(bytes.NewReader(data), dst, jsonDecodeOptions{disallowUnknowns: true}); err != nil {
		return httpError{
			Status: http.StatusBadRequest,
			Code:   "invalid_body",
			Detail: fmt.Sprintf("failed to parse request: %v", err),
		}
	}
	return nil
}

// bodyLimit returns the request size cap for schema. Inline audio is allowed
// its base64 expansion plus room for the envelope.
func (h *Handler) bodyLimit(schema string) int64 {
	if schema == schemaSendAudioBase64 {
		return int64(base64.StdEncoding.EncodedLen(int(h.audioMaxBytes))) + h.jsonMaxBytes
	}
	return h.jsonMaxBytes
}

func (h *Handler) requestLogger(ctx context.Context) pslog.Logger {
	if logger := pslog.LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return h.logger
}
