package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/pslog"
	"pkt.systems/relayd/api"
	"pkt.systems/relayd/internal/auth"
	"pkt.systems/relayd/internal/correlation"
	"pkt.systems/relayd/internal/ids"
	"pkt.systems/relayd/internal/session"
	"pkt.systems/relayd/internal/svcfields"
)

const (
	defaultJSONMaxBytes  = 1 << 20
	defaultAudioMaxBytes = 16 << 20
)

// Handler wires the session core to HTTP.
type Handler struct {
	session            *session.Session
	credentials        auth.Credentials
	tokens             *auth.Issuer
	logger             pslog.Logger
	tracer             trace.Tracer
	httpTracingEnabled bool
	jsonMaxBytes       int64
	audioMaxBytes      int64
	version            string
	ready              func() bool
	schemas            *schemaSet
}

// Config groups the dependencies required by Handler.
type Config struct {
	Session     *session.Session
	Credentials auth.Credentials
	Tokens      *auth.Issuer
	Logger      pslog.Logger
	// JSONMaxBytes caps JSON request bodies (default 1 MiB).
	JSONMaxBytes int64
	// AudioMaxBytes caps decoded audio payloads and multipart uploads
	// (default 16 MiB).
	AudioMaxBytes int64
	Version       string
	// Ready reports listener readiness for /readyz. Nil means always ready.
	Ready              func() bool
	HTTPTracingEnabled bool
}

// New constructs a Handler.
func New(cfg Config) *Handler {
	jsonMax := cfg.JSONMaxBytes
	if jsonMax <= 0 {
		jsonMax = defaultJSONMaxBytes
	}
	audioMax := cfg.AudioMaxBytes
	if audioMax <= 0 {
		audioMax = defaultAudioMaxBytes
	}
	return &Handler{
		session:            cfg.Session,
		credentials:        cfg.Credentials,
		tokens:             cfg.Tokens,
		logger:             svcfields.Ensure(cfg.Logger),
		tracer:             otel.Tracer("pkt.systems/relayd/httpapi"),
		httpTracingEnabled: cfg.HTTPTracingEnabled,
		jsonMaxBytes:       jsonMax,
		audioMaxBytes:      audioMax,
		version:            cfg.Version,
		ready:              cfg.Ready,
		schemas:            mustLoadSchemas(),
	}
}

// Register wires every route onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /auth/login", h.wrap("auth.login", h.handleLogin))

	mux.Handle("POST /session/start", h.wrap("session.start", h.requireAuth(h.handleSessionStart)))
	mux.Handle("GET /session/status", h.wrap("session.status", h.requireAuth(h.handleSessionStatus)))
	mux.Handle("POST /session/logout", h.wrap("session.logout", h.requireAuth(h.handleSessionLogout)))
	mux.Handle("GET /session/mensajes/recibidos", h.wrap("session.messages.list", h.requireAuth(h.handleMessagesList)))
	mux.Handle("DELETE /session/mensajes/recibidos", h.wrap("session.messages.clear", h.requireAuth(h.handleMessagesClear)))
	mux.Handle("GET /session/mensajes/audio/{id}", h.wrap("session.audio.stream", h.handleAudioStream))
	mux.Handle("GET /session/mensajes/audio/{id}/base64", h.wrap("session.audio.base64", h.requireAuth(h.handleAudioBase64)))

	mux.Handle("POST /message/check-number", h.wrap("message.check_number", h.requireAuth(h.handleCheckNumber)))
	mux.Handle("POST /message/send-text", h.wrap("message.send_text", h.requireAuth(h.handleSendText)))
	mux.Handle("POST /message/enviar-audio-base64", h.wrap("message.send_audio_base64", h.requireAuth(h.handleSendAudioBase64)))
	mux.Handle("POST /message/enviar-audio-file", h.wrap("message.send_audio_file", h.requireAuth(h.handleSendAudioFile)))

	mux.Handle("GET /healthz", h.wrap("healthz", h.handleHealth))
	mux.Handle("GET /readyz", h.wrap("readyz", h.handleReady))
	mux.Handle("GET /swagger/doc.json", h.wrap("swagger.doc", h.handleSwaggerDoc))
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	sys := routerSys(operation)
	httpSpanName := "relayd.http." + operation

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		reqID := ids.RequestID()
		span := trace.SpanFromContext(ctx)
		if h.httpTracingEnabled {
			ctx, span = h.tracer.Start(ctx, "relayd.op."+operation,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("relayd.sys", sys),
					attribute.String("relayd.operation", operation),
				),
			)
			defer span.End()
		}

		logger := svcfields.WithSubsystem(h.logger, sys).With(
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = correlation.With(ctx, correlation.FromRequest(r))
		ctx, logger = applyCorrelation(ctx, logger, span)
		w.Header().Set(correlation.Header, correlation.ID(ctx))
		r = r.WithContext(ctx)

		logger.Trace("http.request.start", "remote_addr", r.RemoteAddr)
		err := fn(w, r)
		if err == nil {
			span.SetStatus(codes.Ok, "")
			logger.Trace("http.request.complete", "elapsed", time.Since(start))
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler_error")
		var httpErr httpError
		if errors.As(err, &httpErr) {
			span.SetAttributes(
				attribute.String("relayd.error_code", httpErr.Code),
				attribute.Int("relayd.error_status", httpErr.Status),
			)
		}
		logger.Debug("http.request.error", "elapsed", time.Since(start), "error", err)
		h.handleError(r.Context(), w, err)
	})

	if !h.httpTracingEnabled {
		return handler
	}
	return otelhttp.NewHandler(handler, httpSpanName,
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any, headers map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}

type httpError struct {
	Status int
	Code   string
	Detail string
}

func (h httpError) Error() string {
	if h.Detail != "" {
		return fmt.Sprintf("%s: %s", h.Code, h.Detail)
	}
	return h.Code
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = h.logger
	}
	var httpErr httpError
	if errors.As(err, &httpErr) {
		logger.Debug("http.request.failure",
			"status", httpErr.Status,
			"code", httpErr.Code,
			"detail", httpErr.Detail,
		)
		h.writeJSON(w, httpErr.Status, api.ErrorResponse{
			ErrorCode: httpErr.Code,
			Message:   httpErr.Detail,
		}, nil)
		return
	}
	logger.Error("http.request.internal_error", "error", err)
	h.writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{
		ErrorCode: "internal_error",
		Message:   "internal server error",
	}, nil)
}
