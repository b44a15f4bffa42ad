package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
	"pkt.systems/relayd/internal/protocol"
)

type sessionMetrics struct {
	received    metric.Int64Counter
	sends       metric.Int64Counter
	transitions metric.Int64Counter
	buffered    metric.Int64ObservableGauge
}

func newSessionMetrics(logger pslog.Logger, s *Session) *sessionMetrics {
	meter := otel.Meter("pkt.systems/relayd/session")
	m := &sessionMetrics{}
	var err error

	m.received, err = meter.Int64Counter(
		"relayd.session.messages.received",
		metric.WithDescription("Inbound messages recorded in the buffer"),
	)
	logMetricInitError(logger, "relayd.session.messages.received", err)

	m.sends, err = meter.Int64Counter(
		"relayd.session.sends",
		metric.WithDescription("Outbound sends by kind and outcome"),
	)
	logMetricInitError(logger, "relayd.session.sends", err)

	m.transitions, err = meter.Int64Counter(
		"relayd.session.phase.transitions",
		metric.WithDescription("Connection phase transitions"),
	)
	logMetricInitError(logger, "relayd.session.phase.transitions", err)

	m.buffered, err = meter.Int64ObservableGauge(
		"relayd.session.buffer.size",
		metric.WithDescription("Messages currently held in the inbound buffer"),
	)
	logMetricInitError(logger, "relayd.session.buffer.size", err)

	if m.buffered != nil {
		if _, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(m.buffered, int64(s.buffer.Len()))
			return nil
		}, m.buffered); err != nil {
			logger.Warn("telemetry.metric.callback_failed", "name", "relayd.session.buffer.size", "error", err)
		}
	}
	return m
}

func (m *sessionMetrics) messageReceived(kind protocol.MessageKind) {
	if m == nil || m.received == nil {
		return
	}
	m.received.Add(context.Background(), 1, metric.WithAttributes(attribute.String("relayd.message.kind", string(kind))))
}

func (m *sessionMetrics) sent(kind string, reason Reason) {
	if m == nil || m.sends == nil {
		return
	}
	outcome := "delivered"
	if reason != "" {
		outcome = string(reason)
	}
	m.sends.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("relayd.message.kind", kind),
		attribute.String("relayd.send.outcome", outcome),
	))
}

func (m *sessionMetrics) phaseChanged(phase Phase) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("relayd.session.phase", string(phase))))
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
