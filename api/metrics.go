package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "board-service/api"

type mutationMetrics struct {
	logger          *log.Logger
	span            trace.Span
	start           time.Time
	boardID         string
	sessionID       string
	mutationType    string
	attempts        int
	reduceDuration  time.Duration
	deliverDuration time.Duration
	recipients      int
	seq             uint64
	errorStage      string
}

func newMutationMetrics(ctx context.Context, logger *log.Logger, boardID, sessionID string) (*mutationMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "board.mutation",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("board.id", boardID),
			attribute.String("session.id", sessionID),
		))
	return &mutationMetrics{
		logger:    logger,
		span:      span,
		start:     time.Now(),
		boardID:   boardID,
		sessionID: sessionID,
	}, ctx
}

func (m *mutationMetrics) SetType(t string) {
	m.mutationType = t
	m.span.SetAttributes(attribute.String("mutation.type", t))
}

func (m *mutationMetrics) ObserveAttempt(duration time.Duration) {
	m.attempts++
	if duration > 0 {
		m.reduceDuration += duration
	}
}

func (m *mutationMetrics) ObserveDeliver(duration time.Duration, recipients int) {
	if duration > 0 {
		m.deliverDuration = duration
	}
	if recipients > 0 {
		m.recipients = recipients
	}
}

func (m *mutationMetrics) SetSeq(seq uint64) {
	m.seq = seq
}

func (m *mutationMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// End logs the metrics line and finishes the span.
func (m *mutationMetrics) End(err error) {
	if m == nil {
		return
	}
	m.span.SetAttributes(
		attribute.Int("mutation.attempts", m.attempts),
		attribute.Int64("board.seq", int64(m.seq)),
		attribute.Int("broadcast.recipients", m.recipients),
	)
	if err != nil {
		m.span.RecordError(err)
		m.span.SetStatus(codes.Error, err.Error())
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"board":      m.boardID,
		"session":    m.sessionID,
		"type":       m.mutationType,
		"attempts":   m.attempts,
		"recipients": m.recipients,
		"total_ms":   durationToMillis(time.Since(m.start)),
	}
	if m.seq > 0 {
		fields["seq"] = m.seq
	}
	if m.reduceDuration > 0 {
		fields["reduce_ms"] = durationToMillis(m.reduceDuration)
	}
	if m.deliverDuration > 0 {
		fields["deliver_ms"] = durationToMillis(m.deliverDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	entry := m.logger.WithFields(fields)
	if err != nil {
		entry.WithError(err).Warn("board.mutation.metrics")
		return
	}
	entry.Debug("board.mutation.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
