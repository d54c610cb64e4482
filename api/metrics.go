package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lukasbals/scraty/domain"
)

const (
	mutationSpanName    = "board.mutation"
	mutationEventName   = "board.mutation.handled"
	mutationEventDomain = "scraty"
)

// mutationMetrics records the staged timings of one mutation request and
// emits them once as an OpenTelemetry span plus a mirrored structured log
// record.
type mutationMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time
	route  string
	entity string

	decodeDuration    time.Duration
	persistDuration   time.Duration
	broadcastDuration time.Duration
	action            domain.Action
	errorStage        string
}

func newMutationMetrics(ctx context.Context, logger *log.Logger, entity, route string) (*mutationMetrics, context.Context) {
	spanCtx, span := otel.Tracer("scraty/api").Start(ctx, mutationSpanName)
	m := &mutationMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		route:  route,
		entity: entity,
	}
	return m, spanCtx
}

func (m *mutationMetrics) ObserveDecode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.decodeDuration = duration
}

func (m *mutationMetrics) ObservePersist(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.persistDuration = duration
}

func (m *mutationMetrics) ObserveBroadcast(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.broadcastDuration = duration
}

func (m *mutationMetrics) SetAction(action domain.Action) {
	m.action = action
}

func (m *mutationMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log finishes the span and writes the observability record. It must be
// called exactly once, after the response is committed.
func (m *mutationMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.String("scraty.mutation.entity", m.entity),
		attribute.Float64("scraty.mutation.total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.action != "" {
		attrs = append(attrs, attribute.String("scraty.mutation.action", string(m.action)))
	}
	if m.decodeDuration > 0 {
		attrs = append(attrs, attribute.Float64("scraty.mutation.decode_ms", durationToMillis(m.decodeDuration)))
	}
	if m.persistDuration > 0 {
		attrs = append(attrs, attribute.Float64("scraty.mutation.persist_ms", durationToMillis(m.persistDuration)))
	}
	if m.broadcastDuration > 0 {
		attrs = append(attrs, attribute.Float64("scraty.mutation.broadcast_ms", durationToMillis(m.broadcastDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("scraty.mutation.error_stage", m.errorStage))
	}

	severityText, severityNumber := severityForStatus(status, err)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", mutationEventName),
		attribute.String("event.domain", mutationEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)
	if err != nil {
		eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
		if err != nil || status >= http.StatusInternalServerError {
			description := "mutation failed"
			if err != nil {
				description = err.Error()
			}
			m.span.SetStatus(codes.Error, description)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	fields := log.Fields{
		"event.name":      mutationEventName,
		"event.domain":    mutationEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributesToFields(attrs),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}

	entry := m.logger.WithFields(fields)
	switch {
	case severityNumber >= 17:
		entry.Error("observability.event")
	case severityNumber >= 13:
		entry.Warn("observability.event")
	default:
		entry.Info("observability.event")
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case err != nil && status < http.StatusBadRequest:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func attributesToFields(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
