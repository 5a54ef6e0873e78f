package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/KallebyX/nexus-auth/internal/core/domain"
)

// ZapSink implements port.AuditSink by writing events to the structured log.
// Used when Kafka is disabled and as the sink of last resort in tests.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink constructs a log-backed audit sink.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger}
}

// Record writes the event as a structured log line.
func (s *ZapSink) Record(_ context.Context, event domain.AuditEvent) {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("action", event.Action),
		zap.String("resource_type", event.ResourceType),
		zap.String("outcome", event.Outcome),
		zap.Time("occurred_at", event.OccurredAt),
	}
	if event.ActorID != nil {
		fields = append(fields, zap.String("actor_id", *event.ActorID))
	}
	if event.ResourceID != nil {
		fields = append(fields, zap.String("resource_id", *event.ResourceID))
	}
	if event.IPAddress != nil {
		fields = append(fields, zap.String("ip_address", *event.IPAddress))
	}
	if len(event.Details) > 0 {
		fields = append(fields, zap.Any("details", event.Details))
	}

	s.logger.Info("audit event", fields...)
}
