package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/KallebyX/nexus-auth/internal/core/domain"
	"github.com/KallebyX/nexus-auth/internal/infra/config"
)

const schemaVersion = "1.0"

// Producer wraps a Sarama async producer with error draining and lifecycle management.
type Producer struct {
	producer sarama.AsyncProducer
	logger   *zap.Logger
	cfg      config.KafkaSettings
	done     chan struct{}
}

// NewProducer initializes the Kafka async producer.
func NewProducer(cfg config.KafkaSettings, logger *zap.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0

	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Flush.Messages = 100
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true

	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	p := &Producer{
		producer: producer,
		logger:   logger,
		cfg:      cfg,
		done:     make(chan struct{}),
	}
	go p.drainErrors()

	logger.Info("kafka producer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic_prefix", cfg.TopicPrefix),
	)

	return p, nil
}

func (p *Producer) drainErrors() {
	for {
		select {
		case err := <-p.producer.Errors():
			if err != nil {
				p.logger.Error("kafka producer error",
					zap.Error(err.Err),
					zap.String("topic", err.Msg.Topic),
				)
			}
		case <-p.done:
			return
		}
	}
}

// Topic returns the audit topic name with the configured prefix applied.
func (p *Producer) Topic() string {
	if p.cfg.TopicPrefix == "" {
		return "auth.audit"
	}
	return p.cfg.TopicPrefix + ".auth.audit"
}

// Close flushes pending messages and stops the error drain.
func (p *Producer) Close() error {
	close(p.done)
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

type eventEnvelope struct {
	EventID      string         `json:"event_id"`
	ActorID      *string        `json:"actor_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   *string        `json:"resource_id,omitempty"`
	Outcome      string         `json:"outcome"`
	IPAddress    *string        `json:"ip_address,omitempty"`
	UserAgent    *string        `json:"user_agent,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Version      string         `json:"version"`
	TraceID      string         `json:"trace_id,omitempty"`
}

// KafkaSink implements port.AuditSink on top of the async producer. Record
// never blocks the request path: a full producer input queue drops the event
// with a log line instead of waiting.
type KafkaSink struct {
	producer *Producer
	logger   *zap.Logger
}

// NewKafkaSink constructs a Kafka-backed audit sink.
func NewKafkaSink(producer *Producer, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{producer: producer, logger: logger}
}

// Record serializes the event and hands it to the async producer.
func (s *KafkaSink) Record(ctx context.Context, event domain.AuditEvent) {
	envelope := eventEnvelope{
		EventID:      event.ID,
		ActorID:      event.ActorID,
		Action:       event.Action,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		Outcome:      event.Outcome,
		IPAddress:    event.IPAddress,
		UserAgent:    event.UserAgent,
		Details:      event.Details,
		OccurredAt:   event.OccurredAt.UTC(),
		Version:      schemaVersion,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			envelope.TraceID = sc.TraceID().String()
		}
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		s.logger.Error("marshal audit event", zap.String("action", event.Action), zap.Error(err))
		return
	}

	message := &sarama.ProducerMessage{
		Topic: s.producer.Topic(),
		Value: sarama.ByteEncoder(payload),
	}

	select {
	case s.producer.producer.Input() <- message:
	default:
		s.logger.Warn("audit producer queue full, dropping event",
			zap.String("action", event.Action),
		)
	}
}
