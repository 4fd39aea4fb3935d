// Package audit implements the AuditService interface using Kafka.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/propfolio/gatekeeper/internal/config"
	"github.com/propfolio/gatekeeper/internal/domain/models"
	"github.com/propfolio/gatekeeper/internal/domain/service"
	"github.com/propfolio/gatekeeper/pkg/constants"
	"github.com/propfolio/gatekeeper/pkg/logger"
)

var _ service.AuditService = (*KafkaProducer)(nil)

// KafkaProducer publishes admission-layer audit events to a Kafka topic.
// Publishing is best effort: a broker failure is logged, never propagated to
// the admission path.
type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

// NewKafkaProducer creates a Kafka-backed audit producer.
func NewKafkaProducer(cfg *config.KafkaConfig, log logger.Logger) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &KafkaProducer{
		writer: writer,
		logger: log.WithComponent("audit_producer"),
	}
}

// LogEvent sends an audit event to the Kafka topic. The event ID and
// timestamp are filled in when absent.
func (p *KafkaProducer) LogEvent(ctx context.Context, event models.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error(ctx, "Failed to marshal audit event", err,
			logger.String("event_type", string(event.Type)))
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.CallerKey),
		Value: data,
	})
	if err != nil {
		p.logger.Error(ctx, "Failed to publish audit event", err,
			logger.String("event_type", string(event.Type)),
			logger.String("caller_key", event.CallerKey),
		)
	}
	return err
}

// Close closes the underlying Kafka writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// RateLimitExceeded builds the audit event for a denied window-limiter check.
func RateLimitExceeded(callerKey string, limit int64, rlContext constants.RateLimitContext) models.AuditEvent {
	return models.AuditEvent{
		Type:      constants.AuditEventRateLimitExceeded,
		CallerKey: callerKey,
		Details: map[string]interface{}{
			"limit":   limit,
			"context": string(rlContext),
		},
	}
}

// QuotaExceeded builds the audit event for a denied quota check.
func QuotaExceeded(callerKey, reason string) models.AuditEvent {
	return models.AuditEvent{
		Type:      constants.AuditEventQuotaExceeded,
		CallerKey: callerKey,
		Details: map[string]interface{}{
			"reason": reason,
		},
	}
}

// QuotaLimitsChanged builds the audit event for an administrative limits update.
func QuotaLimitsChanged(callerKey string, dailyLimit, monthlyLimit int64) models.AuditEvent {
	return models.AuditEvent{
		Type:      constants.AuditEventQuotaLimitsChanged,
		CallerKey: callerKey,
		Details: map[string]interface{}{
			"dailyLimit":   dailyLimit,
			"monthlyLimit": monthlyLimit,
		},
	}
}

// QuotaReset builds the audit event for an administrative counter reset.
func QuotaReset(callerKey string) models.AuditEvent {
	return models.AuditEvent{
		Type:      constants.AuditEventQuotaReset,
		CallerKey: callerKey,
	}
}
