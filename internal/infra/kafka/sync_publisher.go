package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/core/port"
	"github.com/mirastream/streaming-platform-auth/internal/infra/config"
)

// SyncPublisher broadcasts security-relevant state changes to peer
// regions over the sync topic. Messages are keyed by subject so events
// for one account stay on one partition.
type SyncPublisher struct {
	producer *Producer
	logger   *zap.Logger
	region   string
	topic    string
	now      func() time.Time
}

// NewSyncPublisher constructs a Kafka-backed region sync publisher.
func NewSyncPublisher(producer *Producer, cfg *config.AppConfig, logger *zap.Logger) *SyncPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}

	publisher := &SyncPublisher{
		producer: producer,
		logger:   logger,
		region:   cfg.App.Region,
		topic:    cfg.Kafka.SyncTopic,
	}
	publisher.now = func() time.Time { return time.Now().UTC() }
	return publisher
}

func (p *SyncPublisher) publish(ctx context.Context, action, subject, sessionID, reason string) error {
	event := domain.RegionSyncEvent{
		EventID:   uuid.NewString(),
		Action:    action,
		Subject:   subject,
		SessionID: sessionID,
		Region:    p.region,
		Reason:    reason,
		Timestamp: p.now(),
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			event.Metadata = map[string]any{"trace_id": sc.TraceID().String()}
		}
	}

	bytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(p.topic),
		Key:   sarama.StringEncoder(subject),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyLogin broadcasts a session creation.
func (p *SyncPublisher) NotifyLogin(ctx context.Context, subject, sessionID string) error {
	return p.publish(ctx, domain.SyncActionLogin, subject, sessionID, "")
}

// NotifyLogout broadcasts a session termination.
func (p *SyncPublisher) NotifyLogout(ctx context.Context, subject, sessionID string) error {
	return p.publish(ctx, domain.SyncActionLogout, subject, sessionID, "")
}

// NotifyTokenRefresh broadcasts a rotation on an existing session.
func (p *SyncPublisher) NotifyTokenRefresh(ctx context.Context, subject, sessionID string) error {
	return p.publish(ctx, domain.SyncActionRefresh, subject, sessionID, "")
}

// NotifyAccountLocked broadcasts an account lockout.
func (p *SyncPublisher) NotifyAccountLocked(ctx context.Context, subject, reason string) error {
	return p.publish(ctx, domain.SyncActionLock, subject, "", reason)
}

// NotifyAccountUnlocked broadcasts a lockout release.
func (p *SyncPublisher) NotifyAccountUnlocked(ctx context.Context, subject, reason string) error {
	return p.publish(ctx, domain.SyncActionUnlock, subject, "", reason)
}

// NotifyPasswordChange broadcasts a credential change.
func (p *SyncPublisher) NotifyPasswordChange(ctx context.Context, subject string) error {
	return p.publish(ctx, domain.SyncActionPasswordChange, subject, "", "")
}

var _ port.RegionSyncPublisher = (*SyncPublisher)(nil)
