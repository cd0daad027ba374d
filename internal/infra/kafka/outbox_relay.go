package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/mirastream/streaming-platform-auth/internal/core/port"
	"github.com/mirastream/streaming-platform-auth/internal/infra/config"
)

// OutboxRelay drains the transactional outbox into Kafka. Events are
// published with full acks before being marked, so delivery is
// at-least-once; downstream consumers dedupe by event id.
type OutboxRelay struct {
	outbox   port.OutboxRepository
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	batch    int
	logger   *zap.Logger
	now      func() time.Time
}

// NewOutboxRelay constructs the relay. The producer must be a sync
// producer with RequiredAcks=all.
func NewOutboxRelay(outbox port.OutboxRepository, producer sarama.SyncProducer, cfg *config.AppConfig, logger *zap.Logger) *OutboxRelay {
	if logger == nil {
		logger = zap.NewNop()
	}

	interval := cfg.Outbox.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	batch := cfg.Outbox.BatchSize
	if batch <= 0 {
		batch = 100
	}

	topic := cfg.Kafka.OutboxTopic
	if cfg.Kafka.TopicPrefix != "" {
		topic = fmt.Sprintf("%s.%s", cfg.Kafka.TopicPrefix, cfg.Kafka.OutboxTopic)
	}

	relay := &OutboxRelay{
		outbox:   outbox,
		producer: producer,
		topic:    topic,
		interval: interval,
		batch:    batch,
		logger:   logger,
	}
	relay.now = func() time.Time { return time.Now().UTC() }
	return relay
}

// NewSyncProducer builds the durable producer the relay publishes with.
func NewSyncProducer(cfg config.KafkaSettings) (sarama.SyncProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create sync producer: %w", err)
	}
	return producer, nil
}

// Run polls until the context is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Drain(ctx); err != nil {
				r.logger.Error("outbox drain failed", zap.Error(err))
			}
		}
	}
}

// Drain publishes one batch of unpublished events and marks them.
func (r *OutboxRelay) Drain(ctx context.Context) error {
	events, err := r.outbox.FetchUnpublished(ctx, r.batch)
	if err != nil {
		return fmt.Errorf("fetch unpublished: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	published := make([]string, 0, len(events))
	for _, event := range events {
		bytes, err := json.Marshal(event)
		if err != nil {
			// An unmarshalable event would block the relay forever;
			// mark it published and move on.
			r.logger.Error("unmarshalable outbox event dropped",
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
			published = append(published, event.ID)
			continue
		}

		message := &sarama.ProducerMessage{
			Topic: r.topic,
			Key:   sarama.StringEncoder(event.Subject),
			Value: sarama.ByteEncoder(bytes),
		}

		send := func() error {
			_, _, err := r.producer.SendMessage(message)
			return err
		}
		policy := backoff.WithContext(newRelayBackoff(), ctx)
		if err := backoff.Retry(send, policy); err != nil {
			// Stop the batch here: later events will be retried next
			// tick, and everything already sent gets marked below.
			r.logger.Error("publish outbox event",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.EventType),
				zap.Error(err),
			)
			break
		}
		published = append(published, event.ID)
	}

	if len(published) == 0 {
		return nil
	}
	if err := r.outbox.MarkPublished(ctx, published, r.now()); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}

	r.logger.Debug("outbox batch published", zap.Int("count", len(published)))
	return nil
}

func newRelayBackoff() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 15 * time.Second
	return policy
}
