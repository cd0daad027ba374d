package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/core/port"
	"github.com/mirastream/streaming-platform-auth/internal/infra/config"
)

// SyncConsumer decodes sync events from peer regions and hands them to
// the applier. Malformed messages are logged and skipped so one bad
// message cannot wedge the partition.
type SyncConsumer struct {
	applier port.RegionSyncApplier
	logger  *zap.Logger
}

// NewSyncConsumer constructs the message handler for the sync topic.
func NewSyncConsumer(applier port.RegionSyncApplier, logger *zap.Logger) *SyncConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncConsumer{applier: applier, logger: logger}
}

// HandleMessage decodes one Kafka message and applies it.
func (c *SyncConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	var event domain.RegionSyncEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("decode sync event: %w", err)
	}

	if err := c.applier.Apply(ctx, event); err != nil {
		return fmt.Errorf("apply sync event: %w", err)
	}
	return nil
}

// SyncConsumerGroup runs the consumer group session for the sync topic.
type SyncConsumerGroup struct {
	group   sarama.ConsumerGroup
	handler *SyncConsumer
	topics  []string
	logger  *zap.Logger
}

// NewSyncConsumerGroup joins the configured consumer group.
func NewSyncConsumerGroup(cfg config.KafkaSettings, handler *SyncConsumer, logger *zap.Logger) (*SyncConsumerGroup, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	topic := cfg.SyncTopic
	if cfg.TopicPrefix != "" {
		topic = fmt.Sprintf("%s.%s", cfg.TopicPrefix, cfg.SyncTopic)
	}

	return &SyncConsumerGroup{
		group:   group,
		handler: handler,
		topics:  []string{topic},
		logger:  logger,
	}, nil
}

// Run consumes until the context is cancelled. Rebalances restart the
// claim loop; only context cancellation ends it.
func (g *SyncConsumerGroup) Run(ctx context.Context) error {
	go func() {
		for err := range g.group.Errors() {
			g.logger.Error("consumer group error", zap.Error(err))
		}
	}()

	for {
		if err := g.group.Consume(ctx, g.topics, &groupHandler{consumer: g.handler, logger: g.logger}); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Close leaves the group.
func (g *SyncConsumerGroup) Close() error {
	return g.group.Close()
}

type groupHandler struct {
	consumer *SyncConsumer
	logger   *zap.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.consumer.HandleMessage(session.Context(), msg); err != nil {
				h.logger.Warn("sync message skipped",
					zap.Error(err),
					zap.String("topic", msg.Topic),
					zap.Int64("offset", msg.Offset),
				)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
