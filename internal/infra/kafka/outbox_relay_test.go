package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/infra/config"
)

type memOutbox struct {
	events    []domain.OutboxEvent
	published map[string]bool
}

func newMemOutbox(events ...domain.OutboxEvent) *memOutbox {
	return &memOutbox{events: events, published: make(map[string]bool)}
}

func (o *memOutbox) Append(_ context.Context, event domain.OutboxEvent) error {
	o.events = append(o.events, event)
	return nil
}

func (o *memOutbox) FetchUnpublished(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	var out []domain.OutboxEvent
	for _, event := range o.events {
		if o.published[event.ID] {
			continue
		}
		out = append(out, event)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (o *memOutbox) MarkPublished(_ context.Context, eventIDs []string, _ time.Time) error {
	for _, id := range eventIDs {
		o.published[id] = true
	}
	return nil
}

type fakeSyncProducer struct {
	messages []*sarama.ProducerMessage
	failures int
}

func (f *fakeSyncProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	if f.failures > 0 {
		f.failures--
		return 0, 0, errors.New("broker unavailable")
	}
	f.messages = append(f.messages, msg)
	return 0, int64(len(f.messages)), nil
}

func (f *fakeSyncProducer) SendMessages(msgs []*sarama.ProducerMessage) error {
	for _, msg := range msgs {
		if _, _, err := f.SendMessage(msg); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSyncProducer) Close() error { return nil }

func (f *fakeSyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func (f *fakeSyncProducer) IsTransactional() bool { return false }

func (f *fakeSyncProducer) BeginTxn() error { return nil }

func (f *fakeSyncProducer) CommitTxn() error { return nil }

func (f *fakeSyncProducer) AbortTxn() error { return nil }

func (f *fakeSyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeSyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func relayConfig() *config.AppConfig {
	return &config.AppConfig{
		Kafka: config.KafkaSettings{
			TopicPrefix: "auth",
			OutboxTopic: "events",
		},
		Outbox: config.OutboxSettings{
			PollInterval: 10 * time.Millisecond,
			BatchSize:    10,
		},
	}
}

func TestDrainPublishesAndMarks(t *testing.T) {
	outbox := newMemOutbox(
		domain.OutboxEvent{ID: "event-1", EventType: domain.EventTypeLoginSucceeded, Subject: "subject-1"},
		domain.OutboxEvent{ID: "event-2", EventType: domain.EventTypeRegistered, Subject: "subject-2"},
	)
	producer := &fakeSyncProducer{}
	relay := NewOutboxRelay(outbox, producer, relayConfig(), zaptest.NewLogger(t))

	if err := relay.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if len(producer.messages) != 2 {
		t.Fatalf("published = %d, want 2", len(producer.messages))
	}
	if producer.messages[0].Topic != "auth.events" {
		t.Errorf("topic = %q", producer.messages[0].Topic)
	}
	if !outbox.published["event-1"] || !outbox.published["event-2"] {
		t.Error("events were not marked published")
	}

	// A second drain finds nothing to do.
	if err := relay.Drain(context.Background()); err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if len(producer.messages) != 2 {
		t.Errorf("published = %d after second drain, want 2", len(producer.messages))
	}
}

func TestDrainRetriesTransientFailures(t *testing.T) {
	outbox := newMemOutbox(
		domain.OutboxEvent{ID: "event-1", EventType: domain.EventTypeLoginSucceeded, Subject: "subject-1"},
	)
	producer := &fakeSyncProducer{failures: 2}
	relay := NewOutboxRelay(outbox, producer, relayConfig(), zaptest.NewLogger(t))

	if err := relay.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if len(producer.messages) != 1 {
		t.Fatalf("published = %d, want 1", len(producer.messages))
	}
	if !outbox.published["event-1"] {
		t.Error("event not marked after retries succeeded")
	}
}

func TestDrainEmptyOutbox(t *testing.T) {
	relay := NewOutboxRelay(newMemOutbox(), &fakeSyncProducer{}, relayConfig(), zaptest.NewLogger(t))

	if err := relay.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}
