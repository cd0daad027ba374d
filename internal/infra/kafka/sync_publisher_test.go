package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/mirastream/streaming-platform-auth/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 8),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestSyncPublisher(t *testing.T, asyncProducer *fakeAsyncProducer) *SyncPublisher {
	t.Helper()

	producer := &Producer{
		producer: asyncProducer,
		logger:   zaptest.NewLogger(t),
		cfg: config.KafkaSettings{
			TopicPrefix: "auth",
			SyncTopic:   "region-sync",
		},
		errChan: make(chan error, 1),
		done:    make(chan struct{}),
	}

	cfg := &config.AppConfig{
		App:   config.AppSettings{Region: "us-east-1"},
		Kafka: config.KafkaSettings{TopicPrefix: "auth", SyncTopic: "region-sync"},
	}
	return NewSyncPublisher(producer, cfg, zaptest.NewLogger(t))
}

func TestNotifyLogoutPublishesSyncEvent(t *testing.T) {
	asyncProducer := newFakeAsyncProducer()
	publisher := newTestSyncPublisher(t, asyncProducer)

	at := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	publisher.now = func() time.Time { return at }

	if err := publisher.NotifyLogout(context.Background(), "subject-1", "session-1"); err != nil {
		t.Fatalf("NotifyLogout: %v", err)
	}

	select {
	case msg := <-asyncProducer.input:
		if msg.Topic != "auth.region-sync" {
			t.Fatalf("unexpected topic: %s", msg.Topic)
		}

		key, err := msg.Key.Encode()
		if err != nil {
			t.Fatalf("Key.Encode: %v", err)
		}
		if string(key) != "subject-1" {
			t.Fatalf("unexpected key: %s", key)
		}

		bytes, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode: %v", err)
		}

		var event map[string]any
		if err := json.Unmarshal(bytes, &event); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if event["action"] != "logout" {
			t.Errorf("action = %v", event["action"])
		}
		if event["subject"] != "subject-1" {
			t.Errorf("subject = %v", event["subject"])
		}
		if event["session_id"] != "session-1" {
			t.Errorf("session_id = %v", event["session_id"])
		}
		if event["region"] != "us-east-1" {
			t.Errorf("region = %v", event["region"])
		}
		if event["event_id"] == "" || event["event_id"] == nil {
			t.Error("event_id missing")
		}
		if event["timestamp"] != at.Format(time.RFC3339Nano) {
			t.Errorf("timestamp = %v", event["timestamp"])
		}
	default:
		t.Fatal("no message produced")
	}
}

func TestNotifyAccountLockedCarriesReason(t *testing.T) {
	asyncProducer := newFakeAsyncProducer()
	publisher := newTestSyncPublisher(t, asyncProducer)

	if err := publisher.NotifyAccountLocked(context.Background(), "subject-1", "failed_attempts"); err != nil {
		t.Fatalf("NotifyAccountLocked: %v", err)
	}

	msg := <-asyncProducer.input
	bytes, err := msg.Value.Encode()
	if err != nil {
		t.Fatalf("Value.Encode: %v", err)
	}

	var event map[string]any
	if err := json.Unmarshal(bytes, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event["action"] != "lock" {
		t.Errorf("action = %v", event["action"])
	}
	if event["reason"] != "failed_attempts" {
		t.Errorf("reason = %v", event["reason"])
	}
	if _, present := event["session_id"]; present {
		t.Error("account-scoped event carried a session_id")
	}
}

func TestPublishDistinctEventIDs(t *testing.T) {
	asyncProducer := newFakeAsyncProducer()
	publisher := newTestSyncPublisher(t, asyncProducer)

	for i := 0; i < 2; i++ {
		if err := publisher.NotifyLogin(context.Background(), "subject-1", "session-1"); err != nil {
			t.Fatalf("NotifyLogin: %v", err)
		}
	}

	seen := make(map[any]bool)
	for i := 0; i < 2; i++ {
		msg := <-asyncProducer.input
		bytes, _ := msg.Value.Encode()
		var event map[string]any
		if err := json.Unmarshal(bytes, &event); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if seen[event["event_id"]] {
			t.Fatal("duplicate event id across publishes")
		}
		seen[event["event_id"]] = true
	}
}
