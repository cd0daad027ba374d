package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
)

type recordingApplier struct {
	events []domain.RegionSyncEvent
	err    error
}

func (a *recordingApplier) Apply(_ context.Context, event domain.RegionSyncEvent) error {
	a.events = append(a.events, event)
	return a.err
}

func TestHandleMessageAppliesEvent(t *testing.T) {
	applier := &recordingApplier{}
	consumer := NewSyncConsumer(applier, zaptest.NewLogger(t))

	event := domain.RegionSyncEvent{
		EventID:   "event-1",
		Action:    domain.SyncActionLogout,
		Subject:   "subject-1",
		SessionID: "session-1",
		Region:    "eu-west-1",
	}
	bytes, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	err = consumer.HandleMessage(context.Background(), &sarama.ConsumerMessage{
		Topic: "auth.region-sync",
		Value: bytes,
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if len(applier.events) != 1 {
		t.Fatalf("applied events = %d, want 1", len(applier.events))
	}
	if applier.events[0].EventID != "event-1" || applier.events[0].Action != domain.SyncActionLogout {
		t.Errorf("applied event = %+v", applier.events[0])
	}
}

func TestHandleMessageRejectsMalformedPayload(t *testing.T) {
	applier := &recordingApplier{}
	consumer := NewSyncConsumer(applier, zaptest.NewLogger(t))

	err := consumer.HandleMessage(context.Background(), &sarama.ConsumerMessage{
		Topic: "auth.region-sync",
		Value: []byte("not json"),
	})
	if err == nil {
		t.Fatal("malformed payload accepted")
	}
	if len(applier.events) != 0 {
		t.Error("malformed payload reached the applier")
	}
}

func TestHandleMessageNil(t *testing.T) {
	consumer := NewSyncConsumer(&recordingApplier{}, zaptest.NewLogger(t))

	if err := consumer.HandleMessage(context.Background(), nil); err == nil {
		t.Fatal("nil message accepted")
	}
}
