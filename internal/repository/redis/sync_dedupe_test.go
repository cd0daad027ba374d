package redis

import (
	"context"
	"testing"
	"time"
)

func TestSyncDedupeFirstDeliveryWinsOnce(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewSyncDedupeStore(client, "")

	first, err := store.FirstDelivery(context.Background(), "event-1", "logout", time.Minute)
	if err != nil {
		t.Fatalf("FirstDelivery: %v", err)
	}
	if !first {
		t.Fatal("expected first delivery to win")
	}

	again, err := store.FirstDelivery(context.Background(), "event-1", "logout", time.Minute)
	if err != nil {
		t.Fatalf("FirstDelivery: %v", err)
	}
	if again {
		t.Fatal("duplicate delivery claimed the marker")
	}
}

func TestSyncDedupeForgetReopensTheMarker(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewSyncDedupeStore(client, "")

	if _, err := store.FirstDelivery(context.Background(), "event-1", "logout", time.Minute); err != nil {
		t.Fatalf("FirstDelivery: %v", err)
	}
	if err := store.Forget(context.Background(), "event-1", "logout"); err != nil {
		t.Fatalf("Forget: %v", err)
	}

	first, err := store.FirstDelivery(context.Background(), "event-1", "logout", time.Minute)
	if err != nil {
		t.Fatalf("FirstDelivery: %v", err)
	}
	if !first {
		t.Fatal("released marker still blocked redelivery")
	}

	// Forgetting a marker that was never claimed is a no-op.
	if err := store.Forget(context.Background(), "event-2", "logout"); err != nil {
		t.Fatalf("Forget absent marker: %v", err)
	}
}
