package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/mirastream/streaming-platform-auth/internal/core/port"
)

const defaultDedupePrefix = "auth:sync:seen"

// SyncDedupeStore remembers applied region-sync events. SETNX makes the
// first-delivery check atomic, so a replayed event can never win twice.
type SyncDedupeStore struct {
	client *red.Client
	prefix string
}

// NewSyncDedupeStore wires a Redis client into a dedupe store.
func NewSyncDedupeStore(client *red.Client, keyPrefix string) *SyncDedupeStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultDedupePrefix
	}
	return &SyncDedupeStore{client: client, prefix: prefix}
}

// FirstDelivery returns true exactly once per (eventID, action) within the
// retention window.
func (s *SyncDedupeStore) FirstDelivery(ctx context.Context, eventID, action string, ttl time.Duration) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return false, errors.New("event id is required")
	}
	if ttl <= 0 {
		return false, errors.New("ttl must be positive")
	}

	first, err := s.client.SetNX(ctx, s.key(eventID, action), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx sync dedupe: %w", err)
	}

	return first, nil
}

// Forget releases the marker so a redelivered event is treated as a first
// delivery again.
func (s *SyncDedupeStore) Forget(ctx context.Context, eventID, action string) error {
	if strings.TrimSpace(eventID) == "" {
		return errors.New("event id is required")
	}
	if err := s.client.Del(ctx, s.key(eventID, action)).Err(); err != nil {
		return fmt.Errorf("redis del sync dedupe: %w", err)
	}
	return nil
}

func (s *SyncDedupeStore) key(eventID, action string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, strings.TrimSpace(eventID), strings.TrimSpace(action))
}

var _ port.SyncDedupeStore = (*SyncDedupeStore)(nil)
