package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/core/port"
	"github.com/mirastream/streaming-platform-auth/internal/repository"
)

const (
	defaultSessionPrefix      = "auth:session"
	defaultSessionIndexPrefix = "auth:sessions"
)

// SessionStore keeps session records in Redis with a per-subject sorted-set
// index scored by last-used time, which makes oldest-first eviction a
// single ZRANGE.
type SessionStore struct {
	client      *red.Client
	prefix      string
	indexPrefix string
	now         func() time.Time
}

// NewSessionStore wires a Redis client into a session store.
func NewSessionStore(client *red.Client, keyPrefix string) *SessionStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultSessionPrefix
	}
	return &SessionStore{
		client:      client,
		prefix:      prefix,
		indexPrefix: defaultSessionIndexPrefix,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the store clock for deterministic tests.
func (s *SessionStore) WithClock(clock func() time.Time) *SessionStore {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Create stores the session and indexes it under its subject.
func (s *SessionStore) Create(ctx context.Context, session domain.Session) error {
	if strings.TrimSpace(session.ID) == "" {
		return errors.New("session id is required")
	}
	if strings.TrimSpace(session.Subject) == "" {
		return errors.New("subject is required")
	}

	return s.write(ctx, session)
}

// Get fetches a session by ID. Expired keys vanish on their own; the index
// entry is cleaned up lazily on the next list.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	return &session, nil
}

// Update rewrites the session record and refreshes its index score.
func (s *SessionStore) Update(ctx context.Context, session domain.Session) error {
	if _, err := s.Get(ctx, session.ID); err != nil {
		return err
	}
	return s.write(ctx, session)
}

// Delete removes the session and its index entry. Idempotent.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(sessionID))
	pipe.ZRem(ctx, s.indexKey(session.Subject), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}

	return nil
}

// ListBySubject returns the subject's live sessions ordered oldest first,
// pruning index entries whose session key has expired.
func (s *SessionStore) ListBySubject(ctx context.Context, subject string) ([]domain.Session, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(subject), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange sessions: %w", err)
	}

	sessions := make([]domain.Session, 0, len(ids))
	var stale []any
	for _, id := range ids {
		session, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				stale = append(stale, id)
				continue
			}
			return nil, err
		}
		sessions = append(sessions, *session)
	}

	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(subject), stale...).Err(); err != nil {
			return nil, fmt.Errorf("redis prune session index: %w", err)
		}
	}

	return sessions, nil
}

// OldestBySubject returns the live session with the oldest last-used time.
func (s *SessionStore) OldestBySubject(ctx context.Context, subject string) (*domain.Session, error) {
	sessions, err := s.ListBySubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

// CountBySubject returns the number of live sessions for the subject.
func (s *SessionStore) CountBySubject(ctx context.Context, subject string) (int, error) {
	sessions, err := s.ListBySubject(ctx, subject)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

func (s *SessionStore) write(ctx context.Context, session domain.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("session already expired")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(session.ID), payload, ttl)
	pipe.ZAdd(ctx, s.indexKey(session.Subject), red.Z{
		Score:  float64(session.LastUsedAt.UnixNano()),
		Member: session.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis write session: %w", err)
	}

	return nil
}

func (s *SessionStore) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, strings.TrimSpace(sessionID))
}

func (s *SessionStore) indexKey(subject string) string {
	return fmt.Sprintf("%s:%s", s.indexPrefix, strings.TrimSpace(subject))
}

var _ port.SessionStore = (*SessionStore)(nil)
