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

const defaultCodePrefix = "auth:code"

// CodeStore persists single-use authorization codes. The short TTL is the
// expiry mechanism; consumption uses GETDEL so only one exchange of a given
// code can ever observe it.
type CodeStore struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

// NewCodeStore wires a Redis client into an authorization-code store.
func NewCodeStore(client *red.Client, keyPrefix string) *CodeStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultCodePrefix
	}
	return &CodeStore{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the store clock for deterministic tests.
func (s *CodeStore) WithClock(clock func() time.Time) *CodeStore {
	if clock != nil {
		s.now = clock
	}
	return s
}

// CreateCode stores the code with a TTL matching its expiry.
func (s *CodeStore) CreateCode(ctx context.Context, code domain.AuthorizationCode) error {
	if strings.TrimSpace(code.Code) == "" {
		return errors.New("code is required")
	}

	ttl := code.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("code already expired")
	}

	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("encode authorization code: %w", err)
	}

	if err := s.client.Set(ctx, s.key(code.Code), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set authorization code: %w", err)
	}

	return nil
}

// ConsumeCode atomically fetches and deletes the code. A second consume of
// the same code returns ErrNotFound, even under concurrent exchanges.
func (s *CodeStore) ConsumeCode(ctx context.Context, code string) (*domain.AuthorizationCode, error) {
	data, err := s.client.GetDel(ctx, s.key(code)).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis getdel authorization code: %w", err)
	}

	var record domain.AuthorizationCode
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode authorization code: %w", err)
	}

	return &record, nil
}

func (s *CodeStore) key(code string) string {
	return fmt.Sprintf("%s:%s", s.prefix, strings.TrimSpace(code))
}

var _ port.AuthorizationCodeStore = (*CodeStore)(nil)
