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
	defaultRefreshPrefix   = "auth:rt"
	defaultBlacklistPrefix = "auth:bl"
)

// TokenStore persists refresh-token records and the token blacklist in
// Redis. Every key carries a TTL matching the token lifetime, so expiry is
// store-native and no sweeper runs.
type TokenStore struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

// NewTokenStore wires a Redis client into a token store.
func NewTokenStore(client *red.Client, keyPrefix string) *TokenStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRefreshPrefix
	}
	return &TokenStore{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the store clock for deterministic tests.
func (s *TokenStore) WithClock(clock func() time.Time) *TokenStore {
	if clock != nil {
		s.now = clock
	}
	return s
}

// CreateRefreshToken stores the record keyed by token ID with a TTL
// matching its expiry.
func (s *TokenStore) CreateRefreshToken(ctx context.Context, record domain.RefreshTokenRecord) error {
	if strings.TrimSpace(record.TokenID) == "" {
		return errors.New("token id is required")
	}

	ttl := record.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("record already expired")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode refresh token record: %w", err)
	}

	if err := s.client.Set(ctx, s.refreshKey(record.TokenID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set refresh token: %w", err)
	}

	return nil
}

// GetRefreshToken fetches a record without consuming it.
func (s *TokenStore) GetRefreshToken(ctx context.Context, tokenID string) (*domain.RefreshTokenRecord, error) {
	data, err := s.client.Get(ctx, s.refreshKey(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get refresh token: %w", err)
	}

	return decodeRefreshRecord(data)
}

// ConsumeRefreshToken atomically fetches and deletes the record. GETDEL is
// a single Redis command, so of two concurrent rotation attempts exactly
// one receives the record; the other sees ErrNotFound.
func (s *TokenStore) ConsumeRefreshToken(ctx context.Context, tokenID string) (*domain.RefreshTokenRecord, error) {
	data, err := s.client.GetDel(ctx, s.refreshKey(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis getdel refresh token: %w", err)
	}

	return decodeRefreshRecord(data)
}

// DeleteRefreshToken removes the record. Missing keys are not an error;
// revocation is idempotent.
func (s *TokenStore) DeleteRefreshToken(ctx context.Context, tokenID string) error {
	if err := s.client.Del(ctx, s.refreshKey(tokenID)).Err(); err != nil {
		return fmt.Errorf("redis del refresh token: %w", err)
	}
	return nil
}

func (s *TokenStore) refreshKey(tokenID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, strings.TrimSpace(tokenID))
}

func decodeRefreshRecord(data []byte) (*domain.RefreshTokenRecord, error) {
	var record domain.RefreshTokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode refresh token record: %w", err)
	}
	return &record, nil
}

// BlacklistStore rejects presented tokens ahead of their natural expiry.
type BlacklistStore struct {
	client *red.Client
	prefix string
}

// NewBlacklistStore wires a Redis client into a blacklist.
func NewBlacklistStore(client *red.Client, keyPrefix string) *BlacklistStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultBlacklistPrefix
	}
	return &BlacklistStore{client: client, prefix: prefix}
}

// Add stores the token hash with the supplied reason until the token would
// have expired anyway.
func (b *BlacklistStore) Add(ctx context.Context, tokenHash, reason string, ttl time.Duration) error {
	if strings.TrimSpace(tokenHash) == "" {
		return errors.New("token hash is required")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	if err := b.client.Set(ctx, b.key(tokenHash), reason, ttl).Err(); err != nil {
		return fmt.Errorf("redis set blacklist entry: %w", err)
	}

	return nil
}

// Contains reports whether the hash is blacklisted and the stored reason.
func (b *BlacklistStore) Contains(ctx context.Context, tokenHash string) (bool, string, error) {
	value, err := b.client.Get(ctx, b.key(tokenHash)).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("redis get blacklist entry: %w", err)
	}

	return true, value, nil
}

func (b *BlacklistStore) key(tokenHash string) string {
	return fmt.Sprintf("%s:%s", b.prefix, strings.TrimSpace(tokenHash))
}

var (
	_ port.RefreshTokenStore = (*TokenStore)(nil)
	_ port.Blacklist         = (*BlacklistStore)(nil)
)
