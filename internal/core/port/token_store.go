package port

import (
	"context"
	"time"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
)

// RefreshTokenStore persists refresh-token records in a TTL-capable store.
//
// Consume is the crux: it must atomically fetch-and-delete so that of two
// concurrent rotation attempts on the same token ID, exactly one receives
// the record and the other observes absence.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, record domain.RefreshTokenRecord) error
	GetRefreshToken(ctx context.Context, tokenID string) (*domain.RefreshTokenRecord, error)
	ConsumeRefreshToken(ctx context.Context, tokenID string) (*domain.RefreshTokenRecord, error)
	DeleteRefreshToken(ctx context.Context, tokenID string) error
}

// Blacklist rejects tokens ahead of their natural expiry. Entries expire on
// their own; no sweeper is required.
type Blacklist interface {
	Add(ctx context.Context, tokenHash, reason string, ttl time.Duration) error
	Contains(ctx context.Context, tokenHash string) (bool, string, error)
}

// AuthorizationCodeStore persists single-use authorization codes.
// Consume follows the same exactly-one-winner contract as refresh tokens.
type AuthorizationCodeStore interface {
	CreateCode(ctx context.Context, code domain.AuthorizationCode) error
	ConsumeCode(ctx context.Context, code string) (*domain.AuthorizationCode, error)
}

// SyncDedupeStore remembers applied region-sync events so duplicate
// delivery never double-applies.
type SyncDedupeStore interface {
	// FirstDelivery returns true exactly once per (eventID, action) pair
	// within the retention window.
	FirstDelivery(ctx context.Context, eventID, action string, ttl time.Duration) (bool, error)
	// Forget releases the marker so a redelivery can win again. Used when
	// applying the event failed after the marker was claimed.
	Forget(ctx context.Context, eventID, action string) error
}
