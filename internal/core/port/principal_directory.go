package port

import (
	"context"
	"time"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
)

// PrincipalDirectory exposes the identity store the core authenticates
// against. Failure counting and lockout must be atomic per subject: two
// concurrent failed attempts may never undercount.
type PrincipalDirectory interface {
	// Create inserts the principal and writes the supplied outbox event in
	// the same transaction, so provisioning is never observed without its
	// event or vice versa.
	Create(ctx context.Context, principal domain.Principal, event domain.OutboxEvent) error
	GetByID(ctx context.Context, id string) (*domain.Principal, error)
	GetByEmail(ctx context.Context, email string) (*domain.Principal, error)
	// RecordFailedLogin increments the failure counter and, when the
	// threshold is crossed, sets the lockout window in the same statement.
	// Returns the post-increment counter and the lockout deadline if set.
	RecordFailedLogin(ctx context.Context, id string, threshold int, lockFor time.Duration) (int, *time.Time, error)
	// RecordLoginSuccess resets the failure counter and writes the supplied
	// outbox event in the same transaction.
	RecordLoginSuccess(ctx context.Context, id string, at time.Time, event domain.OutboxEvent) error
	Unlock(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id string, passwordHash string, changedAt time.Time) error
}

// OutboxRepository gives the relay access to unpublished events.
type OutboxRepository interface {
	Append(ctx context.Context, event domain.OutboxEvent) error
	FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, eventIDs []string, at time.Time) error
}
