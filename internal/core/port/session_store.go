package port

import (
	"context"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
)

// SessionStore deals with session storage and the per-subject index.
type SessionStore interface {
	Create(ctx context.Context, session domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Update(ctx context.Context, session domain.Session) error
	Delete(ctx context.Context, sessionID string) error
	ListBySubject(ctx context.Context, subject string) ([]domain.Session, error)
	// OldestBySubject returns the session with the oldest last-used time,
	// or nil when the subject has none.
	OldestBySubject(ctx context.Context, subject string) (*domain.Session, error)
	CountBySubject(ctx context.Context, subject string) (int, error)
}

// SessionPolicyProvider resolves the session policy for a subject.
// Read-only to the core.
type SessionPolicyProvider interface {
	PolicyFor(ctx context.Context, subject string) (domain.SessionPolicy, error)
}
