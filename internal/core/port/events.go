package port

import (
	"context"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
)

// RegionSyncPublisher fans security-relevant state changes out to peer
// regions. Fire-and-forget, eventually consistent; no ordering guarantee.
type RegionSyncPublisher interface {
	NotifyLogin(ctx context.Context, subject, sessionID string) error
	NotifyLogout(ctx context.Context, subject, sessionID string) error
	NotifyTokenRefresh(ctx context.Context, subject, sessionID string) error
	NotifyAccountLocked(ctx context.Context, subject, reason string) error
	NotifyAccountUnlocked(ctx context.Context, subject, reason string) error
	NotifyPasswordChange(ctx context.Context, subject string) error
}

// RegionSyncApplier converges the local stores on an event received from a
// peer region. Must be idempotent per (event id, action).
type RegionSyncApplier interface {
	Apply(ctx context.Context, event domain.RegionSyncEvent) error
}
