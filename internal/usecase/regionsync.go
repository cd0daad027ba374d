package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/core/port"
	"github.com/mirastream/streaming-platform-auth/internal/repository"
)

// Retention for dedupe markers. Long enough to outlive any realistic
// redelivery, short enough to keep the keyspace bounded.
const syncDedupeTTL = 24 * time.Hour

// RegionSyncService converges local state on events published by peer
// regions. Application is idempotent per (event id, action): duplicate
// delivery is detected via the dedupe store and skipped, and every
// individual action is itself a no-op when the state already matches.
type RegionSyncService struct {
	region   string
	dedupe   port.SyncDedupeStore
	sessions port.SessionStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewRegionSyncService constructs the applier for the local region.
func NewRegionSyncService(
	region string,
	dedupe port.SyncDedupeStore,
	sessions port.SessionStore,
	logger *zap.Logger,
) *RegionSyncService {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &RegionSyncService{
		region:   region,
		dedupe:   dedupe,
		sessions: sessions,
		logger:   logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *RegionSyncService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Apply handles one event from the broadcast channel. Events originating
// in the local region are skipped: the local stores already changed when
// the event was published.
func (s *RegionSyncService) Apply(ctx context.Context, event domain.RegionSyncEvent) error {
	if event.Region == s.region {
		return nil
	}

	first, err := s.dedupe.FirstDelivery(ctx, event.EventID, event.Action, syncDedupeTTL)
	if err != nil {
		return fmt.Errorf("dedupe check: %w", err)
	}
	if !first {
		s.logger.Debug("duplicate sync event skipped",
			zap.String("event_id", event.EventID),
			zap.String("action", event.Action),
		)
		return nil
	}

	var applyErr error
	switch event.Action {
	case domain.SyncActionLogin, domain.SyncActionRefresh:
		// Informational: the owning region holds the session. Nothing to
		// converge locally.
	case domain.SyncActionLogout:
		applyErr = s.removeSession(ctx, event.SessionID)
	case domain.SyncActionLock, domain.SyncActionPasswordChange:
		applyErr = s.removeAllSessions(ctx, event.Subject)
	case domain.SyncActionUnlock:
	default:
		s.logger.Warn("unknown sync action", zap.String("action", event.Action))
	}

	if applyErr != nil {
		// Release the marker so a redelivery gets another chance; the
		// consumer acknowledges regardless of the outcome here, and a
		// claimed marker would otherwise drop the event for good.
		if err := s.dedupe.Forget(ctx, event.EventID, event.Action); err != nil {
			s.logger.Error("failed to release sync dedupe marker",
				zap.String("event_id", event.EventID),
				zap.String("action", event.Action),
				zap.Error(err),
			)
		}
		return applyErr
	}

	return nil
}

func (s *RegionSyncService) removeSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RegionSyncService) removeAllSessions(ctx context.Context, subject string) error {
	if subject == "" {
		return nil
	}
	sessions, err := s.sessions.ListBySubject(ctx, subject)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	for _, session := range sessions {
		if err := s.sessions.Delete(ctx, session.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	return nil
}

var _ port.RegionSyncApplier = (*RegionSyncService)(nil)
