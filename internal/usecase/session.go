package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/core/port"
	"github.com/mirastream/streaming-platform-auth/internal/repository"
)

var (
	// ErrSessionNotFound indicates the session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired indicates the session elapsed its validity or
	// inactivity window.
	ErrSessionExpired = errors.New("session expired")
	// ErrCrossSubjectAccess indicates the session belongs to a different subject.
	ErrCrossSubjectAccess = errors.New("session not owned by subject")
	// ErrMFARequired indicates the policy demands MFA for the operation.
	ErrMFARequired = errors.New("mfa required")
)

// SessionService tracks logged-in devices and enforces per-subject session
// policy: concurrency cap with oldest-first eviction, inactivity timeout,
// and an absolute lifetime cap that extension can never bypass.
type SessionService struct {
	sessions port.SessionStore
	policies port.SessionPolicyProvider
	audit    port.AuditLogger
	logger   *zap.Logger
	now      func() time.Time
}

// NewSessionService constructs a SessionService instance.
func NewSessionService(
	sessions port.SessionStore,
	policies port.SessionPolicyProvider,
	audit port.AuditLogger,
	logger *zap.Logger,
) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &SessionService{
		sessions: sessions,
		policies: policies,
		audit:    audit,
		logger:   logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *SessionService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// CreateSession records a new session for the subject. When the subject is
// at the concurrency cap, the session with the oldest last-used time is
// evicted to make room.
func (s *SessionService) CreateSession(ctx context.Context, subject string, device domain.DeviceMetadata) (*domain.Session, error) {
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}

	policy, err := s.policies.PolicyFor(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("resolve session policy: %w", err)
	}

	if policy.MaxConcurrentSessions > 0 {
		count, err := s.sessions.CountBySubject(ctx, subject)
		if err != nil {
			return nil, fmt.Errorf("count sessions: %w", err)
		}
		for count >= policy.MaxConcurrentSessions {
			oldest, err := s.sessions.OldestBySubject(ctx, subject)
			if err != nil {
				return nil, fmt.Errorf("find oldest session: %w", err)
			}
			if oldest == nil {
				break
			}
			if err := s.sessions.Delete(ctx, oldest.ID); err != nil {
				return nil, fmt.Errorf("evict session: %w", err)
			}
			s.recordAudit(ctx, port.AuditEntry{
				Action:    "session.evicted",
				Subject:   subject,
				SessionID: oldest.ID,
				Reason:    "max_concurrent_sessions",
				At:        s.now(),
			})
			count--
		}
	}

	now := s.now()
	session := domain.Session{
		ID:         uuid.NewString(),
		Subject:    subject,
		Device:     device,
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(policy.SessionDuration),
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &session, nil
}

// ValidateSession checks existence, expiry, and inactivity, touches the
// last-used time on success, and optionally pins the expected subject.
func (s *SessionService) ValidateSession(ctx context.Context, sessionID, expectedSubject string) (*domain.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	now := s.now()
	if !session.IsActive(now) {
		return nil, ErrSessionExpired
	}

	if expectedSubject != "" && session.Subject != expectedSubject {
		s.logger.Warn("cross-subject session access",
			zap.String("session_id", sessionID),
			zap.String("expected_subject", expectedSubject),
		)
		return nil, ErrCrossSubjectAccess
	}

	policy, err := s.policies.PolicyFor(ctx, session.Subject)
	if err != nil {
		return nil, fmt.Errorf("resolve session policy: %w", err)
	}
	if policy.InactivityTimeout > 0 && now.Sub(session.LastUsedAt) > policy.InactivityTimeout {
		return nil, ErrSessionExpired
	}

	session.Touch(now)
	if err := s.sessions.Update(ctx, *session); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}

	return session, nil
}

// ListSessions returns all sessions for the subject, oldest first.
func (s *SessionService) ListSessions(ctx context.Context, subject string) ([]domain.Session, error) {
	sessions, err := s.sessions.ListBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// TerminateSession deletes the session and records the reason. Idempotent:
// terminating an already-gone session succeeds.
func (s *SessionService) TerminateSession(ctx context.Context, sessionID, reason string) error {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get session: %w", err)
	}

	if err := s.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}

	s.recordAudit(ctx, port.AuditEntry{
		Action:    "session.terminated",
		Subject:   session.Subject,
		SessionID: sessionID,
		Reason:    reason,
		At:        s.now(),
	})

	return nil
}

// TerminateAllSessions deletes every session for the subject except an
// optional excluded one, returning the number removed.
func (s *SessionService) TerminateAllSessions(ctx context.Context, subject, exceptSessionID, reason string) (int, error) {
	sessions, err := s.sessions.ListBySubject(ctx, subject)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	removed := 0
	for _, session := range sessions {
		if session.ID == exceptSessionID {
			continue
		}
		if err := s.sessions.Delete(ctx, session.ID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return removed, fmt.Errorf("delete session: %w", err)
		}
		removed++
	}

	if removed > 0 {
		s.recordAudit(ctx, port.AuditEntry{
			Action:  "session.terminated_all",
			Subject: subject,
			Reason:  reason,
			At:      s.now(),
			Details: map[string]any{"removed": removed, "except": exceptSessionID},
		})
	}

	return removed, nil
}

// ExtendSession pushes the expiry forward per policy, clamped to the
// absolute cap measured from creation. Repeated calls never exceed the cap.
func (s *SessionService) ExtendSession(ctx context.Context, sessionID string, mfaVerified bool) (*domain.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	now := s.now()
	if !session.IsActive(now) {
		return nil, ErrSessionExpired
	}

	policy, err := s.policies.PolicyFor(ctx, session.Subject)
	if err != nil {
		return nil, fmt.Errorf("resolve session policy: %w", err)
	}
	if policy.RequireMFAForExtension && !mfaVerified {
		return nil, ErrMFARequired
	}

	newExpiry := now.Add(policy.SessionDuration)
	if policy.AbsoluteSessionTimeout > 0 {
		limit := session.CreatedAt.Add(policy.AbsoluteSessionTimeout)
		if newExpiry.After(limit) {
			newExpiry = limit
		}
	}
	if newExpiry.Equal(session.ExpiresAt) {
		return session, nil
	}

	session.ExpiresAt = newExpiry
	session.Touch(now)
	if err := s.sessions.Update(ctx, *session); err != nil {
		return nil, fmt.Errorf("extend session: %w", err)
	}

	return session, nil
}

// GetSessionPolicy exposes the effective policy for a subject. Read-only.
func (s *SessionService) GetSessionPolicy(ctx context.Context, subject string) (domain.SessionPolicy, error) {
	return s.policies.PolicyFor(ctx, subject)
}

func (s *SessionService) recordAudit(ctx context.Context, entry port.AuditEntry) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, entry)
}
