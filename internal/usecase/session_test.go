package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/core/port"
)

func defaultTestPolicy() domain.SessionPolicy {
	return domain.SessionPolicy{
		MaxConcurrentSessions:  2,
		SessionDuration:        time.Hour,
		InactivityTimeout:      30 * time.Minute,
		AbsoluteSessionTimeout: 2 * time.Hour,
	}
}

func newTestSessionService(store *memSessionStore, audit *recordingAudit, policy domain.SessionPolicy) *SessionService {
	// A typed nil pointer would still satisfy the interface and slip past
	// the service's nil guard, so only hand the sink over when it exists.
	var sink port.AuditLogger
	if audit != nil {
		sink = audit
	}
	return NewSessionService(store, NewStaticPolicyProvider(policy), sink, nil)
}

func TestCreateSessionEvictsOldestAtCap(t *testing.T) {
	store := newMemSessionStore()
	audit := &recordingAudit{}
	service := newTestSessionService(store, audit, defaultTestPolicy())

	base := time.Now().UTC()
	clock := base
	service.WithClock(func() time.Time { return clock })

	first, err := service.CreateSession(context.Background(), "subject-1", domain.DeviceMetadata{DeviceType: "tv"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	clock = base.Add(time.Minute)
	second, err := service.CreateSession(context.Background(), "subject-1", domain.DeviceMetadata{DeviceType: "mobile"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	clock = base.Add(2 * time.Minute)
	third, err := service.CreateSession(context.Background(), "subject-1", domain.DeviceMetadata{DeviceType: "web"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, err := store.Get(context.Background(), first.ID); err == nil {
		t.Fatal("oldest session survived past the concurrency cap")
	}
	for _, id := range []string{second.ID, third.ID} {
		if _, err := store.Get(context.Background(), id); err != nil {
			t.Fatalf("session %s missing: %v", id, err)
		}
	}

	entries := audit.recorded()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if entries[0].Action != "session.evicted" || entries[0].SessionID != first.ID {
		t.Errorf("audit entry = %+v", entries[0])
	}
}

func TestCreateSessionDoesNotEvictOtherSubjects(t *testing.T) {
	store := newMemSessionStore()
	service := newTestSessionService(store, nil, defaultTestPolicy())

	for i := 0; i < 3; i++ {
		if _, err := service.CreateSession(context.Background(), "subject-a", domain.DeviceMetadata{}); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}
	other, err := service.CreateSession(context.Background(), "subject-b", domain.DeviceMetadata{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, err := store.Get(context.Background(), other.ID); err != nil {
		t.Fatalf("other subject's session missing: %v", err)
	}
	count, _ := store.CountBySubject(context.Background(), "subject-a")
	if count != 2 {
		t.Errorf("subject-a sessions = %d, want 2", count)
	}
}

func TestValidateSessionTouchesLastUsed(t *testing.T) {
	store := newMemSessionStore()
	service := newTestSessionService(store, nil, defaultTestPolicy())

	base := time.Now().UTC()
	clock := base
	service.WithClock(func() time.Time { return clock })

	session, err := service.CreateSession(context.Background(), "subject-1", domain.DeviceMetadata{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	clock = base.Add(10 * time.Minute)
	validated, err := service.ValidateSession(context.Background(), session.ID, "subject-1")
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if !validated.LastUsedAt.Equal(clock) {
		t.Errorf("last used = %v, want %v", validated.LastUsedAt, clock)
	}

	stored, err := store.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !stored.LastUsedAt.Equal(clock) {
		t.Errorf("stored last used = %v, want %v", stored.LastUsedAt, clock)
	}
}

func TestValidateSessionInactivityTimeout(t *testing.T) {
	store := newMemSessionStore()
	service := newTestSessionService(store, nil, defaultTestPolicy())

	base := time.Now().UTC()
	clock := base
	service.WithClock(func() time.Time { return clock })

	session, err := service.CreateSession(context.Background(), "subject-1", domain.DeviceMetadata{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	clock = base.Add(31 * time.Minute)
	if _, err := service.ValidateSession(context.Background(), session.ID, "subject-1"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
}

func TestValidateSessionCrossSubject(t *testing.T) {
	store := newMemSessionStore()
	service := newTestSessionService(store, nil, defaultTestPolicy())

	session, err := service.CreateSession(context.Background(), "subject-1", domain.DeviceMetadata{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, err := service.ValidateSession(context.Background(), session.ID, "subject-2"); !errors.Is(err, ErrCrossSubjectAccess) {
		t.Fatalf("err = %v, want ErrCrossSubjectAccess", err)
	}
	// The failed check must not count as activity.
	stored, err := store.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !stored.LastUsedAt.Equal(session.LastUsedAt) {
		t.Error("cross-subject access touched the session")
	}
}

func TestValidateSessionNotFound(t *testing.T) {
	service := newTestSessionService(newMemSessionStore(), nil, defaultTestPolicy())

	if _, err := service.ValidateSession(context.Background(), "missing", ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestTerminateSessionIdempotent(t *testing.T) {
	store := newMemSessionStore()
	audit := &recordingAudit{}
	service := newTestSessionService(store, audit, defaultTestPolicy())

	session, err := service.CreateSession(context.Background(), "subject-1", domain.DeviceMetadata{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := service.TerminateSession(context.Background(), session.ID, "logout"); err != nil {
		t.Fatalf("TerminateSession: %v", err)
	}
	if err := service.TerminateSession(context.Background(), session.ID, "logout"); err != nil {
		t.Fatalf("repeat TerminateSession: %v", err)
	}

	entries := audit.recorded()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if entries[0].Action != "session.terminated" || entries[0].Reason != "logout" {
		t.Errorf("audit entry = %+v", entries[0])
	}
}

func TestTerminateAllSessionsKeepsException(t *testing.T) {
	store := newMemSessionStore()
	service := newTestSessionService(store, nil, domain.SessionPolicy{
		MaxConcurrentSessions: 10,
		SessionDuration:       time.Hour,
	})

	var keep string
	for i := 0; i < 4; i++ {
		session, err := service.CreateSession(context.Background(), "subject-1", domain.DeviceMetadata{})
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if i == 2 {
			keep = session.ID
		}
	}

	removed, err := service.TerminateAllSessions(context.Background(), "subject-1", keep, "password_change")
	if err != nil {
		t.Fatalf("TerminateAllSessions: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}

	remaining, err := store.ListBySubject(context.Background(), "subject-1")
	if err != nil {
		t.Fatalf("ListBySubject: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != keep {
		t.Errorf("remaining = %+v", remaining)
	}
}

func TestExtendSessionClampsToAbsoluteCap(t *testing.T) {
	store := newMemSessionStore()
	service := newTestSessionService(store, nil, defaultTestPolicy())

	base := time.Now().UTC()
	clock := base
	service.WithClock(func() time.Time { return clock })

	session, err := service.CreateSession(context.Background(), "subject-1", domain.DeviceMetadata{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	limit := base.Add(2 * time.Hour)
	for i := 1; i <= 4; i++ {
		clock = base.Add(time.Duration(i) * 25 * time.Minute)
		extended, err := service.ExtendSession(context.Background(), session.ID, false)
		if err != nil {
			t.Fatalf("ExtendSession %d: %v", i, err)
		}
		if extended.ExpiresAt.After(limit) {
			t.Fatalf("extension %d pushed expiry to %v past cap %v", i, extended.ExpiresAt, limit)
		}
	}

	stored, err := store.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !stored.ExpiresAt.Equal(limit) {
		t.Errorf("final expiry = %v, want cap %v", stored.ExpiresAt, limit)
	}
}

func TestExtendSessionRequiresMFAPerPolicy(t *testing.T) {
	policy := defaultTestPolicy()
	policy.RequireMFAForExtension = true
	store := newMemSessionStore()
	service := newTestSessionService(store, nil, policy)

	session, err := service.CreateSession(context.Background(), "subject-1", domain.DeviceMetadata{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, err := service.ExtendSession(context.Background(), session.ID, false); !errors.Is(err, ErrMFARequired) {
		t.Fatalf("err = %v, want ErrMFARequired", err)
	}
	if _, err := service.ExtendSession(context.Background(), session.ID, true); err != nil {
		t.Fatalf("ExtendSession with MFA: %v", err)
	}
}

func TestExtendExpiredSession(t *testing.T) {
	store := newMemSessionStore()
	service := newTestSessionService(store, nil, defaultTestPolicy())

	base := time.Now().UTC()
	clock := base
	service.WithClock(func() time.Time { return clock })

	session, err := service.CreateSession(context.Background(), "subject-1", domain.DeviceMetadata{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	clock = base.Add(time.Hour + time.Second)
	if _, err := service.ExtendSession(context.Background(), session.ID, false); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
}

func TestPolicyProviderOverride(t *testing.T) {
	provider := NewStaticPolicyProvider(defaultTestPolicy())
	override := domain.SessionPolicy{MaxConcurrentSessions: 1, SessionDuration: 10 * time.Minute}
	provider.SetOverride("premium-1", override)

	got, err := provider.PolicyFor(context.Background(), "premium-1")
	if err != nil {
		t.Fatalf("PolicyFor: %v", err)
	}
	if got.MaxConcurrentSessions != 1 {
		t.Errorf("override not applied: %+v", got)
	}

	base, err := provider.PolicyFor(context.Background(), "someone-else")
	if err != nil {
		t.Fatalf("PolicyFor: %v", err)
	}
	if base.MaxConcurrentSessions != 2 {
		t.Errorf("base policy = %+v", base)
	}
}
