package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/repository"
	"github.com/mirastream/streaming-platform-auth/internal/usecase"
)

type stubSessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

func newStubSessionStore() *stubSessionStore {
	return &stubSessionStore{sessions: make(map[string]domain.Session)}
}

func (s *stubSessionStore) Create(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *stubSessionStore) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &session, nil
}

func (s *stubSessionStore) Update(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *stubSessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *stubSessionStore) ListBySubject(_ context.Context, subject string) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Session
	for _, session := range s.sessions {
		if session.Subject == subject {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.Before(out[j].LastUsedAt) })
	return out, nil
}

func (s *stubSessionStore) OldestBySubject(ctx context.Context, subject string) (*domain.Session, error) {
	sessions, err := s.ListBySubject(ctx, subject)
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	oldest := sessions[0]
	return &oldest, nil
}

func (s *stubSessionStore) CountBySubject(ctx context.Context, subject string) (int, error) {
	sessions, err := s.ListBySubject(ctx, subject)
	return len(sessions), err
}

func seedStoredSession(t *testing.T, store *stubSessionStore, id, subject string) {
	t.Helper()
	now := time.Now().UTC()
	err := store.Create(context.Background(), domain.Session{
		ID:         id,
		Subject:    subject,
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func newAdminSessionRouter(store *stubSessionStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	service := usecase.NewSessionService(store, usecase.NewStaticPolicyProvider(domain.SessionPolicy{
		MaxConcurrentSessions:  5,
		SessionDuration:        time.Hour,
		InactivityTimeout:      30 * time.Minute,
		AbsoluteSessionTimeout: 2 * time.Hour,
	}), nil, nil)

	router := gin.New()
	handler := NewSessionHandler(service)
	handler.RegisterAdminRoutes(router.Group("/api/v1/admin"))
	return router
}

func TestAdminTerminateAllRemovesEverySessionOfSubject(t *testing.T) {
	store := newStubSessionStore()
	seedStoredSession(t, store, "session-1", "subject-1")
	seedStoredSession(t, store, "session-2", "subject-1")
	seedStoredSession(t, store, "session-3", "subject-2")

	router := newAdminSessionRouter(store)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/admin/users/subject-1/sessions", nil)
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp SessionTerminateAllResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TerminatedCount != 2 {
		t.Errorf("terminated = %d, want 2", resp.TerminatedCount)
	}

	count, _ := store.CountBySubject(context.Background(), "subject-1")
	if count != 0 {
		t.Errorf("subject-1 sessions left = %d, want 0", count)
	}
	if _, err := store.Get(context.Background(), "session-3"); err != nil {
		t.Error("other subject's session was removed")
	}
}

func TestAdminTerminateAllForUnknownSubjectReportsZero(t *testing.T) {
	router := newAdminSessionRouter(newStubSessionStore())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/admin/users/ghost/sessions", nil)
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp SessionTerminateAllResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TerminatedCount != 0 {
		t.Errorf("terminated = %d, want 0", resp.TerminatedCount)
	}
}
