package usecase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/core/port"
	"github.com/mirastream/streaming-platform-auth/internal/infra/config"
	"github.com/mirastream/streaming-platform-auth/internal/infra/security"
	"github.com/mirastream/streaming-platform-auth/internal/repository"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		App: config.AppSettings{
			Name:   "streaming-platform-auth",
			Region: "us-east-1",
		},
		JWT: config.JWTSettings{
			Issuer:          "https://auth.example.com",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: time.Hour,
		},
		OAuth: config.OAuthSettings{
			CodeTTL:        60 * time.Second,
			CodeByteLength: 32,
			RequirePKCE:    true,
			Clients: []config.OAuthClientSettings{
				{
					ClientID:     "player-app",
					RedirectURIs: []string{"https://app.example.com/callback"},
					Public:       true,
				},
			},
		},
		Session: config.SessionSettings{
			MaxConcurrent:     2,
			Duration:          time.Hour,
			InactivityTimeout: 30 * time.Minute,
			AbsoluteTimeout:   2 * time.Hour,
		},
		Lockout: config.LockoutSettings{
			Threshold: 3,
			Duration:  15 * time.Minute,
		},
	}
}

// memTokenStore is an in-memory RefreshTokenStore with the same
// exactly-one-winner consume semantics as the Redis implementation.
type memTokenStore struct {
	mu      sync.Mutex
	records map[string]domain.RefreshTokenRecord
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{records: make(map[string]domain.RefreshTokenRecord)}
}

func (s *memTokenStore) CreateRefreshToken(_ context.Context, record domain.RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.TokenID] = record
	return nil
}

func (s *memTokenStore) GetRefreshToken(_ context.Context, tokenID string) (*domain.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[tokenID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := record
	return &copied, nil
}

func (s *memTokenStore) ConsumeRefreshToken(_ context.Context, tokenID string) (*domain.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[tokenID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delete(s.records, tokenID)
	copied := record
	return &copied, nil
}

func (s *memTokenStore) DeleteRefreshToken(_ context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, tokenID)
	return nil
}

func (s *memTokenStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type memBlacklist struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemBlacklist() *memBlacklist {
	return &memBlacklist{entries: make(map[string]string)}
}

func (b *memBlacklist) Add(_ context.Context, tokenHash, reason string, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[tokenHash] = reason
	return nil
}

func (b *memBlacklist) Contains(_ context.Context, tokenHash string) (bool, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	reason, ok := b.entries[tokenHash]
	return ok, reason, nil
}

type memCodeStore struct {
	mu    sync.Mutex
	codes map[string]domain.AuthorizationCode
}

func newMemCodeStore() *memCodeStore {
	return &memCodeStore{codes: make(map[string]domain.AuthorizationCode)}
}

func (s *memCodeStore) CreateCode(_ context.Context, code domain.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Code] = code
	return nil
}

func (s *memCodeStore) ConsumeCode(_ context.Context, code string) (*domain.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.codes[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delete(s.codes, code)
	copied := record
	return &copied, nil
}

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]domain.Session)}
}

func (s *memSessionStore) Create(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *memSessionStore) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := session
	return &copied, nil
}

func (s *memSessionStore) Update(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return repository.ErrNotFound
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *memSessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *memSessionStore) ListBySubject(_ context.Context, subject string) ([]domain.Session, error) {
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

func (s *memSessionStore) OldestBySubject(ctx context.Context, subject string) (*domain.Session, error) {
	sessions, err := s.ListBySubject(ctx, subject)
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	oldest := sessions[0]
	return &oldest, nil
}

func (s *memSessionStore) CountBySubject(ctx context.Context, subject string) (int, error) {
	sessions, err := s.ListBySubject(ctx, subject)
	return len(sessions), err
}

// memPrincipals is an in-memory PrincipalDirectory that records the
// outbox events handed to its transactional methods.
type memPrincipals struct {
	mu     sync.Mutex
	byID   map[string]domain.Principal
	events []domain.OutboxEvent
}

func newMemPrincipals(principals ...domain.Principal) *memPrincipals {
	store := &memPrincipals{
		byID: make(map[string]domain.Principal),
	}
	for _, p := range principals {
		store.byID[p.ID] = p
	}
	return store
}

func (s *memPrincipals) Create(_ context.Context, principal domain.Principal, event domain.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.Email == principal.Email {
			return repository.ErrConflict
		}
	}
	s.byID[principal.ID] = principal
	s.events = append(s.events, event)
	return nil
}

func (s *memPrincipals) GetByID(_ context.Context, id string) (*domain.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	principal, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := principal
	return &copied, nil
}

func (s *memPrincipals) GetByEmail(_ context.Context, email string) (*domain.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, principal := range s.byID {
		if principal.Email == email {
			copied := principal
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memPrincipals) RecordFailedLogin(_ context.Context, id string, threshold int, lockFor time.Duration) (int, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	principal, ok := s.byID[id]
	if !ok {
		return 0, nil, repository.ErrNotFound
	}
	principal.FailedAttempts++
	if principal.FailedAttempts >= threshold {
		until := time.Now().UTC().Add(lockFor)
		principal.LockUntil = &until
	}
	s.byID[id] = principal
	return principal.FailedAttempts, principal.LockUntil, nil
}

func (s *memPrincipals) RecordLoginSuccess(_ context.Context, id string, at time.Time, event domain.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	principal, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	principal.FailedAttempts = 0
	principal.LockUntil = nil
	principal.LastLogin = &at
	s.byID[id] = principal
	s.events = append(s.events, event)
	return nil
}

func (s *memPrincipals) Unlock(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	principal, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	principal.FailedAttempts = 0
	principal.LockUntil = nil
	s.byID[id] = principal
	return nil
}

func (s *memPrincipals) UpdatePassword(_ context.Context, id, passwordHash string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	principal, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	principal.PasswordHash = passwordHash
	s.byID[id] = principal
	return nil
}

func (s *memPrincipals) recordedEvents() []domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxEvent(nil), s.events...)
}

// recordingSync captures fan-out notifications.
type recordingSync struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingSync) record(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return nil
}

func (r *recordingSync) NotifyLogin(_ context.Context, subject, sessionID string) error {
	return r.record("login:" + subject + ":" + sessionID)
}
func (r *recordingSync) NotifyLogout(_ context.Context, subject, sessionID string) error {
	return r.record("logout:" + subject + ":" + sessionID)
}
func (r *recordingSync) NotifyTokenRefresh(_ context.Context, subject, sessionID string) error {
	return r.record("refresh:" + subject + ":" + sessionID)
}
func (r *recordingSync) NotifyAccountLocked(_ context.Context, subject, reason string) error {
	return r.record("lock:" + subject + ":" + reason)
}
func (r *recordingSync) NotifyAccountUnlocked(_ context.Context, subject, reason string) error {
	return r.record("unlock:" + subject + ":" + reason)
}
func (r *recordingSync) NotifyPasswordChange(_ context.Context, subject string) error {
	return r.record("password_change:" + subject)
}

func (r *recordingSync) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []port.AuditEntry
}

func (r *recordingAudit) Record(_ context.Context, entry port.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingAudit) recorded() []port.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]port.AuditEntry(nil), r.entries...)
}

type memDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemDedupe() *memDedupe {
	return &memDedupe{seen: make(map[string]bool)}
}

func (d *memDedupe) FirstDelivery(_ context.Context, eventID, action string, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := eventID + ":" + action
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func (d *memDedupe) Forget(_ context.Context, eventID, action string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID+":"+action)
	return nil
}

// plainHasher hashes deterministically so tests can seed stored hashes.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (plainHasher) Verify(password, encoded string) (bool, error) {
	return encoded == "hashed:"+password, nil
}

// allowAllPolicy accepts any password.
type allowAllPolicy struct{}

func (allowAllPolicy) Validate(string, ...string) error { return nil }

// rejectAllPolicy refuses every password.
type rejectAllPolicy struct{}

func (rejectAllPolicy) Validate(string, ...string) error {
	return errors.New("too weak")
}

type stubFederator struct {
	identity *domain.FederatedIdentity
	err      error
}

func (f *stubFederator) Authenticate(context.Context, string, string, string) (*domain.FederatedIdentity, error) {
	return f.identity, f.err
}

func (f *stubFederator) ProcessAssertion(context.Context, string, []byte) (*domain.FederatedIdentity, error) {
	return f.identity, f.err
}

// newTestIssuer wires an IssuerService against in-memory stores and a
// freshly generated signing key.
func newTestIssuer(t *testing.T, cfg *config.AppConfig, tokens port.RefreshTokenStore, blacklist port.Blacklist, principals port.PrincipalDirectory, syncPub port.RegionSyncPublisher) *IssuerService {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	provider, err := security.NewStaticKeyProvider("test-key", key)
	if err != nil {
		t.Fatalf("NewStaticKeyProvider: %v", err)
	}
	refreshSigner, err := security.NewRefreshSigner(strings.Repeat("s", 32), cfg.JWT.Issuer)
	if err != nil {
		t.Fatalf("NewRefreshSigner: %v", err)
	}

	return NewIssuerService(
		cfg,
		security.NewJWTManager(provider),
		refreshSigner,
		provider.SigningKID(),
		tokens,
		blacklist,
		principals,
		syncPub,
		nil,
	)
}
