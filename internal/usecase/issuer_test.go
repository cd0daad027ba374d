package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/infra/security"
)

func testPrincipal() domain.Principal {
	return domain.Principal{
		ID:            "principal-1",
		Email:         "viewer@example.com",
		FirstName:     "Vera",
		LastName:      "Viewer",
		Roles:         []string{"viewer"},
		Active:        true,
		EmailVerified: true,
	}
}

func TestIssueProducesVerifiablePair(t *testing.T) {
	tokens := newMemTokenStore()
	blacklist := newMemBlacklist()
	principals := newMemPrincipals(testPrincipal())
	service := newTestIssuer(t, testConfig(), tokens, blacklist, principals, &recordingSync{})

	pair, err := service.Issue(context.Background(), testPrincipal(), "session-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.TokenType != "Bearer" {
		t.Fatalf("token type = %q, want Bearer", pair.TokenType)
	}
	if pair.ExpiresIn != int64((15 * time.Minute).Seconds()) {
		t.Fatalf("expires in = %d", pair.ExpiresIn)
	}

	claims, err := service.Validate(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "principal-1" {
		t.Errorf("subject = %q", claims.Subject)
	}
	if claims.Email != "viewer@example.com" {
		t.Errorf("email = %q", claims.Email)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "viewer" {
		t.Errorf("roles = %v", claims.Roles)
	}
	if tokens.count() != 1 {
		t.Errorf("stored records = %d, want 1", tokens.count())
	}
}

func TestRotateConsumesOldToken(t *testing.T) {
	tokens := newMemTokenStore()
	blacklist := newMemBlacklist()
	principals := newMemPrincipals(testPrincipal())
	syncPub := &recordingSync{}
	service := newTestIssuer(t, testConfig(), tokens, blacklist, principals, syncPub)

	pair, err := service.Issue(context.Background(), testPrincipal(), "session-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rotated, err := service.Rotate(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation returned the same refresh token")
	}
	if tokens.count() != 1 {
		t.Fatalf("stored records = %d, want 1", tokens.count())
	}

	// The consumed token cannot be rotated a second time.
	if _, err := service.Rotate(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("second rotation err = %v, want ErrTokenRevoked", err)
	}

	calls := syncPub.recorded()
	if len(calls) != 1 || calls[0] != "refresh:principal-1:session-1" {
		t.Errorf("sync calls = %v", calls)
	}
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	tokens := newMemTokenStore()
	blacklist := newMemBlacklist()
	principals := newMemPrincipals(testPrincipal())
	service := newTestIssuer(t, testConfig(), tokens, blacklist, principals, &recordingSync{})

	pair, err := service.Issue(context.Background(), testPrincipal(), "session-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const attempts = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		revoked  int
		failures []error
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := service.Rotate(context.Background(), pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrTokenRevoked):
				revoked++
			default:
				failures = append(failures, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
	if revoked != attempts-1 {
		t.Fatalf("revoked = %d, want %d", revoked, attempts-1)
	}
	if len(failures) != 0 {
		t.Fatalf("unexpected errors: %v", failures)
	}
}

func TestRotateReuseBlacklistsPresentedToken(t *testing.T) {
	tokens := newMemTokenStore()
	blacklist := newMemBlacklist()
	principals := newMemPrincipals(testPrincipal())
	service := newTestIssuer(t, testConfig(), tokens, blacklist, principals, &recordingSync{})

	pair, err := service.Issue(context.Background(), testPrincipal(), "session-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := service.Rotate(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("first rotation: %v", err)
	}

	if _, err := service.Rotate(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("reuse err = %v, want ErrTokenRevoked", err)
	}

	found, reason, err := blacklist.Contains(context.Background(), security.HashToken(pair.RefreshToken))
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if !found {
		t.Fatal("reused token not blacklisted")
	}
	if reason != "reuse_detected" {
		t.Errorf("reason = %q", reason)
	}
}

func TestRotateExpiredRecord(t *testing.T) {
	tokens := newMemTokenStore()
	principals := newMemPrincipals(testPrincipal())
	service := newTestIssuer(t, testConfig(), tokens, newMemBlacklist(), principals, &recordingSync{})

	pair, err := service.Issue(context.Background(), testPrincipal(), "session-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Move the clock past the record expiry but keep the signed token
	// inside its own validity window so parsing still succeeds.
	base := time.Now().UTC()
	service.WithClock(func() time.Time { return base.Add(59 * time.Minute) })

	// Shorten the stored record so the clock skip crosses it.
	record, err := tokens.GetRefreshToken(context.Background(), recordID(t, tokens))
	if err != nil {
		t.Fatalf("GetRefreshToken: %v", err)
	}
	record.ExpiresAt = base.Add(30 * time.Minute)
	if err := tokens.CreateRefreshToken(context.Background(), *record); err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}

	if _, err := service.Rotate(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func recordID(t *testing.T, tokens *memTokenStore) string {
	t.Helper()
	tokens.mu.Lock()
	defer tokens.mu.Unlock()
	for id := range tokens.records {
		return id
	}
	t.Fatal("no stored records")
	return ""
}

func TestRotateInactivePrincipal(t *testing.T) {
	principal := testPrincipal()
	principals := newMemPrincipals(principal)
	tokens := newMemTokenStore()
	service := newTestIssuer(t, testConfig(), tokens, newMemBlacklist(), principals, &recordingSync{})

	pair, err := service.Issue(context.Background(), principal, "session-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	principal.Active = false
	principals.mu.Lock()
	principals.byID[principal.ID] = principal
	principals.mu.Unlock()

	if _, err := service.Rotate(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("err = %v, want ErrTokenRevoked", err)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	tokens := newMemTokenStore()
	blacklist := newMemBlacklist()
	service := newTestIssuer(t, testConfig(), tokens, blacklist, newMemPrincipals(testPrincipal()), &recordingSync{})

	pair, err := service.Issue(context.Background(), testPrincipal(), "session-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := service.Revoke(context.Background(), pair.RefreshToken); err != nil {
			t.Fatalf("Revoke attempt %d: %v", i, err)
		}
	}
	if err := service.Revoke(context.Background(), "not-a-token"); err != nil {
		t.Fatalf("Revoke garbage: %v", err)
	}

	if tokens.count() != 0 {
		t.Errorf("stored records = %d, want 0", tokens.count())
	}
	if _, err := service.Rotate(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("rotation after revoke err = %v, want ErrTokenRevoked", err)
	}
}

func TestValidateRejectsBlacklistedAccessToken(t *testing.T) {
	blacklist := newMemBlacklist()
	service := newTestIssuer(t, testConfig(), newMemTokenStore(), blacklist, newMemPrincipals(testPrincipal()), &recordingSync{})

	pair, err := service.Issue(context.Background(), testPrincipal(), "session-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := blacklist.Add(context.Background(), security.HashToken(pair.AccessToken), "revoked", time.Minute); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := service.Validate(context.Background(), pair.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("err = %v, want ErrTokenRevoked", err)
	}
}

func TestIntrospectNeverErrorsOnBadTokens(t *testing.T) {
	service := newTestIssuer(t, testConfig(), newMemTokenStore(), newMemBlacklist(), newMemPrincipals(testPrincipal()), &recordingSync{})

	for _, token := range []string{"", "garbage", "a.b.c"} {
		result, err := service.Introspect(context.Background(), token)
		if err != nil {
			t.Fatalf("Introspect(%q): %v", token, err)
		}
		if result.Active {
			t.Errorf("Introspect(%q) reported active", token)
		}
	}

	pair, err := service.Issue(context.Background(), testPrincipal(), "session-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	result, err := service.Introspect(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if !result.Active || result.Subject != "principal-1" {
		t.Errorf("result = %+v", result)
	}
}
