package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/core/port"
	"github.com/mirastream/streaming-platform-auth/internal/infra/config"
	"github.com/mirastream/streaming-platform-auth/internal/repository"
)

var (
	// ErrInvalidCredentials indicates the provided email or password are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates the lockout window is still in effect;
	// returned even when the supplied password is correct.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountInactive indicates the account is disabled.
	ErrAccountInactive = errors.New("account is not active")
	// ErrEmailTaken indicates registration collided with an existing account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrPasswordPolicyViolation indicates the password fails the strength policy.
	ErrPasswordPolicyViolation = errors.New("password does not meet complexity requirements")
)

// LoginResult bundles everything a successful authentication produces.
type LoginResult struct {
	Principal domain.Principal
	Session   domain.Session
	Tokens    domain.TokenPair
}

// LoginService authenticates principals against the directory and drives
// lockout accounting, session creation, and token issuance.
type LoginService struct {
	cfg        *config.AppConfig
	principals port.PrincipalDirectory
	hasher     port.PasswordHasher
	policy     port.PasswordPolicyValidator
	issuer     *IssuerService
	sessions   *SessionService
	sync       port.RegionSyncPublisher
	audit      port.AuditLogger
	logger     *zap.Logger
	now        func() time.Time
}

// NewLoginService constructs a LoginService instance.
func NewLoginService(
	cfg *config.AppConfig,
	principals port.PrincipalDirectory,
	hasher port.PasswordHasher,
	policy port.PasswordPolicyValidator,
	issuer *IssuerService,
	sessions *SessionService,
	syncPublisher port.RegionSyncPublisher,
	audit port.AuditLogger,
	logger *zap.Logger,
) *LoginService {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &LoginService{
		cfg:        cfg,
		principals: principals,
		hasher:     hasher,
		policy:     policy,
		issuer:     issuer,
		sessions:   sessions,
		sync:       syncPublisher,
		audit:      audit,
		logger:     logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *LoginService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Login verifies credentials and, on success, resets the failure counter
// and writes the login event in one transaction, creates a session, and
// issues a token pair. A locked account fails with ErrAccountLocked even
// when the password is correct.
func (s *LoginService) Login(ctx context.Context, email, password string, device domain.DeviceMetadata) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	principal, err := s.principals.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup principal: %w", err)
	}

	now := s.now()
	if principal.IsLocked(now) {
		s.recordAudit(ctx, port.AuditEntry{
			Action:  "login.rejected_locked",
			Subject: principal.ID,
			IP:      device.IP,
			At:      now,
		})
		return nil, ErrAccountLocked
	}
	if !principal.Active {
		return nil, ErrAccountInactive
	}

	ok, err := s.hasher.Verify(password, principal.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, s.handleFailedAttempt(ctx, principal, device)
	}

	session, err := s.sessions.CreateSession(ctx, principal.ID, device)
	if err != nil {
		return nil, err
	}

	event := domain.OutboxEvent{
		ID:        uuid.NewString(),
		EventType: domain.EventTypeLoginSucceeded,
		Subject:   principal.ID,
		Payload:   map[string]any{"session_id": session.ID, "ip": device.IP},
		CreatedAt: now,
	}
	if err := s.principals.RecordLoginSuccess(ctx, principal.ID, now, event); err != nil {
		return nil, fmt.Errorf("record login success: %w", err)
	}

	pair, err := s.issuer.Issue(ctx, *principal, session.ID)
	if err != nil {
		return nil, err
	}

	if s.sync != nil {
		if err := s.sync.NotifyLogin(ctx, principal.ID, session.ID); err != nil {
			s.logger.Warn("notify login", zap.Error(err))
		}
	}
	s.recordAudit(ctx, port.AuditEntry{
		Action:    "login.succeeded",
		Subject:   principal.ID,
		SessionID: session.ID,
		IP:        device.IP,
		At:        now,
	})

	return &LoginResult{
		Principal: principal.Sanitized(),
		Session:   *session,
		Tokens:    *pair,
	}, nil
}

func (s *LoginService) handleFailedAttempt(ctx context.Context, principal *domain.Principal, device domain.DeviceMetadata) error {
	attempts, lockedUntil, err := s.principals.RecordFailedLogin(ctx, principal.ID, s.cfg.Lockout.Threshold, s.cfg.Lockout.Duration)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("record failed login: %w", err)
	}

	if lockedUntil != nil {
		s.logger.Warn("account locked after repeated failures",
			zap.String("subject", principal.ID),
			zap.Int("attempts", attempts),
			zap.Time("lock_until", *lockedUntil),
		)
		if s.sync != nil {
			if err := s.sync.NotifyAccountLocked(ctx, principal.ID, "failed_attempts"); err != nil {
				s.logger.Warn("notify account locked", zap.Error(err))
			}
		}
		s.recordAudit(ctx, port.AuditEntry{
			Action:  "account.locked",
			Subject: principal.ID,
			Reason:  "failed_attempts",
			IP:      device.IP,
			At:      s.now(),
			Details: map[string]any{"attempts": attempts},
		})
	}

	// The caller learns only that credentials failed, never the counter state.
	return ErrInvalidCredentials
}

// RegistrationInput carries the fields collected at sign-up.
type RegistrationInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register validates the password against policy, hashes it, and creates
// the principal with its registration event in one transaction.
func (s *LoginService) Register(ctx context.Context, input RegistrationInput) (*domain.Principal, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	if err := s.policy.Validate(input.Password, email, input.FirstName, input.LastName); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPasswordPolicyViolation, err)
	}

	if existing, err := s.principals.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, ErrEmailTaken
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup principal: %w", err)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	principal := domain.Principal{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		PasswordHash: hash,
		Roles:        []string{"viewer"},
		Active:       true,
		CreatedAt:    now,
	}
	event := domain.OutboxEvent{
		ID:        uuid.NewString(),
		EventType: domain.EventTypeRegistered,
		Subject:   principal.ID,
		Payload:   map[string]any{"email": email},
		CreatedAt: now,
	}

	if err := s.principals.Create(ctx, principal, event); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create principal: %w", err)
	}

	sanitized := principal.Sanitized()
	return &sanitized, nil
}

// ChangePassword verifies the current password, applies policy to the new
// one, stores the new hash, and terminates every other session.
func (s *LoginService) ChangePassword(ctx context.Context, subject, currentPassword, newPassword, currentSessionID string) error {
	principal, err := s.principals.GetByID(ctx, subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("lookup principal: %w", err)
	}

	ok, err := s.hasher.Verify(currentPassword, principal.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if err := s.policy.Validate(newPassword, principal.Email, principal.FirstName, principal.LastName); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicyViolation, err)
	}
	if newPassword == currentPassword {
		return fmt.Errorf("%w: new password must differ", ErrPasswordPolicyViolation)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	if err := s.principals.UpdatePassword(ctx, subject, hash, now); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if _, err := s.sessions.TerminateAllSessions(ctx, subject, currentSessionID, "password_change"); err != nil {
		s.logger.Warn("terminate sessions after password change", zap.Error(err))
	}
	if s.sync != nil {
		if err := s.sync.NotifyPasswordChange(ctx, subject); err != nil {
			s.logger.Warn("notify password change", zap.Error(err))
		}
	}
	s.recordAudit(ctx, port.AuditEntry{
		Action:  "password.changed",
		Subject: subject,
		At:      now,
	})

	return nil
}

// Logout is best-effort: the refresh token is revoked, the session is
// terminated, and peer regions are notified, but partial failure never
// surfaces to the caller.
func (s *LoginService) Logout(ctx context.Context, subject, sessionID, refreshToken string) {
	if refreshToken != "" {
		if err := s.issuer.Revoke(ctx, refreshToken); err != nil {
			s.logger.Warn("revoke refresh token on logout", zap.Error(err))
		}
	}
	if sessionID != "" {
		if err := s.sessions.TerminateSession(ctx, sessionID, "logout"); err != nil {
			s.logger.Warn("terminate session on logout", zap.Error(err))
		}
		if s.sync != nil {
			if err := s.sync.NotifyLogout(ctx, subject, sessionID); err != nil {
				s.logger.Warn("notify logout", zap.Error(err))
			}
		}
	}
}

// Unlock clears the lockout window ahead of its natural expiry.
func (s *LoginService) Unlock(ctx context.Context, subject, reason string) error {
	if err := s.principals.Unlock(ctx, subject); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("unlock principal: %w", err)
	}

	if s.sync != nil {
		if err := s.sync.NotifyAccountUnlocked(ctx, subject, reason); err != nil {
			s.logger.Warn("notify account unlocked", zap.Error(err))
		}
	}
	s.recordAudit(ctx, port.AuditEntry{
		Action:  "account.unlocked",
		Subject: subject,
		Reason:  reason,
		At:      s.now(),
	})

	return nil
}

func (s *LoginService) recordAudit(ctx context.Context, entry port.AuditEntry) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, entry)
}
