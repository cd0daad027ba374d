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
	"github.com/mirastream/streaming-platform-auth/internal/infra/config"
	"github.com/mirastream/streaming-platform-auth/internal/infra/security"
	"github.com/mirastream/streaming-platform-auth/internal/repository"
)

var (
	// ErrTokenExpired indicates the presented token elapsed its validity window.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked indicates the presented token was revoked or consumed,
	// including suspected reuse after rotation.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrInvalidToken indicates the presented token is malformed or its
	// signature does not verify.
	ErrInvalidToken = errors.New("invalid token")
)

// IssuerService mints, rotates, revokes, and validates token pairs.
// Rotation is single-use: the durable record behind a refresh token is
// consumed atomically, so of two concurrent rotations exactly one wins.
type IssuerService struct {
	cfg        *config.AppConfig
	jwt        *security.JWTManager
	refresh    *security.RefreshSigner
	signingKID string
	tokens     port.RefreshTokenStore
	blacklist  port.Blacklist
	principals port.PrincipalDirectory
	sync       port.RegionSyncPublisher
	logger     *zap.Logger
	now        func() time.Time
}

// NewIssuerService constructs an IssuerService instance.
func NewIssuerService(
	cfg *config.AppConfig,
	jwtManager *security.JWTManager,
	refreshSigner *security.RefreshSigner,
	signingKID string,
	tokens port.RefreshTokenStore,
	blacklist port.Blacklist,
	principals port.PrincipalDirectory,
	syncPublisher port.RegionSyncPublisher,
	logger *zap.Logger,
) *IssuerService {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &IssuerService{
		cfg:        cfg,
		jwt:        jwtManager,
		refresh:    refreshSigner,
		signingKID: signingKID,
		tokens:     tokens,
		blacklist:  blacklist,
		principals: principals,
		sync:       syncPublisher,
		logger:     logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *IssuerService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Issue mints an access/refresh pair for the principal. The refresh
// record lands in the token store with the refresh TTL; the session ID
// travels in the record so rotation can keep the binding.
func (s *IssuerService) Issue(ctx context.Context, principal domain.Principal, sessionID string) (*domain.TokenPair, error) {
	now := s.now()

	claims, err := security.NewAccessTokenClaims(security.AccessTokenOptions{
		Subject:       principal.ID,
		Email:         principal.Email,
		Roles:         principal.Roles,
		FirstName:     principal.FirstName,
		LastName:      principal.LastName,
		EmailVerified: principal.EmailVerified,
		Issuer:        s.cfg.JWT.Issuer,
		TTL:           s.cfg.JWT.AccessTokenTTL,
		IssuedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("build access claims: %w", err)
	}

	accessToken, err := s.jwt.SignAccessToken(s.signingKID, claims)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	tokenID := uuid.NewString()
	refreshToken, err := s.refresh.Sign(principal.ID, tokenID, now, s.cfg.JWT.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	record := domain.RefreshTokenRecord{
		TokenID:   tokenID,
		Subject:   principal.ID,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.JWT.RefreshTokenTTL),
	}
	if err := s.tokens.CreateRefreshToken(ctx, record); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.cfg.JWT.AccessTokenTTL.Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// Rotate exchanges a refresh token for a fresh pair, consuming the old
// record atomically. A token whose record is already gone is treated as
// reused: the presented token is blacklisted and the caller gets
// ErrTokenRevoked. Only the presented token is revoked on reuse; no
// lineage of earlier tokens is tracked.
func (s *IssuerService) Rotate(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.refresh.Parse(refreshToken)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	tokenHash := security.HashToken(refreshToken)
	if revoked, _, err := s.blacklist.Contains(ctx, tokenHash); err != nil {
		return nil, fmt.Errorf("check blacklist: %w", err)
	} else if revoked {
		return nil, ErrTokenRevoked
	}

	record, err := s.tokens.ConsumeRefreshToken(ctx, claims.RefreshTokenID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("refresh token reuse detected",
				zap.String("subject", claims.Subject),
				zap.String("token_id", claims.RefreshTokenID),
			)
			s.blacklistToken(ctx, tokenHash, "reuse_detected", claims.ExpiresAt.Time)
			return nil, ErrTokenRevoked
		}
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}

	if record.Revoked {
		s.blacklistToken(ctx, tokenHash, "revoked", claims.ExpiresAt.Time)
		return nil, ErrTokenRevoked
	}
	if record.IsExpired(s.now()) {
		return nil, ErrTokenExpired
	}
	if record.Subject != claims.Subject {
		s.blacklistToken(ctx, tokenHash, "subject_mismatch", claims.ExpiresAt.Time)
		return nil, ErrTokenRevoked
	}

	principal, err := s.principals.GetByID(ctx, record.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTokenRevoked
		}
		return nil, fmt.Errorf("lookup principal: %w", err)
	}
	if !principal.Active || principal.IsLocked(s.now()) {
		return nil, ErrTokenRevoked
	}

	pair, err := s.Issue(ctx, *principal, record.SessionID)
	if err != nil {
		return nil, err
	}

	if s.sync != nil {
		if err := s.sync.NotifyTokenRefresh(ctx, record.Subject, record.SessionID); err != nil {
			s.logger.Warn("notify token refresh", zap.Error(err))
		}
	}

	return pair, nil
}

// Revoke deletes the refresh record and blacklists the presented token.
// Idempotent: revoking an already-gone token is not an error.
func (s *IssuerService) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := s.refresh.Parse(refreshToken)
	if err != nil {
		// Malformed or expired tokens have nothing to revoke.
		return nil
	}

	if err := s.tokens.DeleteRefreshToken(ctx, claims.RefreshTokenID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete refresh token: %w", err)
	}

	s.blacklistToken(ctx, security.HashToken(refreshToken), "revoked", claims.ExpiresAt.Time)
	return nil
}

// Validate performs offline validation of an access token plus a
// blacklist check, returning the claims when the token is usable.
func (s *IssuerService) Validate(ctx context.Context, accessToken string) (*security.AccessTokenClaims, error) {
	claims, err := s.jwt.ParseAccessToken(accessToken)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	if revoked, _, err := s.blacklist.Contains(ctx, security.HashToken(accessToken)); err != nil {
		return nil, fmt.Errorf("check blacklist: %w", err)
	} else if revoked {
		return nil, ErrTokenRevoked
	}

	return claims, nil
}

// IntrospectionResult reports token state for the introspection endpoint.
type IntrospectionResult struct {
	Active    bool
	Subject   string
	Email     string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Introspect reports whether an access token is active. Invalid, expired,
// and revoked tokens all come back inactive rather than as errors.
func (s *IssuerService) Introspect(ctx context.Context, accessToken string) (*IntrospectionResult, error) {
	claims, err := s.Validate(ctx, accessToken)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenRevoked) || errors.Is(err, ErrInvalidToken) {
			return &IntrospectionResult{Active: false}, nil
		}
		return nil, err
	}

	result := &IntrospectionResult{
		Active:  true,
		Subject: claims.Subject,
		Email:   claims.Email,
		Roles:   append([]string(nil), claims.Roles...),
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}
	return result, nil
}

func (s *IssuerService) blacklistToken(ctx context.Context, tokenHash, reason string, expiresAt time.Time) {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.blacklist.Add(ctx, tokenHash, reason, ttl); err != nil {
		s.logger.Warn("blacklist token", zap.String("reason", reason), zap.Error(err))
	}
}
