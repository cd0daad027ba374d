package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/core/port"
	"github.com/mirastream/streaming-platform-auth/internal/infra/config"
	"github.com/mirastream/streaming-platform-auth/internal/infra/security"
	"github.com/mirastream/streaming-platform-auth/internal/repository"
)

var (
	// ErrInvalidClient indicates an unknown client id.
	ErrInvalidClient = errors.New("invalid client")
	// ErrRedirectURIMismatch indicates the redirect URI is not registered
	// for the client. Never redirect in this case.
	ErrRedirectURIMismatch = errors.New("redirect uri not registered")
	// ErrInvalidAuthorizationCode indicates the code is missing, expired,
	// already consumed, or bound to different request parameters.
	ErrInvalidAuthorizationCode = errors.New("invalid authorization code")
	// ErrPKCEMismatch indicates the code verifier does not match the challenge.
	ErrPKCEMismatch = errors.New("pkce verification failed")
	// ErrUnsupportedGrantType indicates an unknown grant_type value.
	ErrUnsupportedGrantType = errors.New("unsupported grant type")
	// ErrUnsupportedResponseType indicates a response_type other than "code".
	ErrUnsupportedResponseType = errors.New("unsupported response type")
	// ErrAuthenticationRequired indicates no authenticated principal is
	// attached to the authorize request.
	ErrAuthenticationRequired = errors.New("authentication required")
)

// RedirectError is an OAuth failure that must be delivered to the
// client's registered redirect URI rather than as a direct response.
type RedirectError struct {
	RedirectURI string
	Code        string
	Description string
	State       string
}

// Error implements error.
func (e *RedirectError) Error() string {
	return fmt.Sprintf("oauth redirect error: %s", e.Code)
}

// AuthorizeRequest carries the query parameters of the authorize endpoint.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Subject             string
}

// AuthorizeResult is the success outcome: a code to deliver via redirect.
type AuthorizeResult struct {
	Code        string
	State       string
	RedirectURI string
}

// TokenRequest carries the form parameters of the token endpoint.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	CodeVerifier string
	RefreshToken string
}

// OIDCService implements the authorization-code + PKCE flow on top of the
// issuer and the single-use code store. Codes move ISSUED to CONSUMED or
// ISSUED to EXPIRED and never back.
type OIDCService struct {
	cfg        *config.AppConfig
	clients    map[string]domain.Client
	codes      port.AuthorizationCodeStore
	issuer     *IssuerService
	sessions   *SessionService
	principals port.PrincipalDirectory
	logger     *zap.Logger
	now        func() time.Time
}

// NewOIDCService constructs an OIDCService from the static client registry.
func NewOIDCService(
	cfg *config.AppConfig,
	codes port.AuthorizationCodeStore,
	issuer *IssuerService,
	sessions *SessionService,
	principals port.PrincipalDirectory,
	logger *zap.Logger,
) *OIDCService {
	if logger == nil {
		logger = zap.NewNop()
	}

	clients := make(map[string]domain.Client, len(cfg.OAuth.Clients))
	for _, c := range cfg.OAuth.Clients {
		clients[c.ClientID] = domain.Client{
			ClientID:     c.ClientID,
			RedirectURIs: c.RedirectURIs,
			Public:       c.Public,
			SecretHash:   c.SecretHash,
		}
	}

	service := &OIDCService{
		cfg:        cfg,
		clients:    clients,
		codes:      codes,
		issuer:     issuer,
		sessions:   sessions,
		principals: principals,
		logger:     logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *OIDCService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Authorize validates the client and redirect URI before anything else;
// an unregistered redirect URI is rejected without ever redirecting.
// Unsupported response types, by contrast, are delivered to the verified
// redirect URI as a RedirectError.
func (s *OIDCService) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	client, ok := s.clients[req.ClientID]
	if !ok {
		return nil, ErrInvalidClient
	}
	if !client.ValidRedirect(req.RedirectURI) {
		return nil, ErrRedirectURIMismatch
	}

	if req.ResponseType != "code" {
		return nil, &RedirectError{
			RedirectURI: req.RedirectURI,
			Code:        "unsupported_response_type",
			Description: fmt.Sprintf("response_type %q is not supported", req.ResponseType),
			State:       req.State,
		}
	}

	if req.Subject == "" {
		return nil, ErrAuthenticationRequired
	}

	if s.cfg.OAuth.RequirePKCE && client.Public && req.CodeChallenge == "" {
		return nil, &RedirectError{
			RedirectURI: req.RedirectURI,
			Code:        "invalid_request",
			Description: "code_challenge is required for public clients",
			State:       req.State,
		}
	}

	code, err := security.GenerateSecureToken(s.cfg.OAuth.CodeByteLength)
	if err != nil {
		return nil, fmt.Errorf("generate authorization code: %w", err)
	}

	now := s.now()
	record := domain.AuthorizationCode{
		Code:                code,
		ClientID:            req.ClientID,
		Subject:             req.Subject,
		Scope:               splitScope(req.Scope),
		RedirectURI:         req.RedirectURI,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		IssuedAt:            now,
		ExpiresAt:           now.Add(s.cfg.OAuth.CodeTTL),
	}
	if err := s.codes.CreateCode(ctx, record); err != nil {
		return nil, fmt.Errorf("store authorization code: %w", err)
	}

	return &AuthorizeResult{
		Code:        code,
		State:       req.State,
		RedirectURI: req.RedirectURI,
	}, nil
}

// Token dispatches on grant type. authorization_code consumes the code
// atomically so concurrent exchanges of one code produce exactly one pair.
func (s *OIDCService) Token(ctx context.Context, req TokenRequest) (*domain.TokenPair, error) {
	switch req.GrantType {
	case "authorization_code":
		return s.exchangeCode(ctx, req)
	case "refresh_token":
		return s.issuer.Rotate(ctx, req.RefreshToken)
	default:
		return nil, ErrUnsupportedGrantType
	}
}

func (s *OIDCService) exchangeCode(ctx context.Context, req TokenRequest) (*domain.TokenPair, error) {
	if _, ok := s.clients[req.ClientID]; !ok {
		return nil, ErrInvalidClient
	}

	record, err := s.codes.ConsumeCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidAuthorizationCode
		}
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}

	if record.IsExpired(s.now()) {
		return nil, ErrInvalidAuthorizationCode
	}
	if record.ClientID != req.ClientID {
		return nil, ErrInvalidAuthorizationCode
	}
	if record.RedirectURI != req.RedirectURI {
		return nil, ErrInvalidAuthorizationCode
	}

	if record.CodeChallenge != "" {
		if err := security.VerifyPKCE(req.CodeVerifier, record.CodeChallenge, record.CodeChallengeMethod); err != nil {
			s.logger.Warn("pkce verification failed",
				zap.String("client_id", req.ClientID),
				zap.String("subject", record.Subject),
			)
			return nil, ErrPKCEMismatch
		}
	}

	principal, err := s.principals.GetByID(ctx, record.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidAuthorizationCode
		}
		return nil, fmt.Errorf("lookup principal: %w", err)
	}
	if !principal.Active || principal.IsLocked(s.now()) {
		return nil, ErrInvalidAuthorizationCode
	}

	session, err := s.sessions.CreateSession(ctx, principal.ID, domain.DeviceMetadata{DeviceType: "oauth:" + req.ClientID})
	if err != nil {
		return nil, err
	}

	return s.issuer.Issue(ctx, *principal, session.ID)
}

// Revoke is best-effort and oracle-free: it always succeeds, whether or
// not the presented token was known.
func (s *OIDCService) Revoke(ctx context.Context, token, tokenTypeHint string) {
	if token == "" {
		return
	}
	if err := s.issuer.Revoke(ctx, token); err != nil {
		s.logger.Warn("revoke token", zap.String("hint", tokenTypeHint), zap.Error(err))
	}
}

// UserInfo validates the access token and returns the standard claim subset.
func (s *OIDCService) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	claims, err := s.issuer.Validate(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	info := map[string]any{
		"sub":            claims.Subject,
		"email":          claims.Email,
		"email_verified": claims.EmailVerified,
		"roles":          claims.Roles,
	}
	if claims.FirstName != "" {
		info["given_name"] = claims.FirstName
	}
	if claims.LastName != "" {
		info["family_name"] = claims.LastName
	}
	return info, nil
}

// DiscoveryDocument is the static OIDC provider metadata.
type DiscoveryDocument struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserInfoEndpoint                 string   `json:"userinfo_endpoint"`
	RevocationEndpoint               string   `json:"revocation_endpoint"`
	IntrospectionEndpoint            string   `json:"introspection_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported    []string `json:"code_challenge_methods_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
}

// Discovery returns provider metadata rooted at the configured issuer.
func (s *OIDCService) Discovery() DiscoveryDocument {
	issuer := strings.TrimRight(s.cfg.JWT.Issuer, "/")
	return DiscoveryDocument{
		Issuer:                           issuer,
		AuthorizationEndpoint:            issuer + "/oauth/authorize",
		TokenEndpoint:                    issuer + "/oauth/token",
		UserInfoEndpoint:                 issuer + "/oauth/userinfo",
		RevocationEndpoint:               issuer + "/oauth/revoke",
		IntrospectionEndpoint:            issuer + "/oauth/introspect",
		JWKSURI:                          issuer + "/.well-known/jwks.json",
		ResponseTypesSupported:           []string{"code"},
		GrantTypesSupported:              []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported:    []string{"S256", "plain"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		ScopesSupported:                  []string{"openid", "profile", "email"},
	}
}

func splitScope(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
