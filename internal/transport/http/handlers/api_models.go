package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/usecase"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// PrincipalSummary describes a minimal view of a principal returned by the API.
type PrincipalSummary struct {
	ID            string   `json:"id"`
	Email         string   `json:"email"`
	FirstName     string   `json:"first_name,omitempty"`
	LastName      string   `json:"last_name,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	EmailVerified bool     `json:"email_verified"`
	Active        bool     `json:"active"`
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
	DeviceType string `json:"device_type"`
}

// SessionSummary provides a compact view of session context in login responses.
type SessionSummary struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// LoginResponse describes the response returned for a successful login.
type LoginResponse struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	TokenType    string           `json:"token_type"`
	ExpiresIn    int64            `json:"expires_in"`
	Principal    PrincipalSummary `json:"principal"`
	Session      SessionSummary   `json:"session"`
}

// TokenRefreshRequest represents the payload to rotate a refresh token.
type TokenRefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenRefreshResponse contains tokens issued by the refresh endpoint.
type TokenRefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RegistrationRequest defines the account registration payload.
type RegistrationRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// RegistrationResponse contains the created principal.
type RegistrationResponse struct {
	Principal PrincipalSummary `json:"principal"`
}

// LogoutRequest identifies the session and token to tear down.
type LogoutRequest struct {
	SessionID    string `json:"session_id"`
	RefreshToken string `json:"refresh_token"`
}

// PasswordChangeRequest captures a password change request body.
type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
	SessionID       string `json:"session_id"`
}

// UnlockRequest clears an account lockout ahead of its natural expiry.
type UnlockRequest struct {
	Subject string `json:"subject" binding:"required"`
	Reason  string `json:"reason"`
}

// SessionPayload describes a session view in API responses.
type SessionPayload struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	UserAgent  string    `json:"user_agent,omitempty"`
	IP         string    `json:"ip,omitempty"`
	DeviceType string    `json:"device_type,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Active     bool      `json:"active"`
	Current    bool      `json:"current,omitempty"`
}

// SessionListResponse wraps a list of sessions for a subject.
type SessionListResponse struct {
	Sessions []SessionPayload `json:"sessions"`
	Total    int              `json:"total"`
}

// SessionExtendRequest carries the extension parameters.
type SessionExtendRequest struct {
	MFAVerified bool `json:"mfa_verified"`
}

// SessionTerminateAllResponse summarises bulk termination.
type SessionTerminateAllResponse struct {
	TerminatedCount int `json:"terminated_count"`
}

// SessionPolicyResponse exposes the effective policy for a subject.
type SessionPolicyResponse struct {
	MaxConcurrentSessions  int    `json:"max_concurrent_sessions"`
	SessionDuration        string `json:"session_duration"`
	InactivityTimeout      string `json:"inactivity_timeout"`
	AbsoluteSessionTimeout string `json:"absolute_session_timeout"`
	RequireMFAForExtension bool   `json:"require_mfa_for_extension"`
}

// DirectoryLoginRequest authenticates against an LDAP-style directory.
type DirectoryLoginRequest struct {
	Username   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required"`
	DeviceType string `json:"device_type"`
}

// AssertionLoginRequest authenticates with a SAML assertion.
type AssertionLoginRequest struct {
	Assertion  string `json:"assertion" binding:"required"`
	DeviceType string `json:"device_type"`
}

// IntrospectionResponse reports token state per RFC 7662.
type IntrospectionResponse struct {
	Active bool     `json:"active"`
	Sub    string   `json:"sub,omitempty"`
	Email  string   `json:"email,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	Iat    int64    `json:"iat,omitempty"`
	Exp    int64    `json:"exp,omitempty"`
}

// OAuthErrorResponse is the RFC 6749 error payload for protocol failures.
type OAuthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenResponse is the OAuth token endpoint success payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// JWKSKey describes an individual JSON Web Key in the JWKS response.
type JWKSKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSResponse represents the JSON Web Key Set payload.
type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

// newPrincipalSummary converts a domain principal to a summary suitable for API responses.
func newPrincipalSummary(principal domain.Principal) PrincipalSummary {
	summary := PrincipalSummary{
		ID:            principal.ID,
		Email:         principal.Email,
		FirstName:     principal.FirstName,
		LastName:      principal.LastName,
		EmailVerified: principal.EmailVerified,
		Active:        principal.Active,
	}

	if len(principal.Roles) > 0 {
		roles := make([]string, len(principal.Roles))
		copy(roles, principal.Roles)
		summary.Roles = roles
	}

	return summary
}

// newSessionPayload converts a domain session to an API session payload.
func newSessionPayload(session domain.Session, currentSessionID string) SessionPayload {
	return SessionPayload{
		ID:         session.ID,
		Subject:    session.Subject,
		UserAgent:  session.Device.UserAgent,
		IP:         session.Device.IP,
		DeviceType: session.Device.DeviceType,
		CreatedAt:  session.CreatedAt,
		LastUsedAt: session.LastUsedAt,
		ExpiresAt:  session.ExpiresAt,
		Active:     session.IsActive(time.Now().UTC()),
		Current:    session.ID == currentSessionID,
	}
}

func newSessionSummary(session domain.Session) SessionSummary {
	return SessionSummary{
		ID:         session.ID,
		CreatedAt:  session.CreatedAt,
		ExpiresAt:  session.ExpiresAt,
		LastUsedAt: session.LastUsedAt,
	}
}

func newLoginResponse(result *usecase.LoginResult) LoginResponse {
	return LoginResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		TokenType:    result.Tokens.TokenType,
		ExpiresIn:    result.Tokens.ExpiresIn,
		Principal:    newPrincipalSummary(result.Principal),
		Session:      newSessionSummary(result.Session),
	}
}
