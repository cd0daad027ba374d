package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/transport/http/middleware"
	"github.com/mirastream/streaming-platform-auth/internal/usecase"
)

// loginErrorCases map login failures to responses. Lockout deliberately
// answers like a bad password so callers cannot probe which accounts
// exist or are locked; the distinction lives in the audit trail only.
var loginErrorCases = []ErrorCase{
	{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
	{Err: usecase.ErrAccountLocked, Status: http.StatusUnauthorized, Message: "invalid credentials"},
	{Err: usecase.ErrAccountInactive, Status: http.StatusForbidden, Message: "account is not active"},
}

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	login  *usecase.LoginService
	issuer *usecase.IssuerService
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(login *usecase.LoginService, issuer *usecase.IssuerService) *AuthHandler {
	return &AuthHandler{login: login, issuer: issuer}
}

// RegisterRoutes binds authentication routes, applying optional middleware ahead of the login handler.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, loginMiddlewares ...gin.HandlerFunc) {
	r.POST("/register", h.register)

	if len(loginMiddlewares) > 0 {
		chain := append([]gin.HandlerFunc{}, loginMiddlewares...)
		chain = append(chain, h.loginHandler)
		r.POST("/login", chain...)
	} else {
		r.POST("/login", h.loginHandler)
	}

	authMiddleware := middleware.RequireAuth(h.issuer)
	r.POST("/refresh", h.refresh)
	r.POST("/logout", authMiddleware, h.logout)
	r.POST("/password/change", authMiddleware, h.changePassword)
	r.POST("/unlock", authMiddleware, middleware.RequireRole("admin", "support"), h.unlock)
}

// Register godoc
// @Summary Register a new account
// @Description Creates a principal with the supplied credentials.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RegistrationRequest true "Registration request payload"
// @Success 201 {object} RegistrationResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) register(c *gin.Context) {
	var req RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	principal, err := h.login.Register(c.Request.Context(), usecase.RegistrationInput{
		Email:     strings.TrimSpace(req.Email),
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrEmailTaken, Status: http.StatusConflict, Message: "email already registered"},
			{Err: usecase.ErrPasswordPolicyViolation, Status: http.StatusBadRequest, Message: "password does not meet requirements"},
		}, http.StatusInternalServerError, "registration failed")
		return
	}

	c.JSON(http.StatusCreated, RegistrationResponse{Principal: newPrincipalSummary(*principal)})
}

// Login godoc
// @Summary Authenticate with email and password
// @Description Verifies credentials, creates a session, and issues a token pair.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request payload"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) loginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	result, err := h.login.Login(c.Request.Context(), req.Email, req.Password, deviceMetadata(c, req.DeviceType))
	if err != nil {
		RespondWithMappedError(c, err, loginErrorCases, http.StatusInternalServerError, "login failed")
		return
	}

	c.JSON(http.StatusOK, newLoginResponse(result))
}

// Refresh godoc
// @Summary Rotate a refresh token
// @Description Exchanges a refresh token for a fresh pair; the old token is consumed.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body TokenRefreshRequest true "Refresh request payload"
// @Success 200 {object} TokenRefreshResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) refresh(c *gin.Context) {
	var req TokenRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid refresh payload"))
		return
	}

	pair, err := h.issuer.Rotate(c.Request.Context(), req.RefreshToken)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrTokenExpired, Status: http.StatusUnauthorized, Message: "refresh token expired"},
			{Err: usecase.ErrTokenRevoked, Status: http.StatusUnauthorized, Message: "refresh token revoked"},
			{Err: usecase.ErrInvalidToken, Status: http.StatusUnauthorized, Message: "invalid refresh token"},
		}, http.StatusInternalServerError, "token refresh failed")
		return
	}

	c.JSON(http.StatusOK, TokenRefreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
	})
}

// Logout godoc
// @Summary Log out the current session
// @Description Revokes the refresh token and terminates the session. Best-effort; always succeeds.
// @Tags Authentication
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body LogoutRequest true "Logout request payload"
// @Success 200 {object} MessageResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	subject, ok := middleware.GetAuthenticatedSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req LogoutRequest
	// An empty body is acceptable; logout falls back to token-only teardown.
	_ = c.ShouldBindJSON(&req)

	h.login.Logout(c.Request.Context(), subject, req.SessionID, req.RefreshToken)

	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

// ChangePassword godoc
// @Summary Change the account password
// @Description Verifies the current password, stores the new hash, and terminates other sessions.
// @Tags Authentication
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body PasswordChangeRequest true "Password change payload"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/password/change [post]
func (h *AuthHandler) changePassword(c *gin.Context) {
	subject, ok := middleware.GetAuthenticatedSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req PasswordChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password change payload"))
		return
	}

	err := h.login.ChangePassword(c.Request.Context(), subject, req.CurrentPassword, req.NewPassword, req.SessionID)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "current password is incorrect"},
			{Err: usecase.ErrPasswordPolicyViolation, Status: http.StatusBadRequest, Message: "new password does not meet requirements"},
		}, http.StatusInternalServerError, "password change failed")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password changed"})
}

// Unlock godoc
// @Summary Unlock a locked account
// @Description Clears the lockout window ahead of its natural expiry. Requires an operator role.
// @Tags Authentication
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body UnlockRequest true "Unlock payload"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/unlock [post]
func (h *AuthHandler) unlock(c *gin.Context) {
	var req UnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid unlock payload"))
		return
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "operator_request"
	}

	if err := h.login.Unlock(c.Request.Context(), req.Subject, reason); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "unlock failed"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "account unlocked"})
}

// deviceMetadata builds device context from request headers plus an optional client-declared type.
func deviceMetadata(c *gin.Context, deviceType string) domain.DeviceMetadata {
	return domain.DeviceMetadata{
		UserAgent:  c.Request.UserAgent(),
		IP:         c.ClientIP(),
		DeviceType: strings.TrimSpace(deviceType),
	}
}
