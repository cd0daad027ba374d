package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mirastream/streaming-platform-auth/internal/transport/http/middleware"
	"github.com/mirastream/streaming-platform-auth/internal/usecase"
)

// OAuthHandler exposes the authorization-code + PKCE endpoints along with
// the introspection, revocation, userinfo, and discovery surfaces.
type OAuthHandler struct {
	oidc   *usecase.OIDCService
	issuer *usecase.IssuerService
}

// NewOAuthHandler constructs OAuthHandler.
func NewOAuthHandler(oidc *usecase.OIDCService, issuer *usecase.IssuerService) *OAuthHandler {
	return &OAuthHandler{oidc: oidc, issuer: issuer}
}

// RegisterRoutes binds the OAuth endpoints. The authorize endpoint requires
// an authenticated principal; the form endpoints are public.
func (h *OAuthHandler) RegisterRoutes(r *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	r.GET("/authorize", authMiddleware, h.authorize)
	r.POST("/token", h.token)
	r.POST("/revoke", h.revoke)
	r.POST("/introspect", h.introspect)
	r.GET("/userinfo", h.userinfo)
}

// Authorize godoc
// @Summary OAuth authorization endpoint
// @Description Issues a single-use authorization code delivered via redirect.
// @Tags OAuth
// @Produce json
// @Security BearerAuth
// @Param client_id query string true "Registered client identifier"
// @Param redirect_uri query string true "Registered redirect URI"
// @Param response_type query string true "Must be 'code'"
// @Param scope query string false "Requested scopes"
// @Param state query string false "Opaque client state"
// @Param code_challenge query string false "PKCE code challenge"
// @Param code_challenge_method query string false "PKCE challenge method (S256 or plain)"
// @Success 302
// @Failure 400 {object} OAuthErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /oauth/authorize [get]
func (h *OAuthHandler) authorize(c *gin.Context) {
	subject, _ := middleware.GetAuthenticatedSubject(c)

	req := usecase.AuthorizeRequest{
		ClientID:            c.Query("client_id"),
		RedirectURI:         c.Query("redirect_uri"),
		ResponseType:        c.Query("response_type"),
		Scope:               c.Query("scope"),
		State:               c.Query("state"),
		Nonce:               c.Query("nonce"),
		CodeChallenge:       c.Query("code_challenge"),
		CodeChallengeMethod: c.Query("code_challenge_method"),
		Subject:             subject,
	}

	result, err := h.oidc.Authorize(c.Request.Context(), req)
	if err != nil {
		var redirectErr *usecase.RedirectError
		// Client and redirect URI failures never redirect; everything else
		// goes back to the verified redirect URI per RFC 6749.
		switch {
		case errors.As(err, &redirectErr):
			c.Redirect(http.StatusFound, errorRedirect(redirectErr))
		case errors.Is(err, usecase.ErrInvalidClient):
			c.JSON(http.StatusBadRequest, OAuthErrorResponse{Error: "invalid_client", ErrorDescription: "unknown client"})
		case errors.Is(err, usecase.ErrRedirectURIMismatch):
			c.JSON(http.StatusBadRequest, OAuthErrorResponse{Error: "invalid_request", ErrorDescription: "redirect_uri is not registered for this client"})
		case errors.Is(err, usecase.ErrAuthenticationRequired):
			c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		default:
			c.JSON(http.StatusInternalServerError, OAuthErrorResponse{Error: "server_error"})
		}
		return
	}

	target, err := url.Parse(result.RedirectURI)
	if err != nil {
		c.JSON(http.StatusInternalServerError, OAuthErrorResponse{Error: "server_error"})
		return
	}
	query := target.Query()
	query.Set("code", result.Code)
	if result.State != "" {
		query.Set("state", result.State)
	}
	target.RawQuery = query.Encode()

	c.Redirect(http.StatusFound, target.String())
}

// Token godoc
// @Summary OAuth token endpoint
// @Description Exchanges an authorization code or refresh token for a token pair.
// @Tags OAuth
// @Accept x-www-form-urlencoded
// @Produce json
// @Param grant_type formData string true "authorization_code or refresh_token"
// @Param code formData string false "Authorization code"
// @Param redirect_uri formData string false "Redirect URI used in the authorize request"
// @Param client_id formData string false "Client identifier"
// @Param code_verifier formData string false "PKCE code verifier"
// @Param refresh_token formData string false "Refresh token"
// @Success 200 {object} TokenResponse
// @Failure 400 {object} OAuthErrorResponse
// @Failure 401 {object} OAuthErrorResponse
// @Router /oauth/token [post]
func (h *OAuthHandler) token(c *gin.Context) {
	req := usecase.TokenRequest{
		GrantType:    c.PostForm("grant_type"),
		Code:         c.PostForm("code"),
		RedirectURI:  c.PostForm("redirect_uri"),
		ClientID:     c.PostForm("client_id"),
		CodeVerifier: c.PostForm("code_verifier"),
		RefreshToken: c.PostForm("refresh_token"),
	}

	pair, err := h.oidc.Token(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrUnsupportedGrantType):
			c.JSON(http.StatusBadRequest, OAuthErrorResponse{Error: "unsupported_grant_type"})
		case errors.Is(err, usecase.ErrInvalidClient):
			c.JSON(http.StatusUnauthorized, OAuthErrorResponse{Error: "invalid_client"})
		case errors.Is(err, usecase.ErrInvalidAuthorizationCode),
			errors.Is(err, usecase.ErrPKCEMismatch),
			errors.Is(err, usecase.ErrTokenExpired),
			errors.Is(err, usecase.ErrTokenRevoked),
			errors.Is(err, usecase.ErrInvalidToken):
			// A single invalid_grant keeps the response oracle-free.
			c.JSON(http.StatusBadRequest, OAuthErrorResponse{Error: "invalid_grant"})
		default:
			c.JSON(http.StatusInternalServerError, OAuthErrorResponse{Error: "server_error"})
		}
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
	})
}

// Revoke godoc
// @Summary OAuth revocation endpoint
// @Description Revokes the presented token. Always returns 200 per RFC 7009.
// @Tags OAuth
// @Accept x-www-form-urlencoded
// @Produce json
// @Param token formData string true "Token to revoke"
// @Param token_type_hint formData string false "access_token or refresh_token"
// @Success 200
// @Router /oauth/revoke [post]
func (h *OAuthHandler) revoke(c *gin.Context) {
	h.oidc.Revoke(c.Request.Context(), c.PostForm("token"), c.PostForm("token_type_hint"))
	c.Status(http.StatusOK)
}

// Introspect godoc
// @Summary OAuth introspection endpoint
// @Description Reports whether the presented token is active. Bad tokens come back inactive, never as errors.
// @Tags OAuth
// @Accept x-www-form-urlencoded
// @Produce json
// @Param token formData string true "Token to introspect"
// @Success 200 {object} IntrospectionResponse
// @Failure 500 {object} ErrorResponse
// @Router /oauth/introspect [post]
func (h *OAuthHandler) introspect(c *gin.Context) {
	result, err := h.issuer.Introspect(c.Request.Context(), c.PostForm("token"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "introspection failed"))
		return
	}

	resp := IntrospectionResponse{Active: result.Active}
	if result.Active {
		resp.Sub = result.Subject
		resp.Email = result.Email
		resp.Roles = result.Roles
		if !result.IssuedAt.IsZero() {
			resp.Iat = result.IssuedAt.Unix()
		}
		if !result.ExpiresAt.IsZero() {
			resp.Exp = result.ExpiresAt.Unix()
		}
	}

	c.JSON(http.StatusOK, resp)
}

// UserInfo godoc
// @Summary OIDC userinfo endpoint
// @Description Returns the standard claim subset for the presented access token.
// @Tags OAuth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]any
// @Failure 401 {object} ErrorResponse
// @Router /oauth/userinfo [get]
func (h *OAuthHandler) userinfo(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.Header("WWW-Authenticate", `Bearer realm="userinfo"`)
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "missing access token"))
		return
	}

	info, err := h.oidc.UserInfo(c.Request.Context(), token)
	if err != nil {
		c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid access token"))
		return
	}

	c.JSON(http.StatusOK, info)
}

// Discovery godoc
// @Summary OIDC provider metadata
// @Tags Public
// @Produce json
// @Success 200 {object} usecase.DiscoveryDocument
// @Router /.well-known/openid-configuration [get]
func (h *OAuthHandler) Discovery(c *gin.Context) {
	c.JSON(http.StatusOK, h.oidc.Discovery())
}

func errorRedirect(redirectErr *usecase.RedirectError) string {
	target, err := url.Parse(redirectErr.RedirectURI)
	if err != nil {
		return redirectErr.RedirectURI
	}
	query := target.Query()
	query.Set("error", redirectErr.Code)
	if redirectErr.Description != "" {
		query.Set("error_description", redirectErr.Description)
	}
	if redirectErr.State != "" {
		query.Set("state", redirectErr.State)
	}
	target.RawQuery = query.Encode()
	return target.String()
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
