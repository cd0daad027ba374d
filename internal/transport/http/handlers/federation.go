package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mirastream/streaming-platform-auth/internal/usecase"
)

// FederationHandler exposes directory federation login endpoints.
type FederationHandler struct {
	federation *usecase.FederationService
}

// NewFederationHandler constructs FederationHandler.
func NewFederationHandler(federation *usecase.FederationService) *FederationHandler {
	return &FederationHandler{federation: federation}
}

// RegisterRoutes binds federation routes.
func (h *FederationHandler) RegisterRoutes(r *gin.RouterGroup, loginMiddlewares ...gin.HandlerFunc) {
	directoryLogin := append(append([]gin.HandlerFunc{}, loginMiddlewares...), h.directoryLogin)
	assertionLogin := append(append([]gin.HandlerFunc{}, loginMiddlewares...), h.assertionLogin)
	r.POST("/:directory/login", directoryLogin...)
	r.POST("/:directory/assertion", assertionLogin...)
}

// DirectoryLogin godoc
// @Summary Authenticate against an external directory
// @Description Performs an LDAP-style bind through the configured directory and issues a token pair. New identities are provisioned just-in-time.
// @Tags Federation
// @Accept json
// @Produce json
// @Param directory path string true "Directory identifier"
// @Param request body DirectoryLoginRequest true "Directory credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/federation/{directory}/login [post]
func (h *FederationHandler) directoryLogin(c *gin.Context) {
	var req DirectoryLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid directory login payload"))
		return
	}

	result, err := h.federation.LoginWithDirectory(
		c.Request.Context(),
		c.Param("directory"),
		req.Username,
		req.Password,
		deviceMetadata(c, req.DeviceType),
	)
	if err != nil {
		h.respondFederationError(c, err)
		return
	}

	c.JSON(http.StatusOK, newLoginResponse(result))
}

// AssertionLogin godoc
// @Summary Authenticate with a SAML assertion
// @Description Processes a SAML assertion through the configured directory and issues a token pair.
// @Tags Federation
// @Accept json
// @Produce json
// @Param directory path string true "Directory identifier"
// @Param request body AssertionLoginRequest true "Assertion payload"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/federation/{directory}/assertion [post]
func (h *FederationHandler) assertionLogin(c *gin.Context) {
	var req AssertionLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid assertion payload"))
		return
	}

	result, err := h.federation.LoginWithAssertion(
		c.Request.Context(),
		c.Param("directory"),
		[]byte(req.Assertion),
		deviceMetadata(c, req.DeviceType),
	)
	if err != nil {
		h.respondFederationError(c, err)
		return
	}

	c.JSON(http.StatusOK, newLoginResponse(result))
}

func (h *FederationHandler) respondFederationError(c *gin.Context, err error) {
	RespondWithMappedError(c, err, []ErrorCase{
		{Err: usecase.ErrFederationRejected, Status: http.StatusUnauthorized, Message: "directory authentication failed"},
		{Err: usecase.ErrAccountLocked, Status: http.StatusUnauthorized, Message: "directory authentication failed"},
		{Err: usecase.ErrAccountInactive, Status: http.StatusForbidden, Message: "account is not active"},
	}, http.StatusInternalServerError, "federated login failed")
}
