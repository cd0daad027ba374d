package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mirastream/streaming-platform-auth/internal/transport/http/middleware"
	"github.com/mirastream/streaming-platform-auth/internal/usecase"
)

// SessionHandler exposes session management endpoints. Every route is
// scoped to the authenticated subject; sessions of other subjects are
// indistinguishable from missing ones.
type SessionHandler struct {
	sessions *usecase.SessionService
}

// NewSessionHandler constructs SessionHandler.
func NewSessionHandler(sessions *usecase.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// RegisterRoutes binds session routes onto an authenticated group.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.list)
	r.GET("/policy", h.policy)
	r.DELETE("/:id", h.terminate)
	r.DELETE("", h.terminateAll)
	r.POST("/:id/extend", h.extend)
}

// RegisterAdminRoutes binds operator-only session routes. The group is
// expected to carry authentication and role middleware already.
func (h *SessionHandler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.DELETE("/users/:subject/sessions", h.adminTerminateAll)
}

// List godoc
// @Summary List active sessions
// @Description Returns every session for the authenticated subject, oldest first.
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} SessionListResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sessions [get]
func (h *SessionHandler) list(c *gin.Context) {
	subject, ok := middleware.GetAuthenticatedSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessions, err := h.sessions.ListSessions(c.Request.Context(), subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list sessions"))
		return
	}

	currentID := c.GetHeader("X-Session-ID")
	payloads := make([]SessionPayload, 0, len(sessions))
	for _, session := range sessions {
		payloads = append(payloads, newSessionPayload(session, currentID))
	}

	c.JSON(http.StatusOK, SessionListResponse{Sessions: payloads, Total: len(payloads)})
}

// Terminate godoc
// @Summary Terminate one session
// @Description Removes a single session owned by the authenticated subject.
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} MessageResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sessions/{id} [delete]
func (h *SessionHandler) terminate(c *gin.Context) {
	subject, ok := middleware.GetAuthenticatedSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessionID := c.Param("id")
	owned, err := h.ownsSession(c, subject, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to resolve session"))
		return
	}
	if !owned {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "session not found"))
		return
	}

	if err := h.sessions.TerminateSession(c.Request.Context(), sessionID, "user_request"); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to terminate session"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "session terminated"})
}

// TerminateAll godoc
// @Summary Terminate all sessions
// @Description Removes every session for the authenticated subject except the current one.
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} SessionTerminateAllResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sessions [delete]
func (h *SessionHandler) terminateAll(c *gin.Context) {
	subject, ok := middleware.GetAuthenticatedSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	removed, err := h.sessions.TerminateAllSessions(c.Request.Context(), subject, c.GetHeader("X-Session-ID"), "user_request")
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to terminate sessions"))
		return
	}

	c.JSON(http.StatusOK, SessionTerminateAllResponse{TerminatedCount: removed})
}

// Extend godoc
// @Summary Extend a session
// @Description Pushes the session expiry forward per policy, clamped to the absolute lifetime cap.
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param request body SessionExtendRequest false "Extension parameters"
// @Success 200 {object} SessionPayload
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sessions/{id}/extend [post]
func (h *SessionHandler) extend(c *gin.Context) {
	subject, ok := middleware.GetAuthenticatedSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessionID := c.Param("id")
	owned, err := h.ownsSession(c, subject, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to resolve session"))
		return
	}
	if !owned {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "session not found"))
		return
	}

	var req SessionExtendRequest
	_ = c.ShouldBindJSON(&req)

	session, err := h.sessions.ExtendSession(c.Request.Context(), sessionID, req.MFAVerified)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, NewErrorResponse(c, "session not found"))
		case errors.Is(err, usecase.ErrSessionExpired):
			c.JSON(http.StatusGone, NewErrorResponse(c, "session expired"))
		case errors.Is(err, usecase.ErrMFARequired):
			c.JSON(http.StatusForbidden, NewErrorResponse(c, "mfa verification required to extend this session"))
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to extend session"))
		}
		return
	}

	c.JSON(http.StatusOK, newSessionPayload(*session, c.GetHeader("X-Session-ID")))
}

// Policy godoc
// @Summary Effective session policy
// @Description Returns the session policy applied to the authenticated subject.
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} SessionPolicyResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sessions/policy [get]
func (h *SessionHandler) policy(c *gin.Context) {
	subject, ok := middleware.GetAuthenticatedSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	policy, err := h.sessions.GetSessionPolicy(c.Request.Context(), subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to resolve session policy"))
		return
	}

	c.JSON(http.StatusOK, SessionPolicyResponse{
		MaxConcurrentSessions:  policy.MaxConcurrentSessions,
		SessionDuration:        policy.SessionDuration.String(),
		InactivityTimeout:      policy.InactivityTimeout.String(),
		AbsoluteSessionTimeout: policy.AbsoluteSessionTimeout.String(),
		RequireMFAForExtension: policy.RequireMFAForExtension,
	})
}

// AdminTerminateAll godoc
// @Summary Terminate every session of a user
// @Description Removes all sessions for the given subject. Operator roles only.
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param subject path string true "Subject ID"
// @Success 200 {object} SessionTerminateAllResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/admin/users/{subject}/sessions [delete]
func (h *SessionHandler) adminTerminateAll(c *gin.Context) {
	subject := c.Param("subject")
	if subject == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "subject is required"))
		return
	}

	removed, err := h.sessions.TerminateAllSessions(c.Request.Context(), subject, "", "operator_request")
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to terminate sessions"))
		return
	}

	c.JSON(http.StatusOK, SessionTerminateAllResponse{TerminatedCount: removed})
}

// ownsSession reports whether the session belongs to the subject without
// touching its last-used time.
func (h *SessionHandler) ownsSession(c *gin.Context, subject, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	sessions, err := h.sessions.ListSessions(c.Request.Context(), subject)
	if err != nil {
		return false, err
	}
	for _, session := range sessions {
		if session.ID == sessionID {
			return true, nil
		}
	}
	return false, nil
}
