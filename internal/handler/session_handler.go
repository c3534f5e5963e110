package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gradekit/gradekit-api/internal/models"
	appErrors "github.com/gradekit/gradekit-api/pkg/errors"
	"github.com/gradekit/gradekit-api/pkg/response"
)

type sessionService interface {
	Save(ctx context.Context, userID string, state models.SessionState)
	Restore(ctx context.Context, userID string) models.SessionState
	Clear(ctx context.Context, userID string)
}

// SessionHandler exposes the wizard session snapshot endpoints.
type SessionHandler struct {
	service sessionService
}

// NewSessionHandler constructs the handler.
func NewSessionHandler(service sessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

// Restore godoc
// @Summary Restore the cached wizard session
// @Tags Session
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /session [get]
func (h *SessionHandler) Restore(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	state := h.service.Restore(c.Request.Context(), claims.Subject)
	response.JSON(c, http.StatusOK, state, nil)
}

// Save godoc
// @Summary Snapshot the wizard session
// @Tags Session
// @Accept json
// @Produce json
// @Param payload body models.SessionState true "Wizard state"
// @Success 204
// @Router /session [put]
func (h *SessionHandler) Save(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var state models.SessionState
	if err := c.ShouldBindJSON(&state); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid session payload"))
		return
	}
	h.service.Save(c.Request.Context(), claims.Subject, state)
	response.NoContent(c)
}

// Clear godoc
// @Summary Drop the cached wizard session
// @Tags Session
// @Success 204
// @Router /session [delete]
func (h *SessionHandler) Clear(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	h.service.Clear(c.Request.Context(), claims.Subject)
	response.NoContent(c)
}
