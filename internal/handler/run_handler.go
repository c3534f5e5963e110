package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gradekit/gradekit-api/internal/dto"
	"github.com/gradekit/gradekit-api/internal/models"
	appErrors "github.com/gradekit/gradekit-api/pkg/errors"
	"github.com/gradekit/gradekit-api/pkg/response"
)

type runService interface {
	StartRun(ctx context.Context, req dto.StartRunRequest, actorID string) (*dto.RunResponse, error)
	GetStatus(ctx context.Context, runID, actorID string) (*dto.RunStatusResponse, error)
	ListRuns(ctx context.Context, actorID string, limit int) ([]dto.RunStatusResponse, error)
	ListRows(ctx context.Context, runID, actorID string) (*dto.RowsResponse, error)
	EditRow(ctx context.Context, runID, rowID string, req dto.EditRowRequest, actorID string) (*models.RosterRow, error)
	Export(ctx context.Context, runID string, format models.ExportFormat, actorID string) (*dto.ExportResponse, error)
}

// RunHandler manages grading-run HTTP endpoints.
type RunHandler struct {
	service runService
}

// NewRunHandler constructs the handler.
func NewRunHandler(service runService) *RunHandler {
	return &RunHandler{service: service}
}

// Start godoc
// @Summary Start a grading run
// @Tags Runs
// @Accept json
// @Produce json
// @Param payload body dto.StartRunRequest true "Run parameters"
// @Success 201 {object} response.Envelope
// @Router /runs [post]
func (h *RunHandler) Start(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid run payload"))
		return
	}
	run, err := h.service.StartRun(c.Request.Context(), req, claims.Subject)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, run, nil)
}

// List godoc
// @Summary List recent grading runs
// @Tags Runs
// @Produce json
// @Param limit query int false "Maximum number of runs"
// @Success 200 {object} response.Envelope
// @Router /runs [get]
func (h *RunHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	runs, err := h.service.ListRuns(c.Request.Context(), claims.Subject, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, runs, nil)
}

// Status godoc
// @Summary Get grading run status
// @Tags Runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Router /runs/{id} [get]
func (h *RunHandler) Status(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	status, err := h.service.GetStatus(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Rows godoc
// @Summary List the merged roster rows of a run
// @Tags Runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Router /runs/{id}/rows [get]
func (h *RunHandler) Rows(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	rows, err := h.service.ListRows(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// EditRow godoc
// @Summary Override the grade or feedback of one roster row
// @Tags Runs
// @Accept json
// @Produce json
// @Param id path string true "Run ID"
// @Param rowId path string true "Row ID"
// @Param payload body dto.EditRowRequest true "Override"
// @Success 200 {object} response.Envelope
// @Router /runs/{id}/rows/{rowId} [patch]
func (h *RunHandler) EditRow(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.EditRowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid row payload"))
		return
	}
	row, err := h.service.EditRow(c.Request.Context(), c.Param("id"), c.Param("rowId"), req, claims.Subject)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, row, nil)
}

// Export godoc
// @Summary Render the reviewed roster and return a signed download link
// @Tags Runs
// @Accept json
// @Produce json
// @Param id path string true "Run ID"
// @Param payload body dto.ExportRequest true "Export format"
// @Success 200 {object} response.Envelope
// @Router /runs/{id}/export [post]
func (h *RunHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf"))
		return
	}
	export, err := h.service.Export(c.Request.Context(), c.Param("id"), req.Format, claims.Subject)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, export, nil)
}
