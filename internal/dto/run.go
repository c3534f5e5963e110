package dto

import (
	"time"

	"github.com/gradekit/gradekit-api/internal/models"
)

// StartRunRequest captures POST /runs payload.
type StartRunRequest struct {
	AssignmentTitle string  `json:"assignmentTitle" binding:"required" validate:"required"`
	Rubric          string  `json:"rubric"`
	PointScale      float64 `json:"pointScale" binding:"gt=0" validate:"gt=0"`
	SkipEmpty       *bool   `json:"skipEmpty,omitempty"`
	UploadID        string  `json:"uploadId" binding:"required" validate:"required"`
	RosterUploadID  string  `json:"rosterUploadId,omitempty"`
}

// RunResponse is returned after enqueueing a grading run.
type RunResponse struct {
	ID       string           `json:"id"`
	Status   models.RunStatus `json:"status"`
	Progress int              `json:"progress"`
}

// RunStatusResponse exposes run progress metadata.
type RunStatusResponse struct {
	ID          string           `json:"id"`
	Status      models.RunStatus `json:"status"`
	Progress    int              `json:"progress"`
	GradedCount int              `json:"gradedCount"`
	ErrorCount  int              `json:"errorCount"`
	Warnings    []string         `json:"warnings,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	FinishedAt  *time.Time       `json:"finishedAt,omitempty"`
	Error       *string          `json:"error,omitempty"`
}

// EditRowRequest captures an instructor override for one roster row.
type EditRowRequest struct {
	Grade    *float64 `json:"grade"`
	Feedback string   `json:"feedback"`
}

// ExportRequest captures POST /runs/:id/export payload.
type ExportRequest struct {
	Format models.ExportFormat `json:"format" binding:"required,oneof=csv pdf"`
}

// ExportResponse returns the signed download link for a rendered export.
type ExportResponse struct {
	URL       string    `json:"url"`
	Format    string    `json:"format"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RowsResponse wraps the merged roster of a run together with the review gate.
type RowsResponse struct {
	Rows        []models.RosterRow `json:"rows"`
	AllReviewed bool               `json:"allReviewed"`
}
