package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RunStatus captures the grading-run lifecycle.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "QUEUED"
	RunStatusProcessing RunStatus = "PROCESSING"
	RunStatusFinished   RunStatus = "FINISHED"
	RunStatusFailed     RunStatus = "FAILED"
)

// ExportFormat enumerates supported export formats.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// GradebookColumns records the imported roster column layout so export can
// reproduce the original header order and write grades into the right column.
type GradebookColumns struct {
	Headers          []string `json:"headers,omitempty"`
	AssignmentColumn string   `json:"assignmentColumn,omitempty"`
	FeedbackColumn   string   `json:"feedbackColumn,omitempty"`
}

// RunParams stores the assignment configuration persisted as JSONB.
// SkipEmpty overrides the configured default when set.
type RunParams struct {
	AssignmentTitle string           `json:"assignmentTitle"`
	Rubric          string           `json:"rubric"`
	PointScale      float64          `json:"pointScale"`
	SkipEmpty       *bool            `json:"skipEmpty,omitempty"`
	UploadID        string           `json:"uploadId"`
	RosterUploadID  string           `json:"rosterUploadId,omitempty"`
	Columns         GradebookColumns `json:"columns,omitempty"`
	Warnings        []string         `json:"warnings,omitempty"`
}

// Value marshals params to JSON for persistence.
func (p RunParams) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan unmarshals params from their JSONB representation.
func (p *RunParams) Scan(src interface{}) error {
	if src == nil {
		*p = RunParams{}
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported run params type %T", src)
	}
	return json.Unmarshal(raw, p)
}

// GradingRun is the persisted background grading job.
type GradingRun struct {
	ID           string     `db:"id" json:"id"`
	Status       RunStatus  `db:"status" json:"status"`
	Progress     int        `db:"progress" json:"progress"`
	Params       RunParams  `db:"params" json:"params"`
	GradedCount  int        `db:"graded_count" json:"graded_count"`
	ErrorCount   int        `db:"error_count" json:"error_count"`
	CreatedBy    string     `db:"created_by" json:"created_by"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
}

// SessionState is the best-effort wizard snapshot cached between reloads.
// Absent or corrupt state falls back to zero values, never an error.
type SessionState struct {
	WizardStep int        `json:"wizard_step"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	LastParams *RunParams `json:"last_params,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
