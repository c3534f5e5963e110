package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// GradeStatus captures the review state of a roster row.
type GradeStatus string

const (
	StatusNeedsGrading         GradeStatus = "NEEDS_GRADING"
	StatusGraded               GradeStatus = "GRADED"
	StatusNoSubmission         GradeStatus = "NO_SUBMISSION"
	StatusEmptySubmission      GradeStatus = "EMPTY_SUBMISSION"
	StatusManualReviewRequired GradeStatus = "MANUAL_REVIEW_REQUIRED"
	StatusError                GradeStatus = "ERROR"
)

// OriginalRow preserves the imported roster columns verbatim so export can
// reproduce unrecognized columns byte for byte. Persisted as JSONB.
type OriginalRow map[string]string

// Value marshals the original row to JSON for persistence.
func (o OriginalRow) Value() (driver.Value, error) {
	if o == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(o)
}

// Scan unmarshals the original row from its JSONB representation.
func (o *OriginalRow) Scan(src interface{}) error {
	if src == nil {
		*o = OriginalRow{}
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported original row type %T", src)
	}
	return json.Unmarshal(raw, o)
}

// FileMeta is the persisted slice of a submission file. File bytes are
// transient and never stored across sessions.
type FileMeta struct {
	Name         string    `json:"name"`
	RelativePath string    `json:"relative_path"`
	Size         int64     `json:"size"`
	ModTime      time.Time `json:"mod_time"`
	MIMEType     string    `json:"mime_type"`
}

// Value marshals file metadata to JSON for persistence.
func (f *FileMeta) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	return json.Marshal(f)
}

// Scan unmarshals file metadata from its JSONB representation.
func (f *FileMeta) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported file meta type %T", src)
	}
	return json.Unmarshal(raw, f)
}

// RosterRow is one gradebook entry. Rows imported from a roster are never
// deleted by merging; they are updated in place or joined by appended rows.
type RosterRow struct {
	ID             string      `db:"id" json:"id,omitempty"`
	RunID          string      `db:"run_id" json:"-"`
	Position       int         `db:"position" json:"position"`
	Identifier     string      `db:"identifier" json:"identifier"`
	FullName       string      `db:"full_name" json:"full_name"`
	FirstName      string      `db:"first_name" json:"first_name,omitempty"`
	LastName       string      `db:"last_name" json:"last_name,omitempty"`
	Email          string      `db:"email" json:"email"`
	Status         GradeStatus `db:"status" json:"status"`
	Grade          *float64    `db:"grade" json:"grade"`
	Feedback       string      `db:"feedback" json:"feedback"`
	Edited         bool        `db:"edited" json:"edited"`
	ContentPreview string      `db:"content_preview" json:"content_preview,omitempty"`
	File           *FileMeta   `db:"file_meta" json:"file,omitempty"`
	OriginalRow    OriginalRow `db:"original_row" json:"original_row,omitempty"`
}

// Gradebook is a parsed roster with resolved column semantics. Headers keep
// the original import order; AssignmentColumn and FeedbackColumn name which
// header carries the numeric grade and the feedback text.
type Gradebook struct {
	Headers          []string    `json:"headers"`
	Rows             []RosterRow `json:"grades"`
	AssignmentColumn string      `json:"assignment_column"`
	FeedbackColumn   string      `json:"feedback_column"`
}

// DerivedIdentity is a student identity inferred from folder or file naming,
// used only as input to the identity matcher.
type DerivedIdentity struct {
	FullName   string `json:"full_name"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Email      string `json:"email,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}
