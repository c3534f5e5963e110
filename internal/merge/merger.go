// Package merge combines graded submissions with previously imported roster
// rows into one consistent, exportable record set.
package merge

import (
	"strings"

	"github.com/gradekit/gradekit-api/internal/models"
	"github.com/gradekit/gradekit-api/internal/roster"
)

// Options tune merge behaviour.
type Options struct {
	// SkipEmpty clears the model-provided grade for empty submissions instead
	// of keeping it.
	SkipEmpty bool
}

// Merge starts from a copy of rosterRows, so every imported student survives
// in original relative order. Roster rows without a processed submission are
// marked NoSubmission (null grade, pre-reviewed). Graded submissions overwrite
// their matching row in place; submissions with no roster match are appended
// as new rows. Merging the same submission set twice is a no-op on top of
// itself.
func Merge(rosterRows []models.RosterRow, subs []models.GradedSubmission, opts Options) []models.RosterRow {
	out := make([]models.RosterRow, len(rosterRows))
	copy(out, rosterRows)

	submitted := make(map[string]struct{}, len(subs))
	for _, sub := range subs {
		submitted[foldName(sub.Identity.FullName)] = struct{}{}
	}

	// First pass: students who never submitted. They need no instructor
	// review, so they do not block the all-reviewed gate.
	for i := range out {
		if _, ok := submitted[foldName(out[i].FullName)]; ok {
			continue
		}
		out[i].Status = models.StatusNoSubmission
		out[i].Grade = nil
		out[i].Edited = true
		out[i].File = nil
		out[i].ContentPreview = ""
	}

	// Second pass: apply grading outcomes, overwriting any previous result so
	// the operation stays idempotent.
	for _, sub := range subs {
		idx := findByName(out, sub.Identity.FullName)
		if idx < 0 {
			row := newRowFromSubmission(sub, opts)
			row.Position = len(out)
			out = append(out, row)
			continue
		}
		applySubmission(&out[idx], sub, opts)
	}

	return out
}

func applySubmission(row *models.RosterRow, sub models.GradedSubmission, opts Options) {
	row.Feedback = sub.Feedback
	row.ContentPreview = sub.Preview
	row.Edited = false
	if sub.File != nil {
		meta := sub.File.FileMeta
		row.File = &meta
	} else {
		row.File = nil
	}

	switch {
	case sub.Status == models.StatusError:
		row.Status = models.StatusError
		row.Grade = nil
	case sub.Status == models.StatusManualReviewRequired:
		row.Status = models.StatusManualReviewRequired
		row.Grade = nil
	case sub.Empty:
		row.Status = models.StatusEmptySubmission
		if opts.SkipEmpty {
			row.Grade = nil
		} else {
			row.Grade = sub.Grade
		}
	default:
		row.Status = models.StatusGraded
		row.Grade = sub.Grade
	}
}

func newRowFromSubmission(sub models.GradedSubmission, opts Options) models.RosterRow {
	row := models.RosterRow{
		Identifier:  sub.Identity.Identifier,
		FullName:    sub.Identity.FullName,
		FirstName:   sub.Identity.FirstName,
		LastName:    sub.Identity.LastName,
		Email:       sub.Identity.Email,
		OriginalRow: models.OriginalRow{},
	}
	if row.Email == "" {
		row.Email = roster.SynthesizeEmail(row.FullName)
	}
	applySubmission(&row, sub, opts)
	return row
}

func findByName(rows []models.RosterRow, fullName string) int {
	want := foldName(fullName)
	for i, row := range rows {
		if foldName(row.FullName) == want {
			return i
		}
	}
	return -1
}

func foldName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
