// Package roster parses instructor-supplied gradebook exports into a
// structured row model while preserving every original column verbatim.
package roster

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/gradekit/gradekit-api/internal/models"
	appErrors "github.com/gradekit/gradekit-api/pkg/errors"
)

// Fallback column names appended when the import lacks a grade or feedback
// column, so merged results always have somewhere to land on export.
const (
	DefaultGradeHeader    = "Grade"
	DefaultFeedbackHeader = "Feedback comments"
)

var firstNameHeaders = map[string]struct{}{
	"first name": {}, "firstname": {}, "first": {}, "given name": {}, "givenname": {}, "forename": {},
}

var lastNameHeaders = map[string]struct{}{
	"last name": {}, "lastname": {}, "last": {}, "surname": {}, "family name": {}, "familyname": {},
}

// Parser turns tabular gradebook data into a Gradebook. Column semantics are
// detected heuristically because real-world exports disagree on naming.
type Parser struct{}

// NewParser constructs a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseCSV reads RFC4180 CSV bytes (quoted fields, doubled quotes) into a Gradebook.
func (p *Parser) ParseCSV(data []byte) (*models.Gradebook, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil && err != io.EOF {
		return nil, appErrors.Wrap(err, appErrors.ErrRosterParse.Code, appErrors.ErrRosterParse.Status, "invalid CSV content")
	}
	return p.ParseRecords(records)
}

// ParseRecords builds a Gradebook from raw rows, the first being the header.
func (p *Parser) ParseRecords(records [][]string) (*models.Gradebook, error) {
	if len(records) == 0 {
		return nil, appErrors.Clone(appErrors.ErrRosterParse, "gradebook file is empty")
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}

	cols := detectColumns(headers)

	gb := &models.Gradebook{Headers: headers}
	if cols.grade >= 0 {
		gb.AssignmentColumn = headers[cols.grade]
	} else {
		gb.Headers = append(gb.Headers, DefaultGradeHeader)
		gb.AssignmentColumn = DefaultGradeHeader
	}
	if cols.feedback >= 0 {
		gb.FeedbackColumn = headers[cols.feedback]
	} else {
		gb.Headers = append(gb.Headers, DefaultFeedbackHeader)
		gb.FeedbackColumn = DefaultFeedbackHeader
	}

	for i, record := range records[1:] {
		if isBlankRecord(record) {
			continue
		}
		row := p.buildRow(headers, cols, record, i)
		row.Position = len(gb.Rows)
		gb.Rows = append(gb.Rows, row)
	}

	return gb, nil
}

func (p *Parser) buildRow(headers []string, cols columnIndexes, record []string, ordinal int) models.RosterRow {
	get := func(idx int) string {
		if idx >= 0 && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}

	original := make(models.OriginalRow, len(headers))
	for i, h := range headers {
		if i < len(record) {
			original[h] = record[i]
		} else {
			original[h] = ""
		}
	}

	row := models.RosterRow{
		Identifier:  get(cols.identifier),
		FirstName:   get(cols.firstName),
		LastName:    get(cols.lastName),
		FullName:    get(cols.fullName),
		Email:       get(cols.email),
		Feedback:    get(cols.feedback),
		Status:      models.StatusNeedsGrading,
		OriginalRow: original,
	}

	if row.FullName == "" {
		if row.FirstName != "" || row.LastName != "" {
			row.FullName = strings.TrimSpace(row.FirstName + " " + row.LastName)
		} else {
			row.FullName = fmt.Sprintf("Student %d", ordinal+1)
		}
	}
	if row.Identifier == "" {
		row.Identifier = fmt.Sprintf("row-%d", ordinal+1)
	}
	if row.Email == "" {
		row.Email = SynthesizeEmail(row.FullName)
	}

	if raw := get(cols.grade); raw != "" {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64); err == nil {
			row.Grade = &v
		}
	}

	return row
}

type columnIndexes struct {
	identifier int
	fullName   int
	firstName  int
	lastName   int
	email      int
	grade      int
	feedback   int
}

func detectColumns(headers []string) columnIndexes {
	cols := columnIndexes{identifier: -1, fullName: -1, firstName: -1, lastName: -1, email: -1, grade: -1, feedback: -1}
	claimed := make(map[int]bool, len(headers))

	claim := func(idx int) {
		claimed[idx] = true
	}

	lower := make([]string, len(headers))
	for i, h := range headers {
		lower[i] = strings.ToLower(strings.TrimSpace(h))
	}

	// Most specific headers first so that e.g. "Full name" is not claimed as
	// a first-name column and "Grade" is not mistaken for an identifier.
	for i, h := range lower {
		if cols.firstName < 0 {
			if _, ok := firstNameHeaders[h]; ok {
				cols.firstName = i
				claim(i)
				continue
			}
		}
		if cols.lastName < 0 {
			if _, ok := lastNameHeaders[h]; ok {
				cols.lastName = i
				claim(i)
			}
		}
	}

	for i, h := range lower {
		if claimed[i] || cols.fullName >= 0 {
			continue
		}
		if strings.Contains(h, "full name") || h == "fullname" || h == "name" {
			cols.fullName = i
			claim(i)
		}
	}

	for i, h := range lower {
		if claimed[i] || cols.email >= 0 {
			continue
		}
		if strings.Contains(h, "email") {
			cols.email = i
			claim(i)
		}
	}

	for i, h := range lower {
		if claimed[i] || cols.grade >= 0 {
			continue
		}
		if strings.Contains(h, "grade") || strings.Contains(h, "mark") || strings.Contains(h, "score") {
			cols.grade = i
			claim(i)
		}
	}

	for i, h := range lower {
		if claimed[i] || cols.feedback >= 0 {
			continue
		}
		if strings.Contains(h, "feedback") || strings.Contains(h, "comment") {
			cols.feedback = i
			claim(i)
		}
	}

	for i, h := range lower {
		if claimed[i] || cols.identifier >= 0 {
			continue
		}
		if h == "identifier" || h == "username" || h == "id" || strings.Contains(h, "id") {
			cols.identifier = i
			claim(i)
		}
	}

	return cols
}

var emailSanitizer = regexp.MustCompile(`[^a-z0-9.]+`)

// SynthesizeEmail derives a placeholder address from a student name. Used for
// imported rows without an email column and for students appended during the
// merge.
func SynthesizeEmail(fullName string) string {
	local := strings.ToLower(strings.TrimSpace(fullName))
	local = strings.ReplaceAll(local, " ", ".")
	local = emailSanitizer.ReplaceAllString(local, "")
	local = strings.Trim(local, ".")
	if local == "" {
		local = "student"
	}
	return local + "@example.edu"
}

func isBlankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
