package roster

import (
	"strconv"

	"github.com/gradekit/gradekit-api/internal/models"
	"github.com/gradekit/gradekit-api/pkg/export"
)

// BuildDataset converts merged roster rows back into an exportable dataset.
// Headers are the original import headers so the file can be re-imported into
// the originating gradebook system; unrecognised columns are reproduced from
// the verbatim original row. A nil grade is exported as an empty cell, never 0.
func BuildDataset(gb *models.Gradebook, rows []models.RosterRow) export.Dataset {
	dataset := export.Dataset{Headers: gb.Headers}

	for _, row := range rows {
		record := make(map[string]string, len(gb.Headers))
		for _, header := range gb.Headers {
			record[header] = row.OriginalRow[header]
		}
		if row.Grade != nil {
			record[gb.AssignmentColumn] = strconv.FormatFloat(*row.Grade, 'f', -1, 64)
		} else {
			record[gb.AssignmentColumn] = ""
		}
		record[gb.FeedbackColumn] = row.Feedback

		// Appended students have no original row; fill what we know.
		if len(row.OriginalRow) == 0 {
			fillRecognized(record, gb.Headers, row)
		}

		dataset.Rows = append(dataset.Rows, record)
	}

	return dataset
}

func fillRecognized(record map[string]string, headers []string, row models.RosterRow) {
	cols := detectColumns(headers)
	set := func(idx int, value string) {
		if idx >= 0 && idx < len(headers) {
			record[headers[idx]] = value
		}
	}
	set(cols.identifier, row.Identifier)
	set(cols.fullName, row.FullName)
	set(cols.firstName, row.FirstName)
	set(cols.lastName, row.LastName)
	set(cols.email, row.Email)
}
