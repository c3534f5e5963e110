package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradekit/gradekit-api/internal/models"
	"github.com/gradekit/gradekit-api/pkg/export"
)

func TestParseCSVMoodleExport(t *testing.T) {
	csvText := "Identifier,Full name,Email address,Status,Grade,Feedback comments\n" +
		"id1,Jane Smith,jane@x.edu,Needs Grading,0,\n" +
		"id2,\"Doe, John\",john@x.edu,Needs Grading,,\"Great, but late\"\n"

	gb, err := NewParser().ParseCSV([]byte(csvText))
	require.NoError(t, err)

	assert.Equal(t, []string{"Identifier", "Full name", "Email address", "Status", "Grade", "Feedback comments"}, gb.Headers)
	assert.Equal(t, "Grade", gb.AssignmentColumn)
	assert.Equal(t, "Feedback comments", gb.FeedbackColumn)
	require.Len(t, gb.Rows, 2)

	jane := gb.Rows[0]
	assert.Equal(t, "id1", jane.Identifier)
	assert.Equal(t, "Jane Smith", jane.FullName)
	assert.Equal(t, "jane@x.edu", jane.Email)
	require.NotNil(t, jane.Grade)
	assert.Equal(t, float64(0), *jane.Grade)
	assert.Equal(t, models.StatusNeedsGrading, jane.Status)

	john := gb.Rows[1]
	assert.Equal(t, "Doe, John", john.FullName)
	assert.Nil(t, john.Grade)
	assert.Equal(t, "Great, but late", john.Feedback)
	assert.Equal(t, "Needs Grading", john.OriginalRow["Status"])
}

func TestParseCSVDetectsHeaderVariants(t *testing.T) {
	csvText := "Username,Given name,Surname,E-mail,Mark,Comments\n" +
		"u77,Ada,Lovelace,ada@x.edu,95.5,well done\n"

	gb, err := NewParser().ParseCSV([]byte(csvText))
	require.NoError(t, err)

	assert.Equal(t, "Mark", gb.AssignmentColumn)
	assert.Equal(t, "Comments", gb.FeedbackColumn)
	require.Len(t, gb.Rows, 1)

	row := gb.Rows[0]
	assert.Equal(t, "u77", row.Identifier)
	assert.Equal(t, "Ada", row.FirstName)
	assert.Equal(t, "Lovelace", row.LastName)
	assert.Equal(t, "Ada Lovelace", row.FullName)
	assert.Equal(t, "ada@x.edu", row.Email)
	require.NotNil(t, row.Grade)
	assert.Equal(t, 95.5, *row.Grade)
}

func TestParseCSVQuotedFieldsAndEscapedQuotes(t *testing.T) {
	csvText := "Full name,Grade,Feedback\n" +
		"\"Smith, Jane\",80,\"She said \"\"hello\"\" twice\"\n"

	gb, err := NewParser().ParseCSV([]byte(csvText))
	require.NoError(t, err)
	require.Len(t, gb.Rows, 1)
	assert.Equal(t, "Smith, Jane", gb.Rows[0].FullName)
	assert.Equal(t, `She said "hello" twice`, gb.Rows[0].Feedback)
}

func TestParseCSVSynthesizesMissingColumns(t *testing.T) {
	csvText := "Blob\nsomething\n"

	gb, err := NewParser().ParseCSV([]byte(csvText))
	require.NoError(t, err)

	assert.Equal(t, DefaultGradeHeader, gb.AssignmentColumn)
	assert.Equal(t, DefaultFeedbackHeader, gb.FeedbackColumn)
	require.Len(t, gb.Rows, 1)
	assert.Equal(t, "Student 1", gb.Rows[0].FullName)
	assert.Contains(t, gb.Rows[0].Email, "@example.edu")
}

func TestParseCSVEmpty(t *testing.T) {
	_, err := NewParser().ParseCSV([]byte(""))
	require.Error(t, err)
}

func TestCSVRoundTripLossless(t *testing.T) {
	csvText := "Identifier,Full name,Email address,Status,Grade,Feedback comments,Custom column\n" +
		"id1,Jane Smith,jane@x.edu,Needs Grading,88,solid work,keep me\n" +
		"id2,John Doe,john@x.edu,Needs Grading,,,keep me too\n"

	parser := NewParser()
	gb, err := parser.ParseCSV([]byte(csvText))
	require.NoError(t, err)

	dataset := BuildDataset(gb, gb.Rows)
	rendered, err := export.NewCSVExporter().Render(dataset)
	require.NoError(t, err)

	reparsed, err := parser.ParseCSV(rendered)
	require.NoError(t, err)
	require.Len(t, reparsed.Rows, len(gb.Rows))

	for i, row := range gb.Rows {
		again := reparsed.Rows[i]
		assert.Equal(t, row.Identifier, again.Identifier)
		assert.Equal(t, row.FullName, again.FullName)
		assert.Equal(t, row.Feedback, again.Feedback)
		if row.Grade == nil {
			assert.Nil(t, again.Grade)
		} else {
			require.NotNil(t, again.Grade)
			assert.Equal(t, *row.Grade, *again.Grade)
		}
		assert.Equal(t, row.OriginalRow["Custom column"], again.OriginalRow["Custom column"])
	}
}

func TestBuildDatasetNilGradeStaysEmpty(t *testing.T) {
	gb := &models.Gradebook{
		Headers:          []string{"Identifier", "Full name", "Grade", "Feedback comments"},
		AssignmentColumn: "Grade",
		FeedbackColumn:   "Feedback comments",
	}
	rows := []models.RosterRow{{
		Identifier:  "id1",
		FullName:    "Jane Smith",
		Status:      models.StatusNoSubmission,
		OriginalRow: models.OriginalRow{"Identifier": "id1", "Full name": "Jane Smith", "Grade": "0", "Feedback comments": ""},
	}}

	dataset := BuildDataset(gb, rows)
	require.Len(t, dataset.Rows, 1)
	assert.Equal(t, "", dataset.Rows[0]["Grade"])
}
