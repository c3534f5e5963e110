package grader

import (
	"fmt"
	"strings"
)

// BuildSystemPrompt renders the grading instructions for one assignment. The
// model is told to answer with a bare JSON object so the response parser can
// stay simple.
func BuildSystemPrompt(assignmentTitle, rubric string, pointScale float64) string {
	var sb strings.Builder
	sb.WriteString("You are a teaching assistant grading student submissions")
	if title := strings.TrimSpace(assignmentTitle); title != "" {
		fmt.Fprintf(&sb, " for the assignment %q", title)
	}
	sb.WriteString(".\n\n")

	if rubric = strings.TrimSpace(rubric); rubric != "" {
		sb.WriteString("Grade strictly according to this rubric:\n")
		sb.WriteString(rubric)
		sb.WriteString("\n\n")
	}

	fmt.Fprintf(&sb, "Assign a numeric grade between 0 and %s points.\n", trimFloat(pointScale))
	sb.WriteString("Write concise, constructive feedback addressed to the student.\n")
	sb.WriteString(`Respond with only a JSON object of the form {"grade": <number>, "feedback": "<string>"} and nothing else.`)
	return sb.String()
}

// BuildUserPrompt wraps the submission text for the user turn.
func BuildUserPrompt(text string) string {
	return "Student submission:\n\n" + text
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
