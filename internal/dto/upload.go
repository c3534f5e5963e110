package dto

// UploadResponse is returned after storing a submission archive.
type UploadResponse struct {
	UploadID  string `json:"uploadId"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	FileCount int    `json:"fileCount"`
}

// RosterUploadResponse carries the parsed roster preview back to the wizard.
type RosterUploadResponse struct {
	UploadID         string   `json:"uploadId"`
	Filename         string   `json:"filename"`
	Headers          []string `json:"headers"`
	AssignmentColumn string   `json:"assignmentColumn"`
	FeedbackColumn   string   `json:"feedbackColumn"`
	StudentCount     int      `json:"studentCount"`
	SampleNames      []string `json:"sampleNames,omitempty"`
}

// SessionResponse mirrors the cached wizard snapshot.
type SessionResponse struct {
	WizardStep int    `json:"wizardStep"`
	LastRunID  string `json:"lastRunId,omitempty"`
}
