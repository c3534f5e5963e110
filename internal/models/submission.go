package models

// SubmissionFile is a raw file pulled from an upload or expanded ZIP archive.
// Data lives only for the duration of one pipeline invocation.
type SubmissionFile struct {
	FileMeta
	Data []byte `json:"-"`
}

// SubmissionBucket groups the files believed to belong to one student's
// submission. Buckets are rebuilt whenever the file list changes and are
// discarded once grading completes.
type SubmissionBucket struct {
	Key   string
	Files []*SubmissionFile
}

// CatchAllBucketKey collects files with no derivable folder or name marker.
const CatchAllBucketKey = "__unsorted__"

// ExtractedSubmission is the best-file selector output for one bucket.
// NoFiles and Empty drive different downstream statuses: a bucket with no
// candidate files at all maps to NoSubmission, while files that produced no
// meaningful text map to EmptySubmission.
type ExtractedSubmission struct {
	Text    string
	File    *SubmissionFile
	Empty   bool
	NoFiles bool
}

// GradedSubmission carries one grading outcome back into the merge step.
type GradedSubmission struct {
	BucketKey string
	Identity  DerivedIdentity
	File      *SubmissionFile
	Preview   string
	Grade     *float64
	Feedback  string
	Status    GradeStatus
	Empty     bool
}
