package ingest

import (
	"sort"
	"strings"

	"github.com/gradekit/gradekit-api/internal/models"
)

// OrganizeResult is the organizer output: per-student buckets in a stable
// order, plus diagnostics.
type OrganizeResult struct {
	Buckets []models.SubmissionBucket
	// AllCatchAll is set when every file landed in the catch-all bucket, a
	// strong signal the upload carried no folder structure and identity
	// matching will struggle. A warning, not an error.
	AllCatchAll bool
}

// Organize groups files into buckets keyed by likely student. A file with
// directory information is keyed by its immediate parent folder; otherwise
// the LMS filename convention markers _assignsubmission_ and _onlinetext_
// recover the leading student-name segment. Files with neither fall into the
// catch-all bucket.
func Organize(files []*models.SubmissionFile) OrganizeResult {
	grouped := make(map[string][]*models.SubmissionFile)
	for _, file := range files {
		grouped[bucketKey(file)] = append(grouped[bucketKey(file)], file)
	}

	keys := make([]string, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := OrganizeResult{Buckets: make([]models.SubmissionBucket, 0, len(keys))}
	catchAllOnly := true
	for _, key := range keys {
		result.Buckets = append(result.Buckets, models.SubmissionBucket{Key: key, Files: grouped[key]})
		if key != models.CatchAllBucketKey {
			catchAllOnly = false
		}
	}
	result.AllCatchAll = len(result.Buckets) > 0 && catchAllOnly
	return result
}

func bucketKey(file *models.SubmissionFile) string {
	if parent := parentFolder(file.RelativePath); parent != "" {
		return parent
	}
	if name := nameFromLMSMarker(file.Name); name != "" {
		return name
	}
	return models.CatchAllBucketKey
}

func parentFolder(relativePath string) string {
	p := strings.Trim(strings.ReplaceAll(relativePath, "\\", "/"), "/")
	segments := strings.Split(p, "/")
	if len(segments) < 2 {
		return ""
	}
	return segments[len(segments)-2]
}

func nameFromLMSMarker(filename string) string {
	for _, marker := range []string{"_assignsubmission_", "_onlinetext_"} {
		if idx := strings.Index(filename, marker); idx > 0 {
			return filename[:idx]
		}
	}
	return ""
}
