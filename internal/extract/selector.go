package extract

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/gradekit/gradekit-api/internal/models"
)

// SelectorOptions tune best-file selection.
type SelectorOptions struct {
	// MinTextLength is the threshold below which extracted text does not count
	// as a meaningful submission.
	MinTextLength int
	// OnlineTextRatio gates the online-text fallback: an HTML result replaces
	// a short rich-file result only when it is this many times longer.
	OnlineTextRatio float64
	// Concurrency bounds parallel extraction within one bucket.
	Concurrency int
}

const (
	defaultMinTextLength   = 30
	defaultOnlineTextRatio = 2.0
	defaultConcurrency     = 4
)

// Selector picks the single best file per submission bucket and extracts its
// text.
type Selector struct {
	extractor *Extractor
	opts      SelectorOptions
}

// NewSelector constructs a Selector on top of extractor. Zero option fields
// fall back to defaults.
func NewSelector(extractor *Extractor, opts SelectorOptions) *Selector {
	if opts.MinTextLength <= 0 {
		opts.MinTextLength = defaultMinTextLength
	}
	if opts.OnlineTextRatio <= 0 {
		opts.OnlineTextRatio = defaultOnlineTextRatio
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Selector{extractor: extractor, opts: opts}
}

type candidate struct {
	file *models.SubmissionFile
	text string
}

// SelectAndExtract partitions the bucket into rich document types and LMS
// online-text files, processes the rich set first, and falls back to online
// text only when no rich file yields meaningful content. Online-text
// submissions are frequently near-empty placeholders, so a fallback result
// replaces a weak rich result only when substantially longer.
func (s *Selector) SelectAndExtract(bucket models.SubmissionBucket) models.ExtractedSubmission {
	if len(bucket.Files) == 0 {
		return models.ExtractedSubmission{NoFiles: true, Empty: true}
	}

	var rich, online []*models.SubmissionFile
	for _, file := range bucket.Files {
		if isOnlineText(file) {
			online = append(online, file)
		} else {
			rich = append(rich, file)
		}
	}

	richResults := s.extractAll(rich)
	for _, c := range richResults {
		if s.meaningful(c.text) {
			return models.ExtractedSubmission{Text: c.text, File: c.file}
		}
	}

	// Best weak rich result: non-empty text that missed the length threshold.
	var weak *candidate
	for i := range richResults {
		c := &richResults[i]
		if IsMarker(c.text) || strings.TrimSpace(c.text) == "" {
			continue
		}
		if weak == nil || len(c.text) > len(weak.text) {
			weak = c
		}
	}

	// Online-text candidates are ranked and gated on their stripped content
	// length so markup boilerplate cannot inflate a stub past the ratio.
	var bestOnline *candidate
	bestOnlineLen := 0
	onlineResults := s.extractAll(online)
	for i := range onlineResults {
		c := &onlineResults[i]
		stripped := strings.TrimSpace(StripHTML(c.text))
		if IsMarker(c.text) || stripped == "" {
			continue
		}
		if bestOnline == nil || len(stripped) > bestOnlineLen {
			bestOnline = c
			bestOnlineLen = len(stripped)
		}
	}

	switch {
	case weak != nil && bestOnline != nil:
		if float64(bestOnlineLen) >= s.opts.OnlineTextRatio*float64(len(weak.text)) {
			return models.ExtractedSubmission{Text: bestOnline.text, File: bestOnline.file, Empty: bestOnlineLen < s.opts.MinTextLength}
		}
		return models.ExtractedSubmission{Text: weak.text, File: weak.file, Empty: true}
	case bestOnline != nil:
		return models.ExtractedSubmission{Text: bestOnline.text, File: bestOnline.file, Empty: bestOnlineLen < s.opts.MinTextLength}
	case weak != nil:
		return models.ExtractedSubmission{Text: weak.text, File: weak.file, Empty: true}
	}

	// Nothing textual. An image file still goes forward so the image-capable
	// grading path can pick it up; anything else is an empty submission.
	for _, c := range append(richResults, onlineResults...) {
		if IsImage(c.text) {
			return models.ExtractedSubmission{Text: c.text, File: c.file}
		}
	}
	for _, c := range append(richResults, onlineResults...) {
		if IsMarker(c.text) {
			return models.ExtractedSubmission{Text: c.text, File: c.file, Empty: true}
		}
	}
	return models.ExtractedSubmission{Empty: true}
}

// extractAll runs extraction over files with a bounded fan-out, preserving
// input order in the result slice.
func (s *Selector) extractAll(files []*models.SubmissionFile) []candidate {
	if len(files) == 0 {
		return nil
	}

	results := make([]candidate, len(files))
	sem := make(chan struct{}, s.opts.Concurrency)
	var wg sync.WaitGroup

	for i, file := range files {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, file *models.SubmissionFile) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = candidate{file: file, text: s.extractor.Extract(file)}
		}(i, file)
	}
	wg.Wait()
	return results
}

func (s *Selector) meaningful(text string) bool {
	return !IsMarker(text) && len(strings.TrimSpace(text)) >= s.opts.MinTextLength
}

func isOnlineText(file *models.SubmissionFile) bool {
	ext := strings.ToLower(filepath.Ext(file.Name))
	if ext == ".html" || ext == ".htm" {
		return true
	}
	return strings.Contains(strings.ToLower(file.Name), "onlinetext")
}
