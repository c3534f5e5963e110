package service

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/gradekit/gradekit-api/internal/extract"
	"github.com/gradekit/gradekit-api/internal/grader"
	"github.com/gradekit/gradekit-api/internal/ingest"
	"github.com/gradekit/gradekit-api/internal/match"
	"github.com/gradekit/gradekit-api/internal/merge"
	"github.com/gradekit/gradekit-api/internal/models"
	"github.com/gradekit/gradekit-api/pkg/config"
)

type gradingClient interface {
	Grade(ctx context.Context, req grader.Request) (grader.Result, error)
}

type pipelineMetrics interface {
	ObserveMatch(strategy string)
	ObserveGradingOutcome(status models.GradeStatus)
	AddExtractionCacheStats(hits, misses int64)
}

// PipelineResult is the outcome of one full pipeline invocation.
type PipelineResult struct {
	Rows        []models.RosterRow
	Warnings    []string
	GradedCount int
	ErrorCount  int
}

// PipelineService runs the submission-processing pipeline: organize files
// into per-student buckets, resolve identities against the roster, pick and
// extract the best file per bucket, grade, and merge into the roster.
//
// Failures are isolated per bucket: one student's failed grading call records
// an Error status for that student and never aborts the batch.
type PipelineService struct {
	grader  gradingClient
	matcher *match.Matcher
	metrics pipelineMetrics
	logger  *zap.Logger
	cfg     config.PipelineConfig
}

// NewPipelineService constructs the pipeline service.
func NewPipelineService(gradingClient gradingClient, metrics pipelineMetrics, cfg config.PipelineConfig, logger *zap.Logger) *PipelineService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FolderConcurrency <= 0 {
		cfg.FolderConcurrency = 4
	}
	if cfg.PreviewLength <= 0 {
		cfg.PreviewLength = 200
	}
	return &PipelineService{
		grader:  gradingClient,
		matcher: match.NewMatcher(),
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

// Process executes the pipeline for one grading run. The progress callback
// receives a 0-100 percentage as buckets complete; it may be nil.
func (s *PipelineService) Process(ctx context.Context, params models.RunParams, gb *models.Gradebook, files []*models.SubmissionFile, progress func(int)) (*PipelineResult, error) {
	result := &PipelineResult{}

	organized := ingest.Organize(files)
	if organized.AllCatchAll {
		result.Warnings = append(result.Warnings, "no folder structure detected in the upload; identity matching may be unreliable")
	}
	buckets := make([]models.SubmissionBucket, 0, len(organized.Buckets))
	for _, bucket := range s.expandCatchAll(organized.Buckets) {
		// A folder literally named "onlinetext" carries no student identity;
		// processing it would fabricate a spurious student record.
		if strings.EqualFold(match.CleanFolderName(bucket.Key), "onlinetext") {
			continue
		}
		buckets = append(buckets, bucket)
	}

	extractor := extract.NewExtractor()
	selector := extract.NewSelector(extractor, extract.SelectorOptions{
		MinTextLength:   s.cfg.MinTextLength,
		OnlineTextRatio: s.cfg.OnlineTextRatio,
		Concurrency:     s.cfg.ExtractConcurrency,
	})

	skipEmpty := s.cfg.SkipEmpty
	if params.SkipEmpty != nil {
		skipEmpty = *params.SkipEmpty
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		subs      []models.GradedSubmission
		completed int
	)
	sem := make(chan struct{}, s.cfg.FolderConcurrency)

	for _, bucket := range buckets {
		wg.Add(1)
		sem <- struct{}{}
		go func(bucket models.SubmissionBucket) {
			defer wg.Done()
			defer func() { <-sem }()

			sub := s.processBucket(ctx, params, gb, selector, bucket, skipEmpty)

			mu.Lock()
			defer mu.Unlock()
			completed++
			if sub != nil {
				subs = append(subs, *sub)
			}
			if progress != nil {
				progress(completed * 100 / len(buckets))
			}
		}(bucket)
	}
	wg.Wait()

	if s.metrics != nil {
		s.metrics.AddExtractionCacheStats(extractor.CacheStats())
	}

	result.Rows = merge.Merge(gb.Rows, subs, merge.Options{SkipEmpty: skipEmpty})
	for _, sub := range subs {
		switch sub.Status {
		case models.StatusError:
			result.ErrorCount++
		case models.StatusGraded:
			result.GradedCount++
		}
		if s.metrics != nil {
			s.metrics.ObserveGradingOutcome(sub.Status)
		}
	}
	return result, nil
}

// processBucket resolves one bucket end to end. Never returns an error; every
// failure mode is folded into the submission's status.
func (s *PipelineService) processBucket(ctx context.Context, params models.RunParams, gb *models.Gradebook, selector *extract.Selector, bucket models.SubmissionBucket, skipEmpty bool) *models.GradedSubmission {
	identity := match.DeriveIdentity(bucket.Key)

	idx, strategy := s.matcher.Match(identity, gb.Rows)
	if s.metrics != nil {
		s.metrics.ObserveMatch(strategy)
	}
	if idx >= 0 {
		// Adopt the roster row's identity so the merge finds the row by
		// case-insensitive full-name equality.
		row := gb.Rows[idx]
		identity = models.DerivedIdentity{
			FullName:   row.FullName,
			FirstName:  row.FirstName,
			LastName:   row.LastName,
			Email:      row.Email,
			Identifier: row.Identifier,
		}
	} else {
		s.logger.Sugar().Debugw("no roster match, treating as new student", "bucket", bucket.Key, "derived_name", identity.FullName)
	}

	selected := selector.SelectAndExtract(bucket)
	sub := &models.GradedSubmission{
		BucketKey: bucket.Key,
		Identity:  identity,
		File:      selected.File,
		Preview:   preview(selected.Text, s.cfg.PreviewLength),
		Empty:     selected.Empty,
		Status:    models.StatusGraded,
	}

	switch {
	case extract.IsUnsupported(selected.Text), extract.IsFailure(selected.Text):
		sub.Status = models.StatusManualReviewRequired
		sub.Feedback = "Automatic grading was not possible for this file; please review it manually."
		return sub
	case selected.Empty:
		if skipEmpty || strings.TrimSpace(selected.Text) == "" {
			sub.Status = models.StatusEmptySubmission
			return sub
		}
	case selected.NoFiles:
		sub.Status = models.StatusNoSubmission
		return sub
	}

	req := grader.Request{
		Text:            selected.Text,
		AssignmentTitle: params.AssignmentTitle,
		Rubric:          params.Rubric,
		PointScale:      params.PointScale,
	}
	if extract.IsImage(selected.Text) {
		req.Image = selected.File
	}

	graded, err := s.grader.Grade(ctx, req)
	if err != nil {
		s.logger.Sugar().Warnw("grading call failed", "bucket", bucket.Key, "error", err)
		sub.Status = models.StatusError
		sub.Grade = nil
		sub.Feedback = "The grading service could not process this submission. Grade it manually or retry the run."
		return sub
	}

	grade := clampGrade(graded.Grade, params.PointScale)
	sub.Grade = &grade
	sub.Feedback = graded.Feedback
	return sub
}

// expandCatchAll splits the catch-all bucket into one bucket per file, keyed
// by the bare filename, so identity matching can still attempt a per-file
// resolution when the upload had no folder structure.
func (s *PipelineService) expandCatchAll(buckets []models.SubmissionBucket) []models.SubmissionBucket {
	out := make([]models.SubmissionBucket, 0, len(buckets))
	for _, bucket := range buckets {
		if bucket.Key != models.CatchAllBucketKey {
			out = append(out, bucket)
			continue
		}
		for _, file := range bucket.Files {
			key := strings.TrimSuffix(file.Name, fileExt(file.Name))
			out = append(out, models.SubmissionBucket{Key: key, Files: []*models.SubmissionFile{file}})
		}
	}
	return out
}

func fileExt(name string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return name[idx:]
	}
	return ""
}

func preview(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}
	// Back off to a rune boundary so the cut never produces invalid UTF-8.
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func clampGrade(grade, pointScale float64) float64 {
	if grade < 0 {
		return 0
	}
	if pointScale > 0 && grade > pointScale {
		return pointScale
	}
	return grade
}
