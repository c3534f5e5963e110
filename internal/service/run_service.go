package service

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/gradekit/gradekit-api/internal/dto"
	"github.com/gradekit/gradekit-api/internal/models"
	"github.com/gradekit/gradekit-api/internal/repository"
	appErrors "github.com/gradekit/gradekit-api/pkg/errors"
	"github.com/gradekit/gradekit-api/pkg/jobs"
)

type runStore interface {
	CreateRun(ctx context.Context, run *models.GradingRun) error
	GetRun(ctx context.Context, id string) (*models.GradingRun, error)
	ListRuns(ctx context.Context, createdBy string, limit int) ([]models.GradingRun, error)
	UpdateRun(ctx context.Context, id string, params repository.UpdateRunParams) error
	ReplaceRows(ctx context.Context, runID string, rows []models.RosterRow) error
	ListRows(ctx context.Context, runID string) ([]models.RosterRow, error)
	GetRow(ctx context.Context, runID, rowID string) (*models.RosterRow, error)
	UpdateRowGrade(ctx context.Context, rowID string, grade *float64, feedback string, status models.GradeStatus, edited bool) error
	CountUnreviewed(ctx context.Context, runID string) (int, error)
}

type uploadLoader interface {
	LoadArchiveFiles(uploadID string) ([]*models.SubmissionFile, error)
	LoadRoster(uploadID string) (*models.Gradebook, error)
}

type submissionPipeline interface {
	Process(ctx context.Context, params models.RunParams, gb *models.Gradebook, files []*models.SubmissionFile, progress func(int)) (*PipelineResult, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type runMetrics interface {
	ObserveRun(duration time.Duration)
}

// RunDownload aggregates resolved export download data.
type RunDownload struct {
	File      *os.File
	Filename  string
	ExpiresAt time.Time
}

// RunService owns the grading-run lifecycle: start, background processing,
// review edits, the all-reviewed export gate, and signed downloads.
type RunService struct {
	repo      runStore
	uploads   uploadLoader
	pipeline  submissionPipeline
	queue     jobDispatcher
	exporter  *ExportService
	metrics   runMetrics
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRunService constructs the run service.
func NewRunService(repo runStore, uploads uploadLoader, pipeline submissionPipeline, queue jobDispatcher, exporter *ExportService, metrics runMetrics, logger *zap.Logger) *RunService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunService{
		repo:      repo,
		uploads:   uploads,
		pipeline:  pipeline,
		queue:     queue,
		exporter:  exporter,
		metrics:   metrics,
		validator: validator.New(),
		logger:    logger,
	}
}

// StartRun validates the request, persists the run, and enqueues processing.
// A provided roster is parsed here so a broken gradebook fails fast; without
// one, grading starts from an empty roster and every student is appended from
// the derived identities.
func (s *RunService) StartRun(ctx context.Context, req dto.StartRunRequest, actorID string) (*dto.RunResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid run parameters")
	}

	params := models.RunParams{
		AssignmentTitle: req.AssignmentTitle,
		Rubric:          req.Rubric,
		PointScale:      req.PointScale,
		SkipEmpty:       req.SkipEmpty,
		UploadID:        req.UploadID,
		RosterUploadID:  req.RosterUploadID,
	}

	gb, err := s.loadGradebook(req.RosterUploadID)
	if err != nil {
		return nil, err
	}
	params.Columns = models.GradebookColumns{
		Headers:          gb.Headers,
		AssignmentColumn: gb.AssignmentColumn,
		FeedbackColumn:   gb.FeedbackColumn,
	}

	if _, err := s.uploads.LoadArchiveFiles(req.UploadID); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "submission upload not found or unreadable")
	}

	run := &models.GradingRun{
		Status:    models.RunStatusQueued,
		Params:    params,
		CreatedBy: actorID,
	}
	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create grading run")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: run.ID, Type: "grading_run"}); err != nil {
		failed := models.RunStatusFailed
		msg := "failed to enqueue grading run"
		now := time.Now().UTC()
		_ = s.repo.UpdateRun(ctx, run.ID, repository.UpdateRunParams{
			Status:       &failed,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
	}

	return &dto.RunResponse{ID: run.ID, Status: run.Status, Progress: 0}, nil
}

// Handle processes one queued grading run. Wired as the queue handler.
func (s *RunService) Handle(ctx context.Context, job jobs.Job) error {
	run, err := s.repo.GetRun(ctx, job.ID)
	if err != nil {
		return err
	}
	started := time.Now()

	processing := models.RunStatusProcessing
	zero := 0
	if err := s.repo.UpdateRun(ctx, run.ID, repository.UpdateRunParams{Status: &processing, Progress: &zero}); err != nil {
		return err
	}

	result, err := s.processRun(ctx, run)
	if err != nil {
		s.logger.Sugar().Errorw("grading run failed", "run_id", run.ID, "error", err)
		failed := models.RunStatusFailed
		msg := appErrors.FromError(err).Message
		now := time.Now().UTC()
		if updateErr := s.repo.UpdateRun(ctx, run.ID, repository.UpdateRunParams{
			Status:       &failed,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		}); updateErr != nil {
			s.logger.Sugar().Warnw("failed to mark run failed", "run_id", run.ID, "error", updateErr)
		}
		return err
	}

	finished := models.RunStatusFinished
	done := 100
	now := time.Now().UTC()
	params := run.Params
	params.Warnings = result.Warnings
	if err := s.repo.UpdateRun(ctx, run.ID, repository.UpdateRunParams{
		Status:      &finished,
		Progress:    &done,
		Params:      &params,
		GradedCount: &result.GradedCount,
		ErrorCount:  &result.ErrorCount,
		FinishedAt:  &now,
	}); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.ObserveRun(time.Since(started))
	}
	s.logger.Sugar().Infow("grading run finished",
		"run_id", run.ID,
		"graded", result.GradedCount,
		"errors", result.ErrorCount,
		"duration", time.Since(started))
	return nil
}

func (s *RunService) processRun(ctx context.Context, run *models.GradingRun) (*PipelineResult, error) {
	files, err := s.uploads.LoadArchiveFiles(run.Params.UploadID)
	if err != nil {
		return nil, err
	}
	gb, err := s.loadGradebook(run.Params.RosterUploadID)
	if err != nil {
		return nil, err
	}

	lastReported := -1
	progress := func(pct int) {
		// One update per 5% keeps the poll endpoint fresh without hammering
		// the database from the worker.
		if pct-lastReported < 5 && pct != 100 {
			return
		}
		lastReported = pct
		if err := s.repo.UpdateRun(ctx, run.ID, repository.UpdateRunParams{Progress: &pct}); err != nil {
			s.logger.Sugar().Debugw("progress update failed", "run_id", run.ID, "error", err)
		}
	}

	result, err := s.pipeline.Process(ctx, run.Params, gb, files, progress)
	if err != nil {
		return nil, err
	}

	if err := s.repo.ReplaceRows(ctx, run.ID, result.Rows); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RunService) loadGradebook(rosterUploadID string) (*models.Gradebook, error) {
	if rosterUploadID == "" {
		return emptyGradebook(), nil
	}
	gb, err := s.uploads.LoadRoster(rosterUploadID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrRosterParse.Code, appErrors.ErrRosterParse.Status, appErrors.ErrRosterParse.Message)
	}
	return gb, nil
}

func emptyGradebook() *models.Gradebook {
	return &models.Gradebook{
		Headers:          []string{"Identifier", "Full name", "Email address", "Grade", "Feedback comments"},
		AssignmentColumn: "Grade",
		FeedbackColumn:   "Feedback comments",
	}
}

// GetStatus exposes run metadata, enforcing ownership.
func (s *RunService) GetStatus(ctx context.Context, runID, actorID string) (*dto.RunStatusResponse, error) {
	run, err := s.getOwnedRun(ctx, runID, actorID)
	if err != nil {
		return nil, err
	}
	resp := &dto.RunStatusResponse{
		ID:          run.ID,
		Status:      run.Status,
		Progress:    run.Progress,
		GradedCount: run.GradedCount,
		ErrorCount:  run.ErrorCount,
		Warnings:    run.Params.Warnings,
		CreatedAt:   run.CreatedAt,
		FinishedAt:  run.FinishedAt,
	}
	if run.ErrorMessage != nil && *run.ErrorMessage != "" {
		resp.Error = run.ErrorMessage
	}
	return resp, nil
}

// ListRows returns the merged roster together with the recomputed review gate.
func (s *RunService) ListRows(ctx context.Context, runID, actorID string) (*dto.RowsResponse, error) {
	if _, err := s.getOwnedRun(ctx, runID, actorID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListRows(ctx, runID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster rows")
	}
	unreviewed, err := s.repo.CountUnreviewed(ctx, runID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute review state")
	}
	return &dto.RowsResponse{Rows: rows, AllReviewed: unreviewed == 0}, nil
}

// EditRow applies an instructor override and marks the row reviewed.
func (s *RunService) EditRow(ctx context.Context, runID, rowID string, req dto.EditRowRequest, actorID string) (*models.RosterRow, error) {
	if _, err := s.getOwnedRun(ctx, runID, actorID); err != nil {
		return nil, err
	}
	row, err := s.repo.GetRow(ctx, runID, rowID)
	if err != nil {
		return nil, err
	}

	status := row.Status
	if req.Grade != nil {
		status = models.StatusGraded
	}
	if err := s.repo.UpdateRowGrade(ctx, rowID, req.Grade, req.Feedback, status, true); err != nil {
		return nil, err
	}

	row.Grade = req.Grade
	row.Feedback = req.Feedback
	row.Status = status
	row.Edited = true
	return row, nil
}

// Export renders the final roster once every grade has been reviewed.
func (s *RunService) Export(ctx context.Context, runID string, format models.ExportFormat, actorID string) (*dto.ExportResponse, error) {
	run, err := s.getOwnedRun(ctx, runID, actorID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusFinished {
		return nil, appErrors.ErrRunNotFinished
	}
	unreviewed, err := s.repo.CountUnreviewed(ctx, runID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute review state")
	}
	if unreviewed > 0 {
		return nil, appErrors.ErrReviewIncomplete
	}

	rows, err := s.repo.ListRows(ctx, runID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster rows")
	}

	result, err := s.exporter.Generate(run, rows, format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &dto.ExportResponse{
		URL:       result.URL,
		Format:    string(result.Format),
		ExpiresAt: result.ExpiresAt,
	}, nil
}

// ResolveDownload validates a signed token and opens the stored export file.
func (s *RunService) ResolveDownload(ctx context.Context, token string) (*RunDownload, error) {
	runID, relPath, expiresAt, err := s.exporter.ParseToken(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	if _, err := s.repo.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	file, err := s.exporter.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &RunDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		ExpiresAt: expiresAt,
	}, nil
}

// ListRuns returns the caller's recent runs.
func (s *RunService) ListRuns(ctx context.Context, actorID string, limit int) ([]dto.RunStatusResponse, error) {
	runs, err := s.repo.ListRuns(ctx, actorID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grading runs")
	}
	out := make([]dto.RunStatusResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, dto.RunStatusResponse{
			ID:          run.ID,
			Status:      run.Status,
			Progress:    run.Progress,
			GradedCount: run.GradedCount,
			ErrorCount:  run.ErrorCount,
			CreatedAt:   run.CreatedAt,
			FinishedAt:  run.FinishedAt,
		})
	}
	return out, nil
}

// StartCleanup boots a goroutine purging expired export files.
func (s *RunService) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if deleted, err := s.exporter.Cleanup(); err != nil {
					s.logger.Sugar().Warnw("export cleanup failed", "error", err)
				} else if len(deleted) > 0 {
					s.logger.Sugar().Infow("expired exports removed", "count", len(deleted))
				}
			}
		}
	}()
}

func (s *RunService) getOwnedRun(ctx context.Context, runID, actorID string) (*models.GradingRun, error) {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if actorID != "" && run.CreatedBy != actorID {
		return nil, appErrors.ErrForbidden
	}
	return run, nil
}
