package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gradekit/gradekit-api/internal/models"
	appErrors "github.com/gradekit/gradekit-api/pkg/errors"
)

// RunRepository persists grading runs and their roster rows.
type RunRepository struct {
	db *sqlx.DB
}

// NewRunRepository constructs the repository.
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = "id, status, progress, params, graded_count, error_count, created_by, created_at, finished_at, error_message"

// CreateRun inserts a new run row with generated defaults.
func (r *RunRepository) CreateRun(ctx context.Context, run *models.GradingRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = models.RunStatusQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO grading_runs (id, status, progress, params, graded_count, error_count, created_by, created_at, finished_at, error_message)
VALUES (:id, :status, :progress, :params, :graded_count, :error_count, :created_by, :created_at, :finished_at, :error_message)`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("create grading run: %w", err)
	}
	return nil
}

// GetRun returns a run by its identifier.
func (r *RunRepository) GetRun(ctx context.Context, id string) (*models.GradingRun, error) {
	query := fmt.Sprintf("SELECT %s FROM grading_runs WHERE id = $1", runColumns)
	var run models.GradingRun
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grading run not found")
		}
		return nil, fmt.Errorf("get grading run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs for one user.
func (r *RunRepository) ListRuns(ctx context.Context, createdBy string, limit int) ([]models.GradingRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf("SELECT %s FROM grading_runs WHERE created_by = $1 ORDER BY created_at DESC LIMIT $2", runColumns)
	var runs []models.GradingRun
	if err := r.db.SelectContext(ctx, &runs, query, createdBy, limit); err != nil {
		return nil, fmt.Errorf("list grading runs: %w", err)
	}
	return runs, nil
}

// UpdateRunParams defines the mutable run fields.
type UpdateRunParams struct {
	Status       *models.RunStatus
	Progress     *int
	Params       *models.RunParams
	GradedCount  *int
	ErrorCount   *int
	FinishedAt   *time.Time
	ErrorMessage *string
}

// UpdateRun persists the provided changes for a run row.
func (r *RunRepository) UpdateRun(ctx context.Context, id string, params UpdateRunParams) error {
	set := make([]string, 0, 7)
	args := make([]interface{}, 0, 8)
	argPos := 1

	add := func(column string, value interface{}) {
		set = append(set, fmt.Sprintf("%s = $%d", column, argPos))
		args = append(args, value)
		argPos++
	}

	if params.Status != nil {
		add("status", *params.Status)
	}
	if params.Progress != nil {
		add("progress", *params.Progress)
	}
	if params.Params != nil {
		add("params", *params.Params)
	}
	if params.GradedCount != nil {
		add("graded_count", *params.GradedCount)
	}
	if params.ErrorCount != nil {
		add("error_count", *params.ErrorCount)
	}
	if params.FinishedAt != nil {
		add("finished_at", *params.FinishedAt)
	}
	if params.ErrorMessage != nil {
		add("error_message", *params.ErrorMessage)
	}

	if len(set) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE grading_runs SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	args = append(args, id)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update grading run: %w", err)
	}
	return nil
}

const rowColumns = "id, run_id, position, identifier, full_name, first_name, last_name, email, status, grade, feedback, edited, content_preview, file_meta, original_row"

// ReplaceRows swaps the persisted roster of a run for the merged result set.
// Delete plus insert inside one transaction keeps re-merges idempotent.
func (r *RunRepository) ReplaceRows(ctx context.Context, runID string, rows []models.RosterRow) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace rows: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM roster_rows WHERE run_id = $1", runID); err != nil {
		return fmt.Errorf("clear roster rows: %w", err)
	}

	const insert = `INSERT INTO roster_rows (id, run_id, position, identifier, full_name, first_name, last_name, email, status, grade, feedback, edited, content_preview, file_meta, original_row)
VALUES (:id, :run_id, :position, :identifier, :full_name, :first_name, :last_name, :email, :status, :grade, :feedback, :edited, :content_preview, :file_meta, :original_row)`
	for i := range rows {
		rows[i].RunID = runID
		if rows[i].ID == "" {
			rows[i].ID = uuid.NewString()
		}
		if _, err := tx.NamedExecContext(ctx, insert, rows[i]); err != nil {
			return fmt.Errorf("insert roster row %d: %w", rows[i].Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace rows: %w", err)
	}
	return nil
}

// ListRows returns all roster rows of a run in import order.
func (r *RunRepository) ListRows(ctx context.Context, runID string) ([]models.RosterRow, error) {
	query := fmt.Sprintf("SELECT %s FROM roster_rows WHERE run_id = $1 ORDER BY position ASC", rowColumns)
	var rows []models.RosterRow
	if err := r.db.SelectContext(ctx, &rows, query, runID); err != nil {
		return nil, fmt.Errorf("list roster rows: %w", err)
	}
	return rows, nil
}

// GetRow returns one roster row scoped to its run.
func (r *RunRepository) GetRow(ctx context.Context, runID, rowID string) (*models.RosterRow, error) {
	query := fmt.Sprintf("SELECT %s FROM roster_rows WHERE run_id = $1 AND id = $2", rowColumns)
	var row models.RosterRow
	if err := r.db.GetContext(ctx, &row, query, runID, rowID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "roster row not found")
		}
		return nil, fmt.Errorf("get roster row: %w", err)
	}
	return &row, nil
}

// UpdateRowGrade applies an instructor edit to one roster row.
func (r *RunRepository) UpdateRowGrade(ctx context.Context, rowID string, grade *float64, feedback string, status models.GradeStatus, edited bool) error {
	const query = `UPDATE roster_rows SET grade = $1, feedback = $2, status = $3, edited = $4 WHERE id = $5`
	res, err := r.db.ExecContext(ctx, query, grade, feedback, status, edited, rowID)
	if err != nil {
		return fmt.Errorf("update roster row: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "roster row not found")
	}
	return nil
}

// CountUnreviewed returns how many rows of a run still await instructor
// review. The all-reviewed export gate is recomputed from this, never cached.
func (r *RunRepository) CountUnreviewed(ctx context.Context, runID string) (int, error) {
	const query = `SELECT COUNT(*) FROM roster_rows WHERE run_id = $1 AND edited = false`
	var count int
	if err := r.db.GetContext(ctx, &count, query, runID); err != nil {
		return 0, fmt.Errorf("count unreviewed rows: %w", err)
	}
	return count, nil
}
