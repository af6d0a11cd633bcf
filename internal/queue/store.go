package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/vendorops/backend/internal/domain"
)

// DefaultMaxAttempts is the retry budget applied when config leaves it unset.
const DefaultMaxAttempts = 3

// Store handles all database operations for ingestion jobs. The jobs table
// is the sole source of truth for queue state; no in-process bookkeeping.
type Store struct {
	db          *sqlx.DB
	logger      *slog.Logger
	maxAttempts int
}

// NewStore creates a new Store instance
func NewStore(db *sqlx.DB, logger *slog.Logger, maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Store{
		db:          db,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Enqueue validates params for kind and inserts a new queued job with
// attempt = 1. The returned id is generated here, not by the database.
func (s *Store) Enqueue(ctx context.Context, vendorID, kind string, params json.RawMessage) (string, error) {
	if _, err := domain.ParseParams(kind, params); err != nil {
		return "", err
	}

	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	id := uuid.New().String()
	query := `
		INSERT INTO ingestion_jobs (id, vendor_id, kind, status, params, attempt, progress_pct, created_at)
		VALUES ($1, $2, $3, $4, $5, 1, 0, NOW())
	`

	_, err := s.db.ExecContext(ctx, query, id, vendorID, kind, domain.JobStatusQueued, []byte(params))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info("Job enqueued",
		slog.String("job_id", id),
		slog.String("vendor_id", vendorID),
		slog.String("kind", kind),
	)

	return id, nil
}

// Get retrieves a job by id.
func (s *Store) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		SELECT id, vendor_id, kind, status, params, attempt, progress_pct,
		       result, error_detail, created_at, started_at, finished_at
		FROM ingestion_jobs
		WHERE id = $1
	`

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// JobCursor marks a position in the (created_at DESC, id DESC) ordering.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// JobFilter narrows ListByVendor results.
type JobFilter struct {
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// ListByVendor returns the vendor's jobs newest first, optionally filtered by
// status. It fetches one row beyond PageSize so callers can detect more pages.
func (s *Store) ListByVendor(ctx context.Context, vendorID string, filter JobFilter) ([]domain.Job, error) {
	query := `
		SELECT id, vendor_id, kind, status, params, attempt, progress_pct,
		       result, error_detail, created_at, started_at, finished_at
		FROM ingestion_jobs
		WHERE vendor_id = $1
	`
	args := []interface{}{vendorID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// UpdateProgress raises the job's progress percentage and optionally stores a
// partial result. It is a no-op unless the job is running, and progress never
// decreases within a run.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, pct int, partial json.RawMessage) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	query := `
		UPDATE ingestion_jobs
		SET progress_pct = GREATEST(progress_pct, $2),
		    result = COALESCE($3, result)
		WHERE id = $1 AND status = $4
	`

	var partialArg interface{}
	if len(partial) > 0 {
		partialArg = []byte(partial)
	}

	if _, err := s.db.ExecContext(ctx, query, jobID, pct, partialArg, domain.JobStatusRunning); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}

	return nil
}

// MarkCompleted transitions a running job to its terminal success state.
func (s *Store) MarkCompleted(ctx context.Context, jobID string, result json.RawMessage) error {
	query := `
		UPDATE ingestion_jobs
		SET status = $2,
		    progress_pct = 100,
		    result = COALESCE($3, result),
		    finished_at = NOW()
		WHERE id = $1 AND status = $4
	`

	var resultArg interface{}
	if len(result) > 0 {
		resultArg = []byte(result)
	}

	_, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusCompleted, resultArg, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	s.logger.Info("Job completed",
		slog.String("job_id", jobID),
	)

	return nil
}

// MarkFailed records the failure and either requeues the job for another
// attempt or, when retry is false or the budget is spent, fails it
// terminally. The error detail is recorded on every path so operators can
// see the last failure without waiting for the terminal state.
//
// The returned status is the state the job ended up in: queued on requeue,
// failed on the terminal transition, or empty when the job was not running
// and nothing changed. Callers use it to tell terminal failures apart from
// retries.
func (s *Store) MarkFailed(ctx context.Context, jobID, errDetail string, retry bool) (string, error) {
	if retry {
		requeue := `
			UPDATE ingestion_jobs
			SET status = $2,
			    attempt = attempt + 1,
			    started_at = NULL,
			    error_detail = $3
			WHERE id = $1 AND status = $4 AND attempt < $5
		`

		result, err := s.db.ExecContext(ctx, requeue, jobID,
			domain.JobStatusQueued, errDetail, domain.JobStatusRunning, s.maxAttempts)
		if err != nil {
			return "", fmt.Errorf("failed to requeue job: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return "", fmt.Errorf("failed to get rows affected: %w", err)
		}

		if rows > 0 {
			s.logger.Info("Job requeued for retry",
				slog.String("job_id", jobID),
				slog.String("error", errDetail),
			)
			return domain.JobStatusQueued, nil
		}
		// Budget exhausted (or job no longer running); fall through to the
		// terminal transition below.
	}

	terminal := `
		UPDATE ingestion_jobs
		SET status = $2,
		    error_detail = $3,
		    finished_at = NOW()
		WHERE id = $1 AND status = $4
	`

	result, err := s.db.ExecContext(ctx, terminal, jobID,
		domain.JobStatusFailed, errDetail, domain.JobStatusRunning)
	if err != nil {
		return "", fmt.Errorf("failed to mark job failed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Job was no longer running; some other transition won.
		return "", nil
	}

	s.logger.Warn("Job failed terminally",
		slog.String("job_id", jobID),
		slog.String("error", errDetail),
	)

	return domain.JobStatusFailed, nil
}
