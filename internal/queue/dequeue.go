package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vendorops/backend/internal/domain"
)

// dequeueSQL atomically selects and claims the oldest queued job.
//
// FOR UPDATE SKIP LOCKED keeps concurrent claimants from ever blocking on
// each other: a worker that loses the race sees no rows and moves on. The
// claim and the queued→running transition happen in one statement, so no
// read-then-write window exists. Retried jobs keep their original
// created_at, which preserves enqueue-order fairness across retries.
const dequeueSQL = `
	UPDATE ingestion_jobs
	SET status = 'running', started_at = NOW()
	WHERE id = (
		SELECT id FROM ingestion_jobs
		WHERE status = 'queued'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	)
	RETURNING id, vendor_id, kind, status, params, attempt, progress_pct,
	          result, error_detail, created_at, started_at, finished_at`

// Dequeue claims one queued job, transitioning it to running. It returns
// (nil, nil) when no unclaimed job exists; an empty queue is not an error.
func (s *Store) Dequeue(ctx context.Context) (*domain.Job, error) {
	var job domain.Job
	err := s.db.GetContext(ctx, &job, dequeueSQL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", job.ID),
		slog.String("vendor_id", job.VendorID),
		slog.String("kind", job.Kind),
		slog.Int("attempt", job.Attempt),
	)

	return &job, nil
}
