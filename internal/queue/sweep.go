package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const stuckErrDetail = "worker lost: running past stuck timeout"

// RequeueStuck reclaims jobs left running by a crashed worker. Jobs whose
// started_at is older than olderThan go back to queued with the attempt
// counter bumped; jobs that already spent their retry budget fail terminally.
//
// SKIP LOCKED keeps the sweep from ever waiting on a row a live worker is
// touching at that instant. Returns how many jobs were requeued.
func (s *Store) RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	requeue := `
		UPDATE ingestion_jobs
		SET status = 'queued',
		    attempt = attempt + 1,
		    started_at = NULL,
		    error_detail = $3
		WHERE id IN (
			SELECT id FROM ingestion_jobs
			WHERE status = 'running' AND started_at < $1 AND attempt < $2
			FOR UPDATE SKIP LOCKED
		)
	`

	result, err := s.db.ExecContext(ctx, requeue, cutoff, s.maxAttempts, stuckErrDetail)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stuck jobs: %w", err)
	}

	requeued, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	fail := `
		UPDATE ingestion_jobs
		SET status = 'failed',
		    error_detail = $3,
		    finished_at = NOW()
		WHERE id IN (
			SELECT id FROM ingestion_jobs
			WHERE status = 'running' AND started_at < $1 AND attempt >= $2
			FOR UPDATE SKIP LOCKED
		)
	`

	if _, err := s.db.ExecContext(ctx, fail, cutoff, s.maxAttempts, stuckErrDetail); err != nil {
		return requeued, fmt.Errorf("failed to fail stuck jobs: %w", err)
	}

	if requeued > 0 {
		s.logger.Warn("Requeued stuck jobs",
			slog.Int64("count", requeued),
			slog.Duration("older_than", olderThan),
		)
	}

	return requeued, nil
}

// RunStuckSweep ticks until ctx is canceled, reclaiming stuck jobs each
// interval. Sweep failures are logged and the loop continues.
func (s *Store) RunStuckSweep(ctx context.Context, interval, stuckAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RequeueStuck(ctx, stuckAfter); err != nil {
				s.logger.Error("Stuck job sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
