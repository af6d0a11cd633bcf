package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Record statuses.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// DefaultRetention is how long records are kept before the sweep may purge
// them.
const DefaultRetention = 24 * time.Hour

// pqUniqueViolation is the PostgreSQL error code for unique constraint
// violations. Hitting it on insert means another request with the same
// (vendor, key) pair won the race.
const pqUniqueViolation = "23505"

var (
	// ErrNotFound is returned when no record exists for a (vendor, key) pair
	ErrNotFound = errors.New("idempotency record not found")

	// ErrDuplicateKey is returned when a concurrent insert lost the race for
	// a (vendor, key) pair
	ErrDuplicateKey = errors.New("concurrent request with same idempotency key")
)

// Record is a de-duplication ledger entry. The (vendor_id, key) primary key
// is the mutual-exclusion primitive: at most one request per pair ever runs
// the protected handler.
type Record struct {
	Key            string    `db:"key"`
	VendorID       string    `db:"vendor_id"`
	RequestHash    string    `db:"request_hash"`
	Method         string    `db:"method"`
	Path           string    `db:"path"`
	Status         string    `db:"status"`
	ResponseStatus int       `db:"response_status"`
	ResponseBody   []byte    `db:"response_body"`
	CreatedAt      time.Time `db:"created_at"`
	ExpiresAt      time.Time `db:"expires_at"`
}

// Store handles database operations for idempotency records.
type Store struct {
	db        *sqlx.DB
	logger    *slog.Logger
	retention time.Duration
}

// NewStore creates a new Store instance
func NewStore(db *sqlx.DB, logger *slog.Logger, retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		db:        db,
		logger:    logger,
		retention: retention,
	}
}

// Get fetches the record for (vendorID, key). Returns ErrNotFound when the
// pair has never been seen (or was purged by the sweep).
func (s *Store) Get(ctx context.Context, vendorID, key string) (*Record, error) {
	query := `
		SELECT key, vendor_id, request_hash, method, path, status,
		       response_status, response_body, created_at, expires_at
		FROM idempotency_keys
		WHERE vendor_id = $1 AND key = $2
	`

	var rec Record
	err := s.db.GetContext(ctx, &rec, query, vendorID, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}

	return &rec, nil
}

// Create inserts a new record in the processing state. This insert is the
// concurrency gate: when two requests race on a fresh (vendor, key) pair,
// exactly one insert succeeds and the loser gets ErrDuplicateKey.
func (s *Store) Create(ctx context.Context, vendorID, key, requestHash, method, path string) error {
	query := `
		INSERT INTO idempotency_keys
			(key, vendor_id, request_hash, method, path, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW() + $7::interval)
	`

	interval := fmt.Sprintf("%d seconds", int(s.retention.Seconds()))
	_, err := s.db.ExecContext(ctx, query, key, vendorID, requestHash, method, path, StatusProcessing, interval)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to create idempotency record: %w", err)
	}

	return nil
}

// MarkCompleted caches the successful response for replay.
func (s *Store) MarkCompleted(ctx context.Context, vendorID, key string, status int, body []byte) error {
	return s.finish(ctx, vendorID, key, StatusCompleted, status, body)
}

// MarkFailed caches the failure so identical retries see it without the
// handler re-running its side effects.
func (s *Store) MarkFailed(ctx context.Context, vendorID, key string, status int, body []byte) error {
	return s.finish(ctx, vendorID, key, StatusFailed, status, body)
}

func (s *Store) finish(ctx context.Context, vendorID, key, recordStatus string, httpStatus int, body []byte) error {
	query := `
		UPDATE idempotency_keys
		SET status = $3, response_status = $4, response_body = $5
		WHERE vendor_id = $1 AND key = $2 AND status = $6
	`

	_, err := s.db.ExecContext(ctx, query, vendorID, key, recordStatus, httpStatus, body, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to finish idempotency record: %w", err)
	}

	return nil
}

// DeleteExpired purges records past their retention window, freeing their
// keys for reuse. Returns the number of records removed.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency records: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if deleted > 0 {
		s.logger.Info("Purged expired idempotency records",
			slog.Int64("count", deleted),
		)
	}

	return deleted, nil
}

// RunSweep ticks until ctx is canceled, purging expired records each
// interval. Runs independently of the request path.
func (s *Store) RunSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.DeleteExpired(ctx); err != nil {
				s.logger.Error("Idempotency sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
