package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job status constants
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job kind constants. Each kind has exactly one params shape.
const (
	KindProductsImport  = "products-import"
	KindCustomersImport = "customers-import"
)

// Job is a unit of asynchronous work owned by a vendor.
type Job struct {
	ID          string          `db:"id" json:"job_id"`
	VendorID    string          `db:"vendor_id" json:"vendor_id"`
	Kind        string          `db:"kind" json:"kind"`
	Status      string          `db:"status" json:"status"`
	Params      json.RawMessage `db:"params" json:"params"`
	Attempt     int             `db:"attempt" json:"attempt"`
	ProgressPct int             `db:"progress_pct" json:"progress_pct"`
	Result      json.RawMessage `db:"result" json:"result,omitempty"`
	ErrorDetail *string         `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	StartedAt   *time.Time      `db:"started_at" json:"started_at,omitempty"`
	FinishedAt  *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}

// IsTerminal reports whether the job can no longer transition.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// ImportParams is the payload shape shared by products-import and
// customers-import jobs. Path references data handed off out-of-band
// (object storage); the worker never receives file bytes directly.
type ImportParams struct {
	Source    string `json:"source"`
	Path      string `json:"path"`
	Delimiter string `json:"delimiter,omitempty"`
}

// ValidKind reports whether kind names a known job variant.
func ValidKind(kind string) bool {
	switch kind {
	case KindProductsImport, KindCustomersImport:
		return true
	}
	return false
}

// ParseParams validates raw params against the shape required by kind and
// returns the typed payload. Jobs with params that fail here are rejected at
// enqueue time, before anything is inserted.
func ParseParams(kind string, raw json.RawMessage) (*ImportParams, error) {
	if !ValidKind(kind) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	var p ImportParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}

	if p.Source == "" {
		return nil, fmt.Errorf("%w: source is required", ErrInvalidParams)
	}
	if p.Path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidParams)
	}

	return &p, nil
}
