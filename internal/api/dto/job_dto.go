package dto

import "encoding/json"

// IngestCSVRequest is the body of POST /api/v1/ingest/csv. Mode travels in
// the query string; the body carries the params payload for the job kind.
type IngestCSVRequest struct {
	Source    string `json:"source" binding:"required"`
	Path      string `json:"path" binding:"required"`
	Delimiter string `json:"delimiter"`
}

// IngestCSVResponse acknowledges an accepted ingestion job.
type IngestCSVResponse struct {
	JobID  string `json:"job_id"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}

// ListJobsRequest carries the query parameters of GET /api/v1/jobs.
type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// JobDTO is the API representation of a job record.
type JobDTO struct {
	JobID       string          `json:"job_id"`
	VendorID    string          `json:"vendor_id"`
	Kind        string          `json:"kind"`
	Status      string          `json:"status"`
	Params      json.RawMessage `json:"params"`
	Attempt     int             `json:"attempt"`
	ProgressPct int             `json:"progress_pct"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
	CreatedAt   string          `json:"created_at"`
	StartedAt   string          `json:"started_at,omitempty"`
	FinishedAt  string          `json:"finished_at,omitempty"`
}

// ListJobsResponse pages through a vendor's jobs.
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}
