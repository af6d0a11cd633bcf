package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/vendorops/backend/internal/api/dto"
	"github.com/vendorops/backend/internal/domain"
	"github.com/vendorops/backend/internal/queue"
)

// IngestCSV handles POST /api/v1/ingest/csv?mode=products|customers.
// It validates the mode and params, enqueues an import job for the caller's
// vendor, and returns the job id. The file itself is handed off out of band;
// params.path references it.
func (h *JobHandler) IngestCSV(c *gin.Context) {
	vendorID := c.GetString(ContextVendorID)

	mode := c.Query("mode")
	var kind string
	switch mode {
	case "products":
		kind = domain.KindProductsImport
	case "customers":
		kind = domain.KindCustomersImport
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": `mode must be either "products" or "customers"`,
		})
		return
	}

	var req dto.IngestCSVRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid ingest request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	params, err := json.Marshal(domain.ImportParams{
		Source:    req.Source,
		Path:      req.Path,
		Delimiter: req.Delimiter,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to encode job params",
		})
		return
	}

	jobID, err := h.queue.Enqueue(c.Request.Context(), vendorID, kind, params)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidParams) || errors.Is(err, domain.ErrUnknownKind) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}
		h.logger.Error("Failed to enqueue job",
			slog.String("vendor_id", vendorID),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create ingestion job",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.IngestCSVResponse{
		JobID:  jobID,
		Kind:   kind,
		Status: domain.JobStatusQueued,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id. Jobs are vendor-scoped: a job
// belonging to another vendor reads as not found.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.queue.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	if job.VendorID != c.GetString(ContextVendorID) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toJobDTO(job)})
}

// ListJobs handles GET /api/v1/jobs. Results are scoped to the caller's
// vendor, optionally filtered by status, and paginated by cursor.
func (h *JobHandler) ListJobs(c *gin.Context) {
	vendorID := c.GetString(ContextVendorID)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	switch req.Status {
	case "", domain.JobStatusQueued, domain.JobStatusRunning, domain.JobStatusCompleted, domain.JobStatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid status filter",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.queue.ListByVendor(c.Request.Context(), vendorID, queue.JobFilter{
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs",
			slog.String("vendor_id", vendorID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{
		Jobs: make([]dto.JobDTO, len(jobs)),
	}
	for i := range jobs {
		resp.Jobs[i] = toJobDTO(&jobs[i])
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&queue.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

func toJobDTO(job *domain.Job) dto.JobDTO {
	d := dto.JobDTO{
		JobID:       job.ID,
		VendorID:    job.VendorID,
		Kind:        job.Kind,
		Status:      job.Status,
		Params:      job.Params,
		Attempt:     job.Attempt,
		ProgressPct: job.ProgressPct,
		Result:      job.Result,
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
	}
	if job.ErrorDetail != nil {
		d.ErrorDetail = *job.ErrorDetail
	}
	if job.StartedAt != nil {
		d.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		d.FinishedAt = job.FinishedAt.Format(time.RFC3339)
	}
	return d
}
