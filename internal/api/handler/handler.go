package handler

import (
	"log/slog"

	"github.com/vendorops/backend/internal/queue"
)

// ContextVendorID is the gin context key under which the vendor-scoping
// middleware stores the authenticated vendor id.
const ContextVendorID = "vendor_id"

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Queue  *queue.Store
}

// JobHandler handles ingestion job HTTP requests
type JobHandler struct {
	logger *slog.Logger
	queue  *queue.Store
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		queue:  deps.Queue,
	}
}
