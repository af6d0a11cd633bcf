package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/vendorops/backend/internal/domain"
	"github.com/vendorops/backend/shared/rabbitmq"
)

// JobEvent is the lifecycle notification published on terminal job
// transitions. Delivery is best effort: consumers needing the authoritative
// state must read the jobs table.
type JobEvent struct {
	JobID       string    `json:"job_id"`
	VendorID    string    `json:"vendor_id"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Attempt     int       `json:"attempt"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher fans job lifecycle events out over AMQP. A nil *Publisher is a
// valid no-op publisher, so callers can wire it unconditionally.
type Publisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewPublisher creates a publisher over an established AMQP client.
func NewPublisher(client *rabbitmq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
	}
}

// JobFinished publishes a terminal transition. Failures are logged, never
// propagated: notification must not affect queue correctness.
func (p *Publisher) JobFinished(ctx context.Context, job *domain.Job, status, errDetail string) {
	if p == nil || p.client == nil {
		return
	}

	event := JobEvent{
		JobID:       job.ID,
		VendorID:    job.VendorID,
		Kind:        job.Kind,
		Status:      status,
		Attempt:     job.Attempt,
		ErrorDetail: errDetail,
		OccurredAt:  time.Now().UTC(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode job event",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return
	}

	if err := p.client.Publish(ctx, body, "application/json"); err != nil {
		p.logger.Warn("Failed to publish job event",
			slog.String("job_id", job.ID),
			slog.String("status", status),
			slog.Any("error", err),
		)
	}
}
