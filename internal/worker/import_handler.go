package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vendorops/backend/internal/domain"
)

// ImportSummary is the terminal result payload of an import job.
type ImportSummary struct {
	RowsTotal    int `json:"rows_total"`
	RowsImported int `json:"rows_imported"`
	RowsSkipped  int `json:"rows_skipped"`
}

// Importer is the row-ingestion collaborator. CSV parsing and row mapping
// live behind it; the handler only owns params validation, progress
// reporting, and outcome classification.
type Importer interface {
	Import(ctx context.Context, vendorID, kind string, params *domain.ImportParams, progress ProgressFunc) (*ImportSummary, error)
}

// NewImportHandler builds the handler shared by products-import and
// customers-import. The kind the handler was registered under travels with
// the job, so one constructor serves both.
func NewImportHandler(importer Importer) Handler {
	return func(ctx context.Context, job *domain.Job, progress ProgressFunc) (json.RawMessage, error) {
		params, err := domain.ParseParams(job.Kind, job.Params)
		if err != nil {
			// Params were validated at enqueue; failing here means the row
			// is corrupt, and re-running cannot fix it.
			return nil, domain.NewFatalError(err)
		}

		summary, err := importer.Import(ctx, job.VendorID, job.Kind, params, progress)
		if err != nil {
			if domain.IsFatal(err) {
				return nil, err
			}
			return nil, domain.NewRetryableError(fmt.Errorf("import failed: %w", err))
		}

		result, err := json.Marshal(summary)
		if err != nil {
			return nil, domain.NewFatalError(fmt.Errorf("failed to encode import summary: %w", err))
		}

		return result, nil
	}
}
