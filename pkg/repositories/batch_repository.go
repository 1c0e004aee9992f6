package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/preventera/safetygraph/pkg/database"
	"github.com/preventera/safetygraph/pkg/models"
)

// IngestionBatchRepository records orchestrator runs in the
// hse_ingestion_batches table for audit and scheduling decisions.
type IngestionBatchRepository interface {
	// Start registers a new batch before any source runs.
	Start(ctx context.Context, batchID string, executionDate time.Time) error

	// Complete stores the final report for a batch.
	Complete(ctx context.Context, report *models.RunReport) error
}

// ingestionBatchRepository implements IngestionBatchRepository using PostgreSQL.
type ingestionBatchRepository struct {
	db *database.DB
}

// NewIngestionBatchRepository creates a new ingestion batch repository.
func NewIngestionBatchRepository(db *database.DB) IngestionBatchRepository {
	return &ingestionBatchRepository{db: db}
}

var _ IngestionBatchRepository = (*ingestionBatchRepository)(nil)

// Start registers a new batch before any source runs.
func (r *ingestionBatchRepository) Start(ctx context.Context, batchID string, executionDate time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO hse_ingestion_batches (batch_id, execution_date, status, started_at)
		VALUES ($1, $2, 'running', NOW())`,
		batchID, executionDate)
	if err != nil {
		return fmt.Errorf("failed to start batch %s: %w", batchID, err)
	}
	return nil
}

// Complete stores the final report for a batch. The full per-source
// breakdown is kept as JSONB alongside the rolled-up counters.
func (r *ingestionBatchRepository) Complete(ctx context.Context, report *models.RunReport) error {
	detail, err := json.Marshal(report.Sources)
	if err != nil {
		return fmt.Errorf("failed to encode batch detail: %w", err)
	}

	status := "success"
	if report.Failed > 0 || report.Partial > 0 {
		status = "partial"
	}
	if report.Successful == 0 && report.Partial == 0 && report.Failed > 0 {
		status = "failed"
	}

	_, err = r.db.Exec(ctx, `
		UPDATE hse_ingestion_batches SET
			status = $2,
			total_sources = $3,
			successful = $4,
			partial = $5,
			failed = $6,
			total_rows = $7,
			detail = $8,
			completed_at = NOW()
		WHERE batch_id = $1`,
		report.BatchID, status, report.TotalSources, report.Successful,
		report.Partial, report.Failed, report.TotalRows, detail)
	if err != nil {
		return fmt.Errorf("failed to complete batch %s: %w", report.BatchID, err)
	}
	return nil
}
