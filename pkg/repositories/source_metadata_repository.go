package repositories

import (
	"context"
	"fmt"

	"github.com/preventera/safetygraph/pkg/database"
	"github.com/preventera/safetygraph/pkg/models"
)

// SourceMetadataRepository tracks per-source ingestion state in the
// hse_data_sources table, one row per source key.
type SourceMetadataRepository interface {
	// RecordRun upserts the outcome of one ingestion run.
	RecordRun(ctx context.Context, meta *models.SourceMetadata) error

	// List returns metadata for every known source.
	List(ctx context.Context) ([]models.SourceMetadata, error)
}

// sourceMetadataRepository implements SourceMetadataRepository using PostgreSQL.
type sourceMetadataRepository struct {
	db *database.DB
}

// NewSourceMetadataRepository creates a new source metadata repository.
func NewSourceMetadataRepository(db *database.DB) SourceMetadataRepository {
	return &sourceMetadataRepository{db: db}
}

var _ SourceMetadataRepository = (*sourceMetadataRepository)(nil)

// RecordRun upserts the outcome of one ingestion run.
func (r *sourceMetadataRepository) RecordRun(ctx context.Context, meta *models.SourceMetadata) error {
	query := `
		INSERT INTO hse_data_sources (
			source_key, source_name, jurisdiction, last_run,
			rows_ingested, total_rows, status, error_message, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (source_key) DO UPDATE SET
			source_name = EXCLUDED.source_name,
			jurisdiction = EXCLUDED.jurisdiction,
			last_run = EXCLUDED.last_run,
			rows_ingested = EXCLUDED.rows_ingested,
			total_rows = EXCLUDED.total_rows,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			updated_at = NOW()`

	_, err := r.db.Exec(ctx, query,
		meta.SourceKey, meta.SourceName, meta.Jurisdiction, meta.LastRun,
		meta.RowsIngested, meta.TotalRows, meta.Status, meta.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to record run for %s: %w", meta.SourceKey, err)
	}
	return nil
}

// List returns metadata for every known source.
func (r *sourceMetadataRepository) List(ctx context.Context) ([]models.SourceMetadata, error) {
	query := `
		SELECT source_key, source_name, jurisdiction, last_run,
		       rows_ingested, total_rows, status, error_message, updated_at
		FROM hse_data_sources
		ORDER BY source_key`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var out []models.SourceMetadata
	for rows.Next() {
		var m models.SourceMetadata
		if err := rows.Scan(&m.SourceKey, &m.SourceName, &m.Jurisdiction,
			&m.LastRun, &m.RowsIngested, &m.TotalRows, &m.Status,
			&m.ErrorMessage, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source metadata: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
