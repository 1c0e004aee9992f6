package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/preventera/safetygraph/pkg/apperrors"
	"github.com/preventera/safetygraph/pkg/database"
	"github.com/preventera/safetygraph/pkg/models"
)

// querier is the subset of the pgx pool the repositories need.
// database.DB satisfies it; tests substitute a fake.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// IncidentRepository defines data access for harmonized incidents.
// Writes are idempotent: (incident_id, source) is the natural key and
// re-loading a batch updates rather than duplicates.
type IncidentRepository interface {
	// UpsertBatch writes harmonized records, updating rows that
	// already exist. Returns the number of rows written. Per-record
	// constraint violations are skipped; connectivity failures abort.
	UpsertBatch(ctx context.Context, records []models.HarmonizedRecord) (int, error)

	// CountBySource returns the stored row count for one source.
	CountBySource(ctx context.Context, source string) (int64, error)

	// Counts returns stored row counts keyed by source.
	Counts(ctx context.Context) (map[string]int64, error)
}

// incidentRepository implements IncidentRepository using PostgreSQL.
type incidentRepository struct {
	db        querier
	batchSize int
	logger    *zap.Logger
}

// NewIncidentRepository creates a new incident repository.
func NewIncidentRepository(db *database.DB, batchSize int, logger *zap.Logger) IncidentRepository {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &incidentRepository{db: db, batchSize: batchSize, logger: logger}
}

var _ IncidentRepository = (*incidentRepository)(nil)

const upsertIncidentSQL = `
	INSERT INTO hse_incidents_global (
		incident_id, source, jurisdiction, incident_date,
		industry_code, industry_code_system, severity, injury_type,
		body_part, narrative, days_lost, latitude, longitude,
		ingested_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
	ON CONFLICT ON CONSTRAINT unique_incident_source DO UPDATE SET
		jurisdiction = EXCLUDED.jurisdiction,
		incident_date = EXCLUDED.incident_date,
		industry_code = EXCLUDED.industry_code,
		industry_code_system = EXCLUDED.industry_code_system,
		severity = EXCLUDED.severity,
		injury_type = EXCLUDED.injury_type,
		body_part = EXCLUDED.body_part,
		narrative = EXCLUDED.narrative,
		days_lost = EXCLUDED.days_lost,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		ingested_at = EXCLUDED.ingested_at,
		updated_at = NOW()`

func upsertArgs(rec *models.HarmonizedRecord) []any {
	return []any{
		rec.IncidentID, rec.Source, rec.Jurisdiction, rec.IncidentDate,
		rec.IndustryCode, rec.IndustryCodeSystem, string(rec.Severity),
		rec.InjuryType, rec.BodyPart, rec.Narrative, rec.DaysLost,
		rec.Latitude, rec.Longitude, rec.IngestedAt,
	}
}

// UpsertBatch writes records in pipelined batches. A pipelined batch
// runs in an implicit transaction, so one rejected record aborts and
// rolls back its whole chunk; when that happens the chunk is replayed
// row by row so only the offending records are skipped. Loss of the
// connection is fatal for the run.
func (r *incidentRepository) UpsertBatch(ctx context.Context, records []models.HarmonizedRecord) (int, error) {
	written := 0
	for start := 0; start < len(records); start += r.batchSize {
		end := start + r.batchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		err := r.upsertPipelined(ctx, chunk)
		if err == nil {
			written += len(chunk)
			continue
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) {
			return written, &apperrors.LoadError{Store: "postgres", Fatal: true, Cause: err}
		}

		n, rerr := r.upsertIndividually(ctx, chunk)
		written += n
		if rerr != nil {
			return written, rerr
		}
	}

	r.logger.Info("incident upsert complete",
		zap.Int("records", len(records)),
		zap.Int("written", written))
	return written, nil
}

// upsertPipelined sends one chunk as a pgx batch. All statements share
// an implicit transaction: any error means nothing in the chunk
// persisted.
func (r *incidentRepository) upsertPipelined(ctx context.Context, chunk []models.HarmonizedRecord) error {
	batch := &pgx.Batch{}
	for i := range chunk {
		batch.Queue(upsertIncidentSQL, upsertArgs(&chunk[i])...)
	}

	results := r.db.SendBatch(ctx, batch)
	for range chunk {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return err
		}
	}
	return results.Close()
}

// upsertIndividually replays a chunk one statement at a time, each in
// its own transaction, logging and skipping the records the database
// rejects.
func (r *incidentRepository) upsertIndividually(ctx context.Context, chunk []models.HarmonizedRecord) (int, error) {
	written := 0
	for i := range chunk {
		rec := &chunk[i]
		if _, err := r.db.Exec(ctx, upsertIncidentSQL, upsertArgs(rec)...); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				r.logger.Warn("skipping record rejected by database",
					zap.String("incident_id", rec.IncidentID),
					zap.String("source", rec.Source),
					zap.String("code", pgErr.Code),
					zap.Error(err))
				continue
			}
			return written, &apperrors.LoadError{Store: "postgres", Fatal: true, Cause: err}
		}
		written++
	}
	return written, nil
}

// CountBySource returns the stored row count for one source.
func (r *incidentRepository) CountBySource(ctx context.Context, source string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM hse_incidents_global WHERE source = $1", source).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count incidents for %s: %w", source, err)
	}
	return count, nil
}

// Counts returns stored row counts keyed by source.
func (r *incidentRepository) Counts(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Query(ctx,
		"SELECT source, COUNT(*) FROM hse_incidents_global GROUP BY source")
	if err != nil {
		return nil, fmt.Errorf("failed to count incidents: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var source string
		var count int64
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("failed to scan incident count: %w", err)
		}
		counts[source] = count
	}
	return counts, rows.Err()
}
