package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/preventera/safetygraph/pkg/apperrors"
	"github.com/preventera/safetygraph/pkg/config"
	"github.com/preventera/safetygraph/pkg/connectors"
	"github.com/preventera/safetygraph/pkg/models"
	"github.com/preventera/safetygraph/pkg/pipeline"
	"github.com/preventera/safetygraph/pkg/repositories"
)

// Pipeline stages, in execution order. A run result records the last
// stage it reached.
const (
	StageIdle         = "idle"
	StageFetching     = "fetching"
	StageTransforming = "transforming"
	StageHarmonizing  = "harmonizing"
	StageLoading      = "loading"
	StageDone         = "done"
	StageFailed       = "failed"
)

// GraphLoader is the subset of the graph store the orchestrator
// drives per run.
type GraphLoader interface {
	LoadIncidents(ctx context.Context, records []models.HarmonizedRecord) (int, error)
	LinkToConsumers(ctx context.Context, sectorCode string) (int, error)
}

// Orchestrator drives each source through fetch, bronze, silver, gold
// and both loaders. One source failing never stops another: every
// failure is captured in that source's run result.
type Orchestrator struct {
	registry   *config.Registry
	client     *connectors.Client
	bronze     *pipeline.BronzeStore
	silver     *pipeline.Silver
	harmonizer *pipeline.Harmonizer
	incidents  repositories.IncidentRepository
	sources    repositories.SourceMetadataRepository
	batches    repositories.IngestionBatchRepository
	graph      GraphLoader
	logger     *zap.Logger

	mu      sync.Mutex
	results []models.IngestionRunResult
	gold    map[string][]models.HarmonizedRecord
}

// Options carries the orchestrator's collaborators.
type Options struct {
	Registry   *config.Registry
	Client     *connectors.Client
	Bronze     *pipeline.BronzeStore
	Silver     *pipeline.Silver
	Harmonizer *pipeline.Harmonizer
	Incidents  repositories.IncidentRepository
	Sources    repositories.SourceMetadataRepository
	Batches    repositories.IngestionBatchRepository
	Graph      GraphLoader
	Logger     *zap.Logger
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry:   opts.Registry,
		client:     opts.Client,
		bronze:     opts.Bronze,
		silver:     opts.Silver,
		harmonizer: opts.Harmonizer,
		incidents:  opts.Incidents,
		sources:    opts.Sources,
		batches:    opts.Batches,
		graph:      opts.Graph,
		logger:     logger,
	}
}

// RunSingle executes the full pipeline for one source. It never
// propagates pipeline errors; the returned result carries the outcome,
// the last stage reached and the per-stage row counts.
func (o *Orchestrator) RunSingle(ctx context.Context, sourceKey string) *models.IngestionRunResult {
	result, _ := o.runOne(ctx, sourceKey)
	return result
}

// runOne is RunSingle with the typed error preserved, so RunAll can
// distinguish a fatal store failure from an ordinary source failure.
func (o *Orchestrator) runOne(ctx context.Context, sourceKey string) (*models.IngestionRunResult, error) {
	result := &models.IngestionRunResult{
		SourceKey: sourceKey,
		Status:    models.RunFailed,
		Stage:     StageIdle,
		StartedAt: time.Now().UTC(),
	}
	defer func() {
		result.CompletedAt = time.Now().UTC()
		o.mu.Lock()
		o.results = append(o.results, *result)
		o.mu.Unlock()
	}()

	src, err := o.registry.Get(sourceKey)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	if !src.Enabled {
		err := fmt.Errorf("%w: %s", apperrors.ErrSourceDisabled, sourceKey)
		result.Error = err.Error()
		return result, err
	}

	// Record the outcome for the source whatever stage it reaches,
	// so a source that starts failing stops showing its previous
	// run's success.
	defer func() { o.recordMetadata(ctx, src, result) }()

	log := o.logger.With(zap.String("source", sourceKey))

	// Fetch
	result.Stage = StageFetching
	factory := connectors.GetFactory(src.Type)
	if factory == nil {
		err := fmt.Errorf("no connector registered for type %q", src.Type)
		result.Error = err.Error()
		return result, err
	}
	raw, err := factory(o.client).Fetch(ctx, src)
	if err != nil {
		result.Error = err.Error()
		log.Error("fetch failed", zap.Error(err))
		return result, err
	}
	result.Counts.Bronze = raw.Len()

	if _, err := o.bronze.Write(raw); err != nil {
		result.Error = err.Error()
		log.Error("bronze write failed", zap.Error(err))
		return result, err
	}

	// Transform
	result.Stage = StageTransforming
	cleaned, err := o.silver.Transform(raw, src)
	if err != nil {
		result.Error = err.Error()
		log.Error("silver transform failed", zap.Error(err))
		return result, err
	}
	result.Counts.Silver = len(cleaned)

	// Harmonize
	result.Stage = StageHarmonizing
	harmonized := o.harmonizer.Harmonize(cleaned, src)
	result.Counts.Gold = len(harmonized)

	o.mu.Lock()
	if o.gold == nil {
		o.gold = make(map[string][]models.HarmonizedRecord)
	}
	o.gold[sourceKey] = harmonized
	o.mu.Unlock()

	// Load
	result.Stage = StageLoading
	rows, err := o.incidents.UpsertBatch(ctx, harmonized)
	result.RowsLoaded = rows
	if err != nil {
		result.Error = err.Error()
		log.Error("relational load failed", zap.Error(err), zap.Int("rows_written", rows))
		return result, err
	}

	nodes, err := o.graph.LoadIncidents(ctx, harmonized)
	result.NodesLoaded = nodes
	if err != nil {
		// Relational load succeeded, so the run is partial, not lost.
		result.Status = models.RunPartial
		result.Error = err.Error()
		log.Error("graph load failed", zap.Error(err))
		return result, err
	}

	for _, sector := range distinctSectors(harmonized) {
		if _, err := o.graph.LinkToConsumers(ctx, sector); err != nil {
			result.Status = models.RunPartial
			result.Error = err.Error()
			log.Error("consumer linking failed", zap.String("sector", sector), zap.Error(err))
			return result, err
		}
	}

	result.Stage = StageDone
	result.Status = models.RunSuccess
	log.Info("source ingested",
		zap.Int("bronze", result.Counts.Bronze),
		zap.Int("silver", result.Counts.Silver),
		zap.Int("gold", result.Counts.Gold),
		zap.Int("rows_loaded", result.RowsLoaded),
		zap.Int("nodes_loaded", result.NodesLoaded))
	return result, nil
}

// recordMetadata persists the run outcome for the source. Metadata is
// best-effort; its failure never changes the run result.
func (o *Orchestrator) recordMetadata(ctx context.Context, src *config.SourceConfig, result *models.IngestionRunResult) {
	now := time.Now().UTC()
	meta := &models.SourceMetadata{
		SourceKey:    src.Key,
		SourceName:   src.Name,
		Jurisdiction: src.Jurisdiction,
		LastRun:      &now,
		RowsIngested: result.RowsLoaded,
		Status:       string(result.Status),
		ErrorMessage: result.Error,
	}
	if total, err := o.incidents.CountBySource(ctx, src.Key); err == nil {
		meta.TotalRows = int(total)
	}
	if err := o.sources.RecordRun(ctx, meta); err != nil {
		o.logger.Warn("failed to record source metadata",
			zap.String("source", src.Key), zap.Error(err))
	}
}

func distinctSectors(records []models.HarmonizedRecord) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range records {
		code := rec.IndustryCode
		if code == "" || code == models.UnclassifiedIndustry {
			continue
		}
		if !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out
}

// RunAll executes the pipeline for every enabled source within the
// priority threshold, in priority order. Sources fail independently;
// only run cancellation and fatal store errors stop the loop early.
func (o *Orchestrator) RunAll(ctx context.Context, priorityThreshold int) *models.RunReport {
	batchID := uuid.New().String()
	executionDate := time.Now().UTC()

	o.mu.Lock()
	o.results = nil
	o.gold = make(map[string][]models.HarmonizedRecord)
	o.mu.Unlock()

	if err := o.batches.Start(ctx, batchID, executionDate); err != nil {
		o.logger.Warn("failed to register batch", zap.String("batch_id", batchID), zap.Error(err))
	}

	sources := o.registry.Enabled(priorityThreshold)
	o.logger.Info("run starting",
		zap.String("batch_id", batchID),
		zap.Int("sources", len(sources)),
		zap.Int("priority_threshold", priorityThreshold))

	for _, src := range sources {
		if ctx.Err() != nil {
			o.logger.Warn("run cancelled", zap.String("batch_id", batchID))
			break
		}
		if _, err := o.runOne(ctx, src.Key); err != nil && apperrors.IsFatal(err) {
			o.logger.Error("fatal store failure, aborting remaining sources",
				zap.String("batch_id", batchID),
				zap.String("source", src.Key),
				zap.Error(err))
			break
		}
	}

	report := o.GenerateReport(batchID, executionDate)
	if err := o.batches.Complete(ctx, report); err != nil {
		o.logger.Warn("failed to complete batch", zap.String("batch_id", batchID), zap.Error(err))
	}
	return report
}

// MergeGoldTables merges the per-source gold batches from the current
// run into one canonical slice, deduplicated on (incident_id, source).
// Batches merge in source priority order, so when the same key somehow
// appears twice the higher-priority source wins.
func (o *Orchestrator) MergeGoldTables(ctx context.Context) []models.HarmonizedRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	var merged []models.HarmonizedRecord
	seen := make(map[string]bool)
	for _, src := range o.registry.All() {
		if ctx.Err() != nil {
			break
		}
		for _, rec := range o.gold[src.Key] {
			key := rec.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, rec)
		}
	}
	return merged
}

// GenerateReport aggregates the current run's per-source results.
func (o *Orchestrator) GenerateReport(batchID string, executionDate time.Time) *models.RunReport {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := &models.RunReport{
		BatchID:       batchID,
		ExecutionDate: executionDate,
		TotalSources:  len(o.results),
		Sources:       append([]models.IngestionRunResult(nil), o.results...),
	}
	for _, r := range o.results {
		switch r.Status {
		case models.RunSuccess:
			report.Successful++
			report.TotalRows += r.RowsLoaded
		case models.RunPartial:
			// Rows reached the relational store even though the
			// graph side is behind.
			report.Partial++
			report.TotalRows += r.RowsLoaded
		default:
			report.Failed++
		}
		if r.Error != "" {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", r.SourceKey, r.Error))
		}
	}
	return report
}
