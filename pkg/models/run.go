package models

import "time"

// RunStatus is the outcome of a single source's pipeline run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// StageCounts holds the row counts observed at each pipeline stage.
type StageCounts struct {
	Bronze int `json:"bronze"`
	Silver int `json:"silver"`
	Gold   int `json:"gold"`
}

// IngestionRunResult is the per-source outcome of one orchestrator
// pass. Failures are recorded here rather than propagated.
type IngestionRunResult struct {
	SourceKey   string      `json:"source_key"`
	Status      RunStatus   `json:"status"`
	Stage       string      `json:"stage"` // last stage reached
	Counts      StageCounts `json:"counts"`
	RowsLoaded  int         `json:"rows_loaded"`
	NodesLoaded int         `json:"nodes_loaded"`
	Error       string      `json:"error,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
}

// RunReport aggregates per-source results for one orchestrator run.
type RunReport struct {
	BatchID       string               `json:"batch_id"`
	ExecutionDate time.Time            `json:"execution_date"`
	TotalSources  int                  `json:"total_sources"`
	Successful    int                  `json:"successful"`
	Partial       int                  `json:"partial"`
	Failed        int                  `json:"failed"`
	TotalRows     int                  `json:"total_rows_ingested"`
	Sources       []IngestionRunResult `json:"sources"`
	Errors        []string             `json:"errors,omitempty"`
}

// SourceMetadata is the per-source run state persisted in the
// relational store, upserted after each run.
type SourceMetadata struct {
	SourceKey    string     `json:"source_key"`
	SourceName   string     `json:"source_name"`
	Jurisdiction string     `json:"jurisdiction"`
	LastRun      *time.Time `json:"last_ingestion"`
	RowsIngested int        `json:"rows_ingested"`
	TotalRows    int        `json:"total_rows"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
