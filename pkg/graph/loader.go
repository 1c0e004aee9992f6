package graph

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/preventera/safetygraph/pkg/apperrors"
	"github.com/preventera/safetygraph/pkg/models"
)

// runResult carries the rows and write counters of one Cypher call.
type runResult struct {
	records              []map[string]any
	nodesCreated         int
	relationshipsCreated int
}

// runner abstracts Cypher execution so the loader logic is testable
// without a graph instance.
type runner interface {
	run(ctx context.Context, cypher string, params map[string]any) (*runResult, error)
	close(ctx context.Context) error
}

// Loader writes harmonized incidents into the property graph. All
// writes go through MERGE on stable keys, so re-loading a batch is a
// no-op apart from refreshed timestamps.
type Loader struct {
	runner    runner
	batchSize int
	logger    *zap.Logger

	constraintsOnce sync.Once
	constraintsErr  error
}

func newLoader(r runner, batchSize int, logger *zap.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{runner: r, batchSize: batchSize, logger: logger}
}

// Close releases the underlying driver.
func (l *Loader) Close(ctx context.Context) error {
	return l.runner.close(ctx)
}

var constraintStatements = []string{
	"CREATE CONSTRAINT incident_uri IF NOT EXISTS FOR (i:Incident) REQUIRE i.uri IS UNIQUE",
	"CREATE CONSTRAINT sector_code IF NOT EXISTS FOR (s:Sector) REQUIRE s.code IS UNIQUE",
	"CREATE CONSTRAINT jurisdiction_code IF NOT EXISTS FOR (j:Jurisdiction) REQUIRE j.code IS UNIQUE",
	"CREATE CONSTRAINT injury_type_code IF NOT EXISTS FOR (t:InjuryType) REQUIRE t.code IS UNIQUE",
	"CREATE CONSTRAINT agent_name IF NOT EXISTS FOR (a:Agent) REQUIRE a.name IS UNIQUE",
}

// SetupConstraints creates the uniqueness constraints the loader
// depends on. Runs at most once per Loader; the statements themselves
// are IF NOT EXISTS, so concurrent engines do not conflict either.
func (l *Loader) SetupConstraints(ctx context.Context) error {
	l.constraintsOnce.Do(func() {
		for _, stmt := range constraintStatements {
			if _, err := l.runner.run(ctx, stmt, nil); err != nil {
				l.constraintsErr = &apperrors.LoadError{Store: "neo4j", Fatal: true, Cause: err}
				return
			}
		}
		l.logger.Info("graph constraints ensured", zap.Int("constraints", len(constraintStatements)))
	})
	return l.constraintsErr
}

// loadBatchCypher merges one batch of incidents with their sector,
// jurisdiction and injury-type neighborhoods. Incidents are keyed by
// uri; node properties refresh on re-load.
const loadBatchCypher = `
UNWIND $incidents AS row
MERGE (i:Incident {uri: row.uri})
ON CREATE SET
    i.incident_id = row.incident_id,
    i.source = row.source,
    i.severity = row.severity,
    i.narrative = row.narrative,
    i.incident_date = row.incident_date,
    i.created_at = datetime()
ON MATCH SET
    i.severity = row.severity,
    i.narrative = row.narrative,
    i.incident_date = row.incident_date,
    i.updated_at = datetime()
MERGE (s:Sector {code: row.industry_code})
MERGE (i)-[:IN_SECTOR]->(s)
MERGE (j:Jurisdiction {code: row.jurisdiction})
MERGE (i)-[:OCCURRED_IN]->(j)
FOREACH (injury IN CASE WHEN row.injury_type <> '' THEN [row.injury_type] ELSE [] END |
    MERGE (t:InjuryType {code: injury})
    MERGE (i)-[:HAS_INJURY]->(t)
)`

// LoadIncidents merges records into the graph in batches and returns
// the number of nodes created. Records without a jurisdiction get the
// UNKNOWN jurisdiction node rather than being dropped.
func (l *Loader) LoadIncidents(ctx context.Context, records []models.HarmonizedRecord) (int, error) {
	if err := l.SetupConstraints(ctx); err != nil {
		return 0, err
	}

	nodes := 0
	for start := 0; start < len(records); start += l.batchSize {
		end := start + l.batchSize
		if end > len(records) {
			end = len(records)
		}

		rows := make([]map[string]any, 0, end-start)
		for _, rec := range records[start:end] {
			rows = append(rows, incidentRow(&rec))
		}

		res, err := l.runner.run(ctx, loadBatchCypher, map[string]any{"incidents": rows})
		if err != nil {
			return nodes, &apperrors.LoadError{Store: "neo4j", Fatal: true, Cause: err}
		}
		nodes += res.nodesCreated
	}

	l.logger.Info("graph load complete",
		zap.Int("records", len(records)),
		zap.Int("nodes_created", nodes))
	return nodes, nil
}

func incidentRow(rec *models.HarmonizedRecord) map[string]any {
	jurisdiction := rec.Jurisdiction
	if jurisdiction == "" {
		jurisdiction = "UNKNOWN"
	}
	industry := rec.IndustryCode
	if industry == "" {
		industry = models.UnclassifiedIndustry
	}
	var date string
	if rec.IncidentDate != nil {
		date = rec.IncidentDate.Format(time.RFC3339)
	}
	return map[string]any{
		"uri":           rec.URI(),
		"incident_id":   rec.IncidentID,
		"source":        rec.Source,
		"severity":      string(rec.Severity),
		"narrative":     rec.Narrative,
		"incident_date": date,
		"industry_code": industry,
		"jurisdiction":  jurisdiction,
		"injury_type":   rec.InjuryType,
	}
}

// Agent is a downstream analytical consumer subscribed to sectors.
// An agent with no sectors is a generalist and monitors everything.
type Agent struct {
	Name    string
	Role    string
	Sectors []string
}

// DefaultAgents is the standing consumer roster.
var DefaultAgents = []Agent{
	{Name: "analysis", Role: "incident pattern analysis", Sectors: nil},
	{Name: "prediction", Role: "risk forecasting", Sectors: []string{"F", "C"}},
	{Name: "recommendation", Role: "preventive measure recommendation", Sectors: []string{"F"}},
	{Name: "compliance", Role: "regulatory compliance checks", Sectors: nil},
	{Name: "benchmark", Role: "cross-jurisdiction benchmarking", Sectors: nil},
}

// SeedAgents merges consumer agent nodes. Idempotent.
func (l *Loader) SeedAgents(ctx context.Context, agents []Agent) error {
	if err := l.SetupConstraints(ctx); err != nil {
		return err
	}

	rows := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		sectors := a.Sectors
		if sectors == nil {
			sectors = []string{}
		}
		rows = append(rows, map[string]any{
			"name": a.Name, "role": a.Role, "sectors": sectors,
		})
	}

	_, err := l.runner.run(ctx, `
UNWIND $agents AS row
MERGE (a:Agent {name: row.name})
SET a.role = row.role, a.sectors = row.sectors`,
		map[string]any{"agents": rows})
	if err != nil {
		return &apperrors.LoadError{Store: "neo4j", Fatal: true, Cause: err}
	}
	return nil
}

// LinkToConsumers connects a sector's incidents to every agent that
// monitors the sector, plus generalist agents with no sector list.
// Returns the number of relationships created; existing links are
// left untouched.
func (l *Loader) LinkToConsumers(ctx context.Context, sectorCode string) (int, error) {
	res, err := l.runner.run(ctx, `
MATCH (i:Incident)-[:IN_SECTOR]->(s:Sector {code: $sector})
MATCH (a:Agent)
WHERE size(a.sectors) = 0 OR $sector IN a.sectors
MERGE (i)-[:MONITORED_BY]->(a)`,
		map[string]any{"sector": sectorCode})
	if err != nil {
		return 0, &apperrors.LoadError{Store: "neo4j", Fatal: true, Cause: err}
	}

	l.logger.Info("consumer links ensured",
		zap.String("sector", sectorCode),
		zap.Int("relationships_created", res.relationshipsCreated))
	return res.relationshipsCreated, nil
}

// Stats returns node counts per label plus the total relationship
// count under the "relationships" key.
func (l *Loader) Stats(ctx context.Context) (map[string]int64, error) {
	res, err := l.runner.run(ctx, `
MATCH (i:Incident) WITH count(i) AS incidents
MATCH (s:Sector) WITH incidents, count(s) AS sectors
MATCH (j:Jurisdiction) WITH incidents, sectors, count(j) AS jurisdictions
OPTIONAL MATCH (t:InjuryType) WITH incidents, sectors, jurisdictions, count(t) AS injury_types
OPTIONAL MATCH ()-[r]->()
RETURN incidents, sectors, jurisdictions, injury_types, count(r) AS relationships`, nil)
	if err != nil {
		return nil, &apperrors.LoadError{Store: "neo4j", Fatal: true, Cause: err}
	}
	if len(res.records) == 0 {
		return map[string]int64{}, nil
	}

	stats := make(map[string]int64, len(res.records[0]))
	for key, value := range res.records[0] {
		if n, ok := value.(int64); ok {
			stats[key] = n
		}
	}
	return stats, nil
}
