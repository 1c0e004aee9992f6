package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preventera/safetygraph/pkg/apperrors"
	"github.com/preventera/safetygraph/pkg/models"
)

type fakeCall struct {
	cypher string
	params map[string]any
}

// fakeRunner records Cypher calls and simulates MERGE semantics at the
// level of write counters: node keys seen before create nothing.
type fakeRunner struct {
	calls   []fakeCall
	seen    map[string]bool
	failOn  string
	records []map[string]any
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{seen: make(map[string]bool)}
}

func (f *fakeRunner) run(_ context.Context, cypher string, params map[string]any) (*runResult, error) {
	if f.failOn != "" && strings.Contains(cypher, f.failOn) {
		return nil, errors.New("connection refused")
	}
	f.calls = append(f.calls, fakeCall{cypher: cypher, params: params})

	res := &runResult{records: f.records}
	if incidents, ok := params["incidents"].([]map[string]any); ok {
		for _, row := range incidents {
			uri := row["uri"].(string)
			if !f.seen[uri] {
				f.seen[uri] = true
				res.nodesCreated++
			}
		}
	}
	return res, nil
}

func (f *fakeRunner) close(context.Context) error { return nil }

func (f *fakeRunner) callsContaining(fragment string) []fakeCall {
	var out []fakeCall
	for _, c := range f.calls {
		if strings.Contains(c.cypher, fragment) {
			out = append(out, c)
		}
	}
	return out
}

func testRecords(n int) []models.HarmonizedRecord {
	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	recs := make([]models.HarmonizedRecord, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, models.HarmonizedRecord{
			IncidentID:   "X" + strings.Repeat("0", 3) + string(rune('A'+i%26)) + strings.Repeat("1", i/26+1),
			Source:       "osha_severe_injuries",
			Jurisdiction: "US",
			IncidentDate: &date,
			IndustryCode: "F",
			Severity:     models.SeverityCritical,
			InjuryType:   "NAT-01",
		})
	}
	return recs
}

func TestLoader_SetupConstraintsRunsOnce(t *testing.T) {
	fake := newFakeRunner()
	loader := newLoader(fake, 500, nil)

	ctx := context.Background()
	require.NoError(t, loader.SetupConstraints(ctx))
	require.NoError(t, loader.SetupConstraints(ctx))

	got := fake.callsContaining("CREATE CONSTRAINT")
	assert.Len(t, got, len(constraintStatements), "constraint statements should run exactly once")
	for _, c := range got {
		assert.Contains(t, c.cypher, "IF NOT EXISTS")
	}
}

func TestLoader_LoadIncidentsIsIdempotent(t *testing.T) {
	fake := newFakeRunner()
	loader := newLoader(fake, 500, nil)
	ctx := context.Background()
	recs := testRecords(3)

	first, err := loader.LoadIncidents(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 3, first, "first load creates all nodes")

	second, err := loader.LoadIncidents(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 0, second, "re-load creates nothing")
}

func TestLoader_LoadIncidentsBatches(t *testing.T) {
	fake := newFakeRunner()
	loader := newLoader(fake, 2, nil)

	_, err := loader.LoadIncidents(context.Background(), testRecords(5))
	require.NoError(t, err)

	batches := fake.callsContaining("UNWIND $incidents")
	require.Len(t, batches, 3, "5 records in batches of 2")
	last := batches[2].params["incidents"].([]map[string]any)
	assert.Len(t, last, 1, "trailing batch")
}

func TestLoader_IncidentRowDefaults(t *testing.T) {
	row := incidentRow(&models.HarmonizedRecord{
		IncidentID: "X1",
		Source:     "eurostat_esaw",
		Severity:   models.SeverityMedium,
	})

	assert.Equal(t, "urn:safetygraph:eurostat_esaw:X1", row["uri"])
	assert.Equal(t, "UNKNOWN", row["jurisdiction"])
	assert.Equal(t, models.UnclassifiedIndustry, row["industry_code"])
	assert.Equal(t, "", row["incident_date"], "nil incident date serializes empty")
}

func TestLoader_LoadIncidentsFatalOnConnectionLoss(t *testing.T) {
	fake := newFakeRunner()
	fake.failOn = "UNWIND $incidents"
	loader := newLoader(fake, 500, nil)

	_, err := loader.LoadIncidents(context.Background(), testRecords(1))
	require.Error(t, err)
	var le *apperrors.LoadError
	require.ErrorAs(t, err, &le)
	assert.True(t, le.Fatal)
	assert.Equal(t, "neo4j", le.Store)
	assert.True(t, apperrors.IsFatal(err))
}

func TestLoader_SeedAgents(t *testing.T) {
	fake := newFakeRunner()
	loader := newLoader(fake, 500, nil)

	require.NoError(t, loader.SeedAgents(context.Background(), DefaultAgents))

	calls := fake.callsContaining("MERGE (a:Agent {name: row.name})")
	require.Len(t, calls, 1)
	rows := calls[0].params["agents"].([]map[string]any)
	assert.Len(t, rows, len(DefaultAgents))
	// Generalists carry an empty list, not null, so the sector
	// predicate in LinkToConsumers stays well-typed.
	for _, row := range rows {
		assert.NotNil(t, row["sectors"], "agent %v has nil sectors", row["name"])
	}
}

func TestLoader_LinkToConsumers(t *testing.T) {
	fake := newFakeRunner()
	loader := newLoader(fake, 500, nil)

	_, err := loader.LinkToConsumers(context.Background(), "F")
	require.NoError(t, err)

	calls := fake.callsContaining("MONITORED_BY")
	require.Len(t, calls, 1)
	c := calls[0]
	assert.Equal(t, "F", c.params["sector"])
	// Generalist agents (empty sector list) must match too.
	assert.Contains(t, c.cypher, "size(a.sectors) = 0 OR $sector IN a.sectors")
	assert.Contains(t, c.cypher, "MERGE (i)-[:MONITORED_BY]->(a)")
}

func TestLoader_Stats(t *testing.T) {
	fake := newFakeRunner()
	fake.records = []map[string]any{{
		"incidents":     int64(120),
		"sectors":       int64(14),
		"jurisdictions": int64(3),
		"injury_types":  int64(9),
		"relationships": int64(250),
	}}
	loader := newLoader(fake, 500, nil)

	stats, err := loader.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(120), stats["incidents"])
	assert.Equal(t, int64(250), stats["relationships"])
}
