package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/preventera/safetygraph/pkg/config"
	"github.com/preventera/safetygraph/pkg/logging"
)

// neo4jRunner executes Cypher through the Bolt driver.
type neo4jRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

var _ runner = (*neo4jRunner)(nil)

// NewLoader connects to the graph store and returns a loader bound to
// it. Connectivity is verified up front; a loader is never handed out
// half-connected.
func NewLoader(ctx context.Context, cfg config.Neo4jConfig, batchSize int, logger *zap.Logger) (*Loader, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to reach neo4j at %s: %w", logging.ConnectionString(cfg.URI), err)
	}

	r := &neo4jRunner{driver: driver, database: cfg.Database}
	return newLoader(r, batchSize, logger), nil
}

func (r *neo4jRunner) run(ctx context.Context, cypher string, params map[string]any) (*runResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, r.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(r.database))
	if err != nil {
		return nil, err
	}

	out := &runResult{}
	for _, record := range result.Records {
		out.records = append(out.records, record.AsMap())
	}
	if counters := result.Summary.Counters(); counters != nil {
		out.nodesCreated = counters.NodesCreated()
		out.relationshipsCreated = counters.RelationshipsCreated()
	}
	return out, nil
}

func (r *neo4jRunner) close(ctx context.Context) error {
	return r.driver.Close(ctx)
}
