package connectors

import (
	"context"

	"github.com/preventera/safetygraph/pkg/config"
	"github.com/preventera/safetygraph/pkg/models"
)

// Connector fetches one source's current dataset. Implementations are
// stateless with respect to sources; the same connector instance
// serves every source of its type.
type Connector interface {
	// Fetch retrieves the full current dataset for a source. The
	// returned dataset carries provenance (source key, fetch time) and
	// untyped rows keyed by the source's own column names.
	Fetch(ctx context.Context, src *config.SourceConfig) (*models.RawDataset, error)
}
