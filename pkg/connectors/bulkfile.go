package connectors

import (
	"context"
	"time"

	"github.com/preventera/safetygraph/pkg/apperrors"
	"github.com/preventera/safetygraph/pkg/config"
	"github.com/preventera/safetygraph/pkg/models"
)

func init() {
	Register(ConnectorRegistration{
		Info: ConnectorInfo{
			Type:        config.SourceBulkFile,
			DisplayName: "Bulk file",
			Description: "Direct download of a published data file (DARES, agency CSV extracts)",
		},
		Factory: func(client *Client) Connector {
			return &bulkFileConnector{client: client}
		},
	})
}

// bulkFileConnector downloads a single published file. Agencies that
// publish a periodic extract at a stable URL go through here.
type bulkFileConnector struct {
	client *Client
}

func (c *bulkFileConnector) Fetch(ctx context.Context, src *config.SourceConfig) (*models.RawDataset, error) {
	body, err := c.client.Get(ctx, src, src.URL)
	if err != nil {
		return nil, &apperrors.ConnectorError{Source: src.Key, Cause: err}
	}

	columns, rows, err := decodeTabular(src.Format, body)
	if err != nil {
		return nil, &apperrors.ConnectorError{Source: src.Key, Cause: err}
	}

	return &models.RawDataset{
		SourceKey: src.Key,
		FetchedAt: time.Now().UTC(),
		Columns:   columns,
		Rows:      rows,
	}, nil
}
