package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/preventera/safetygraph/pkg/apperrors"
	"github.com/preventera/safetygraph/pkg/config"
	"github.com/preventera/safetygraph/pkg/models"
)

func init() {
	Register(ConnectorRegistration{
		Info: ConnectorInfo{
			Type:        config.SourceAPI,
			DisplayName: "REST API",
			Description: "Record-oriented JSON or CSV endpoints (OSHA enforcement, BLS timeseries)",
		},
		Factory: func(client *Client) Connector {
			return &apiConnector{client: client}
		},
	})
}

// apiConnector fetches record-oriented API endpoints. The endpoint
// returns the complete current dataset in one response; incremental
// cursors are the source's concern, not ours.
type apiConnector struct {
	client *Client
}

func (c *apiConnector) Fetch(ctx context.Context, src *config.SourceConfig) (*models.RawDataset, error) {
	var body []byte
	var err error
	// Timeseries endpoints like the BLS API take the query as a JSON
	// request body, declared verbatim in the source's metadata.
	if payload := src.Meta("payload"); payload != "" {
		body, err = c.client.Post(ctx, src, src.URL, []byte(payload))
	} else {
		body, err = c.client.Get(ctx, src, src.URL)
	}
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

// decodeTabular dispatches on the configured payload format.
func decodeTabular(format string, body []byte) ([]string, []map[string]string, error) {
	switch format {
	case "csv", "":
		return parseCSV(body)
	case "json":
		return parseJSONRows(body)
	default:
		return nil, nil, fmt.Errorf("unsupported format %q", format)
	}
}
