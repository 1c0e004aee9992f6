package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/preventera/safetygraph/pkg/apperrors"
	"github.com/preventera/safetygraph/pkg/config"
	"github.com/preventera/safetygraph/pkg/models"
)

func init() {
	Register(ConnectorRegistration{
		Info: ConnectorInfo{
			Type:        config.SourceDatasetRepo,
			DisplayName: "Dataset repository",
			Description: "CKAN-style repositories listing downloadable resources (Données Québec, data.gouv.fr)",
		},
		Factory: func(client *Client) Connector {
			return &datasetRepoConnector{client: client}
		},
	})
}

// datasetRepoConnector resolves a dataset's resource listing, then
// downloads every resource matching the configured format and merges
// the rows. CNESST publishes one file per year, so multi-resource
// datasets are the norm here.
type datasetRepoConnector struct {
	client *Client
}

// repoMetadata is the subset of CKAN package metadata we consume.
// Both the bare package shape and the package_show envelope appear in
// the wild.
type repoMetadata struct {
	Result    *repoMetadata  `json:"result"`
	Resources []repoResource `json:"resources"`
}

type repoResource struct {
	URL    string `json:"url"`
	Format string `json:"format"`
	Name   string `json:"name"`
}

func (c *datasetRepoConnector) Fetch(ctx context.Context, src *config.SourceConfig) (*models.RawDataset, error) {
	body, err := c.client.Get(ctx, src, src.URL)
	if err != nil {
		return nil, &apperrors.ConnectorError{Source: src.Key, Cause: err}
	}

	var meta repoMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, &apperrors.ConnectorError{Source: src.Key, Cause: fmt.Errorf("parsing dataset metadata: %w", err)}
	}
	if meta.Result != nil {
		meta = *meta.Result
	}

	resources := selectResources(meta.Resources, src.Format)
	if len(resources) == 0 {
		return nil, &apperrors.ConnectorError{
			Source: src.Key,
			Cause:  fmt.Errorf("dataset lists no %s resources", src.Format),
		}
	}

	ds := &models.RawDataset{
		SourceKey: src.Key,
		FetchedAt: time.Now().UTC(),
	}
	seen := make(map[string]bool)
	for _, res := range resources {
		data, err := c.client.Get(ctx, src, res.URL)
		if err != nil {
			return nil, &apperrors.ConnectorError{Source: src.Key, Cause: err}
		}
		columns, rows, err := decodeTabular(src.Format, data)
		if err != nil {
			return nil, &apperrors.ConnectorError{
				Source: src.Key,
				Cause:  fmt.Errorf("resource %s: %w", res.Name, err),
			}
		}
		// Resource files share a schema; the column union covers
		// vintages that added columns over the years.
		for _, col := range columns {
			if !seen[col] {
				seen[col] = true
				ds.Columns = append(ds.Columns, col)
			}
		}
		ds.Rows = append(ds.Rows, rows...)
	}

	return ds, nil
}

func selectResources(resources []repoResource, format string) []repoResource {
	var out []repoResource
	for _, res := range resources {
		if res.URL == "" {
			continue
		}
		if strings.EqualFold(res.Format, format) || strings.HasSuffix(strings.ToLower(res.URL), "."+format) {
			out = append(out, res)
		}
	}
	return out
}
