package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/preventera/safetygraph/pkg/apperrors"
	"github.com/preventera/safetygraph/pkg/config"
	"github.com/preventera/safetygraph/pkg/models"
)

func init() {
	Register(ConnectorRegistration{
		Info: ConnectorInfo{
			Type:        config.SourceSDMX,
			DisplayName: "Statistical exchange",
			Description: "SDMX dissemination APIs serving JSON-stat or CSV (Eurostat ESAW, ILOSTAT)",
		},
		Factory: func(client *Client) Connector {
			return &sdmxConnector{client: client}
		},
	})
}

// sdmxConnector fetches statistical dissemination endpoints. Eurostat
// serves JSON-stat, ILOSTAT serves flat CSV; both are aggregate cubes
// rather than incident-level records.
type sdmxConnector struct {
	client *Client
}

func (c *sdmxConnector) Fetch(ctx context.Context, src *config.SourceConfig) (*models.RawDataset, error) {
	body, err := c.client.Get(ctx, src, src.URL)
	if err != nil {
		return nil, &apperrors.ConnectorError{Source: src.Key, Cause: err}
	}

	var columns []string
	var rows []map[string]string
	if src.Format == "jsonstat" {
		columns, rows, err = decodeJSONStat(body)
	} else {
		columns, rows, err = decodeTabular(src.Format, body)
	}
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

// jsonStat is the subset of the JSON-stat 2.0 dataset shape we use.
type jsonStat struct {
	ID        []string                `json:"id"`
	Size      []int                   `json:"size"`
	Dimension map[string]jsonStatDim  `json:"dimension"`
	Value     map[string]*json.Number `json:"value"`
}

type jsonStatDim struct {
	Category struct {
		Index map[string]int    `json:"index"`
		Label map[string]string `json:"label"`
	} `json:"category"`
}

// decodeJSONStat flattens a JSON-stat cube into one row per observed
// cell. Each cell's linear index is decoded into per-dimension
// positions (row-major, last dimension fastest), and both the category
// key and its human label become columns.
func decodeJSONStat(body []byte) ([]string, []map[string]string, error) {
	var stat jsonStat
	if err := json.Unmarshal(body, &stat); err != nil {
		return nil, nil, fmt.Errorf("parsing json-stat: %w", err)
	}
	if len(stat.ID) == 0 || len(stat.Size) != len(stat.ID) {
		return nil, nil, fmt.Errorf("parsing json-stat: missing or inconsistent id/size")
	}

	// Reverse each dimension's index so positions resolve to keys.
	keysByPos := make([]map[int]string, len(stat.ID))
	for i, dimKey := range stat.ID {
		dim, ok := stat.Dimension[dimKey]
		if !ok {
			return nil, nil, fmt.Errorf("parsing json-stat: dimension %q not described", dimKey)
		}
		keys := make(map[int]string, len(dim.Category.Index))
		for key, pos := range dim.Category.Index {
			keys[pos] = key
		}
		keysByPos[i] = keys
	}

	columns := make([]string, 0, 2*len(stat.ID)+1)
	for _, dimKey := range stat.ID {
		columns = append(columns, dimKey, dimKey+"_label")
	}
	columns = append(columns, "value")

	rows := make([]map[string]string, 0, len(stat.Value))
	for idx, value := range stat.Value {
		if value == nil {
			continue
		}
		linear, err := strconv.Atoi(idx)
		if err != nil {
			continue
		}

		row := make(map[string]string, len(columns))
		divisor := 1
		for i := len(stat.ID) - 1; i >= 0; i-- {
			pos := (linear / divisor) % stat.Size[i]
			divisor *= stat.Size[i]

			dimKey := stat.ID[i]
			catKey := keysByPos[i][pos]
			row[dimKey] = catKey
			if label, ok := stat.Dimension[dimKey].Category.Label[catKey]; ok {
				row[dimKey+"_label"] = label
			} else {
				row[dimKey+"_label"] = catKey
			}
		}
		row["value"] = value.String()
		rows = append(rows, row)
	}

	return columns, rows, nil
}
