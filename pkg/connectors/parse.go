package connectors

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
)

// parseCSV decodes a CSV payload into column names and string rows.
// The first record is the header. Short rows are padded with empty
// cells rather than rejected; upstream bulk files are not always tidy.
func parseCSV(data []byte) ([]string, []map[string]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parsing csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	columns := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

// parseJSONRows decodes a JSON payload into string rows. Accepts
// either a top-level array of objects or an object wrapping the array
// under a conventional key (results, data, records, value).
func parseJSONRows(data []byte) ([]string, []map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var top any
	if err := dec.Decode(&top); err != nil {
		return nil, nil, fmt.Errorf("parsing json: %w", err)
	}

	var items []any
	switch v := top.(type) {
	case []any:
		items = v
	case map[string]any:
		for _, key := range []string{"results", "data", "records", "value"} {
			if arr, ok := v[key].([]any); ok {
				items = arr
				break
			}
		}
		if items == nil {
			return nil, nil, fmt.Errorf("parsing json: no row array found")
		}
	default:
		return nil, nil, fmt.Errorf("parsing json: unexpected top-level %T", top)
	}

	var columns []string
	seen := make(map[string]bool)
	rows := make([]map[string]string, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		row := make(map[string]string, len(obj))
		for k, v := range obj {
			row[k] = stringifyCell(v)
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

// stringifyCell renders a decoded JSON value as a cell. Nested
// structures are re-encoded as compact JSON so nothing is lost.
func stringifyCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
