package pipeline

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/preventera/safetygraph/pkg/apperrors"
	"github.com/preventera/safetygraph/pkg/config"
	"github.com/preventera/safetygraph/pkg/models"
)

// dateLayouts are tried in order when parsing incident dates. Sources
// range from RFC 3339 APIs down to year-only statistical cubes.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"2006/01/02",
	"2006-01",
	"2006",
}

// Silver turns raw source rows into typed records with canonical
// column names. It is purely mechanical: renaming, typing and
// deduplication, no vocabulary mapping.
type Silver struct {
	logger *zap.Logger
}

// NewSilver creates the silver transform stage.
func NewSilver(logger *zap.Logger) *Silver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Silver{logger: logger}
}

// Transform renames columns per the source's field mapping, types the
// values, and drops exact-duplicate rows. A required canonical column
// (incident_id, incident_date) that is entirely absent from the batch
// is a schema error; individual missing values are not.
func (s *Silver) Transform(ds *models.RawDataset, cfg *config.SourceConfig) ([]models.CleanedRecord, error) {
	if ds.Len() == 0 {
		return nil, nil
	}

	// source column -> canonical, restricted to columns actually present
	present := make(map[string]string)
	for _, col := range ds.Columns {
		if canonical, ok := cfg.FieldMapping[col]; ok {
			present[col] = canonical
		}
	}
	for _, required := range []string{"incident_id", "incident_date"} {
		if !hasCanonical(present, required) {
			return nil, &apperrors.SchemaError{Source: cfg.Key, Column: required}
		}
	}

	records := make([]models.CleanedRecord, 0, ds.Len())
	seen := make(map[string]bool, ds.Len())
	duplicates := 0

	for _, row := range ds.Rows {
		var rec models.CleanedRecord
		for col, canonical := range present {
			value := strings.TrimSpace(row[col])
			switch canonical {
			case "incident_id":
				rec.IncidentID = value
			case "incident_date":
				rec.IncidentDate = parseDate(value)
			case "industry_code":
				rec.IndustryCode = value
			case "severity":
				rec.Severity = value
			case "injury_type":
				rec.InjuryType = value
			case "body_part":
				rec.BodyPart = value
			case "narrative":
				rec.Narrative = value
			case "days_lost":
				rec.DaysLost = parseInt(value)
			case "latitude":
				rec.Latitude = parseFloat(value)
			case "longitude":
				rec.Longitude = parseFloat(value)
			}
		}

		key := dedupeKey(&rec)
		if seen[key] {
			duplicates++
			continue
		}
		seen[key] = true
		records = append(records, rec)
	}

	s.logger.Info("silver transform complete",
		zap.String("source", cfg.Key),
		zap.Int("in", ds.Len()),
		zap.Int("out", len(records)),
		zap.Int("duplicates", duplicates))
	return records, nil
}

func hasCanonical(present map[string]string, canonical string) bool {
	for _, c := range present {
		if c == canonical {
			return true
		}
	}
	return false
}

// parseDate tries each known layout. Unparsable dates become nil
// rather than failing the batch.
func parseDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func parseFloat(value string) *float64 {
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseInt(value string) *int {
	if value == "" {
		return nil
	}
	// Some sources export counts as floats ("3.0").
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	n := int(f)
	return &n
}

// dedupeKey serializes the canonical fields so byte-identical rows
// collapse to one record within a batch.
func dedupeKey(rec *models.CleanedRecord) string {
	var b strings.Builder
	b.WriteString(rec.IncidentID)
	b.WriteByte('\x1f')
	if rec.IncidentDate != nil {
		b.WriteString(rec.IncidentDate.Format(time.RFC3339))
	}
	b.WriteByte('\x1f')
	b.WriteString(rec.IndustryCode)
	b.WriteByte('\x1f')
	b.WriteString(rec.Severity)
	b.WriteByte('\x1f')
	b.WriteString(rec.InjuryType)
	b.WriteByte('\x1f')
	b.WriteString(rec.BodyPart)
	b.WriteByte('\x1f')
	b.WriteString(rec.Narrative)
	return b.String()
}
