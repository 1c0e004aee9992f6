package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/preventera/safetygraph/pkg/config"
	"github.com/preventera/safetygraph/pkg/models"
)

// Harmonizer maps cleaned records onto the canonical vocabularies.
// Harmonization is total: unmapped codes degrade to sentinels and no
// record is ever dropped at this stage.
type Harmonizer struct {
	crosswalk *config.Crosswalk
	severity  *config.SeverityVocabulary
	logger    *zap.Logger
}

// NewHarmonizer creates the gold harmonization stage.
func NewHarmonizer(cw *config.Crosswalk, sv *config.SeverityVocabulary, logger *zap.Logger) *Harmonizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harmonizer{crosswalk: cw, severity: sv, logger: logger}
}

// idNamespace seeds deterministic incident ids, so re-ingesting the
// same batch synthesizes the same ids and upserts stay idempotent.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:safetygraph"))

// Harmonize produces canonical records from cleaned ones. Industry
// codes go through the crosswalk with the UNCLASSIFIED sentinel on a
// miss, severity descriptions through the bilingual vocabulary, and
// records without an id get a deterministic one synthesized from the
// source key and row position.
func (h *Harmonizer) Harmonize(recs []models.CleanedRecord, cfg *config.SourceConfig) []models.HarmonizedRecord {
	now := time.Now().UTC()
	out := make([]models.HarmonizedRecord, 0, len(recs))
	unclassified := 0

	for i, rec := range recs {
		incidentID := rec.IncidentID
		if incidentID == "" {
			incidentID = uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s:%d", cfg.Key, i))).String()
		}

		industry := models.UnclassifiedIndustry
		if rec.IndustryCode != "" {
			if code, ok := h.crosswalk.LookupIndustry(cfg.CodeSystem, rec.IndustryCode); ok {
				industry = code
			}
		}
		if industry == models.UnclassifiedIndustry {
			unclassified++
		}

		out = append(out, models.HarmonizedRecord{
			IncidentID:         incidentID,
			Source:             cfg.Key,
			Jurisdiction:       cfg.Jurisdiction,
			IncidentDate:       rec.IncidentDate,
			IndustryCode:       industry,
			IndustryCodeSystem: cfg.CodeSystem,
			Severity:           h.severity.Normalize(rec.Severity),
			InjuryType:         h.mapInjury(cfg, rec.InjuryType),
			BodyPart:           h.mapBodyPart(cfg, rec.BodyPart),
			Narrative:          rec.Narrative,
			DaysLost:           rec.DaysLost,
			Latitude:           rec.Latitude,
			Longitude:          rec.Longitude,
			IngestedAt:         now,
		})
	}

	h.logger.Info("harmonization complete",
		zap.String("source", cfg.Key),
		zap.Int("records", len(out)),
		zap.Int("unclassified_industry", unclassified))
	return out
}

// mapInjury normalizes a source injury-nature code. Codes already in
// canonical form pass through; unmapped codes get the unspecified
// sentinel; absent values stay absent.
func (h *Harmonizer) mapInjury(cfg *config.SourceConfig, code string) string {
	if code == "" {
		return ""
	}
	if strings.HasPrefix(code, "NAT-") {
		return code
	}
	if mapped, ok := h.crosswalk.LookupInjury(cfg.InjurySystem(), code); ok {
		return mapped
	}
	return models.UnspecifiedInjury
}

// mapBodyPart normalizes a source body-part code. Unmapped codes pass
// through untouched; there is no body-part sentinel.
func (h *Harmonizer) mapBodyPart(cfg *config.SourceConfig, code string) string {
	if code == "" || strings.HasPrefix(code, "BP-") {
		return code
	}
	if mapped, ok := h.crosswalk.LookupBodyPart(cfg.InjurySystem(), code); ok {
		return mapped
	}
	return code
}
