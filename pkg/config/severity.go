package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/preventera/safetygraph/pkg/apperrors"
	"github.com/preventera/safetygraph/pkg/models"
)

// SeverityVocabulary maps free-text severity descriptions from source
// systems to the canonical severity scale. Matching is case-insensitive
// substring search in most-severe-first order, so a description that
// mentions both "fatal" and "minor injury" resolves to CRITICAL.
type SeverityVocabulary struct {
	Version string              `yaml:"version"`
	Tokens  map[string][]string `yaml:"tokens"` // canonical level -> lowercase keywords

	// lookup order, fixed at construction
	order []models.Severity
}

// LoadSeverityVocabulary reads the severity vocabulary document. A
// missing file falls back to the compiled-in default vocabulary.
func LoadSeverityVocabulary(path string) (*SeverityVocabulary, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultSeverityVocabulary(), nil
	}
	if err != nil {
		return nil, &apperrors.ConfigError{Reason: fmt.Sprintf("cannot read %s: %v", path, err)}
	}

	var v SeverityVocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, &apperrors.ConfigError{Reason: fmt.Sprintf("cannot parse %s: %v", path, err)}
	}
	for level := range v.Tokens {
		if !models.Severity(level).Valid() {
			return nil, &apperrors.ConfigError{Reason: fmt.Sprintf("%s: unknown severity level %q", path, level)}
		}
	}
	v.order = severityOrder
	return &v, nil
}

var severityOrder = []models.Severity{
	models.SeverityCritical,
	models.SeverityHigh,
	models.SeverityMedium,
	models.SeverityLow,
}

// Normalize maps a raw severity description to the canonical scale.
// Unmatched and empty descriptions map to MEDIUM rather than being
// dropped, so that severity stays total over all ingested records.
func (v *SeverityVocabulary) Normalize(raw string) models.Severity {
	desc := strings.ToLower(strings.TrimSpace(raw))
	if desc == "" {
		return models.SeverityMedium
	}
	for _, level := range v.order {
		for _, token := range v.Tokens[string(level)] {
			if strings.Contains(desc, token) {
				return level
			}
		}
	}
	return models.SeverityMedium
}

// DefaultSeverityVocabulary returns the compiled-in bilingual keyword
// sets. Keywords cover the English and French source corpora
// (OSHA/HSE and DARES/CNESST respectively).
func DefaultSeverityVocabulary() *SeverityVocabulary {
	return &SeverityVocabulary{
		Version: "builtin",
		Tokens: map[string][]string{
			string(models.SeverityCritical): {
				"fatal", "death", "died", "deceased", "fatality",
				"décès", "mortel", "mort",
			},
			string(models.SeverityHigh): {
				"hospital", "hospitalization", "hospitalisation",
				"amputation", "severe", "grave", "fracture",
				"permanent disability", "incapacité permanente",
			},
			string(models.SeverityMedium): {
				"moderate", "lost time", "days away", "modéré",
				"arrêt de travail",
			},
			string(models.SeverityLow): {
				"minor", "first aid", "no lost time", "léger",
				"premiers soins", "sans arrêt",
			},
		},
		order: severityOrder,
	}
}
