package models

import (
	"fmt"
	"time"
)

// Severity is the canonical severity level of a harmonized incident.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Valid reports whether s is one of the four canonical levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// UnclassifiedIndustry is the sentinel canonical industry code assigned
// when the crosswalk has no mapping for a source code. Records are
// never dropped for an unknown code.
const UnclassifiedIndustry = "UNCLASSIFIED"

// UnspecifiedInjury is the sentinel canonical injury code for records
// whose source injury code has no crosswalk mapping.
const UnspecifiedInjury = "NAT-99"

// RawDataset is a tabular batch exactly as received from a connector,
// tagged with provenance. Rows are untyped string cells keyed by the
// source's own column names.
type RawDataset struct {
	SourceKey string              `json:"source_key"`
	FetchedAt time.Time           `json:"fetched_at"`
	Columns   []string            `json:"columns"`
	Rows      []map[string]string `json:"rows"`
}

// Len returns the number of rows in the dataset.
func (d *RawDataset) Len() int { return len(d.Rows) }

// CleanedRecord is a typed silver-stage row with canonical column
// names. Optional fields are nil when the source did not provide them.
type CleanedRecord struct {
	IncidentID   string     `json:"incident_id"`
	IncidentDate *time.Time `json:"incident_date"`
	IndustryCode string     `json:"industry_code"`
	Severity     string     `json:"severity"` // source vocabulary, not yet normalized
	InjuryType   string     `json:"injury_type"`
	BodyPart     string     `json:"body_part"`
	Narrative    string     `json:"narrative"`
	DaysLost     *int       `json:"days_lost"`
	Latitude     *float64   `json:"latitude"`
	Longitude    *float64   `json:"longitude"`
}

// HarmonizedRecord is the canonical incident, the unit of truth of the
// gold stage. The pair (IncidentID, Source) is globally unique and is
// the system's deduplication key.
type HarmonizedRecord struct {
	IncidentID         string     `json:"incident_id"`
	Source             string     `json:"source"`
	Jurisdiction       string     `json:"jurisdiction"`
	IncidentDate       *time.Time `json:"incident_date"`
	IndustryCode       string     `json:"industry_code"`
	IndustryCodeSystem string     `json:"industry_code_system"`
	Severity           Severity   `json:"severity"`
	InjuryType         string     `json:"injury_type"`
	BodyPart           string     `json:"body_part"`
	Narrative          string     `json:"narrative"`
	DaysLost           *int       `json:"days_lost"`
	Latitude           *float64   `json:"latitude"`
	Longitude          *float64   `json:"longitude"`
	IngestedAt         time.Time  `json:"ingested_at"`
}

// Key returns the deduplication key (incident_id, source) as a single
// string, usable as a map key.
func (r *HarmonizedRecord) Key() string {
	return r.IncidentID + "\x00" + r.Source
}

// URI returns the derived graph identifier for the incident node.
func (r *HarmonizedRecord) URI() string {
	return fmt.Sprintf("urn:safetygraph:%s:%s", r.Source, r.IncidentID)
}
