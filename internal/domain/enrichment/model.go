// Package enrichment decorates clinical event records with human-readable
// code descriptions resolved through the mapping registry.
package enrichment

import "time"

// EventRecord is one clinical event in the normalized event stream. Code
// may be plain or composite ("MEDS//ICD10CA//2018//J44.9"); Description is
// filled in by the enricher. Time is nil for static events such as
// demographics.
type EventRecord struct {
	SubjectID    string     `json:"subject_id"`
	Time         *time.Time `json:"time,omitempty"`
	EventType    string     `json:"event_type"`
	Code         string     `json:"code"`
	CodeSystem   string     `json:"code_system,omitempty"`
	Description  string     `json:"description,omitempty"`
	EncounterID  string     `json:"encounter_id,omitempty"`
	ValueNum     *float64   `json:"value_num,omitempty"`
	Unit         string     `json:"unit,omitempty"`
	ValueText    string     `json:"value_text,omitempty"`
	SourceTable  string     `json:"source_table,omitempty"`
	ProvenanceID string     `json:"provenance_id,omitempty"`
	Site         string     `json:"site,omitempty"`
}
