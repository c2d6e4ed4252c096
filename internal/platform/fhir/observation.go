package fhir

import (
	"encoding/json"
	"errors"
)

// ErrMissingSubject is returned when an observation is constructed without a
// resolved registry id for its subject. Source-database ids are never valid
// subject references, so construction refuses to proceed rather than emit a
// dangling reference.
var ErrMissingSubject = errors.New("observation requires a resolved subject id")

const (
	ExtRawSource    = "http://hie.local/fhir/StructureDefinition/raw-source-record"
	ExtEncounterRef = "http://hie.local/fhir/StructureDefinition/source-encounter"
)

// ObservationComponent carries one member of a multi-part result (e.g. blood
// pressure systolic/diastolic).
type ObservationComponent struct {
	Code         CodeableConcept `json:"code"`
	ValueString  string          `json:"valueString,omitempty"`
	ValueInteger *int            `json:"valueInteger,omitempty"`
}

// Observation is the canonical observation resource. Its id is deterministic
// (derived from the source row id) so that retransmission of the same row is
// an idempotent upsert rather than a duplicate create.
type Observation struct {
	ResourceType      string                 `json:"resourceType"`
	ID                string                 `json:"id"`
	Meta              *Meta                  `json:"meta,omitempty"`
	Status            string                 `json:"status"`
	Category          []CodeableConcept      `json:"category,omitempty"`
	Code              CodeableConcept        `json:"code"`
	Subject           Reference              `json:"subject"`
	EffectiveDateTime string                 `json:"effectiveDateTime,omitempty"`
	ValueInteger      *int                   `json:"valueInteger,omitempty"`
	ValueString       string                 `json:"valueString,omitempty"`
	ValueBoolean      *bool                  `json:"valueBoolean,omitempty"`
	ValueDateTime     string                 `json:"valueDateTime,omitempty"`
	Component         []ObservationComponent `json:"component,omitempty"`
	Extension         []Extension            `json:"extension,omitempty"`
}

// NewObservation constructs an observation for a source row whose parent has
// already been resolved to a registry id. It fails loudly when subjectID is
// empty; callers must go through the identity resolver first.
func NewObservation(sourceRowID, subjectID string) (*Observation, error) {
	if subjectID == "" {
		return nil, ErrMissingSubject
	}
	return &Observation{
		ResourceType: "Observation",
		ID:           "obs-" + sourceRowID,
		Subject:      Reference{Reference: FormatReference("Patient", StripReferencePrefix(subjectID))},
	}, nil
}

// AttachRawSource preserves the original source row on the resource for
// operator forensics.
func (o *Observation) AttachRawSource(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	o.Extension = append(o.Extension, Extension{URL: ExtRawSource, ValueBlob: raw})
}

// AttachEncounter records the source encounter as an extension rather than a
// hard reference, since encounters are not synchronized to the record store.
func (o *Observation) AttachEncounter(encounterID string) {
	if encounterID == "" {
		return
	}
	o.Extension = append(o.Extension, Extension{URL: ExtEncounterRef, ValueString: encounterID})
}
