// Package source reads newly admitted rows out of the EMR database. It is
// strictly read-only; progress is tracked externally by the watermark store.
package source

import (
	"encoding/json"
	"time"
)

// PatientRow is one demographic record from the EMR, raw and untrusted.
// Optional columns come through as empty strings rather than pointers; the
// mapper decides what is usable.
type PatientRow struct {
	ID         int64
	HealthID   string // primary national health id
	ProgramID  string // program-specific id (site-year-sequence format)
	LegacyID   string // legacy internal EMR id
	PersonID   string // person-level id, lowest authority
	GivenName  string
	FamilyName string
	Gender     string
	BirthDate  string
	City       string
	District   string
	Country    string
	FacilityID string
	UpdatedAt  time.Time
}

// ObservationRow is one clinical observation from the EMR. Exactly one of
// the Value* fields is populated for a simple observation; grouped
// observations carry their members instead.
type ObservationRow struct {
	ID                int64
	PatientIdentifier string // parent patient's source identifier
	EncounterID       string
	ConceptCode       string
	ConceptSystem     string
	ConceptDisplay    string
	ValueNumeric      *int
	ValueText         string
	ValueBoolean      *bool
	ValueDatetime     *time.Time
	Members           []ObservationMember
	ObsDatetime       time.Time
	UpdatedAt         time.Time
	Raw               json.RawMessage
}

// ObservationMember is one component of a grouped observation (e.g. the
// systolic member of a blood-pressure group).
type ObservationMember struct {
	ConceptCode    string
	ConceptDisplay string
	ValueNumeric   *int
	ValueText      string
}
