// Package fhir holds the canonical wire representation of the clinical
// resources this engine pushes through the mediator: Patient, Observation,
// and the handful of FHIR datatypes they are built from. The set is
// deliberately closed; the engine only ever emits these two resource types.
package fhir

import (
	"encoding/json"
	"strings"
)

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Display   string `json:"display,omitempty"`
}

type Identifier struct {
	System string           `json:"system,omitempty"`
	Value  string           `json:"value,omitempty"`
	Type   *CodeableConcept `json:"type,omitempty"`
}

type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

type Address struct {
	Line     []string `json:"line,omitempty"`
	City     string   `json:"city,omitempty"`
	District string   `json:"district,omitempty"`
	State    string   `json:"state,omitempty"`
	Country  string   `json:"country,omitempty"`
}

type Extension struct {
	URL            string          `json:"url"`
	ValueString    string          `json:"valueString,omitempty"`
	ValueReference *Reference      `json:"valueReference,omitempty"`
	ValueBlob      json.RawMessage `json:"valueBase64Binary,omitempty"`
}

type Meta struct {
	Tag []Coding `json:"tag,omitempty"`
}

// FormatReference renders a relative FHIR reference ("Patient/abc").
func FormatReference(resourceType, id string) string {
	return resourceType + "/" + id
}

// StripReferencePrefix normalizes "Patient/abc" (or a full URL ending in the
// id) to the bare id. Registries are inconsistent about whether ids come
// back prefixed, so every id read off the wire passes through here.
func StripReferencePrefix(ref string) string {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
