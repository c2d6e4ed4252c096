package mapping

import (
	"strconv"
	"strings"
	"time"

	"github.com/ehr/hie-sync/internal/domain/source"
	"github.com/ehr/hie-sync/internal/platform/fhir"
)

const (
	categorySystem  = "http://terminology.hl7.org/CodeSystem/observation-category"
	sourceTagSystem = "urn:hie:source"
)

// birthDateLayouts are tried in order when normalizing a raw birth date.
var birthDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// NormalizeGender maps the source's free-form gender column onto the FHIR
// administrative-gender code set. Anything unrecognized, including an absent
// value, becomes "unknown".
func NormalizeGender(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "m", "male":
		return "male"
	case "f", "female":
		return "female"
	case "other":
		return "other"
	default:
		return "unknown"
	}
}

// NormalizeBirthDate re-emits any parseable date as YYYY-MM-DD in UTC.
// Unparseable values return "" and the field is omitted, never defaulted.
func NormalizeBirthDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, layout := range birthDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format("2006-01-02")
		}
	}
	return ""
}

// MapPatient builds the canonical patient resource from a source row.
// Identifiers are emitted in authority order; empty or whitespace-only
// values are omitted entirely. Mapping never fails: missing optional fields
// simply leave their targets unset.
func MapPatient(row source.PatientRow, sourceTag string) *fhir.Patient {
	p := fhir.NewPatient()
	p.Meta = &fhir.Meta{Tag: []fhir.Coding{{System: sourceTagSystem, Code: sourceTag}}}

	// Walk KnownKinds explicitly so the identifier list keeps its
	// authority ordering.
	values := map[IdentifierKind]string{
		KindHealthID:  row.HealthID,
		KindProgramID: row.ProgramID,
		KindLegacyID:  row.LegacyID,
		KindPersonID:  row.PersonID,
	}
	for _, kind := range KnownKinds {
		v := Clean(values[kind])
		if v == "" {
			continue
		}
		p.Identifier = append(p.Identifier, fhir.Identifier{System: kind.System(), Value: v})
	}

	given := Clean(row.GivenName)
	family := Clean(row.FamilyName)
	if given != "" || family != "" {
		name := fhir.HumanName{Use: "official", Family: family}
		if given != "" {
			name.Given = []string{given}
		}
		p.Name = []fhir.HumanName{name}
	}

	p.Gender = NormalizeGender(row.Gender)
	p.BirthDate = NormalizeBirthDate(row.BirthDate)

	city, district, country := Clean(row.City), Clean(row.District), Clean(row.Country)
	if city != "" || district != "" || country != "" {
		p.Address = []fhir.Address{{City: city, District: district, Country: country}}
	}

	if facility := Clean(row.FacilityID); facility != "" {
		p.ManagingOrganization = &fhir.Reference{Reference: fhir.FormatReference("Organization", facility)}
	}

	return p
}

// MapObservation builds the canonical observation for a source row whose
// parent patient has already been resolved to subjectID. It fails only when
// subjectID is empty, because an observation without a subject reference is
// unsendable; every other field is optional.
func MapObservation(row source.ObservationRow, subjectID string) (*fhir.Observation, error) {
	o, err := fhir.NewObservation(formatRowID(row.ID), subjectID)
	if err != nil {
		return nil, err
	}

	o.Status = "final"
	o.Category = []fhir.CodeableConcept{{Coding: []fhir.Coding{{System: categorySystem, Code: "exam"}}}}
	o.Code = fhir.CodeableConcept{Coding: []fhir.Coding{{
		System:  Clean(row.ConceptSystem),
		Code:    Clean(row.ConceptCode),
		Display: Clean(row.ConceptDisplay),
	}}}

	if !row.ObsDatetime.IsZero() {
		o.EffectiveDateTime = row.ObsDatetime.UTC().Format(time.RFC3339)
	}

	// Exactly one value representation. Grouped members win over scalar
	// columns; among scalars the most specific type wins.
	switch {
	case len(row.Members) > 0:
		for _, m := range row.Members {
			c := fhir.ObservationComponent{
				Code: fhir.CodeableConcept{Coding: []fhir.Coding{{
					Code:    Clean(m.ConceptCode),
					Display: Clean(m.ConceptDisplay),
				}}},
				ValueInteger: m.ValueNumeric,
			}
			if m.ValueNumeric == nil {
				c.ValueString = Clean(m.ValueText)
			}
			o.Component = append(o.Component, c)
		}
	case row.ValueNumeric != nil:
		o.ValueInteger = row.ValueNumeric
	case row.ValueBoolean != nil:
		o.ValueBoolean = row.ValueBoolean
	case row.ValueDatetime != nil:
		o.ValueDateTime = row.ValueDatetime.UTC().Format(time.RFC3339)
	default:
		o.ValueString = Clean(row.ValueText)
	}

	o.AttachRawSource(row.Raw)
	o.AttachEncounter(Clean(row.EncounterID))

	return o, nil
}

// formatRowID is deterministic: the same source row always produces the
// same resource id, which is what makes retransmission an upsert.
func formatRowID(id int64) string {
	return strconv.FormatInt(id, 10)
}
