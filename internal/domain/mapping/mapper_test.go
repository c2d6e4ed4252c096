package mapping

import (
	"errors"
	"testing"
	"time"

	"github.com/ehr/hie-sync/internal/domain/source"
	"github.com/ehr/hie-sync/internal/platform/fhir"
)

func TestNormalizeGender(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"M", "male"},
		{"male", "male"},
		{"MALE", "male"},
		{"f", "female"},
		{"Female", "female"},
		{"other", "other"},
		{"X", "unknown"},
		{"", "unknown"},
		{" m ", "male"},
	}
	for _, tc := range cases {
		if got := NormalizeGender(tc.in); got != tc.want {
			t.Errorf("NormalizeGender(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeBirthDate(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1985-06-14", "1985-06-14"},
		{"1985-06-14 00:00:00", "1985-06-14"},
		{"1985-06-14T12:30:00Z", "1985-06-14"},
		{"14/06/1985", "1985-06-14"},
		{"not a date", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeBirthDate(tc.in); got != tc.want {
			t.Errorf("NormalizeBirthDate(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMapPatientIdentifierPriority(t *testing.T) {
	row := source.PatientRow{
		ID:        7,
		HealthID:  "AB12CD34",
		ProgramID: "00-0A-34-2025-N-01031",
		LegacyID:  "EMR-7",
		PersonID:  "7",
	}

	p := MapPatient(row, "hie-sync")

	if len(p.Identifier) != 4 {
		t.Fatalf("got %d identifiers, want 4", len(p.Identifier))
	}
	if p.Identifier[0].System != KindHealthID.System() || p.Identifier[0].Value != "AB12CD34" {
		t.Errorf("first identifier = %+v, want health id first", p.Identifier[0])
	}
	if p.Identifier[1].System != KindProgramID.System() {
		t.Errorf("second identifier system = %q, want program id", p.Identifier[1].System)
	}
}

func TestMapPatientOmitsBlankIdentifiers(t *testing.T) {
	row := source.PatientRow{ID: 7, HealthID: "   ", ProgramID: "00-0A-34-2025-N-01031"}

	p := MapPatient(row, "hie-sync")

	if len(p.Identifier) != 1 {
		t.Fatalf("got %d identifiers, want 1", len(p.Identifier))
	}
	if p.Identifier[0].System != KindProgramID.System() {
		t.Errorf("identifier system = %q", p.Identifier[0].System)
	}
}

func TestMapPatientOptionalFields(t *testing.T) {
	row := source.PatientRow{
		ID:         3,
		LegacyID:   "EMR-3",
		GivenName:  "  Marie \t Claire ",
		FamilyName: "Joseph",
		Gender:     "F",
		BirthDate:  "garbage",
		FacilityID: "fac-12",
	}

	p := MapPatient(row, "hie-sync")

	if p.BirthDate != "" {
		t.Errorf("unparseable birth date should be omitted, got %q", p.BirthDate)
	}
	if p.Gender != "female" {
		t.Errorf("gender = %q", p.Gender)
	}
	if len(p.Name) != 1 || p.Name[0].Given[0] != "Marie Claire" {
		t.Errorf("name not sanitized: %+v", p.Name)
	}
	if p.ManagingOrganization == nil || p.ManagingOrganization.Reference != "Organization/fac-12" {
		t.Errorf("managingOrganization = %+v", p.ManagingOrganization)
	}
	if p.Meta == nil || len(p.Meta.Tag) != 1 || p.Meta.Tag[0].Code != "hie-sync" {
		t.Errorf("source tag missing: %+v", p.Meta)
	}
}

func TestMapObservationRequiresSubject(t *testing.T) {
	_, err := MapObservation(source.ObservationRow{ID: 9}, "")
	if !errors.Is(err, fhir.ErrMissingSubject) {
		t.Fatalf("err = %v, want ErrMissingSubject", err)
	}
}

func TestMapObservationScalarValues(t *testing.T) {
	n := 120
	when := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	row := source.ObservationRow{
		ID:                9,
		PatientIdentifier: "AB12CD34",
		ConceptCode:       "8480-6",
		ConceptSystem:     "http://loinc.org",
		ValueNumeric:      &n,
		ObsDatetime:       when,
	}

	o, err := MapObservation(row, "Patient/resolved-1")
	if err != nil {
		t.Fatalf("MapObservation: %v", err)
	}
	if o.ID != "obs-9" {
		t.Errorf("id = %q, want obs-9", o.ID)
	}
	if o.Subject.Reference != "Patient/resolved-1" {
		t.Errorf("subject = %q", o.Subject.Reference)
	}
	if o.ValueInteger == nil || *o.ValueInteger != 120 {
		t.Errorf("valueInteger = %v", o.ValueInteger)
	}
	if o.ValueString != "" || o.ValueBoolean != nil || o.ValueDateTime != "" {
		t.Error("more than one value representation populated")
	}
	if o.EffectiveDateTime != "2026-02-03T10:00:00Z" {
		t.Errorf("effectiveDateTime = %q", o.EffectiveDateTime)
	}
}

func TestMapObservationComponentsWinOverScalars(t *testing.T) {
	sys, dia := 120, 80
	stray := 999
	row := source.ObservationRow{
		ID:           10,
		ValueNumeric: &stray,
		Members: []source.ObservationMember{
			{ConceptCode: "8480-6", ValueNumeric: &sys},
			{ConceptCode: "8462-4", ValueNumeric: &dia},
		},
	}

	o, err := MapObservation(row, "pat-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(o.Component) != 2 {
		t.Fatalf("got %d components, want 2", len(o.Component))
	}
	if o.ValueInteger != nil {
		t.Error("scalar value should be suppressed when components exist")
	}
}

func TestMapObservationExtensions(t *testing.T) {
	row := source.ObservationRow{
		ID:          11,
		EncounterID: "enc-4",
		ValueText:   "positive",
		Raw:         []byte(`{"obs_id":11}`),
	}

	o, err := MapObservation(row, "pat-3")
	if err != nil {
		t.Fatal(err)
	}
	if len(o.Extension) != 2 {
		t.Fatalf("got %d extensions, want 2", len(o.Extension))
	}
	if o.Extension[0].URL != fhir.ExtRawSource {
		t.Errorf("first extension = %q", o.Extension[0].URL)
	}
	if o.Extension[1].ValueString != "enc-4" {
		t.Errorf("encounter extension = %+v", o.Extension[1])
	}
	if o.ValueString != "positive" {
		t.Errorf("valueString = %q", o.ValueString)
	}
}
