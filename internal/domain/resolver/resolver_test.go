package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/hie-sync/internal/domain/mapping"
	"github.com/ehr/hie-sync/internal/platform/fhir"
)

// -- Mock registries --

type searchKey struct{ system, value string }

type mockIndex struct {
	results  map[searchKey][]*fhir.Patient
	patients map[string]*fhir.Patient
	searches []searchKey
	err      error
}

func (m *mockIndex) SearchPatients(_ context.Context, system, value string) (*fhir.Bundle, error) {
	m.searches = append(m.searches, searchKey{system, value})
	if m.err != nil {
		return nil, m.err
	}
	return bundleOf(m.results[searchKey{system, value}]), nil
}

func (m *mockIndex) GetPatient(_ context.Context, id string) (*fhir.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return p, nil
}

type mockStore struct {
	results map[searchKey][]*fhir.Patient
	created []*fhir.Patient
	nextID  string
	err     error
}

func (m *mockStore) SearchPatients(_ context.Context, system, value string) (*fhir.Bundle, error) {
	if m.err != nil {
		return nil, m.err
	}
	return bundleOf(m.results[searchKey{system, value}]), nil
}

func (m *mockStore) CreatePatient(_ context.Context, p *fhir.Patient) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.created = append(m.created, p)
	return m.nextID, nil
}

func bundleOf(patients []*fhir.Patient) *fhir.Bundle {
	b := &fhir.Bundle{ResourceType: "Bundle", Total: len(patients)}
	for _, p := range patients {
		raw, _ := json.Marshal(p)
		b.Entry = append(b.Entry, fhir.BundleEntry{Resource: raw})
	}
	return b
}

func indexPatient(id string, idents ...fhir.Identifier) *fhir.Patient {
	p := fhir.NewPatient()
	p.ID = id
	p.Identifier = idents
	p.Gender = "female"
	p.BirthDate = "1985-06-14"
	p.Name = []fhir.HumanName{{Family: "Joseph", Given: []string{"Marie"}}}
	return p
}

func healthIdent(v string) fhir.Identifier {
	return fhir.Identifier{System: mapping.KindHealthID.System(), Value: v}
}

func programIdent(v string) fhir.Identifier {
	return fhir.Identifier{System: mapping.KindProgramID.System(), Value: v}
}

func newTestResolver(mpi *mockIndex, shr *mockStore) *Resolver {
	r := New(mpi, shr, zerolog.Nop())
	r.sleep = func(context.Context, time.Duration) {}
	return r
}

// -- Tests --

func TestResolveReturnsExistingProjection(t *testing.T) {
	candidate := indexPatient("mpi-1", healthIdent("AB12CD34"))
	mpi := &mockIndex{results: map[searchKey][]*fhir.Patient{
		{mapping.KindHealthID.System(), "AB12CD34"}: {candidate},
	}}
	existing := indexPatient("Patient/shr-77", healthIdent("AB12CD34"))
	shr := &mockStore{results: map[searchKey][]*fhir.Patient{
		{mapping.KindHealthID.System(), "AB12CD34"}: {existing},
	}}

	id, err := newTestResolver(mpi, shr).Resolve(context.Background(), "AB12CD34")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != "shr-77" {
		t.Errorf("id = %q, want shr-77 (prefix stripped)", id)
	}
	if len(shr.created) != 0 {
		t.Error("existing projection should not be re-created")
	}
}

func TestResolveCreatesShallowProjection(t *testing.T) {
	candidate := indexPatient("mpi-1", healthIdent("AB12CD34"))
	candidate.ManagingOrganization = &fhir.Reference{Reference: "Organization/fac-1"}
	mpi := &mockIndex{
		results:  map[searchKey][]*fhir.Patient{{mapping.KindHealthID.System(), "AB12CD34"}: {candidate}},
		patients: map[string]*fhir.Patient{"mpi-1": candidate},
	}
	shr := &mockStore{nextID: "shr-9"}

	id, err := newTestResolver(mpi, shr).Resolve(context.Background(), "AB12CD34")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != "shr-9" {
		t.Errorf("id = %q, want shr-9", id)
	}
	if len(shr.created) != 1 {
		t.Fatalf("created %d projections, want 1", len(shr.created))
	}

	proj := shr.created[0]
	if len(proj.Name) != 0 {
		t.Error("projection must not carry name")
	}
	if len(proj.Address) != 0 {
		t.Error("projection must not carry address")
	}
	if proj.ID != "" {
		t.Error("projection must not carry the index's own id")
	}
	if proj.Gender != "female" || proj.BirthDate != "1985-06-14" {
		t.Errorf("projection demographics missing: %+v", proj)
	}
	if proj.ManagingOrganization == nil {
		t.Error("projection should keep managing organization")
	}
	if len(proj.Identifier) != 1 || proj.Identifier[0].Value != "AB12CD34" {
		t.Errorf("projection identifiers = %+v", proj.Identifier)
	}
}

func TestResolveNotFoundInIndex(t *testing.T) {
	mpi := &mockIndex{}
	shr := &mockStore{}

	_, err := newTestResolver(mpi, shr).Resolve(context.Background(), "AB12CD34")
	if !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("err = %v, want ErrPatientNotFound", err)
	}
	if len(shr.created) != 0 {
		t.Error("nothing should be created for an unknown patient")
	}
}

func TestResolveOpaqueIDProbesSystemsInOrder(t *testing.T) {
	candidate := indexPatient("mpi-2", healthIdent("AB12CD34"))
	mpi := &mockIndex{
		results: map[searchKey][]*fhir.Patient{
			{mapping.KindLegacyID.System(), "EMR-000123"}: {candidate},
		},
		patients: map[string]*fhir.Patient{"mpi-2": candidate},
	}
	shr := &mockStore{nextID: "shr-3"}

	id, err := newTestResolver(mpi, shr).Resolve(context.Background(), "EMR-000123")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != "shr-3" {
		t.Errorf("id = %q", id)
	}

	// Probe order is the authority order; legacy-id is the third probe.
	want := []searchKey{
		{mapping.KindHealthID.System(), "EMR-000123"},
		{mapping.KindProgramID.System(), "EMR-000123"},
		{mapping.KindLegacyID.System(), "EMR-000123"},
	}
	if len(mpi.searches) != len(want) {
		t.Fatalf("searches = %v", mpi.searches)
	}
	for i := range want {
		if mpi.searches[i] != want[i] {
			t.Errorf("search[%d] = %v, want %v", i, mpi.searches[i], want[i])
		}
	}
}

func TestResolveTieBreakPrefersHealthID(t *testing.T) {
	many := indexPatient("mpi-many",
		programIdent("00-0A-34-2025-N-01031"),
		fhir.Identifier{System: mapping.KindLegacyID.System(), Value: "EMR-1"},
		fhir.Identifier{System: mapping.KindPersonID.System(), Value: "1"},
	)
	withHealth := indexPatient("mpi-health", healthIdent("AB12CD34"))

	key := searchKey{mapping.KindProgramID.System(), "00-0A-34-2025-N-01031"}
	mpi := &mockIndex{
		results: map[searchKey][]*fhir.Patient{key: {many, withHealth}},
		patients: map[string]*fhir.Patient{
			"mpi-many":   many,
			"mpi-health": withHealth,
		},
	}
	shr := &mockStore{nextID: "shr-h"}

	_, err := newTestResolver(mpi, shr).Resolve(context.Background(), "00-0A-34-2025-N-01031")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(shr.created) != 1 || shr.created[0].Identifier[0].Value != "AB12CD34" {
		t.Errorf("candidate with health id should win: %+v", shr.created)
	}
}

func TestResolveTieBreakMostPopulatedOtherwise(t *testing.T) {
	sparse := indexPatient("mpi-sparse", programIdent("00-0A-34-2025-N-01031"))
	rich := indexPatient("mpi-rich",
		programIdent("00-0A-34-2025-N-01031"),
		fhir.Identifier{System: mapping.KindLegacyID.System(), Value: "EMR-2"},
	)

	key := searchKey{mapping.KindProgramID.System(), "00-0A-34-2025-N-01031"}
	mpi := &mockIndex{
		results:  map[searchKey][]*fhir.Patient{key: {sparse, rich}},
		patients: map[string]*fhir.Patient{"mpi-sparse": sparse, "mpi-rich": rich},
	}
	shr := &mockStore{nextID: "shr-r"}

	_, err := newTestResolver(mpi, shr).Resolve(context.Background(), "00-0A-34-2025-N-01031")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(shr.created) != 1 || len(shr.created[0].Identifier) != 2 {
		t.Errorf("richer candidate should win: %+v", shr.created)
	}
}

func TestResolveRediscoversIDAfterSilentCreate(t *testing.T) {
	candidate := indexPatient("mpi-1", healthIdent("AB12CD34"))
	mpi := &mockIndex{
		results:  map[searchKey][]*fhir.Patient{{mapping.KindHealthID.System(), "AB12CD34"}: {candidate}},
		patients: map[string]*fhir.Patient{"mpi-1": candidate},
	}

	shr := &mockStore{nextID: ""} // create succeeds but reports no id
	r := newTestResolver(mpi, shr)

	// After the create, the re-query finds the projection.
	created := indexPatient("shr-late", healthIdent("AB12CD34"))
	slept := false
	r.sleep = func(context.Context, time.Duration) {
		slept = true
		shr.results = map[searchKey][]*fhir.Patient{
			{mapping.KindHealthID.System(), "AB12CD34"}: {created},
		}
	}

	id, err := r.Resolve(context.Background(), "AB12CD34")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !slept {
		t.Error("rediscovery should wait before re-querying")
	}
	if id != "shr-late" {
		t.Errorf("id = %q, want shr-late", id)
	}
}

func TestResolveSearchErrorMapsToNotFound(t *testing.T) {
	mpi := &mockIndex{err: errors.New("mediator down")}
	_, err := newTestResolver(mpi, &mockStore{}).Resolve(context.Background(), "AB12CD34")
	if !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("err = %v, want ErrPatientNotFound", err)
	}
}

func TestResolveBlankIdentifier(t *testing.T) {
	_, err := newTestResolver(&mockIndex{}, &mockStore{}).Resolve(context.Background(), "  ")
	if !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("err = %v, want ErrPatientNotFound", err)
	}
}
