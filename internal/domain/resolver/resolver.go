// Package resolver answers one question: for a patient identifier seen in
// the source store, what durable id should dependent resources in the shared
// record store reference? It consults the master patient index for identity
// and lazily creates a shallow projection in the record store when one does
// not exist yet.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/hie-sync/internal/domain/mapping"
	"github.com/ehr/hie-sync/internal/platform/fhir"
)

// ErrPatientNotFound means the identifier could not be resolved right now.
// Callers must treat this as "try again later", not as a terminal failure:
// the patient may simply not have reached the index yet.
var ErrPatientNotFound = errors.New("patient not resolvable")

// MasterIndex is the read side of the patient index, behind the mediator.
type MasterIndex interface {
	SearchPatients(ctx context.Context, system, value string) (*fhir.Bundle, error)
	GetPatient(ctx context.Context, id string) (*fhir.Patient, error)
}

// RecordStore is the shared record store's patient surface, behind the
// mediator.
type RecordStore interface {
	SearchPatients(ctx context.Context, system, value string) (*fhir.Bundle, error)
	CreatePatient(ctx context.Context, p *fhir.Patient) (string, error)
}

type Resolver struct {
	mpi MasterIndex
	shr RecordStore
	log zerolog.Logger

	// rediscoveryDelay is how long to wait before the single re-query when
	// a create succeeds without reporting the new id.
	rediscoveryDelay time.Duration
	sleep            func(ctx context.Context, d time.Duration)
}

func New(mpi MasterIndex, shr RecordStore, logger zerolog.Logger) *Resolver {
	return &Resolver{
		mpi:              mpi,
		shr:              shr,
		log:              logger.With().Str("component", "resolver").Logger(),
		rediscoveryDelay: 2 * time.Second,
		sleep:            sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Resolve maps a source identifier to the record store's patient id,
// creating the shallow projection on first encounter. Idempotent: once the
// projection exists, repeated calls return the same id without writing
// anything. Every failure path collapses to ErrPatientNotFound.
func (r *Resolver) Resolve(ctx context.Context, sourceID string) (string, error) {
	candidate := r.findInIndex(ctx, sourceID)
	if candidate == nil {
		return "", ErrPatientNotFound
	}

	system, value := highestPriorityIdentifier(candidate)
	if value == "" {
		r.log.Warn().Str("source_id", sourceID).Msg("index candidate carries no usable identifier")
		return "", ErrPatientNotFound
	}

	if id := r.findInStore(ctx, system, value); id != "" {
		return id, nil
	}

	return r.project(ctx, candidate, system, value)
}

// findInIndex searches the master index under each identifier system the
// value could belong to, in authority order, and picks a candidate
// deterministically when the index returns several.
func (r *Resolver) findInIndex(ctx context.Context, sourceID string) *fhir.Patient {
	var systems []string
	switch kind := mapping.Classify(sourceID); kind {
	case mapping.KindHealthID, mapping.KindProgramID:
		systems = []string{kind.System()}
	case mapping.KindUnknown:
		return nil
	default:
		// Opaque internal identifier: probe every known system until one
		// search comes back non-empty.
		for _, k := range mapping.KnownKinds {
			systems = append(systems, k.System())
		}
	}

	for _, system := range systems {
		bundle, err := r.mpi.SearchPatients(ctx, system, sourceID)
		if err != nil {
			r.log.Warn().Err(err).Str("system", system).Str("source_id", sourceID).Msg("index search failed")
			return nil
		}
		patients := bundle.Patients()
		if len(patients) == 0 {
			continue
		}
		return selectCandidate(patients)
	}
	return nil
}

// selectCandidate breaks ties between multiple index matches: a candidate
// carrying the primary health id wins; otherwise the one with the most
// populated identifier fields. Bundle position is the final, stable
// tie-break so the choice never depends on anything the index does not
// guarantee.
func selectCandidate(patients []*fhir.Patient) *fhir.Patient {
	best := patients[0]
	bestScore := candidateScore(best)
	for _, p := range patients[1:] {
		if s := candidateScore(p); s > bestScore {
			best, bestScore = p, s
		}
	}
	return best
}

func candidateScore(p *fhir.Patient) int {
	score := 0
	for _, id := range p.Identifier {
		if id.Value == "" {
			continue
		}
		score++
		if id.System == mapping.KindHealthID.System() {
			// Outweighs any realistic identifier count.
			score += 1000
		}
	}
	return score
}

// highestPriorityIdentifier walks the authority ordering and returns the
// first identifier the candidate carries.
func highestPriorityIdentifier(p *fhir.Patient) (system, value string) {
	for _, kind := range mapping.KnownKinds {
		if v := mapping.IdentifierOf(p, kind); v != "" {
			return kind.System(), v
		}
	}
	return "", ""
}

func (r *Resolver) findInStore(ctx context.Context, system, value string) string {
	bundle, err := r.shr.SearchPatients(ctx, system, value)
	if err != nil {
		r.log.Warn().Err(err).Str("system", system).Msg("record store search failed")
		return ""
	}
	patients := bundle.Patients()
	if len(patients) == 0 || patients[0].ID == "" {
		return ""
	}
	return fhir.StripReferencePrefix(patients[0].ID)
}

// project creates the shallow patient projection in the record store and
// returns its id, re-querying once if the create response did not carry it.
func (r *Resolver) project(ctx context.Context, candidate *fhir.Patient, system, value string) (string, error) {
	full := candidate
	if candidate.ID != "" {
		fetched, err := r.mpi.GetPatient(ctx, candidate.ID)
		if err != nil {
			r.log.Warn().Err(err).Str("mpi_id", candidate.ID).Msg("fetch full patient failed")
			return "", ErrPatientNotFound
		}
		full = fetched
	}

	id, err := r.shr.CreatePatient(ctx, full.ShallowProjection())
	if err != nil {
		r.log.Warn().Err(err).Str("system", system).Str("value", value).Msg("projection create failed")
		return "", ErrPatientNotFound
	}
	if id != "" {
		r.log.Info().Str("shr_id", id).Str("value", value).Msg("created patient projection")
		return fhir.StripReferencePrefix(id), nil
	}

	// Created but the store kept the id to itself; one bounded re-query
	// after a short delay to discover it.
	r.sleep(ctx, r.rediscoveryDelay)
	if id := r.findInStore(ctx, system, value); id != "" {
		return id, nil
	}
	return "", ErrPatientNotFound
}
