// Package transmit wraps every write to the mediator in the retry policy:
// up to three attempts with doubling backoff, retrying only transient
// failures. Permanent rejections surface immediately so the caller can
// dead-letter the unit.
package transmit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/hie-sync/internal/platform/fhir"
	"github.com/ehr/hie-sync/internal/platform/mediator"
)

const (
	defaultAttempts  = 3
	defaultBaseDelay = 500 * time.Millisecond
)

// Client is the slice of the mediator client the transmitter uses.
type Client interface {
	CreatePatient(ctx context.Context, p *fhir.Patient) (string, error)
	UpsertObservation(ctx context.Context, o *fhir.Observation) error
}

// Auditor receives a notification for every attempt, successful or not.
// Observability only; the transmitter never branches on it.
type Auditor interface {
	RecordAttempt(resource string, attempt int, err error)
}

type Transmitter struct {
	client Client
	audit  Auditor
	log    zerolog.Logger

	attempts  int
	baseDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration)
}

func New(client Client, audit Auditor, logger zerolog.Logger) *Transmitter {
	return &Transmitter{
		client:    client,
		audit:     audit,
		log:       logger.With().Str("component", "transmit").Logger(),
		attempts:  defaultAttempts,
		baseDelay: defaultBaseDelay,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// CreatePatient pushes a patient with create (append) semantics.
func (t *Transmitter) CreatePatient(ctx context.Context, p *fhir.Patient) error {
	return t.retry(ctx, "Patient", func() error {
		_, err := t.client.CreatePatient(ctx, p)
		return err
	})
}

// SendObservation pushes an observation under its deterministic id with
// upsert semantics, which makes replay after a crash or watermark hold-back
// idempotent.
func (t *Transmitter) SendObservation(ctx context.Context, o *fhir.Observation) error {
	return t.retry(ctx, "Observation", func() error {
		return t.client.UpsertObservation(ctx, o)
	})
}

func (t *Transmitter) retry(ctx context.Context, resource string, fn func() error) error {
	delay := t.baseDelay
	var err error
	for attempt := 1; attempt <= t.attempts; attempt++ {
		err = fn()
		if t.audit != nil {
			t.audit.RecordAttempt(resource, attempt, err)
		}
		if err == nil {
			return nil
		}
		if !mediator.IsTransient(err) {
			// 4xx and anything else permanent: retrying cannot help.
			return err
		}
		if attempt == t.attempts {
			break
		}
		t.log.Warn().Err(err).Str("resource", resource).Int("attempt", attempt).
			Dur("backoff", delay).Msg("transient transmission failure, backing off")
		t.sleep(ctx, delay)
		delay *= 2
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
