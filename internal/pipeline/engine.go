// Package pipeline wires the poller, mapper, validator, resolver, queue,
// and transmission layer into the two stream loops and the queue sweep.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/hie-sync/internal/domain/deadletter"
	"github.com/ehr/hie-sync/internal/domain/queue"
	"github.com/ehr/hie-sync/internal/domain/source"
	"github.com/ehr/hie-sync/internal/domain/watermark"
	"github.com/ehr/hie-sync/internal/platform/fhir"
)

// Poller reads ordered source rows above a watermark.
type Poller interface {
	PollPatients(ctx context.Context, watermark string, batchSize int) ([]source.PatientRow, error)
	PollObservations(ctx context.Context, watermark string, batchSize int) ([]source.ObservationRow, error)
}

// Resolver maps a source patient identifier to a record-store id. Any
// non-nil error means "not resolvable right now"; the caller defers the
// dependent rows rather than failing them.
type Resolver interface {
	Resolve(ctx context.Context, sourceID string) (string, error)
}

// Transmitter pushes resources through the retry policy.
type Transmitter interface {
	CreatePatient(ctx context.Context, p *fhir.Patient) error
	SendObservation(ctx context.Context, o *fhir.Observation) error
}

// Counters is the slice of the metrics collaborator the loops use.
type Counters interface {
	Inc(name string)
	Add(name string, delta uint64)
}

type Config struct {
	PollInterval       time.Duration
	SweepInterval      time.Duration
	BatchSize          int
	QueueTTL           time.Duration
	ResolveConcurrency int
	SourceTag          string
}

type Engine struct {
	cfg Config

	poller     Poller
	watermarks watermark.Repository
	queue      queue.Repository
	resolver   Resolver
	tx         Transmitter
	sink       deadletter.Sink
	metrics    Counters
	log        zerolog.Logger

	now func() time.Time
}

func NewEngine(
	cfg Config,
	poller Poller,
	watermarks watermark.Repository,
	q queue.Repository,
	res Resolver,
	tx Transmitter,
	sink deadletter.Sink,
	metrics Counters,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		cfg:        cfg,
		poller:     poller,
		watermarks: watermarks,
		queue:      q,
		resolver:   res,
		tx:         tx,
		sink:       sink,
		metrics:    metrics,
		log:        logger.With().Str("component", "pipeline").Logger(),
		now:        time.Now,
	}
}

// Run starts the two stream loops and the sweep loop and blocks until ctx is
// cancelled. A tick that is in flight when ctx is cancelled finishes; the
// watermark simply stays at its last committed value and replay-on-restart
// takes over.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		e.loop(ctx, "patients", e.cfg.PollInterval, e.SyncPatients)
	}()
	go func() {
		defer wg.Done()
		e.loop(ctx, "observations", e.cfg.PollInterval, e.SyncObservations)
	}()
	go func() {
		defer wg.Done()
		e.loop(ctx, "sweep", e.cfg.SweepInterval, e.Sweep)
	}()

	wg.Wait()
}

// sink writes a dead-letter record and counts it. All dead-lettering in the
// loops goes through here so the counter and the files cannot drift apart.
func (e *Engine) sinkDead(reason string, cause error, payload any) {
	if err := e.sink.Write(reason, cause, payload); err != nil {
		e.log.Error().Err(err).Str("reason", reason).Msg("dead-letter write failed")
	}
	e.metrics.Inc("sync_deadletter_records_total")
}

// loop runs fn immediately and then on every interval tick. Errors are
// logged and the next tick retries; a mid-run failure never terminates the
// process.
func (e *Engine) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	log := e.log.With().Str("loop", name).Logger()

	tick := func() {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("tick abandoned")
		}
	}

	tick()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("loop stopped")
			return
		case <-t.C:
			tick()
		}
	}
}
