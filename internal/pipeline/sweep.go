package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ehr/hie-sync/internal/domain/queue"
	"github.com/ehr/hie-sync/internal/domain/resolver"
	"github.com/ehr/hie-sync/internal/domain/source"
	"github.com/ehr/hie-sync/internal/platform/mediator"
)

// Sweep runs one pass over the deferred-write queue: expire entries past
// their TTL, then try to resolve each distinct parent and replay its pending
// entries through the normal map/validate/transmit path. Parents are swept
// concurrently under a fixed-width semaphore; entries under one parent stay
// sequential so their order of arrival is preserved.
func (e *Engine) Sweep(ctx context.Context) error {
	log := e.log.With().Str("loop", "sweep").Logger()

	// Claims orphaned by an interrupted sweep go back to pending first so
	// the TTL check and this pass both see them.
	released, err := e.queue.ReleaseStuck(ctx)
	if err != nil {
		return fmt.Errorf("release stuck queue entries: %w", err)
	}
	if released > 0 {
		log.Warn().Int("released", released).Msg("orphaned queue claims released")
	}

	cutoff := e.now().Add(-e.cfg.QueueTTL)
	expired, err := e.queue.ExpireBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("expire queue entries: %w", err)
	}
	if expired > 0 {
		e.metrics.Add("sync_queue_expired_total", uint64(expired))
		log.Warn().Int("expired", expired).Msg("queue entries past ttl")
	}

	parents, err := e.queue.PendingParents(ctx)
	if err != nil {
		return fmt.Errorf("list pending parents: %w", err)
	}
	if len(parents) == 0 {
		return nil
	}

	width := e.cfg.ResolveConcurrency
	if width < 1 {
		width = 1
	}
	sem := make(chan struct{}, width)
	var wg sync.WaitGroup
	for _, parent := range parents {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(parent string) {
			defer wg.Done()
			defer func() { <-sem }()
			e.sweepParent(ctx, parent)
		}(parent)
	}
	wg.Wait()
	return ctx.Err()
}

// sweepParent resolves one parent and replays its pending entries. A parent
// that still cannot be resolved is left alone for the next sweep; only the
// TTL ever gives up on it.
func (e *Engine) sweepParent(ctx context.Context, parent string) {
	log := e.log.With().Str("loop", "sweep").Str("parent", parent).Logger()

	subjectID, err := e.resolver.Resolve(ctx, parent)
	if err != nil {
		if !errors.Is(err, resolver.ErrPatientNotFound) && ctx.Err() == nil {
			log.Warn().Err(err).Msg("sweep resolution failed")
		}
		return
	}

	entries, err := e.queue.PendingByParent(ctx, parent)
	if err != nil {
		log.Error().Err(err).Msg("load pending entries")
		return
	}

	replayed := 0
	for i := range entries {
		entry := &entries[i]

		var row source.ObservationRow
		if err := json.Unmarshal(entry.Payload, &row); err != nil {
			e.sinkDead("queued payload unreadable", err, entry)
			if err := e.queue.MarkFailed(ctx, entry.ID, "unparsable payload: "+err.Error()); err != nil {
				log.Error().Err(err).Str("entry", entry.ID).Msg("mark failed")
			}
			continue
		}

		err := e.pushObservation(ctx, &row, subjectID)
		switch {
		case err == nil:
			if err := e.queue.Delete(ctx, entry.ID); err != nil {
				log.Error().Err(err).Str("entry", entry.ID).Msg("delete replayed entry")
				continue
			}
			replayed++
		case ctx.Err() != nil:
			return
		case mediator.IsTransient(err):
			// Hand the claim back; the next sweep retries it.
			if err := e.queue.Enqueue(ctx, parent, []queue.Entry{*entry}); err != nil {
				log.Error().Err(err).Str("entry", entry.ID).Msg("release entry")
			}
		default:
			if err := e.queue.MarkFailed(ctx, entry.ID, err.Error()); err != nil {
				log.Error().Err(err).Str("entry", entry.ID).Msg("mark failed")
			}
		}
	}

	if replayed > 0 {
		e.metrics.Add("sync_queue_replayed_total", uint64(replayed))
		log.Info().Int("replayed", replayed).Msg("deferred observations delivered")
	}
}
