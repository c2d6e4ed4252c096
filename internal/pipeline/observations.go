package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ehr/hie-sync/internal/domain/mapping"
	"github.com/ehr/hie-sync/internal/domain/queue"
	"github.com/ehr/hie-sync/internal/domain/source"
	"github.com/ehr/hie-sync/internal/domain/watermark"
	"github.com/ehr/hie-sync/internal/platform/mediator"
)

// SyncObservations runs one observation-stream tick. Rows whose parent
// patient is not yet resolvable are enqueued for the sweep instead of being
// dead-lettered; they count as handled, not failed. The watermark only
// advances when no row in the batch hit a transient transmission failure,
// so a mediator outage mid-batch makes the next tick re-poll the same rows
// and the idempotent upsert absorbs the duplicates.
func (e *Engine) SyncObservations(ctx context.Context) error {
	wm, _, err := e.watermarks.Get(ctx, watermark.StreamObservations)
	if err != nil {
		return fmt.Errorf("load observation watermark: %w", err)
	}

	e.metrics.Inc(`sync_poll_ticks_total{stream="observations"}`)
	rows, err := e.poller.PollObservations(ctx, wm, e.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("poll observations: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	log := e.log.With().Str("stream", watermark.StreamObservations).Logger()

	// Resolution is cached per parent for the tick so a patient with many
	// observations in one batch costs one index round-trip.
	resolved := make(map[string]string)
	deferred := make(map[string][]queue.Entry)
	sent := 0
	transientFailure := false

	for i := range rows {
		row := &rows[i]
		parent := row.PatientIdentifier
		if parent == "" {
			e.sinkDead("observation missing parent identifier", errNoParent, row)
			e.metrics.Inc(`sync_rows_failed_total{stream="observations"}`)
			continue
		}

		subjectID, ok := resolved[parent]
		if !ok {
			subjectID, err = e.resolver.Resolve(ctx, parent)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// Every resolution failure means "not resolvable right now",
				// including an unreachable index; the row waits in the queue
				// and the sweep re-resolves the parent later.
				deferred[parent] = append(deferred[parent], entryFor(row))
				continue
			}
			resolved[parent] = subjectID
		}

		err := e.pushObservation(ctx, row, subjectID)
		switch {
		case err == nil:
			sent++
		case ctx.Err() != nil:
			return ctx.Err()
		case mediator.IsPermanent(err) || !mediator.IsTransient(err):
			// Rejected or unmappable rows are dead-lettered inside
			// pushObservation; re-polling would only reject them again.
			e.metrics.Inc(`sync_rows_failed_total{stream="observations"}`)
			log.Warn().Err(err).Int64("row_id", row.ID).Msg("observation dead-lettered")
		default:
			transientFailure = true
			e.metrics.Inc(`sync_rows_failed_total{stream="observations"}`)
			log.Warn().Err(err).Int64("row_id", row.ID).Msg("observation transmission failed, batch will re-poll")
		}
	}

	for parent, entries := range deferred {
		if err := e.queue.Enqueue(ctx, parent, entries); err != nil {
			return fmt.Errorf("enqueue deferred observations for %s: %w", parent, err)
		}
		e.metrics.Add("sync_queue_enqueued_total", uint64(len(entries)))
		log.Info().Str("parent", parent).Int("entries", len(entries)).Msg("observations deferred")
	}

	if transientFailure {
		log.Warn().Int("polled", len(rows)).Int("sent", sent).Msg("watermark withheld")
		return nil
	}

	next := source.FormatCursor(rows[len(rows)-1].UpdatedAt)
	if err := e.watermarks.Commit(ctx, watermark.StreamObservations, next); err != nil {
		return fmt.Errorf("commit observation watermark: %w", err)
	}

	e.metrics.Add(`sync_rows_sent_total{stream="observations"}`, uint64(sent))
	log.Info().Int("polled", len(rows)).Int("sent", sent).Str("watermark", next).Msg("observation batch committed")
	return nil
}

var errNoParent = errors.New("source row has no parent patient identifier")

// pushObservation maps, validates, and transmits one row against an already
// resolved subject. Validation and mapping failures are dead-lettered here;
// transmission errors are returned raw so the caller can classify them.
func (e *Engine) pushObservation(ctx context.Context, row *source.ObservationRow, subjectID string) error {
	o, err := mapping.MapObservation(*row, subjectID)
	if err != nil {
		e.sinkDead("observation mapping failed", err, row)
		return err
	}

	res := mapping.ValidateObservation(o, e.now())
	if !res.Valid {
		err := errors.New(res.Reason())
		e.sinkDead("observation validation failed", err, row)
		return err
	}

	if err := e.tx.SendObservation(ctx, o); err != nil {
		if ctx.Err() != nil {
			return err
		}
		// Transient failures are not sunk: the withheld watermark re-polls
		// them, and sinking on every attempt would duplicate the record.
		if mediator.IsPermanent(err) {
			e.sinkDead("observation rejected", err, o)
		}
		return err
	}
	return nil
}

// entryFor snapshots a source row into a queue entry. The entry id is the
// source row id, so a row deferred twice lands on the upsert path instead of
// duplicating.
func entryFor(row *source.ObservationRow) queue.Entry {
	payload, err := json.Marshal(row)
	if err != nil {
		// ObservationRow is plain data; this cannot happen in practice.
		payload = json.RawMessage(`{}`)
	}
	return queue.Entry{
		ID:        strconv.FormatInt(row.ID, 10),
		PatientID: row.PatientIdentifier,
		Payload:   payload,
	}
}
