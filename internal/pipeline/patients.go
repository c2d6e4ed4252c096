package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ehr/hie-sync/internal/domain/mapping"
	"github.com/ehr/hie-sync/internal/domain/source"
	"github.com/ehr/hie-sync/internal/domain/watermark"
)

// SyncPatients runs one patient-stream tick: poll above the watermark, map
// and validate each row, transmit, and commit the watermark. The patient
// stream always advances after a batch: a patient that failed transmission
// is dead-lettered rather than re-polled, so one bad record cannot stall
// every demographic update behind it.
func (e *Engine) SyncPatients(ctx context.Context) error {
	wm, _, err := e.watermarks.Get(ctx, watermark.StreamPatients)
	if err != nil {
		return fmt.Errorf("load patient watermark: %w", err)
	}

	e.metrics.Inc(`sync_poll_ticks_total{stream="patients"}`)
	rows, err := e.poller.PollPatients(ctx, wm, e.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("poll patients: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	log := e.log.With().Str("stream", watermark.StreamPatients).Logger()
	sent := 0
	for i := range rows {
		row := &rows[i]
		if err := e.pushPatient(ctx, row); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.metrics.Inc(`sync_rows_failed_total{stream="patients"}`)
			log.Warn().Err(err).Int64("row_id", row.ID).Msg("patient dead-lettered")
			continue
		}
		sent++
	}

	next := source.FormatCursor(rows[len(rows)-1].UpdatedAt)
	if err := e.watermarks.Commit(ctx, watermark.StreamPatients, next); err != nil {
		return fmt.Errorf("commit patient watermark: %w", err)
	}

	e.metrics.Add(`sync_rows_sent_total{stream="patients"}`, uint64(sent))
	log.Info().Int("polled", len(rows)).Int("sent", sent).Str("watermark", next).Msg("patient batch committed")
	return nil
}

func (e *Engine) pushPatient(ctx context.Context, row *source.PatientRow) error {
	p := mapping.MapPatient(*row, e.cfg.SourceTag)

	res := mapping.ValidatePatient(p, e.now())
	for _, w := range res.Warnings {
		e.log.Debug().Int64("row_id", row.ID).Str("warning", w).Msg("patient validation warning")
	}
	if !res.Valid {
		err := errors.New(res.Reason())
		e.sinkDead("patient validation failed", err, row)
		return err
	}

	if err := e.tx.CreatePatient(ctx, p); err != nil {
		if ctx.Err() != nil {
			return err
		}
		e.sinkDead("patient transmission failed", err, p)
		return err
	}
	return nil
}
