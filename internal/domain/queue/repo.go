package queue

import (
	"context"
	"time"
)

// Repository owns the sync_queue table. Orchestrators never touch the table
// directly; every transition goes through this interface.
type Repository interface {
	// Enqueue upserts entries for one parent patient. A re-enqueue of an
	// existing id increments retry_count and stamps last_retry_at rather
	// than inserting a duplicate row.
	Enqueue(ctx context.Context, patientID string, entries []Entry) error

	// Delete removes an entry outright. Called only after its observation
	// was confirmed transmitted.
	Delete(ctx context.Context, id string) error

	// MarkFailed records a permanent failure (unparsable payload or
	// validation rejection); the entry stops being swept.
	MarkFailed(ctx context.Context, id, reason string) error

	// ExpireBefore transitions every pending entry created before cutoff to
	// expired and returns how many were affected.
	ExpireBefore(ctx context.Context, cutoff time.Time) (int, error)

	// PendingParents returns the distinct parent identifiers that still
	// have at least one pending entry.
	PendingParents(ctx context.Context) ([]string, error)

	// PendingByParent claims all pending entries for one parent, oldest
	// first, transitioning them to processing. The caller must terminate
	// every claimed entry: Delete on delivery, MarkFailed on permanent
	// failure, or Enqueue to hand it back.
	PendingByParent(ctx context.Context, patientID string) ([]Entry, error)

	// ReleaseStuck returns processing entries to pending. Run at the start
	// of a sweep: any processing entry at that point is an orphan from an
	// interrupted sweep.
	ReleaseStuck(ctx context.Context) (int, error)

	// ListByStatus is the operator view used by the admin surface.
	ListByStatus(ctx context.Context, status Status, limit int) ([]Entry, error)
}
