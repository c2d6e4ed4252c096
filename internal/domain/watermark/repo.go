// Package watermark persists the per-stream progress cursor. The cursor is
// the only durable marker of "already processed"; no other state is
// consulted.
package watermark

import "context"

const (
	StreamPatients     = "patients"
	StreamObservations = "observations"
)

// Repository reads and commits stream cursors.
type Repository interface {
	// Get returns the committed cursor for a stream. ok is false on first
	// run, before anything has been committed.
	Get(ctx context.Context, stream string) (cursor string, ok bool, err error)

	// Commit upserts the cursor. Commits are monotonic: an attempt to move
	// a cursor backwards is ignored rather than applied.
	Commit(ctx context.Context, stream, cursor string) error
}
