package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Enqueue(ctx context.Context, patientID string, entries []Entry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		_, err := tx.Exec(ctx, `INSERT INTO sync_queue (id, patient_id, payload, status, retry_count, created_at)
            VALUES ($1, $2, $3, 'pending', 0, NOW())
            ON CONFLICT (id) DO UPDATE SET
                retry_count = sync_queue.retry_count + 1,
                last_retry_at = NOW(),
                status = 'pending'`,
			e.ID, patientID, e.Payload)
		if err != nil {
			return fmt.Errorf("enqueue entry %s: %w", e.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (r *repoPG) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sync_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete queue entry %s: %w", id, err)
	}
	return nil
}

func (r *repoPG) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sync_queue SET status = 'failed', error_message = $2 WHERE id = $1`,
		id, reason)
	if err != nil {
		return fmt.Errorf("mark queue entry %s failed: %w", id, err)
	}
	return nil
}

func (r *repoPG) ExpireBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sync_queue SET status = 'expired' WHERE status = 'pending' AND created_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire queue entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) PendingParents(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT patient_id FROM sync_queue WHERE status = 'pending' ORDER BY patient_id`)
	if err != nil {
		return nil, fmt.Errorf("query pending parents: %w", err)
	}
	defer rows.Close()

	var parents []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan pending parent: %w", err)
		}
		parents = append(parents, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending parents: %w", err)
	}
	return parents, nil
}

const entryColumns = `id, patient_id, payload, status, error_message, retry_count, created_at, last_retry_at`

func (r *repoPG) PendingByParent(ctx context.Context, patientID string) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`WITH claimed AS (
            UPDATE sync_queue SET status = 'processing'
            WHERE patient_id = $1 AND status = 'pending'
            RETURNING `+entryColumns+`
         )
         SELECT `+entryColumns+` FROM claimed ORDER BY created_at, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("claim pending entries for %s: %w", patientID, err)
	}
	return scanEntries(rows)
}

func (r *repoPG) ReleaseStuck(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sync_queue SET status = 'pending' WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("release stuck queue entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) ListByStatus(ctx context.Context, status Status, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM sync_queue
         WHERE status = $1
         ORDER BY created_at DESC
         LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list queue entries by status %s: %w", status, err)
	}
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.PatientID, &e.Payload, &e.Status,
			&e.ErrorMessage, &e.RetryCount, &e.CreatedAt, &e.LastRetryAt); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue entries: %w", err)
	}
	return out, nil
}
