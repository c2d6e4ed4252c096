package watermark

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Get(ctx context.Context, stream string) (string, bool, error) {
	var cursor string
	err := r.pool.QueryRow(ctx,
		`SELECT value FROM watermarks WHERE key = $1`, stream).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get watermark %s: %w", stream, err)
	}
	return cursor, true, nil
}

func (r *repoPG) Commit(ctx context.Context, stream, cursor string) error {
	// Cursor strings are RFC 3339 timestamps, so lexicographic comparison
	// in the guard matches temporal ordering. The guard keeps a restart
	// between read and commit from ever moving a cursor backwards.
	_, err := r.pool.Exec(ctx, `INSERT INTO watermarks (key, value, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
        WHERE watermarks.value <= EXCLUDED.value`,
		stream, cursor)
	if err != nil {
		return fmt.Errorf("commit watermark %s: %w", stream, err)
	}
	return nil
}
