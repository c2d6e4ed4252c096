// Package deadletter is where permanently failed units end up: one durable,
// write-once record per failure, kept for manual operator review. Nothing
// here is replayed automatically.
package deadletter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Record is the durable dead-letter artifact.
type Record struct {
	ID       string          `json:"id"`
	Reason   string          `json:"reason"`
	Error    string          `json:"error,omitempty"`
	Payload  json.RawMessage `json:"payload"`
	FailedAt time.Time       `json:"failed_at"`
}

// Sink writes dead-letter records.
type Sink interface {
	Write(reason string, cause error, payload any) error
}

// FileSink persists one JSON file per record under a dedicated directory.
type FileSink struct {
	dir string
	log zerolog.Logger
	now func() time.Time
}

func NewFileSink(dir string, logger zerolog.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dead-letter directory %s: %w", dir, err)
	}
	return &FileSink{
		dir: dir,
		log: logger.With().Str("component", "deadletter").Logger(),
		now: time.Now,
	}, nil
}

// Write persists a record. Records are write-once: each gets a fresh id and
// filename, and nothing ever updates one in place.
func (s *FileSink) Write(reason string, cause error, payload any) error {
	rec := Record{
		ID:       uuid.NewString(),
		Reason:   reason,
		FailedAt: s.now().UTC(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		// The payload itself is unserializable; keep the record anyway
		// with a note instead of losing the failure.
		raw = []byte(fmt.Sprintf("%q", fmt.Sprintf("unserializable payload: %v", err)))
	}
	rec.Payload = raw

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dead-letter record: %w", err)
	}

	name := fmt.Sprintf("%d-%s.json", rec.FailedAt.UnixNano(), rec.ID)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write dead-letter record %s: %w", name, err)
	}

	s.log.Warn().Str("record", name).Str("reason", reason).Msg("unit dead-lettered")
	return nil
}

// List returns the most recent records, newest first, for the admin surface.
func (s *FileSink) List(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read dead-letter directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	// Filenames are prefixed with the nanosecond timestamp, so
	// lexicographic descending is newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if len(names) > limit {
		names = names[:limit]
	}

	var out []Record
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read dead-letter record %s: %w", name, err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.log.Warn().Str("record", name).Err(err).Msg("skipping unreadable dead-letter record")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
