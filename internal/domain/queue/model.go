// Package queue is the durable deferred-write queue: observations whose
// parent patient could not be resolved wait here until a sweep replays them,
// they permanently fail, or their TTL lapses.
package queue

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Entry is one deferred observation, keyed by the source observation id so a
// re-enqueue upserts instead of duplicating.
type Entry struct {
	ID           string          `json:"id"`
	PatientID    string          `json:"patient_id"`
	Payload      json.RawMessage `json:"payload"`
	Status       Status          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	RetryCount   int             `json:"retry_count"`
	CreatedAt    time.Time       `json:"created_at"`
	LastRetryAt  *time.Time      `json:"last_retry_at,omitempty"`
}
