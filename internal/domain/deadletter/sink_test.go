package deadletter

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestSink(t *testing.T) *FileSink {
	t.Helper()
	s, err := NewFileSink(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestWriteAndList(t *testing.T) {
	s := newTestSink(t)
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	if err := s.Write("validation failed", errors.New("no identifiers"), map[string]string{"row": "1"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write("rejected by store", nil, map[string]string{"row": "2"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	records, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	// Newest first.
	if records[0].Reason != "rejected by store" {
		t.Errorf("first record = %q, want newest", records[0].Reason)
	}
	if records[1].Error != "no identifiers" {
		t.Errorf("error not preserved: %q", records[1].Error)
	}
	if records[0].ID == records[1].ID {
		t.Error("records must have distinct ids")
	}
}

func TestListHonorsLimit(t *testing.T) {
	s := newTestSink(t)
	for i := 0; i < 5; i++ {
		if err := s.Write("r", nil, i); err != nil {
			t.Fatal(err)
		}
	}
	records, err := s.List(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Errorf("got %d records, want 3", len(records))
	}
}

func TestWriteUnserializablePayload(t *testing.T) {
	s := newTestSink(t)
	// Channels cannot be serialized to JSON.
	if err := s.Write("bad payload", nil, make(chan int)); err != nil {
		t.Fatalf("Write should still persist the record: %v", err)
	}
	records, err := s.List(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
}

func TestNewFileSinkCreatesDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/deadletter"
	if _, err := NewFileSink(dir, zerolog.Nop()); err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory not created: %v", err)
	}
}
