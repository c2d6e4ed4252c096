package source

import (
	"testing"
	"time"
)

func TestFormatCursorLexicographicOrder(t *testing.T) {
	// The watermark commit guard compares cursors as strings, so string
	// order must match time order. The cases pick on exactly what a
	// variable-width rendering gets wrong: a bare second against the same
	// second with nanoseconds, and fractions of different magnitudes.
	times := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 1, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 50_000_000, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 500_000_000, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 999_999_999, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 23, 59, 59, 999_999_999, time.UTC),
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	for i := 1; i < len(times); i++ {
		prev, next := FormatCursor(times[i-1]), FormatCursor(times[i])
		if prev >= next {
			t.Errorf("cursor order broken: %q >= %q", prev, next)
		}
		if len(prev) != len(next) {
			t.Errorf("cursor widths differ: %q vs %q", prev, next)
		}
	}
}

func TestFormatCursorNormalizesZone(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	instant := time.Date(2024, 6, 1, 17, 30, 0, 120, loc)
	if got, want := FormatCursor(instant), FormatCursor(instant.UTC()); got != want {
		t.Errorf("FormatCursor(%v) = %q, want %q", instant, got, want)
	}
}

func TestParseCursor(t *testing.T) {
	t.Run("round trips a formatted cursor", func(t *testing.T) {
		instant := time.Date(2024, 6, 1, 12, 0, 0, 42, time.UTC)
		got, err := ParseCursor(FormatCursor(instant))
		if err != nil {
			t.Fatalf("ParseCursor: %v", err)
		}
		if !got.Equal(instant) {
			t.Errorf("round trip = %v, want %v", got, instant)
		}
	})

	t.Run("empty cursor means no lower bound", func(t *testing.T) {
		got, err := ParseCursor("")
		if err != nil {
			t.Fatalf("ParseCursor: %v", err)
		}
		if !got.IsZero() {
			t.Errorf("empty cursor parsed to %v, want zero time", got)
		}
	})

	t.Run("rejects a malformed cursor", func(t *testing.T) {
		if _, err := ParseCursor("yesterday-ish"); err == nil {
			t.Error("malformed cursor accepted")
		}
	})
}
