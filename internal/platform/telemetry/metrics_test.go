package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestCounters(t *testing.T) {
	m := NewMetrics()
	m.Inc("sync_poll_ticks_total")
	m.Inc("sync_poll_ticks_total")
	m.Add("sync_rows_total", 5)

	if got := m.Value("sync_poll_ticks_total"); got != 2 {
		t.Errorf("ticks = %d, want 2", got)
	}
	if got := m.Value("sync_rows_total"); got != 5 {
		t.Errorf("rows = %d, want 5", got)
	}
	if got := m.Value("absent"); got != 0 {
		t.Errorf("absent counter = %d, want 0", got)
	}
}

func TestRecordAttempt(t *testing.T) {
	m := NewMetrics()
	m.RecordAttempt("Patient", 1, nil)
	m.RecordAttempt("Patient", 1, errors.New("boom"))

	if got := m.Value(`sync_transmit_attempts_total{resource="patient"}`); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	if got := m.Value(`sync_transmit_failures_total{resource="patient"}`); got != 1 {
		t.Errorf("failures = %d, want 1", got)
	}
}

func TestHandlerExposition(t *testing.T) {
	m := NewMetrics()
	m.Inc("sync_poll_ticks_total")
	m.RecordAttempt("Observation", 1, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	if err := m.Handler()(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "# TYPE sync_poll_ticks_total counter") {
		t.Errorf("missing TYPE line:\n%s", body)
	}
	if !strings.Contains(body, "sync_poll_ticks_total 1") {
		t.Errorf("missing counter value:\n%s", body)
	}
	if !strings.Contains(body, `sync_transmit_attempts_total{resource="observation"} 1`) {
		t.Errorf("missing labeled counter:\n%s", body)
	}
}
