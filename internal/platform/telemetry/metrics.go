// Package telemetry provides counter metrics for the sync engine with a
// Prometheus text exposition endpoint, using only standard library
// constructs. It doubles as the audit collaborator for the transmission
// layer: every attempt against the mediator is recorded here.
package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
)

type Metrics struct {
	mu       sync.Mutex
	counters map[string]uint64
}

func NewMetrics() *Metrics {
	return &Metrics{counters: make(map[string]uint64)}
}

// Inc increments a counter by one.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

// Add increments a counter by delta.
func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.counters[name] += delta
	m.mu.Unlock()
}

// Value returns a counter's current value.
func (m *Metrics) Value(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// RecordAttempt implements the transmission layer's audit side-channel.
func (m *Metrics) RecordAttempt(resource string, attempt int, err error) {
	kind := strings.ToLower(resource)
	m.Inc("sync_transmit_attempts_total{resource=\"" + kind + "\"}")
	if err != nil {
		m.Inc("sync_transmit_failures_total{resource=\"" + kind + "\"}")
	}
}

// Handler serves the counters in Prometheus text exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		m.mu.Lock()
		names := make([]string, 0, len(m.counters))
		for name := range m.counters {
			names = append(names, name)
		}
		sort.Strings(names)

		var b strings.Builder
		seenFamilies := map[string]bool{}
		for _, name := range names {
			family := name
			if i := strings.IndexByte(family, '{'); i >= 0 {
				family = family[:i]
			}
			if !seenFamilies[family] {
				fmt.Fprintf(&b, "# TYPE %s counter\n", family)
				seenFamilies[family] = true
			}
			fmt.Fprintf(&b, "%s %d\n", name, m.counters[name])
		}
		m.mu.Unlock()

		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}
