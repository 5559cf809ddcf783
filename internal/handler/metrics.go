package handler

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/phonechecker/phonechecker/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	keys := make([]metrics.CheckKey, 0, len(snap.Checks))
	for k := range snap.Checks {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b metrics.CheckKey) int {
		if a.Mode != b.Mode {
			return strings.Compare(a.Mode, b.Mode)
		}
		return strings.Compare(a.Outcome, b.Outcome)
	})
	for _, k := range keys {
		writeMetric(w, "phonechecker_checks_total{mode=%q,outcome=%q} %d\n", k.Mode, k.Outcome, snap.Checks[k])
	}

	writeMetric(w, "phonechecker_validation_duration_seconds_count %d\n", snap.ValidationDurationCount)
	writeMetric(w, "phonechecker_validation_duration_seconds_sum %.6f\n", float64(snap.ValidationDurationTotalNs)/1e9)

	writeLabeled(w, "phonechecker_rate_limited_total", "kind", snap.RateLimited)
	writeLabeled(w, "phonechecker_notifications_total", "status", snap.Notifications)
	writeLabeled(w, "phonechecker_logins_total", "outcome", snap.Logins)

	writeMetric(w, "phonechecker_registrations_total %d\n", snap.Registrations)
}

func writeLabeled(w http.ResponseWriter, name, label string, values map[string]uint64) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		writeMetric(w, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
