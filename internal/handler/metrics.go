package handler

import (
	"fmt"
	"net/http"

	"github.com/userhub/userhub/internal/metrics"
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

	writeMetric(w, "userhub_users_registered_total %d\n", snap.UsersRegistered)
	writeMetric(w, "userhub_registrations_rejected_total{reason=\"%s\"} %d\n", metrics.ReasonDuplicate, snap.RegistrationsDuplicate)
	writeMetric(w, "userhub_registrations_rejected_total{reason=\"%s\"} %d\n", metrics.ReasonInvalidEmail, snap.RegistrationsInvalidEmail)
	writeMetric(w, "userhub_users_deleted_total %d\n", snap.UsersDeleted)

	writeMetric(w, "userhub_logins_total{status=\"%s\"} %d\n", metrics.LoginSuccess, snap.LoginsSucceeded)
	writeMetric(w, "userhub_logins_total{status=\"%s\"} %d\n", metrics.LoginFailure, snap.LoginsFailed)
	writeMetric(w, "userhub_logins_total{status=\"%s\"} %d\n", metrics.LoginError, snap.LoginsErrored)

	writeMetric(w, "userhub_passwords_changed_total %d\n", snap.PasswordsChanged)
	writeMetric(w, "userhub_passwords_rehashed_total %d\n", snap.PasswordsRehashed)
	writeMetric(w, "userhub_password_hash_duration_seconds_count %d\n", snap.HashDurationCount)
	writeMetric(w, "userhub_password_hash_duration_seconds_sum %.6f\n", float64(snap.HashDurationTotalNs)/1e9)

	writeMetric(w, "userhub_storage_errors_total %d\n", snap.StorageErrors)
	writeMetric(w, "userhub_rate_limited_total %d\n", snap.RateLimited)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
