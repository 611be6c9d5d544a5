package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// LivenessHandler returns an HTTP handler for liveness probes.
// This is a simple check that the service is running.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// ReadinessHandler returns an HTTP handler for readiness probes. The
// service is ready when no recorded dependency has reached the monitor's
// consecutive-failure threshold.
func ReadinessHandler(m *Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unhealthy := 0
		for _, stats := range m.Snapshots() {
			if stats.ConsecutiveFailures >= m.UnhealthyThreshold() {
				unhealthy++
			}
		}

		w.Header().Set("Content-Type", "text/plain")

		if unhealthy > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("UNHEALTHY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// HealthResponse is the JSON response for the detailed health endpoint.
type HealthResponse struct {
	Status       string                    `json:"status"`
	Timestamp    string                    `json:"timestamp"`
	Dependencies map[string]DependencyView `json:"dependencies,omitempty"`
}

// DependencyView is the JSON view of one dependency's health.
type DependencyView struct {
	Healthy              bool    `json:"healthy"`
	ConsecutiveFailures  int     `json:"consecutive_failures"`
	ConsecutiveSuccesses int     `json:"consecutive_successes"`
	ErrorRate            float64 `json:"error_rate"`
	LatencyP50           string  `json:"latency_p50"`
	LatencyP95           string  `json:"latency_p95"`
	LatencyP99           string  `json:"latency_p99"`
	LastCheck            string  `json:"last_check,omitempty"`
}

// DetailedHandler returns an HTTP handler serving per-dependency health
// statistics as JSON.
func DetailedHandler(m *Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := m.Snapshots()

		response := HealthResponse{
			Status:       "healthy",
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Dependencies: make(map[string]DependencyView, len(all)),
		}

		for _, stats := range all {
			healthy := stats.ConsecutiveFailures < m.UnhealthyThreshold()
			if !healthy {
				response.Status = "unhealthy"
			}

			view := DependencyView{
				Healthy:              healthy,
				ConsecutiveFailures:  stats.ConsecutiveFailures,
				ConsecutiveSuccesses: stats.ConsecutiveSuccesses,
				ErrorRate:            stats.ErrorRate,
				LatencyP50:           stats.P50.String(),
				LatencyP95:           stats.P95.String(),
				LatencyP99:           stats.P99.String(),
			}
			if !stats.LastCheck.IsZero() {
				view.LastCheck = stats.LastCheck.UTC().Format(time.RFC3339)
			}
			response.Dependencies[stats.Key] = view
		}

		w.Header().Set("Content-Type", "application/json")
		if response.Status == "healthy" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(response)
	}
}

// DependencyHandler returns an HTTP handler for a single dependency key.
func DependencyHandler(m *Monitor, key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, ok := m.Snapshot(key)

		w.Header().Set("Content-Type", "application/json")

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "no recorded outcomes for key",
			})
			return
		}

		healthy := stats.ConsecutiveFailures < m.UnhealthyThreshold()
		view := DependencyView{
			Healthy:              healthy,
			ConsecutiveFailures:  stats.ConsecutiveFailures,
			ConsecutiveSuccesses: stats.ConsecutiveSuccesses,
			ErrorRate:            stats.ErrorRate,
			LatencyP50:           stats.P50.String(),
			LatencyP95:           stats.P95.String(),
			LatencyP99:           stats.P99.String(),
		}
		if !stats.LastCheck.IsZero() {
			view.LastCheck = stats.LastCheck.UTC().Format(time.RFC3339)
		}

		if healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(view)
	}
}

// RegisterHandlers registers the health handlers on the given mux.
func RegisterHandlers(mux *http.ServeMux, m *Monitor) {
	mux.HandleFunc("/healthz", LivenessHandler())
	mux.HandleFunc("/readyz", ReadinessHandler(m))
	mux.HandleFunc("/health", DetailedHandler(m))
}
