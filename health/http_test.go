package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.String() != "OK" {
		t.Errorf("body = %q, want %q", w.Body.String(), "OK")
	}
}

func TestReadinessHandler(t *testing.T) {
	m := NewMonitor(MonitorConfig{UnhealthyThreshold: 2})

	t.Run("ready with no data", func(t *testing.T) {
		w := httptest.NewRecorder()
		ReadinessHandler(m)(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("unready after threshold failures", func(t *testing.T) {
		m.RecordOutcome("db", false, time.Millisecond)
		m.RecordOutcome("db", false, time.Millisecond)

		w := httptest.NewRecorder()
		ReadinessHandler(m)(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
		if w.Body.String() != "UNHEALTHY" {
			t.Errorf("body = %q, want %q", w.Body.String(), "UNHEALTHY")
		}
	})

	t.Run("ready again after recovery", func(t *testing.T) {
		m.RecordOutcome("db", true, time.Millisecond)

		w := httptest.NewRecorder()
		ReadinessHandler(m)(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})
}

func TestDetailedHandler(t *testing.T) {
	m := NewMonitor()
	m.RecordOutcome("quotes", true, 40*time.Millisecond)
	m.RecordOutcome("quotes", false, 90*time.Millisecond)

	w := httptest.NewRecorder()
	DetailedHandler(m)(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var response HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", response.Status)
	}

	view, ok := response.Dependencies["quotes"]
	if !ok {
		t.Fatal("response missing quotes dependency")
	}
	if view.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", view.ConsecutiveFailures)
	}
	if view.ErrorRate != 0.5 {
		t.Errorf("ErrorRate = %v, want 0.5", view.ErrorRate)
	}
}

func TestDetailedHandlerUnhealthy(t *testing.T) {
	m := NewMonitor(MonitorConfig{UnhealthyThreshold: 1})
	m.RecordOutcome("db", false, time.Millisecond)

	w := httptest.NewRecorder()
	DetailedHandler(m)(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestDependencyHandler(t *testing.T) {
	m := NewMonitor()
	m.RecordOutcome("db", true, time.Millisecond)

	t.Run("known key", func(t *testing.T) {
		w := httptest.NewRecorder()
		DependencyHandler(m, "db")(w, httptest.NewRequest(http.MethodGet, "/health/db", nil))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}

		var view DependencyView
		if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if !view.Healthy {
			t.Error("Healthy = false, want true")
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		w := httptest.NewRecorder()
		DependencyHandler(m, "missing")(w, httptest.NewRequest(http.MethodGet, "/health/missing", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestRegisterHandlers(t *testing.T) {
	m := NewMonitor()
	mux := http.NewServeMux()
	RegisterHandlers(mux, m)

	for _, path := range []string{"/healthz", "/readyz", "/health"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}
