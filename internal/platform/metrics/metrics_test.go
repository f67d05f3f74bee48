package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMetrics_nil_is_noop(t *testing.T) {
	var m *Metrics
	m.IncRequests(http.MethodGet, "/sessions")
	m.ObserveCompile(false)
	m.IncUploads("segment")
	m.SetActiveSessions(3)
}

func TestMetrics_Handler_exposes_counters(t *testing.T) {
	m := New()
	m.ObserveCompile(true)
	m.IncUploads("segment")
	m.IncUploadFailures()

	called := false
	h := m.Handler(func() {
		called = true
		m.SetActiveSessions(2)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !called {
		t.Error("expected gauge refresh before scrape")
	}
	body := rec.Body.String()
	for _, want := range []string{
		`vsched_manifest_compiles_total{result="ok"} 1`,
		`vsched_uploads_total{kind="segment"} 1`,
		"vsched_upload_failures_total 1",
		"vsched_active_sessions 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in scrape:\n%s", want, body)
		}
	}
}

func TestRequestMiddleware_counts_errors(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Get("/sessions/{date}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/metrics", m.Handler(nil).ServeHTTP)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions/2025-01-15", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions/2025-01-16", nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "vsched_errors_total 2") {
		t.Errorf("expected two errors counted:\n%s", body)
	}
	if !strings.Contains(body, `vsched_requests_total{method="GET",route="/sessions/{date}"} 2`) {
		t.Errorf("expected requests grouped by route pattern:\n%s", body)
	}
	if strings.Contains(body, `route="/metrics"`) {
		t.Errorf("scrapes should not be counted:\n%s", body)
	}
}
