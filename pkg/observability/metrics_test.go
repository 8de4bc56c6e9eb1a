package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// TestMetricsRegistered verifies that all metrics are registered in the
// default registry once they have been observed.
func TestMetricsRegistered(t *testing.T) {
	expected := map[string]bool{
		"vibe_requests_total":                 false,
		"vibe_request_duration_seconds":       false,
		"vibe_provider_requests_total":        false,
		"vibe_provider_latency_seconds":       false,
		"vibe_ingest_failures_total":          false,
		"vibe_prompts_total":                  false,
		"vibe_sandbox_boots_total":            false,
		"vibe_sandbox_boot_duration_seconds":  false,
		"vibe_sandbox_start_duration_seconds": false,
		"vibe_sandbox_ready_signals_total":    false,
		"vibe_previews_total":                 false,
		"vibe_sandbox_active":                 false,
		"vibe_ratelimit_rejected_total":       false,
	}

	// Vectors only appear after their first observation.
	RequestsTotal.WithLabelValues("GET", "2xx", "test").Inc()
	RequestDuration.WithLabelValues("GET", "test").Observe(0.1)
	ProviderRequestsTotal.WithLabelValues("mock", "test", "success").Inc()
	ProviderLatency.WithLabelValues("mock", "test").Observe(0.1)
	IngestFailuresTotal.WithLabelValues("truncated_response").Inc()
	PromptsTotal.WithLabelValues("success").Inc()
	SandboxBootsTotal.WithLabelValues("local", "success").Inc()
	SandboxBootDuration.WithLabelValues("local").Observe(0.2)
	SandboxStartDuration.WithLabelValues("static_server").Observe(0.2)
	SandboxReadySignalsTotal.WithLabelValues("poll", "applied").Inc()
	PreviewsTotal.WithLabelValues("static", "isolation_unavailable").Inc()
	RateLimitRejectedTotal.WithLabelValues("default").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}
	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not found in default registry", name)
		}
	}
}

// TestMiddlewareRecordsRouteLabel verifies that the middleware labels
// requests with the matched ServeMux pattern, not the raw path.
func TestMiddlewareRecordsRouteLabel(t *testing.T) {
	const route = "GET /v1/projects/{id}"
	before := counterValue(t, RequestsTotal, "GET", "2xx", route)

	mux := http.NewServeMux()
	mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := MetricsMiddleware(mux)

	for _, id := range []string{"proj_a", "proj_b"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/projects/"+id, nil))
	}

	after := counterValue(t, RequestsTotal, "GET", "2xx", route)
	if after-before != 2 {
		t.Errorf("expected request count to increase by 2, got delta=%f", after-before)
	}
}

// TestMiddlewareRecordsDuration verifies that the middleware records
// a request duration observation.
func TestMiddlewareRecordsDuration(t *testing.T) {
	before := histogramCount(t, RequestDuration, "POST", "unmatched")

	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/projects", nil))

	after := histogramCount(t, RequestDuration, "POST", "unmatched")
	if after-before != 1 {
		t.Errorf("expected histogram sample count to increase by 1, got delta=%d", after-before)
	}
}

// TestMiddlewareCapturesStatusCode verifies that non-200 status codes are
// captured correctly in the status label.
func TestMiddlewareCapturesStatusCode(t *testing.T) {
	before := counterValue(t, RequestsTotal, "POST", "4xx", "unmatched")

	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/projects", nil))

	after := counterValue(t, RequestsTotal, "POST", "4xx", "unmatched")
	if after-before != 1 {
		t.Errorf("expected 4xx count to increase by 1, got delta=%f", after-before)
	}
}

// TestStatusWriterFlush verifies that the statusWriter Flush method
// delegates to the underlying writer when it implements http.Flusher.
func TestStatusWriterFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}

	sw.Flush()

	if !rec.Flushed {
		t.Error("expected underlying writer to be flushed")
	}
}

// counterValue reads the current value of a CounterVec for the given labels.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := cv.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("getting counter metric: %v", err)
	}
	if err := c.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing counter metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

// histogramCount reads the observation count from a HistogramVec.
func histogramCount(t *testing.T, hv *prometheus.HistogramVec, labels ...string) uint64 {
	t.Helper()
	m := &dto.Metric{}
	obs, err := hv.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("getting histogram metric: %v", err)
	}
	if err := obs.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing histogram metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}
