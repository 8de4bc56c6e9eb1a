// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the vibe service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for model generation
// latencies, ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// SandboxBuckets covers sandbox boot and start latencies.
var SandboxBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vibe_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// ProviderRequestsTotal counts requests sent to the generation service.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	// ProviderLatency records generation service latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vibe_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// IngestFailuresTotal counts rejected model responses by error type.
	IngestFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_ingest_failures_total",
			Help: "Rejected model responses",
		},
		[]string{"type"},
	)

	// PromptsTotal counts completed prompt cycles by outcome.
	PromptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_prompts_total",
			Help: "Prompt cycles",
		},
		[]string{"outcome"},
	)

	// SandboxBootsTotal counts sandbox boot attempts by outcome.
	SandboxBootsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_sandbox_boots_total",
			Help: "Sandbox boot attempts",
		},
		[]string{"runtime", "outcome"},
	)

	// SandboxBootDuration records sandbox boot duration in seconds.
	SandboxBootDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vibe_sandbox_boot_duration_seconds",
			Help:    "Sandbox boot duration",
			Buckets: SandboxBuckets,
		},
		[]string{"runtime"},
	)

	// SandboxStartDuration records the time from spawn to a reachable address.
	SandboxStartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vibe_sandbox_start_duration_seconds",
			Help:    "Time from spawn to ready",
			Buckets: SandboxBuckets,
		},
		[]string{"plan"},
	)

	// SandboxReadySignalsTotal counts ready signals by source (push, poll)
	// and whether they were applied or discarded as late duplicates.
	SandboxReadySignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_sandbox_ready_signals_total",
			Help: "Sandbox ready signals",
		},
		[]string{"source", "result"},
	)

	// PreviewsTotal counts preview requests by mode (live, static) and reason.
	PreviewsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_previews_total",
			Help: "Previews served",
		},
		[]string{"mode", "reason"},
	)

	// SandboxActive is 1 while a booted sandbox session exists.
	SandboxActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vibe_sandbox_active",
			Help: "Whether a sandbox session is live",
		},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ProviderRequestsTotal,
		ProviderLatency,
		IngestFailuresTotal,
		PromptsTotal,
		SandboxBootsTotal,
		SandboxBootDuration,
		SandboxStartDuration,
		SandboxReadySignalsTotal,
		PreviewsTotal,
		SandboxActive,
		RateLimitRejectedTotal,
	)
}
