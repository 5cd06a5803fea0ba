package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Engine ──────────────────────────────────────────────────────────────────

	ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailherd",
		Subsystem: "engine",
		Name:      "items_processed_total",
		Help:      "Total batch items finished, labelled by command and terminal status.",
	}, []string{"command", "status"})

	ItemsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mailherd",
		Subsystem: "engine",
		Name:      "items_inflight",
		Help:      "Items currently being executed.",
	}, []string{"command"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mailherd",
		Subsystem: "engine",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of whole batch runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"command"})

	// ─── Panel API ───────────────────────────────────────────────────────────────

	PanelAPICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailherd",
		Subsystem: "panel",
		Name:      "api_calls_total",
		Help:      "Total hosting-panel API calls, labelled by provider, call and result.",
	}, []string{"provider", "call", "result"})

	PanelAPIDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mailherd",
		Subsystem: "panel",
		Name:      "api_call_duration_seconds",
		Help:      "Hosting-panel API round-trip time in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"provider"})

	// ─── Mailbox transfers ───────────────────────────────────────────────────────

	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailherd",
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Total imapsync invocations, labelled by process exit code.",
	}, []string{"exit_code"})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mailherd",
		Subsystem: "sync",
		Name:      "duration_seconds",
		Help:      "Wall-clock duration of single mailbox transfers in seconds.",
		Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 7200},
	})
)
