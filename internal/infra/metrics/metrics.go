// Package metrics provides the Prometheus collectors for silkd: control
// loop timing, actuation outcomes, observed system state, and health
// checks. All collectors register with the default registry via promauto
// and are exposed on the API server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Control Loop ───────────────────────────────────────────────────────────

// IterationDuration tracks one full collect→decide→apply pass.
var IterationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "silkd",
	Name:      "iteration_duration_seconds",
	Help:      "Duration of one control loop iteration.",
	Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
})

// Iterations counts completed control loop passes.
var Iterations = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "silkd",
	Name:      "iterations_total",
	Help:      "Total completed control loop iterations.",
})

// IterationErrors counts iterations that failed before actuation.
var IterationErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "silkd",
	Name:      "iteration_errors_total",
	Help:      "Total control loop iterations aborted by an error.",
})

// ─── Actuation ──────────────────────────────────────────────────────────────

// AdjustmentsApplied counts successfully applied adjustments.
var AdjustmentsApplied = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "silkd",
	Name:      "adjustments_applied_total",
	Help:      "Total priority adjustments applied.",
})

// AdjustmentsSkipped counts adjustments debounced by hysteresis.
var AdjustmentsSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "silkd",
	Name:      "adjustments_skipped_total",
	Help:      "Total adjustments skipped by the hysteresis gates.",
})

// ApplyFailures counts failed sub-mutations by primitive.
var ApplyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "silkd",
	Name:      "apply_failures_total",
	Help:      "Total failed OS mutations by primitive.",
}, []string{"op"})

// TrackedProcesses tracks hysteresis history size for processes.
var TrackedProcesses = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "silkd",
	Name:      "tracked_processes",
	Help:      "Process targets with hysteresis history.",
})

// TrackedGroups tracks hysteresis history size for groups.
var TrackedGroups = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "silkd",
	Name:      "tracked_groups",
	Help:      "Group targets with hysteresis history.",
})

// ─── Observation ────────────────────────────────────────────────────────────

// ProcessesObserved tracks processes seen in the last snapshot.
var ProcessesObserved = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "silkd",
	Name:      "processes_observed",
	Help:      "Processes in the most recent snapshot.",
})

// GroupsObserved tracks application groups in the last snapshot.
var GroupsObserved = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "silkd",
	Name:      "groups_observed",
	Help:      "Application groups in the most recent snapshot.",
})

// LoadLevel tracks the scaler's condensed system load, 0..1.
var LoadLevel = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "silkd",
	Name:      "load_level",
	Help:      "Condensed system load level (0..1).",
})

// UserActive tracks whether recent input was observed (1) or not (0).
var UserActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "silkd",
	Name:      "user_active",
	Help:      "Whether the user is considered active (1) or idle (0).",
})

// GroupClasses tracks how many groups currently hold each class.
var GroupClasses = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "silkd",
	Name:      "group_classes",
	Help:      "Groups per decided priority class.",
}, []string{"class"})

// ─── Persistence ────────────────────────────────────────────────────────────

// DecisionsLogged counts decision log rows written.
var DecisionsLogged = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "silkd",
	Name:      "decisions_logged_total",
	Help:      "Total decision rows written to the local database.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "silkd",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})
