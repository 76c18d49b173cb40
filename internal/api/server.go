// Package api provides the local HTTP status server for silkd: health,
// live daemon status, tracked targets, the running configuration, and
// Prometheus metrics. The server binds localhost; it is an inspection
// surface, not a control plane.
package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/silkd/silkd/internal/health"
	"github.com/silkd/silkd/internal/hysteresis"
)

// Stats is the live control-loop summary served by /api/status. The
// daemon fills everything except the tracker sizes, which the handler
// reads directly.
type Stats struct {
	InstanceID       string    `json:"instance_id"`
	Version          string    `json:"version"`
	StartedAt        time.Time `json:"started_at"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
	DryRun           bool      `json:"dry_run"`
	Iterations       uint64    `json:"iterations"`
	IterationErrors  uint64    `json:"iteration_errors"`
	Applied          uint64    `json:"applied"`
	Skipped          uint64    `json:"skipped"`
	ApplyErrors      uint64    `json:"apply_errors"`
	LoadLevel        float64   `json:"load_level"`
	LoadCategory     string    `json:"load_category"`
	TrackedProcesses int       `json:"tracked_processes"`
	TrackedGroups    int       `json:"tracked_groups"`
}

// StatsSource yields the daemon's live loop stats.
type StatsSource interface {
	Stats() Stats
}

// Server is the silkd status API server.
type Server struct {
	stats          StatsSource
	checker        *health.Checker
	procs          *hysteresis.Tracker[int]
	groups         *hysteresis.Tracker[string]
	config         any
	metricsEnabled bool
}

// NewServer creates a status server over the daemon's live collaborators.
func NewServer(stats StatsSource, checker *health.Checker,
	procs *hysteresis.Tracker[int], groups *hysteresis.Tracker[string]) *Server {
	return &Server{stats: stats, checker: checker, procs: procs, groups: groups}
}

// SetConfig sets the value served by /api/config.
func (s *Server) SetConfig(v any) { s.config = v }

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/version", s.handleVersion)
		r.Get("/processes", s.handleProcesses)
		r.Get("/groups", s.handleGroups)
		r.Get("/config", s.handleConfig)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !s.checker.IsHealthy() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": s.checker.Statuses(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.stats.Stats()
	st.UptimeSeconds = int64(time.Since(st.StartedAt).Seconds())
	st.TrackedProcesses = s.procs.Len()
	st.TrackedGroups = s.groups.Len()
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": s.stats.Stats().Version,
	})
}

// processRecord is one tracked process as served by /api/processes.
type processRecord struct {
	PID       int       `json:"pid"`
	Class     string    `json:"class"`
	ChangedAt time.Time `json:"changed_at"`
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	recs := s.procs.Snapshot()
	out := make([]processRecord, 0, len(recs))
	for pid, rec := range recs {
		out = append(out, processRecord{
			PID:       pid,
			Class:     rec.Class.String(),
			ChangedAt: rec.ChangedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(out),
		"processes": out,
	})
}

// groupRecord is one tracked group as served by /api/groups.
type groupRecord struct {
	ID        string    `json:"id"`
	Class     string    `json:"class"`
	ChangedAt time.Time `json:"changed_at"`
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	recs := s.groups.Snapshot()
	out := make([]groupRecord, 0, len(recs))
	for id, rec := range recs {
		out = append(out, groupRecord{
			ID:        id,
			Class:     rec.Class.String(),
			ChangedAt: rec.ChangedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(out),
		"groups": out,
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if s.config == nil {
		writeError(w, http.StatusNotFound, "no config loaded")
		return
	}
	writeJSON(w, http.StatusOK, s.config)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}
