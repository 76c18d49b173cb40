// Package health provides the daemon's periodic self-checks: decision log
// connectivity, cgroup v2 availability, and procfs readability. Results
// feed the /health endpoint and the health_check_status metric.
package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/silkd/silkd/internal/infra/metrics"
	"github.com/silkd/silkd/internal/infra/sqlite"
)

// Availability reports whether cgroup-level control is usable.
// cgroup.Manager satisfies it.
type Availability interface {
	Available() bool
}

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a checker with the standard checks. db may be nil
// when the decision log is disabled; its check is then omitted. cgroup
// unavailability is reported as unhealthy but the daemon keeps running;
// process-level actuation works without it.
func NewChecker(db *sqlite.DB, cg Availability, procRoot string) *Checker {
	var checks []Check

	if db != nil {
		checks = append(checks, Check{
			Name: "sqlite",
			CheckFn: func(ctx context.Context) error {
				return db.Ping()
			},
		})
	}

	checks = append(checks,
		Check{
			Name: "cgroup",
			CheckFn: func(ctx context.Context) error {
				if !cg.Available() {
					return fmt.Errorf("cgroup v2 unavailable")
				}
				return nil
			},
		},
		Check{
			Name: "proc",
			CheckFn: func(ctx context.Context) error {
				return checkProcReadable(procRoot)
			},
		},
	)

	return &Checker{interval: 60 * time.Second, checks: checks}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
			if check.RecoverFn != nil {
				_ = check.RecoverFn(ctx)
			}
		} else {
			s.Healthy = true
		}
		statuses[i] = s

		val := 0.0
		if s.Healthy {
			val = 1
		}
		metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(val)
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// RunOnce executes every check once, synchronously. Used at startup so
// /health never serves an empty result set.
func (c *Checker) RunOnce(ctx context.Context) {
	c.runAll(ctx)
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

// checkProcReadable verifies the metrics source is present and readable.
func checkProcReadable(procRoot string) error {
	f, err := os.Open(filepath.Join(procRoot, "stat"))
	if err != nil {
		return fmt.Errorf("procfs unreadable: %w", err)
	}
	return f.Close()
}
