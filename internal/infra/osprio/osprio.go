// Package osprio wraps the per-process priority syscalls the actuator
// drives: nice (setpriority), IO scheduling class/level (ioprio_set), and
// the scheduler latency hint (sched_setattr). Wrappers are thin; policy
// lives above.
package osprio

import "github.com/silkd/silkd/internal/domain"

// Controller mutates and observes one process's scheduling primitives.
// Observation methods report (value, false) instead of an error when the
// value cannot be read; an unknown current value just means the planner
// cannot skip the write.
type Controller interface {
	SetNice(pid, value int) error
	SetIOPrio(pid int, prio domain.IOPriority) error
	SetLatencyNice(pid, value int) error

	IOPrio(pid int) (domain.IOPriority, bool)
	LatencyNice(pid int) (int, bool)

	// SupportsLatencyNice reports whether the running kernel accepts the
	// latency hint. Probed once; when false the planner omits latency
	// sub-mutations entirely instead of failing every cycle.
	SupportsLatencyNice() bool
}
