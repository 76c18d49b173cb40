// Package actuator applies batches of priority adjustments to the OS,
// gated by the process- and group-level hysteresis trackers. One pass
// walks the batch, skips targets whose change is debounced, attempts every
// OS primitive independently, and records history only for targets whose
// mutations all succeeded; failed targets retry naturally next cycle.
package actuator

import (
	log "github.com/sirupsen/logrus"

	"github.com/silkd/silkd/internal/domain"
	"github.com/silkd/silkd/internal/hysteresis"
	"github.com/silkd/silkd/internal/infra/cgroup"
	"github.com/silkd/silkd/internal/infra/osprio"
)

// Options configure one actuator instance.
type Options struct {
	// DryRun evaluates gates and logs intended mutations without touching
	// the OS or the trackers.
	DryRun bool
	// MemLowBytes is written to memory.low for protected groups; zero is
	// written for unprotected ones.
	MemLowBytes uint64
}

// Actuator owns the gate-check → mutate → record sequence for every target
// in a batch. It is driven by the control loop; the trackers it consults
// are shared with the status API for read-only snapshots.
type Actuator struct {
	procs  *hysteresis.Tracker[int]
	groups *hysteresis.Tracker[string]
	ctrl   osprio.Controller
	cgm    cgroup.Manager
	opts   Options
}

// New wires an actuator to its trackers and OS collaborators.
func New(procs *hysteresis.Tracker[int], groups *hysteresis.Tracker[string],
	ctrl osprio.Controller, cgm cgroup.Manager, opts Options) *Actuator {
	return &Actuator{procs: procs, groups: groups, ctrl: ctrl, cgm: cgm, opts: opts}
}

// ProcessTracker exposes the process-level tracker for status snapshots.
func (a *Actuator) ProcessTracker() *hysteresis.Tracker[int] { return a.procs }

// GroupTracker exposes the group-level tracker for status snapshots.
func (a *Actuator) GroupTracker() *hysteresis.Tracker[string] { return a.groups }

// Apply runs one actuator pass over the batch. Adjustments for distinct
// targets are independent; a pass always runs to completion so that every
// successful mutation is matched by a tracker record. The returned outcome
// is consumed by the control loop for logging and metrics.
func (a *Actuator) Apply(batch []domain.Adjustment) domain.ApplyOutcome {
	var out domain.ApplyOutcome

	for _, adj := range batch {
		if !a.gate(adj) {
			out.Skipped++
			out.SkippedTargets = append(out.SkippedTargets, adj.Target)
			log.WithFields(log.Fields{
				"target": adj.Target.String(),
				"class":  adj.Class.String(),
			}).Debug("change debounced by hysteresis")
			continue
		}

		if a.opts.DryRun {
			out.Applied++
			log.WithFields(log.Fields{
				"target": adj.Target.String(),
				"class":  adj.Class.String(),
				"reason": adj.Reason,
			}).Info("dry-run: would apply adjustment")
			continue
		}

		failures := a.mutate(adj)
		if len(failures) > 0 {
			out.Failures = append(out.Failures, failures...)
			for _, f := range failures {
				log.WithFields(log.Fields{
					"target": f.Target.String(),
					"op":     f.Op,
				}).Warnf("apply failed: %v", f.Err)
			}
			// No record: next cycle retries instead of being blocked by a
			// false "already applied" entry.
			continue
		}

		a.record(adj)
		out.Applied++
		log.WithFields(log.Fields{
			"target": adj.Target.String(),
			"class":  adj.Class.String(),
			"reason": adj.Reason,
		}).Debug("applied priority adjustment")
	}

	return out
}

// gate consults the tracker matching the adjustment's target kind.
func (a *Actuator) gate(adj domain.Adjustment) bool {
	if adj.Target.Kind == domain.TargetGroup {
		return a.groups.ShouldApply(adj.Target.GroupID, adj.Class)
	}
	return a.procs.ShouldApply(adj.Target.PID, adj.Class)
}

// record updates the tracker matching the adjustment's target kind.
func (a *Actuator) record(adj domain.Adjustment) {
	if adj.Target.Kind == domain.TargetGroup {
		a.groups.Record(adj.Target.GroupID, adj.Class)
		return
	}
	a.procs.Record(adj.Target.PID, adj.Class)
}

// mutate attempts every sub-mutation the adjustment carries. Sub-mutations
// fail independently: one failure never aborts the others, so a process
// that lost permission for one primitive still gets the rest.
func (a *Actuator) mutate(adj domain.Adjustment) []domain.ApplyError {
	if adj.Target.Kind == domain.TargetGroup {
		return a.mutateGroup(adj)
	}
	return a.mutateProcess(adj)
}

func (a *Actuator) mutateProcess(adj domain.Adjustment) []domain.ApplyError {
	var failures []domain.ApplyError
	pid := adj.Target.PID

	if adj.Nice != nil {
		if err := a.ctrl.SetNice(pid, *adj.Nice); err != nil {
			failures = append(failures, domain.ApplyError{Target: adj.Target, Op: "nice", Err: err})
		}
	}
	if adj.LatencyNice != nil {
		if err := a.ctrl.SetLatencyNice(pid, *adj.LatencyNice); err != nil {
			failures = append(failures, domain.ApplyError{Target: adj.Target, Op: "latency", Err: err})
		}
	}
	if adj.IO != nil {
		if err := a.ctrl.SetIOPrio(pid, *adj.IO); err != nil {
			failures = append(failures, domain.ApplyError{Target: adj.Target, Op: "ioprio", Err: err})
		}
	}
	return failures
}

func (a *Actuator) mutateGroup(adj domain.Adjustment) []domain.ApplyError {
	var failures []domain.ApplyError
	id := adj.Target.GroupID

	// The directory is a precondition for every other group write: when it
	// cannot be created this is one failure, not four echoes of it.
	if err := a.cgm.EnsureGroup(id); err != nil {
		return append(failures, domain.ApplyError{Target: adj.Target, Op: "cgroup-create", Err: err})
	}

	for _, pid := range adj.MemberPIDs {
		if err := a.cgm.Attach(id, pid); err != nil {
			failures = append(failures, domain.ApplyError{Target: adj.Target, Op: "attach", Err: err})
		}
	}
	if adj.CPUWeight != nil {
		if err := a.cgm.SetCPUWeight(id, *adj.CPUWeight); err != nil {
			failures = append(failures, domain.ApplyError{Target: adj.Target, Op: "cpu.weight", Err: err})
		}
	}
	if adj.MemProtect != nil {
		bytes := uint64(0)
		if *adj.MemProtect {
			bytes = a.opts.MemLowBytes
		}
		if err := a.cgm.SetMemoryLow(id, bytes); err != nil {
			failures = append(failures, domain.ApplyError{Target: adj.Target, Op: "memory.low", Err: err})
		}
	}
	return failures
}

// CleanupInactive purges tracker history for targets absent from this
// iteration's observed sets, bounding memory to live processes and groups.
// Returns (processes removed, groups removed).
func (a *Actuator) CleanupInactive(pids map[int]struct{}, groupIDs map[string]struct{}) (int, int) {
	return a.procs.CleanupInactive(pids), a.groups.CleanupInactive(groupIDs)
}
