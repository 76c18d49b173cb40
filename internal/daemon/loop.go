package daemon

import (
	"context"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/silkd/silkd/internal/domain"
	"github.com/silkd/silkd/internal/infra/metrics"
	"github.com/silkd/silkd/internal/infra/sqlite"
	"github.com/silkd/silkd/internal/policy"
	"github.com/silkd/silkd/internal/proc"
)

// runLoop drives control passes at the configured interval until ctx is
// cancelled. A failed pass is logged and counted, never fatal.
func (d *Daemon) runLoop(ctx context.Context) {
	interval := d.Config.Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq uint64
	lastPrune := time.Now()

	// First pass immediately, then on the tick.
	seq++
	d.pass(seq)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			d.pass(seq)

			if d.DB != nil && time.Since(lastPrune) > time.Hour {
				if removed, err := d.DB.Prune(d.Config.Retention()); err != nil {
					log.WithFields(log.Fields{"error": err}).Warn("decision log prune failed")
				} else if removed > 0 {
					log.WithFields(log.Fields{"iterations": removed}).Debug("pruned decision log")
				}
				lastPrune = time.Now()
			}
		}
	}
}

// pass runs one iteration and folds its result into stats and metrics.
func (d *Daemon) pass(seq uint64) {
	start := time.Now()
	sample, err := d.iterate(seq, start)
	sample.Duration = time.Since(start)
	sample.Failed = err != nil
	d.stats.Record(sample)

	metrics.Iterations.Inc()
	metrics.IterationDuration.Observe(sample.Duration.Seconds())
	if err != nil {
		metrics.IterationErrors.Inc()
		log.WithFields(log.Fields{"seq": seq, "error": err}).Error("iteration failed")
	}

	if seq%10 == 0 {
		v := d.stats.View()
		log.WithFields(log.Fields{
			"iterations": v.Iterations,
			"processes":  v.LastProcesses,
			"groups":     v.LastGroups,
			"applied":    v.Applied,
			"skipped":    v.Skipped,
			"errors":     v.ApplyErrors,
			"load":       v.LastLoadCat,
			"avg":        v.AvgDuration.Round(time.Microsecond),
			"max":        v.MaxDuration.Round(time.Microsecond),
		}).Info("control loop summary")
	}
}

// iterate is one full observe → decide → act cycle.
func (d *Daemon) iterate(seq uint64, start time.Time) (iterationSample, error) {
	snap, err := d.Collector.Scan()
	if err != nil {
		return iterationSample{}, fmt.Errorf("scan: %w", err)
	}

	// Classify before grouping: group tags are the union of member tags.
	d.Classifier.ClassifyAll(snap.Processes)
	snap.Groups = proc.BuildGroups(snap.Processes)

	results := d.Engine.Evaluate(snap)

	load := policy.LoadFromMetrics(snap.Global)
	cat := load.Category()
	policy.ScaleResults(results, cat)

	batch := d.Planner.Plan(snap, results)
	outcome := d.Actuator.Apply(batch)

	d.cleanup(snap)
	d.publishMetrics(snap, results, load, outcome)

	sample := iterationSample{
		Processes:   len(snap.Processes),
		Groups:      len(snap.Groups),
		Applied:     outcome.Applied,
		Skipped:     outcome.Skipped,
		ApplyErrors: len(outcome.Failures),
		LoadLevel:   load.Level,
		LoadCat:     cat.String(),
	}

	if d.DB != nil {
		d.logIteration(seq, start, sample, batch, outcome)
	}
	return sample, nil
}

// cleanup drops tracker history for exited targets and removes empty
// cgroup directories no live group claims.
func (d *Daemon) cleanup(snap *domain.Snapshot) {
	pids := make(map[int]struct{}, len(snap.Processes))
	for i := range snap.Processes {
		pids[snap.Processes[i].PID] = struct{}{}
	}
	ids := make(map[string]struct{}, len(snap.Groups))
	for i := range snap.Groups {
		ids[snap.Groups[i].ID] = struct{}{}
	}

	d.Actuator.CleanupInactive(pids, ids)
	d.Cgroups.RemoveStale(ids)
}

// publishMetrics pushes the iteration's gauges and counters.
func (d *Daemon) publishMetrics(snap *domain.Snapshot, results map[string]policy.Result,
	load policy.LoadInfo, outcome domain.ApplyOutcome) {

	metrics.ProcessesObserved.Set(float64(len(snap.Processes)))
	metrics.GroupsObserved.Set(float64(len(snap.Groups)))
	metrics.LoadLevel.Set(load.Level)
	if snap.Global.UserActive {
		metrics.UserActive.Set(1)
	} else {
		metrics.UserActive.Set(0)
	}

	for _, cls := range domain.AllClasses() {
		metrics.GroupClasses.WithLabelValues(cls.String()).Set(0)
	}
	for _, r := range results {
		metrics.GroupClasses.WithLabelValues(r.Class.String()).Inc()
	}

	metrics.AdjustmentsApplied.Add(float64(outcome.Applied))
	metrics.AdjustmentsSkipped.Add(float64(outcome.Skipped))
	for _, f := range outcome.Failures {
		metrics.ApplyFailures.WithLabelValues(f.Op).Inc()
	}

	metrics.TrackedProcesses.Set(float64(d.Actuator.ProcessTracker().Len()))
	metrics.TrackedGroups.Set(float64(d.Actuator.GroupTracker().Len()))
}

// logIteration records the pass and its per-target decisions. Logging
// failures are warnings; the loop does not depend on the decision log.
func (d *Daemon) logIteration(seq uint64, start time.Time, sample iterationSample,
	batch []domain.Adjustment, outcome domain.ApplyOutcome) {

	st := sqlite.IterationStats{
		Seq:       seq,
		TakenAt:   start,
		Duration:  time.Since(start),
		Processes: sample.Processes,
		Groups:    sample.Groups,
		Applied:   sample.Applied,
		Skipped:   sample.Skipped,
		Errors:    sample.ApplyErrors,
		LoadLevel: sample.LoadLevel,
	}

	itID, err := d.DB.LogIteration(d.InstanceID, st)
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Warn("could not log iteration")
		return
	}

	decisions := buildDecisions(batch, outcome)
	if err := d.DB.LogDecisions(itID, decisions); err != nil {
		log.WithFields(log.Fields{"error": err}).Warn("could not log decisions")
		return
	}
	metrics.DecisionsLogged.Add(float64(len(decisions)))
}

// buildDecisions attributes a per-target outcome to every adjustment in
// the batch using the actuator's skip and failure lists.
func buildDecisions(batch []domain.Adjustment, outcome domain.ApplyOutcome) []sqlite.Decision {
	failed := make(map[domain.Target]string)
	for _, f := range outcome.Failures {
		msg := f.Op + ": " + f.Err.Error()
		if prev, ok := failed[f.Target]; ok {
			msg = prev + "; " + msg
		}
		failed[f.Target] = msg
	}
	skipped := make(map[domain.Target]struct{}, len(outcome.SkippedTargets))
	for _, t := range outcome.SkippedTargets {
		skipped[t] = struct{}{}
	}

	decisions := make([]sqlite.Decision, 0, len(batch))
	for _, adj := range batch {
		dec := sqlite.Decision{
			TargetKind: adj.Target.Kind.String(),
			TargetID:   targetID(adj.Target),
			Class:      adj.Class.String(),
			Reason:     adj.Reason,
			Outcome:    sqlite.OutcomeApplied,
		}
		if msg, ok := failed[adj.Target]; ok {
			dec.Outcome = sqlite.OutcomeFailed
			dec.Error = msg
		} else if _, ok := skipped[adj.Target]; ok {
			dec.Outcome = sqlite.OutcomeSkipped
		}
		decisions = append(decisions, dec)
	}
	return decisions
}

func targetID(t domain.Target) string {
	if t.Kind == domain.TargetGroup {
		return t.GroupID
	}
	return strconv.Itoa(t.PID)
}
