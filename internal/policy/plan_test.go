package policy

import (
	"testing"

	"github.com/silkd/silkd/internal/domain"
)

// ─── Observer Fakes ─────────────────────────────────────────────────────────

type fakePrioObs struct {
	io        map[int]domain.IOPriority
	lat       map[int]int
	latencyOK bool
}

func (f *fakePrioObs) IOPrio(pid int) (domain.IOPriority, bool) {
	v, ok := f.io[pid]
	return v, ok
}

func (f *fakePrioObs) LatencyNice(pid int) (int, bool) {
	v, ok := f.lat[pid]
	return v, ok
}

func (f *fakePrioObs) SupportsLatencyNice() bool { return f.latencyOK }

type fakeCgObs struct {
	down    bool
	weights map[string]int
	memLow  map[string]uint64
}

func (f *fakeCgObs) Available() bool { return !f.down }

func (f *fakeCgObs) PathFor(id string) string { return "/silkd/app-" + id }

func (f *fakeCgObs) CPUWeight(id string) (int, bool) {
	v, ok := f.weights[id]
	return v, ok
}

func (f *fakeCgObs) MemoryLow(id string) (uint64, bool) {
	v, ok := f.memLow[id]
	return v, ok
}

const testMemLow = 256 << 20

// convergedFixture returns a snapshot, observers, and results where every
// observed value already matches ClassNormal, so a plan finds no work.
func convergedFixture() (*domain.Snapshot, *fakePrioObs, *fakeCgObs, map[string]Result) {
	snap := &domain.Snapshot{
		Processes: []domain.Process{{
			PID: 100, Exe: "/usr/bin/app", Cmdline: "app",
			GroupID: "g", CgroupPath: "/silkd/app-g", Nice: 0,
		}},
		Groups: []domain.AppGroup{{ID: "g", RootPID: 100, PIDs: []int{100}}},
	}
	prio := &fakePrioObs{
		io:        map[int]domain.IOPriority{100: {Class: domain.IOBestEffort, Level: 4}},
		lat:       map[int]int{100: 0},
		latencyOK: true,
	}
	cg := &fakeCgObs{
		weights: map[string]int{"g": 100},
		memLow:  map[string]uint64{"g": testMemLow},
	}
	results := map[string]Result{"g": {Class: domain.ClassNormal, Reason: "default: no rules matched"}}
	return snap, prio, cg, results
}

func newTestPlanner(prio *fakePrioObs, cg *fakeCgObs) *Planner {
	return NewPlanner(PlanOptions{MemProtect: true, MemLowBytes: testMemLow}, prio, cg)
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestPlanConvergedSystemIsEmpty(t *testing.T) {
	snap, prio, cg, results := convergedFixture()

	batch := newTestPlanner(prio, cg).Plan(snap, results)
	if len(batch) != 0 {
		t.Fatalf("Plan returned %d adjustments on a converged system: %+v", len(batch), batch)
	}
}

func TestPlanEmitsOnlyDriftedPrimitives(t *testing.T) {
	snap, prio, cg, results := convergedFixture()
	snap.Processes[0].Nice = 10 // only nice drifts

	batch := newTestPlanner(prio, cg).Plan(snap, results)
	if len(batch) != 1 {
		t.Fatalf("len(batch) = %d, want 1", len(batch))
	}
	adj := batch[0]
	if adj.Target.Kind != domain.TargetProcess || adj.Target.PID != 100 {
		t.Fatalf("Target = %v, want pid:100", adj.Target)
	}
	if adj.Nice == nil || *adj.Nice != 0 {
		t.Errorf("Nice = %v, want 0", adj.Nice)
	}
	if adj.IO != nil || adj.LatencyNice != nil {
		t.Errorf("unrequested primitives emitted: IO=%v LatencyNice=%v", adj.IO, adj.LatencyNice)
	}
}

func TestPlanUnknownObservedValuesEmit(t *testing.T) {
	snap, prio, cg, results := convergedFixture()
	// Observation failed: planner cannot prove convergence, so it writes.
	prio.io = map[int]domain.IOPriority{}
	prio.lat = map[int]int{}

	batch := newTestPlanner(prio, cg).Plan(snap, results)
	if len(batch) != 1 {
		t.Fatalf("len(batch) = %d, want 1", len(batch))
	}
	adj := batch[0]
	if adj.IO == nil {
		t.Error("IO = nil, want emitted for unknown observed value")
	} else if *adj.IO != (domain.IOPriority{Class: domain.IOBestEffort, Level: 4}) {
		t.Errorf("IO = %+v", *adj.IO)
	}
	if adj.LatencyNice == nil || *adj.LatencyNice != 0 {
		t.Errorf("LatencyNice = %v, want 0", adj.LatencyNice)
	}
}

func TestPlanSkipsHeldGroups(t *testing.T) {
	snap, prio, cg, results := convergedFixture()
	snap.Processes[0].Nice = 15                  // drifted...
	snap.Processes[0].CgroupPath = "/init.scope" // ...and homed elsewhere
	results["g"] = Result{
		Class:  domain.ClassNormal,
		Reason: "guardrail: system process, leaving unchanged",
		Hold:   true,
	}

	batch := newTestPlanner(prio, cg).Plan(snap, results)
	if len(batch) != 0 {
		t.Fatalf("held group produced %d adjustments: %+v", len(batch), batch)
	}
}

func TestPlanSkipsKernelThreads(t *testing.T) {
	snap, prio, cg, results := convergedFixture()
	snap.Processes = append(snap.Processes, domain.Process{
		PID: 2, GroupID: "g", CgroupPath: "/", Nice: -20,
	})
	snap.Groups[0].PIDs = append(snap.Groups[0].PIDs, 2)

	batch := newTestPlanner(prio, cg).Plan(snap, results)
	for _, adj := range batch {
		if adj.Target.Kind == domain.TargetProcess && adj.Target.PID == 2 {
			t.Errorf("kernel thread got a process adjustment: %+v", adj)
		}
		for _, pid := range adj.MemberPIDs {
			if pid == 2 {
				t.Error("kernel thread listed for cgroup attachment")
			}
		}
	}
}

func TestPlanWeightClampedToConfiguredRange(t *testing.T) {
	snap, prio, cg, results := convergedFixture()
	planner := NewPlanner(PlanOptions{WeightMin: 50, WeightMax: 120,
		MemProtect: true, MemLowBytes: testMemLow}, prio, cg)

	// Idle maps to weight 25, below the floor.
	results["g"] = Result{Class: domain.ClassIdle, Reason: "test"}
	batch := planner.Plan(snap, results)
	if w := findGroupWeight(t, batch, "g"); w != 50 {
		t.Errorf("idle weight = %d, want 50", w)
	}

	// CritInteractive maps to 200, above the ceiling.
	results["g"] = Result{Class: domain.ClassCritInteractive, Reason: "test"}
	batch = planner.Plan(snap, results)
	if w := findGroupWeight(t, batch, "g"); w != 120 {
		t.Errorf("crit weight = %d, want 120", w)
	}
}

func findGroupWeight(t *testing.T, batch []domain.Adjustment, id string) int {
	t.Helper()
	for _, adj := range batch {
		if adj.Target.Kind == domain.TargetGroup && adj.Target.GroupID == id {
			if adj.CPUWeight == nil {
				t.Fatalf("group %q adjustment has no weight: %+v", id, adj)
			}
			return *adj.CPUWeight
		}
	}
	t.Fatalf("no group adjustment for %q in %+v", id, batch)
	return 0
}

func TestPlanRelocatesStrayMembers(t *testing.T) {
	snap, prio, cg, results := convergedFixture()
	snap.Processes[0].CgroupPath = "/user.slice/user-1000.slice/session-2.scope"

	batch := newTestPlanner(prio, cg).Plan(snap, results)
	if len(batch) != 1 {
		t.Fatalf("len(batch) = %d, want 1", len(batch))
	}
	adj := batch[0]
	if adj.Target.Kind != domain.TargetGroup {
		t.Fatalf("Target = %v, want group", adj.Target)
	}
	if len(adj.MemberPIDs) != 1 || adj.MemberPIDs[0] != 100 {
		t.Errorf("MemberPIDs = %v, want [100]", adj.MemberPIDs)
	}
	// Weight and protection already converged: membership is the only work.
	if adj.CPUWeight != nil || adj.MemProtect != nil {
		t.Errorf("converged primitives re-emitted: weight=%v protect=%v", adj.CPUWeight, adj.MemProtect)
	}
}

func TestPlanLatencyHintOmittedWhenUnsupported(t *testing.T) {
	snap, prio, cg, results := convergedFixture()
	prio.latencyOK = false
	prio.lat = map[int]int{} // unreadable too; must still not emit

	batch := newTestPlanner(prio, cg).Plan(snap, results)
	for _, adj := range batch {
		if adj.LatencyNice != nil {
			t.Errorf("LatencyNice emitted without kernel support: %+v", adj)
		}
	}
}

func TestPlanCgroupUnavailableDegradesToProcesses(t *testing.T) {
	snap, prio, cg, results := convergedFixture()
	cg.down = true
	snap.Processes[0].Nice = 10

	batch := newTestPlanner(prio, cg).Plan(snap, results)
	if len(batch) != 1 {
		t.Fatalf("len(batch) = %d, want 1 process adjustment", len(batch))
	}
	if batch[0].Target.Kind != domain.TargetProcess {
		t.Errorf("Target = %v, want process-level only", batch[0].Target)
	}
}

func TestPlanMemoryProtectionTransitions(t *testing.T) {
	snap, prio, cg, results := convergedFixture()

	// Background is unprotected; the stale 256MB low must be cleared.
	results["g"] = Result{Class: domain.ClassBackground, Reason: "test"}
	batch := newTestPlanner(prio, cg).Plan(snap, results)
	adj := findGroupAdjustment(t, batch, "g")
	if adj.MemProtect == nil || *adj.MemProtect {
		t.Errorf("MemProtect = %v, want false emitted", adj.MemProtect)
	}

	// Already unprotected: nothing to clear.
	cg.memLow["g"] = 0
	snap.Processes[0].Nice = 5 // keep the class's nice converged
	prio.io[100] = domain.IOPriority{Class: domain.IOBestEffort, Level: 6}
	prio.lat[100] = 10
	cg.weights["g"] = 50
	batch = newTestPlanner(prio, cg).Plan(snap, results)
	if len(batch) != 0 {
		t.Errorf("converged background group produced %d adjustments: %+v", len(batch), batch)
	}
}

func findGroupAdjustment(t *testing.T, batch []domain.Adjustment, id string) domain.Adjustment {
	t.Helper()
	for _, adj := range batch {
		if adj.Target.Kind == domain.TargetGroup && adj.Target.GroupID == id {
			return adj
		}
	}
	t.Fatalf("no group adjustment for %q in %+v", id, batch)
	return domain.Adjustment{}
}

func TestPlanMemoryProtectionDisabled(t *testing.T) {
	snap, prio, cg, results := convergedFixture()
	// memory.low drifted from Normal's protected state, but management
	// is switched off, so the planner must not touch it.
	cg.memLow["g"] = 0
	planner := NewPlanner(PlanOptions{}, prio, cg)

	batch := planner.Plan(snap, results)
	for _, adj := range batch {
		if adj.MemProtect != nil {
			t.Errorf("MemProtect emitted while disabled: %+v", adj)
		}
	}
}

func TestPlanCarriesClassAndReason(t *testing.T) {
	snap, prio, cg, results := convergedFixture()
	snap.Processes[0].Nice = 19
	results["g"] = Result{Class: domain.ClassBackground, Reason: "semantic: noisy neighbour throttling"}

	batch := newTestPlanner(prio, cg).Plan(snap, results)
	if len(batch) == 0 {
		t.Fatal("empty batch")
	}
	for _, adj := range batch {
		if adj.Class != domain.ClassBackground {
			t.Errorf("Class = %v, want %v", adj.Class, domain.ClassBackground)
		}
		if adj.Reason != "semantic: noisy neighbour throttling" {
			t.Errorf("Reason = %q", adj.Reason)
		}
	}
}
