package policy

import "github.com/silkd/silkd/internal/domain"

// PrioObserver reads a process's current scheduling primitives so the
// planner can skip writes that would change nothing. osprio.Controller
// satisfies it.
type PrioObserver interface {
	IOPrio(pid int) (domain.IOPriority, bool)
	LatencyNice(pid int) (int, bool)
	SupportsLatencyNice() bool
}

// CgroupObserver reads current cgroup state for the same purpose.
// cgroup.Manager satisfies it.
type CgroupObserver interface {
	Available() bool
	PathFor(id string) string
	CPUWeight(id string) (int, bool)
	MemoryLow(id string) (uint64, bool)
}

// PlanOptions bound the planner's group-level outputs. Zero values select
// defaults.
type PlanOptions struct {
	// WeightMin and WeightMax clamp class weights to the configured
	// cpu.weight range.
	WeightMin int
	WeightMax int
	// MemProtect enables memory.low management; when false the planner
	// never emits a protection change.
	MemProtect bool
	// MemLowBytes is the protection size written for protected classes.
	// Must match the actuator's value.
	MemLowBytes uint64
}

func (o *PlanOptions) defaults() {
	if o.WeightMin <= 0 {
		o.WeightMin = 1
	}
	if o.WeightMax <= 0 {
		o.WeightMax = 10000
	}
}

// Planner turns decided classes into concrete adjustments. It emits only
// primitives whose observed value differs from the class target, so a
// converged system plans an empty batch.
type Planner struct {
	opts PlanOptions
	prio PrioObserver
	cg   CgroupObserver
}

// NewPlanner builds a planner over the given observers.
func NewPlanner(opts PlanOptions, prio PrioObserver, cg CgroupObserver) *Planner {
	opts.defaults()
	return &Planner{opts: opts, prio: prio, cg: cg}
}

// Plan maps per-group results to adjustments: one group adjustment
// (weight, memory protection, membership) and one process adjustment per
// member whose primitives drift from the class. Held groups are skipped
// entirely. Iterates snapshot order, so output order is deterministic.
func (p *Planner) Plan(snap *domain.Snapshot, results map[string]Result) []domain.Adjustment {
	var out []domain.Adjustment
	for i := range snap.Groups {
		g := &snap.Groups[i]
		r, ok := results[g.ID]
		if !ok || r.Hold {
			continue
		}
		members := snap.GroupProcesses(g.ID)
		if adj := p.planGroup(g, r, members); adj.HasWork() {
			out = append(out, adj)
		}
		params := r.Class.Params()
		for _, m := range members {
			if isKernelThread(&m) {
				continue
			}
			if adj := p.planProcess(&m, r, params); adj.HasWork() {
				out = append(out, adj)
			}
		}
	}
	return out
}

func (p *Planner) planGroup(g *domain.AppGroup, r Result, members []domain.Process) domain.Adjustment {
	adj := domain.Adjustment{
		Target: domain.GroupTarget(g.ID),
		Class:  r.Class,
		Reason: r.Reason,
	}
	if !p.cg.Available() {
		return adj
	}

	params := r.Class.Params()
	weight := clampInt(params.CPUWeight, p.opts.WeightMin, p.opts.WeightMax)
	if cur, ok := p.cg.CPUWeight(g.ID); !ok || cur != weight {
		adj.CPUWeight = &weight
	}

	if p.opts.MemProtect {
		var wantLow uint64
		if params.MemProtected {
			wantLow = p.opts.MemLowBytes
		}
		if cur, ok := p.cg.MemoryLow(g.ID); !ok || cur != wantLow {
			protect := params.MemProtected
			adj.MemProtect = &protect
		}
	}

	home := p.cg.PathFor(g.ID)
	for _, m := range members {
		if isKernelThread(&m) {
			continue
		}
		if m.CgroupPath != home {
			adj.MemberPIDs = append(adj.MemberPIDs, m.PID)
		}
	}
	return adj
}

func (p *Planner) planProcess(m *domain.Process, r Result, params domain.ClassParams) domain.Adjustment {
	adj := domain.Adjustment{
		Target: domain.ProcessTarget(m.PID),
		Class:  r.Class,
		Reason: r.Reason,
	}
	if m.Nice != params.Nice {
		nice := params.Nice
		adj.Nice = &nice
	}
	if cur, ok := p.prio.IOPrio(m.PID); !ok || cur != params.IO {
		io := params.IO
		adj.IO = &io
	}
	if p.prio.SupportsLatencyNice() {
		if cur, ok := p.prio.LatencyNice(m.PID); !ok || cur != params.LatencyNice {
			lat := params.LatencyNice
			adj.LatencyNice = &lat
		}
	}
	return adj
}

// isKernelThread recognizes kthreads by their empty exe and cmdline.
// Renicing them is pointless and attaching them to a cgroup fails.
func isKernelThread(p *domain.Process) bool {
	return p.Exe == "" && p.Cmdline == ""
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
