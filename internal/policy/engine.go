// Package policy decides the target priority class for every application
// group in a snapshot. Hard guardrails run first and cannot be overridden,
// then semantic rules keyed on focus, tags, and activity; the dynamic
// scaler demotes the results under load and the planner turns them into
// concrete adjustments.
package policy

import (
	"strings"
	"time"

	"github.com/silkd/silkd/internal/domain"
)

// Params are the rule thresholds. Zero values select defaults.
type Params struct {
	// UserIdleTimeout bounds how recent the last input must be for a
	// terminal group to count as actively used.
	UserIdleTimeout time.Duration
	// NoisyCPUShare is the group CPU share above which an unfocused
	// group is a throttling candidate while responsiveness is bad.
	NoisyCPUShare float64
}

func (p *Params) defaults() {
	if p.UserIdleTimeout <= 0 {
		p.UserIdleTimeout = 2 * time.Minute
	}
	if p.NoisyCPUShare == 0 {
		p.NoisyCPUShare = 0.7
	}
}

// Result is the decided class for one group, the rule that chose it, and
// whether the group must be left exactly as the OS has it.
type Result struct {
	Class  domain.PriorityClass
	Reason string
	// Hold marks groups the daemon must not touch at all: no process
	// mutations, no cgroup relocation. Set by the system-process
	// guardrail.
	Hold bool
}

// Engine evaluates guardrails and semantic rules over a snapshot.
type Engine struct {
	params Params
}

// NewEngine builds an engine with the given thresholds.
func NewEngine(params Params) *Engine {
	params.defaults()
	return &Engine{params: params}
}

// Evaluate decides a class for every group in the snapshot.
func (e *Engine) Evaluate(snap *domain.Snapshot) map[string]Result {
	results := make(map[string]Result, len(snap.Groups))
	for i := range snap.Groups {
		g := &snap.Groups[i]
		results[g.ID] = e.evaluateGroup(g, snap)
	}
	return results
}

func (e *Engine) evaluateGroup(g *domain.AppGroup, snap *domain.Snapshot) Result {
	if r, ok := e.guardrails(g, snap); ok {
		return r
	}
	if r, ok := e.semanticRules(g, snap); ok {
		return r
	}
	return Result{Class: domain.ClassNormal, Reason: "default: no rules matched"}
}

// guardrails are the rules that always win.
func (e *Engine) guardrails(g *domain.AppGroup, snap *domain.Snapshot) (Result, bool) {
	if isSystemGroup(g, snap) {
		return Result{
			Class:  domain.ClassNormal,
			Reason: "guardrail: system process, leaving unchanged",
			Hold:   true,
		}, true
	}
	if snap.Responsiveness.AudioXrunsDelta > 0 && hasActiveAudio(g, snap) {
		return Result{
			Class:  domain.ClassInteractive,
			Reason: "guardrail: audio client with XRUN, protecting",
		}, true
	}
	return Result{}, false
}

func (e *Engine) semanticRules(g *domain.AppGroup, snap *domain.Snapshot) (Result, bool) {
	// Most specific first: focus plus realtime-sensitive workload.
	if g.IsFocused && (hasActiveAudio(g, snap) || g.HasTag("game")) {
		return Result{
			Class:  domain.ClassCritInteractive,
			Reason: "semantic: focused group with audio/game",
		}, true
	}
	if g.IsFocused && g.HasGUIWindow {
		return Result{
			Class:  domain.ClassInteractive,
			Reason: "semantic: focused GUI group",
		}, true
	}
	if e.isActiveTerminal(g, snap) {
		return Result{
			Class:  domain.ClassInteractive,
			Reason: "semantic: active terminal with recent input",
		}, true
	}
	if snap.Global.UserActive && isMaintenanceWork(g) {
		return Result{
			Class:  domain.ClassBackground,
			Reason: "semantic: updater/indexer with active user",
		}, true
	}
	if snap.Responsiveness.Bad && e.isNoisyNeighbour(g) {
		return Result{
			Class:  domain.ClassBackground,
			Reason: "semantic: noisy neighbour throttling",
		}, true
	}
	return Result{}, false
}

// isSystemGroup reports whether any member looks like core system
// machinery that the daemon must never reprioritize or relocate.
func isSystemGroup(g *domain.AppGroup, snap *domain.Snapshot) bool {
	for i := range snap.Processes {
		p := &snap.Processes[i]
		if p.GroupID != g.ID {
			continue
		}
		exe := strings.ToLower(p.Exe)
		if exe != "" {
			if strings.Contains(exe, "systemd") ||
				strings.Contains(exe, "journald") ||
				strings.Contains(exe, "udevd") ||
				strings.Contains(exe, "kernel") {
				return true
			}
		}
		if isKernelThread(p) {
			return true
		}
		if strings.HasPrefix(p.CgroupPath, "/system.slice") || strings.HasPrefix(p.CgroupPath, "/init.scope") {
			if strings.Contains(p.CgroupPath, "systemd") ||
				strings.Contains(p.CgroupPath, "kernel") ||
				strings.HasPrefix(p.CgroupPath, "/init.scope") {
				return true
			}
		}
	}
	return false
}

func hasActiveAudio(g *domain.AppGroup, snap *domain.Snapshot) bool {
	for i := range snap.Processes {
		p := &snap.Processes[i]
		if p.GroupID == g.ID && p.IsAudioClient && p.HasActiveStream {
			return true
		}
	}
	return false
}

func (e *Engine) isActiveTerminal(g *domain.AppGroup, snap *domain.Snapshot) bool {
	if !snap.Global.UserActive {
		return false
	}
	if ms := snap.Global.TimeSinceInputMS; ms > uint64(e.params.UserIdleTimeout.Milliseconds()) {
		return false
	}
	for i := range snap.Processes {
		p := &snap.Processes[i]
		if p.GroupID == g.ID && p.HasTTY && p.EnvTerm != "" {
			return true
		}
	}
	return false
}

func isMaintenanceWork(g *domain.AppGroup) bool {
	return g.HasTag("updater") || g.HasTag("indexer") || g.HasTag("maintenance")
}

func (e *Engine) isNoisyNeighbour(g *domain.AppGroup) bool {
	return g.TotalCPUShare > e.params.NoisyCPUShare && !g.IsFocused
}
