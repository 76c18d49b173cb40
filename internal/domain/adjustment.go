package domain

import (
	"fmt"
	"time"
)

// ─── Targets ────────────────────────────────────────────────────────────────

// TargetKind distinguishes process-level from group-level adjustments.
type TargetKind int

const (
	TargetProcess TargetKind = iota
	TargetGroup
)

// String returns the kind label used in logs and the decision log.
func (k TargetKind) String() string {
	switch k {
	case TargetProcess:
		return "process"
	case TargetGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Target identifies what an adjustment acts on: a single PID or an
// application group.
type Target struct {
	Kind    TargetKind `json:"kind"`
	PID     int        `json:"pid,omitempty"`
	GroupID string     `json:"group_id,omitempty"`
}

// ProcessTarget builds a process-level target.
func ProcessTarget(pid int) Target { return Target{Kind: TargetProcess, PID: pid} }

// GroupTarget builds a group-level target.
func GroupTarget(id string) Target { return Target{Kind: TargetGroup, GroupID: id} }

// String returns a compact log form like "pid:4312" or "group:cg:/user.slice/...".
func (t Target) String() string {
	if t.Kind == TargetGroup {
		return "group:" + t.GroupID
	}
	return fmt.Sprintf("pid:%d", t.PID)
}

// ─── Adjustments ────────────────────────────────────────────────────────────

// Adjustment is one desired priority change for one target, produced fresh
// every control-loop iteration and never persisted. Nil primitive fields mean
// "do not touch that primitive this pass".
type Adjustment struct {
	Target Target
	Class  PriorityClass
	Reason string

	// Process-level primitives.
	Nice        *int
	IO          *IOPriority
	LatencyNice *int

	// Group-level primitives.
	CPUWeight  *int
	MemProtect *bool
	MemberPIDs []int // PIDs that must be members of the group's cgroup
}

// HasWork reports whether the adjustment carries at least one primitive
// to apply.
func (a Adjustment) HasWork() bool {
	return a.Nice != nil || a.IO != nil || a.LatencyNice != nil ||
		a.CPUWeight != nil || a.MemProtect != nil || len(a.MemberPIDs) > 0
}

// ─── Outcomes ───────────────────────────────────────────────────────────────

// ApplyError describes one failed sub-mutation: which target, which
// primitive, and why.
type ApplyError struct {
	Target Target `json:"target"`
	Op     string `json:"op"`
	Err    error  `json:"-"`
}

// String renders the failure for logs and the decision log.
func (e ApplyError) String() string {
	return fmt.Sprintf("%s %s: %v", e.Target, e.Op, e.Err)
}

// ApplyOutcome summarizes one actuator pass over a batch of adjustments.
// Transient: consumed by the control loop for logging, metrics, and the
// decision log.
type ApplyOutcome struct {
	Applied  int          `json:"applied"`
	Skipped  int          `json:"skipped_by_hysteresis"`
	Failures []ApplyError `json:"failures,omitempty"`

	// SkippedTargets lists the targets debounced this pass, so the
	// decision log can attribute outcomes per target.
	SkippedTargets []Target `json:"skipped_targets,omitempty"`
}

// ErrorCount returns the number of failed sub-mutations in the pass.
func (o ApplyOutcome) ErrorCount() int { return len(o.Failures) }

// ─── Change Records ─────────────────────────────────────────────────────────

// ChangeRecord is the per-target history a hysteresis tracker keeps: the
// last successfully applied class and when it was applied.
type ChangeRecord struct {
	Class     PriorityClass `json:"class"`
	ChangedAt time.Time     `json:"changed_at"`
}
