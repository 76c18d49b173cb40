package domain

import "time"

// ─── Per-Process Observation ────────────────────────────────────────────────

// Process is one observed process as collected from /proc plus enrichment
// from the classifier (Type, Tags) and the grouper (GroupID).
type Process struct {
	PID        int    `json:"pid"`
	PPID       int    `json:"ppid"`
	UID        uint32 `json:"uid"`
	Exe        string `json:"exe,omitempty"`
	Comm       string `json:"comm,omitempty"`
	Cmdline    string `json:"cmdline,omitempty"`
	CgroupPath string `json:"cgroup_path,omitempty"`
	GroupID    string `json:"group_id,omitempty"`

	State     string `json:"state"`
	StartTime uint64 `json:"start_time"`
	TTYNr     int    `json:"tty_nr"`
	HasTTY    bool   `json:"has_tty"`

	CPUShare     float64 `json:"cpu_share"` // share of one CPU over the last window, 0..1
	IOReadBytes  uint64  `json:"io_read_bytes"`
	IOWriteBytes uint64  `json:"io_write_bytes"`
	RSSKB        uint64  `json:"rss_kb"`
	Nice         int     `json:"nice"`

	HasGUIWindow    bool   `json:"has_gui_window"`
	IsFocusedWindow bool   `json:"is_focused_window"`
	EnvTerm         string `json:"env_term,omitempty"`
	EnvHasDisplay   bool   `json:"env_has_display"`
	EnvHasWayland   bool   `json:"env_has_wayland"`
	EnvSSH          bool   `json:"env_ssh"`
	IsAudioClient   bool   `json:"is_audio_client"`
	HasActiveStream bool   `json:"has_active_stream"`

	Type string   `json:"type,omitempty"`
	Tags []string `json:"tags,omitempty"`
}

// HasTag reports whether the process carries the given classifier tag.
func (p Process) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ─── Application Groups ─────────────────────────────────────────────────────

// AppGroup is a set of related processes treated as one unit for
// coarse-grained (cgroup) resource control. IDs are stable across
// iterations for as long as the group lives.
type AppGroup struct {
	ID      string `json:"id"`
	RootPID int    `json:"root_pid"`
	PIDs    []int  `json:"pids"`
	AppName string `json:"app_name,omitempty"`

	TotalCPUShare     float64 `json:"total_cpu_share"` // max member share, not a sum
	TotalIOReadBytes  uint64  `json:"total_io_read_bytes"`
	TotalIOWriteBytes uint64  `json:"total_io_write_bytes"`
	TotalRSSKB        uint64  `json:"total_rss_kb"`

	HasGUIWindow bool     `json:"has_gui_window"`
	IsFocused    bool     `json:"is_focused"`
	Tags         []string `json:"tags,omitempty"`
}

// HasTag reports whether any member process contributed the given tag.
func (g AppGroup) HasTag(tag string) bool {
	for _, t := range g.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ─── System-Wide Metrics ────────────────────────────────────────────────────

// GlobalMetrics is the host-wide load picture for one iteration. PSI values
// are normalized to 0..1 and zero when the kernel does not expose them.
type GlobalMetrics struct {
	CPUUser   float64 `json:"cpu_user"`
	CPUSystem float64 `json:"cpu_system"`
	CPUIdle   float64 `json:"cpu_idle"`
	CPUIOWait float64 `json:"cpu_iowait"`

	MemTotalKB     uint64 `json:"mem_total_kb"`
	MemUsedKB      uint64 `json:"mem_used_kb"`
	MemAvailableKB uint64 `json:"mem_available_kb"`
	SwapTotalKB    uint64 `json:"swap_total_kb"`
	SwapUsedKB     uint64 `json:"swap_used_kb"`

	LoadAvg1  float64 `json:"load_avg_1"`
	LoadAvg5  float64 `json:"load_avg_5"`
	LoadAvg15 float64 `json:"load_avg_15"`

	PSICPUSome10 float64 `json:"psi_cpu_some_10"`
	PSICPUSome60 float64 `json:"psi_cpu_some_60"`
	PSIIOSome10  float64 `json:"psi_io_some_10"`
	PSIMemSome10 float64 `json:"psi_mem_some_10"`

	UserActive       bool   `json:"user_active"`
	TimeSinceInputMS uint64 `json:"time_since_input_ms"` // 0 when unknown
}

// Responsiveness aggregates the interactivity health signals the policy
// engine's guardrails react to.
type Responsiveness struct {
	SchedLatencyP95MS float64 `json:"sched_latency_p95_ms"`
	SchedLatencyP99MS float64 `json:"sched_latency_p99_ms"`
	AudioXrunsDelta   uint64  `json:"audio_xruns_delta"`
	Bad               bool    `json:"bad"`
	Score             float64 `json:"score"`
}

// Snapshot is everything observed in one collection pass.
type Snapshot struct {
	Taken          time.Time      `json:"taken"`
	Global         GlobalMetrics  `json:"global"`
	Processes      []Process      `json:"processes"`
	Groups         []AppGroup     `json:"groups"`
	Responsiveness Responsiveness `json:"responsiveness"`
}

// GroupProcesses returns the member processes of the given group.
func (s *Snapshot) GroupProcesses(groupID string) []Process {
	var out []Process
	for _, p := range s.Processes {
		if p.GroupID == groupID {
			out = append(out, p)
		}
	}
	return out
}
