// Package proc collects the per-iteration system snapshot from procfs:
// the process table, host-wide load and pressure metrics, and the grouping
// of processes into application groups.
package proc

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/silkd/silkd/internal/domain"
)

// Options tune the collector. Zero values select production defaults.
type Options struct {
	ProcRoot string // procfs mount, default /proc
	SysRoot  string // sysfs mount, default /sys
	// IdleTimeout is how long without input activity counts the user as
	// away; feeds GlobalMetrics.UserActive.
	IdleTimeout time.Duration
	// PSICPUBad and PSIIOBad are the pressure levels above which the
	// responsiveness guardrails consider the host unhealthy.
	PSICPUBad float64
	PSIIOBad  float64
}

func (o *Options) defaults() {
	if o.ProcRoot == "" {
		o.ProcRoot = "/proc"
	}
	if o.SysRoot == "" {
		o.SysRoot = "/sys"
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 2 * time.Minute
	}
	if o.PSICPUBad == 0 {
		o.PSICPUBad = 0.6
	}
	if o.PSIIOBad == 0 {
		o.PSIIOBad = 0.4
	}
}

// Collector scans procfs. It keeps the previous iteration's jiffy counts
// so per-process CPU shares are deltas over the loop interval rather than
// lifetime averages.
type Collector struct {
	opts Options

	numCPU          int
	prevCPU         cpuTimes
	prevProcJiffies map[int]uint64
}

// NewCollector builds a collector with the given options.
func NewCollector(opts Options) *Collector {
	opts.defaults()
	return &Collector{
		opts:            opts,
		numCPU:          runtime.NumCPU(),
		prevProcJiffies: make(map[int]uint64),
	}
}

// Scan reads one full snapshot: global metrics plus every parseable
// process. Individual unreadable processes (exited mid-scan, permission
// denied) are skipped, never fatal.
func (c *Collector) Scan() (*domain.Snapshot, error) {
	snap := &domain.Snapshot{Taken: time.Now()}

	global, jiffyWindow, err := c.readGlobal()
	if err != nil {
		return nil, err
	}
	snap.Global = global
	snap.Responsiveness = c.responsiveness(global)

	entries, err := os.ReadDir(c.opts.ProcRoot)
	if err != nil {
		return nil, err
	}

	perCPUWindow := float64(jiffyWindow) / float64(c.numCPU)

	seen := make(map[int]uint64, len(c.prevProcJiffies))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		p, jiffies, ok := c.readProcess(pid)
		if !ok {
			continue
		}
		seen[pid] = jiffies

		if prev, known := c.prevProcJiffies[pid]; known && perCPUWindow > 0 && jiffies >= prev {
			share := float64(jiffies-prev) / perCPUWindow
			if share > 1 {
				share = 1
			}
			p.CPUShare = share
		}
		snap.Processes = append(snap.Processes, p)
	}

	c.prevProcJiffies = seen
	return snap, nil
}

// readProcess parses one /proc/<pid> subtree into a Process. The second
// return is utime+stime jiffies for CPU share deltas.
func (c *Collector) readProcess(pid int) (domain.Process, uint64, bool) {
	dir := filepath.Join(c.opts.ProcRoot, strconv.Itoa(pid))

	statData, err := os.ReadFile(filepath.Join(dir, "stat"))
	if err != nil {
		return domain.Process{}, 0, false
	}
	p, jiffies, ok := parseStat(string(statData))
	if !ok {
		log.WithFields(log.Fields{"pid": pid}).Debug("unparseable stat line")
		return domain.Process{}, 0, false
	}
	p.PID = pid

	if exe, err := os.Readlink(filepath.Join(dir, "exe")); err == nil {
		p.Exe = exe
	}
	if data, err := os.ReadFile(filepath.Join(dir, "cmdline")); err == nil {
		p.Cmdline = strings.TrimSpace(strings.ReplaceAll(string(data), "\x00", " "))
	}
	if path, ok := parseCgroupV2(readFileString(filepath.Join(dir, "cgroup"))); ok {
		p.CgroupPath = path
	}
	c.readStatus(filepath.Join(dir, "status"), &p)
	c.readIO(filepath.Join(dir, "io"), &p)
	c.readEnviron(filepath.Join(dir, "environ"), &p)

	return p, jiffies, true
}

// parseStat parses /proc/<pid>/stat. The comm field may itself contain
// spaces and parentheses, so fields are split after the last ')'.
func parseStat(line string) (domain.Process, uint64, bool) {
	var p domain.Process

	start := strings.IndexByte(line, '(')
	end := strings.LastIndexByte(line, ')')
	if start < 0 || end < 0 || end < start {
		return p, 0, false
	}
	p.Comm = line[start+1 : end]

	fields := strings.Fields(line[end+1:])
	// fields[0] = state (field 3 of stat); indices below are offsets from
	// there: ppid=1, tty_nr=4, utime=11, stime=12, nice=16, starttime=19.
	if len(fields) < 20 {
		return p, 0, false
	}
	p.State = fields[0]
	p.PPID, _ = strconv.Atoi(fields[1])
	p.TTYNr, _ = strconv.Atoi(fields[4])
	p.HasTTY = p.TTYNr != 0
	utime, _ := strconv.ParseUint(fields[11], 10, 64)
	stime, _ := strconv.ParseUint(fields[12], 10, 64)
	p.Nice, _ = strconv.Atoi(fields[16])
	p.StartTime, _ = strconv.ParseUint(fields[19], 10, 64)

	return p, utime + stime, true
}

// readStatus pulls Uid and VmRSS out of /proc/<pid>/status.
func (c *Collector) readStatus(path string, p *domain.Process) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case strings.HasPrefix(line, "Uid:"):
			if f := strings.Fields(line); len(f) >= 2 {
				uid, _ := strconv.ParseUint(f[1], 10, 32)
				p.UID = uint32(uid)
			}
		case strings.HasPrefix(line, "VmRSS:"):
			if f := strings.Fields(line); len(f) >= 2 {
				p.RSSKB, _ = strconv.ParseUint(f[1], 10, 64)
			}
		}
	}
}

// readIO pulls read_bytes/write_bytes from /proc/<pid>/io; readable only
// for same-uid or with CAP_SYS_PTRACE, so absence is normal.
func (c *Collector) readIO(path string, p *domain.Process) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		if v, ok := strings.CutPrefix(line, "read_bytes: "); ok {
			p.IOReadBytes, _ = strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		}
		if v, ok := strings.CutPrefix(line, "write_bytes: "); ok {
			p.IOWriteBytes, _ = strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		}
	}
}

// readEnviron extracts the display/terminal/ssh hints from the process
// environment.
func (c *Collector) readEnviron(path string, p *domain.Process) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, entry := range strings.Split(string(data), "\x00") {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		switch key {
		case "TERM":
			p.EnvTerm = value
		case "DISPLAY":
			p.EnvHasDisplay = value != ""
		case "WAYLAND_DISPLAY":
			p.EnvHasWayland = value != ""
		case "SSH_CONNECTION", "SSH_CLIENT":
			p.EnvSSH = true
		}
	}
	// Display access is the closest procfs-only signal for "owns a GUI
	// window"; compositor integration refines this upstream.
	p.HasGUIWindow = p.EnvHasDisplay || p.EnvHasWayland
}

// parseCgroupV2 extracts the unified-hierarchy path from a
// /proc/<pid>/cgroup payload ("0::/user.slice/...").
func parseCgroupV2(content string) (string, bool) {
	for _, line := range strings.Split(content, "\n") {
		if path, ok := strings.CutPrefix(line, "0::"); ok && path != "" {
			return path, true
		}
	}
	return "", false
}

func readFileString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
