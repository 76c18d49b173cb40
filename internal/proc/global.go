package proc

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/silkd/silkd/internal/domain"
)

// cpuTimes is the jiffy breakdown of the aggregate "cpu" line in
// /proc/stat.
type cpuTimes struct {
	user, nice, system, idle uint64
	iowait, irq, softirq     uint64
	steal                    uint64
}

func (t cpuTimes) total() uint64 {
	return t.user + t.nice + t.system + t.idle + t.iowait + t.irq + t.softirq + t.steal
}

func parseCPULine(line string) (cpuTimes, bool) {
	fields := strings.Fields(line)
	if len(fields) < 8 || fields[0] != "cpu" {
		return cpuTimes{}, false
	}
	var vals [8]uint64
	for i := range vals {
		v, err := strconv.ParseUint(fields[i+1], 10, 64)
		if err != nil {
			return cpuTimes{}, false
		}
		vals[i] = v
	}
	return cpuTimes{
		user: vals[0], nice: vals[1], system: vals[2], idle: vals[3],
		iowait: vals[4], irq: vals[5], softirq: vals[6], steal: vals[7],
	}, true
}

// readGlobal assembles the host-wide metrics and returns the jiffy window
// elapsed since the previous scan, which drives per-process CPU shares.
func (c *Collector) readGlobal() (domain.GlobalMetrics, uint64, error) {
	var g domain.GlobalMetrics

	data, err := os.ReadFile(filepath.Join(c.opts.ProcRoot, "stat"))
	if err != nil {
		return g, 0, fmt.Errorf("read cpu stat: %w", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	cur, ok := parseCPULine(line)
	if !ok {
		return g, 0, fmt.Errorf("read cpu stat: malformed line %q", line)
	}

	prev := c.prevCPU
	c.prevCPU = cur
	window := cur.total() - prev.total()
	if window > 0 {
		g.CPUUser = float64(cur.user+cur.nice-prev.user-prev.nice) / float64(window)
		g.CPUSystem = float64(cur.system+cur.irq+cur.softirq-prev.system-prev.irq-prev.softirq) / float64(window)
		g.CPUIdle = float64(cur.idle-prev.idle) / float64(window)
		g.CPUIOWait = float64(cur.iowait-prev.iowait) / float64(window)
	}

	c.readMeminfo(&g)
	c.readLoadAvg(&g)
	g.PSICPUSome10, g.PSICPUSome60 = c.readPSI("cpu")
	g.PSIIOSome10, _ = c.readPSI("io")
	g.PSIMemSome10, _ = c.readPSI("memory")

	age := c.inputAge()
	g.TimeSinceInputMS = uint64(age.Milliseconds())
	g.UserActive = age < c.opts.IdleTimeout

	return g, window, nil
}

func (c *Collector) readMeminfo(g *domain.GlobalMetrics) {
	data, err := os.ReadFile(filepath.Join(c.opts.ProcRoot, "meminfo"))
	if err != nil {
		return
	}
	var swapFree uint64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			g.MemTotalKB = v
		case "MemAvailable:":
			g.MemAvailableKB = v
		case "SwapTotal:":
			g.SwapTotalKB = v
		case "SwapFree:":
			swapFree = v
		}
	}
	if g.MemTotalKB >= g.MemAvailableKB {
		g.MemUsedKB = g.MemTotalKB - g.MemAvailableKB
	}
	if g.SwapTotalKB >= swapFree {
		g.SwapUsedKB = g.SwapTotalKB - swapFree
	}
}

func (c *Collector) readLoadAvg(g *domain.GlobalMetrics) {
	data, err := os.ReadFile(filepath.Join(c.opts.ProcRoot, "loadavg"))
	if err != nil {
		return
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return
	}
	g.LoadAvg1, _ = strconv.ParseFloat(fields[0], 64)
	g.LoadAvg5, _ = strconv.ParseFloat(fields[1], 64)
	g.LoadAvg15, _ = strconv.ParseFloat(fields[2], 64)
}

// readPSI parses /proc/pressure/<resource>. Kernel values are percentages;
// both returns are normalized to 0..1 and zero when PSI is unavailable.
func (c *Collector) readPSI(resource string) (some10, some60 float64) {
	data, err := os.ReadFile(filepath.Join(c.opts.ProcRoot, "pressure", resource))
	if err != nil {
		return 0, 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "some ") {
			continue
		}
		for _, field := range strings.Fields(line)[1:] {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				continue
			}
			switch key {
			case "avg10":
				some10 = v / 100
			case "avg60":
				some60 = v / 100
			}
		}
		break
	}
	return some10, some60
}

// inputAge estimates time since the last user input from the framebuffer
// device's modification time. Crude, but needs no display-server link;
// absence of the device reads as "active" so a headless box is never
// treated as abandoned by mistake.
func (c *Collector) inputAge() time.Duration {
	info, err := os.Stat(filepath.Join(c.opts.SysRoot, "class/graphics/fb0"))
	if err != nil {
		return 0
	}
	age := time.Since(info.ModTime())
	if age < 0 {
		return 0
	}
	return age
}

// responsiveness derives the interactivity health signals from pressure
// data. Scheduler latency percentiles need a perf-events reader and stay
// zero until one exists.
func (c *Collector) responsiveness(g domain.GlobalMetrics) domain.Responsiveness {
	r := domain.Responsiveness{
		Bad: g.PSICPUSome10 > c.opts.PSICPUBad || g.PSIIOSome10 > c.opts.PSIIOBad,
	}
	worst := g.PSICPUSome10
	if g.PSIIOSome10 > worst {
		worst = g.PSIIOSome10
	}
	if g.PSIMemSome10 > worst {
		worst = g.PSIMemSome10
	}
	r.Score = 1 - worst
	if r.Score < 0 {
		r.Score = 0
	}
	return r
}
