package policy

import "github.com/silkd/silkd/internal/domain"

// LoadCategory buckets the host-wide load level.
type LoadCategory int

const (
	LoadLow LoadCategory = iota
	LoadNormal
	LoadMedium
	LoadHigh
)

func (c LoadCategory) String() string {
	switch c {
	case LoadLow:
		return "low"
	case LoadNormal:
		return "normal"
	case LoadMedium:
		return "medium"
	case LoadHigh:
		return "high"
	default:
		return "unknown"
	}
}

// LoadInfo is the scaler's view of system load, each term normalized to
// 0..1.
type LoadInfo struct {
	CPUBusy      float64 `json:"cpu_busy"`
	PSICPU       float64 `json:"psi_cpu"`
	PSIIO        float64 `json:"psi_io"`
	PSIMem       float64 `json:"psi_mem"`
	MemUsedRatio float64 `json:"mem_used_ratio"`
	Level        float64 `json:"level"`
}

// LoadFromMetrics condenses global metrics into one load level. CPU busy
// carries the largest weight; pressure terms and memory fill split the
// rest. Hosts without PSI contribute zeros there, so the level leans on
// CPU and memory alone.
func LoadFromMetrics(g domain.GlobalMetrics) LoadInfo {
	info := LoadInfo{
		CPUBusy:      clamp01(1 - g.CPUIdle),
		PSICPU:       clamp01(g.PSICPUSome10),
		PSIIO:        clamp01(g.PSIIOSome10),
		PSIMem:       clamp01(g.PSIMemSome10),
		MemUsedRatio: kbRatio(g.MemUsedKB, g.MemTotalKB),
	}
	info.Level = clamp01(0.4*info.CPUBusy +
		0.2*info.PSICPU +
		0.2*info.PSIIO +
		0.2*info.PSIMem +
		0.2*info.MemUsedRatio)
	return info
}

// Category buckets the load level.
func (l LoadInfo) Category() LoadCategory {
	switch {
	case l.Level >= 0.8:
		return LoadHigh
	case l.Level >= 0.6:
		return LoadMedium
	case l.Level >= 0.4:
		return LoadNormal
	default:
		return LoadLow
	}
}

// Scale demotes one base class for the given load category. Critical
// interactive work is never demoted, and Idle has nowhere lower to go.
// Pure function: debouncing of the resulting changes is the group
// tracker's job, not the scaler's.
func Scale(base domain.PriorityClass, cat LoadCategory) domain.PriorityClass {
	switch cat {
	case LoadMedium:
		switch base {
		case domain.ClassNormal:
			return domain.ClassBackground
		case domain.ClassBackground:
			return domain.ClassIdle
		}
	case LoadHigh:
		switch base {
		case domain.ClassInteractive:
			return domain.ClassNormal
		case domain.ClassNormal:
			return domain.ClassBackground
		case domain.ClassBackground:
			return domain.ClassIdle
		}
	}
	return base
}

// ScaleResults demotes every decided class in place for medium/high load,
// annotating the reason of demoted groups. Held groups stay untouched.
func ScaleResults(results map[string]Result, cat LoadCategory) {
	if cat != LoadMedium && cat != LoadHigh {
		return
	}
	for id, r := range results {
		if r.Hold {
			continue
		}
		scaled := Scale(r.Class, cat)
		if scaled == r.Class {
			continue
		}
		r.Class = scaled
		r.Reason += "; demoted: " + cat.String() + " load"
		results[id] = r
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func kbRatio(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return clamp01(float64(used) / float64(total))
}
