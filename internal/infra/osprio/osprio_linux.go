package osprio

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/silkd/silkd/internal/domain"
)

// Constants from linux/ioprio.h. The priority value packs the class into
// the top bits and the level into the bottom 13.
const (
	ioprioClassShift = 13
	ioprioPrioMask   = (1 << ioprioClassShift) - 1
	ioprioWhoProcess = 1
)

// sched_attr flags. The keep flags turn a setattr into a partial update;
// the latency flag is the extension bit kernels without the latency hint
// reject with EINVAL.
const (
	schedFlagKeepPolicy  = 0x08
	schedFlagKeepParams  = 0x10
	schedFlagLatencyNice = 0x80
)

// schedAttr mirrors the kernel's struct sched_attr including the trailing
// latency hint field. Field order and widths must match the ABI exactly.
type schedAttr struct {
	size        uint32
	policy      uint32
	flags       uint64
	nice        int32
	priority    uint32
	runtime     uint64
	deadline    uint64
	period      uint64
	utilMin     uint32
	utilMax     uint32
	latencyNice int32
}

// linuxController talks to the kernel directly. Zero value is ready to use.
type linuxController struct {
	probeOnce      sync.Once
	latencySupport bool
}

// New returns the platform controller.
func New() Controller {
	return &linuxController{}
}

// ─── Nice ───────────────────────────────────────────────────────────────────

func (c *linuxController) SetNice(pid, value int) error {
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, value); err != nil {
		return fmt.Errorf("setpriority pid %d to %d: %w", pid, value, mapErrno(err))
	}
	return nil
}

// ─── IO Priority ────────────────────────────────────────────────────────────

func (c *linuxController) SetIOPrio(pid int, prio domain.IOPriority) error {
	value := uintptr(prio.Class)<<ioprioClassShift | uintptr(prio.Level)&ioprioPrioMask
	_, _, errno := unix.Syscall(unix.SYS_IOPRIO_SET,
		uintptr(ioprioWhoProcess), uintptr(pid), value)
	if errno != 0 {
		return fmt.Errorf("ioprio_set pid %d to %s/%d: %w", pid, prio.Class, prio.Level, mapErrno(errno))
	}
	return nil
}

func (c *linuxController) IOPrio(pid int) (domain.IOPriority, bool) {
	res, _, errno := unix.Syscall(unix.SYS_IOPRIO_GET,
		uintptr(ioprioWhoProcess), uintptr(pid), 0)
	if errno != 0 {
		return domain.IOPriority{}, false
	}
	class := domain.IOClass(res >> ioprioClassShift)
	if class == 0 {
		// Class "none": the process inherits from its nice value, so the
		// effective priority is unknown here.
		return domain.IOPriority{}, false
	}
	return domain.IOPriority{Class: class, Level: int(res & ioprioPrioMask)}, true
}

// ─── Scheduler Latency Hint ─────────────────────────────────────────────────

func (c *linuxController) SetLatencyNice(pid, value int) error {
	// Without the keep flags sched_setattr would also reset the target's
	// policy and nice to this struct's zero values.
	attr := schedAttr{
		size:        uint32(unsafe.Sizeof(schedAttr{})),
		flags:       schedFlagKeepPolicy | schedFlagKeepParams | schedFlagLatencyNice,
		latencyNice: int32(value),
	}
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETATTR,
		uintptr(pid), uintptr(unsafe.Pointer(&attr)), 0)
	if errno != 0 {
		return fmt.Errorf("sched_setattr pid %d latency %d: %w", pid, value, mapErrno(errno))
	}
	return nil
}

func (c *linuxController) LatencyNice(pid int) (int, bool) {
	if !c.SupportsLatencyNice() {
		return 0, false
	}
	var attr schedAttr
	_, _, errno := unix.Syscall6(unix.SYS_SCHED_GETATTR,
		uintptr(pid), uintptr(unsafe.Pointer(&attr)),
		unsafe.Sizeof(attr), 0, 0, 0)
	if errno != 0 {
		return 0, false
	}
	return int(attr.latencyNice), true
}

func (c *linuxController) SupportsLatencyNice() bool {
	c.probeOnce.Do(func() {
		// Re-apply our own current hint. Kernels without the latency
		// extension reject the unknown flag with EINVAL; the keep flags
		// leave policy and nice alone either way.
		var cur schedAttr
		_, _, errno := unix.Syscall6(unix.SYS_SCHED_GETATTR,
			uintptr(os.Getpid()), uintptr(unsafe.Pointer(&cur)),
			unsafe.Sizeof(cur), 0, 0, 0)
		if errno != 0 {
			return
		}
		attr := schedAttr{
			size:        uint32(unsafe.Sizeof(schedAttr{})),
			flags:       schedFlagKeepPolicy | schedFlagKeepParams | schedFlagLatencyNice,
			latencyNice: cur.latencyNice,
		}
		_, _, errno = unix.Syscall(unix.SYS_SCHED_SETATTR,
			uintptr(os.Getpid()), uintptr(unsafe.Pointer(&attr)), 0)
		c.latencySupport = errno == 0
	})
	return c.latencySupport
}

// mapErrno folds process-gone errnos into the domain sentinel so callers
// can classify failures without inspecting raw errnos.
func mapErrno(err error) error {
	switch err {
	case unix.ESRCH:
		return domain.ErrTargetVanished
	case unix.EPERM, unix.EACCES:
		return fmt.Errorf("%w: %v", domain.ErrNotPermitted, err)
	default:
		return err
	}
}
