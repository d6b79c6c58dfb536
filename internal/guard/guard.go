package guard

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/shirou/gopsutil/v3/process"
)

// ResourceSample 进程内存采样
type ResourceSample struct {
	// ResidentBytes is the process RSS at sampling time.
	ResidentBytes uint64
}

// Guard decides when the batch processor should reclaim memory or recycle
// its engine handle. It is a policy object: it never allocates or frees
// anything itself, which keeps the thresholds swappable and unit-testable
// apart from the orchestration loop.
type Guard interface {
	Sample() (ResourceSample, error)
	ShouldReclaim(sample ResourceSample, thresholdBytes uint64) bool
	ShouldRecycleHandle(itemsProcessedInChunk, chunkSize int) bool
	Reclaim()
}

// ProcessGuard samples the current process via gopsutil.
type ProcessGuard struct {
	proc *process.Process
}

func NewProcessGuard() (*ProcessGuard, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open process for sampling: %w", err)
	}
	return &ProcessGuard{proc: proc}, nil
}

// Sample reads the current resident set size.
func (g *ProcessGuard) Sample() (ResourceSample, error) {
	mem, err := g.proc.MemoryInfo()
	if err != nil {
		return ResourceSample{}, fmt.Errorf("failed to read process memory: %w", err)
	}
	return ResourceSample{ResidentBytes: mem.RSS}, nil
}

// ShouldReclaim reports whether the sample exceeds the threshold. A zero
// threshold disables memory-triggered reclamation.
func (g *ProcessGuard) ShouldReclaim(sample ResourceSample, thresholdBytes uint64) bool {
	if thresholdBytes == 0 {
		return false
	}
	return sample.ResidentBytes > thresholdBytes
}

// ShouldRecycleHandle reports whether the chunk has consumed its budget.
func (g *ProcessGuard) ShouldRecycleHandle(itemsProcessedInChunk, chunkSize int) bool {
	return itemsProcessedInChunk >= chunkSize
}

// Reclaim forces a GC pass and returns freed memory to the OS.
func (g *ProcessGuard) Reclaim() {
	runtime.GC()
	debug.FreeOSMemory()
}
