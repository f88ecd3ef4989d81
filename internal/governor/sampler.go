package governor

import (
	"runtime"
)

// Usage is one point-in-time sample of process resource consumption.
type Usage struct {
	// MemoryBytes is the resident memory of the process
	MemoryBytes uint64
	// CPUPercent is process CPU usage normalized to 0-100 across all cores
	CPUPercent float64
}

// UsageSampler produces resource usage samples on each governor tick.
// The default implementation reads /proc on Linux and falls back to the Go
// runtime elsewhere; tests inject deterministic samplers.
type UsageSampler interface {
	Sample() (Usage, error)
}

// runtimeSampler derives memory from the Go runtime. CPU is unavailable
// without OS support, so it reports 0 and the governor treats CPU admission
// as allocation-count based only.
type runtimeSampler struct{}

func (runtimeSampler) Sample() (Usage, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Usage{MemoryBytes: ms.HeapAlloc + ms.StackSys}, nil
}
