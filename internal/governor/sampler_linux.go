//go:build linux

package governor

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// NewRuntimeSampler returns the default sampler for this platform. On Linux
// it reads /proc/self for resident memory and CPU time; the first CPU sample
// is 0 because percent is a delta over the sampling interval.
func NewRuntimeSampler() UsageSampler {
	return &procSampler{clockTicks: 100} // kernel USER_HZ is 100 on all mainstream arches
}

type procSampler struct {
	clockTicks  float64
	lastCPUTime float64 // cumulative process CPU seconds at last sample
	lastSample  time.Time
}

func (s *procSampler) Sample() (Usage, error) {
	usage := Usage{MemoryBytes: readVmRSS()}

	cpuSeconds, ok := readProcessCPUSeconds(s.clockTicks)
	now := time.Now()
	if ok && !s.lastSample.IsZero() {
		wall := now.Sub(s.lastSample).Seconds()
		if wall > 0 {
			// Normalize to 0-100 across all cores.
			usage.CPUPercent = (cpuSeconds - s.lastCPUTime) / wall * 100 / float64(runtime.NumCPU())
			if usage.CPUPercent < 0 {
				usage.CPUPercent = 0
			}
		}
	}
	if ok {
		s.lastCPUTime = cpuSeconds
		s.lastSample = now
	}

	return usage, nil
}

// readVmRSS returns resident memory in bytes from /proc/self/status, falling
// back to the Go runtime if /proc is unavailable.
func readVmRSS() uint64 {
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		u, _ := runtimeSampler{}.Sample()
		return u.MemoryBytes
	}

	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			if kb, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				return kb * 1024
			}
		}
		break
	}

	u, _ := runtimeSampler{}.Sample()
	return u.MemoryBytes
}

// readProcessCPUSeconds parses utime+stime from /proc/self/stat.
func readProcessCPUSeconds(clockTicks float64) (float64, bool) {
	data, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return 0, false
	}

	// Field 2 (comm) may contain spaces; skip past the closing paren.
	s := string(data)
	idx := strings.LastIndexByte(s, ')')
	if idx < 0 || idx+2 >= len(s) {
		return 0, false
	}

	fields := strings.Fields(s[idx+2:])
	// After comm: state is field 0, utime is field 11, stime is field 12.
	if len(fields) < 13 {
		return 0, false
	}

	utime, err1 := strconv.ParseFloat(fields[11], 64)
	stime, err2 := strconv.ParseFloat(fields[12], 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}

	return (utime + stime) / clockTicks, true
}
