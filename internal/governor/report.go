package governor

import (
	"fmt"
	"time"
)

// KindUtilization is one resource kind's slice of a utilization report.
type KindUtilization struct {
	// Status is the current threshold tier
	Status Status `json:"status"`
	// Used is the current usage value (bytes, percent, or slot count)
	Used float64 `json:"used"`
	// Allocated is the total granted-but-unreleased allocation
	Allocated float64 `json:"allocated"`
	// Limit is the configured cap
	Limit float64 `json:"limit"`
	// AllocationCount is the number of live allocations of this kind
	AllocationCount int `json:"allocation_count"`
}

// UtilizationReport is a point-in-time view of governed resources, consumed
// by dashboards and the degradation controller. It is recomputed on demand
// and never persisted.
type UtilizationReport struct {
	// GeneratedAt is when the report was taken
	GeneratedAt time.Time `json:"generated_at"`
	// Kinds holds per-kind utilization
	Kinds map[Kind]KindUtilization `json:"kinds"`
	// QueueDepth is the number of requests waiting for admission
	QueueDepth int `json:"queue_depth"`
	// OldestWait is how long the oldest queued request has waited
	OldestWait time.Duration `json:"oldest_wait"`
	// Throttled indicates CPU throttling is engaged
	Throttled bool `json:"throttled"`
	// Recommendations are operator-facing hints derived from the tiers
	Recommendations []string `json:"recommendations,omitempty"`
}

// Report captures the current utilization snapshot.
func (g *Governor) Report() UtilizationReport {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	report := UtilizationReport{
		GeneratedAt: now,
		Kinds:       make(map[Kind]KindUtilization, 4),
		QueueDepth:  g.queue.Len(),
		Throttled:   g.throttled,
	}

	counts := make(map[Kind]int, 4)
	for _, alloc := range g.allocations {
		counts[alloc.kind]++
	}

	report.Kinds[KindMemory] = KindUtilization{
		Status:          g.tiers[KindMemory],
		Used:            float64(g.usage.MemoryBytes),
		Allocated:       g.allocMem,
		Limit:           float64(g.cfg.MemoryLimitBytes),
		AllocationCount: counts[KindMemory],
	}
	report.Kinds[KindCPU] = KindUtilization{
		Status:          g.tiers[KindCPU],
		Used:            g.usage.CPUPercent,
		Allocated:       g.allocCPU,
		Limit:           g.cfg.CPUMaxPercent,
		AllocationCount: counts[KindCPU],
	}
	report.Kinds[KindIO] = KindUtilization{
		Status:          g.tiers[KindIO],
		Used:            float64(g.ioCount),
		Allocated:       float64(g.ioCount),
		Limit:           float64(g.cfg.IOMaxConcurrent),
		AllocationCount: counts[KindIO],
	}
	report.Kinds[KindNetwork] = KindUtilization{
		Status:          g.tiers[KindNetwork],
		Used:            float64(g.netCount),
		Allocated:       float64(g.netCount),
		Limit:           float64(g.cfg.NetworkMaxConcurrent),
		AllocationCount: counts[KindNetwork],
	}

	for _, p := range g.queue {
		if wait := now.Sub(p.createdAt); wait > report.OldestWait {
			report.OldestWait = wait
		}
	}

	report.Recommendations = g.recommendations(report)
	return report
}

// recommendations derives operator hints from the snapshot. Caller holds g.mu.
func (g *Governor) recommendations(r UtilizationReport) []string {
	var recs []string

	if r.Kinds[KindMemory].Status == StatusCritical {
		recs = append(recs, "memory critical: lower cache capacity or reduce worker count")
	} else if r.Kinds[KindMemory].Status == StatusWarning {
		recs = append(recs, "memory elevated: consider reducing concurrent plugins")
	}

	if g.throttled {
		recs = append(recs, "cpu throttled: task launches are rate limited until usage recovers")
	} else if r.Kinds[KindCPU].Status == StatusWarning {
		recs = append(recs, "cpu elevated: heavy plugins may benefit from lower priority")
	}

	if r.QueueDepth > 0 && r.OldestWait > 5*time.Second {
		recs = append(recs, fmt.Sprintf("admission queue backed up: %d waiting, oldest %s",
			r.QueueDepth, r.OldestWait.Round(time.Millisecond)))
	}

	return recs
}
