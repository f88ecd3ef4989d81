package normalize

import (
	"github.com/codevet/codevet/internal/types"
)

// statusRank orders result statuses worst-first for merging.
var statusRank = map[types.ResultStatus]int{
	types.StatusError:   0,
	types.StatusPartial: 1,
	types.StatusSkipped: 2,
	types.StatusSuccess: 3,
}

// MergeNormalizedResults combines several normalized results into one
// synthetic result under the given tool name, for plugins that are
// conceptually a single check. Issues are concatenated, the time window and
// custom metrics are summed, and the summary is re-derived. The merged
// status is the worst of the inputs.
func MergeNormalizedResults(tool string, results []*types.NormalizedResult) *types.NormalizedResult {
	merged := &types.NormalizedResult{
		Tool:   tool,
		Status: types.StatusSuccess,
		Metrics: types.NormalizedMetrics{
			IssuesBySeverity: map[types.Severity]int{
				types.SeverityError:   0,
				types.SeverityWarning: 0,
				types.SeverityInfo:    0,
			},
		},
	}
	if len(results) == 0 {
		return merged
	}

	var coverageSum float64
	var coverageCount int

	for _, r := range results {
		if r == nil {
			continue
		}

		if statusRank[r.Status] < statusRank[merged.Status] {
			merged.Status = r.Status
		}

		if merged.StartedAt.IsZero() || (!r.StartedAt.IsZero() && r.StartedAt.Before(merged.StartedAt)) {
			merged.StartedAt = r.StartedAt
		}
		if r.FinishedAt.After(merged.FinishedAt) {
			merged.FinishedAt = r.FinishedAt
		}

		merged.Issues = append(merged.Issues, r.Issues...)

		for sev, count := range r.Metrics.IssuesBySeverity {
			merged.Metrics.IssuesBySeverity[sev] += count
		}
		merged.Metrics.FixableCount += r.Metrics.FixableCount
		merged.Metrics.Score += r.Metrics.Score
		merged.Metrics.Footprint.Duration += r.Metrics.Footprint.Duration
		if r.Metrics.Footprint.MemoryBytes > merged.Metrics.Footprint.MemoryBytes {
			merged.Metrics.Footprint.MemoryBytes = r.Metrics.Footprint.MemoryBytes
		}
		if r.Metrics.Coverage != nil {
			coverageSum += *r.Metrics.Coverage
			coverageCount++
		}
		for k, v := range r.Metrics.Custom {
			if merged.Metrics.Custom == nil {
				merged.Metrics.Custom = make(map[string]float64)
			}
			merged.Metrics.Custom[k] += v
		}
	}

	if coverageCount > 0 {
		avg := coverageSum / float64(coverageCount)
		merged.Metrics.Coverage = &avg
	}

	merged.Summary = deriveSummary(merged.Issues)
	return merged
}
