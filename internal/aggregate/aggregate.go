package aggregate

import (
	"sort"
	"time"

	"github.com/codevet/codevet/internal/types"
)

// ProjectStats are per-project issue statistics across every tool.
type ProjectStats struct {
	// TotalIssues is the count across all tools
	TotalIssues int `json:"total_issues"`
	// FixableIssues is the count of auto-fixable issues
	FixableIssues int `json:"fixable_issues"`
	// BySeverity counts issues per canonical severity
	BySeverity map[types.Severity]int `json:"by_severity"`
	// ByCategory counts issues per canonical category
	ByCategory map[string]int `json:"by_category"`
	// ByTool counts issues per tool
	ByTool map[string]int `json:"by_tool"`
}

// Performance is the aggregated execution cost of the run.
type Performance struct {
	// TotalDuration is the summed execution time across tools
	TotalDuration time.Duration `json:"total_duration"`
	// SlowestTool is the tool with the longest execution time
	SlowestTool string `json:"slowest_tool,omitempty"`
	// SlowestDuration is that tool's execution time
	SlowestDuration time.Duration `json:"slowest_duration,omitempty"`
}

// Summary is the consolidated view of one analysis run.
type Summary struct {
	// Stats are the combined issue statistics
	Stats ProjectStats `json:"stats"`
	// Coverage is the aggregated coverage across tools reporting it,
	// nil when no tool reported coverage
	Coverage *float64 `json:"coverage,omitempty"`
	// Performance is the aggregated execution cost
	Performance Performance `json:"performance"`
	// ToolCount is the number of contributing results
	ToolCount int `json:"tool_count"`
	// SucceededTools and FailedTools partition the contributing results
	SucceededTools []string `json:"succeeded_tools"`
	FailedTools    []string `json:"failed_tools"`
}

// Aggregate consolidates normalized results into per-project statistics.
// Results are processed in sorted tool order so identical input always
// produces identical output.
func Aggregate(results map[string]*types.NormalizedResult) Summary {
	summary := Summary{
		Stats: ProjectStats{
			BySeverity: map[types.Severity]int{
				types.SeverityError:   0,
				types.SeverityWarning: 0,
				types.SeverityInfo:    0,
			},
			ByCategory: make(map[string]int),
			ByTool:     make(map[string]int),
		},
		SucceededTools: []string{},
		FailedTools:    []string{},
	}

	tools := make([]string, 0, len(results))
	for tool := range results {
		tools = append(tools, tool)
	}
	sort.Strings(tools)

	var coverage *float64

	for _, tool := range tools {
		r := results[tool]
		if r == nil {
			continue
		}
		summary.ToolCount++

		if r.Status == types.StatusSuccess || r.Status == types.StatusPartial {
			summary.SucceededTools = append(summary.SucceededTools, tool)
		} else {
			summary.FailedTools = append(summary.FailedTools, tool)
		}

		for _, issue := range r.Issues {
			summary.Stats.TotalIssues++
			summary.Stats.BySeverity[issue.Severity]++
			summary.Stats.ByCategory[issue.Category]++
			summary.Stats.ByTool[tool]++
			if issue.Fixable {
				summary.Stats.FixableIssues++
			}
		}

		duration := r.Metrics.Footprint.Duration
		summary.Performance.TotalDuration += duration
		if duration > summary.Performance.SlowestDuration {
			summary.Performance.SlowestDuration = duration
			summary.Performance.SlowestTool = tool
		}

		// Coverage is a union across reporting tools; the union covers at
		// least what the best-covered tool saw, so the maximum stands in.
		if r.Metrics.Coverage != nil {
			if coverage == nil || *r.Metrics.Coverage > *coverage {
				v := *r.Metrics.Coverage
				coverage = &v
			}
		}
	}
	summary.Coverage = coverage

	return summary
}
