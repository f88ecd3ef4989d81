package aggregate

import (
	"sort"

	"github.com/codevet/codevet/internal/types"
)

// Quality dimensions scored by the Scorer. Each tool category contributes to
// exactly one dimension.
const (
	DimensionCorrectness     = "correctness"
	DimensionStyle           = "style"
	DimensionSecurity        = "security"
	DimensionMaintainability = "maintainability"
	DimensionCoverage        = "coverage"
	DimensionReliability     = "reliability"
)

// categoryDimension routes canonical issue categories to quality dimensions.
// Unlisted categories count against correctness.
var categoryDimension = map[string]string{
	"correctness":  DimensionCorrectness,
	"type-safety":  DimensionCorrectness,
	"test-failure": DimensionCorrectness,
	"style":        DimensionStyle,
	"formatting":   DimensionStyle,
	"security":     DimensionSecurity,
	"dead-code":    DimensionMaintainability,
	"complexity":   DimensionMaintainability,
	"test-skipped": DimensionMaintainability,
}

// Weights configures the relative importance of each quality dimension.
// Zero-weight dimensions are excluded from the overall score.
type Weights map[string]float64

// DefaultWeights returns the default scoring weights.
func DefaultWeights() Weights {
	return Weights{
		DimensionCorrectness:     0.35,
		DimensionStyle:           0.10,
		DimensionSecurity:        0.25,
		DimensionMaintainability: 0.10,
		DimensionCoverage:        0.10,
		DimensionReliability:     0.10,
	}
}

// Scorer derives a single overall score and a per-dimension breakdown from
// an aggregated summary. Scoring is deterministic: identical input always
// yields an identical score and breakdown.
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer. Nil or empty weights fall back to defaults.
func NewScorer(weights Weights) *Scorer {
	if len(weights) == 0 {
		weights = DefaultWeights()
	}
	return &Scorer{weights: weights}
}

// Score computes the overall 0-100 score and per-dimension breakdown. The
// per-issue scores accumulated during normalization are the penalty mass:
// each dimension starts at 100 and loses the penalty routed to it, floored
// at 0. The overall score is the weight-normalized mean over the dimensions
// that apply (coverage is skipped when no tool reported it).
func (s *Scorer) Score(results map[string]*types.NormalizedResult, summary Summary) (float64, map[string]float64) {
	penalties := map[string]float64{
		DimensionCorrectness:     0,
		DimensionStyle:           0,
		DimensionSecurity:        0,
		DimensionMaintainability: 0,
	}

	tools := make([]string, 0, len(results))
	for tool := range results {
		tools = append(tools, tool)
	}
	sort.Strings(tools)

	for _, tool := range tools {
		r := results[tool]
		if r == nil {
			continue
		}
		for _, issue := range r.Issues {
			dim, ok := categoryDimension[issue.Category]
			if !ok {
				dim = DimensionCorrectness
			}
			penalties[dim] += issue.Score
		}
	}

	breakdown := make(map[string]float64, len(penalties)+2)
	for dim, penalty := range penalties {
		breakdown[dim] = clampScore(100 - penalty)
	}

	if summary.Coverage != nil {
		breakdown[DimensionCoverage] = clampScore(*summary.Coverage)
	}

	if summary.ToolCount > 0 {
		breakdown[DimensionReliability] = clampScore(
			float64(len(summary.SucceededTools)) / float64(summary.ToolCount) * 100)
	}

	// Weight-normalized mean over present dimensions, iterated in sorted
	// order so float accumulation is reproducible.
	dims := make([]string, 0, len(breakdown))
	for dim := range breakdown {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	var weighted, totalWeight float64
	for _, dim := range dims {
		w := s.weights[dim]
		if w <= 0 {
			continue
		}
		weighted += breakdown[dim] * w
		totalWeight += w
	}

	if totalWeight == 0 {
		return 0, breakdown
	}
	return clampScore(weighted / totalWeight), breakdown
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
