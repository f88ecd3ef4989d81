package normalize

import (
	"strings"

	"github.com/codevet/codevet/internal/types"
)

// Rule converts one tool's raw output into the canonical schema. Rules are
// registered by tool name; a missing rule routes through the fallback path.
type Rule struct {
	// Tool is the plugin name this rule applies to
	Tool string
	// SeverityMap maps raw issue types to canonical severities
	SeverityMap map[string]types.Severity
	// CategoryMap maps a substring of the issue type or rule ID to a
	// canonical category; no match falls back to "general"
	CategoryMap map[string]string
	// ScoreMap assigns an explicit per-severity score; severities without
	// an entry take the default score, shaded down for fixable issues
	ScoreMap map[types.Severity]float64
	// TransformMessage rewrites the issue message; nil keeps it trimmed
	TransformMessage func(string) string
	// TransformPath rewrites the file path; nil uses NormalizePath
	TransformPath func(string) string
}

// Default per-severity scores used when a rule has no explicit entry.
var defaultScores = map[types.Severity]float64{
	types.SeverityError:   10,
	types.SeverityWarning: 5,
	types.SeverityInfo:    1,
}

// fixableShade is the factor applied to a default score when the issue is
// auto-fixable or carries a suggestion. Explicit ScoreMap entries are never
// shaded.
const fixableShade = 0.5

// severityForType is the type-based default used when the severity table has
// no entry for the raw issue type.
func severityForType(issueType string) types.Severity {
	t := strings.ToLower(issueType)
	switch {
	case strings.Contains(t, "error"), strings.Contains(t, "fatal"), strings.Contains(t, "fail"):
		return types.SeverityError
	case strings.Contains(t, "warn"):
		return types.SeverityWarning
	default:
		return types.SeverityInfo
	}
}

// builtinRules covers the standard linters, type checkers, formatters, and
// test runners. Custom rules can be registered alongside at runtime.
func builtinRules() []*Rule {
	return []*Rule{
		{
			Tool: "eslint",
			SeverityMap: map[string]types.Severity{
				"error":   types.SeverityError,
				"warning": types.SeverityWarning,
				"warn":    types.SeverityWarning,
				"off":     types.SeverityInfo,
			},
			CategoryMap: map[string]string{
				"no-unused":  "dead-code",
				"indent":     "style",
				"quotes":     "style",
				"semi":       "style",
				"complexity": "complexity",
				"security":   "security",
			},
			ScoreMap: map[types.Severity]float64{
				types.SeverityError: 8,
			},
		},
		{
			Tool: "golangci-lint",
			SeverityMap: map[string]types.Severity{
				"error":   types.SeverityError,
				"warning": types.SeverityWarning,
				"info":    types.SeverityInfo,
			},
			CategoryMap: map[string]string{
				"errcheck":    "correctness",
				"govet":       "correctness",
				"staticcheck": "correctness",
				"gosec":       "security",
				"gocyclo":     "complexity",
				"unused":      "dead-code",
				"gofmt":       "style",
				"revive":      "style",
			},
		},
		{
			Tool: "tsc",
			SeverityMap: map[string]types.Severity{
				"error":      types.SeverityError,
				"warning":    types.SeverityWarning,
				"suggestion": types.SeverityInfo,
			},
			CategoryMap: map[string]string{
				"TS2":    "type-safety",
				"TS7":    "type-safety",
				"TS6133": "dead-code",
			},
			ScoreMap: map[types.Severity]float64{
				types.SeverityError: 12,
			},
		},
		{
			Tool: "gofmt",
			SeverityMap: map[string]types.Severity{
				"diff": types.SeverityWarning,
			},
			CategoryMap: map[string]string{
				"diff": "formatting",
			},
			ScoreMap: map[types.Severity]float64{
				types.SeverityWarning: 2,
			},
		},
		{
			Tool: "prettier",
			SeverityMap: map[string]types.Severity{
				"diff": types.SeverityWarning,
			},
			CategoryMap: map[string]string{
				"diff": "formatting",
			},
			ScoreMap: map[types.Severity]float64{
				types.SeverityWarning: 2,
			},
		},
		{
			Tool: "go-test",
			SeverityMap: map[string]types.Severity{
				"fail":  types.SeverityError,
				"panic": types.SeverityError,
				"skip":  types.SeverityInfo,
			},
			CategoryMap: map[string]string{
				"fail":  "test-failure",
				"panic": "test-failure",
				"skip":  "test-skipped",
			},
			ScoreMap: map[types.Severity]float64{
				types.SeverityError: 15,
			},
		},
		{
			Tool: "jest",
			SeverityMap: map[string]types.Severity{
				"failed":  types.SeverityError,
				"skipped": types.SeverityInfo,
				"todo":    types.SeverityInfo,
			},
			CategoryMap: map[string]string{
				"failed":  "test-failure",
				"skipped": "test-skipped",
			},
			ScoreMap: map[types.Severity]float64{
				types.SeverityError: 15,
			},
		},
		{
			Tool: "pytest",
			SeverityMap: map[string]types.Severity{
				"failed":  types.SeverityError,
				"error":   types.SeverityError,
				"skipped": types.SeverityInfo,
				"xfail":   types.SeverityInfo,
			},
			CategoryMap: map[string]string{
				"failed": "test-failure",
				"error":  "test-failure",
			},
			ScoreMap: map[types.Severity]float64{
				types.SeverityError: 15,
			},
		},
	}
}
