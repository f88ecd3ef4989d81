package types

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Severity is the canonical severity scale every tool's output is mapped onto.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// IsValid returns true if the severity is one of the canonical values.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// ResultStatus describes the outcome of a single plugin invocation.
type ResultStatus string

const (
	// StatusSuccess indicates the plugin ran to completion.
	StatusSuccess ResultStatus = "success"
	// StatusError indicates the plugin failed or produced malformed output.
	StatusError ResultStatus = "error"
	// StatusPartial indicates the plugin produced usable but incomplete output.
	StatusPartial ResultStatus = "partial"
	// StatusSkipped indicates the plugin was not executed (degradation or
	// retry exhaustion).
	StatusSkipped ResultStatus = "skipped"
)

// Issue is a single finding exactly as a tool plugin reported it.
// Issues are immutable once emitted; normalization derives a new value
// rather than mutating in place.
type Issue struct {
	// Tool is the name of the plugin that emitted this issue
	Tool string `json:"tool"`
	// Type is the tool-specific issue type (e.g., "no-unused-vars")
	Type string `json:"type"`
	// FilePath is the file location as reported by the tool (any style)
	FilePath string `json:"file_path"`
	// Line is the 1-based line number, 0 if the tool did not report one
	Line int `json:"line"`
	// Message is the tool's description of the problem
	Message string `json:"message"`
	// RuleID identifies the rule that fired, if the tool reports rules
	RuleID string `json:"rule_id,omitempty"`
	// Fixable indicates the tool can fix this issue automatically
	Fixable bool `json:"fixable"`
	// Suggestion is the tool's suggested remediation, if any
	Suggestion string `json:"suggestion,omitempty"`
	// Score is the tool's own weighting of the issue, 0 if not reported
	Score float64 `json:"score,omitempty"`
}

// NormalizedIssue is the canonical form of an Issue. Every NormalizedIssue
// traces to exactly one raw Issue.
type NormalizedIssue struct {
	// Tool is the plugin the issue came from
	Tool string `json:"tool"`
	// Severity is the canonical severity (error, warning, info)
	Severity Severity `json:"severity"`
	// Category is the canonical category (e.g., "style", "correctness")
	Category string `json:"category"`
	// Path is the POSIX-normalized file path
	Path string `json:"path"`
	// Line is the 1-based line number, 0 if unknown
	Line int `json:"line"`
	// Message is the normalized message text
	Message string `json:"message"`
	// RuleID identifies the originating rule, if any
	RuleID string `json:"rule_id,omitempty"`
	// Fixable indicates the issue is auto-fixable
	Fixable bool `json:"fixable"`
	// Score is the recomputed issue score
	Score float64 `json:"score"`
	// Tags carry normalized markers (e.g., "fixable", "has-suggestion")
	Tags []string `json:"tags,omitempty"`
	// Metadata carries tool-specific extras that survive normalization
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RawResult is a plugin's output before normalization: the tool's name, its
// overall status, the issues it found, and whatever metrics it reports.
type RawResult struct {
	// Tool is the plugin name; empty means the output is malformed
	Tool string `json:"tool"`
	// Status is the plugin-reported status
	Status ResultStatus `json:"status"`
	// ExecutionTime is how long the plugin ran; negative means malformed
	ExecutionTime time.Duration `json:"execution_time"`
	// Issues are the findings exactly as emitted
	Issues []Issue `json:"issues"`
	// Metrics are tool-specific metric values
	Metrics map[string]float64 `json:"metrics,omitempty"`
	// Coverage is the tool-reported coverage percentage, if any
	Coverage *float64 `json:"coverage,omitempty"`
	// FilesAnalyzed is the number of files the tool examined
	FilesAnalyzed int `json:"files_analyzed,omitempty"`
}

// ResourceFootprint records what a plugin invocation cost to run.
type ResourceFootprint struct {
	// Duration is wall-clock execution time
	Duration time.Duration `json:"duration"`
	// MemoryBytes is the peak memory attributed to the invocation, 0 if unknown
	MemoryBytes uint64 `json:"memory_bytes,omitempty"`
}

// NormalizedMetrics are per-plugin counts and scores in canonical form.
type NormalizedMetrics struct {
	// IssuesBySeverity counts issues per canonical severity
	IssuesBySeverity map[Severity]int `json:"issues_by_severity"`
	// FixableCount is the number of auto-fixable issues
	FixableCount int `json:"fixable_count"`
	// Score is the plugin's aggregate score contribution
	Score float64 `json:"score"`
	// Coverage is coverage percentage if the tool reported it
	Coverage *float64 `json:"coverage,omitempty"`
	// Custom carries tool-specific metrics that have no canonical slot
	Custom map[string]float64 `json:"custom,omitempty"`
	// Footprint is the resource cost of the invocation
	Footprint ResourceFootprint `json:"footprint"`
}

// SummaryCounts are the derived issue counts for one normalized result.
type SummaryCounts struct {
	Total    int `json:"total"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Infos    int `json:"infos"`
	Fixable  int `json:"fixable"`
}

// NormalizedResult is one plugin's contribution to a run in canonical form.
// Several NormalizedResults can be merged into one synthetic result for
// plugins that are conceptually a single check.
type NormalizedResult struct {
	// Tool is the plugin name (or a synthetic name after merging)
	Tool string `json:"tool"`
	// Status is the canonical result status
	Status ResultStatus `json:"status"`
	// StartedAt and FinishedAt bound the execution time window
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Issues are the normalized findings
	Issues []NormalizedIssue `json:"issues"`
	// Metrics are the normalized per-plugin metrics
	Metrics NormalizedMetrics `json:"metrics"`
	// Summary is derived from Issues, never set independently
	Summary SummaryCounts `json:"summary"`
}

// PluginOutcomeStatus describes how a plugin fared within a run.
type PluginOutcomeStatus string

const (
	OutcomeSucceeded PluginOutcomeStatus = "succeeded"
	OutcomeFailed    PluginOutcomeStatus = "failed"
	OutcomeSkipped   PluginOutcomeStatus = "skipped"
)

// PluginOutcome records the fate of one requested plugin. A requested plugin
// is never silently dropped from the report: every enabled plugin has exactly
// one outcome entry.
type PluginOutcome struct {
	// Plugin is the plugin name
	Plugin string `json:"plugin"`
	// Status is succeeded, failed, or skipped
	Status PluginOutcomeStatus `json:"status"`
	// Reason is a human-readable explanation for failed/skipped outcomes
	Reason string `json:"reason,omitempty"`
	// Recovery is the recovery strategy that was applied (retry, skip, ...)
	Recovery string `json:"recovery,omitempty"`
	// Attempts is how many times execution was attempted
	Attempts int `json:"attempts"`
}

// AnalysisResult is the final consolidated output of a run, consumed by the
// CLI printer, dashboard, and report renderers.
type AnalysisResult struct {
	// ID is the unique run identifier
	ID string `json:"id"`
	// ProjectID identifies the analyzed project
	ProjectID string `json:"project_id"`
	// Timestamp is when the run started
	Timestamp time.Time `json:"timestamp"`
	// Duration is total wall-clock run time
	Duration time.Duration `json:"duration"`
	// OverallScore is the single aggregate quality score (0-100)
	OverallScore float64 `json:"overall_score"`
	// Breakdown is the per-dimension score breakdown
	Breakdown map[string]float64 `json:"breakdown"`
	// Results holds the per-tool normalized results, keyed by tool name
	Results map[string]*NormalizedResult `json:"results"`
	// Outcomes lists the fate of every requested plugin
	Outcomes []PluginOutcome `json:"outcomes"`
	// Aborted indicates degradation aborted the run and the result is partial
	Aborted bool `json:"aborted,omitempty"`
}

// PluginConfig is the resolved configuration for one enabled plugin.
type PluginConfig struct {
	// Name is the plugin name, unique within a project
	Name string `json:"name" yaml:"name"`
	// Priority orders scheduling; higher runs first
	Priority int `json:"priority" yaml:"priority"`
	// Essential plugins survive degradation; non-essential ones are dropped first
	Essential bool `json:"essential" yaml:"essential"`
	// Timeout bounds a single invocation; zero means the run default
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// Options are opaque plugin-specific settings
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// UnmarshalYAML accepts the timeout as a duration string ("90s", "2m").
func (p *PluginConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		Name      string            `yaml:"name"`
		Priority  int               `yaml:"priority"`
		Essential bool              `yaml:"essential"`
		Timeout   string            `yaml:"timeout"`
		Options   map[string]string `yaml:"options"`
	}
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}

	p.Name = r.Name
	p.Priority = r.Priority
	p.Essential = r.Essential
	p.Options = r.Options
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return fmt.Errorf("plugin %q: invalid timeout %q: %w", r.Name, r.Timeout, err)
		}
		p.Timeout = d
	}
	return nil
}

// Project is the resolved project configuration handed to the orchestrator.
type Project struct {
	// Name identifies the project
	Name string `json:"name" yaml:"name"`
	// Root is the project root directory
	Root string `json:"root" yaml:"root"`
	// Plugins are the enabled plugins in declaration order
	Plugins []PluginConfig `json:"plugins" yaml:"plugins"`
}

// EnabledPlugin returns the configuration for a named plugin, if present.
func (p *Project) EnabledPlugin(name string) (PluginConfig, bool) {
	for _, pc := range p.Plugins {
		if pc.Name == name {
			return pc, true
		}
	}
	return PluginConfig{}, false
}
