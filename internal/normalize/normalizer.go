package normalize

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codevet/codevet/internal/types"
)

// Normalizer maintains the registry of per-tool normalization rules and
// converts raw plugin output into the canonical result schema. A missing
// rule never fails normalization: the fallback path still produces valid
// NormalizedIssues.
type Normalizer struct {
	mu    sync.RWMutex
	rules map[string]*Rule

	// now is injectable for tests
	now func() time.Time
}

// NewNormalizer creates a normalizer with the built-in rules registered.
func NewNormalizer() *Normalizer {
	n := &Normalizer{
		rules: make(map[string]*Rule),
		now:   time.Now,
	}
	for _, rule := range builtinRules() {
		n.rules[rule.Tool] = rule
	}
	return n
}

// Register adds a custom rule. Registering over an existing tool name is an
// error; Unregister first to replace a rule.
func (n *Normalizer) Register(rule *Rule) error {
	if rule == nil || rule.Tool == "" {
		return fmt.Errorf("rule requires a tool name")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.rules[rule.Tool]; exists {
		return fmt.Errorf("rule for %q already registered", rule.Tool)
	}
	n.rules[rule.Tool] = rule
	return nil
}

// Unregister removes a rule by tool name. Returns true if a rule was removed.
func (n *Normalizer) Unregister(tool string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.rules[tool]; !exists {
		return false
	}
	delete(n.rules, tool)
	return true
}

// Rules returns the registered tool names, sorted.
func (n *Normalizer) Rules() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	names := make([]string, 0, len(n.rules))
	for name := range n.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizeResult converts one raw plugin result into canonical form.
// Malformed output (empty tool name or negative execution time) forces
// status "error" rather than being silently accepted; the issues are still
// normalized through the fallback path.
func (n *Normalizer) NormalizeResult(raw *types.RawResult) *types.NormalizedResult {
	malformed := raw.Tool == "" || raw.ExecutionTime < 0

	n.mu.RLock()
	rule := n.rules[raw.Tool]
	n.mu.RUnlock()

	status := raw.Status
	switch status {
	case types.StatusSuccess, types.StatusError, types.StatusPartial, types.StatusSkipped:
	default:
		status = types.StatusError
	}
	if malformed {
		status = types.StatusError
	}

	issues := make([]types.NormalizedIssue, 0, len(raw.Issues))
	for _, issue := range raw.Issues {
		issues = append(issues, normalizeIssue(rule, raw.Tool, issue))
	}

	execTime := raw.ExecutionTime
	if execTime < 0 {
		execTime = 0
	}
	finished := n.now()

	result := &types.NormalizedResult{
		Tool:       raw.Tool,
		Status:     status,
		StartedAt:  finished.Add(-execTime),
		FinishedAt: finished,
		Issues:     issues,
		Metrics:    deriveMetrics(issues, raw, execTime),
	}
	result.Summary = deriveSummary(issues)
	return result
}

// normalizeIssue maps a raw issue through the rule (or the fallback when
// rule is nil). Each NormalizedIssue derives from exactly one raw Issue.
func normalizeIssue(rule *Rule, tool string, issue types.Issue) types.NormalizedIssue {
	severity := resolveSeverity(rule, issue.Type)
	category := resolveCategory(rule, issue)
	score := resolveScore(rule, severity, issue)

	path := issue.FilePath
	if rule != nil && rule.TransformPath != nil {
		path = rule.TransformPath(path)
	} else {
		path = NormalizePath(path)
	}

	message := strings.TrimSpace(issue.Message)
	if rule != nil && rule.TransformMessage != nil {
		message = rule.TransformMessage(message)
	}

	var tags []string
	if issue.Fixable {
		tags = append(tags, "fixable")
	}
	if issue.Suggestion != "" {
		tags = append(tags, "has-suggestion")
	}

	normalized := types.NormalizedIssue{
		Tool:     tool,
		Severity: severity,
		Category: category,
		Path:     path,
		Line:     issue.Line,
		Message:  message,
		RuleID:   issue.RuleID,
		Fixable:  issue.Fixable,
		Score:    score,
		Tags:     tags,
	}
	if issue.Suggestion != "" {
		normalized.Metadata = map[string]string{"suggestion": issue.Suggestion}
	}
	return normalized
}

// resolveSeverity looks the raw type up in the rule's severity table,
// falling back to the type-based default.
func resolveSeverity(rule *Rule, issueType string) types.Severity {
	if rule != nil {
		if sev, ok := rule.SeverityMap[strings.ToLower(issueType)]; ok {
			return sev
		}
	}
	return severityForType(issueType)
}

// resolveCategory matches the rule's category table as substrings against
// the issue's rule ID and type, falling back to "general". Table keys are
// checked in sorted order so the match is deterministic.
func resolveCategory(rule *Rule, issue types.Issue) string {
	if rule == nil || len(rule.CategoryMap) == 0 {
		return "general"
	}

	keys := make([]string, 0, len(rule.CategoryMap))
	for k := range rule.CategoryMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	haystack := issue.RuleID + " " + issue.Type
	for _, key := range keys {
		if strings.Contains(haystack, key) {
			return rule.CategoryMap[key]
		}
	}
	return "general"
}

// resolveScore takes the rule's explicit severity-indexed entry when present;
// otherwise the default score, shaded down for fixable issues or ones
// carrying a suggestion.
func resolveScore(rule *Rule, severity types.Severity, issue types.Issue) float64 {
	if rule != nil {
		if score, ok := rule.ScoreMap[severity]; ok {
			return score
		}
	}

	score := defaultScores[severity]
	if issue.Fixable || issue.Suggestion != "" {
		score *= fixableShade
	}
	return score
}

func deriveMetrics(issues []types.NormalizedIssue, raw *types.RawResult, execTime time.Duration) types.NormalizedMetrics {
	metrics := types.NormalizedMetrics{
		IssuesBySeverity: map[types.Severity]int{
			types.SeverityError:   0,
			types.SeverityWarning: 0,
			types.SeverityInfo:    0,
		},
		Coverage:  raw.Coverage,
		Footprint: types.ResourceFootprint{Duration: execTime},
	}

	for _, issue := range issues {
		metrics.IssuesBySeverity[issue.Severity]++
		if issue.Fixable {
			metrics.FixableCount++
		}
		metrics.Score += issue.Score
	}

	if len(raw.Metrics) > 0 {
		metrics.Custom = make(map[string]float64, len(raw.Metrics))
		for k, v := range raw.Metrics {
			metrics.Custom[k] = v
		}
	}
	return metrics
}

func deriveSummary(issues []types.NormalizedIssue) types.SummaryCounts {
	summary := types.SummaryCounts{Total: len(issues)}
	for _, issue := range issues {
		switch issue.Severity {
		case types.SeverityError:
			summary.Errors++
		case types.SeverityWarning:
			summary.Warnings++
		case types.SeverityInfo:
			summary.Infos++
		}
		if issue.Fixable {
			summary.Fixable++
		}
	}
	return summary
}
