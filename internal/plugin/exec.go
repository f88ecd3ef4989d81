package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/codevet/codevet/internal/types"
)

// execReport is the JSON envelope external tools may emit on stdout. A bare
// JSON array of issues is accepted too.
type execReport struct {
	Status        string             `json:"status"`
	Issues        []types.Issue      `json:"issues"`
	Metrics       map[string]float64 `json:"metrics"`
	Coverage      *float64           `json:"coverage"`
	FilesAnalyzed int                `json:"files_analyzed"`
}

// ExecPlugin adapts an external command-line tool to the Plugin contract.
// The command runs in the project root and reports issues as JSON on stdout.
type ExecPlugin struct {
	name    string
	command string
	// args are the base arguments fixed at construction; configured extras
	// live in extraArgs so repeated initialization never accumulates them.
	args      []string
	extraArgs []string
	now       func() time.Time
}

// NewExecPlugin creates an adapter for the given command. The plugin name
// doubles as the tool name on emitted results.
func NewExecPlugin(name, command string, args ...string) *ExecPlugin {
	return &ExecPlugin{
		name:    name,
		command: command,
		args:    args,
		now:     time.Now,
	}
}

// Name returns the plugin name.
func (p *ExecPlugin) Name() string {
	return p.name
}

// Initialize verifies the command exists and records configured options.
// Called once per run; each call replaces the previous run's options.
func (p *ExecPlugin) Initialize(ctx context.Context, config types.PluginConfig) error {
	if _, err := exec.LookPath(p.command); err != nil {
		return fmt.Errorf("command %q not found in PATH", p.command)
	}
	p.extraArgs = nil
	if extra, ok := config.Options["args"]; ok && extra != "" {
		p.extraArgs = []string{extra}
	}
	return nil
}

// Execute runs the command under ctx and parses its JSON output into a raw
// result. A cancelled or expired context surfaces as the context error so
// the classifier sees a timeout, not a tool failure.
func (p *ExecPlugin) Execute(ctx context.Context, ec *ExecutionContext) (*types.RawResult, error) {
	args := append([]string(nil), p.args...)
	args = append(args, p.extraArgs...)
	args = append(args, ec.Files...)

	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.Dir = ec.ProjectRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := p.now()
	runErr := cmd.Run()
	elapsed := p.now().Sub(started)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%s: %w", p.name, ctx.Err())
	}

	result, parseErr := p.parseOutput(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			return nil, fmt.Errorf("%s failed: %w: %s", p.name, runErr, firstLine(stderr.Bytes()))
		}
		return nil, fmt.Errorf("%s output: %w", p.name, parseErr)
	}
	result.ExecutionTime = elapsed

	// Linters commonly exit non-zero when they find issues. A non-zero
	// exit with parseable output is a finding, not a failure.
	if runErr != nil && len(result.Issues) == 0 && result.Status == types.StatusSuccess {
		result.Status = types.StatusError
	}
	return result, nil
}

// Cleanup implements the Plugin contract. ExecPlugin holds nothing open.
func (p *ExecPlugin) Cleanup() error {
	return nil
}

// parseOutput accepts either the envelope form or a bare issue array. Empty
// output means a clean run.
func (p *ExecPlugin) parseOutput(data []byte) (*types.RawResult, error) {
	result := &types.RawResult{
		Tool:   p.name,
		Status: types.StatusSuccess,
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return result, nil
	}

	if data[0] == '[' {
		if err := json.Unmarshal(data, &result.Issues); err != nil {
			return nil, fmt.Errorf("parsing issue array: %w", err)
		}
	} else {
		var report execReport
		if err := json.Unmarshal(data, &report); err != nil {
			return nil, fmt.Errorf("parsing report: %w", err)
		}
		result.Issues = report.Issues
		result.Metrics = report.Metrics
		result.Coverage = report.Coverage
		result.FilesAnalyzed = report.FilesAnalyzed
		if report.Status != "" {
			result.Status = types.ResultStatus(report.Status)
		}
	}

	for i := range result.Issues {
		if result.Issues[i].Tool == "" {
			result.Issues[i].Tool = p.name
		}
	}
	return result, nil
}

func firstLine(b []byte) string {
	b = bytes.TrimSpace(b)
	if idx := bytes.IndexByte(b, '\n'); idx >= 0 {
		b = b[:idx]
	}
	return string(b)
}
