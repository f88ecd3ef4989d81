package plugin

import (
	"context"
	"testing"
	"time"

	"github.com/codevet/codevet/internal/types"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	a := NewExecPlugin("eslint", "eslint", "--format", "json")
	b := NewExecPlugin("gofmt", "gofmt", "-l")

	if err := r.Register(a); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(b); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(a); err == nil {
		t.Error("expected error registering duplicate plugin")
	}
	if err := r.Register(nil); err == nil {
		t.Error("expected error registering nil plugin")
	}

	got, err := r.Get("eslint")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name() != "eslint" {
		t.Errorf("name = %s, want eslint", got.Name())
	}
	if _, err := r.Get("missing"); err == nil {
		t.Error("expected error for unregistered plugin")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "eslint" || names[1] != "gofmt" {
		t.Errorf("names = %v, want [eslint gofmt]", names)
	}
}

func TestExecutionContextCacheKey(t *testing.T) {
	a := &ExecutionContext{
		ProjectRoot: "/repo",
		Files:       []string{"b.go", "a.go"},
		Options:     map[string]string{"strict": "true", "level": "2"},
	}
	b := &ExecutionContext{
		ProjectRoot: "/repo",
		Files:       []string{"a.go", "b.go"},
		Options:     map[string]string{"level": "2", "strict": "true"},
	}

	if a.CacheKey() != b.CacheKey() {
		t.Error("keys differ for identical inputs in different order")
	}

	c := &ExecutionContext{ProjectRoot: "/repo", Files: []string{"a.go"}}
	if a.CacheKey() == c.CacheKey() {
		t.Error("keys match for different inputs")
	}
}

func TestParseOutputEnvelope(t *testing.T) {
	p := NewExecPlugin("eslint", "eslint")

	out := []byte(`{
		"status": "success",
		"issues": [
			{"type": "error", "file_path": "src/app.js", "line": 3, "message": "bad", "rule_id": "no-undef"}
		],
		"metrics": {"rules_checked": 120},
		"coverage": 75.5,
		"files_analyzed": 14
	}`)

	result, err := p.parseOutput(out)
	if err != nil {
		t.Fatalf("parseOutput: %v", err)
	}
	if result.Tool != "eslint" {
		t.Errorf("tool = %s, want eslint", result.Tool)
	}
	if len(result.Issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(result.Issues))
	}
	// Tool name is filled in when the tool omits it.
	if result.Issues[0].Tool != "eslint" {
		t.Errorf("issue tool = %s, want eslint", result.Issues[0].Tool)
	}
	if result.Metrics["rules_checked"] != 120 {
		t.Errorf("metrics = %v", result.Metrics)
	}
	if result.Coverage == nil || *result.Coverage != 75.5 {
		t.Errorf("coverage = %v, want 75.5", result.Coverage)
	}
	if result.FilesAnalyzed != 14 {
		t.Errorf("files analyzed = %d, want 14", result.FilesAnalyzed)
	}
}

func TestParseOutputBareArray(t *testing.T) {
	p := NewExecPlugin("custom", "custom-lint")

	out := []byte(`[{"type": "warn", "file_path": "a.go", "message": "m"}]`)
	result, err := p.parseOutput(out)
	if err != nil {
		t.Fatalf("parseOutput: %v", err)
	}
	if result.Status != types.StatusSuccess {
		t.Errorf("status = %s, want success", result.Status)
	}
	if len(result.Issues) != 1 || result.Issues[0].Tool != "custom" {
		t.Errorf("issues = %+v", result.Issues)
	}
}

func TestParseOutputEmptyMeansClean(t *testing.T) {
	p := NewExecPlugin("gofmt", "gofmt")

	result, err := p.parseOutput([]byte("  \n"))
	if err != nil {
		t.Fatalf("parseOutput: %v", err)
	}
	if result.Status != types.StatusSuccess || len(result.Issues) != 0 {
		t.Errorf("result = %+v, want clean success", result)
	}
}

func TestParseOutputMalformed(t *testing.T) {
	p := NewExecPlugin("broken", "broken")

	if _, err := p.parseOutput([]byte(`{"issues": [`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
	if _, err := p.parseOutput([]byte(`not json at all`)); err == nil {
		t.Error("expected error for non-JSON output")
	}
}

func TestExecPluginContextCancellation(t *testing.T) {
	// sleep exists everywhere the tests run; a 1ms deadline expires long
	// before the command finishes.
	p := NewExecPlugin("sleepy", "sleep", "10")

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	_, err := p.Execute(ctx, &ExecutionContext{ProjectRoot: t.TempDir()})
	if err == nil {
		t.Fatal("expected error from expired context")
	}
	if ctx.Err() == nil {
		t.Fatal("context should have expired")
	}
}

func TestInitializeRepeatedKeepsArgsStable(t *testing.T) {
	p := NewExecPlugin("sleepy", "sleep", "1")
	cfg := types.PluginConfig{
		Name:    "sleepy",
		Options: map[string]string{"args": "--fast"},
	}

	// One orchestrator reuses registered plugins across runs, so the same
	// plugin is initialized once per run.
	for i := 0; i < 3; i++ {
		if err := p.Initialize(context.Background(), cfg); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
	}

	if len(p.args) != 1 || p.args[0] != "1" {
		t.Errorf("base args = %v, want [1]", p.args)
	}
	if len(p.extraArgs) != 1 || p.extraArgs[0] != "--fast" {
		t.Errorf("extra args = %v, want [--fast] (no duplication)", p.extraArgs)
	}

	// Dropping the option clears the extras too.
	if err := p.Initialize(context.Background(), types.PluginConfig{Name: "sleepy"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(p.extraArgs) != 0 {
		t.Errorf("extra args = %v, want none after option removed", p.extraArgs)
	}
}

func TestInitializeMissingCommand(t *testing.T) {
	p := NewExecPlugin("ghost", "definitely-not-a-real-command-xyz")

	err := p.Initialize(context.Background(), types.PluginConfig{Name: "ghost"})
	if err == nil {
		t.Error("expected error for missing command")
	}
}
