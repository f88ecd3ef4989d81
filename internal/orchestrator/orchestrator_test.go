package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codevet/codevet/internal/degrade"
	"github.com/codevet/codevet/internal/events"
	"github.com/codevet/codevet/internal/governor"
	"github.com/codevet/codevet/internal/plugin"
	"github.com/codevet/codevet/internal/scheduler"
	"github.com/codevet/codevet/internal/types"
)

type stubSampler struct{}

func (stubSampler) Sample() (governor.Usage, error) {
	return governor.Usage{}, nil
}

type scriptedPlugin struct {
	name string
	run  func(ctx context.Context, ec *plugin.ExecutionContext) (*types.RawResult, error)
}

func (p *scriptedPlugin) Name() string { return p.name }

func (p *scriptedPlugin) Initialize(ctx context.Context, config types.PluginConfig) error {
	return nil
}

func (p *scriptedPlugin) Execute(ctx context.Context, ec *plugin.ExecutionContext) (*types.RawResult, error) {
	return p.run(ctx, ec)
}

func (p *scriptedPlugin) Cleanup() error { return nil }

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Scheduler = scheduler.Config{Workers: 2, DefaultTaskTimeout: 50 * time.Millisecond}
	cfg.Classifier = degrade.ClassifierConfig{
		MaxAttempts: 2,
		Backoff:     []time.Duration{time.Millisecond},
	}
	o := New(cfg, stubSampler{})
	t.Cleanup(o.Stop)
	o.Start()
	return o
}

func succeedingPlugin(name string, issues ...types.Issue) *scriptedPlugin {
	return &scriptedPlugin{name: name, run: func(ctx context.Context, ec *plugin.ExecutionContext) (*types.RawResult, error) {
		return &types.RawResult{
			Tool:          name,
			Status:        types.StatusSuccess,
			ExecutionTime: 5 * time.Millisecond,
			Issues:        issues,
		}, nil
	}}
}

func TestAnalyzeMixedOutcomes(t *testing.T) {
	o := newTestOrchestrator(t)

	ok := succeedingPlugin("gofmt")
	crasher := &scriptedPlugin{name: "crasher", run: func(ctx context.Context, ec *plugin.ExecutionContext) (*types.RawResult, error) {
		panic("boom")
	}}
	// Blocks until the per-task timeout fires, on every attempt.
	hanger := &scriptedPlugin{name: "hanger", run: func(ctx context.Context, ec *plugin.ExecutionContext) (*types.RawResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	for _, p := range []plugin.Plugin{ok, crasher, hanger} {
		require.NoError(t, o.Registry().Register(p))
	}

	sub := o.Bus().SubscribeBuffered(256, events.EventTypeTaskCompleted)
	defer o.Bus().Unsubscribe(sub)

	project := &types.Project{
		Name: "demo",
		Root: t.TempDir(),
		Plugins: []types.PluginConfig{
			{Name: "gofmt"},
			{Name: "crasher"},
			{Name: "hanger"},
		},
	}

	result, err := o.Analyze(context.Background(), project)
	require.NoError(t, err)

	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "demo", result.ProjectID)
	require.Len(t, result.Outcomes, 3, "one outcome per requested plugin")

	byPlugin := make(map[string]types.PluginOutcome)
	for _, out := range result.Outcomes {
		byPlugin[out.Plugin] = out
	}

	assert.Equal(t, types.OutcomeSucceeded, byPlugin["gofmt"].Status)
	assert.Equal(t, types.OutcomeFailed, byPlugin["crasher"].Status)
	assert.Equal(t, types.OutcomeFailed, byPlugin["hanger"].Status)

	// The two failures carry distinct classifications: a crash is skipped
	// outright while a timeout burns through its retries first.
	assert.Equal(t, 1, byPlugin["crasher"].Attempts)
	assert.Equal(t, 2, byPlugin["hanger"].Attempts, "timeout retries to the ceiling")
	assert.NotEqual(t, byPlugin["crasher"].Reason, byPlugin["hanger"].Reason)

	require.Contains(t, result.Results, "gofmt")
	assert.Len(t, result.Results, 1, "only the succeeded plugin contributes a result")

	// Exactly one terminal transition per executed task.
	completed := 0
	for {
		select {
		case <-sub.C:
			completed++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 3, completed, "task_completed events")
}

func TestAnalyzeUnregisteredPlugin(t *testing.T) {
	o := newTestOrchestrator(t)

	require.NoError(t, o.Registry().Register(succeedingPlugin("gofmt")))

	project := &types.Project{
		Name: "demo",
		Root: t.TempDir(),
		Plugins: []types.PluginConfig{
			{Name: "gofmt"},
			{Name: "ghost"},
		},
	}

	result, err := o.Analyze(context.Background(), project)
	require.NoError(t, err)

	var ghost *types.PluginOutcome
	for i := range result.Outcomes {
		if result.Outcomes[i].Plugin == "ghost" {
			ghost = &result.Outcomes[i]
		}
	}
	require.NotNil(t, ghost, "unregistered plugin must appear in outcomes")
	assert.Equal(t, types.OutcomeFailed, ghost.Status)
	assert.Contains(t, ghost.Reason, "not registered")
}

func TestAnalyzeScoresCleanRun(t *testing.T) {
	o := newTestOrchestrator(t)

	require.NoError(t, o.Registry().Register(succeedingPlugin("gofmt")))

	result, err := o.Analyze(context.Background(), &types.Project{
		Name:    "clean",
		Root:    t.TempDir(),
		Plugins: []types.PluginConfig{{Name: "gofmt"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 100.0, result.OverallScore, "clean run scores 100")
	assert.False(t, result.Aborted)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestAnalyzeSecondRunHitsCache(t *testing.T) {
	o := newTestOrchestrator(t)

	calls := 0
	counted := &scriptedPlugin{name: "eslint", run: func(ctx context.Context, ec *plugin.ExecutionContext) (*types.RawResult, error) {
		calls++
		return &types.RawResult{Tool: "eslint", Status: types.StatusSuccess, ExecutionTime: time.Millisecond}, nil
	}}
	require.NoError(t, o.Registry().Register(counted))

	project := &types.Project{
		Name:    "demo",
		Root:    "/fixed/root",
		Plugins: []types.PluginConfig{{Name: "eslint"}},
	}

	_, err := o.Analyze(context.Background(), project)
	require.NoError(t, err)
	second, err := o.Analyze(context.Background(), project)
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "second run served from cache")
	assert.Equal(t, "served from cache", second.Outcomes[0].Reason)

	// Invalidation forces re-execution.
	o.InvalidateProject()
	_, err = o.Analyze(context.Background(), project)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestAnalyzeValidation(t *testing.T) {
	o := newTestOrchestrator(t)

	_, err := o.Analyze(context.Background(), nil)
	assert.Error(t, err, "nil project")

	_, err = o.Analyze(context.Background(), &types.Project{Name: "empty"})
	assert.Error(t, err, "project without plugins")
}

func TestAnalyzeAbortsUnderSystemicFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler = scheduler.Config{Workers: 1, DefaultTaskTimeout: time.Second}
	cfg.Classifier = degrade.ClassifierConfig{MaxAttempts: 1, Backoff: []time.Duration{time.Millisecond}}
	cfg.Controller = degrade.ControllerConfig{
		WindowSize:       4,
		MinSamples:       2,
		AbortFailureRate: 0.9,
		HealthyWindow:    3,
	}
	o := New(cfg, stubSampler{})
	t.Cleanup(o.Stop)
	o.Start()

	failing := func(name string) *scriptedPlugin {
		return &scriptedPlugin{name: name, run: func(ctx context.Context, ec *plugin.ExecutionContext) (*types.RawResult, error) {
			return nil, errors.New("tool exploded")
		}}
	}
	pcs := make([]types.PluginConfig, 0, 8)
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		require.NoError(t, o.Registry().Register(failing(name)))
		pcs = append(pcs, types.PluginConfig{Name: name})
	}

	result, err := o.Analyze(context.Background(), &types.Project{
		Name:    "doomed",
		Root:    t.TempDir(),
		Plugins: pcs,
	})
	require.NoError(t, err)

	require.True(t, result.Aborted, "systemic failure must abort the run")
	require.Len(t, result.Outcomes, 8, "every requested plugin keeps an outcome entry")

	skipped := 0
	for _, out := range result.Outcomes {
		if out.Status == types.OutcomeSkipped {
			skipped++
		}
	}
	assert.Greater(t, skipped, 0, "queued plugins report as skipped after abort")
}
