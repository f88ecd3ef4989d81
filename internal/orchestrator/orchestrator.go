package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/codevet/codevet/internal/aggregate"
	"github.com/codevet/codevet/internal/cache"
	"github.com/codevet/codevet/internal/degrade"
	"github.com/codevet/codevet/internal/events"
	"github.com/codevet/codevet/internal/governor"
	"github.com/codevet/codevet/internal/normalize"
	"github.com/codevet/codevet/internal/plugin"
	"github.com/codevet/codevet/internal/scheduler"
	"github.com/codevet/codevet/internal/types"
)

// Config aggregates the tuning of every component the orchestrator owns.
type Config struct {
	// Cache tunes the cache manager
	Cache cache.ManagerConfig
	// Governor tunes resource limits and thresholds
	Governor governor.Config
	// Scheduler tunes the worker pool
	Scheduler scheduler.Config
	// Classifier tunes retry limits and backoff
	Classifier degrade.ClassifierConfig
	// Controller tunes degradation thresholds
	Controller degrade.ControllerConfig
	// Weights tunes scoring; nil uses defaults
	Weights aggregate.Weights
}

// DefaultConfig returns defaults for every component.
func DefaultConfig() Config {
	return Config{
		Cache:      cache.DefaultManagerConfig(),
		Governor:   governor.DefaultConfig(),
		Scheduler:  scheduler.DefaultConfig(),
		Classifier: degrade.DefaultClassifierConfig(),
		Controller: degrade.DefaultControllerConfig(),
	}
}

// Orchestrator is the façade over the analysis core. It owns the component
// wiring: caches, governor, normalizer, classifier, controller, plugin
// registry, and event bus are constructed once and passed by reference, and
// it is the only component that publishes to the bus.
type Orchestrator struct {
	cfg        Config
	bus        *events.Bus
	caches     *cache.Manager
	gov        *governor.Governor
	normalizer *normalize.Normalizer
	classifier *degrade.Classifier
	controller *degrade.Controller
	registry   *plugin.Registry
	scorer     *aggregate.Scorer

	now func() time.Time
}

// New wires up an orchestrator. Zero-value config fields fall back to
// component defaults. A nil sampler uses the platform default.
func New(cfg Config, sampler governor.UsageSampler) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		bus:        events.NewBus(),
		caches:     cache.NewManager(cfg.Cache),
		gov:        governor.New(cfg.Governor, sampler),
		normalizer: normalize.NewNormalizer(),
		classifier: degrade.NewClassifier(cfg.Classifier),
		controller: degrade.NewController(cfg.Controller),
		registry:   plugin.NewRegistry(),
		scorer:     aggregate.NewScorer(cfg.Weights),
		now:        time.Now,
	}
}

// Start launches the background loops (cache sweeps, governor ticks).
func (o *Orchestrator) Start() {
	o.caches.Start()
	o.gov.Start()
}

// Stop shuts down background loops and closes the event bus.
func (o *Orchestrator) Stop() {
	o.gov.Stop()
	o.caches.Stop()
	o.bus.Close()
}

// Registry returns the plugin registry for adapter registration.
func (o *Orchestrator) Registry() *plugin.Registry {
	return o.registry
}

// Bus returns the event bus for progress subscribers.
func (o *Orchestrator) Bus() *events.Bus {
	return o.bus
}

// Normalizer returns the result normalizer for custom rule registration.
func (o *Orchestrator) Normalizer() *normalize.Normalizer {
	return o.normalizer
}

// ResourceReport returns the governor's current utilization snapshot.
func (o *Orchestrator) ResourceReport() governor.UtilizationReport {
	return o.gov.Report()
}

// InvalidateProject drops cached results after a project change.
func (o *Orchestrator) InvalidateProject() {
	o.caches.InvalidateResults()
}

// Analyze runs every enabled plugin of the project and consolidates the
// outcome. It always returns a result listing the fate of every requested
// plugin; degradation abort yields a partial result, not an error. Only a
// nil project or an empty plugin list is an error.
func (o *Orchestrator) Analyze(ctx context.Context, project *types.Project) (*types.AnalysisResult, error) {
	if project == nil {
		return nil, fmt.Errorf("project is required")
	}
	if len(project.Plugins) == 0 {
		return nil, fmt.Errorf("project %q has no plugins enabled", project.Name)
	}

	runID := uuid.New().String()
	start := o.now()

	o.controller.Reset()
	o.gov.SetNotifier(runID, o.bus.Publish)
	o.controller.SetNotifier(runID, o.bus.Publish)
	defer func() {
		// Detach the run-scoped sinks so a finished run cannot publish.
		o.gov.SetNotifier("", nil)
		o.controller.SetNotifier("", nil)
	}()

	sched := scheduler.New(o.cfg.Scheduler, o.caches, o.gov, o.classifier, o.controller, o.normalizer)
	sched.SetNotifier(runID, o.bus.Publish)

	o.bus.Publish(events.New(events.EventTypeRunStarted, runID, events.SeverityInfo,
		fmt.Sprintf("analyzing %s with %d plugins", project.Name, len(project.Plugins))))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(map[string]types.PluginOutcome, len(project.Plugins))
	var initialized []plugin.Plugin
	submitted := 0

	for _, pc := range project.Plugins {
		p, err := o.registry.Get(pc.Name)
		if err != nil {
			outcomes[pc.Name] = types.PluginOutcome{
				Plugin: pc.Name,
				Status: types.OutcomeFailed,
				Reason: err.Error(),
			}
			continue
		}
		if err := p.Initialize(runCtx, pc); err != nil {
			outcomes[pc.Name] = types.PluginOutcome{
				Plugin: pc.Name,
				Status: types.OutcomeFailed,
				Reason: fmt.Sprintf("initialize: %v", err),
			}
			continue
		}
		initialized = append(initialized, p)

		task := &scheduler.Task{
			Plugin: p,
			Config: pc,
			Exec: &plugin.ExecutionContext{
				RunID:       runID,
				ProjectRoot: project.Root,
				Options:     pc.Options,
			},
		}
		if err := sched.Submit(task); err != nil {
			outcomes[pc.Name] = types.PluginOutcome{
				Plugin: pc.Name,
				Status: types.OutcomeFailed,
				Reason: err.Error(),
			}
			continue
		}
		submitted++
	}
	sched.Close()

	runDone := make(chan struct{})
	go func() {
		_ = sched.Run(runCtx)
		close(runDone)
	}()

	results := make(map[string]*types.NormalizedResult, submitted)
	for tr := range sched.Results() {
		outcomes[tr.Plugin] = o.outcomeFor(tr)
		if tr.Status == scheduler.TaskSucceeded && tr.Result != nil {
			results[tr.Plugin] = tr.Result
		}
		if o.controller.Aborted() {
			// Interrupt in-flight work; queued tasks drain as cancelled.
			cancel()
		}
	}
	<-runDone

	for _, p := range initialized {
		if err := p.Cleanup(); err != nil {
			o.bus.Publish(events.NewForPlugin(events.EventTypeTaskCompleted, runID, p.Name(),
				events.SeverityWarning, fmt.Sprintf("cleanup: %v", err)))
		}
	}

	summary := aggregate.Aggregate(results)
	score, breakdown := o.scorer.Score(results, summary)

	result := &types.AnalysisResult{
		ID:           runID,
		ProjectID:    project.Name,
		Timestamp:    start,
		Duration:     o.now().Sub(start),
		OverallScore: score,
		Breakdown:    breakdown,
		Results:      results,
		Outcomes:     sortedOutcomes(outcomes),
		Aborted:      o.controller.Aborted(),
	}

	if result.Aborted {
		o.bus.Publish(events.New(events.EventTypeRunAborted, runID, events.SeverityCritical,
			fmt.Sprintf("run aborted by degradation, %d of %d plugins reported", len(results), len(project.Plugins))))
	} else {
		o.bus.Publish(events.New(events.EventTypeRunCompleted, runID, events.SeverityInfo,
			fmt.Sprintf("run completed, score %.1f", score)))
	}
	return result, nil
}

// outcomeFor maps a terminal task result onto the plugin outcome report.
func (o *Orchestrator) outcomeFor(tr scheduler.TaskResult) types.PluginOutcome {
	out := types.PluginOutcome{
		Plugin:   tr.Plugin,
		Attempts: tr.Attempts,
	}
	switch tr.Status {
	case scheduler.TaskSucceeded:
		out.Status = types.OutcomeSucceeded
		if tr.FromCache {
			out.Reason = "served from cache"
		}
	case scheduler.TaskCancelled:
		out.Status = types.OutcomeSkipped
		if tr.Err != nil {
			out.Reason = tr.Err.Err.Error()
			out.Recovery = string(tr.Err.Strategy)
		}
	default:
		out.Status = types.OutcomeFailed
		if tr.Err != nil {
			out.Reason = tr.Err.Err.Error()
			out.Recovery = string(tr.Err.Strategy)
		}
	}
	return out
}

// sortedOutcomes flattens the outcome map in stable plugin order.
func sortedOutcomes(m map[string]types.PluginOutcome) []types.PluginOutcome {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]types.PluginOutcome, 0, len(m))
	for _, name := range names {
		out = append(out, m[name])
	}
	return out
}
