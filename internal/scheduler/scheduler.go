package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/codevet/codevet/internal/cache"
	"github.com/codevet/codevet/internal/degrade"
	"github.com/codevet/codevet/internal/events"
	"github.com/codevet/codevet/internal/governor"
	"github.com/codevet/codevet/internal/normalize"
	"github.com/codevet/codevet/internal/plugin"
	"github.com/codevet/codevet/internal/types"
)

// TaskStatus is the lifecycle state of a scheduled task. Every task reaches
// exactly one terminal state (succeeded, failed, timed_out, or cancelled).
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskTimedOut  TaskStatus = "timed_out"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is one plugin execution request.
type Task struct {
	// ID is the unique task identifier
	ID string
	// Plugin is the adapter to execute
	Plugin plugin.Plugin
	// Config is the resolved plugin configuration
	Config types.PluginConfig
	// Exec carries the execution inputs
	Exec *plugin.ExecutionContext

	seq int64
}

// TaskResult is the terminal report for one task.
type TaskResult struct {
	// TaskID identifies the task
	TaskID string
	// Plugin is the plugin name
	Plugin string
	// Status is the terminal state
	Status TaskStatus
	// Result is the normalized plugin result, set when Status is succeeded
	Result *types.NormalizedResult
	// Err is the classified failure, set for failed and timed_out
	Err *degrade.AnalysisError
	// Attempts is how many executions were attempted
	Attempts int
	// FromCache marks a result served without executing the plugin
	FromCache bool
}

// Config holds scheduler tuning.
type Config struct {
	// Workers is the worker pool ceiling (default: 4)
	Workers int
	// DefaultTaskTimeout bounds a single plugin execution when the plugin
	// config does not set one (default: 2m)
	DefaultTaskTimeout time.Duration
	// AdmissionTimeout bounds the wait for a governor grant (default: 30s)
	AdmissionTimeout time.Duration
	// MemoryPerTask is the memory amount requested per execution
	// (default: 128 MiB)
	MemoryPerTask uint64
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Workers:            4,
		DefaultTaskTimeout: 2 * time.Minute,
		AdmissionTimeout:   30 * time.Second,
		MemoryPerTask:      128 << 20,
	}
}

// Scheduler runs plugin tasks on a priority-ordered worker pool. Each task
// flows through cache lookup, governor admission, throttle pacing, and
// plugin execution, and always reports exactly one terminal result.
type Scheduler struct {
	cfg        Config
	caches     *cache.Manager
	gov        *governor.Governor
	classifier *degrade.Classifier
	controller *degrade.Controller
	normalizer *normalize.Normalizer

	mu      sync.Mutex
	cond    *sync.Cond
	queue   taskQueue
	active  int
	closed  bool
	nextSeq int64

	completed int
	failed    int

	results chan TaskResult

	notify func(events.Event)
	runID  string

	// sleep is swapped out in tests so retry backoff does not stall them
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a scheduler. All collaborators are required; zero-value config
// fields fall back to defaults.
func New(cfg Config, caches *cache.Manager, gov *governor.Governor, classifier *degrade.Classifier, controller *degrade.Controller, normalizer *normalize.Normalizer) *Scheduler {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.DefaultTaskTimeout <= 0 {
		cfg.DefaultTaskTimeout = def.DefaultTaskTimeout
	}
	if cfg.AdmissionTimeout <= 0 {
		cfg.AdmissionTimeout = def.AdmissionTimeout
	}
	if cfg.MemoryPerTask == 0 {
		cfg.MemoryPerTask = def.MemoryPerTask
	}

	s := &Scheduler{
		cfg:        cfg,
		caches:     caches,
		gov:        gov,
		classifier: classifier,
		controller: controller,
		normalizer: normalizer,
		results:    make(chan TaskResult, cfg.Workers*4),
		sleep:      sleepCtx,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetNotifier wires the event sink. Must be called before Run.
func (s *Scheduler) SetNotifier(runID string, notify func(events.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = runID
	s.notify = notify
}

// Results delivers one terminal TaskResult per submitted task. The channel
// is closed when Run returns.
func (s *Scheduler) Results() <-chan TaskResult {
	return s.results
}

// Submit enqueues a task. Priority comes from the plugin config; equal
// priorities run in submission order. Submitting after Close is an error.
func (s *Scheduler) Submit(task *Task) error {
	if task == nil || task.Plugin == nil {
		return fmt.Errorf("task must carry a plugin")
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is closed")
	}
	task.seq = s.nextSeq
	s.nextSeq++
	heap.Push(&s.queue, task)
	s.cond.Signal()
	s.mu.Unlock()

	s.emitPlugin(events.EventTypeTaskQueued, task.Plugin.Name(), events.SeverityInfo, "task queued")
	return nil
}

// Close stops accepting new tasks. Workers drain the queue and Run returns
// once every accepted task has a terminal result.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Run executes tasks until Close is called and the queue drains, or ctx is
// cancelled. Queued tasks left behind by cancellation or degradation abort
// are reported as cancelled, never dropped.
func (s *Scheduler) Run(ctx context.Context) error {
	// Wake blocked workers when the run context ends.
	unblock := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer unblock()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			return s.worker(gctx)
		})
	}
	err := g.Wait()

	s.drainCancelled()
	close(s.results)
	return err
}

// worker pops tasks while respecting the degradation-shrunk concurrency
// ceiling.
func (s *Scheduler) worker(ctx context.Context) error {
	for {
		task := s.next(ctx)
		if task == nil {
			return nil
		}
		s.execute(ctx, task)

		s.mu.Lock()
		s.active--
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// next blocks until a task is available and the active count is under the
// current ceiling. Returns nil when the scheduler is done.
func (s *Scheduler) next(ctx context.Context) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if s.controller.Aborted() {
			return nil
		}
		if s.closed && s.queue.Len() == 0 {
			return nil
		}
		ceiling := s.controller.MaxWorkersFor(s.cfg.Workers)
		if s.queue.Len() > 0 && s.active < ceiling {
			s.active++
			return heap.Pop(&s.queue).(*Task)
		}
		s.cond.Wait()
	}
}

// execute runs one task to its terminal state.
func (s *Scheduler) execute(ctx context.Context, task *Task) {
	name := task.Plugin.Name()

	if !s.controller.AllowPlugin(task.Config.Essential) {
		s.report(TaskResult{
			TaskID: task.ID, Plugin: name, Status: TaskCancelled,
			Err: &degrade.AnalysisError{
				Plugin:   name,
				Err:      errors.New("dropped by degradation level " + s.controller.Level().String()),
				Strategy: degrade.RecoveryDegrade,
			},
		})
		return
	}

	inputs := []byte(task.Exec.CacheKey())
	if cached, ok := s.caches.GetResult(name, inputs); ok {
		s.emitPlugin(events.EventTypeCacheHit, name, events.SeverityInfo, "result served from cache")
		s.controller.RecordOutcome(true)
		s.markDone(true)
		s.report(TaskResult{
			TaskID: task.ID, Plugin: name, Status: TaskSucceeded,
			Result: cached, FromCache: true,
		})
		return
	}
	s.emitPlugin(events.EventTypeCacheMiss, name, events.SeverityInfo, "result not cached")

	attempt := 0
	for {
		attempt++

		result, err := s.attempt(ctx, task)
		if err == nil {
			s.caches.SetResult(name, inputs, result)
			s.controller.RecordOutcome(true)
			s.markDone(true)
			s.emitProgress(events.EventTypeTaskCompleted, name, "task completed")
			s.report(TaskResult{
				TaskID: task.ID, Plugin: name, Status: TaskSucceeded,
				Result: result, Attempts: attempt,
			})
			return
		}

		// Run cancellation is terminal regardless of classification.
		if ctx.Err() != nil {
			s.report(TaskResult{
				TaskID: task.ID, Plugin: name, Status: TaskCancelled,
				Err:      s.classifier.Classify(name, ctx.Err(), attempt),
				Attempts: attempt,
			})
			return
		}

		ae := s.classifier.Classify(name, err, attempt)
		if ae.Strategy == degrade.RecoveryRetry {
			s.emitPlugin(events.EventTypeTaskRetrying, name, events.SeverityWarning,
				fmt.Sprintf("attempt %d failed, retrying in %s: %v", attempt, ae.Backoff, err))
			if s.sleep(ctx, ae.Backoff) != nil {
				s.report(TaskResult{
					TaskID: task.ID, Plugin: name, Status: TaskCancelled,
					Err: ae, Attempts: attempt,
				})
				return
			}
			continue
		}

		status := TaskFailed
		if errors.Is(err, context.DeadlineExceeded) {
			status = TaskTimedOut
		}
		s.controller.RecordOutcome(false)
		s.markDone(false)
		s.emitProgress(events.EventTypeTaskCompleted, name,
			fmt.Sprintf("task %s: %v", status, err))
		s.report(TaskResult{
			TaskID: task.ID, Plugin: name, Status: status,
			Err: ae, Attempts: attempt,
		})
		return
	}
}

// attempt performs one admission-execute cycle.
func (s *Scheduler) attempt(ctx context.Context, task *Task) (*types.NormalizedResult, error) {
	name := task.Plugin.Name()

	grantCh := make(chan bool, 1)
	id, _ := s.gov.Request(governor.Request{
		Kind:     governor.KindMemory,
		Amount:   float64(s.cfg.MemoryPerTask),
		Priority: task.Config.Priority,
		Timeout:  s.cfg.AdmissionTimeout,
		Callback: func(granted bool) { grantCh <- granted },
	})

	select {
	case granted := <-grantCh:
		if !granted {
			return nil, fmt.Errorf("%s: %w", name, degrade.ErrResourceDenied)
		}
	case <-ctx.Done():
		// Withdraw the pending request so a later release cannot grant
		// into the abandoned channel and strand the allocation.
		s.gov.Cancel(id)
		return nil, ctx.Err()
	}
	defer s.gov.Release(id)

	// Under CPU throttle the limiter paces task launches.
	if err := s.gov.Limiter().Wait(ctx); err != nil {
		return nil, err
	}

	s.emitProgress(events.EventTypeTaskStarted, name, "task started")

	timeout := task.Config.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTaskTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := s.invoke(tctx, task)
	if err != nil {
		return nil, err
	}
	return s.normalizer.NormalizeResult(raw), nil
}

// invoke calls the plugin, converting a panic into a classified error so
// one crashing plugin cannot take down the pool.
func (s *Scheduler) invoke(ctx context.Context, task *Task) (raw *types.RawResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", degrade.ErrPluginPanic, r)
		}
	}()
	raw, err = task.Plugin.Execute(ctx, task.Exec)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return raw, err
}

// drainCancelled reports every still-queued task as cancelled.
func (s *Scheduler) drainCancelled() {
	s.mu.Lock()
	var leftover []*Task
	for s.queue.Len() > 0 {
		leftover = append(leftover, heap.Pop(&s.queue).(*Task))
	}
	s.mu.Unlock()

	for _, task := range leftover {
		s.report(TaskResult{
			TaskID: task.ID, Plugin: task.Plugin.Name(), Status: TaskCancelled,
			Err: &degrade.AnalysisError{
				Plugin:   task.Plugin.Name(),
				Err:      errors.New("run ended before task started"),
				Strategy: degrade.RecoverySkip,
			},
		})
	}
}

func (s *Scheduler) report(r TaskResult) {
	s.results <- r
}

func (s *Scheduler) markDone(success bool) {
	s.mu.Lock()
	if success {
		s.completed++
	} else {
		s.failed++
	}
	s.mu.Unlock()
}

func (s *Scheduler) emitPlugin(et events.EventType, pluginName string, sev events.EventSeverity, msg string) {
	s.mu.Lock()
	notify := s.notify
	runID := s.runID
	s.mu.Unlock()
	if notify != nil {
		notify(events.NewForPlugin(et, runID, pluginName, sev, msg))
	}
}

// emitProgress publishes a task lifecycle event with current queue counters.
func (s *Scheduler) emitProgress(et events.EventType, pluginName, msg string) {
	s.mu.Lock()
	notify := s.notify
	runID := s.runID
	data := events.ProgressData{
		Queued:    s.queue.Len(),
		Running:   s.active,
		Completed: s.completed,
		Failed:    s.failed,
	}
	s.mu.Unlock()
	if notify == nil {
		return
	}
	ev := events.NewForPlugin(et, runID, pluginName, events.SeverityInfo, msg)
	ev.Data = data
	notify(ev)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// taskQueue is a max-heap over priority, breaking ties by submission order.
type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].Config.Priority != q[j].Config.Priority {
		return q[i].Config.Priority > q[j].Config.Priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) { *q = append(*q, x.(*Task)) }

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return task
}
