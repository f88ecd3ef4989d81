package degrade

import (
	"fmt"
	"sync"
	"time"

	"github.com/codevet/codevet/internal/events"
)

// Level is the current degradation posture of a run.
type Level int

const (
	// LevelNormal runs every configured plugin at full concurrency
	LevelNormal Level = iota
	// LevelReduced runs every plugin with the worker ceiling halved
	LevelReduced
	// LevelMinimal runs essential plugins only, one at a time
	LevelMinimal
	// LevelAborted stops the run and surfaces a partial result
	LevelAborted
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelReduced:
		return "reduced"
	case LevelMinimal:
		return "minimal"
	case LevelAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// HealthMetrics is a snapshot of the controller's rolling window.
type HealthMetrics struct {
	// Level is the current degradation level
	Level Level
	// Samples is how many outcomes the window currently holds
	Samples int
	// Failures is how many of those outcomes failed
	Failures int
	// FailureRate is Failures divided by Samples, 0 when empty
	FailureRate float64
	// HealthyStreak is the current run of consecutive successes
	HealthyStreak int
}

// ControllerConfig holds degradation thresholds.
type ControllerConfig struct {
	// WindowSize is the rolling outcome window length (default: 10)
	WindowSize int
	// MinSamples is the minimum window fill before the failure rate is
	// acted on (default: 4)
	MinSamples int
	// FailureRateThreshold escalates one level when exceeded
	// (default: 0.5)
	FailureRateThreshold float64
	// AbortFailureRate escalates straight to aborted when reached with a
	// full window (default: 0.9)
	AbortFailureRate float64
	// HealthyWindow is the consecutive-success run required to
	// de-escalate one level (default: 5)
	HealthyWindow int
}

// DefaultControllerConfig returns default degradation thresholds.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		WindowSize:           10,
		MinSamples:           4,
		FailureRateThreshold: 0.5,
		AbortFailureRate:     0.9,
		HealthyWindow:        5,
	}
}

// Controller tracks plugin outcomes in a rolling window and moves the run
// between degradation levels. Escalation fires once per breach: after a
// level change the controller stays put until the window fully turns over
// or the healthy-window criterion re-arms it, so a burst of failures cannot
// cascade straight to abort. The abort rate is the one exception, since
// past that point the run is not worth continuing.
type Controller struct {
	mu              sync.RWMutex
	cfg             ControllerConfig
	level           Level
	outcomes        []bool
	healthyStreak   int
	armed           bool
	sinceEscalation int
	notify          func(events.Event)
	runID           string
	now             func() time.Time
}

// NewController creates a degradation controller at LevelNormal. Zero-value
// config fields fall back to defaults.
func NewController(cfg ControllerConfig) *Controller {
	def := DefaultControllerConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.FailureRateThreshold <= 0 {
		cfg.FailureRateThreshold = def.FailureRateThreshold
	}
	if cfg.AbortFailureRate <= 0 {
		cfg.AbortFailureRate = def.AbortFailureRate
	}
	if cfg.HealthyWindow <= 0 {
		cfg.HealthyWindow = def.HealthyWindow
	}
	return &Controller{
		cfg:   cfg,
		level: LevelNormal,
		armed: true,
		now:   time.Now,
	}
}

// SetNotifier wires the callback used to announce level changes. The
// orchestrator installs its event publisher here before a run starts.
func (c *Controller) SetNotifier(runID string, notify func(events.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runID = runID
	c.notify = notify
}

// RecordOutcome feeds one terminal plugin outcome into the rolling window
// and re-evaluates the degradation level.
func (c *Controller) RecordOutcome(success bool) {
	c.mu.Lock()

	c.outcomes = append(c.outcomes, success)
	if len(c.outcomes) > c.cfg.WindowSize {
		c.outcomes = c.outcomes[len(c.outcomes)-c.cfg.WindowSize:]
	}
	if success {
		c.healthyStreak++
	} else {
		c.healthyStreak = 0
	}

	old := c.level
	c.evaluateLocked()
	newLevel := c.level
	notify := c.notify
	runID := c.runID

	c.mu.Unlock()

	if newLevel != old && notify != nil {
		c.announce(notify, runID, old, newLevel)
	}
}

// evaluateLocked applies the escalation and de-escalation rules. Caller
// holds the write lock.
func (c *Controller) evaluateLocked() {
	if c.level == LevelAborted {
		return
	}

	if !c.armed {
		c.sinceEscalation++
		if c.sinceEscalation >= c.cfg.WindowSize {
			// Window has fully turned over: any breach now is a new one.
			c.armed = true
		}
	}

	samples := len(c.outcomes)
	failures := 0
	for _, ok := range c.outcomes {
		if !ok {
			failures++
		}
	}

	if samples >= c.cfg.MinSamples {
		rate := float64(failures) / float64(samples)

		if samples >= c.cfg.WindowSize && rate >= c.cfg.AbortFailureRate {
			c.level = LevelAborted
			return
		}
		if c.armed && rate > c.cfg.FailureRateThreshold {
			c.level++
			c.armed = false
			c.sinceEscalation = 0
			c.healthyStreak = 0
			return
		}
	}

	if c.level > LevelNormal && c.healthyStreak >= c.cfg.HealthyWindow {
		c.level--
		c.armed = true
		c.healthyStreak = 0
	} else if !c.armed && c.healthyStreak >= c.cfg.HealthyWindow {
		c.armed = true
	}
}

func (c *Controller) announce(notify func(events.Event), runID string, old, newLevel Level) {
	sev := events.SeverityWarning
	if newLevel == LevelAborted {
		sev = events.SeverityCritical
	} else if newLevel < old {
		sev = events.SeverityInfo
	}
	h := c.Health()
	ev := events.New(events.EventTypeDegradationChanged, runID, sev,
		fmt.Sprintf("degradation level %s -> %s (failure rate %.0f%%)",
			old, newLevel, h.FailureRate*100))
	ev.Data = events.DegradationChangedData{
		FromLevel:   old.String(),
		ToLevel:     newLevel.String(),
		FailureRate: h.FailureRate,
		Reason:      fmt.Sprintf("%d of %d recent tasks failed", h.Failures, h.Samples),
	}
	notify(ev)
}

// Level returns the current degradation level.
func (c *Controller) Level() Level {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.level
}

// Aborted reports whether the run has degraded past the point of continuing.
func (c *Controller) Aborted() bool {
	return c.Level() == LevelAborted
}

// Health returns a snapshot of the rolling window.
func (c *Controller) Health() HealthMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	failures := 0
	for _, ok := range c.outcomes {
		if !ok {
			failures++
		}
	}
	m := HealthMetrics{
		Level:         c.level,
		Samples:       len(c.outcomes),
		Failures:      failures,
		HealthyStreak: c.healthyStreak,
	}
	if m.Samples > 0 {
		m.FailureRate = float64(failures) / float64(m.Samples)
	}
	return m
}

// MaxWorkersFor shrinks a base worker ceiling to fit the current level.
func (c *Controller) MaxWorkersFor(base int) int {
	switch c.Level() {
	case LevelNormal:
		return base
	case LevelReduced:
		half := base / 2
		if half < 1 {
			half = 1
		}
		return half
	case LevelMinimal:
		return 1
	default:
		return 0
	}
}

// AllowPlugin reports whether a plugin may still be started at the current
// level. Minimal keeps essential plugins only; aborted admits nothing.
func (c *Controller) AllowPlugin(essential bool) bool {
	switch c.Level() {
	case LevelNormal, LevelReduced:
		return true
	case LevelMinimal:
		return essential
	default:
		return false
	}
}

// Reset returns the controller to LevelNormal with an empty window. Called
// between runs.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = LevelNormal
	c.outcomes = nil
	c.healthyStreak = 0
	c.sinceEscalation = 0
	c.armed = true
}
