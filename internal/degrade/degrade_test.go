package degrade

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/codevet/codevet/internal/events"
)

func TestClassifyTimeoutRetriesThenSkips(t *testing.T) {
	c := NewClassifier(ClassifierConfig{MaxAttempts: 3})

	first := c.Classify("go-test", context.DeadlineExceeded, 1)
	if first.Strategy != RecoveryRetry {
		t.Errorf("attempt 1 strategy = %s, want retry", first.Strategy)
	}
	if first.Backoff != time.Second {
		t.Errorf("attempt 1 backoff = %s, want 1s", first.Backoff)
	}

	second := c.Classify("go-test", context.DeadlineExceeded, 2)
	if second.Strategy != RecoveryRetry {
		t.Errorf("attempt 2 strategy = %s, want retry", second.Strategy)
	}
	if second.Backoff != 5*time.Second {
		t.Errorf("attempt 2 backoff = %s, want 5s", second.Backoff)
	}

	last := c.Classify("go-test", context.DeadlineExceeded, 3)
	if last.Strategy != RecoverySkip {
		t.Errorf("attempt 3 strategy = %s, want skip (retries exhausted)", last.Strategy)
	}
}

func TestClassifyResourceDenialRetries(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())

	wrapped := fmt.Errorf("memory request: %w", ErrResourceDenied)
	ae := c.Classify("eslint", wrapped, 1)
	if ae.Strategy != RecoveryRetry {
		t.Errorf("strategy = %s, want retry", ae.Strategy)
	}
	if !errors.Is(ae, ErrResourceDenied) {
		t.Error("classified error should unwrap to ErrResourceDenied")
	}
}

func TestClassifyPanicSkipsImmediately(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())

	ae := c.Classify("flaky", fmt.Errorf("%w: nil map write", ErrPluginPanic), 1)
	if ae.Strategy != RecoverySkip {
		t.Errorf("strategy = %s, want skip", ae.Strategy)
	}
	if ae.Severity != ErrorSeverityHigh {
		t.Errorf("severity = %s, want high", ae.Severity)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())

	for i := 0; i < 5; i++ {
		ae := c.Classify("tool", context.DeadlineExceeded, 2)
		if ae.Strategy != RecoveryRetry || ae.Backoff != 5*time.Second {
			t.Fatalf("iteration %d: strategy=%s backoff=%s", i, ae.Strategy, ae.Backoff)
		}
	}
}

func TestClassifyUnknownErrorSkips(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())

	ae := c.Classify("tool", errors.New("exit status 2"), 1)
	if ae.Strategy != RecoverySkip {
		t.Errorf("strategy = %s, want skip", ae.Strategy)
	}
}

func TestControllerEscalatesExactlyOnce(t *testing.T) {
	c := NewController(ControllerConfig{
		WindowSize:    10,
		MinSamples:    4,
		HealthyWindow: 3,
	})

	// Burst of failures crossing the rate threshold.
	for i := 0; i < 6; i++ {
		c.RecordOutcome(false)
	}
	if c.Level() != LevelReduced {
		t.Fatalf("level = %s, want reduced after breach", c.Level())
	}

	// More failures must not cascade further until the healthy window
	// re-arms escalation.
	c.RecordOutcome(false)
	c.RecordOutcome(false)
	if c.Level() != LevelReduced {
		t.Errorf("level = %s, want reduced (escalation disarmed)", c.Level())
	}

	// Recover, re-arm, then breach again: one more step.
	for i := 0; i < 10; i++ {
		c.RecordOutcome(true)
	}
	if c.Level() != LevelNormal {
		t.Fatalf("level = %s, want normal after sustained health", c.Level())
	}
	for i := 0; i < 6; i++ {
		c.RecordOutcome(false)
	}
	if c.Level() != LevelReduced {
		t.Errorf("level = %s, want reduced after second breach", c.Level())
	}
}

func TestControllerClimbsLadderOnSustainedFailure(t *testing.T) {
	c := NewController(ControllerConfig{
		WindowSize:           4,
		MinSamples:           2,
		FailureRateThreshold: 0.4,
		AbortFailureRate:     2, // unreachable: only the ladder escalates
		HealthyWindow:        3,
	})

	c.RecordOutcome(false)
	c.RecordOutcome(false)
	if c.Level() != LevelReduced {
		t.Fatalf("level = %s, want reduced", c.Level())
	}

	// Each full window turnover under sustained failure climbs one level.
	for i := 0; i < 4; i++ {
		c.RecordOutcome(false)
	}
	if c.Level() != LevelMinimal {
		t.Fatalf("level = %s, want minimal", c.Level())
	}

	for i := 0; i < 4; i++ {
		c.RecordOutcome(false)
	}
	if c.Level() != LevelAborted {
		t.Errorf("level = %s, want aborted at the top of the ladder", c.Level())
	}
}

func TestControllerDeEscalatesAfterHealthyWindow(t *testing.T) {
	c := NewController(ControllerConfig{
		WindowSize:    10,
		MinSamples:    4,
		HealthyWindow: 3,
	})

	for i := 0; i < 5; i++ {
		c.RecordOutcome(false)
	}
	if c.Level() != LevelReduced {
		t.Fatalf("level = %s, want reduced", c.Level())
	}

	// Two successes are not enough.
	c.RecordOutcome(true)
	c.RecordOutcome(true)
	if c.Level() != LevelReduced {
		t.Errorf("level = %s, want reduced (streak too short)", c.Level())
	}

	c.RecordOutcome(true)
	if c.Level() != LevelNormal {
		t.Errorf("level = %s, want normal after healthy window", c.Level())
	}
}

func TestControllerAbortsOnSaturatedFailure(t *testing.T) {
	c := NewController(ControllerConfig{
		WindowSize:       5,
		MinSamples:       2,
		AbortFailureRate: 0.9,
	})

	for i := 0; i < 5; i++ {
		c.RecordOutcome(false)
	}
	if c.Level() != LevelAborted {
		t.Errorf("level = %s, want aborted with full failing window", c.Level())
	}
	if !c.Aborted() {
		t.Error("Aborted() = false, want true")
	}

	// Aborted is terminal for the run.
	for i := 0; i < 10; i++ {
		c.RecordOutcome(true)
	}
	if c.Level() != LevelAborted {
		t.Errorf("level = %s, want aborted to stick", c.Level())
	}
}

func TestControllerNotifiesOnLevelChange(t *testing.T) {
	c := NewController(ControllerConfig{WindowSize: 10, MinSamples: 4, HealthyWindow: 3})

	var got []events.Event
	c.SetNotifier("run-1", func(ev events.Event) {
		got = append(got, ev)
	})

	for i := 0; i < 6; i++ {
		c.RecordOutcome(false)
	}
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if got[0].Type != events.EventTypeDegradationChanged {
		t.Errorf("event type = %s, want degradation_changed", got[0].Type)
	}
	data, ok := got[0].Data.(events.DegradationChangedData)
	if !ok {
		t.Fatalf("event data type = %T", got[0].Data)
	}
	if data.FromLevel != "normal" || data.ToLevel != "reduced" {
		t.Errorf("transition = %s -> %s, want normal -> reduced", data.FromLevel, data.ToLevel)
	}

	for i := 0; i < 3; i++ {
		c.RecordOutcome(true)
	}
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2 after de-escalation", len(got))
	}
	if got[1].Severity != events.SeverityInfo {
		t.Errorf("de-escalation severity = %s, want info", got[1].Severity)
	}
}

func TestMaxWorkersFor(t *testing.T) {
	tests := []struct {
		level Level
		base  int
		want  int
	}{
		{LevelNormal, 8, 8},
		{LevelReduced, 8, 4},
		{LevelReduced, 1, 1},
		{LevelMinimal, 8, 1},
		{LevelAborted, 8, 0},
	}

	for _, tt := range tests {
		c := NewController(DefaultControllerConfig())
		c.level = tt.level
		if got := c.MaxWorkersFor(tt.base); got != tt.want {
			t.Errorf("MaxWorkersFor(%d) at %s = %d, want %d", tt.base, tt.level, got, tt.want)
		}
	}
}

func TestAllowPlugin(t *testing.T) {
	c := NewController(DefaultControllerConfig())

	if !c.AllowPlugin(false) {
		t.Error("normal should allow non-essential plugins")
	}

	c.level = LevelMinimal
	if c.AllowPlugin(false) {
		t.Error("minimal should drop non-essential plugins")
	}
	if !c.AllowPlugin(true) {
		t.Error("minimal should keep essential plugins")
	}

	c.level = LevelAborted
	if c.AllowPlugin(true) {
		t.Error("aborted should admit nothing")
	}
}

func TestControllerReset(t *testing.T) {
	c := NewController(ControllerConfig{WindowSize: 5, MinSamples: 2})
	for i := 0; i < 5; i++ {
		c.RecordOutcome(false)
	}
	if c.Level() == LevelNormal {
		t.Fatal("expected degraded level before reset")
	}

	c.Reset()
	if c.Level() != LevelNormal {
		t.Errorf("level after reset = %s, want normal", c.Level())
	}
	if h := c.Health(); h.Samples != 0 {
		t.Errorf("samples after reset = %d, want 0", h.Samples)
	}
}
