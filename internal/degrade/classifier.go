package degrade

import (
	"context"
	"errors"
	"time"
)

// RecoveryStrategy is the deterministic remedy chosen for a failure.
type RecoveryStrategy string

const (
	// RecoveryRetry re-executes the task after a backoff
	RecoveryRetry RecoveryStrategy = "retry"
	// RecoverySkip abandons the task and continues the run
	RecoverySkip RecoveryStrategy = "skip"
	// RecoveryDegrade reduces attempted work before continuing
	RecoveryDegrade RecoveryStrategy = "degrade"
	// RecoveryAbort stops the run and surfaces a partial result
	RecoveryAbort RecoveryStrategy = "abort"
)

// ErrorSeverity grades a captured failure.
type ErrorSeverity string

const (
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityCritical ErrorSeverity = "critical"
)

// Sentinel failure causes the scheduler reports to the classifier.
var (
	// ErrResourceDenied indicates the governor rejected or timed out a
	// resource request. Transient: retried with backoff.
	ErrResourceDenied = errors.New("resource admission denied")
	// ErrPluginPanic indicates the plugin crashed. Not retried.
	ErrPluginPanic = errors.New("plugin panicked")
)

// AnalysisError is a captured task failure tagged with severity and a
// recovery strategy.
type AnalysisError struct {
	// Plugin is the plugin whose execution failed
	Plugin string
	// Err is the underlying failure
	Err error
	// Severity grades the failure
	Severity ErrorSeverity
	// Strategy is the chosen remedy
	Strategy RecoveryStrategy
	// Attempt is the 1-based attempt number that failed
	Attempt int
	// Backoff is the wait before the next attempt when Strategy is retry
	Backoff time.Duration
	// Timestamp is when the failure was classified
	Timestamp time.Time
}

// Error implements the error interface.
func (e *AnalysisError) Error() string {
	return e.Plugin + ": " + e.Err.Error()
}

// Unwrap exposes the underlying failure for errors.Is/As.
func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// Classifier maps failures to recovery strategies. Classification is
// deterministic: the same error kind at the same attempt always yields the
// same strategy.
type Classifier struct {
	maxAttempts int
	backoff     []time.Duration
	now         func() time.Time
}

// ClassifierConfig holds retry limits and backoff steps.
type ClassifierConfig struct {
	// MaxAttempts is the retry ceiling including the first attempt
	// (default: 3)
	MaxAttempts int
	// Backoff holds per-retry waits; the last entry repeats
	// (default: 1s, 5s)
	Backoff []time.Duration
}

// DefaultClassifierConfig returns default classifier configuration.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		MaxAttempts: 3,
		Backoff:     []time.Duration{time.Second, 5 * time.Second},
	}
}

// NewClassifier creates a classifier. Zero-value config fields fall back to
// defaults.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	def := DefaultClassifierConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = def.Backoff
	}
	return &Classifier{
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		now:         time.Now,
	}
}

// MaxAttempts returns the configured retry ceiling.
func (c *Classifier) MaxAttempts() int {
	return c.maxAttempts
}

// Classify converts a task failure into an AnalysisError with a recovery
// strategy:
//   - timeouts and resource denials retry with backoff up to the attempt
//     ceiling, then convert to skip
//   - plugin crashes skip immediately and the run continues
//   - anything else is a one-off failure: skip
func (c *Classifier) Classify(plugin string, err error, attempt int) *AnalysisError {
	ae := &AnalysisError{
		Plugin:    plugin,
		Err:       err,
		Attempt:   attempt,
		Timestamp: c.now(),
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrResourceDenied):
		if attempt < c.maxAttempts {
			ae.Severity = ErrorSeverityLow
			ae.Strategy = RecoveryRetry
			ae.Backoff = c.backoffFor(attempt)
		} else {
			// Retries exhausted: skip, leaving the rest of the run
			// unaffected.
			ae.Severity = ErrorSeverityMedium
			ae.Strategy = RecoverySkip
		}
	case errors.Is(err, ErrPluginPanic):
		ae.Severity = ErrorSeverityHigh
		ae.Strategy = RecoverySkip
	case errors.Is(err, context.Canceled):
		ae.Severity = ErrorSeverityLow
		ae.Strategy = RecoverySkip
	default:
		ae.Severity = ErrorSeverityMedium
		ae.Strategy = RecoverySkip
	}

	return ae
}

// backoffFor returns the wait before retry number attempt+1. The last
// configured step repeats for deeper attempts.
func (c *Classifier) backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(c.backoff) {
		idx = len(c.backoff) - 1
	}
	return c.backoff[idx]
}
