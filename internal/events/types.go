package events

import (
	"time"
)

// EventType represents the type of event that occurred during an analysis run.
type EventType string

const (
	// Run lifecycle events
	// EventTypeRunStarted indicates an analysis run began
	EventTypeRunStarted EventType = "run_started"
	// EventTypeRunCompleted indicates an analysis run finished (fully or partially)
	EventTypeRunCompleted EventType = "run_completed"
	// EventTypeRunAborted indicates degradation aborted the run
	EventTypeRunAborted EventType = "run_aborted"

	// Task lifecycle events
	// EventTypeTaskQueued indicates a plugin task entered the scheduler queue
	EventTypeTaskQueued EventType = "task_queued"
	// EventTypeTaskStarted indicates a plugin task began executing
	EventTypeTaskStarted EventType = "task_started"
	// EventTypeTaskCompleted indicates a plugin task reached a terminal state
	EventTypeTaskCompleted EventType = "task_completed"
	// EventTypeTaskRetrying indicates a failed task is being retried
	EventTypeTaskRetrying EventType = "task_retrying"

	// Cache events
	// EventTypeCacheHit indicates a plugin result was served from cache
	EventTypeCacheHit EventType = "cache_hit"
	// EventTypeCacheMiss indicates a plugin result was not in cache
	EventTypeCacheMiss EventType = "cache_miss"

	// Resource events
	// EventTypeResourcePressure indicates a resource crossed a warning or
	// critical threshold
	EventTypeResourcePressure EventType = "resource_pressure"
	// EventTypeResourceRecovered indicates a resource dropped back below its
	// warning threshold
	EventTypeResourceRecovered EventType = "resource_recovered"
	// EventTypeThrottleEngaged indicates CPU throttling was engaged
	EventTypeThrottleEngaged EventType = "throttle_engaged"
	// EventTypeThrottleReleased indicates CPU throttling was lifted
	EventTypeThrottleReleased EventType = "throttle_released"

	// Degradation events
	// EventTypeDegradationChanged indicates the degradation level changed
	EventTypeDegradationChanged EventType = "degradation_changed"
)

// EventSeverity represents the severity level of an event.
type EventSeverity string

const (
	// SeverityInfo indicates informational events
	SeverityInfo EventSeverity = "info"
	// SeverityWarning indicates potentially problematic events
	SeverityWarning EventSeverity = "warning"
	// SeverityError indicates error events
	SeverityError EventSeverity = "error"
	// SeverityCritical indicates critical events requiring immediate attention
	SeverityCritical EventSeverity = "critical"
)

// Event is a single occurrence published on the bus during a run.
type Event struct {
	// ID is the unique identifier for this event
	ID string `json:"id"`
	// Type is the type of event
	Type EventType `json:"type"`
	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`
	// RunID is the analysis run this event belongs to
	RunID string `json:"run_id"`
	// Plugin is the plugin involved, if the event is task-scoped
	Plugin string `json:"plugin,omitempty"`
	// Severity is the severity level of this event
	Severity EventSeverity `json:"severity"`
	// Message is a human-readable description of the event
	Message string `json:"message"`
	// Data contains structured, type-specific data (ProgressData,
	// ResourcePressureData, DegradationChangedData)
	Data interface{} `json:"data,omitempty"`
}

// ProgressData contains structured data for task lifecycle events.
type ProgressData struct {
	// Queued is the number of tasks waiting to run
	Queued int `json:"queued"`
	// Running is the number of tasks currently executing
	Running int `json:"running"`
	// Completed is the number of tasks that succeeded
	Completed int `json:"completed"`
	// Failed is the number of tasks that failed or were skipped
	Failed int `json:"failed"`
}

// ResourcePressureData contains structured data for resource pressure events.
type ResourcePressureData struct {
	// Kind is the resource kind (memory, cpu, io, network)
	Kind string `json:"kind"`
	// Status is the threshold tier (normal, warning, critical)
	Status string `json:"status"`
	// Fraction is current usage as a fraction of the kind's limit
	Fraction float64 `json:"fraction"`
}

// DegradationChangedData contains structured data for degradation level changes.
type DegradationChangedData struct {
	// FromLevel is the previous degradation level
	FromLevel string `json:"from_level"`
	// ToLevel is the new degradation level
	ToLevel string `json:"to_level"`
	// FailureRate is the rolling failure rate that drove the change
	FailureRate float64 `json:"failure_rate"`
	// Reason explains what triggered the transition
	Reason string `json:"reason"`
}
