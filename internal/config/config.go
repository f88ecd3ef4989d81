package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codevet/codevet/internal/types"
)

// DefaultFileName is the configuration file looked up in the working
// directory when no --config flag is given.
const DefaultFileName = "codevet.yaml"

// Duration wraps time.Duration so YAML can carry values like "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// CacheConfig tunes the cache manager.
type CacheConfig struct {
	// Capacity is the general cache entry limit; the result cache gets half
	// Default: 256, Range: 1-100000
	Capacity int `yaml:"capacity"`

	// TTL is the default entry lifetime
	// Default: 10m
	TTL Duration `yaml:"ttl"`

	// ConfigTTL is the project-configuration cache lifetime
	// Default: 1h
	ConfigTTL Duration `yaml:"config_ttl"`

	// SweepInterval is how often expired entries are purged in the background
	// Default: 1m
	SweepInterval Duration `yaml:"sweep_interval"`
}

// ResourceConfig tunes the resource governor.
type ResourceConfig struct {
	// MemoryLimitMB caps projected memory allocations
	// Default: 1024, Range: 64-1048576
	MemoryLimitMB int `yaml:"memory_limit_mb"`

	// CPUMaxPercent caps projected CPU allocations
	// Default: 80, Range: 1-100
	CPUMaxPercent float64 `yaml:"cpu_max_percent"`

	// IOMaxConcurrent caps concurrent io allocations
	// Default: 16
	IOMaxConcurrent int `yaml:"io_max_concurrent"`

	// NetworkMaxConcurrent caps concurrent network allocations
	// Default: 16
	NetworkMaxConcurrent int `yaml:"network_max_concurrent"`

	// WarningFraction and CriticalFraction set the pressure tiers as
	// fractions of each limit
	// Defaults: 0.7 and 0.9, WarningFraction < CriticalFraction <= 1
	WarningFraction  float64 `yaml:"warning_fraction"`
	CriticalFraction float64 `yaml:"critical_fraction"`

	// MemoryPerTaskMB is the memory amount requested per plugin execution
	// Default: 128
	MemoryPerTaskMB int `yaml:"memory_per_task_mb"`
}

// SchedulerConfig tunes the worker pool.
type SchedulerConfig struct {
	// Workers is the worker pool ceiling
	// Default: 4, Range: 1-256
	Workers int `yaml:"workers"`

	// TaskTimeout bounds one plugin execution
	// Default: 2m
	TaskTimeout Duration `yaml:"task_timeout"`

	// AdmissionTimeout bounds the wait for a resource grant
	// Default: 30s
	AdmissionTimeout Duration `yaml:"admission_timeout"`
}

// DegradationConfig tunes error recovery and graceful degradation.
type DegradationConfig struct {
	// MaxAttempts is the retry ceiling including the first attempt
	// Default: 3, Range: 1-10
	MaxAttempts int `yaml:"max_attempts"`

	// WindowSize is the rolling outcome window length
	// Default: 10
	WindowSize int `yaml:"window_size"`

	// FailureRateThreshold escalates the degradation level when exceeded
	// Default: 0.5, Range: (0, 1]
	FailureRateThreshold float64 `yaml:"failure_rate_threshold"`

	// HealthyWindow is the consecutive-success run required to de-escalate
	// Default: 5
	HealthyWindow int `yaml:"healthy_window"`
}

// Config is the full configuration surface read from codevet.yaml.
type Config struct {
	Cache       CacheConfig        `yaml:"cache"`
	Resources   ResourceConfig     `yaml:"resources"`
	Scheduler   SchedulerConfig    `yaml:"scheduler"`
	Degradation DegradationConfig  `yaml:"degradation"`
	Scoring     map[string]float64 `yaml:"scoring,omitempty"`
	Project     types.Project      `yaml:"project"`
}

// Default returns the default configuration with no project.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			Capacity:      256,
			TTL:           Duration(10 * time.Minute),
			ConfigTTL:     Duration(time.Hour),
			SweepInterval: Duration(time.Minute),
		},
		Resources: ResourceConfig{
			MemoryLimitMB:        1024,
			CPUMaxPercent:        80,
			IOMaxConcurrent:      16,
			NetworkMaxConcurrent: 16,
			WarningFraction:      0.7,
			CriticalFraction:     0.9,
			MemoryPerTaskMB:      128,
		},
		Scheduler: SchedulerConfig{
			Workers:          4,
			TaskTimeout:      Duration(2 * time.Minute),
			AdmissionTimeout: Duration(30 * time.Second),
		},
		Degradation: DegradationConfig{
			MaxAttempts:          3,
			WindowSize:           10,
			FailureRateThreshold: 0.5,
			HealthyWindow:        5,
		},
	}
}

// Load reads the configuration file, applies environment overrides, and
// validates the result. A missing file is not an error when path is empty:
// defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = DefaultFileName
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file: defaults plus environment.
	default:
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overlays CODEVET_* environment variables on the loaded file.
func applyEnv(cfg *Config) error {
	if err := parseEnvInt("CODEVET_WORKERS", &cfg.Scheduler.Workers); err != nil {
		return err
	}
	if err := parseEnvInt("CODEVET_MEMORY_LIMIT_MB", &cfg.Resources.MemoryLimitMB); err != nil {
		return err
	}
	if err := parseEnvInt("CODEVET_CACHE_CAPACITY", &cfg.Cache.Capacity); err != nil {
		return err
	}
	if err := parseEnvDuration("CODEVET_TASK_TIMEOUT", &cfg.Scheduler.TaskTimeout); err != nil {
		return err
	}
	return nil
}

// Validate checks every section and names the offending field.
func (c Config) Validate() error {
	if c.Cache.Capacity < 1 || c.Cache.Capacity > 100000 {
		return fmt.Errorf("cache.capacity must be between 1 and 100000 (got %d)", c.Cache.Capacity)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl cannot be negative (got %s)", c.Cache.TTL.Std())
	}

	if c.Resources.MemoryLimitMB < 64 || c.Resources.MemoryLimitMB > 1048576 {
		return fmt.Errorf("resources.memory_limit_mb must be between 64 and 1048576 (got %d)",
			c.Resources.MemoryLimitMB)
	}
	if c.Resources.CPUMaxPercent <= 0 || c.Resources.CPUMaxPercent > 100 {
		return fmt.Errorf("resources.cpu_max_percent must be between 1 and 100 (got %g)",
			c.Resources.CPUMaxPercent)
	}
	if c.Resources.WarningFraction <= 0 || c.Resources.WarningFraction >= 1 {
		return fmt.Errorf("resources.warning_fraction must be within (0, 1) (got %g)",
			c.Resources.WarningFraction)
	}
	if c.Resources.CriticalFraction <= c.Resources.WarningFraction || c.Resources.CriticalFraction > 1 {
		return fmt.Errorf("resources.critical_fraction (%g) must be above warning_fraction (%g) and at most 1",
			c.Resources.CriticalFraction, c.Resources.WarningFraction)
	}
	if c.Resources.MemoryPerTaskMB < 1 || c.Resources.MemoryPerTaskMB > c.Resources.MemoryLimitMB {
		return fmt.Errorf("resources.memory_per_task_mb must be between 1 and memory_limit_mb (got %d)",
			c.Resources.MemoryPerTaskMB)
	}

	if c.Scheduler.Workers < 1 || c.Scheduler.Workers > 256 {
		return fmt.Errorf("scheduler.workers must be between 1 and 256 (got %d)", c.Scheduler.Workers)
	}
	if c.Scheduler.TaskTimeout <= 0 {
		return fmt.Errorf("scheduler.task_timeout must be positive (got %s)", c.Scheduler.TaskTimeout.Std())
	}

	if c.Degradation.MaxAttempts < 1 || c.Degradation.MaxAttempts > 10 {
		return fmt.Errorf("degradation.max_attempts must be between 1 and 10 (got %d)",
			c.Degradation.MaxAttempts)
	}
	if c.Degradation.WindowSize < 1 {
		return fmt.Errorf("degradation.window_size must be at least 1 (got %d)", c.Degradation.WindowSize)
	}
	if c.Degradation.FailureRateThreshold <= 0 || c.Degradation.FailureRateThreshold > 1 {
		return fmt.Errorf("degradation.failure_rate_threshold must be within (0, 1] (got %g)",
			c.Degradation.FailureRateThreshold)
	}

	for dim, w := range c.Scoring {
		if w < 0 {
			return fmt.Errorf("scoring.%s cannot be negative (got %g)", dim, w)
		}
	}

	seen := make(map[string]bool, len(c.Project.Plugins))
	for _, pc := range c.Project.Plugins {
		if pc.Name == "" {
			return fmt.Errorf("project.plugins entries must have a name")
		}
		if seen[pc.Name] {
			return fmt.Errorf("project.plugins lists %q more than once", pc.Name)
		}
		seen[pc.Name] = true
	}
	return nil
}

func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvDuration(key string, dest *Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = Duration(parsed)
	return nil
}
