package config

import (
	"github.com/codevet/codevet/internal/aggregate"
	"github.com/codevet/codevet/internal/cache"
	"github.com/codevet/codevet/internal/degrade"
	"github.com/codevet/codevet/internal/governor"
	"github.com/codevet/codevet/internal/orchestrator"
	"github.com/codevet/codevet/internal/scheduler"
)

// Orchestrator converts the file configuration into component tuning.
func (c Config) Orchestrator() orchestrator.Config {
	general := cache.Config{
		Capacity:      c.Cache.Capacity,
		DefaultTTL:    c.Cache.TTL.Std(),
		SweepInterval: c.Cache.SweepInterval.Std(),
	}
	projectCfg := general
	projectCfg.Capacity = 64
	projectCfg.DefaultTTL = c.Cache.ConfigTTL.Std()

	var weights aggregate.Weights
	if len(c.Scoring) > 0 {
		weights = aggregate.Weights(c.Scoring)
	}

	return orchestrator.Config{
		Cache: cache.ManagerConfig{
			General:       general,
			ProjectConfig: projectCfg,
			ResultTTL:     c.Cache.TTL.Std(),
		},
		Governor: governor.Config{
			MemoryLimitBytes:     uint64(c.Resources.MemoryLimitMB) << 20,
			CPUMaxPercent:        c.Resources.CPUMaxPercent,
			IOMaxConcurrent:      c.Resources.IOMaxConcurrent,
			NetworkMaxConcurrent: c.Resources.NetworkMaxConcurrent,
			WarningFraction:      c.Resources.WarningFraction,
			CriticalFraction:     c.Resources.CriticalFraction,
		},
		Scheduler: scheduler.Config{
			Workers:            c.Scheduler.Workers,
			DefaultTaskTimeout: c.Scheduler.TaskTimeout.Std(),
			AdmissionTimeout:   c.Scheduler.AdmissionTimeout.Std(),
			MemoryPerTask:      uint64(c.Resources.MemoryPerTaskMB) << 20,
		},
		Classifier: degrade.ClassifierConfig{
			MaxAttempts: c.Degradation.MaxAttempts,
		},
		Controller: degrade.ControllerConfig{
			WindowSize:           c.Degradation.WindowSize,
			FailureRateThreshold: c.Degradation.FailureRateThreshold,
			HealthyWindow:        c.Degradation.HealthyWindow,
		},
		Weights: weights,
	}
}
