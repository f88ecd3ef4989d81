package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/codevet/codevet/internal/types"
)

// Manager owns the three independently tuned cache instances the analysis
// core shares: a general-purpose cache, a long-TTL project-configuration
// cache, and a half-capacity per-plugin result cache keyed by
// (plugin name, content hash of inputs).
type Manager struct {
	general *Cache[string, any]
	config  *Cache[string, *types.Project]
	results *Cache[string, *types.NormalizedResult]
}

// ManagerConfig holds per-instance cache tuning.
type ManagerConfig struct {
	// General tunes the general-purpose cache
	General Config
	// ProjectConfig tunes the project-configuration cache; TTL defaults to 1h
	ProjectConfig Config
	// ResultTTL is the TTL for plugin results (default: general TTL).
	// Result capacity is always half the general capacity.
	ResultTTL time.Duration
}

// DefaultManagerConfig returns default tuning for all three instances.
func DefaultManagerConfig() ManagerConfig {
	general := DefaultConfig()
	projectCfg := DefaultConfig()
	projectCfg.Capacity = 64
	projectCfg.DefaultTTL = time.Hour

	return ManagerConfig{
		General:       general,
		ProjectConfig: projectCfg,
		ResultTTL:     general.DefaultTTL,
	}
}

// NewManager creates the three cache instances.
func NewManager(cfg ManagerConfig) *Manager {
	def := DefaultManagerConfig()
	if cfg.General.Capacity <= 0 {
		cfg.General = def.General
	}
	if cfg.ProjectConfig.Capacity <= 0 {
		cfg.ProjectConfig = def.ProjectConfig
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = cfg.General.DefaultTTL
	}

	resultCfg := cfg.General
	resultCfg.Capacity = cfg.General.Capacity / 2
	if resultCfg.Capacity < 1 {
		resultCfg.Capacity = 1
	}
	resultCfg.DefaultTTL = cfg.ResultTTL

	return &Manager{
		general: New[string, any](cfg.General),
		config:  New[string, *types.Project](cfg.ProjectConfig),
		results: New[string, *types.NormalizedResult](resultCfg),
	}
}

// Start launches the background sweeps for all instances.
func (m *Manager) Start() {
	m.general.Start()
	m.config.Start()
	m.results.Start()
}

// Stop cancels all background sweeps.
func (m *Manager) Stop() {
	m.general.Stop()
	m.config.Stop()
	m.results.Stop()
}

// General returns the general-purpose cache.
func (m *Manager) General() *Cache[string, any] {
	return m.general
}

// ProjectConfig returns the project-configuration cache.
func (m *Manager) ProjectConfig() *Cache[string, *types.Project] {
	return m.config
}

// GetResult returns a cached plugin result, if present and unexpired.
func (m *Manager) GetResult(plugin string, inputs []byte) (*types.NormalizedResult, bool) {
	return m.results.Get(ResultKey(plugin, inputs))
}

// SetResult caches a plugin result under its input hash.
func (m *Manager) SetResult(plugin string, inputs []byte, result *types.NormalizedResult) {
	m.results.Set(ResultKey(plugin, inputs), result)
}

// InvalidateResults drops the whole plugin-result cache. Allocation
// provenance is not tracked per project, so project-scoped invalidation is
// approximate: everything goes.
func (m *Manager) InvalidateResults() {
	m.results.Purge()
}

// ResultStats returns counters for the plugin-result cache.
func (m *Manager) ResultStats() Stats {
	return m.results.Stats()
}

// ResultKey derives the result-cache key from the plugin name and a content
// hash of its inputs, so repeated analysis of unchanged inputs is free.
func ResultKey(plugin string, inputs []byte) string {
	sum := sha256.Sum256(inputs)
	return fmt.Sprintf("%s:%s", plugin, hex.EncodeToString(sum[:]))
}
