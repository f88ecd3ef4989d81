package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/codevet/codevet/internal/types"
)

// ExecutionContext carries everything a plugin needs for one execution.
type ExecutionContext struct {
	// RunID is the analysis run this execution belongs to
	RunID string
	// ProjectRoot is the absolute path of the project under analysis
	ProjectRoot string
	// Files restricts the analysis to specific paths, empty means the
	// whole project
	Files []string
	// Options are the plugin options from configuration
	Options map[string]string
}

// CacheKey returns the deterministic input fingerprint for result caching.
// Identical project, files, and options produce the identical key.
func (ec *ExecutionContext) CacheKey() string {
	files := make([]string, len(ec.Files))
	copy(files, ec.Files)
	sort.Strings(files)

	opts := make([]string, 0, len(ec.Options))
	for k, v := range ec.Options {
		opts = append(opts, k+"="+v)
	}
	sort.Strings(opts)

	key := ec.ProjectRoot
	for _, f := range files {
		key += "\x00" + f
	}
	for _, o := range opts {
		key += "\x01" + o
	}
	return key
}

// Plugin is the contract every analysis tool adapter implements. Execute
// must honor context cancellation; the scheduler applies per-task timeouts
// through ctx.
type Plugin interface {
	// Name returns the unique plugin name used in config and results
	Name() string
	// Initialize prepares the plugin before its first execution
	Initialize(ctx context.Context, config types.PluginConfig) error
	// Execute runs the analysis and returns raw, tool-shaped results
	Execute(ctx context.Context, ec *ExecutionContext) (*types.RawResult, error)
	// Cleanup releases anything Initialize acquired
	Cleanup() error
}

// Registry holds the plugins available to the orchestrator.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin. Registering a duplicate or unnamed plugin is an
// error.
func (r *Registry) Register(p Plugin) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("plugin must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[p.Name()]; exists {
		return fmt.Errorf("plugin %q already registered", p.Name())
	}
	r.plugins[p.Name()] = p
	return nil
}

// Get returns the named plugin, or an error naming it when absent.
func (r *Registry) Get(name string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("plugin %q not registered", name)
	}
	return p, nil
}

// Names returns the registered plugin names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
