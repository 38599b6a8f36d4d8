package resilience

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Names of the breakers pre-registered by NewDependencyRegistry.
const (
	DependencyLLM      = "llm"
	DependencyMCP      = "mcp"
	DependencyDatabase = "database"
)

// Registry holds named breakers shared by every call site that talks to the
// same dependency. Construct one per process and pass it by reference.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]Breaker
	opts     []Option
}

// NewRegistry creates an empty registry. opts are applied to every breaker
// it builds.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		breakers: make(map[string]Breaker),
		opts:     opts,
	}
}

// NewDependencyRegistry creates a registry with the llm, mcp and database
// breakers pre-registered.
func NewDependencyRegistry(opts ...Option) *Registry {
	r := NewRegistry(opts...)
	for name, cfg := range DependencyBreakerConfigs() {
		// Built-in configs are valid.
		if _, err := r.Register(name, cfg); err != nil {
			panic(err)
		}
	}
	return r
}

// DependencyBreakerConfigs returns the configs of the pre-registered
// dependency breakers.
func DependencyBreakerConfigs() map[string]CircuitBreakerConfig {
	return map[string]CircuitBreakerConfig{
		DependencyLLM: {
			Strategy:         StrategyConsecutive,
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
		},
		DependencyMCP: {
			Strategy:         StrategyConsecutive,
			FailureThreshold: 3,
			RecoveryTimeout:  30 * time.Second,
		},
		DependencyDatabase: {
			Strategy:         StrategyConsecutive,
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
		},
	}
}

// Register builds a breaker from config and stores it under name.
// Registering a name twice is an error.
func (r *Registry) Register(name string, config CircuitBreakerConfig) (Breaker, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: breaker name is required", ErrInvalidConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.breakers[name]; ok {
		return nil, fmt.Errorf("%w: breaker %q already registered", ErrInvalidConfig, name)
	}
	b, err := NewBreaker(name, config, r.opts...)
	if err != nil {
		return nil, fmt.Errorf("breaker %q: %w", name, err)
	}
	r.breakers[name] = b
	return b, nil
}

// Get returns the breaker registered under name.
func (r *Registry) Get(name string) (Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// MustGet returns the breaker registered under name and panics if there is none.
func (r *Registry) MustGet(name string) Breaker {
	b, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("resilience: no breaker registered as %q", name))
	}
	return b
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots returns a snapshot of every breaker, sorted by name.
func (r *Registry) Snapshots() []BreakerSnapshot {
	names := r.Names()
	snaps := make([]BreakerSnapshot, 0, len(names))
	for _, name := range names {
		if b, ok := r.Get(name); ok {
			snaps = append(snaps, b.Snapshot())
		}
	}
	return snaps
}

// Health returns the health status of every breaker keyed by name.
func (r *Registry) Health() map[string]HealthStatus {
	health := make(map[string]HealthStatus)
	for _, s := range r.Snapshots() {
		health[s.Name] = NewHealthStatus(s)
	}
	return health
}

// ResetAll forces every breaker closed.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	breakers := make([]Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	for _, b := range breakers {
		b.Reset()
	}
}
