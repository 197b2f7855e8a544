package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry hands out one breaker per dependency name. Build it once at
// startup and pass it to every client that needs protection.
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*CircuitBreaker
	overrides map[string]BreakerConfig
	defaults  BreakerConfig
	store     Store
	classify  Classifier
	logger    *zap.Logger
	observer  StateObserver
	now       func() time.Time
}

type RegistryOption func(*Registry)

func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

func WithObserver(o StateObserver) RegistryOption {
	return func(r *Registry) { r.observer = o }
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithFailureClassifier decides which errors count against a breaker.
func WithFailureClassifier(c Classifier) RegistryOption {
	return func(r *Registry) { r.classify = c }
}

// WithBreakerConfig overrides thresholds for one dependency.
func WithBreakerConfig(name string, cfg BreakerConfig) RegistryOption {
	return func(r *Registry) { r.overrides[name] = cfg.withDefaults() }
}

func NewRegistry(store Store, defaults BreakerConfig, opts ...RegistryOption) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		overrides: make(map[string]BreakerConfig),
		defaults:  defaults.withDefaults(),
		store:     store,
		classify:  DefaultClassifier,
		logger:    zap.NewNop(),
		observer:  noopObserver{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Breaker returns the breaker for name, creating it on first use.
func (r *Registry) Breaker(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cfg, ok := r.overrides[name]
	if !ok {
		cfg = r.defaults
	}
	cb := &CircuitBreaker{
		name:     name,
		cfg:      cfg,
		store:    r.store,
		counts:   r.classify,
		logger:   r.logger,
		observer: r.observer,
		now:      r.now,
	}
	r.breakers[name] = cb
	return cb
}

// BreakerStatus is one row of Snapshot.
type BreakerStatus struct {
	Name   string        `json:"name"`
	Config BreakerConfig `json:"config"`
	CircuitState
}

// Snapshot reports every breaker created so far, sorted by name.
func (r *Registry) Snapshot(ctx context.Context) ([]BreakerStatus, error) {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	sort.Slice(breakers, func(i, j int) bool { return breakers[i].name < breakers[j].name })

	out := make([]BreakerStatus, 0, len(breakers))
	for _, cb := range breakers {
		st, err := cb.State(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, BreakerStatus{Name: cb.name, Config: cb.cfg, CircuitState: st})
	}
	return out, nil
}

// Reset closes the named circuit.
func (r *Registry) Reset(ctx context.Context, name string) error {
	return r.Breaker(name).Reset(ctx)
}
