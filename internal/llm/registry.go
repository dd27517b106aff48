package llm

import (
	"fmt"
	"sort"
	"sync"

	"dev.quorum.engine/internal/models"
)

// Constructor builds a live adapter for one configured provider. The
// resolved credential is passed in; constructors must not read the
// environment themselves.
type Constructor func(cfg models.ProviderConfig, credential string) (Provider, error)

// Registry maps provider kinds to constructors. It is safe for concurrent
// use; registration normally happens once at program start.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register binds a provider kind to its constructor. Later registrations
// replace earlier ones.
func (r *Registry) Register(kind string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[kind] = ctor
}

// Kinds lists the registered provider kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.constructors))
	for k := range r.constructors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build constructs an adapter for cfg, resolving its credential through
// resolver when the config names an auth spec.
func (r *Registry) Build(cfg models.ProviderConfig, resolver *Resolver) (Provider, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[cfg.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, models.NewError(models.KindConfig,
			fmt.Sprintf("unknown provider kind %q for provider %s", cfg.Kind, cfg.Name))
	}

	credential := ""
	if cfg.AuthSpec != "" {
		var err error
		credential, err = resolver.Resolve(cfg.AuthSpec)
		if err != nil {
			return nil, models.WrapError(models.KindConfig,
				fmt.Sprintf("resolve credential for provider %s", cfg.Name), err)
		}
	}

	provider, err := ctor(cfg, credential)
	if err != nil {
		return nil, models.WrapError(models.KindConfig,
			fmt.Sprintf("construct provider %s", cfg.Name), err)
	}
	return provider, nil
}

// BuildAll constructs adapters for every config, preserving roster order.
// Duplicate names are a configuration error.
func (r *Registry) BuildAll(configs []models.ProviderConfig, resolver *Resolver) ([]Provider, error) {
	seen := make(map[string]bool, len(configs))
	providers := make([]Provider, 0, len(configs))
	for _, cfg := range configs {
		if seen[cfg.Name] {
			return nil, models.NewError(models.KindConfig,
				fmt.Sprintf("duplicate provider name %q", cfg.Name))
		}
		seen[cfg.Name] = true

		p, err := r.Build(cfg, resolver)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}
