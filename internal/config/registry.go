package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/votevoice/pkg/store"
)

// ErrUnknownBackend is returned by [Registry.Open] when no factory has been
// registered for the configured backend.
var ErrUnknownBackend = errors.New("config: store backend not registered")

// StoreFactory opens a document store for cfg.
type StoreFactory func(ctx context.Context, cfg StoreConfig) (store.Store, error)

// Registry maps backend names to store factories. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[Backend]StoreFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Backend]StoreFactory)}
}

// Register adds factory under name, replacing any earlier registration.
func (r *Registry) Register(name Backend, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Registered returns the registered backend names in sorted order.
func (r *Registry) Registered() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]Backend, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Open creates the store named by cfg.Backend.
func (r *Registry) Open(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	st, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: open %s store: %w", cfg.Backend, err)
	}
	return st, nil
}
