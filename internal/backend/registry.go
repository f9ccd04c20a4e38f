package backend

import (
	"errors"
	"fmt"
	"sync"
)

// Registry manages exporter instances.
type Registry struct {
	exporters map[Provider]Exporter
	mu        sync.RWMutex
}

// NewRegistry creates a new exporter registry.
func NewRegistry() *Registry {
	return &Registry{
		exporters: make(map[Provider]Exporter),
	}
}

// Register adds an exporter to the registry.
func (r *Registry) Register(e Exporter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.exporters[e.Provider()]; exists {
		return fmt.Errorf("%s: %w", e.Provider(), ErrAlreadyRegistered)
	}
	r.exporters[e.Provider()] = e

	return nil
}

// Get retrieves an exporter by provider.
func (r *Registry) Get(provider Provider) (Exporter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.exporters[provider]
	if !ok {
		return nil, fmt.Errorf("%s: %w", provider, ErrNotFound)
	}

	return e, nil
}

// Close closes all registered exporters.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, e := range r.exporters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.exporters = make(map[Provider]Exporter)

	return errors.Join(errs...)
}
