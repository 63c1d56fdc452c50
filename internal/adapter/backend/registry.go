package backend

import (
	"fmt"

	"github.com/cwygoda/haul/internal/domain"
)

// Registry holds registered backends and routes jobs to them by type.
type Registry struct {
	backends []domain.Backend
}

// NewRegistry creates a new backend registry.
func NewRegistry(backends ...domain.Backend) *Registry {
	return &Registry{backends: backends}
}

// Register adds a backend to the registry.
func (r *Registry) Register(b domain.Backend) {
	r.backends = append(r.backends, b)
}

// For returns the first backend that handles the job type.
func (r *Registry) For(t domain.JobType) (domain.Backend, error) {
	for _, b := range r.backends {
		if b.Handles(t) {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrNoBackend, t)
}

// Backends returns all registered backends.
func (r *Registry) Backends() []domain.Backend {
	return r.backends
}
