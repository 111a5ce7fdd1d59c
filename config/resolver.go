package config

import (
	"sync"

	"github.com/grovetools/companion/internal/pipeline"
	"github.com/grovetools/companion/logging"
)

var log = logging.NewLogger("config")

// Resolver serves EnvironmentProfile lookups from an in-memory
// EnvironmentsConfig, swapped atomically on reload so a profile lookup
// in flight never observes a half-updated document.
type Resolver struct {
	mu  sync.RWMutex
	cfg *EnvironmentsConfig
}

// NewResolver loads environments.yaml (plus its override layer, if
// present) and returns a ready Resolver.
func NewResolver() (*Resolver, error) {
	cfg, err := LoadDefault()
	if err != nil {
		return nil, err
	}
	return &Resolver{cfg: cfg}, nil
}

// Resolve implements pipeline.Resolver.
func (r *Resolver) Resolve(name string) (*pipeline.EnvironmentProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.cfg.Environments[name]
	if !ok {
		return nil, false
	}
	cloned := cloneProfile(profile)
	return &cloned, true
}

// Reload re-reads environments.yaml and its override layer, replacing
// the served config only if the new document loads and validates
// cleanly — a bad edit leaves the previously resolved profiles in
// place rather than taking the daemon's resolver down.
func (r *Resolver) Reload() error {
	cfg, err := LoadDefault()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	return nil
}

var _ pipeline.Resolver = (*Resolver)(nil)
