package config

import (
	"sync"

	"github.com/cwygoda/haul/internal/domain"
)

// Provider serves the current settings and reloads them on demand.
type Provider struct {
	path  string
	flags Flags

	mu        sync.RWMutex
	cfg       *Config
	listeners []func(domain.Settings)
}

// NewProvider loads the config at path.
func NewProvider(path string, flags Flags) (*Provider, error) {
	cfg, err := Load(path, flags)
	if err != nil {
		return nil, err
	}
	return &Provider{path: path, flags: flags, cfg: cfg}, nil
}

// Current returns the current queue settings.
func (p *Provider) Current() domain.Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Settings()
}

// Config returns a copy of the full configuration.
func (p *Provider) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.cfg
}

// OnChange registers fn to run after every successful Reload.
func (p *Provider) OnChange(fn func(domain.Settings)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Reload re-reads the config file. On error the previous config stays.
func (p *Provider) Reload() error {
	cfg, err := Load(p.path, p.flags)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.cfg = cfg
	listeners := append([]func(domain.Settings){}, p.listeners...)
	p.mu.Unlock()

	s := cfg.Settings()
	for _, fn := range listeners {
		fn(s)
	}
	return nil
}
