package client

import (
	"fmt"
	"sync"

	"sprintwatch/internal/engine/providers"
	"sprintwatch/internal/platform/config"
	"sprintwatch/internal/platform/models"
)

// IntegrationSource loads integration rows for clients not yet
// registered, so an integration created by another process (the API
// server) becomes usable here without a restart.
type IntegrationSource interface {
	GetByID(id string) (*models.Integration, error)
}

// Registry holds the live client per integration, constructed from
// persisted configuration at startup and maintained through explicit
// add/remove operations. Breaker and rate-limit state is shared across
// the registry so every client for a principal sees the same circuit.
type Registry struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	providers map[string]providers.Provider
	tokens    TokenSource
	breakers  *BreakerRegistry
	limits    *RateLimitTracker
	source    IntegrationSource
	cfg       config.ClientConfig
}

func NewRegistry(providerSet map[string]providers.Provider, tokens TokenSource, cfg config.ClientConfig) *Registry {
	return &Registry{
		clients:   make(map[string]*Client),
		providers: providerSet,
		tokens:    tokens,
		breakers:  NewBreakerRegistry(cfg.FailureThreshold, cfg.BreakerCooldown),
		limits:    NewRateLimitTracker(),
		cfg:       cfg,
	}
}

func (r *Registry) Add(integration *models.Integration) (*Client, error) {
	provider, ok := r.providers[integration.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", integration.Provider)
	}

	c := New(provider, integration, r.tokens, r.breakers, r.limits, r.cfg)

	r.mu.Lock()
	r.clients[integration.ID] = c
	r.mu.Unlock()
	return c, nil
}

// WithSource enables lazy construction from persisted rows on Get.
func (r *Registry) WithSource(source IntegrationSource) *Registry {
	r.source = source
	return r
}

func (r *Registry) Get(integrationID string) (*Client, bool) {
	r.mu.RLock()
	c, ok := r.clients[integrationID]
	r.mu.RUnlock()
	if ok {
		return c, true
	}
	return r.load(integrationID)
}

// load builds a client for an active integration admitted after this
// process registered its startup set.
func (r *Registry) load(integrationID string) (*Client, bool) {
	if r.source == nil {
		return nil, false
	}
	integration, err := r.source.GetByID(integrationID)
	if err != nil || integration == nil || integration.Status != "active" {
		return nil, false
	}
	c, err := r.Add(integration)
	if err != nil {
		return nil, false
	}
	return c, true
}

func (r *Registry) Remove(integrationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, integrationID)
}

// LoadAll registers clients for every given integration, typically the
// active set at startup.
func (r *Registry) LoadAll(integrations []*models.Integration) error {
	for _, integration := range integrations {
		if _, err := r.Add(integration); err != nil {
			return err
		}
	}
	return nil
}
