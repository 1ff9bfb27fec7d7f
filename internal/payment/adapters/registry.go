package adapters

import (
	"fmt"
	"strings"

	"github.com/kersonpank/treinepass-core/internal/observability/metrics"
	"github.com/kersonpank/treinepass-core/internal/payment/domain"
)

// Registry holds one configured gateway per provider. The active provider
// receives outbound calls; every registered provider keeps accepting
// webhooks so events issued before a gateway switch still reconcile.
type Registry struct {
	active   string
	gateways map[string]domain.Gateway
}

func NewRegistry(active string, configs map[string]domain.AdapterConfig, m *metrics.Metrics, factories ...domain.AdapterFactory) (*Registry, error) {
	registry := &Registry{
		active:   normalizeProvider(active),
		gateways: map[string]domain.Gateway{},
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalizeProvider(factory.Provider())
		if provider == "" {
			continue
		}
		cfg := configs[provider]
		cfg.Provider = provider
		gateway, err := factory.NewAdapter(cfg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", provider, err)
		}
		registry.gateways[provider] = instrument(gateway, m)
	}
	if _, ok := registry.gateways[registry.active]; !ok {
		return nil, fmt.Errorf("active gateway %q: %w", active, domain.ErrProviderNotFound)
	}
	return registry, nil
}

// ActiveProvider returns the provider used for outbound calls.
func (r *Registry) ActiveProvider() string {
	if r == nil {
		return ""
	}
	return r.active
}

// Active returns the gateway used for outbound calls.
func (r *Registry) Active() (domain.Gateway, error) {
	return r.Gateway(r.ActiveProvider())
}

func (r *Registry) Gateway(provider string) (domain.Gateway, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = normalizeProvider(provider)
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}
	gateway, ok := r.gateways[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return gateway, nil
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.gateways[normalizeProvider(provider)]
	return ok
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
