package adapters_test

import (
	"errors"
	"testing"

	"github.com/kersonpank/treinepass-core/internal/payment/adapters"
	"github.com/kersonpank/treinepass-core/internal/payment/adapters/asaas"
	"github.com/kersonpank/treinepass-core/internal/payment/adapters/mercadopago"
	"github.com/kersonpank/treinepass-core/internal/payment/domain"
)

func TestRegistryKeepsEveryProvider(t *testing.T) {
	registry, err := adapters.NewRegistry(" MercadoPago ", map[string]domain.AdapterConfig{
		"asaas":       {APIKey: "key"},
		"mercadopago": {APIKey: "tok"},
	}, nil, asaas.NewFactory(), mercadopago.NewFactory(), nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	if registry.ActiveProvider() != "mercadopago" {
		t.Fatalf("expected mercadopago active, got %q", registry.ActiveProvider())
	}
	active, err := registry.Active()
	if err != nil || active.Provider() != "mercadopago" {
		t.Fatalf("active gateway: %v", err)
	}
	legacy, err := registry.Gateway("ASAAS")
	if err != nil || legacy.Provider() != "asaas" {
		t.Fatalf("expected asaas to remain registered: %v", err)
	}
	if !registry.ProviderExists("asaas") || registry.ProviderExists("stripe") {
		t.Fatalf("unexpected provider lookup result")
	}
	if _, err := registry.Gateway("stripe"); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Fatalf("expected provider not found, got %v", err)
	}
	if _, err := registry.Gateway(" "); !errors.Is(err, domain.ErrInvalidProvider) {
		t.Fatalf("expected invalid provider, got %v", err)
	}
}

func TestRegistryRejectsUnknownActiveProvider(t *testing.T) {
	_, err := adapters.NewRegistry("pagseguro", nil, nil, asaas.NewFactory())
	if !errors.Is(err, domain.ErrProviderNotFound) {
		t.Fatalf("expected provider not found, got %v", err)
	}
}
