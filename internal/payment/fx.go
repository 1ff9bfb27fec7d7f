package payment

import (
	"time"

	"github.com/kersonpank/treinepass-core/internal/config"
	"github.com/kersonpank/treinepass-core/internal/observability/metrics"
	"github.com/kersonpank/treinepass-core/internal/payment/adapters"
	"github.com/kersonpank/treinepass-core/internal/payment/adapters/asaas"
	"github.com/kersonpank/treinepass-core/internal/payment/adapters/mercadopago"
	paymentdomain "github.com/kersonpank/treinepass-core/internal/payment/domain"
	"github.com/kersonpank/treinepass-core/internal/payment/reconciler"
	"github.com/kersonpank/treinepass-core/internal/payment/repository"
	"github.com/kersonpank/treinepass-core/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewRegistry),
	fx.Provide(reconciler.NewService),
	fx.Provide(
		fx.Annotate(
			webhook.NewService,
			fx.As(new(paymentdomain.Receiver)),
			fx.As(new(paymentdomain.Reprocessor)),
		),
	),
)

type RegistryParams struct {
	fx.In

	Cfg     config.Config
	Metrics *metrics.Metrics `optional:"true"`
}

// NewRegistry configures every supported gateway from the environment. The
// active one is chosen by PAYMENT_GATEWAY.
func NewRegistry(p RegistryParams) (*adapters.Registry, error) {
	gw := p.Cfg.Gateway
	timeout := time.Duration(gw.TimeoutSec) * time.Second

	configs := map[string]paymentdomain.AdapterConfig{
		config.GatewayAsaas: {
			APIKey:        gw.Asaas.APIKey,
			BaseURL:       gw.Asaas.BaseURL,
			WebhookSecret: gw.Asaas.WebhookToken,
			Timeout:       timeout,
		},
		config.GatewayMercadoPago: {
			APIKey:        gw.MercadoPago.AccessToken,
			BaseURL:       gw.MercadoPago.BaseURL,
			WebhookSecret: gw.MercadoPago.WebhookSecret,
			NotifyURL:     gw.MercadoPago.NotifyURL,
			Timeout:       timeout,
		},
	}
	return adapters.NewRegistry(gw.Active, configs, p.Metrics,
		asaas.NewFactory(),
		mercadopago.NewFactory(),
	)
}
