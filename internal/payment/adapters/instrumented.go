package adapters

import (
	"context"

	"github.com/kersonpank/treinepass-core/internal/observability/metrics"
	"github.com/kersonpank/treinepass-core/internal/payment/domain"
)

type instrumented struct {
	domain.Gateway
	metrics *metrics.Metrics
}

func instrument(gateway domain.Gateway, m *metrics.Metrics) domain.Gateway {
	if m == nil {
		return gateway
	}
	return &instrumented{Gateway: gateway, metrics: m}
}

func (g *instrumented) CreateCustomer(ctx context.Context, req domain.CustomerRequest) (*domain.GatewayCustomer, error) {
	out, err := g.Gateway.CreateCustomer(ctx, req)
	g.record(ctx, "create_customer", err)
	return out, err
}

func (g *instrumented) CreatePayment(ctx context.Context, req domain.PaymentRequest) (*domain.GatewayPayment, error) {
	out, err := g.Gateway.CreatePayment(ctx, req)
	g.record(ctx, "create_payment", err)
	return out, err
}

func (g *instrumented) CreateSubscription(ctx context.Context, req domain.SubscriptionRequest) (*domain.GatewaySubscription, error) {
	out, err := g.Gateway.CreateSubscription(ctx, req)
	g.record(ctx, "create_subscription", err)
	return out, err
}

func (g *instrumented) GetPayment(ctx context.Context, paymentID string) (*domain.GatewayPayment, error) {
	out, err := g.Gateway.GetPayment(ctx, paymentID)
	g.record(ctx, "get_payment", err)
	return out, err
}

func (g *instrumented) record(ctx context.Context, operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	g.metrics.RecordGatewayCall(ctx, g.Provider(), operation, outcome)
}
