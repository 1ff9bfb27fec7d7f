// Package paymenttest provides an in-memory gateway for tests of the
// payment and subscription services.
package paymenttest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/kersonpank/treinepass-core/internal/payment/adapters"
	paymentdomain "github.com/kersonpank/treinepass-core/internal/payment/domain"
)

// Gateway records outbound calls and serves canned payments. Parse accepts
// the Asaas payload shape.
type Gateway struct {
	mu sync.Mutex

	Name      string
	Payments  map[string]*paymentdomain.GatewayPayment
	GetErr    error
	CreateErr error
	VerifyErr error
	ParseFunc func(payload []byte) (paymentdomain.Event, error)

	Calls []string
}

func NewGateway(name string) *Gateway {
	return &Gateway{Name: name, Payments: map[string]*paymentdomain.GatewayPayment{}}
}

func (g *Gateway) Provider() string { return g.Name }

func (g *Gateway) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	return g.VerifyErr
}

func (g *Gateway) Parse(ctx context.Context, payload []byte) (paymentdomain.Event, error) {
	if g.ParseFunc != nil {
		return g.ParseFunc(payload)
	}
	var body struct {
		Event   string `json:"event"`
		Payment *struct {
			ID                string `json:"id"`
			Status            string `json:"status"`
			ExternalReference string `json:"externalReference"`
			Subscription      string `json:"subscription"`
		} `json:"payment"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if body.Event == "" {
		return nil, paymentdomain.ErrMissingEventType
	}
	header := paymentdomain.EventHeader{Provider: g.Name, Type: body.Event, Raw: payload}
	if body.Payment == nil {
		return &paymentdomain.OtherEvent{EventHeader: header}, nil
	}
	return &paymentdomain.PaymentEvent{
		EventHeader:       header,
		PaymentID:         body.Payment.ID,
		Status:            body.Payment.Status,
		ExternalReference: body.Payment.ExternalReference,
		SubscriptionID:    body.Payment.Subscription,
	}, nil
}

func (g *Gateway) CreateCustomer(ctx context.Context, req paymentdomain.CustomerRequest) (*paymentdomain.GatewayCustomer, error) {
	g.record("create_customer")
	if g.CreateErr != nil {
		return nil, g.CreateErr
	}
	return &paymentdomain.GatewayCustomer{ID: "cus_" + req.ExternalReference}, nil
}

func (g *Gateway) CreatePayment(ctx context.Context, req paymentdomain.PaymentRequest) (*paymentdomain.GatewayPayment, error) {
	g.record("create_payment")
	if g.CreateErr != nil {
		return nil, g.CreateErr
	}
	due := req.DueDate
	return &paymentdomain.GatewayPayment{
		ID:                "pay_" + req.ExternalReference,
		Status:            paymentdomain.GatewayStatusPending,
		Value:             req.Value,
		BillingType:       req.BillingType,
		ExternalReference: req.ExternalReference,
		CustomerID:        req.CustomerID,
		DueDate:           &due,
		PaymentLink:       "https://pay.test/" + req.ExternalReference,
	}, nil
}

func (g *Gateway) CreateSubscription(ctx context.Context, req paymentdomain.SubscriptionRequest) (*paymentdomain.GatewaySubscription, error) {
	g.record("create_subscription")
	if g.CreateErr != nil {
		return nil, g.CreateErr
	}
	return &paymentdomain.GatewaySubscription{
		ID:          "gwsub_" + req.ExternalReference,
		Status:      "ACTIVE",
		PaymentLink: "https://pay.test/sub/" + req.ExternalReference,
	}, nil
}

func (g *Gateway) GetPayment(ctx context.Context, paymentID string) (*paymentdomain.GatewayPayment, error) {
	g.record("get_payment")
	if g.GetErr != nil {
		return nil, g.GetErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	payment, ok := g.Payments[paymentID]
	if !ok {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	copied := *payment
	return &copied, nil
}

// CallCount returns how many times the named operation ran.
func (g *Gateway) CallCount(operation string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	count := 0
	for _, call := range g.Calls {
		if call == operation {
			count++
		}
	}
	return count
}

func (g *Gateway) record(operation string) {
	g.mu.Lock()
	g.Calls = append(g.Calls, operation)
	g.mu.Unlock()
}

type factory struct {
	gateway *Gateway
}

func (f factory) Provider() string { return f.gateway.Name }

func (f factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Gateway, error) {
	return f.gateway, nil
}

// Registry builds a registry whose active provider is the first gateway.
func Registry(gateways ...*Gateway) (*adapters.Registry, error) {
	factories := make([]paymentdomain.AdapterFactory, 0, len(gateways))
	for _, gateway := range gateways {
		factories = append(factories, factory{gateway: gateway})
	}
	active := ""
	if len(gateways) > 0 {
		active = gateways[0].Name
	}
	return adapters.NewRegistry(active, nil, nil, factories...)
}
