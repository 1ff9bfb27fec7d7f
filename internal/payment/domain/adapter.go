package domain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
)

// AdapterConfig carries the credentials of one gateway, resolved once at
// startup from configuration.
type AdapterConfig struct {
	Provider      string
	APIKey        string
	BaseURL       string
	WebhookSecret string
	NotifyURL     string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// WebhookAdapter authenticates and parses inbound deliveries of one gateway.
type WebhookAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (Event, error)
}

type notificationQueryKey struct{}

// WithNotificationQuery stores the query string of the inbound webhook
// request. Some gateways sign query parameters instead of the body.
func WithNotificationQuery(ctx context.Context, query url.Values) context.Context {
	return context.WithValue(ctx, notificationQueryKey{}, query)
}

// NotificationQuery returns the webhook query string, or nil outside a
// delivery.
func NotificationQuery(ctx context.Context) url.Values {
	query, _ := ctx.Value(notificationQueryKey{}).(url.Values)
	return query
}

// GatewayClient issues the outbound calls made against a gateway API.
type GatewayClient interface {
	CreateCustomer(ctx context.Context, req CustomerRequest) (*GatewayCustomer, error)
	CreatePayment(ctx context.Context, req PaymentRequest) (*GatewayPayment, error)
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (*GatewaySubscription, error)
	GetPayment(ctx context.Context, paymentID string) (*GatewayPayment, error)
}

// Gateway is a configured gateway integration.
type Gateway interface {
	Provider() string
	WebhookAdapter
	GatewayClient
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Gateway, error)
}

type CustomerRequest struct {
	Name              string
	Email             string
	Document          string
	Phone             string
	ExternalReference string
}

type GatewayCustomer struct {
	ID  string
	Raw json.RawMessage
}

// PaymentRequest creates a one-off charge. Value is expressed in centavos.
type PaymentRequest struct {
	CustomerID        string
	PayerEmail        string
	Value             int64
	BillingType       string
	DueDate           time.Time
	Description       string
	ExternalReference string
}

// GatewayPayment is a charge as reported by the gateway. Status is already
// translated to the canonical gateway status vocabulary.
type GatewayPayment struct {
	ID                string
	Status            string
	Value             int64
	BillingType       string
	ExternalReference string
	SubscriptionID    string
	CustomerID        string
	DueDate           *time.Time
	PaymentDate       *time.Time
	PaymentLink       string
	Raw               json.RawMessage
}

type SubscriptionRequest struct {
	CustomerID        string
	PayerEmail        string
	Value             int64
	BillingType       string
	Cycle             subscriptiondomain.BillingCycle
	NextDueDate       time.Time
	Description       string
	ExternalReference string
}

type GatewaySubscription struct {
	ID          string
	Status      string
	PaymentLink string
	Raw         json.RawMessage
}
