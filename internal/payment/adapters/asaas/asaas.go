package asaas

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/kersonpank/treinepass-core/internal/payment/domain"
)

const (
	providerName   = "asaas"
	defaultBaseURL = "https://api.asaas.com/v3"
	tokenHeader    = "asaas-access-token"
	dateLayout     = "2006-01-02"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Gateway, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Adapter{
		apiKey:       strings.TrimSpace(cfg.APIKey),
		baseURL:      baseURL,
		webhookToken: strings.TrimSpace(cfg.WebhookSecret),
		client:       httpClient,
	}, nil
}

type Adapter struct {
	apiKey       string
	baseURL      string
	webhookToken string
	client       *http.Client
}

func (a *Adapter) Provider() string {
	return providerName
}

// Verify compares the access token Asaas echoes on every delivery. No token
// configured means deliveries are not authenticated.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookToken == "" {
		return nil
	}
	token := strings.TrimSpace(headers.Get(tokenHeader))
	if token == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.webhookToken)) != 1 {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (paymentdomain.Event, error) {
	var event asaasEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	eventType := strings.ToUpper(strings.TrimSpace(event.Event))
	if eventType == "" {
		return nil, paymentdomain.ErrMissingEventType
	}

	header := paymentdomain.EventHeader{
		Provider:       providerName,
		Type:           eventType,
		GatewayEventID: strings.TrimSpace(event.ID),
		Raw:            json.RawMessage(payload),
	}

	switch {
	case event.Payment != nil:
		payment := event.Payment.toGateway()
		return &paymentdomain.PaymentEvent{
			EventHeader:       header,
			PaymentID:         payment.ID,
			Status:            payment.Status,
			ExternalReference: payment.ExternalReference,
			SubscriptionID:    payment.SubscriptionID,
			CustomerID:        payment.CustomerID,
			Value:             payment.Value,
			BillingType:       payment.BillingType,
			DueDate:           payment.DueDate,
			PaymentDate:       payment.PaymentDate,
		}, nil
	case event.Subscription != nil:
		return &paymentdomain.SubscriptionEvent{
			EventHeader:       header,
			SubscriptionID:    strings.TrimSpace(event.Subscription.ID),
			Status:            strings.ToUpper(strings.TrimSpace(event.Subscription.Status)),
			ExternalReference: strings.TrimSpace(event.Subscription.ExternalReference),
			CustomerID:        strings.TrimSpace(event.Subscription.Customer),
		}, nil
	default:
		return &paymentdomain.OtherEvent{EventHeader: header}, nil
	}
}

type asaasEvent struct {
	ID           string             `json:"id"`
	Event        string             `json:"event"`
	Payment      *asaasPayment      `json:"payment"`
	Subscription *asaasSubscription `json:"subscription"`
}

type asaasPayment struct {
	ID                string  `json:"id"`
	Customer          string  `json:"customer"`
	Subscription      string  `json:"subscription"`
	Value             float64 `json:"value"`
	BillingType       string  `json:"billingType"`
	Status            string  `json:"status"`
	DueDate           string  `json:"dueDate"`
	PaymentDate       string  `json:"paymentDate"`
	ClientPaymentDate string  `json:"clientPaymentDate"`
	ConfirmedDate     string  `json:"confirmedDate"`
	ExternalReference string  `json:"externalReference"`
	InvoiceURL        string  `json:"invoiceUrl"`
}

type asaasSubscription struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	ExternalReference string `json:"externalReference"`
}

func (p asaasPayment) toGateway() paymentdomain.GatewayPayment {
	paymentDate := parseDate(p.PaymentDate)
	if paymentDate == nil {
		paymentDate = parseDate(p.ClientPaymentDate)
	}
	if paymentDate == nil {
		paymentDate = parseDate(p.ConfirmedDate)
	}
	return paymentdomain.GatewayPayment{
		ID:                strings.TrimSpace(p.ID),
		Status:            strings.ToUpper(strings.TrimSpace(p.Status)),
		Value:             toCents(p.Value),
		BillingType:       strings.ToUpper(strings.TrimSpace(p.BillingType)),
		ExternalReference: strings.TrimSpace(p.ExternalReference),
		SubscriptionID:    strings.TrimSpace(p.Subscription),
		CustomerID:        strings.TrimSpace(p.Customer),
		DueDate:           parseDate(p.DueDate),
		PaymentDate:       paymentDate,
		PaymentLink:       strings.TrimSpace(p.InvoiceURL),
	}
}

func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if len(value) > len(dateLayout) {
		value = value[:len(dateLayout)]
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil
	}
	return &parsed
}

func toCents(value float64) int64 {
	return int64(math.Round(value * 100))
}

func fromCents(value int64) float64 {
	return float64(value) / 100
}
