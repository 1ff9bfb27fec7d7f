package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kersonpank/treinepass-core/internal/clock"
	paymentdomain "github.com/kersonpank/treinepass-core/internal/payment/domain"
	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
)

const currency = "BRL"

type identification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type customerRequest struct {
	Email          string          `json:"email"`
	FirstName      string          `json:"first_name,omitempty"`
	Identification *identification `json:"identification,omitempty"`
	Description    string          `json:"description,omitempty"`
}

type preferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferenceRequest struct {
	Items             []preferenceItem `json:"items"`
	Payer             *payer           `json:"payer,omitempty"`
	ExternalReference string           `json:"external_reference,omitempty"`
	NotificationURL   string           `json:"notification_url,omitempty"`
	DateOfExpiration  string           `json:"date_of_expiration,omitempty"`
}

type payer struct {
	Email string `json:"email,omitempty"`
}

type autoRecurring struct {
	Frequency         int     `json:"frequency"`
	FrequencyType     string  `json:"frequency_type"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
	StartDate         string  `json:"start_date,omitempty"`
}

type preapprovalRequest struct {
	Reason            string        `json:"reason"`
	ExternalReference string        `json:"external_reference,omitempty"`
	PayerEmail        string        `json:"payer_email"`
	AutoRecurring     autoRecurring `json:"auto_recurring"`
	Status            string        `json:"status"`
}

type linkResponse struct {
	ID        flexibleID `json:"id"`
	Status    string     `json:"status"`
	InitPoint string     `json:"init_point"`
}

type paymentResponse struct {
	ID                flexibleID `json:"id"`
	Status            string     `json:"status"`
	ExternalReference string     `json:"external_reference"`
	TransactionAmount float64    `json:"transaction_amount"`
	PaymentTypeID     string     `json:"payment_type_id"`
	DateOfExpiration  string     `json:"date_of_expiration"`
	DateApproved      string     `json:"date_approved"`
	Payer             struct {
		ID flexibleID `json:"id"`
	} `json:"payer"`
	Metadata struct {
		PreapprovalID string `json:"preapproval_id"`
	} `json:"metadata"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

var statuses = map[string]string{
	"approved":     paymentdomain.GatewayStatusConfirmed,
	"pending":      paymentdomain.GatewayStatusPending,
	"in_process":   paymentdomain.GatewayStatusPending,
	"authorized":   paymentdomain.GatewayStatusPending,
	"in_mediation": paymentdomain.GatewayStatusPending,
	"cancelled":    paymentdomain.GatewayStatusCancelled,
	"refunded":     paymentdomain.GatewayStatusRefunded,
	"charged_back": paymentdomain.GatewayStatusRefunded,
}

var frequencies = map[subscriptiondomain.BillingCycle]int{
	subscriptiondomain.BillingCycleMonthly:    1,
	subscriptiondomain.BillingCycleQuarterly:  3,
	subscriptiondomain.BillingCycleSemiannual: 6,
	subscriptiondomain.BillingCycleYearly:     12,
}

// NormalizeStatus translates a Mercado Pago payment status into the
// canonical gateway vocabulary. Unknown values are passed through upper
// cased and later fall back to pending.
func NormalizeStatus(status string) string {
	status = strings.ToLower(strings.TrimSpace(status))
	if mapped, ok := statuses[status]; ok {
		return mapped
	}
	return strings.ToUpper(status)
}

func (a *Adapter) CreateCustomer(ctx context.Context, req paymentdomain.CustomerRequest) (*paymentdomain.GatewayCustomer, error) {
	body := customerRequest{
		Email:       strings.TrimSpace(req.Email),
		FirstName:   strings.TrimSpace(req.Name),
		Description: req.ExternalReference,
	}
	if document := digits(req.Document); document != "" {
		docType := "CPF"
		if len(document) == 14 {
			docType = "CNPJ"
		}
		body.Identification = &identification{Type: docType, Number: document}
	}

	var out linkResponse
	raw, err := a.doRequest(ctx, http.MethodPost, "/v1/customers", body, &out)
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: mercadopago customer response without id", paymentdomain.ErrGatewayRequest)
	}
	return &paymentdomain.GatewayCustomer{ID: string(out.ID), Raw: raw}, nil
}

// CreatePayment opens a checkout preference. The gateway payment id only
// exists once the payer completes checkout, so the preference id is returned.
func (a *Adapter) CreatePayment(ctx context.Context, req paymentdomain.PaymentRequest) (*paymentdomain.GatewayPayment, error) {
	body := preferenceRequest{
		Items: []preferenceItem{{
			Title:      firstNonEmpty(req.Description, "TreinePass"),
			Quantity:   1,
			UnitPrice:  fromCents(req.Value),
			CurrencyID: currency,
		}},
		ExternalReference: req.ExternalReference,
		NotificationURL:   a.notifyURL,
	}
	if email := strings.TrimSpace(req.PayerEmail); email != "" {
		body.Payer = &payer{Email: email}
	}
	if !req.DueDate.IsZero() {
		body.DateOfExpiration = clock.EndOfDay(req.DueDate).Format("2006-01-02T15:04:05.000Z07:00")
	}

	var out linkResponse
	raw, err := a.doRequest(ctx, http.MethodPost, "/checkout/preferences", body, &out)
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: mercadopago preference response without id", paymentdomain.ErrGatewayRequest)
	}

	var dueDate *time.Time
	if !req.DueDate.IsZero() {
		due := req.DueDate
		dueDate = &due
	}
	return &paymentdomain.GatewayPayment{
		ID:                string(out.ID),
		Status:            paymentdomain.GatewayStatusPending,
		Value:             req.Value,
		BillingType:       strings.ToUpper(strings.TrimSpace(req.BillingType)),
		ExternalReference: req.ExternalReference,
		CustomerID:        req.CustomerID,
		DueDate:           dueDate,
		PaymentLink:       strings.TrimSpace(out.InitPoint),
		Raw:               raw,
	}, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, req paymentdomain.SubscriptionRequest) (*paymentdomain.GatewaySubscription, error) {
	frequency, ok := frequencies[req.Cycle]
	if !ok {
		return nil, subscriptiondomain.ErrInvalidBillingCycle
	}
	if strings.TrimSpace(req.PayerEmail) == "" {
		return nil, subscriptiondomain.ErrInvalidCustomer
	}
	body := preapprovalRequest{
		Reason:            firstNonEmpty(req.Description, "TreinePass"),
		ExternalReference: req.ExternalReference,
		PayerEmail:        strings.TrimSpace(req.PayerEmail),
		AutoRecurring: autoRecurring{
			Frequency:         frequency,
			FrequencyType:     "months",
			TransactionAmount: fromCents(req.Value),
			CurrencyID:        currency,
		},
		Status: "pending",
	}
	if !req.NextDueDate.IsZero() {
		body.AutoRecurring.StartDate = req.NextDueDate.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}

	var out linkResponse
	raw, err := a.doRequest(ctx, http.MethodPost, "/preapproval", body, &out)
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: mercadopago preapproval response without id", paymentdomain.ErrGatewayRequest)
	}
	return &paymentdomain.GatewaySubscription{
		ID:          string(out.ID),
		Status:      strings.ToUpper(out.Status),
		PaymentLink: strings.TrimSpace(out.InitPoint),
		Raw:         raw,
	}, nil
}

func (a *Adapter) GetPayment(ctx context.Context, paymentID string) (*paymentdomain.GatewayPayment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	var out paymentResponse
	raw, err := a.doRequest(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &out)
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: mercadopago payment response without id", paymentdomain.ErrGatewayRequest)
	}
	return &paymentdomain.GatewayPayment{
		ID:                string(out.ID),
		Status:            NormalizeStatus(out.Status),
		Value:             toCents(out.TransactionAmount),
		BillingType:       strings.ToUpper(strings.TrimSpace(out.PaymentTypeID)),
		ExternalReference: strings.TrimSpace(out.ExternalReference),
		SubscriptionID:    strings.TrimSpace(out.Metadata.PreapprovalID),
		CustomerID:        string(out.Payer.ID),
		DueDate:           parseTime(out.DateOfExpiration),
		PaymentDate:       parseTime(out.DateApproved),
		Raw:               raw,
	}, nil
}

func (a *Adapter) doRequest(ctx context.Context, method, path string, body any, out any) (json.RawMessage, error) {
	if a.accessToken == "" {
		return nil, paymentdomain.ErrGatewayNotEnabled
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrGatewayRequest, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrGatewayRequest, err)
	}

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: mercadopago %d %s", paymentdomain.ErrGatewayRequest, resp.StatusCode, errorMessage(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("%w: %v", paymentdomain.ErrGatewayRequest, err)
		}
	}
	return json.RawMessage(raw), nil
}

func errorMessage(raw []byte) string {
	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "request_failed"
	}
	return firstNonEmpty(strings.TrimSpace(parsed.Message), strings.TrimSpace(parsed.Error), "request_failed")
}

func parseTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
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

func digits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
