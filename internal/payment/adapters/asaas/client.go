package asaas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	paymentdomain "github.com/kersonpank/treinepass-core/internal/payment/domain"
	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
)

type customerRequest struct {
	Name              string `json:"name"`
	Email             string `json:"email,omitempty"`
	CpfCnpj           string `json:"cpfCnpj,omitempty"`
	MobilePhone       string `json:"mobilePhone,omitempty"`
	ExternalReference string `json:"externalReference,omitempty"`
}

type paymentRequest struct {
	Customer          string  `json:"customer"`
	BillingType       string  `json:"billingType"`
	Value             float64 `json:"value"`
	DueDate           string  `json:"dueDate"`
	Description       string  `json:"description,omitempty"`
	ExternalReference string  `json:"externalReference,omitempty"`
}

type subscriptionRequest struct {
	Customer          string  `json:"customer"`
	BillingType       string  `json:"billingType"`
	Value             float64 `json:"value"`
	NextDueDate       string  `json:"nextDueDate"`
	Cycle             string  `json:"cycle"`
	Description       string  `json:"description,omitempty"`
	ExternalReference string  `json:"externalReference,omitempty"`
}

type idResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type paymentList struct {
	Data []asaasPayment `json:"data"`
}

type errorResponse struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

var cycles = map[subscriptiondomain.BillingCycle]string{
	subscriptiondomain.BillingCycleMonthly:    "MONTHLY",
	subscriptiondomain.BillingCycleQuarterly:  "QUARTERLY",
	subscriptiondomain.BillingCycleSemiannual: "SEMIANNUALLY",
	subscriptiondomain.BillingCycleYearly:     "YEARLY",
}

func (a *Adapter) CreateCustomer(ctx context.Context, req paymentdomain.CustomerRequest) (*paymentdomain.GatewayCustomer, error) {
	var out idResponse
	raw, err := a.doRequest(ctx, http.MethodPost, "/customers", customerRequest{
		Name:              strings.TrimSpace(req.Name),
		Email:             strings.TrimSpace(req.Email),
		CpfCnpj:           digits(req.Document),
		MobilePhone:       digits(req.Phone),
		ExternalReference: req.ExternalReference,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: asaas customer response without id", paymentdomain.ErrGatewayRequest)
	}
	return &paymentdomain.GatewayCustomer{ID: out.ID, Raw: raw}, nil
}

func (a *Adapter) CreatePayment(ctx context.Context, req paymentdomain.PaymentRequest) (*paymentdomain.GatewayPayment, error) {
	var out asaasPayment
	raw, err := a.doRequest(ctx, http.MethodPost, "/payments", paymentRequest{
		Customer:          req.CustomerID,
		BillingType:       billingType(req.BillingType),
		Value:             fromCents(req.Value),
		DueDate:           req.DueDate.Format(dateLayout),
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
	}, &out)
	if err != nil {
		return nil, err
	}
	return a.paymentResult(out, raw)
}

func (a *Adapter) CreateSubscription(ctx context.Context, req paymentdomain.SubscriptionRequest) (*paymentdomain.GatewaySubscription, error) {
	cycle, ok := cycles[req.Cycle]
	if !ok {
		return nil, subscriptiondomain.ErrInvalidBillingCycle
	}
	var out idResponse
	raw, err := a.doRequest(ctx, http.MethodPost, "/subscriptions", subscriptionRequest{
		Customer:          req.CustomerID,
		BillingType:       billingType(req.BillingType),
		Value:             fromCents(req.Value),
		NextDueDate:       req.NextDueDate.Format(dateLayout),
		Cycle:             cycle,
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: asaas subscription response without id", paymentdomain.ErrGatewayRequest)
	}

	result := &paymentdomain.GatewaySubscription{
		ID:     out.ID,
		Status: strings.ToUpper(out.Status),
		Raw:    raw,
	}
	// The first charge carries the checkout link. Its absence leaves the
	// subscription usable.
	var charges paymentList
	if _, err := a.doRequest(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(out.ID)+"/payments", nil, &charges); err == nil && len(charges.Data) > 0 {
		result.PaymentLink = strings.TrimSpace(charges.Data[0].InvoiceURL)
	}
	return result, nil
}

func (a *Adapter) GetPayment(ctx context.Context, paymentID string) (*paymentdomain.GatewayPayment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	var out asaasPayment
	raw, err := a.doRequest(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &out)
	if err != nil {
		return nil, err
	}
	return a.paymentResult(out, raw)
}

func (a *Adapter) paymentResult(out asaasPayment, raw json.RawMessage) (*paymentdomain.GatewayPayment, error) {
	if strings.TrimSpace(out.ID) == "" {
		return nil, fmt.Errorf("%w: asaas payment response without id", paymentdomain.ErrGatewayRequest)
	}
	payment := out.toGateway()
	payment.Raw = raw
	return &payment, nil
}

func (a *Adapter) doRequest(ctx context.Context, method, path string, body any, out any) (json.RawMessage, error) {
	if a.apiKey == "" {
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
	req.Header.Set("access_token", a.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "treinepass")
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
		return nil, fmt.Errorf("%w: asaas %d %s", paymentdomain.ErrGatewayRequest, resp.StatusCode, errorMessage(raw))
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
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Errors) == 0 {
		return "request_failed"
	}
	messages := make([]string, 0, len(parsed.Errors))
	for _, item := range parsed.Errors {
		message := strings.TrimSpace(item.Description)
		if message == "" {
			message = strings.TrimSpace(item.Code)
		}
		if message != "" {
			messages = append(messages, message)
		}
	}
	if len(messages) == 0 {
		return "request_failed"
	}
	return strings.Join(messages, "; ")
}

func billingType(value string) string {
	value = strings.ToUpper(strings.TrimSpace(value))
	switch value {
	case "BOLETO", "CREDIT_CARD", "PIX":
		return value
	default:
		return "UNDEFINED"
	}
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
