package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	paymentdomain "github.com/kersonpank/treinepass-core/internal/payment/domain"
	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
)

func newTestAdapter(t *testing.T, cfg paymentdomain.AdapterConfig) *Adapter {
	t.Helper()
	gateway, err := NewFactory().NewAdapter(cfg)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return gateway.(*Adapter)
}

func TestVerifySignature(t *testing.T) {
	secret := "mp_secret"
	payload := []byte(`{"id":12345,"type":"payment","action":"payment.updated","data":{"id":"ABC987"}}`)
	ts := "1704908010"

	headers := http.Header{}
	headers.Set(requestIDHeader, "req-1")
	headers.Set(signatureHeader, "ts="+ts+",v1="+sign(secret, "id:abc987;request-id:req-1;ts:"+ts+";"))

	adapter := newTestAdapter(t, paymentdomain.AdapterConfig{WebhookSecret: secret})
	if err := adapter.Verify(context.Background(), payload, headers); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	headers.Set(signatureHeader, "ts="+ts+",v1="+sign("wrong", "id:abc987;request-id:req-1;ts:"+ts+";"))
	if err := adapter.Verify(context.Background(), payload, headers); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	headers.Del(signatureHeader)
	if err := adapter.Verify(context.Background(), payload, headers); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected missing signature to fail, got %v", err)
	}
}

func TestVerifySignatureUsesQueryDataID(t *testing.T) {
	secret := "mp_secret"
	// Body id differs from the signed query id.
	payload := []byte(`{"id":12345,"type":"payment","action":"payment.updated","data":{"id":"999"}}`)
	ts := "1704908010"

	headers := http.Header{}
	headers.Set(requestIDHeader, "req-2")
	headers.Set(signatureHeader, "ts="+ts+",v1="+sign(secret, "id:555;request-id:req-2;ts:"+ts+";"))

	adapter := newTestAdapter(t, paymentdomain.AdapterConfig{WebhookSecret: secret})
	ctx := paymentdomain.WithNotificationQuery(context.Background(), url.Values{"data.id": {"555"}, "type": {"payment"}})
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		t.Fatalf("expected query data.id to be signed, got %v", err)
	}
	if err := adapter.Verify(context.Background(), payload, headers); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected body fallback to mismatch, got %v", err)
	}
}

func TestManifestOmitsMissingParts(t *testing.T) {
	if got := manifest("", "", "10"); got != "ts:10;" {
		t.Fatalf("unexpected manifest %q", got)
	}
	if got := manifest("123", "", "10"); got != "id:123;ts:10;" {
		t.Fatalf("unexpected manifest %q", got)
	}
}

func TestParseNotifications(t *testing.T) {
	adapter := newTestAdapter(t, paymentdomain.AdapterConfig{})
	ctx := context.Background()

	evt, err := adapter.Parse(ctx, []byte(`{"id":1,"type":"payment","action":"payment.created","data":{"id":999}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	payment, ok := evt.(*paymentdomain.PaymentEvent)
	if !ok {
		t.Fatalf("expected payment event, got %T", evt)
	}
	if payment.Type != paymentdomain.EventPaymentCreated || payment.PaymentID != "999" || payment.GatewayEventID != "1" {
		t.Fatalf("unexpected payment event: %+v", payment)
	}
	if payment.Status != "" {
		t.Fatalf("expected empty status, got %q", payment.Status)
	}

	evt, err = adapter.Parse(ctx, []byte(`{"action":"payment.updated","data":{"id":"999"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.EventType() != paymentdomain.EventPaymentUpdated {
		t.Fatalf("expected PAYMENT_UPDATED, got %s", evt.EventType())
	}

	evt, err = adapter.Parse(ctx, []byte(`{"type":"subscription_preapproval","action":"updated","data":{"id":"pre_1"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sub, ok := evt.(*paymentdomain.SubscriptionEvent); !ok || sub.SubscriptionID != "pre_1" {
		t.Fatalf("unexpected subscription event: %#v", evt)
	}

	evt, err = adapter.Parse(ctx, []byte(`{"type":"point_integration_wh","data":{"id":"x"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := evt.(*paymentdomain.OtherEvent); !ok || evt.EventType() != "POINT_INTEGRATION_WH" {
		t.Fatalf("unexpected other event: %#v", evt)
	}

	if _, err := adapter.Parse(ctx, []byte(`{"data":{"id":"x"}}`)); !errors.Is(err, paymentdomain.ErrMissingEventType) {
		t.Fatalf("expected missing event type, got %v", err)
	}
	if _, err := adapter.Parse(ctx, []byte(`[`)); !errors.Is(err, paymentdomain.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]string{
		"approved":     paymentdomain.GatewayStatusConfirmed,
		"in_process":   paymentdomain.GatewayStatusPending,
		"refunded":     paymentdomain.GatewayStatusRefunded,
		"charged_back": paymentdomain.GatewayStatusRefunded,
		"cancelled":    paymentdomain.GatewayStatusCancelled,
		"rejected":     "REJECTED",
	}
	for input, want := range tests {
		if got := NormalizeStatus(input); got != want {
			t.Fatalf("NormalizeStatus(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestClientCalls(t *testing.T) {
	var preference map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok_1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/customers":
			_, _ = io.WriteString(w, `{"id":"cus_1"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/checkout/preferences":
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &preference)
			_, _ = io.WriteString(w, `{"id":"pref_1","init_point":"https://mp/checkout/pref_1"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/preapproval":
			_, _ = io.WriteString(w, `{"id":"pre_1","status":"pending","init_point":"https://mp/sub/pre_1"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payments/999":
			_, _ = io.WriteString(w, `{"id":999,"status":"approved","external_reference":"ref_1","transaction_amount":49.9,"payment_type_id":"pix","date_approved":"2024-06-01T10:00:00.000-03:00"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message":"not found"}`)
		}
	}))
	defer server.Close()

	adapter := newTestAdapter(t, paymentdomain.AdapterConfig{
		APIKey:     "tok_1",
		BaseURL:    server.URL,
		NotifyURL:  "https://api.treinepass/webhooks/mercadopago",
		HTTPClient: server.Client(),
	})
	ctx := context.Background()

	customer, err := adapter.CreateCustomer(ctx, paymentdomain.CustomerRequest{Email: "ana@example.com", Document: "12.345.678/0001-90"})
	if err != nil || customer.ID != "cus_1" {
		t.Fatalf("create customer: %v %+v", err, customer)
	}

	payment, err := adapter.CreatePayment(ctx, paymentdomain.PaymentRequest{
		Value:             4990,
		ExternalReference: "ref_1",
		DueDate:           time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if payment.ID != "pref_1" || payment.PaymentLink != "https://mp/checkout/pref_1" || payment.Status != paymentdomain.GatewayStatusPending {
		t.Fatalf("unexpected payment: %+v", payment)
	}
	if preference["external_reference"] != "ref_1" || preference["notification_url"] != "https://api.treinepass/webhooks/mercadopago" {
		t.Fatalf("unexpected preference body: %v", preference)
	}

	sub, err := adapter.CreateSubscription(ctx, paymentdomain.SubscriptionRequest{
		PayerEmail: "ana@example.com",
		Value:      4990,
		Cycle:      subscriptiondomain.BillingCycleQuarterly,
	})
	if err != nil || sub.ID != "pre_1" || sub.PaymentLink != "https://mp/sub/pre_1" {
		t.Fatalf("create subscription: %v %+v", err, sub)
	}
	if _, err := adapter.CreateSubscription(ctx, paymentdomain.SubscriptionRequest{Cycle: subscriptiondomain.BillingCycleMonthly}); !errors.Is(err, subscriptiondomain.ErrInvalidCustomer) {
		t.Fatalf("expected missing payer email error, got %v", err)
	}

	fetched, err := adapter.GetPayment(ctx, "999")
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if fetched.Status != paymentdomain.GatewayStatusConfirmed || fetched.ExternalReference != "ref_1" || fetched.Value != 4990 {
		t.Fatalf("unexpected fetched payment: %+v", fetched)
	}
	if fetched.PaymentDate == nil || fetched.PaymentDate.UTC().Hour() != 13 {
		t.Fatalf("unexpected payment date: %v", fetched.PaymentDate)
	}

	if _, err := adapter.GetPayment(ctx, "404"); !errors.Is(err, paymentdomain.ErrPaymentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
