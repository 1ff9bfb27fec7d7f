package mercadopago

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/kersonpank/treinepass-core/internal/payment/domain"
)

const (
	providerName    = "mercadopago"
	defaultBaseURL  = "https://api.mercadopago.com"
	signatureHeader = "x-signature"
	requestIDHeader = "x-request-id"
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
		accessToken:   strings.TrimSpace(cfg.APIKey),
		baseURL:       baseURL,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		notifyURL:     strings.TrimSpace(cfg.NotifyURL),
		client:        httpClient,
	}, nil
}

type Adapter struct {
	accessToken   string
	baseURL       string
	webhookSecret string
	notifyURL     string
	client        *http.Client
}

func (a *Adapter) Provider() string {
	return providerName
}

// Verify checks the x-signature HMAC. Mercado Pago signs a manifest built
// from the data.id query parameter of the notification URL, the request id
// and the timestamp.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return nil
	}
	ts, signatures := parseSignature(headers.Get(signatureHeader))
	if ts == "" || len(signatures) == 0 {
		return paymentdomain.ErrInvalidSignature
	}

	dataID, err := signedResourceID(ctx, payload)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	expected := sign(a.webhookSecret, manifest(dataID, strings.TrimSpace(headers.Get(requestIDHeader)), ts))
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

// Parse turns a notification into an event. Payment notifications only
// carry the payment id, so the status is left empty for the caller to fetch.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (paymentdomain.Event, error) {
	var notification notification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	topic := strings.ToLower(strings.TrimSpace(notification.Type))
	action := strings.ToLower(strings.TrimSpace(notification.Action))
	if topic == "" && action == "" {
		return nil, paymentdomain.ErrMissingEventType
	}
	if topic == "" {
		topic, _, _ = strings.Cut(action, ".")
	}

	header := paymentdomain.EventHeader{
		Provider:       providerName,
		GatewayEventID: string(notification.ID),
		Raw:            json.RawMessage(payload),
	}
	resourceID := strings.TrimSpace(string(notification.Data.ID))

	switch topic {
	case "payment":
		header.Type = paymentdomain.EventPaymentUpdated
		if action == "payment.created" {
			header.Type = paymentdomain.EventPaymentCreated
		}
		return &paymentdomain.PaymentEvent{
			EventHeader: header,
			PaymentID:   resourceID,
		}, nil
	case "subscription_preapproval", "preapproval":
		header.Type = paymentdomain.EventSubscriptionUpdated
		if strings.HasSuffix(action, "created") {
			header.Type = paymentdomain.EventSubscriptionCreated
		}
		return &paymentdomain.SubscriptionEvent{
			EventHeader:    header,
			SubscriptionID: resourceID,
		}, nil
	default:
		header.Type = strings.ToUpper(strings.NewReplacer(".", "_").Replace(firstNonEmpty(action, topic)))
		return &paymentdomain.OtherEvent{EventHeader: header}, nil
	}
}

type notification struct {
	ID     flexibleID `json:"id"`
	Type   string     `json:"type"`
	Action string     `json:"action"`
	Data   struct {
		ID flexibleID `json:"id"`
	} `json:"data"`
}

// flexibleID accepts identifiers sent either as JSON strings or numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*f = flexibleID(value)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}
	*f = flexibleID(number.String())
	return nil
}

func parseSignature(header string) (string, []string) {
	var ts string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}
	return ts, signatures
}

// manifest omits the parts whose value is absent from the notification.
// signedResourceID prefers the data.id query parameter and falls back to the
// body for deliveries that arrive without one.
func signedResourceID(ctx context.Context, payload []byte) (string, error) {
	if id := strings.TrimSpace(paymentdomain.NotificationQuery(ctx).Get("data.id")); id != "" {
		return id, nil
	}
	var notification notification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return "", err
	}
	return strings.TrimSpace(string(notification.Data.ID)), nil
}

func manifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}

func sign(secret, value string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
