package domain

import (
	"encoding/json"
	"time"
)

// Event type values in the canonical vocabulary. Adapters translate gateway
// specific names into these.
const (
	EventPaymentCreated         = "PAYMENT_CREATED"
	EventPaymentUpdated         = "PAYMENT_UPDATED"
	EventPaymentConfirmed       = "PAYMENT_CONFIRMED"
	EventPaymentReceived        = "PAYMENT_RECEIVED"
	EventPaymentOverdue         = "PAYMENT_OVERDUE"
	EventPaymentRefunded        = "PAYMENT_REFUNDED"
	EventPaymentRefundRequested = "PAYMENT_REFUND_REQUESTED"
	EventPaymentDeleted         = "PAYMENT_DELETED"
	EventSubscriptionCreated    = "SUBSCRIPTION_CREATED"
	EventSubscriptionUpdated    = "SUBSCRIPTION_UPDATED"
	EventSubscriptionCancelled  = "SUBSCRIPTION_CANCELLED"
	EventSubscriptionDeleted    = "SUBSCRIPTION_DELETED"
)

// Gateway payment statuses in the canonical vocabulary.
const (
	GatewayStatusConfirmed            = "CONFIRMED"
	GatewayStatusReceived             = "RECEIVED"
	GatewayStatusReceivedInCash       = "RECEIVED_IN_CASH"
	GatewayStatusPending              = "PENDING"
	GatewayStatusAwaitingRiskAnalysis = "AWAITING_RISK_ANALYSIS"
	GatewayStatusOverdue              = "OVERDUE"
	GatewayStatusRefunded             = "REFUNDED"
	GatewayStatusRefundRequested      = "REFUND_REQUESTED"
	GatewayStatusCancelled            = "CANCELLED"
)

// Event is a parsed gateway delivery. The concrete type is one of
// *PaymentEvent, *SubscriptionEvent or *OtherEvent.
type Event interface {
	EventType() string
	ProviderName() string
	DeliveryID() string
	RawPayload() json.RawMessage
	event()
}

// EventHeader carries the fields every variant shares.
type EventHeader struct {
	Provider       string
	Type           string
	GatewayEventID string
	Raw            json.RawMessage
}

func (h EventHeader) EventType() string           { return h.Type }
func (h EventHeader) ProviderName() string        { return h.Provider }
func (h EventHeader) DeliveryID() string          { return h.GatewayEventID }
func (h EventHeader) RawPayload() json.RawMessage { return h.Raw }

// PaymentEvent reports a change on a single gateway charge. Status may be
// empty when the gateway only sends a notification and the charge must be
// fetched.
type PaymentEvent struct {
	EventHeader
	PaymentID         string
	Status            string
	ExternalReference string
	SubscriptionID    string
	CustomerID        string
	Value             int64
	BillingType       string
	DueDate           *time.Time
	PaymentDate       *time.Time
}

func (*PaymentEvent) event() {}

// SubscriptionEvent reports a change on a gateway recurring subscription.
type SubscriptionEvent struct {
	EventHeader
	SubscriptionID    string
	Status            string
	ExternalReference string
	CustomerID        string
}

func (*SubscriptionEvent) event() {}

// OtherEvent is any delivery with a recognizable type that no variant models.
type OtherEvent struct {
	EventHeader
}

func (*OtherEvent) event() {}

// Refs extracts the identifiers stored alongside the raw payload.
func Refs(evt Event) (paymentID, subscriptionID, externalRef string) {
	switch e := evt.(type) {
	case *PaymentEvent:
		return e.PaymentID, e.SubscriptionID, e.ExternalReference
	case *SubscriptionEvent:
		return "", e.SubscriptionID, e.ExternalReference
	default:
		return "", "", ""
	}
}
