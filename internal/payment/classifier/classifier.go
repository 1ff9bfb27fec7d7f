// Package classifier maps gateway event types and payment statuses onto the
// internal payment and subscription status pair.
package classifier

import (
	"strings"

	paymentdomain "github.com/kersonpank/treinepass-core/internal/payment/domain"
	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
)

// Action tells the reconciler whether an event may mutate state.
type Action int

const (
	ActionApply Action = iota
	ActionIgnore
)

func (a Action) String() string {
	if a == ActionIgnore {
		return "ignore"
	}
	return "apply"
}

type Result struct {
	PaymentStatus      subscriptiondomain.PaymentStatus
	SubscriptionStatus subscriptiondomain.Status
	Action             Action
}

type statusPair struct {
	payment      subscriptiondomain.PaymentStatus
	subscription subscriptiondomain.Status
}

var (
	paid      = statusPair{subscriptiondomain.PaymentStatusPaid, subscriptiondomain.StatusActive}
	pending   = statusPair{subscriptiondomain.PaymentStatusPending, subscriptiondomain.StatusPending}
	overdue   = statusPair{subscriptiondomain.PaymentStatusOverdue, subscriptiondomain.StatusOverdue}
	refunded  = statusPair{subscriptiondomain.PaymentStatusRefunded, subscriptiondomain.StatusCancelled}
	cancelled = statusPair{subscriptiondomain.PaymentStatusCancelled, subscriptiondomain.StatusCancelled}
)

var statusTable = map[string]statusPair{
	paymentdomain.GatewayStatusConfirmed:            paid,
	paymentdomain.GatewayStatusReceived:             paid,
	paymentdomain.GatewayStatusReceivedInCash:       paid,
	paymentdomain.GatewayStatusPending:              pending,
	paymentdomain.GatewayStatusAwaitingRiskAnalysis: pending,
	paymentdomain.GatewayStatusOverdue:              overdue,
	paymentdomain.GatewayStatusRefunded:             refunded,
	paymentdomain.GatewayStatusRefundRequested:      refunded,
	paymentdomain.GatewayStatusCancelled:            cancelled,
}

// impliedStatus fills in the payment status for deliveries that only name
// the event type.
var impliedStatus = map[string]string{
	paymentdomain.EventPaymentCreated:         paymentdomain.GatewayStatusPending,
	paymentdomain.EventPaymentConfirmed:       paymentdomain.GatewayStatusConfirmed,
	paymentdomain.EventPaymentReceived:        paymentdomain.GatewayStatusReceived,
	paymentdomain.EventPaymentOverdue:         paymentdomain.GatewayStatusOverdue,
	paymentdomain.EventPaymentRefunded:        paymentdomain.GatewayStatusRefunded,
	paymentdomain.EventPaymentRefundRequested: paymentdomain.GatewayStatusRefundRequested,
}

var ignoredEvents = map[string]struct{}{
	paymentdomain.EventPaymentDeleted:      {},
	paymentdomain.EventSubscriptionCreated: {},
	paymentdomain.EventSubscriptionUpdated: {},
}

var cancellingEvents = map[string]struct{}{
	paymentdomain.EventSubscriptionCancelled: {},
	paymentdomain.EventSubscriptionDeleted:   {},
}

// Classify looks up the internal status pair. Unrecognized statuses fall
// back to pending/pending.
func Classify(eventType, gatewayStatus string) Result {
	eventType = normalize(eventType)
	if _, ok := ignoredEvents[eventType]; ok {
		return Result{Action: ActionIgnore}
	}
	if _, ok := cancellingEvents[eventType]; ok {
		return result(cancelled)
	}

	status := normalize(gatewayStatus)
	if status == "" {
		status = impliedStatus[eventType]
	}
	pair, ok := statusTable[status]
	if !ok {
		return result(pending)
	}
	return result(pair)
}

// ClassifyEvent classifies a parsed event. Events without a modelled
// category are ignored.
func ClassifyEvent(evt paymentdomain.Event) Result {
	switch e := evt.(type) {
	case *paymentdomain.PaymentEvent:
		return Classify(e.Type, e.Status)
	case *paymentdomain.SubscriptionEvent:
		if _, ok := cancellingEvents[normalize(e.Type)]; ok {
			return result(cancelled)
		}
		return Result{Action: ActionIgnore}
	default:
		return Result{Action: ActionIgnore}
	}
}

// IsCompletion reports whether a payment status is recorded in the payment
// history ledger.
func IsCompletion(status subscriptiondomain.PaymentStatus) bool {
	return status == subscriptiondomain.PaymentStatusPaid || status == subscriptiondomain.PaymentStatusRefunded
}

// Rank orders payment statuses by authority. A later event never lowers it.
func Rank(status subscriptiondomain.PaymentStatus) int {
	switch status {
	case subscriptiondomain.PaymentStatusOverdue:
		return 1
	case subscriptiondomain.PaymentStatusPaid:
		return 2
	case subscriptiondomain.PaymentStatusRefunded, subscriptiondomain.PaymentStatusCancelled:
		return 3
	default:
		return 0
	}
}

func result(pair statusPair) Result {
	return Result{
		PaymentStatus:      pair.payment,
		SubscriptionStatus: pair.subscription,
		Action:             ActionApply,
	}
}

func normalize(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}
