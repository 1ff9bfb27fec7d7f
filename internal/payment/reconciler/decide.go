package reconciler

import (
	"fmt"
	"time"

	"github.com/kersonpank/treinepass-core/internal/payment/classifier"
	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
)

type verdict int

const (
	verdictApply verdict = iota
	verdictNoop
	verdictStale
	verdictTerminal
)

func (v verdict) String() string {
	switch v {
	case verdictApply:
		return "applied"
	case verdictNoop:
		return "noop"
	case verdictStale:
		return "stale"
	default:
		return "terminal"
	}
}

// target is the classified state an event asks for, with the dates it
// carries.
type target struct {
	paymentStatus      subscriptiondomain.PaymentStatus
	subscriptionStatus subscriptiondomain.Status
	dueDate            *time.Time
	paymentDate        *time.Time
}

type decision struct {
	verdict    verdict
	transition subscriptiondomain.Transition
	note       string
}

// decide compares the stored subscription with the target. Updates are
// "set to target" writes, except that a lower ranked payment status never
// replaces a higher one and a terminal subscription is never reactivated.
func decide(current *subscriptiondomain.Subscription, want target, now time.Time) decision {
	if current.Status.Terminal() {
		if want.paymentStatus == subscriptiondomain.PaymentStatusRefunded && current.PaymentStatus != subscriptiondomain.PaymentStatusRefunded {
			return decision{
				verdict: verdictApply,
				transition: subscriptiondomain.Transition{
					Status:        current.Status,
					PaymentStatus: subscriptiondomain.PaymentStatusRefunded,
					UpdatedAt:     now,
				},
			}
		}
		if current.Status == want.subscriptionStatus && current.PaymentStatus == want.paymentStatus {
			return decision{verdict: verdictNoop, note: "already up to date"}
		}
		return decision{
			verdict: verdictTerminal,
			note:    fmt.Sprintf("subscription is %s; event not applied", current.Status),
		}
	}

	if classifier.Rank(want.paymentStatus) < classifier.Rank(current.PaymentStatus) && !newPeriodOverdue(current, want) {
		return decision{
			verdict: verdictStale,
			note:    fmt.Sprintf("stale event: payment_status %s is behind %s", want.paymentStatus, current.PaymentStatus),
		}
	}

	if current.Status == want.subscriptionStatus && current.PaymentStatus == want.paymentStatus && !needsTimestamps(current, want) {
		return decision{verdict: verdictNoop, note: "already up to date"}
	}

	next := subscriptiondomain.Transition{
		Status:        want.subscriptionStatus,
		PaymentStatus: want.paymentStatus,
		UpdatedAt:     now,
	}
	switch {
	case want.paymentStatus == subscriptiondomain.PaymentStatusPaid:
		paidAt := now
		if want.paymentDate != nil {
			paidAt = *want.paymentDate
		}
		next.LastPaymentDate = &paidAt
		base := want.dueDate
		if base == nil {
			base = want.paymentDate
		}
		if base != nil {
			nextDue := current.BillingCycle.Next(*base)
			next.NextPaymentDate = &nextDue
		}
	case want.subscriptionStatus == subscriptiondomain.StatusCancelled:
		cancelledAt := now
		next.CancelledAt = &cancelledAt
	}
	return decision{verdict: verdictApply, transition: next}
}

// needsTimestamps reports whether a subscription already in the target
// state still lacks the timestamps that state implies. A paid subscription
// also moves forward when the event reports a later payment (renewal).
func needsTimestamps(current *subscriptiondomain.Subscription, want target) bool {
	switch {
	case want.paymentStatus == subscriptiondomain.PaymentStatusPaid:
		if current.LastPaymentDate == nil {
			return true
		}
		return want.paymentDate != nil && want.paymentDate.After(*current.LastPaymentDate)
	case want.subscriptionStatus == subscriptiondomain.StatusCancelled:
		return current.CancelledAt == nil
	default:
		return false
	}
}

// newPeriodOverdue allows paid -> overdue when the overdue charge belongs
// to a period after the last recorded payment.
func newPeriodOverdue(current *subscriptiondomain.Subscription, want target) bool {
	if want.paymentStatus != subscriptiondomain.PaymentStatusOverdue || current.PaymentStatus != subscriptiondomain.PaymentStatusPaid {
		return false
	}
	if want.dueDate == nil {
		return false
	}
	return current.LastPaymentDate == nil || want.dueDate.After(*current.LastPaymentDate)
}
