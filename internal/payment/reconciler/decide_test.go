package reconciler

import (
	"strings"
	"testing"
	"time"

	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sub(status subscriptiondomain.Status, paymentStatus subscriptiondomain.PaymentStatus) *subscriptiondomain.Subscription {
	return &subscriptiondomain.Subscription{
		Status:        status,
		PaymentStatus: paymentStatus,
		BillingCycle:  subscriptiondomain.BillingCycleQuarterly,
	}
}

func paidTarget(dueDate, paymentDate *time.Time) target {
	return target{
		paymentStatus:      subscriptiondomain.PaymentStatusPaid,
		subscriptionStatus: subscriptiondomain.StatusActive,
		dueDate:            dueDate,
		paymentDate:        paymentDate,
	}
}

func TestDecidePaidProjectsNextDueDate(t *testing.T) {
	due := time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC)
	paidAt := time.Date(2024, 4, 25, 0, 0, 0, 0, time.UTC)

	d := decide(sub(subscriptiondomain.StatusPending, subscriptiondomain.PaymentStatusPending), paidTarget(&due, &paidAt), now)
	if d.verdict != verdictApply {
		t.Fatalf("expected apply, got %s", d.verdict)
	}
	if d.transition.LastPaymentDate == nil || !d.transition.LastPaymentDate.Equal(paidAt) {
		t.Fatalf("expected last payment %s, got %v", paidAt, d.transition.LastPaymentDate)
	}
	want := time.Date(2024, 7, 20, 0, 0, 0, 0, time.UTC)
	if d.transition.NextPaymentDate == nil || !d.transition.NextPaymentDate.Equal(want) {
		t.Fatalf("expected next payment %s, got %v", want, d.transition.NextPaymentDate)
	}
}

func TestDecidePaidWithoutDatesUsesNow(t *testing.T) {
	d := decide(sub(subscriptiondomain.StatusPending, subscriptiondomain.PaymentStatusPending), paidTarget(nil, nil), now)
	if d.verdict != verdictApply {
		t.Fatalf("expected apply, got %s", d.verdict)
	}
	if d.transition.LastPaymentDate == nil || !d.transition.LastPaymentDate.Equal(now) {
		t.Fatalf("expected last payment at now, got %v", d.transition.LastPaymentDate)
	}
	if d.transition.NextPaymentDate != nil {
		t.Fatalf("expected next payment to stay untouched, got %v", d.transition.NextPaymentDate)
	}
}

func TestDecideReplayIsNoop(t *testing.T) {
	paidAt := now.Add(-time.Hour)
	current := sub(subscriptiondomain.StatusActive, subscriptiondomain.PaymentStatusPaid)
	current.LastPaymentDate = &paidAt

	if d := decide(current, paidTarget(nil, &paidAt), now); d.verdict != verdictNoop {
		t.Fatalf("expected noop, got %s", d.verdict)
	}
	if d := decide(current, paidTarget(nil, nil), now); d.verdict != verdictNoop {
		t.Fatalf("expected noop without payment date, got %s", d.verdict)
	}

	renewal := now
	if d := decide(current, paidTarget(nil, &renewal), now); d.verdict != verdictApply {
		t.Fatalf("expected a later payment to apply, got %s", d.verdict)
	}
}

func TestDecideRejectsLowerRank(t *testing.T) {
	current := sub(subscriptiondomain.StatusActive, subscriptiondomain.PaymentStatusPaid)
	d := decide(current, target{
		paymentStatus:      subscriptiondomain.PaymentStatusPending,
		subscriptionStatus: subscriptiondomain.StatusPending,
	}, now)
	if d.verdict != verdictStale {
		t.Fatalf("expected stale, got %s", d.verdict)
	}
	if !strings.Contains(d.note, "stale event") {
		t.Fatalf("unexpected note %q", d.note)
	}
}

func TestDecideOverdueAfterPayment(t *testing.T) {
	paidAt := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	current := sub(subscriptiondomain.StatusActive, subscriptiondomain.PaymentStatusPaid)
	current.LastPaymentDate = &paidAt

	overdue := func(due *time.Time) target {
		return target{
			paymentStatus:      subscriptiondomain.PaymentStatusOverdue,
			subscriptionStatus: subscriptiondomain.StatusOverdue,
			dueDate:            due,
		}
	}

	before := paidAt.AddDate(0, 0, -5)
	after := paidAt.AddDate(0, 3, 0)
	cases := []struct {
		name string
		due  *time.Time
		want verdict
	}{
		{name: "no due date", due: nil, want: verdictStale},
		{name: "same period", due: &before, want: verdictStale},
		{name: "next period", due: &after, want: verdictApply},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if d := decide(current, overdue(tc.due), now); d.verdict != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, d.verdict)
			}
		})
	}
}

func TestDecideTerminalSubscription(t *testing.T) {
	current := sub(subscriptiondomain.StatusCancelled, subscriptiondomain.PaymentStatusPaid)

	if d := decide(current, paidTarget(nil, nil), now); d.verdict != verdictTerminal {
		t.Fatalf("expected terminal, got %s", d.verdict)
	}

	d := decide(current, target{
		paymentStatus:      subscriptiondomain.PaymentStatusRefunded,
		subscriptionStatus: subscriptiondomain.StatusCancelled,
	}, now)
	if d.verdict != verdictApply {
		t.Fatalf("expected refund to apply, got %s", d.verdict)
	}
	if d.transition.Status != subscriptiondomain.StatusCancelled || d.transition.PaymentStatus != subscriptiondomain.PaymentStatusRefunded {
		t.Fatalf("unexpected transition %+v", d.transition)
	}

	inactive := sub(subscriptiondomain.StatusInactive, subscriptiondomain.PaymentStatusPending)
	if d := decide(inactive, paidTarget(nil, nil), now); d.verdict != verdictTerminal {
		t.Fatalf("expected inactive to stay, got %s", d.verdict)
	}
}

func TestDecideCancellationSetsTimestamp(t *testing.T) {
	d := decide(sub(subscriptiondomain.StatusActive, subscriptiondomain.PaymentStatusPaid), target{
		paymentStatus:      subscriptiondomain.PaymentStatusRefunded,
		subscriptionStatus: subscriptiondomain.StatusCancelled,
	}, now)
	if d.verdict != verdictApply {
		t.Fatalf("expected apply, got %s", d.verdict)
	}
	if d.transition.CancelledAt == nil || !d.transition.CancelledAt.Equal(now) {
		t.Fatalf("expected cancelled_at at now, got %v", d.transition.CancelledAt)
	}
}
