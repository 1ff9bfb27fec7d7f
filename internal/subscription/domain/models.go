// Package domain contains the subscription record shared by the user and
// business stores, and the contracts used to read and transition it.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Scope identifies which backing store owns a subscription.
type Scope string

const (
	ScopeUser     Scope = "user"
	ScopeBusiness Scope = "business"
)

func ParseScope(raw string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(raw))) {
	case ScopeUser:
		return ScopeUser, nil
	case ScopeBusiness:
		return ScopeBusiness, nil
	default:
		return "", ErrInvalidScope
	}
}

// Status is the subscription lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
	StatusInactive  Status = "inactive"
)

// Terminal reports whether no webhook may move the subscription out of s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusInactive
}

// PaymentStatus is the internal payment state tracked on subscriptions and payments.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusOverdue   PaymentStatus = "overdue"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// BillingCycle is the recurrence used to project next_payment_date.
type BillingCycle string

const (
	BillingCycleMonthly    BillingCycle = "monthly"
	BillingCycleQuarterly  BillingCycle = "quarterly"
	BillingCycleSemiannual BillingCycle = "semiannual"
	BillingCycleYearly     BillingCycle = "yearly"
)

func ParseBillingCycle(raw string) (BillingCycle, error) {
	switch BillingCycle(strings.ToLower(strings.TrimSpace(raw))) {
	case "", BillingCycleMonthly:
		return BillingCycleMonthly, nil
	case BillingCycleQuarterly:
		return BillingCycleQuarterly, nil
	case BillingCycleSemiannual:
		return BillingCycleSemiannual, nil
	case BillingCycleYearly, "annual":
		return BillingCycleYearly, nil
	default:
		return "", ErrInvalidBillingCycle
	}
}

// Next returns the first due date of the period following from.
func (c BillingCycle) Next(from time.Time) time.Time {
	switch c {
	case BillingCycleQuarterly:
		return from.AddDate(0, 3, 0)
	case BillingCycleSemiannual:
		return from.AddDate(0, 6, 0)
	case BillingCycleYearly:
		return from.AddDate(1, 0, 0)
	default:
		return from.AddDate(0, 1, 0)
	}
}

// Subscription is a plan purchase by a user or a business.
// TotalValue is expressed in centavos.
type Subscription struct {
	ID                        snowflake.ID  `json:"id" gorm:"primaryKey"`
	Scope                     Scope         `json:"scope" gorm:"-"`
	OwnerID                   string        `json:"owner_id" gorm:"type:text;not null"`
	PlanID                    string        `json:"plan_id" gorm:"type:text;not null"`
	Status                    Status        `json:"status" gorm:"type:text;not null"`
	PaymentStatus             PaymentStatus `json:"payment_status" gorm:"type:text;not null"`
	ExternalReference         string        `json:"external_reference" gorm:"type:text;not null"`
	GatewaySubscriptionID     *string       `json:"gateway_subscription_id,omitempty" gorm:"type:text"`
	GatewayCustomerID         *string       `json:"gateway_customer_id,omitempty" gorm:"type:text"`
	BillingCycle              BillingCycle  `json:"billing_cycle" gorm:"type:text;not null"`
	BillingType               *string       `json:"billing_type,omitempty" gorm:"type:text"`
	TotalValue                int64         `json:"total_value" gorm:"not null"`
	LastPaymentDate           *time.Time    `json:"last_payment_date,omitempty"`
	NextPaymentDate           *time.Time    `json:"next_payment_date,omitempty"`
	UpgradeFromSubscriptionID *snowflake.ID `json:"upgrade_from_subscription_id,omitempty"`
	CancelledAt               *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt                 time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt                 time.Time     `json:"updated_at" gorm:"not null"`
}

// IsBusiness reports whether the record lives in the business store.
func (s Subscription) IsBusiness() bool {
	return s.Scope == ScopeBusiness
}

// Observed is the status pair a conditional update expects to find.
type Observed struct {
	Status        Status
	PaymentStatus PaymentStatus
}

// Transition is the target state written by a conditional update. Nil
// timestamps leave the stored value untouched.
type Transition struct {
	Status          Status
	PaymentStatus   PaymentStatus
	LastPaymentDate *time.Time
	NextPaymentDate *time.Time
	CancelledAt     *time.Time
	UpdatedAt       time.Time
}
