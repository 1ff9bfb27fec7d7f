package domain

import "errors"

var (
	ErrInvalidScope          = errors.New("invalid_scope")
	ErrInvalidOwner          = errors.New("invalid_owner")
	ErrInvalidPlan           = errors.New("invalid_plan")
	ErrInvalidValue          = errors.New("invalid_total_value")
	ErrInvalidBillingCycle   = errors.New("invalid_billing_cycle")
	ErrInvalidBillingType    = errors.New("invalid_billing_type")
	ErrInvalidCustomer       = errors.New("invalid_customer")
	ErrInvalidSubscriptionID = errors.New("invalid_subscription_id")
	ErrInvalidUpgradeSource  = errors.New("invalid_upgrade_source")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrDuplicateSubscription = errors.New("duplicate_subscription")
	ErrInvalidTransition     = errors.New("invalid_transition")
	ErrGatewayUnavailable    = errors.New("gateway_unavailable")
)
