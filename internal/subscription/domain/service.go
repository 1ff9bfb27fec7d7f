package domain

import "context"

// CustomerInfo identifies the payer at the gateway.
type CustomerInfo struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Document string `json:"document"`
	Phone    string `json:"phone,omitempty"`
}

type CheckoutRequest struct {
	Scope                     string       `json:"scope"`
	OwnerID                   string       `json:"owner_id"`
	PlanID                    string       `json:"plan_id"`
	BillingCycle              string       `json:"billing_cycle"`
	BillingType               string       `json:"billing_type"`
	TotalValue                int64        `json:"total_value"`
	Recurring                 bool         `json:"recurring"`
	GatewayCustomerID         string       `json:"gateway_customer_id,omitempty"`
	UpgradeFromSubscriptionID string       `json:"upgrade_from_subscription_id,omitempty"`
	Customer                  CustomerInfo `json:"customer"`
}

type CheckoutResponse struct {
	Subscription     Subscription `json:"subscription"`
	Provider         string       `json:"provider"`
	PaymentID        string       `json:"payment_id,omitempty"`
	GatewayPaymentID string       `json:"gateway_payment_id,omitempty"`
	PaymentLink      string       `json:"payment_link,omitempty"`
}

type Service interface {
	Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResponse, error)
	Get(ctx context.Context, scope Scope, id string) (*Subscription, error)
	Cancel(ctx context.Context, scope Scope, id string) (*Subscription, error)
}
