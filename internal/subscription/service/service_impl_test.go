package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kersonpank/treinepass-core/internal/clock"
	"github.com/kersonpank/treinepass-core/internal/config"
	"github.com/kersonpank/treinepass-core/internal/dbtest"
	paymentdomain "github.com/kersonpank/treinepass-core/internal/payment/domain"
	"github.com/kersonpank/treinepass-core/internal/payment/paymenttest"
	paymentrepo "github.com/kersonpank/treinepass-core/internal/payment/repository"
	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
	subscriptionrepo "github.com/kersonpank/treinepass-core/internal/subscription/repository"
	"github.com/kersonpank/treinepass-core/internal/subscription/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	gateway *paymenttest.Gateway
	svc     subscriptiondomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := dbtest.Open(t)
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	gateway := paymenttest.NewGateway("asaas")
	registry, err := paymenttest.Registry(gateway)
	require.NoError(t, err)
	plans, err := config.NewStaticPlanCatalog(
		config.Plan{ID: "basic", Name: "Basic", Price: 9990, BillingCycle: "monthly"},
		config.Plan{ID: "corp", Name: "Corporate", Price: 49900, BillingCycle: "yearly", Scope: "business"},
	)
	require.NoError(t, err)

	svc := service.NewService(service.ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2024, 5, 1, 15, 30, 0, 0, time.UTC)),
		Stores:   subscriptionrepo.ProvideStores(),
		Plans:    plans,
		Payments: paymentrepo.Provide(),
		Gateways: registry,
	})
	return &fixture{db: db, gateway: gateway, svc: svc}
}

func request() subscriptiondomain.CheckoutRequest {
	return subscriptiondomain.CheckoutRequest{
		Scope:       "user",
		OwnerID:     "u1",
		PlanID:      "basic",
		BillingType: "pix",
		Customer: subscriptiondomain.CustomerInfo{
			Name:     "Ana",
			Email:    "ana@example.com",
			Document: "12345678909",
		},
	}
}

func TestCheckoutCreatesPendingSubscriptionAndCharge(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.Checkout(context.Background(), request())
	require.NoError(t, err)

	sub := resp.Subscription
	assert.Equal(t, subscriptiondomain.StatusPending, sub.Status)
	assert.Equal(t, subscriptiondomain.PaymentStatusPending, sub.PaymentStatus)
	assert.Equal(t, int64(9990), sub.TotalValue)
	assert.Equal(t, subscriptiondomain.BillingCycleMonthly, sub.BillingCycle)
	assert.True(t, strings.HasPrefix(sub.ExternalReference, "usr_"))
	require.NotNil(t, sub.GatewayCustomerID)
	assert.Equal(t, "cus_"+sub.ExternalReference, *sub.GatewayCustomerID)
	assert.Nil(t, sub.GatewaySubscriptionID)

	assert.Equal(t, "asaas", resp.Provider)
	assert.Equal(t, "pay_"+sub.ExternalReference, resp.GatewayPaymentID)
	assert.Equal(t, "https://pay.test/"+sub.ExternalReference, resp.PaymentLink)
	assert.NotEmpty(t, resp.PaymentID)

	dbtest.AssertCount(t, f.db, 1, `SELECT COUNT(*) FROM payments WHERE gateway_payment_id = ? AND status = ? AND payment_link IS NOT NULL`,
		resp.GatewayPaymentID, "pending")
	assert.Equal(t, 1, f.gateway.CallCount("create_customer"))
	assert.Equal(t, 1, f.gateway.CallCount("create_payment"))
}

func TestCheckoutRecurringUsesGatewaySubscription(t *testing.T) {
	f := newFixture(t)
	req := request()
	req.Scope = "business"
	req.PlanID = "corp"
	req.Recurring = true
	req.GatewayCustomerID = "cus_existing"

	resp, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)

	sub := resp.Subscription
	assert.Equal(t, subscriptiondomain.ScopeBusiness, sub.Scope)
	assert.Equal(t, subscriptiondomain.BillingCycleYearly, sub.BillingCycle)
	assert.True(t, strings.HasPrefix(sub.ExternalReference, "biz_"))
	require.NotNil(t, sub.GatewaySubscriptionID)
	assert.Equal(t, "gwsub_"+sub.ExternalReference, *sub.GatewaySubscriptionID)
	assert.Equal(t, "cus_existing", *sub.GatewayCustomerID)
	assert.Equal(t, "https://pay.test/sub/"+sub.ExternalReference, resp.PaymentLink)

	assert.Equal(t, 0, f.gateway.CallCount("create_customer"))
	assert.Equal(t, 1, f.gateway.CallCount("create_subscription"))
	dbtest.AssertCount(t, f.db, 0, `SELECT COUNT(*) FROM payments`)
}

func TestCheckoutValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*subscriptiondomain.CheckoutRequest)
		want   error
	}{
		{name: "scope", mutate: func(r *subscriptiondomain.CheckoutRequest) { r.Scope = "team" }, want: subscriptiondomain.ErrInvalidScope},
		{name: "owner", mutate: func(r *subscriptiondomain.CheckoutRequest) { r.OwnerID = " " }, want: subscriptiondomain.ErrInvalidOwner},
		{name: "plan", mutate: func(r *subscriptiondomain.CheckoutRequest) { r.PlanID = "gold" }, want: subscriptiondomain.ErrInvalidPlan},
		{name: "plan scope", mutate: func(r *subscriptiondomain.CheckoutRequest) { r.PlanID = "corp" }, want: subscriptiondomain.ErrInvalidPlan},
		{name: "cycle", mutate: func(r *subscriptiondomain.CheckoutRequest) { r.BillingCycle = "weekly" }, want: subscriptiondomain.ErrInvalidBillingCycle},
		{name: "value", mutate: func(r *subscriptiondomain.CheckoutRequest) { r.TotalValue = 100 }, want: subscriptiondomain.ErrInvalidValue},
		{name: "billing type", mutate: func(r *subscriptiondomain.CheckoutRequest) { r.BillingType = "crypto" }, want: subscriptiondomain.ErrInvalidBillingType},
		{name: "customer", mutate: func(r *subscriptiondomain.CheckoutRequest) { r.Customer.Document = "" }, want: subscriptiondomain.ErrInvalidCustomer},
		{name: "upgrade id", mutate: func(r *subscriptiondomain.CheckoutRequest) { r.UpgradeFromSubscriptionID = "abc" }, want: subscriptiondomain.ErrInvalidUpgradeSource},
		{name: "upgrade missing", mutate: func(r *subscriptiondomain.CheckoutRequest) { r.UpgradeFromSubscriptionID = "999" }, want: subscriptiondomain.ErrInvalidUpgradeSource},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			req := request()
			tc.mutate(&req)
			_, err := f.svc.Checkout(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			dbtest.AssertCount(t, f.db, 0, `SELECT COUNT(*) FROM user_subscriptions`)
			assert.Empty(t, f.gateway.Calls)
		})
	}
}

func TestCheckoutUpgradeFromOwnSubscription(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Checkout(context.Background(), request())
	require.NoError(t, err)

	req := request()
	req.UpgradeFromSubscriptionID = first.Subscription.ID.String()
	second, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, second.Subscription.UpgradeFromSubscriptionID)
	assert.Equal(t, first.Subscription.ID, *second.Subscription.UpgradeFromSubscriptionID)
	assert.NotEqual(t, first.Subscription.ExternalReference, second.Subscription.ExternalReference)

	other := request()
	other.OwnerID = "u2"
	other.UpgradeFromSubscriptionID = first.Subscription.ID.String()
	_, err = f.svc.Checkout(context.Background(), other)
	assert.True(t, errors.Is(err, subscriptiondomain.ErrInvalidUpgradeSource))
}

func TestCheckoutGatewayFailureCancelsSubscription(t *testing.T) {
	f := newFixture(t)
	f.gateway.CreateErr = paymentdomain.ErrGatewayRequest

	_, err := f.svc.Checkout(context.Background(), request())
	require.Error(t, err)
	assert.True(t, errors.Is(err, subscriptiondomain.ErrGatewayUnavailable))
	assert.True(t, errors.Is(err, paymentdomain.ErrGatewayRequest))

	dbtest.AssertCount(t, f.db, 1, `SELECT COUNT(*) FROM user_subscriptions WHERE status = ? AND cancelled_at IS NOT NULL`, "cancelled")
	dbtest.AssertCount(t, f.db, 0, `SELECT COUNT(*) FROM payments`)
}

func TestGetAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Checkout(ctx, request())
	require.NoError(t, err)
	id := resp.Subscription.ID.String()

	got, err := f.svc.Get(ctx, subscriptiondomain.ScopeUser, id)
	require.NoError(t, err)
	assert.Equal(t, resp.Subscription.ExternalReference, got.ExternalReference)
	assert.Equal(t, subscriptiondomain.ScopeUser, got.Scope)

	_, err = f.svc.Get(ctx, subscriptiondomain.ScopeBusiness, id)
	assert.True(t, errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound))
	_, err = f.svc.Get(ctx, subscriptiondomain.ScopeUser, "nope")
	assert.True(t, errors.Is(err, subscriptiondomain.ErrInvalidSubscriptionID))

	cancelled, err := f.svc.Cancel(ctx, subscriptiondomain.ScopeUser, id)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCancelled, cancelled.Status)
	assert.Equal(t, subscriptiondomain.PaymentStatusCancelled, cancelled.PaymentStatus)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = f.svc.Cancel(ctx, subscriptiondomain.ScopeUser, id)
	assert.True(t, errors.Is(err, subscriptiondomain.ErrInvalidTransition))
}
