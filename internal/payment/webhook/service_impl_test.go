package webhook_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kersonpank/treinepass-core/internal/clock"
	"github.com/kersonpank/treinepass-core/internal/config"
	"github.com/kersonpank/treinepass-core/internal/dbtest"
	paymentdomain "github.com/kersonpank/treinepass-core/internal/payment/domain"
	"github.com/kersonpank/treinepass-core/internal/payment/paymenttest"
	"github.com/kersonpank/treinepass-core/internal/payment/reconciler"
	paymentrepo "github.com/kersonpank/treinepass-core/internal/payment/repository"
	"github.com/kersonpank/treinepass-core/internal/payment/webhook"
	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
	subscriptionrepo "github.com/kersonpank/treinepass-core/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const confirmedPayload = `{"event":"PAYMENT_CONFIRMED","payment":{"id":"pay_1","status":"CONFIRMED","externalReference":"sub_123"}}`

type fixture struct {
	db      *gorm.DB
	gateway *paymenttest.Gateway
	stores  subscriptiondomain.Stores
	svc     *webhook.Service
}

func newFixture(t *testing.T, corroborate bool) *fixture {
	t.Helper()
	return newFixtureWithLocker(t, corroborate, nil)
}

func newFixtureWithLocker(t *testing.T, corroborate bool, locker paymentdomain.EventLocker) *fixture {
	t.Helper()

	db := dbtest.Open(t)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	gateway := paymenttest.NewGateway("asaas")
	registry, err := paymenttest.Registry(gateway, paymenttest.NewGateway("mercadopago"))
	require.NoError(t, err)

	repo := paymentrepo.Provide()
	stores := subscriptionrepo.ProvideStores()
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{}
	cfg.Gateway.Corroborate = corroborate

	rec := reconciler.NewService(reconciler.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Cfg:      cfg,
		Repo:     repo,
		Resolver: subscriptionrepo.NewResolver(),
		Stores:   stores,
		Gateways: registry,
		GenID:    node,
		Clock:    clk,
	})
	svc := webhook.NewService(webhook.Params{
		DB:         db,
		Log:        zap.NewNop(),
		Repo:       repo,
		Reconciler: rec,
		Gateways:   registry,
		GenID:      node,
		Clock:      clk,
		Locker:     locker,
	})
	return &fixture{db: db, gateway: gateway, stores: stores, svc: svc}
}

func (f *fixture) addSubscription(t *testing.T, id snowflake.ID, ref string) {
	t.Helper()
	store, err := f.stores.For(subscriptiondomain.ScopeUser)
	require.NoError(t, err)
	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Insert(context.Background(), f.db, &subscriptiondomain.Subscription{
		ID:                id,
		OwnerID:           "u1",
		PlanID:            "basic",
		Status:            subscriptiondomain.StatusPending,
		PaymentStatus:     subscriptiondomain.PaymentStatusPending,
		ExternalReference: ref,
		BillingCycle:      subscriptiondomain.BillingCycleMonthly,
		TotalValue:        9990,
		CreatedAt:         now,
		UpdatedAt:         now,
	}))
}

func (f *fixture) status(t *testing.T, id snowflake.ID) subscriptiondomain.Status {
	t.Helper()
	store, err := f.stores.For(subscriptiondomain.ScopeUser)
	require.NoError(t, err)
	sub, err := store.FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, sub)
	return sub.Status
}

func TestReceiveStoresAndReconciles(t *testing.T) {
	f := newFixture(t, false)
	f.addSubscription(t, 1, "sub_123")

	receipt, err := f.svc.Receive(context.Background(), "", []byte(confirmedPayload), http.Header{})
	require.NoError(t, err)
	require.NotNil(t, receipt.Outcome)
	assert.True(t, receipt.Outcome.Success)
	assert.Equal(t, subscriptiondomain.StatusActive, f.status(t, 1))

	dbtest.AssertCount(t, f.db, 1, `SELECT COUNT(*) FROM webhook_events WHERE id = ? AND processed = ? AND payment_id = ? AND external_reference = ?`,
		receipt.EventID, true, "pay_1", "sub_123")
}

func TestReceiveRejectsBeforeStoring(t *testing.T) {
	cases := []struct {
		name     string
		provider string
		payload  string
		setup    func(*paymenttest.Gateway)
		want     error
	}{
		{name: "unknown provider", provider: "stripe", payload: confirmedPayload, want: paymentdomain.ErrProviderNotFound},
		{name: "malformed json", provider: "asaas", payload: `{"event":`, want: paymentdomain.ErrInvalidPayload},
		{name: "missing event type", provider: "asaas", payload: `{"payment":{"id":"pay_1"}}`, want: paymentdomain.ErrMissingEventType},
		{
			name:     "bad signature",
			provider: "asaas",
			payload:  confirmedPayload,
			setup:    func(g *paymenttest.Gateway) { g.VerifyErr = paymentdomain.ErrInvalidSignature },
			want:     paymentdomain.ErrInvalidSignature,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, false)
			if tc.setup != nil {
				tc.setup(f.gateway)
			}
			_, err := f.svc.Receive(context.Background(), tc.provider, []byte(tc.payload), http.Header{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			dbtest.AssertCount(t, f.db, 0, `SELECT COUNT(*) FROM webhook_events`)
		})
	}
}

func TestReceiveAcknowledgesProcessingFailure(t *testing.T) {
	f := newFixture(t, true)
	f.addSubscription(t, 1, "sub_123")
	f.gateway.GetErr = paymentdomain.ErrGatewayRequest

	receipt, err := f.svc.Receive(context.Background(), "asaas", []byte(confirmedPayload), http.Header{})
	require.NoError(t, err)
	assert.Nil(t, receipt.Outcome)
	assert.Equal(t, subscriptiondomain.StatusPending, f.status(t, 1))
	dbtest.AssertCount(t, f.db, 1, `SELECT COUNT(*) FROM webhook_events WHERE processed = ? AND retry_count = ?`, false, 1)
}

func TestReceiveFailsWhenEventCannotBeStored(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.db.Exec(`DROP TABLE webhook_events`).Error)

	_, err := f.svc.Receive(context.Background(), "asaas", []byte(confirmedPayload), http.Header{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store webhook event")
}

func TestReceiveStoresIgnoredEvents(t *testing.T) {
	f := newFixture(t, false)

	receipt, err := f.svc.Receive(context.Background(), "asaas", []byte(`{"event":"ACCOUNT_STATUS_UPDATED"}`), http.Header{})
	require.NoError(t, err)
	require.NotNil(t, receipt.Outcome)
	assert.True(t, receipt.Outcome.Success)
	dbtest.AssertCount(t, f.db, 1, `SELECT COUNT(*) FROM webhook_events WHERE event_type = ? AND processed = ?`, "ACCOUNT_STATUS_UPDATED", true)
}

func TestReprocessResolvesLateSubscription(t *testing.T) {
	f := newFixture(t, false)

	receipt, err := f.svc.Receive(context.Background(), "asaas", []byte(confirmedPayload), http.Header{})
	require.NoError(t, err)
	require.NotNil(t, receipt.Outcome)
	assert.False(t, receipt.Outcome.Success)
	assert.Equal(t, "not found", receipt.Outcome.Message)

	f.addSubscription(t, 1, "sub_123")
	outcome, err := f.svc.Reprocess(context.Background(), receipt.EventID)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, subscriptiondomain.StatusActive, f.status(t, 1))

	dbtest.AssertCount(t, f.db, 1, `SELECT COUNT(*) FROM webhook_events`)
	dbtest.AssertCount(t, f.db, 1, `SELECT COUNT(*) FROM webhook_events WHERE processed = ? AND error_message IS NULL`, true)
}

func TestReprocessReportsFailureAsOutcome(t *testing.T) {
	f := newFixture(t, true)
	f.addSubscription(t, 1, "sub_123")
	f.gateway.GetErr = paymentdomain.ErrGatewayRequest

	receipt, err := f.svc.Receive(context.Background(), "asaas", []byte(confirmedPayload), http.Header{})
	require.NoError(t, err)

	outcome, err := f.svc.Reprocess(context.Background(), receipt.EventID)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Message, "gateway_request_failed")
	dbtest.AssertCount(t, f.db, 1, `SELECT COUNT(*) FROM webhook_events WHERE retry_count = ?`, 2)

	f.gateway.GetErr = nil
	f.gateway.Payments["pay_1"] = &paymentdomain.GatewayPayment{ID: "pay_1", Status: paymentdomain.GatewayStatusConfirmed}
	outcome, err = f.svc.Reprocess(context.Background(), receipt.EventID)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, subscriptiondomain.StatusActive, f.status(t, 1))
}

func TestReprocessUnknownEvent(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.svc.Reprocess(context.Background(), 424242)
	assert.True(t, errors.Is(err, paymentdomain.ErrEventNotFound))

	_, err = f.svc.Reprocess(context.Background(), 0)
	assert.True(t, errors.Is(err, paymentdomain.ErrInvalidEventID))
}

func TestListEventsFiltersUnprocessed(t *testing.T) {
	f := newFixture(t, true)
	f.addSubscription(t, 1, "sub_123")
	f.gateway.GetErr = paymentdomain.ErrGatewayRequest

	_, err := f.svc.Receive(context.Background(), "asaas", []byte(confirmedPayload), http.Header{})
	require.NoError(t, err)
	_, err = f.svc.Receive(context.Background(), "asaas", []byte(`{"event":"PAYMENT_DELETED","payment":{"id":"pay_2"}}`), http.Header{})
	require.NoError(t, err)

	unprocessed := false
	events, err := f.svc.ListEvents(context.Background(), paymentdomain.ListEventsFilter{Processed: &unprocessed})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, paymentdomain.EventPaymentConfirmed, events[0].EventType)

	all, err := f.svc.ListEvents(context.Background(), paymentdomain.ListEventsFilter{Provider: " ASAAS "})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

type heldLocker struct {
	held     map[string]bool
	released []string
}

func (l *heldLocker) TryLockEvent(ctx context.Context, eventID string) (string, bool, error) {
	if l.held[eventID] {
		return "", false, nil
	}
	return "token-" + eventID, true, nil
}

func (l *heldLocker) ReleaseEvent(ctx context.Context, eventID, token string) error {
	l.released = append(l.released, token)
	return nil
}

func TestReprocessHonorsEventLock(t *testing.T) {
	locker := &heldLocker{held: map[string]bool{}}
	f := newFixtureWithLocker(t, false, locker)
	f.addSubscription(t, 1, "sub_123")

	receipt, err := f.svc.Receive(context.Background(), "asaas", []byte(confirmedPayload), http.Header{})
	require.NoError(t, err)

	locker.held[receipt.EventID.String()] = true
	_, err = f.svc.Reprocess(context.Background(), receipt.EventID)
	assert.True(t, errors.Is(err, paymentdomain.ErrReprocessInProgress))
	assert.Empty(t, locker.released)

	locker.held = map[string]bool{}
	outcome, err := f.svc.Reprocess(context.Background(), receipt.EventID)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, []string{"token-" + receipt.EventID.String()}, locker.released)
}
