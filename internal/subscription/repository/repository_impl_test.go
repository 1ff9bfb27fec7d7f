package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kersonpank/treinepass-core/internal/dbtest"
	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
	"github.com/kersonpank/treinepass-core/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newSubscription(id snowflake.ID, owner, ref string, status subscriptiondomain.Status) *subscriptiondomain.Subscription {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &subscriptiondomain.Subscription{
		ID:                id,
		OwnerID:           owner,
		PlanID:            "basic",
		Status:            status,
		PaymentStatus:     subscriptiondomain.PaymentStatusPending,
		ExternalReference: ref,
		BillingCycle:      subscriptiondomain.BillingCycleMonthly,
		TotalValue:        9990,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func insert(t *testing.T, db *gorm.DB, store subscriptiondomain.Store, sub *subscriptiondomain.Subscription) {
	t.Helper()
	require.NoError(t, store.Insert(context.Background(), db, sub))
}

func TestResolverPrefersUserStore(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	users := repository.NewUserStore()
	businesses := repository.NewBusinessStore()

	insert(t, db, businesses, newSubscription(2, "b1", "shared_ref", subscriptiondomain.StatusPending))
	insert(t, db, users, newSubscription(1, "u1", "shared_ref", subscriptiondomain.StatusPending))

	found, err := repository.NewResolver().Resolve(ctx, db, subscriptiondomain.Reference{ExternalReference: "shared_ref"})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, subscriptiondomain.ScopeUser, found.Scope)
	assert.Equal(t, snowflake.ID(1), found.ID)
}

func TestResolverFallsBackToGatewaySubscriptionID(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	businesses := repository.NewBusinessStore()

	sub := newSubscription(7, "b1", "biz_ref", subscriptiondomain.StatusActive)
	gatewayID := "sub_gw_9"
	sub.GatewaySubscriptionID = &gatewayID
	insert(t, db, businesses, sub)

	found, err := repository.NewResolver().Resolve(ctx, db, subscriptiondomain.Reference{
		ExternalReference:     "unknown_ref",
		GatewaySubscriptionID: "sub_gw_9",
	})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, subscriptiondomain.ScopeBusiness, found.Scope)
	assert.True(t, found.IsBusiness())
}

func TestResolverNotFoundIsNotAnError(t *testing.T) {
	db := dbtest.Open(t)

	found, err := repository.NewResolver().Resolve(context.Background(), db, subscriptiondomain.Reference{ExternalReference: "nope"})
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = repository.NewResolver().Resolve(context.Background(), db, subscriptiondomain.Reference{})
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestApplyTransitionIsConditional(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	users := repository.NewUserStore()
	insert(t, db, users, newSubscription(1, "u1", "ref_1", subscriptiondomain.StatusPending))

	paidAt := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	next := subscriptiondomain.Transition{
		Status:          subscriptiondomain.StatusActive,
		PaymentStatus:   subscriptiondomain.PaymentStatusPaid,
		LastPaymentDate: &paidAt,
		UpdatedAt:       paidAt,
	}

	stale := subscriptiondomain.Observed{Status: subscriptiondomain.StatusActive, PaymentStatus: subscriptiondomain.PaymentStatusPaid}
	applied, err := users.ApplyTransition(ctx, db, 1, stale, next)
	require.NoError(t, err)
	assert.False(t, applied)

	current := subscriptiondomain.Observed{Status: subscriptiondomain.StatusPending, PaymentStatus: subscriptiondomain.PaymentStatusPending}
	applied, err = users.ApplyTransition(ctx, db, 1, current, next)
	require.NoError(t, err)
	assert.True(t, applied)

	stored, err := users.FindByID(ctx, db, 1)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, subscriptiondomain.StatusActive, stored.Status)
	require.NotNil(t, stored.LastPaymentDate)
	assert.True(t, stored.LastPaymentDate.Equal(paidAt))
}

func TestCancelSiblingsSkipsKeptAndTerminal(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	users := repository.NewUserStore()

	insert(t, db, users, newSubscription(1, "u1", "ref_1", subscriptiondomain.StatusActive))
	insert(t, db, users, newSubscription(2, "u1", "ref_2", subscriptiondomain.StatusPending))
	insert(t, db, users, newSubscription(3, "u1", "ref_3", subscriptiondomain.StatusOverdue))
	insert(t, db, users, newSubscription(4, "u2", "ref_4", subscriptiondomain.StatusPending))

	count, err := users.CancelSiblings(ctx, db, "u1", 1, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	dbtest.AssertCount(t, db, 1, `SELECT COUNT(*) FROM user_subscriptions WHERE id = 2 AND status = 'cancelled' AND payment_status = 'cancelled'`)
	dbtest.AssertCount(t, db, 1, `SELECT COUNT(*) FROM user_subscriptions WHERE id = 1 AND status = 'active'`)
	dbtest.AssertCount(t, db, 1, `SELECT COUNT(*) FROM user_subscriptions WHERE id = 3 AND status = 'overdue'`)
	dbtest.AssertCount(t, db, 1, `SELECT COUNT(*) FROM user_subscriptions WHERE id = 4 AND status = 'pending'`)
}

func TestCancelRejectsTerminal(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	businesses := repository.NewBusinessStore()
	insert(t, db, businesses, newSubscription(1, "b1", "ref_1", subscriptiondomain.StatusCancelled))
	insert(t, db, businesses, newSubscription(2, "b1", "ref_2", subscriptiondomain.StatusOverdue))

	ok, err := businesses.Cancel(ctx, db, 1, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = businesses.Cancel(ctx, db, 2, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListByOwnerAndGatewayRefs(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	users := repository.NewUserStore()
	insert(t, db, users, newSubscription(1, "u1", "ref_1", subscriptiondomain.StatusPending))

	customer := "cus_1"
	require.NoError(t, users.SetGatewayRefs(ctx, db, 1, &customer, nil, time.Now().UTC()))

	items, err := users.ListByOwner(ctx, db, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].GatewayCustomerID)
	assert.Equal(t, "cus_1", *items[0].GatewayCustomerID)
	assert.Nil(t, items[0].GatewaySubscriptionID)
	assert.Equal(t, subscriptiondomain.ScopeUser, items[0].Scope)

	missing, err := users.FindByID(ctx, db, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInsertRejectsDuplicateReference(t *testing.T) {
	db := dbtest.Open(t)
	users := repository.NewUserStore()

	insert(t, db, users, newSubscription(1, "u1", "sub_dup", subscriptiondomain.StatusPending))
	err := users.Insert(context.Background(), db, newSubscription(2, "u1", "sub_dup", subscriptiondomain.StatusPending))
	assert.ErrorIs(t, err, subscriptiondomain.ErrDuplicateSubscription)
}

func TestLockOwnerRunsInsideTransaction(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	users := repository.NewUserStore()

	insert(t, db, users, newSubscription(2, "u1", "sub_b", subscriptiondomain.StatusPending))
	insert(t, db, users, newSubscription(1, "u1", "sub_a", subscriptiondomain.StatusPending))

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := users.LockOwner(ctx, tx, "u1"); err != nil {
			return err
		}
		_, err := users.CancelSiblings(ctx, tx, "u1", 1, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
		return err
	})
	require.NoError(t, err)
	dbtest.AssertCount(t, db, 1, `SELECT COUNT(*) FROM user_subscriptions WHERE status = ?`, "cancelled")
}
