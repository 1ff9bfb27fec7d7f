package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
	pkgdb "github.com/kersonpank/treinepass-core/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const subscriptionColumns = `id, owner_id, plan_id, status, payment_status, external_reference,
	gateway_subscription_id, gateway_customer_id, billing_cycle, billing_type, total_value,
	last_payment_date, next_payment_date, upgrade_from_subscription_id, cancelled_at,
	created_at, updated_at`

// store implements subscriptiondomain.Store over one subscriptions table.
// The user and business tables share a column layout.
type store struct {
	scope subscriptiondomain.Scope
	table string
}

func NewUserStore() subscriptiondomain.Store {
	return &store{scope: subscriptiondomain.ScopeUser, table: "user_subscriptions"}
}

func NewBusinessStore() subscriptiondomain.Store {
	return &store{scope: subscriptiondomain.ScopeBusiness, table: "business_subscriptions"}
}

// ProvideStores returns both stores indexed by scope.
func ProvideStores() subscriptiondomain.Stores {
	return subscriptiondomain.NewStores(NewUserStore(), NewBusinessStore())
}

func (s *store) Scope() subscriptiondomain.Scope {
	return s.scope
}

func (s *store) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	err := db.WithContext(ctx).Exec(
		fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table, subscriptionColumns),
		subscription.ID,
		subscription.OwnerID,
		subscription.PlanID,
		subscription.Status,
		subscription.PaymentStatus,
		subscription.ExternalReference,
		subscription.GatewaySubscriptionID,
		subscription.GatewayCustomerID,
		subscription.BillingCycle,
		subscription.BillingType,
		subscription.TotalValue,
		subscription.LastPaymentDate,
		subscription.NextPaymentDate,
		subscription.UpgradeFromSubscriptionID,
		subscription.CancelledAt,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
	if pkgdb.IsDuplicateKeyErr(err) {
		return subscriptiondomain.ErrDuplicateSubscription
	}
	return err
}

func (s *store) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	result := db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, subscriptionColumns, s.table),
		id,
	).Scan(&subscription)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	subscription.Scope = s.scope
	return &subscription, nil
}

func (s *store) ListByOwner(ctx context.Context, db *gorm.DB, ownerID string) ([]subscriptiondomain.Subscription, error) {
	var items []subscriptiondomain.Subscription
	if err := db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT %s FROM %s WHERE owner_id = ? ORDER BY created_at DESC, id DESC`, subscriptionColumns, s.table),
		ownerID,
	).Scan(&items).Error; err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Scope = s.scope
	}
	return items, nil
}

func (s *store) ApplyTransition(
	ctx context.Context,
	db *gorm.DB,
	id snowflake.ID,
	expect subscriptiondomain.Observed,
	next subscriptiondomain.Transition,
) (bool, error) {
	result := db.WithContext(ctx).Exec(
		fmt.Sprintf(`UPDATE %s
		SET status = ?,
			payment_status = ?,
			last_payment_date = COALESCE(?, last_payment_date),
			next_payment_date = COALESCE(?, next_payment_date),
			cancelled_at = COALESCE(?, cancelled_at),
			updated_at = ?
		WHERE id = ? AND status = ? AND payment_status = ?`, s.table),
		next.Status,
		next.PaymentStatus,
		next.LastPaymentDate,
		next.NextPaymentDate,
		next.CancelledAt,
		next.UpdatedAt,
		id,
		expect.Status,
		expect.PaymentStatus,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *store) LockOwner(ctx context.Context, db *gorm.DB, ownerID string) error {
	var ids []snowflake.ID
	return db.WithContext(ctx).
		Table(s.table).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("owner_id = ?", ownerID).
		Order("id").
		Pluck("id", &ids).Error
}

func (s *store) CancelSiblings(ctx context.Context, db *gorm.DB, ownerID string, keepID snowflake.ID, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		fmt.Sprintf(`UPDATE %s
		SET status = ?,
			payment_status = CASE WHEN payment_status = ? THEN ? ELSE payment_status END,
			cancelled_at = ?,
			updated_at = ?
		WHERE owner_id = ? AND id <> ? AND status IN (?, ?)`, s.table),
		subscriptiondomain.StatusCancelled,
		subscriptiondomain.PaymentStatusPending,
		subscriptiondomain.PaymentStatusCancelled,
		at,
		at,
		ownerID,
		keepID,
		subscriptiondomain.StatusPending,
		subscriptiondomain.StatusActive,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (s *store) Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		fmt.Sprintf(`UPDATE %s
		SET status = ?,
			payment_status = CASE WHEN payment_status = ? THEN ? ELSE payment_status END,
			cancelled_at = ?,
			updated_at = ?
		WHERE id = ? AND status IN (?, ?, ?)`, s.table),
		subscriptiondomain.StatusCancelled,
		subscriptiondomain.PaymentStatusPending,
		subscriptiondomain.PaymentStatusCancelled,
		at,
		at,
		id,
		subscriptiondomain.StatusPending,
		subscriptiondomain.StatusActive,
		subscriptiondomain.StatusOverdue,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *store) SetGatewayRefs(
	ctx context.Context,
	db *gorm.DB,
	id snowflake.ID,
	customerID, gatewaySubscriptionID *string,
	at time.Time,
) error {
	return db.WithContext(ctx).Exec(
		fmt.Sprintf(`UPDATE %s
		SET gateway_customer_id = COALESCE(?, gateway_customer_id),
			gateway_subscription_id = COALESCE(?, gateway_subscription_id),
			updated_at = ?
		WHERE id = ?`, s.table),
		customerID,
		gatewaySubscriptionID,
		at,
		id,
	).Error
}
