package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kersonpank/treinepass-core/internal/payment/classifier"
	"github.com/kersonpank/treinepass-core/internal/payment/domain"
	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

const eventColumns = `id, provider, event_type, gateway_event_id, payment_id, subscription_id,
	external_reference, payload, processed, processed_at, error_message, retry_count,
	received_at, updated_at`

const paymentColumns = `id, provider, gateway_payment_id, customer_id, subscription_id,
	subscription_scope, amount, billing_type, status, due_date, payment_date,
	payment_link, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Provider,
		event.EventType,
		event.GatewayEventID,
		event.PaymentID,
		event.SubscriptionID,
		event.ExternalReference,
		event.Payload,
		event.Processed,
		event.ProcessedAt,
		event.ErrorMessage,
		event.RetryCount,
		event.ReceivedAt,
		event.UpdatedAt,
	).Error
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM webhook_events
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListEvents(ctx context.Context, db *gorm.DB, filter domain.ListEventsFilter) ([]domain.WebhookEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := db.WithContext(ctx).Model(&domain.WebhookEvent{})
	if filter.Processed != nil {
		query = query.Where("processed = ?", *filter.Processed)
	}
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}

	var items []domain.WebhookEvent
	err := query.Order("received_at DESC").Order("id DESC").Limit(limit).Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, note *string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed = ?, processed_at = ?, error_message = ?, updated_at = ?
		 WHERE id = ?`,
		true,
		at,
		note,
		at,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, message string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed = ?, processed_at = NULL, error_message = ?,
			retry_count = retry_count + 1, updated_at = ?
		 WHERE id = ?`,
		false,
		message,
		at,
		id,
	).Error
}

// UpsertPayment inserts the row keyed by gateway_payment_id or updates the
// stored one in the same statement. Nil fields keep the stored value and the
// status only moves to an equal or higher rank.
func (r *repo) UpsertPayment(ctx context.Context, tx *gorm.DB, payment *domain.Payment) error {
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gateway_payment_id"}},
		DoUpdates: paymentUpsertAssignments,
	}).Create(payment).Error
}

var paymentUpsertAssignments = clause.Assignments(map[string]any{
	"status": gorm.Expr("CASE WHEN " + statusRank("excluded.status") + " >= " + statusRank("payments.status") +
		" THEN excluded.status ELSE payments.status END"),
	"amount":             gorm.Expr("CASE WHEN excluded.amount > 0 THEN excluded.amount ELSE payments.amount END"),
	"customer_id":        keepStored("customer_id"),
	"subscription_id":    keepStored("subscription_id"),
	"subscription_scope": keepStored("subscription_scope"),
	"billing_type":       keepStored("billing_type"),
	"due_date":           keepStored("due_date"),
	"payment_date":       keepStored("payment_date"),
	"payment_link":       keepStored("payment_link"),
	"updated_at":         gorm.Expr("excluded.updated_at"),
})

// statusRank renders classifier.Rank as a SQL CASE over column.
func statusRank(column string) string {
	var b strings.Builder
	b.WriteString("(CASE " + column)
	for _, status := range []subscriptiondomain.PaymentStatus{
		subscriptiondomain.PaymentStatusPending,
		subscriptiondomain.PaymentStatusOverdue,
		subscriptiondomain.PaymentStatusPaid,
		subscriptiondomain.PaymentStatusRefunded,
		subscriptiondomain.PaymentStatusCancelled,
	} {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", status, classifier.Rank(status))
	}
	b.WriteString(" ELSE 0 END)")
	return b.String()
}

func keepStored(column string) clause.Expr {
	return gorm.Expr("COALESCE(excluded." + column + ", payments." + column + ")")
}

func (r *repo) FindPayment(ctx context.Context, db *gorm.DB, gatewayPaymentID string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE gateway_payment_id = ?
		 LIMIT 1`,
		gatewayPaymentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// AppendHistory inserts one ledger row per (payment_id, status). It reports
// false when the row already existed.
func (r *repo) AppendHistory(ctx context.Context, db *gorm.DB, record *domain.PaymentHistoryRecord) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}, {Name: "status"}},
		DoNothing: true,
	}).Create(record)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
