package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) error
	FindEvent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*WebhookEvent, error)
	ListEvents(ctx context.Context, db *gorm.DB, filter ListEventsFilter) ([]WebhookEvent, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, note *string) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, message string) error

	UpsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindPayment(ctx context.Context, db *gorm.DB, gatewayPaymentID string) (*Payment, error)
	AppendHistory(ctx context.Context, db *gorm.DB, record *PaymentHistoryRecord) (bool, error)
}
