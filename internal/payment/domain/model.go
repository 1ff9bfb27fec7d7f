package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
	"gorm.io/datatypes"
)

// WebhookEvent is the durable record of one inbound gateway delivery. Only
// Processed, ProcessedAt, ErrorMessage and RetryCount change after insert.
type WebhookEvent struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider          string         `json:"provider" gorm:"type:text;not null"`
	EventType         string         `json:"event_type" gorm:"type:text;not null"`
	GatewayEventID    *string        `json:"gateway_event_id,omitempty" gorm:"type:text"`
	PaymentID         *string        `json:"payment_id,omitempty" gorm:"type:text"`
	SubscriptionID    *string        `json:"subscription_id,omitempty" gorm:"type:text"`
	ExternalReference *string        `json:"external_reference,omitempty" gorm:"type:text"`
	Payload           datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	Processed         bool           `json:"processed" gorm:"not null;default:false"`
	ProcessedAt       *time.Time     `json:"processed_at,omitempty"`
	ErrorMessage      *string        `json:"error_message,omitempty" gorm:"type:text"`
	RetryCount        int            `json:"retry_count" gorm:"not null;default:0"`
	ReceivedAt        time.Time      `json:"received_at" gorm:"not null"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// Payment mirrors a gateway charge. Amount is expressed in centavos.
type Payment struct {
	ID                snowflake.ID                     `json:"id" gorm:"primaryKey"`
	Provider          string                           `json:"provider" gorm:"type:text;not null"`
	GatewayPaymentID  string                           `json:"gateway_payment_id" gorm:"type:text;not null"`
	CustomerID        *string                          `json:"customer_id,omitempty" gorm:"type:text"`
	SubscriptionID    *snowflake.ID                    `json:"subscription_id,omitempty"`
	SubscriptionScope *subscriptiondomain.Scope        `json:"subscription_scope,omitempty" gorm:"type:text"`
	Amount            int64                            `json:"amount" gorm:"not null"`
	BillingType       *string                          `json:"billing_type,omitempty" gorm:"type:text"`
	Status            subscriptiondomain.PaymentStatus `json:"status" gorm:"type:text;not null"`
	DueDate           *time.Time                       `json:"due_date,omitempty"`
	PaymentDate       *time.Time                       `json:"payment_date,omitempty"`
	PaymentLink       *string                          `json:"payment_link,omitempty" gorm:"type:text"`
	CreatedAt         time.Time                        `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time                        `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// PaymentHistoryRecord is an append-only ledger row, one per completed or
// refunded payment.
type PaymentHistoryRecord struct {
	ID                snowflake.ID                     `json:"id" gorm:"primaryKey"`
	SubscriptionID    snowflake.ID                     `json:"subscription_id" gorm:"not null"`
	IsBusiness        bool                             `json:"is_business" gorm:"not null"`
	PaymentID         string                           `json:"payment_id" gorm:"type:text;not null"`
	Value             int64                            `json:"value" gorm:"not null"`
	PaymentDate       *time.Time                       `json:"payment_date,omitempty"`
	PaymentMethod     *string                          `json:"payment_method,omitempty" gorm:"type:text"`
	Status            subscriptiondomain.PaymentStatus `json:"status" gorm:"type:text;not null"`
	ExternalReference *string                          `json:"external_reference,omitempty" gorm:"type:text"`
	CreatedAt         time.Time                        `json:"created_at" gorm:"not null"`
}

func (PaymentHistoryRecord) TableName() string { return "payment_history" }

// ListEventsFilter narrows the webhook monitoring view.
type ListEventsFilter struct {
	Processed *bool
	Provider  string
	Limit     int
}
