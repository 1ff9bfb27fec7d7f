package migration

import (
	"fmt"

	"gorm.io/gorm"
)

func sqliteSubscriptionTable(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGINT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		external_reference TEXT NOT NULL UNIQUE,
		gateway_subscription_id TEXT,
		gateway_customer_id TEXT,
		billing_cycle TEXT NOT NULL DEFAULT 'monthly',
		billing_type TEXT,
		total_value BIGINT NOT NULL,
		last_payment_date DATETIME,
		next_payment_date DATETIME,
		upgrade_from_subscription_id BIGINT,
		cancelled_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`, name)
}

const sqliteViewColumns = `id, owner_id, plan_id, status, payment_status, external_reference,
	gateway_subscription_id, gateway_customer_id, billing_cycle, billing_type,
	total_value, last_payment_date, next_payment_date,
	upgrade_from_subscription_id, cancelled_at, created_at, updated_at`

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS webhook_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		event_type TEXT NOT NULL,
		gateway_event_id TEXT,
		payment_id TEXT,
		subscription_id TEXT,
		external_reference TEXT,
		payload TEXT NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		processed_at DATETIME,
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		received_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	sqliteSubscriptionTable("user_subscriptions"),
	sqliteSubscriptionTable("business_subscriptions"),
	`CREATE VIEW IF NOT EXISTS subscription_refs AS
		SELECT 'user' AS scope, 0 AS priority, ` + sqliteViewColumns + ` FROM user_subscriptions
		UNION ALL
		SELECT 'business' AS scope, 1 AS priority, ` + sqliteViewColumns + ` FROM business_subscriptions`,
	`CREATE TABLE IF NOT EXISTS payments (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		gateway_payment_id TEXT NOT NULL UNIQUE,
		customer_id TEXT,
		subscription_id BIGINT,
		subscription_scope TEXT,
		amount BIGINT NOT NULL DEFAULT 0,
		billing_type TEXT,
		status TEXT NOT NULL,
		due_date DATETIME,
		payment_date DATETIME,
		payment_link TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payment_history (
		id BIGINT PRIMARY KEY,
		subscription_id BIGINT NOT NULL,
		is_business BOOLEAN NOT NULL,
		payment_id TEXT NOT NULL,
		value BIGINT NOT NULL DEFAULT 0,
		payment_date DATETIME,
		payment_method TEXT,
		status TEXT NOT NULL,
		external_reference TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS payment_history_payment_status_key ON payment_history (payment_id, status)`,
}

// ApplySQLiteSchema creates the service tables and the subscription_refs
// view on a sqlite database. Every statement is idempotent.
func ApplySQLiteSchema(db *gorm.DB) error {
	for _, stmt := range sqliteSchema {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}
