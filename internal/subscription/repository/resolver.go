package repository

import (
	"context"
	"strings"

	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
	"gorm.io/gorm"
)

type resolver struct{}

// NewResolver returns a Resolver reading the subscription_refs view, which
// unions the user store (priority 0) and the business store (priority 1).
func NewResolver() subscriptiondomain.Resolver {
	return &resolver{}
}

type refRow struct {
	subscriptiondomain.Subscription `gorm:"embedded"`
	RefScope                        string `gorm:"column:scope"`
}

func (r *resolver) Resolve(ctx context.Context, db *gorm.DB, ref subscriptiondomain.Reference) (*subscriptiondomain.Subscription, error) {
	if externalRef := strings.TrimSpace(ref.ExternalReference); externalRef != "" {
		found, err := r.lookup(ctx, db, "external_reference", externalRef)
		if err != nil || found != nil {
			return found, err
		}
	}
	if gatewayID := strings.TrimSpace(ref.GatewaySubscriptionID); gatewayID != "" {
		return r.lookup(ctx, db, "gateway_subscription_id", gatewayID)
	}
	return nil, nil
}

func (r *resolver) lookup(ctx context.Context, db *gorm.DB, column, value string) (*subscriptiondomain.Subscription, error) {
	var row refRow
	query := `SELECT scope, ` + subscriptionColumns + `
		FROM subscription_refs
		WHERE ` + column + ` = ?
		ORDER BY priority ASC, created_at DESC
		LIMIT 1`
	result := db.WithContext(ctx).Raw(query, value).Scan(&row)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	subscription := row.Subscription
	subscription.Scope = subscriptiondomain.Scope(row.RefScope)
	return &subscription, nil
}
