package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Store persists subscriptions of one scope. Every mutation is a
// conditional update, so callers learn through the returned bool whether the
// row was still in the expected state.
type Store interface {
	Scope() Scope
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	ListByOwner(ctx context.Context, db *gorm.DB, ownerID string) ([]Subscription, error)
	// LockOwner row-locks every subscription of ownerID in id order for the
	// rest of the transaction. Dialects without row locks make it a plain read.
	LockOwner(ctx context.Context, db *gorm.DB, ownerID string) error
	ApplyTransition(ctx context.Context, db *gorm.DB, id snowflake.ID, expect Observed, next Transition) (bool, error)
	CancelSiblings(ctx context.Context, db *gorm.DB, ownerID string, keepID snowflake.ID, at time.Time) (int64, error)
	Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	SetGatewayRefs(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID, gatewaySubscriptionID *string, at time.Time) error
}

// Stores indexes the per-scope stores.
type Stores map[Scope]Store

func NewStores(stores ...Store) Stores {
	out := make(Stores, len(stores))
	for _, store := range stores {
		out[store.Scope()] = store
	}
	return out
}

// For returns the store owning scope.
func (s Stores) For(scope Scope) (Store, error) {
	store, ok := s[scope]
	if !ok {
		return nil, ErrInvalidScope
	}
	return store, nil
}

// Reference carries the identifiers a gateway event can be matched on.
type Reference struct {
	ExternalReference     string
	GatewaySubscriptionID string
}

// Resolver finds the subscription a gateway event refers to. A nil
// subscription with a nil error means nothing matched.
type Resolver interface {
	Resolve(ctx context.Context, db *gorm.DB, ref Reference) (*Subscription, error)
}
