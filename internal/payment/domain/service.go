package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

// Outcome summarizes one reconciliation attempt.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Receipt acknowledges a stored delivery. Outcome is nil when processing
// failed and the event was left for reprocessing.
type Receipt struct {
	EventID snowflake.ID
	Outcome *Outcome
}

// Receiver is the inbound webhook entrypoint.
type Receiver interface {
	Receive(ctx context.Context, provider string, payload []byte, headers http.Header) (*Receipt, error)
}

// Reprocessor re-runs reconciliation for stored events.
type Reprocessor interface {
	Reprocess(ctx context.Context, eventID snowflake.ID) (*Outcome, error)
	ListEvents(ctx context.Context, filter ListEventsFilter) ([]WebhookEvent, error)
}

// Reconciler applies a parsed event to the subscription it refers to and
// records the result on the stored event.
type Reconciler interface {
	Reconcile(ctx context.Context, record *WebhookEvent, evt Event) (*Outcome, error)
}

// EventLocker leases the reprocess slot of one stored event so concurrent
// operator requests do not race.
type EventLocker interface {
	TryLockEvent(ctx context.Context, eventID string) (token string, ok bool, err error)
	ReleaseEvent(ctx context.Context, eventID, token string) error
}
