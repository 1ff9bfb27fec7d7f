// Package reconciler applies classified gateway events to subscriptions.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kersonpank/treinepass-core/internal/clock"
	"github.com/kersonpank/treinepass-core/internal/config"
	"github.com/kersonpank/treinepass-core/internal/observability/logger"
	"github.com/kersonpank/treinepass-core/internal/observability/metrics"
	"github.com/kersonpank/treinepass-core/internal/observability/tracing"
	"github.com/kersonpank/treinepass-core/internal/payment/adapters"
	"github.com/kersonpank/treinepass-core/internal/payment/classifier"
	paymentdomain "github.com/kersonpank/treinepass-core/internal/payment/domain"
	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxTransitionAttempts = 3

	noteNotFound        = "subscription not found"
	noteIgnored         = "event ignored"
	notePaymentRecorded = "payment recorded"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	Repo     paymentdomain.Repository
	Resolver subscriptiondomain.Resolver
	Stores   subscriptiondomain.Stores
	Gateways *adapters.Registry
	GenID    *snowflake.Node
	Metrics  *metrics.Metrics `optional:"true"`
	Clock    clock.Clock      `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	repo        paymentdomain.Repository
	resolver    subscriptiondomain.Resolver
	stores      subscriptiondomain.Stores
	gateways    *adapters.Registry
	genID       *snowflake.Node
	metrics     *metrics.Metrics
	clock       clock.Clock
	tracer      trace.Tracer
	corroborate bool
}

func NewService(p Params) paymentdomain.Reconciler {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.reconciler"),
		repo:        p.Repo,
		resolver:    p.Resolver,
		stores:      p.Stores,
		gateways:    p.Gateways,
		genID:       p.GenID,
		metrics:     p.Metrics,
		clock:       clk,
		tracer:      otel.Tracer("treinepass/reconciler"),
		corroborate: p.Cfg.Gateway.Corroborate,
	}
}

// result is what one reconciliation attempt produced before bookkeeping.
type result struct {
	outcome paymentdomain.Outcome
	label   string
	note    *string
}

// Reconcile runs the event against its subscription and records the result
// on the stored event. A returned error means the event was left
// unprocessed for a later retry.
func (s *Service) Reconcile(ctx context.Context, record *paymentdomain.WebhookEvent, evt paymentdomain.Event) (*paymentdomain.Outcome, error) {
	if record == nil || evt == nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	ctx, span := s.tracer.Start(ctx, "reconcile "+record.EventType, trace.WithAttributes(tracing.SafeAttributes(
		attribute.String("payment.provider", record.Provider),
		attribute.String("webhook.event_id", record.ID.String()),
		attribute.String("webhook.event_type", record.EventType),
	)...))
	defer span.End()

	log := logger.WithEvent(logger.WithContext(ctx, s.log), record.ID.String(), record.EventType)

	res, err := s.apply(ctx, log, record, evt)
	now := s.clock.Now()
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "reconcile failed")
		s.metrics.RecordReconcileOutcome(ctx, record.Provider, "error")
		log.Error("reconcile failed", zap.Error(err))

		if markErr := s.repo.MarkFailed(ctx, s.db, record.ID, now, failureMessage(err)); markErr != nil {
			log.Error("failed to record reconcile failure", zap.Error(markErr))
			return nil, errors.Join(err, markErr)
		}
		return nil, err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, record.ID, now, res.note); err != nil {
		s.metrics.RecordReconcileOutcome(ctx, record.Provider, "error")
		log.Error("failed to mark event processed", zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("reconcile.outcome", res.label))
	s.metrics.RecordReconcileOutcome(ctx, record.Provider, res.label)
	return &res.outcome, nil
}

func (s *Service) apply(ctx context.Context, log *zap.Logger, record *paymentdomain.WebhookEvent, evt paymentdomain.Event) (result, error) {
	classified := classifier.ClassifyEvent(evt)
	if classified.Action == classifier.ActionIgnore {
		log.Info("event ignored")
		return ignored(), nil
	}

	switch e := evt.(type) {
	case *paymentdomain.SubscriptionEvent:
		return s.applyCancellation(ctx, log, e)
	case *paymentdomain.PaymentEvent:
		return s.applyPayment(ctx, log, e)
	default:
		return ignored(), nil
	}
}

func (s *Service) applyPayment(ctx context.Context, log *zap.Logger, evt *paymentdomain.PaymentEvent) (result, error) {
	evt, fetched, err := s.enrich(ctx, evt, needsFetch(evt))
	if err != nil {
		return result{}, err
	}

	classified := classifier.Classify(evt.Type, evt.Status)
	if s.corroborate && !fetched && classified.PaymentStatus == subscriptiondomain.PaymentStatusPaid {
		if evt, _, err = s.enrich(ctx, evt, true); err != nil {
			return result{}, err
		}
		classified = classifier.Classify(evt.Type, evt.Status)
	}
	if classified.Action == classifier.ActionIgnore {
		return ignored(), nil
	}

	sub, err := s.resolve(ctx, evt.ExternalReference, evt.SubscriptionID)
	if err != nil {
		return result{}, err
	}
	if sub == nil {
		log.Info("subscription not found for event",
			zap.String("external_reference", evt.ExternalReference),
			zap.String("gateway_subscription_id", evt.SubscriptionID),
		)
		return notFound(), nil
	}
	log = log.With(zap.String("subscription_id", sub.ID.String()), zap.String("scope", string(sub.Scope)))

	want := target{
		paymentStatus:      classified.PaymentStatus,
		subscriptionStatus: classified.SubscriptionStatus,
		dueDate:            evt.DueDate,
		paymentDate:        evt.PaymentDate,
	}

	var (
		final   decision
		current *subscriptiondomain.Subscription
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store, err := s.stores.For(sub.Scope)
		if err != nil {
			return err
		}
		now := s.clock.Now()

		// A paid event may cancel the owner's other rows, so take them all in
		// id order before touching any of them.
		if classified.PaymentStatus == subscriptiondomain.PaymentStatusPaid {
			if err := store.LockOwner(ctx, tx, sub.OwnerID); err != nil {
				return fmt.Errorf("lock owner subscriptions: %w", err)
			}
		}

		current, final, err = s.transition(ctx, tx, store, sub, want, now)
		if err != nil {
			return err
		}
		if err := s.upsertPayment(ctx, tx, evt, current, classified.PaymentStatus, now); err != nil {
			return fmt.Errorf("upsert payment: %w", err)
		}

		if final.verdict == verdictApply && classified.PaymentStatus == subscriptiondomain.PaymentStatusPaid {
			cancelled, err := store.CancelSiblings(ctx, tx, current.OwnerID, current.ID, now)
			if err != nil {
				return fmt.Errorf("cancel siblings: %w", err)
			}
			if cancelled > 0 {
				s.metrics.RecordSiblingCancellations(ctx, string(current.Scope), cancelled)
				log.Info("sibling subscriptions cancelled", zap.Int64("count", cancelled))
			}
		}

		if classifier.IsCompletion(classified.PaymentStatus) {
			if err := s.appendHistory(ctx, tx, log, evt, current, want, now); err != nil {
				return fmt.Errorf("append history: %w", err)
			}
			if evt.PaymentID != "" && (final.verdict == verdictStale || final.verdict == verdictTerminal) {
				log.Warn("payment recorded without subscription change",
					zap.String("payment_id", evt.PaymentID),
					zap.String("payment_status", string(classified.PaymentStatus)),
					zap.String("subscription_status", string(current.Status)),
				)
				final.note += "; " + notePaymentRecorded
			}
		}
		return nil
	})
	if err != nil {
		return result{}, err
	}

	log.Info("subscription reconciled",
		zap.String("verdict", final.verdict.String()),
		zap.String("payment_status", string(classified.PaymentStatus)),
		zap.String("status", string(classified.SubscriptionStatus)),
	)
	return decided(final), nil
}

// transition applies the decision with a compare-and-set update, re-reading
// the row when a concurrent delivery changed it first.
func (s *Service) transition(
	ctx context.Context,
	tx *gorm.DB,
	store subscriptiondomain.Store,
	sub *subscriptiondomain.Subscription,
	want target,
	now time.Time,
) (*subscriptiondomain.Subscription, decision, error) {
	current := sub
	for attempt := 1; ; attempt++ {
		d := decide(current, want, now)
		if d.verdict != verdictApply {
			return current, d, nil
		}

		ok, err := store.ApplyTransition(ctx, tx, current.ID, subscriptiondomain.Observed{
			Status:        current.Status,
			PaymentStatus: current.PaymentStatus,
		}, d.transition)
		if err != nil {
			return nil, decision{}, fmt.Errorf("apply transition: %w", err)
		}
		if ok {
			return current, d, nil
		}
		if attempt >= maxTransitionAttempts {
			return nil, decision{}, paymentdomain.ErrConcurrentUpdate
		}

		current, err = store.FindByID(ctx, tx, sub.ID)
		if err != nil {
			return nil, decision{}, err
		}
		if current == nil {
			return nil, decision{}, subscriptiondomain.ErrSubscriptionNotFound
		}
	}
}

// applyCancellation handles gateway-side subscription cancellation. The
// store only cancels rows that are still pending, active or overdue.
func (s *Service) applyCancellation(ctx context.Context, log *zap.Logger, evt *paymentdomain.SubscriptionEvent) (result, error) {
	sub, err := s.resolve(ctx, evt.ExternalReference, evt.SubscriptionID)
	if err != nil {
		return result{}, err
	}
	if sub == nil {
		log.Info("subscription not found for event", zap.String("gateway_subscription_id", evt.SubscriptionID))
		return notFound(), nil
	}

	store, err := s.stores.For(sub.Scope)
	if err != nil {
		return result{}, err
	}
	cancelled, err := store.Cancel(ctx, s.db, sub.ID, s.clock.Now())
	if err != nil {
		return result{}, fmt.Errorf("cancel subscription: %w", err)
	}

	d := decision{verdict: verdictApply}
	if !cancelled {
		d = decision{verdict: verdictNoop, note: "already up to date"}
	}
	log.Info("subscription cancelled by gateway",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("verdict", d.verdict.String()),
	)
	return decided(d), nil
}

func (s *Service) resolve(ctx context.Context, externalRef, gatewaySubscriptionID string) (*subscriptiondomain.Subscription, error) {
	ref := subscriptiondomain.Reference{
		ExternalReference:     strings.TrimSpace(externalRef),
		GatewaySubscriptionID: strings.TrimSpace(gatewaySubscriptionID),
	}
	if ref.ExternalReference == "" && ref.GatewaySubscriptionID == "" {
		return nil, nil
	}
	sub, err := s.resolver.Resolve(ctx, s.db, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve subscription: %w", err)
	}
	return sub, nil
}

// needsFetch reports whether the delivery is a bare notification that names
// a payment without describing it.
func needsFetch(evt *paymentdomain.PaymentEvent) bool {
	return evt.PaymentID != "" &&
		evt.Status == "" &&
		evt.ExternalReference == "" &&
		evt.SubscriptionID == ""
}

// enrich fetches the payment from the gateway and fills the event with it.
// The gateway status replaces the delivered one.
func (s *Service) enrich(ctx context.Context, evt *paymentdomain.PaymentEvent, fetch bool) (*paymentdomain.PaymentEvent, bool, error) {
	if !fetch {
		return evt, false, nil
	}
	gateway, err := s.gateways.Gateway(evt.Provider)
	if err != nil {
		return nil, false, err
	}
	payment, err := gateway.GetPayment(ctx, evt.PaymentID)
	if err != nil {
		return nil, false, fmt.Errorf("fetch payment %s: %w", evt.PaymentID, err)
	}

	merged := *evt
	merged.Status = payment.Status
	merged.ExternalReference = firstNonEmpty(merged.ExternalReference, payment.ExternalReference)
	merged.SubscriptionID = firstNonEmpty(merged.SubscriptionID, payment.SubscriptionID)
	merged.CustomerID = firstNonEmpty(merged.CustomerID, payment.CustomerID)
	merged.BillingType = firstNonEmpty(merged.BillingType, payment.BillingType)
	if merged.Value == 0 {
		merged.Value = payment.Value
	}
	if merged.DueDate == nil {
		merged.DueDate = payment.DueDate
	}
	if merged.PaymentDate == nil {
		merged.PaymentDate = payment.PaymentDate
	}
	return &merged, true, nil
}

func (s *Service) upsertPayment(
	ctx context.Context,
	tx *gorm.DB,
	evt *paymentdomain.PaymentEvent,
	sub *subscriptiondomain.Subscription,
	status subscriptiondomain.PaymentStatus,
	now time.Time,
) error {
	if evt.PaymentID == "" {
		return nil
	}
	scope := sub.Scope
	subID := sub.ID
	return s.repo.UpsertPayment(ctx, tx, &paymentdomain.Payment{
		ID:                s.genID.Generate(),
		Provider:          evt.Provider,
		GatewayPaymentID:  evt.PaymentID,
		CustomerID:        optional(evt.CustomerID),
		SubscriptionID:    &subID,
		SubscriptionScope: &scope,
		Amount:            evt.Value,
		BillingType:       optional(evt.BillingType),
		Status:            status,
		DueDate:           evt.DueDate,
		PaymentDate:       evt.PaymentDate,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
}

func (s *Service) appendHistory(
	ctx context.Context,
	tx *gorm.DB,
	log *zap.Logger,
	evt *paymentdomain.PaymentEvent,
	sub *subscriptiondomain.Subscription,
	want target,
	now time.Time,
) error {
	if evt.PaymentID == "" {
		log.Warn("payment history skipped: event has no payment id")
		return nil
	}
	value := evt.Value
	if value == 0 {
		value = sub.TotalValue
	}
	paidAt := want.paymentDate
	if paidAt == nil {
		at := now
		paidAt = &at
	}
	externalRef := sub.ExternalReference

	inserted, err := s.repo.AppendHistory(ctx, tx, &paymentdomain.PaymentHistoryRecord{
		ID:                s.genID.Generate(),
		SubscriptionID:    sub.ID,
		IsBusiness:        sub.IsBusiness(),
		PaymentID:         evt.PaymentID,
		Value:             value,
		PaymentDate:       paidAt,
		PaymentMethod:     optional(evt.BillingType),
		Status:            want.paymentStatus,
		ExternalReference: &externalRef,
		CreatedAt:         now,
	})
	if err != nil {
		return err
	}
	if !inserted {
		log.Debug("payment history already recorded", zap.String("payment_id", evt.PaymentID))
	}
	return nil
}

func decided(d decision) result {
	res := result{
		outcome: paymentdomain.Outcome{Success: true, Message: "subscription updated"},
		label:   d.verdict.String(),
	}
	if d.note != "" {
		note := d.note
		res.outcome.Message = note
		res.note = &note
	}
	return res
}

func ignored() result {
	note := noteIgnored
	return result{
		outcome: paymentdomain.Outcome{Success: true, Message: noteIgnored},
		label:   "ignored",
		note:    &note,
	}
}

func notFound() result {
	note := noteNotFound
	return result{
		outcome: paymentdomain.Outcome{Success: false, Message: "not found"},
		label:   "not_found",
		note:    &note,
	}
}

func failureMessage(err error) string {
	return tracing.SafeError(err).Error()
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
