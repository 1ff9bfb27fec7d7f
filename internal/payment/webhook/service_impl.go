// Package webhook stores inbound gateway deliveries and hands them to the
// reconciler, and re-runs stored deliveries on operator request.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/kersonpank/treinepass-core/internal/clock"
	"github.com/kersonpank/treinepass-core/internal/observability/logger"
	"github.com/kersonpank/treinepass-core/internal/observability/metrics"
	"github.com/kersonpank/treinepass-core/internal/observability/tracing"
	"github.com/kersonpank/treinepass-core/internal/payment/adapters"
	paymentdomain "github.com/kersonpank/treinepass-core/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       paymentdomain.Repository
	Reconciler paymentdomain.Reconciler
	Gateways   *adapters.Registry
	GenID      *snowflake.Node
	Metrics    *metrics.Metrics          `optional:"true"`
	Clock      clock.Clock               `optional:"true"`
	Locker     paymentdomain.EventLocker `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       paymentdomain.Repository
	reconciler paymentdomain.Reconciler
	gateways   *adapters.Registry
	genID      *snowflake.Node
	metrics    *metrics.Metrics
	clock      clock.Clock
	locker     paymentdomain.EventLocker
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		repo:       p.Repo,
		reconciler: p.Reconciler,
		gateways:   p.Gateways,
		genID:      p.GenID,
		metrics:    p.Metrics,
		clock:      clk,
		locker:     p.Locker,
	}
}

// Receive authenticates and stores one delivery, then reconciles it. An
// empty provider selects the active gateway. Once the event row exists the
// delivery is acknowledged even when reconciliation fails.
func (s *Service) Receive(ctx context.Context, provider string, payload []byte, headers http.Header) (*paymentdomain.Receipt, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = s.gateways.ActiveProvider()
	}
	log := logger.WithContext(ctx, s.log).With(zap.String("provider", provider))

	gateway, err := s.gateways.Gateway(provider)
	if err != nil {
		s.metrics.RecordWebhookRejected(ctx, provider, "unknown_provider")
		return nil, err
	}
	if !json.Valid(payload) {
		s.metrics.RecordWebhookRejected(ctx, provider, "invalid_payload")
		return nil, paymentdomain.ErrInvalidPayload
	}
	if err := gateway.Verify(ctx, payload, headers); err != nil {
		s.metrics.RecordWebhookRejected(ctx, provider, "invalid_signature")
		log.Warn("webhook authenticity check failed", zap.Error(err))
		return nil, err
	}

	evt, err := gateway.Parse(ctx, payload)
	if err != nil {
		s.metrics.RecordWebhookRejected(ctx, provider, rejectReason(err))
		return nil, err
	}

	record := s.newRecord(provider, evt, payload)
	if err := s.repo.InsertEvent(ctx, s.db, record); err != nil {
		log.Error("failed to store webhook event", zap.String("event_type", record.EventType), zap.Error(err))
		return nil, fmt.Errorf("store webhook event: %w", err)
	}
	s.metrics.RecordWebhookReceived(ctx, provider, record.EventType)

	log = logger.WithEvent(log, record.ID.String(), record.EventType)
	log.Info("webhook event stored")

	outcome, err := s.reconciler.Reconcile(ctx, record, evt)
	if err != nil {
		log.Warn("webhook event left for reprocessing", zap.Error(err))
		return &paymentdomain.Receipt{EventID: record.ID}, nil
	}
	return &paymentdomain.Receipt{EventID: record.ID, Outcome: outcome}, nil
}

// Reprocess parses the stored payload again and re-runs reconciliation on
// the same event row.
func (s *Service) Reprocess(ctx context.Context, eventID snowflake.ID) (*paymentdomain.Outcome, error) {
	if eventID <= 0 {
		return nil, paymentdomain.ErrInvalidEventID
	}

	record, err := s.repo.FindEvent(ctx, s.db, eventID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		s.metrics.RecordReprocess(ctx, "not_found")
		return nil, paymentdomain.ErrEventNotFound
	}
	log := logger.WithEvent(logger.WithContext(ctx, s.log), record.ID.String(), record.EventType)

	if s.locker != nil {
		token, ok, err := s.locker.TryLockEvent(ctx, record.ID.String())
		if err != nil {
			return nil, fmt.Errorf("lock event: %w", err)
		}
		if !ok {
			s.metrics.RecordReprocess(ctx, "locked")
			return nil, paymentdomain.ErrReprocessInProgress
		}
		defer func() {
			if err := s.locker.ReleaseEvent(ctx, record.ID.String(), token); err != nil {
				log.Warn("failed to release reprocess lock", zap.Error(err))
			}
		}()
	}

	gateway, err := s.gateways.Gateway(record.Provider)
	if err != nil {
		s.metrics.RecordReprocess(ctx, "error")
		return nil, err
	}
	evt, err := gateway.Parse(ctx, record.Payload)
	if err != nil {
		s.metrics.RecordReprocess(ctx, "error")
		log.Warn("stored payload could not be parsed", zap.Error(err))
		return &paymentdomain.Outcome{Success: false, Message: tracing.SafeError(err).Error()}, nil
	}

	outcome, err := s.reconciler.Reconcile(ctx, record, evt)
	if err != nil {
		s.metrics.RecordReprocess(ctx, "error")
		return &paymentdomain.Outcome{Success: false, Message: tracing.SafeError(err).Error()}, nil
	}
	if outcome.Success {
		s.metrics.RecordReprocess(ctx, "success")
	} else {
		s.metrics.RecordReprocess(ctx, "unresolved")
	}
	log.Info("webhook event reprocessed", zap.Bool("success", outcome.Success), zap.String("message", outcome.Message))
	return outcome, nil
}

func (s *Service) ListEvents(ctx context.Context, filter paymentdomain.ListEventsFilter) ([]paymentdomain.WebhookEvent, error) {
	filter.Provider = strings.ToLower(strings.TrimSpace(filter.Provider))
	return s.repo.ListEvents(ctx, s.db, filter)
}

func (s *Service) newRecord(provider string, evt paymentdomain.Event, payload []byte) *paymentdomain.WebhookEvent {
	paymentID, subscriptionID, externalRef := paymentdomain.Refs(evt)
	now := s.clock.Now()
	return &paymentdomain.WebhookEvent{
		ID:                s.genID.Generate(),
		Provider:          provider,
		EventType:         evt.EventType(),
		GatewayEventID:    optional(evt.DeliveryID()),
		PaymentID:         optional(paymentID),
		SubscriptionID:    optional(subscriptionID),
		ExternalReference: optional(externalRef),
		Payload:           datatypes.JSON(payload),
		ReceivedAt:        now,
		UpdatedAt:         now,
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, paymentdomain.ErrMissingEventType):
		return "missing_event_type"
	case errors.Is(err, paymentdomain.ErrInvalidPayload):
		return "invalid_payload"
	default:
		return "parse_error"
	}
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
