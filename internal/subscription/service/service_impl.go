package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kersonpank/treinepass-core/internal/clock"
	"github.com/kersonpank/treinepass-core/internal/config"
	"github.com/kersonpank/treinepass-core/internal/observability/logger"
	"github.com/kersonpank/treinepass-core/internal/payment/adapters"
	paymentdomain "github.com/kersonpank/treinepass-core/internal/payment/domain"
	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// paymentDueDays is how far ahead a one-off checkout charge falls due.
const paymentDueDays = 3

var billingTypes = map[string]string{
	"":            "",
	"undefined":   "",
	"pix":         "PIX",
	"boleto":      "BOLETO",
	"credit_card": "CREDIT_CARD",
	"creditcard":  "CREDIT_CARD",
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	stores   subscriptiondomain.Stores
	plans    *config.PlanCatalog
	payments paymentdomain.Repository
	gateways *adapters.Registry
}

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock `optional:"true"`
	Stores   subscriptiondomain.Stores
	Plans    *config.PlanCatalog
	Payments paymentdomain.Repository
	Gateways *adapters.Registry
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:    p.GenID,
		clock:    clk,
		stores:   p.Stores,
		plans:    p.Plans,
		payments: p.Payments,
		gateways: p.Gateways,
	}
}

// checkout is a validated checkout request.
type checkout struct {
	scope       subscriptiondomain.Scope
	store       subscriptiondomain.Store
	ownerID     string
	plan        config.Plan
	cycle       subscriptiondomain.BillingCycle
	billingType string
	value       int64
	upgradeFrom *snowflake.ID
	customerID  string
}

// Checkout records a pending subscription and opens the matching charge at
// the active gateway. The subscription only becomes active through the
// payment webhook.
func (s *Service) Checkout(ctx context.Context, req subscriptiondomain.CheckoutRequest) (*subscriptiondomain.CheckoutResponse, error) {
	in, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	gateway, err := s.gateways.Active()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	sub := &subscriptiondomain.Subscription{
		ID:                        s.genID.Generate(),
		Scope:                     in.scope,
		OwnerID:                   in.ownerID,
		PlanID:                    in.plan.ID,
		Status:                    subscriptiondomain.StatusPending,
		PaymentStatus:             subscriptiondomain.PaymentStatusPending,
		ExternalReference:         newExternalReference(in.scope, now),
		BillingCycle:              in.cycle,
		BillingType:               optional(in.billingType),
		TotalValue:                in.value,
		UpgradeFromSubscriptionID: in.upgradeFrom,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	if err := in.store.Insert(ctx, s.db, sub); err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("subscription_id", sub.ID.String()),
		zap.String("scope", string(sub.Scope)),
		zap.String("provider", gateway.Provider()),
	)

	resp, err := s.openCharge(ctx, gateway, in, sub, req.Customer, req.Recurring)
	if err != nil {
		log.Error("gateway checkout failed", zap.Error(err))
		if _, cancelErr := in.store.Cancel(ctx, s.db, sub.ID, s.clock.Now()); cancelErr != nil {
			log.Error("failed to cancel subscription after gateway failure", zap.Error(cancelErr))
		}
		return nil, fmt.Errorf("%w: %w", subscriptiondomain.ErrGatewayUnavailable, err)
	}

	stored, err := in.store.FindByID(ctx, s.db, sub.ID)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		resp.Subscription = *stored
	}
	log.Info("checkout created", zap.String("payment_link", resp.PaymentLink))
	return resp, nil
}

func (s *Service) openCharge(
	ctx context.Context,
	gateway paymentdomain.Gateway,
	in checkout,
	sub *subscriptiondomain.Subscription,
	customer subscriptiondomain.CustomerInfo,
	recurring bool,
) (*subscriptiondomain.CheckoutResponse, error) {
	customerID := in.customerID
	if customerID == "" {
		created, err := gateway.CreateCustomer(ctx, paymentdomain.CustomerRequest{
			Name:              strings.TrimSpace(customer.Name),
			Email:             strings.TrimSpace(customer.Email),
			Document:          strings.TrimSpace(customer.Document),
			Phone:             strings.TrimSpace(customer.Phone),
			ExternalReference: sub.ExternalReference,
		})
		if err != nil {
			return nil, fmt.Errorf("create customer: %w", err)
		}
		customerID = created.ID
	}

	resp := &subscriptiondomain.CheckoutResponse{Provider: gateway.Provider()}
	description := fmt.Sprintf("TreinePass %s", firstNonEmpty(in.plan.Name, in.plan.ID))
	dueDate := clock.StartOfDay(s.clock.Now()).AddDate(0, 0, paymentDueDays)
	var gatewaySubscriptionID *string

	if recurring {
		created, err := gateway.CreateSubscription(ctx, paymentdomain.SubscriptionRequest{
			CustomerID:        customerID,
			PayerEmail:        strings.TrimSpace(customer.Email),
			Value:             in.value,
			BillingType:       in.billingType,
			Cycle:             in.cycle,
			NextDueDate:       dueDate,
			Description:       description,
			ExternalReference: sub.ExternalReference,
		})
		if err != nil {
			return nil, fmt.Errorf("create subscription: %w", err)
		}
		gatewaySubscriptionID = optional(created.ID)
		resp.PaymentLink = created.PaymentLink
	} else {
		created, err := gateway.CreatePayment(ctx, paymentdomain.PaymentRequest{
			CustomerID:        customerID,
			PayerEmail:        strings.TrimSpace(customer.Email),
			Value:             in.value,
			BillingType:       in.billingType,
			DueDate:           dueDate,
			Description:       description,
			ExternalReference: sub.ExternalReference,
		})
		if err != nil {
			return nil, fmt.Errorf("create payment: %w", err)
		}
		payment, err := s.recordPayment(ctx, gateway.Provider(), sub, created, customerID)
		if err != nil {
			return nil, err
		}
		resp.PaymentID = payment.ID.String()
		resp.GatewayPaymentID = created.ID
		resp.PaymentLink = created.PaymentLink
	}

	if err := in.store.SetGatewayRefs(ctx, s.db, sub.ID, optional(customerID), gatewaySubscriptionID, s.clock.Now()); err != nil {
		return nil, fmt.Errorf("store gateway refs: %w", err)
	}
	return resp, nil
}

func (s *Service) recordPayment(
	ctx context.Context,
	provider string,
	sub *subscriptiondomain.Subscription,
	created *paymentdomain.GatewayPayment,
	customerID string,
) (*paymentdomain.Payment, error) {
	now := s.clock.Now()
	scope := sub.Scope
	subID := sub.ID
	value := created.Value
	if value == 0 {
		value = sub.TotalValue
	}
	payment := &paymentdomain.Payment{
		ID:                s.genID.Generate(),
		Provider:          provider,
		GatewayPaymentID:  created.ID,
		CustomerID:        optional(customerID),
		SubscriptionID:    &subID,
		SubscriptionScope: &scope,
		Amount:            value,
		BillingType:       optional(created.BillingType),
		Status:            subscriptiondomain.PaymentStatusPending,
		DueDate:           created.DueDate,
		PaymentLink:       optional(created.PaymentLink),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.payments.UpsertPayment(ctx, s.db, payment); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	return payment, nil
}

func (s *Service) validate(ctx context.Context, req subscriptiondomain.CheckoutRequest) (checkout, error) {
	scope, err := subscriptiondomain.ParseScope(req.Scope)
	if err != nil {
		return checkout{}, err
	}
	store, err := s.stores.For(scope)
	if err != nil {
		return checkout{}, err
	}

	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return checkout{}, subscriptiondomain.ErrInvalidOwner
	}

	plan, ok := s.plans.Lookup(req.PlanID)
	if !ok {
		return checkout{}, subscriptiondomain.ErrInvalidPlan
	}
	if plan.Scope != "" && plan.Scope != string(scope) {
		return checkout{}, subscriptiondomain.ErrInvalidPlan
	}

	cycle, err := subscriptiondomain.ParseBillingCycle(firstNonEmpty(req.BillingCycle, plan.BillingCycle))
	if err != nil {
		return checkout{}, err
	}

	if req.TotalValue < 0 || (req.TotalValue > 0 && req.TotalValue != plan.Price) {
		return checkout{}, subscriptiondomain.ErrInvalidValue
	}

	billingType, ok := billingTypes[strings.ToLower(strings.TrimSpace(req.BillingType))]
	if !ok {
		return checkout{}, subscriptiondomain.ErrInvalidBillingType
	}

	customerID := strings.TrimSpace(req.GatewayCustomerID)
	if customerID == "" && (strings.TrimSpace(req.Customer.Name) == "" || strings.TrimSpace(req.Customer.Document) == "") {
		return checkout{}, subscriptiondomain.ErrInvalidCustomer
	}

	in := checkout{
		scope:       scope,
		store:       store,
		ownerID:     ownerID,
		plan:        plan,
		cycle:       cycle,
		billingType: billingType,
		value:       plan.Price,
		customerID:  customerID,
	}

	if raw := strings.TrimSpace(req.UpgradeFromSubscriptionID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			return checkout{}, subscriptiondomain.ErrInvalidUpgradeSource
		}
		source, err := store.FindByID(ctx, s.db, id)
		if err != nil {
			return checkout{}, err
		}
		if source == nil || source.OwnerID != ownerID {
			return checkout{}, subscriptiondomain.ErrInvalidUpgradeSource
		}
		in.upgradeFrom = &id
	}
	return in, nil
}

func (s *Service) Get(ctx context.Context, scope subscriptiondomain.Scope, id string) (*subscriptiondomain.Subscription, error) {
	store, subID, err := s.locate(scope, id)
	if err != nil {
		return nil, err
	}
	sub, err := store.FindByID(ctx, s.db, subID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// Cancel ends a subscription on the owner's request. Only pending, active
// and overdue subscriptions can be cancelled.
func (s *Service) Cancel(ctx context.Context, scope subscriptiondomain.Scope, id string) (*subscriptiondomain.Subscription, error) {
	store, subID, err := s.locate(scope, id)
	if err != nil {
		return nil, err
	}
	sub, err := store.FindByID(ctx, s.db, subID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	ok, err := store.Cancel(ctx, s.db, subID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, subscriptiondomain.ErrInvalidTransition
	}

	logger.WithContext(ctx, s.log).Info("subscription cancelled by owner",
		zap.String("subscription_id", subID.String()),
		zap.String("scope", string(scope)),
	)
	return store.FindByID(ctx, s.db, subID)
}

func (s *Service) locate(scope subscriptiondomain.Scope, id string) (subscriptiondomain.Store, snowflake.ID, error) {
	store, err := s.stores.For(scope)
	if err != nil {
		return nil, 0, err
	}
	subID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || subID <= 0 {
		return nil, 0, subscriptiondomain.ErrInvalidSubscriptionID
	}
	return store, subID, nil
}

// newExternalReference returns the opaque id sent to the gateway and echoed
// back on every webhook.
func newExternalReference(scope subscriptiondomain.Scope, at time.Time) string {
	prefix := "usr"
	if scope == subscriptiondomain.ScopeBusiness {
		prefix = "biz"
	}
	id := ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy())
	return prefix + "_" + strings.ToLower(id.String())
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
