package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	domain "github.com/orchard-market/api/internal/domain"
	"github.com/orchard-market/api/internal/payments"
)

const stripeEventCheckoutCompleted = "checkout.session.completed"

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutInvalidState indicates the order cannot start a payment session.
	ErrCheckoutInvalidState = errors.New("checkout: invalid order state")
	// ErrCheckoutPaymentFailed indicates the PSP session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrCheckoutWebhookSignature indicates the webhook payload failed signature verification.
	ErrCheckoutWebhookSignature = errors.New("checkout: webhook signature verification failed")
	// ErrCheckoutWebhookPayload indicates the webhook payload is malformed.
	ErrCheckoutWebhookPayload = errors.New("checkout: webhook payload malformed")
	// ErrCheckoutOrderNotFound indicates the webhook references an unknown order.
	ErrCheckoutOrderNotFound = errors.New("checkout: order not found")
)

// checkoutSessionManager abstracts payments.Manager for easier testing.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// StripeEventVerifier validates a webhook payload against its signature header.
type StripeEventVerifier func(payload []byte, sigHeader string, secret string) (stripe.Event, error)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders        OrderService
	Payments      checkoutSessionManager
	WebhookSecret string
	VerifyEvent   StripeEventVerifier
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders        OrderService
	payments      checkoutSessionManager
	webhookSecret string
	verify        StripeEventVerifier
	clock         func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}

	verify := deps.VerifyEvent
	if verify == nil {
		verify = webhook.ConstructEvent
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		orders:        deps.Orders,
		payments:      deps.Payments,
		webhookSecret: strings.TrimSpace(deps.WebhookSecret),
		verify:        verify,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateSession opens a Stripe checkout session for a pending order.
func (s *checkoutService) CreateSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return CheckoutSession{}, fmt.Errorf("%w: order id is required", ErrCheckoutInvalidInput)
	}
	successURL := strings.TrimSpace(cmd.SuccessURL)
	cancelURL := strings.TrimSpace(cmd.CancelURL)
	if successURL == "" || cancelURL == "" {
		return CheckoutSession{}, fmt.Errorf("%w: success and cancel urls are required", ErrCheckoutInvalidInput)
	}

	order, err := s.orders.GetOrder(ctx, GetOrderCommand{OrderID: orderID, UserID: cmd.UserID})
	if err != nil {
		return CheckoutSession{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return CheckoutSession{}, fmt.Errorf("%w: order is %s", ErrCheckoutInvalidState, order.Status)
	}
	if order.PaymentMethod != domain.PaymentMethodStripe {
		return CheckoutSession{}, fmt.Errorf("%w: order pays by %s", ErrCheckoutInvalidInput, order.PaymentMethod)
	}

	items := make([]payments.CheckoutLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payments.CheckoutLineItem{
			Name:        item.SPUName,
			Description: item.SKUTitle,
			SKU:         item.SKUID,
			Quantity:    item.Quantity,
			Amount:      item.UnitPrice,
			Currency:    order.Currency,
		})
	}

	session, err := s.payments.CreateCheckoutSession(ctx, payments.PaymentContext{
		PreferredProvider: string(order.PaymentMethod),
		Currency:          order.Currency,
	}, payments.CheckoutSessionRequest{
		Amount:     order.TotalAmount,
		Currency:   order.Currency,
		OrderID:    order.ID,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Metadata: map[string]string{
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
		},
		IdempotencyKey: "checkout_" + order.ID,
		Items:          items,
	})
	if err != nil {
		s.logger(ctx, "checkout.session.create.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}

	return CheckoutSession{
		SessionID: session.ID,
		URL:       session.RedirectURL,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// HandleStripeEvent verifies and applies a Stripe webhook delivery. Repeated
// deliveries of the same completed session are treated as success.
func (s *checkoutService) HandleStripeEvent(ctx context.Context, cmd StripeWebhookCommand) error {
	event, err := s.verify(cmd.Payload, cmd.Signature, s.webhookSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutWebhookSignature, err)
	}

	if event.Type != stripeEventCheckoutCompleted {
		s.logger(ctx, "checkout.webhook.ignored", map[string]any{"type": string(event.Type)})
		return nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutWebhookPayload, err)
	}

	orderID := strings.TrimSpace(session.ClientReferenceID)
	if orderID == "" {
		orderID = strings.TrimSpace(session.Metadata["order_id"])
	}
	if orderID == "" {
		return fmt.Errorf("%w: completed session carries no order reference", ErrCheckoutWebhookPayload)
	}

	_, err = s.orders.MarkPaid(ctx, MarkPaidCommand{
		OrderID:        orderID,
		PaymentMethod:  domain.PaymentMethodStripe,
		ProviderRef:    session.ID,
		AllowRepeat:    true,
		SkipOwnerCheck: true,
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return fmt.Errorf("%w: %v", ErrCheckoutOrderNotFound, err)
		}
		return err
	}

	s.logger(ctx, "checkout.webhook.completed", map[string]any{
		"order":   orderID,
		"session": session.ID,
	})
	return nil
}

var _ CheckoutService = (*checkoutService)(nil)
