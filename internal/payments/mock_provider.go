package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrMockPaymentNotFound is returned when a mock payment intent is unknown.
var ErrMockPaymentNotFound = errors.New("payments: mock payment not found")

// MockProviderConfig configures the mock provider.
type MockProviderConfig struct {
	Clock func() time.Time
}

// MockProvider settles payments synchronously without an external gateway.
// Every session it issues is already succeeded; the caller marks the order
// paid in the same request.
type MockProvider struct {
	clock func() time.Time

	mu       sync.Mutex
	payments map[string]PaymentDetails
	seq      int64
}

// NewMockProvider constructs a mock Provider.
func NewMockProvider(cfg MockProviderConfig) *MockProvider {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &MockProvider{
		clock: func() time.Time {
			return clock().UTC()
		},
		payments: make(map[string]PaymentDetails),
	}
}

// CreateCheckoutSession records a succeeded payment and returns a session
// whose redirect URL is the success URL unchanged.
func (p *MockProvider) CreateCheckoutSession(_ context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	now := p.clock()

	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("mock_cs_%d", p.seq)
	intentID := fmt.Sprintf("mock_pi_%d", p.seq)
	capturedAt := now
	p.payments[intentID] = PaymentDetails{
		Provider:   "mock",
		IntentID:   intentID,
		Status:     StatusSucceeded,
		Amount:     req.Amount,
		Currency:   strings.ToUpper(req.Currency),
		Captured:   true,
		CapturedAt: &capturedAt,
	}
	p.mu.Unlock()

	return CheckoutSession{
		ID:          id,
		Provider:    "mock",
		RedirectURL: req.SuccessURL,
		IntentID:    intentID,
		ExpiresAt:   now.Add(30 * time.Minute),
	}, nil
}

// Refund flips the stored payment to refunded.
func (p *MockProvider) Refund(_ context.Context, req RefundRequest) (PaymentDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	details, ok := p.payments[req.IntentID]
	if !ok {
		return PaymentDetails{}, fmt.Errorf("%w: %s", ErrMockPaymentNotFound, req.IntentID)
	}
	now := p.clock()
	details.Status = StatusRefunded
	details.RefundedAt = &now
	p.payments[req.IntentID] = details
	return details, nil
}

// LookupPayment returns the stored payment details.
func (p *MockProvider) LookupPayment(_ context.Context, req LookupRequest) (PaymentDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	details, ok := p.payments[req.IntentID]
	if !ok {
		return PaymentDetails{}, fmt.Errorf("%w: %s", ErrMockPaymentNotFound, req.IntentID)
	}
	return details, nil
}

var _ Provider = (*MockProvider)(nil)
