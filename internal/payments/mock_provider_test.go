package payments

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockProviderCheckoutSession(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	provider := NewMockProvider(MockProviderConfig{Clock: func() time.Time { return now }})

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Amount:     7992,
		Currency:   "usd",
		OrderID:    "ord_123",
		SuccessURL: "https://shop.example/success",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.ID != "mock_cs_1" || session.IntentID != "mock_pi_1" {
		t.Fatalf("unexpected session identifiers: %#v", session)
	}
	if session.Provider != "mock" {
		t.Fatalf("expected provider mock, got %s", session.Provider)
	}
	if session.RedirectURL != "https://shop.example/success" {
		t.Fatalf("expected redirect to success url, got %s", session.RedirectURL)
	}
	if !session.ExpiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry: %s", session.ExpiresAt)
	}

	details, err := provider.LookupPayment(context.Background(), LookupRequest{IntentID: session.IntentID})
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if details.Status != StatusSucceeded || !details.Captured {
		t.Fatalf("expected settled payment, got %#v", details)
	}
	if details.Amount != 7992 || details.Currency != "USD" {
		t.Fatalf("unexpected payment details: %#v", details)
	}
	if details.CapturedAt == nil || !details.CapturedAt.Equal(now) {
		t.Fatalf("expected capture timestamp %s, got %#v", now, details.CapturedAt)
	}
}

func TestMockProviderSequencesSessions(t *testing.T) {
	provider := NewMockProvider(MockProviderConfig{})

	first, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{Amount: 100, Currency: "usd"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{Amount: 200, Currency: "usd"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.IntentID == second.IntentID {
		t.Fatalf("expected distinct intent ids, got %s twice", first.IntentID)
	}
}

func TestMockProviderRefund(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	provider := NewMockProvider(MockProviderConfig{Clock: func() time.Time { return now }})

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{Amount: 7992, Currency: "usd"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	details, err := provider.Refund(context.Background(), RefundRequest{IntentID: session.IntentID})
	if err != nil {
		t.Fatalf("unexpected refund error: %v", err)
	}
	if details.Status != StatusRefunded {
		t.Fatalf("expected refunded status, got %s", details.Status)
	}
	if details.RefundedAt == nil {
		t.Fatalf("expected refund timestamp to be set")
	}
}

func TestMockProviderUnknownIntent(t *testing.T) {
	provider := NewMockProvider(MockProviderConfig{})

	if _, err := provider.Refund(context.Background(), RefundRequest{IntentID: "pi_missing"}); !errors.Is(err, ErrMockPaymentNotFound) {
		t.Fatalf("expected ErrMockPaymentNotFound, got %v", err)
	}
	if _, err := provider.LookupPayment(context.Background(), LookupRequest{IntentID: "pi_missing"}); !errors.Is(err, ErrMockPaymentNotFound) {
		t.Fatalf("expected ErrMockPaymentNotFound, got %v", err)
	}
}
