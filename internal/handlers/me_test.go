package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/orchard-market/api/internal/domain"
	"github.com/orchard-market/api/internal/services"
)

type stubAddressStore struct {
	getFn  func(context.Context, string, string) (domain.Address, error)
	listFn func(context.Context, string) ([]domain.Address, error)
}

func (s *stubAddressStore) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID, addressID)
	}
	return domain.Address{}, errors.New("not implemented")
}

func (s *stubAddressStore) List(ctx context.Context, userID string) ([]domain.Address, error) {
	if s.listFn != nil {
		return s.listFn(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

func TestMeHandlersListAddresses(t *testing.T) {
	addresses := &stubAddressStore{
		listFn: func(_ context.Context, userID string) ([]domain.Address, error) {
			if userID != "user-1" {
				t.Fatalf("expected caller uid, got %s", userID)
			}
			return []domain.Address{
				{ID: "addr-1", ReceiverName: "Alex Doe", ReceiverPhone: "555-0100", City: "Portland", IsDefault: true},
			}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/me", NewMeHandlers(nil, addresses, nil).Routes)

	req := asUser(httptest.NewRequest(http.MethodGet, "/me/addresses", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp addressListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "addr-1" || !resp.Items[0].IsDefault {
		t.Fatalf("unexpected addresses: %#v", resp.Items)
	}
}

func TestMeHandlersListAddressesUnauthenticated(t *testing.T) {
	router := chi.NewRouter()
	router.Route("/me", NewMeHandlers(nil, &stubAddressStore{}, nil).Routes)

	req := httptest.NewRequest(http.MethodGet, "/me/addresses", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "unauthenticated" {
		t.Fatalf("expected unauthenticated error, got %s", code)
	}
}

func TestMeHandlersListReviews(t *testing.T) {
	var captured services.ListUserReviewsCommand
	reviews := &stubReviewService{
		listByUserFn: func(_ context.Context, cmd services.ListUserReviewsCommand) (domain.CursorPage[services.Review], error) {
			captured = cmd
			return domain.CursorPage[services.Review]{
				Items: []services.Review{
					{ID: "rev_1", SPUID: "spu-mug", UserID: cmd.UserID, Rating: 4, Status: domain.ReviewStatusApproved},
				},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/me", NewMeHandlers(nil, &stubAddressStore{}, reviews).Routes)

	req := asUser(httptest.NewRequest(http.MethodGet, "/me/reviews?page_size=10&page_token=tok123", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected list scoped to caller, got %s", captured.UserID)
	}
	if captured.PageSize != 10 || captured.PageToken != "tok123" {
		t.Fatalf("unexpected pagination: %#v", captured.Pagination)
	}

	var resp reviewListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Rating != 4 {
		t.Fatalf("unexpected reviews: %#v", resp.Items)
	}
	if resp.NextPageToken != "tok-next" {
		t.Fatalf("expected next page token tok-next, got %s", resp.NextPageToken)
	}
}
