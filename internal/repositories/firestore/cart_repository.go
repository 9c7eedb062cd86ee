package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/orchard-market/api/internal/domain"
	pfirestore "github.com/orchard-market/api/internal/platform/firestore"
	"github.com/orchard-market/api/internal/repositories"
)

const cartsCollection = "carts"

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID       string    `firestore:"id"`
	SKUID    string    `firestore:"skuId"`
	Quantity int64     `firestore:"quantity"`
	AddedAt  time.Time `firestore:"addedAt"`
}

// CartRepository reads and clears the cart owned by the external cart system.
// Documents are keyed by user id.
type CartRepository struct {
	provider *pfirestore.Provider
	carts    *pfirestore.Collection[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		provider: provider,
		carts:    pfirestore.NewCollection[cartDocument](provider, cartsCollection),
	}, nil
}

// Get loads the cart for the given user.
func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.carts == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.carts.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}

	cart := domain.Cart{UserID: uid, UpdatedAt: doc.Data.UpdatedAt}
	cart.Items = make([]domain.CartItem, 0, len(doc.Data.Items))
	for _, item := range doc.Data.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ID:       item.ID,
			SKUID:    item.SKUID,
			Quantity: item.Quantity,
			AddedAt:  item.AddedAt,
		})
	}
	return cart, nil
}

// ReplaceItems overwrites the cart contents. The method only writes, so it is
// safe to call after inventory writes inside the same transaction.
func (r *CartRepository) ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) error {
	if r == nil || r.carts == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}

	doc := cartDocument{
		Items:     make([]cartItemDocument, 0, len(items)),
		UpdatedAt: time.Now().UTC(),
	}
	for _, item := range items {
		doc.Items = append(doc.Items, cartItemDocument{
			ID:       item.ID,
			SKUID:    item.SKUID,
			Quantity: item.Quantity,
			AddedAt:  item.AddedAt,
		})
	}
	return r.carts.Set(ctx, uid, doc)
}

var _ repositories.CartRepository = (*CartRepository)(nil)
