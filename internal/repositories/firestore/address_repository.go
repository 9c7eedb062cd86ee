package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/orchard-market/api/internal/domain"
	pfirestore "github.com/orchard-market/api/internal/platform/firestore"
	"github.com/orchard-market/api/internal/repositories"
)

const addressCollectionPattern = "users/%s/addresses"

type addressDocument struct {
	ReceiverName  string    `firestore:"receiverName"`
	ReceiverPhone string    `firestore:"receiverPhone"`
	Province      string    `firestore:"province"`
	City          string    `firestore:"city"`
	District      string    `firestore:"district"`
	Detail        string    `firestore:"detail"`
	IsDefault     bool      `firestore:"isDefault"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

// AddressRepository reads shipping addresses stored under each user document.
// The address book itself is owned by the account system; order creation only
// needs lookups to build the shipping snapshot.
type AddressRepository struct {
	provider *pfirestore.Provider
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

// Get loads a single address scoped to the user.
func (r *AddressRepository) Get(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}

	snap, err := coll.Doc(id).Get(ctx)
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.get", err)
	}
	var doc addressDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Address{}, fmt.Errorf("firestore addresses decode %s: %w", id, err)
	}
	return decodeAddress(strings.TrimSpace(userID), snap.Ref.ID, doc), nil
}

// List returns all addresses for the user, default first.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("isDefault", firestore.Desc).OrderBy("updatedAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var results []domain.Address
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("addresses.list", err)
		}
		var doc addressDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore addresses decode %s: %w", snap.Ref.ID, err)
		}
		results = append(results, decodeAddress(strings.TrimSpace(userID), snap.Ref.ID, doc))
	}
	return results, nil
}

func (r *AddressRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("address repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("address repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(addressCollectionPattern, uid)), nil
}

func decodeAddress(userID string, id string, doc addressDocument) domain.Address {
	return domain.Address{
		ID:            id,
		UserID:        userID,
		ReceiverName:  doc.ReceiverName,
		ReceiverPhone: doc.ReceiverPhone,
		Province:      doc.Province,
		City:          doc.City,
		District:      doc.District,
		Detail:        doc.Detail,
		IsDefault:     doc.IsDefault,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)
