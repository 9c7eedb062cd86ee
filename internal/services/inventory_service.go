package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/orchard-market/api/internal/domain"
	"github.com/orchard-market/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput signals invalid stock adjustment parameters.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryNotFound indicates no stock record exists for the SKU.
	ErrInventoryNotFound = errors.New("inventory: not found")
)

// InventoryServiceDeps bundles constructor inputs for the inventory service.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Clock     func() time.Time
}

type inventoryService struct {
	inventory repositories.InventoryRepository
	clock     func() time.Time
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &inventoryService{
		inventory: deps.Inventory,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *inventoryService) GetStock(ctx context.Context, skuID string) (InventoryRecord, error) {
	skuID = strings.TrimSpace(skuID)
	if skuID == "" {
		return InventoryRecord{}, fmt.Errorf("%w: sku id is required", ErrInventoryInvalidInput)
	}
	record, err := s.inventory.Get(ctx, skuID)
	if err != nil {
		return InventoryRecord{}, s.mapError(err)
	}
	return record, nil
}

func (s *inventoryService) SetStock(ctx context.Context, cmd SetStockCommand) (InventoryRecord, error) {
	skuID := strings.TrimSpace(cmd.SKUID)
	if skuID == "" {
		return InventoryRecord{}, fmt.Errorf("%w: sku id is required", ErrInventoryInvalidInput)
	}
	if cmd.Quantity < 0 {
		return InventoryRecord{}, fmt.Errorf("%w: quantity must not be negative", ErrInventoryInvalidInput)
	}

	record := domain.InventoryRecord{
		SKUID:     skuID,
		Quantity:  cmd.Quantity,
		UpdatedAt: s.clock(),
	}
	if err := s.inventory.Put(ctx, record); err != nil {
		return InventoryRecord{}, s.mapError(err)
	}
	return record, nil
}

func (s *inventoryService) ListLowStock(ctx context.Context, filter LowStockFilter) (domain.CursorPage[InventoryRecord], error) {
	if filter.Threshold < 0 {
		return domain.CursorPage[InventoryRecord]{}, fmt.Errorf("%w: threshold must not be negative", ErrInventoryInvalidInput)
	}
	page, err := s.inventory.ListLowStock(ctx, repositories.InventoryLowStockQuery{
		Threshold: filter.Threshold,
		PageSize:  filter.PageSize,
		PageToken: filter.PageToken,
	})
	if err != nil {
		return domain.CursorPage[InventoryRecord]{}, s.mapError(err)
	}
	return page, nil
}

func (s *inventoryService) mapError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorRecordNotFound:
			return fmt.Errorf("%w: %v", ErrInventoryNotFound, err)
		case repositories.InventoryErrorInvalidLine:
			return fmt.Errorf("%w: %v", ErrInventoryInvalidInput, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrInventoryNotFound, err)
	}
	return err
}

var _ InventoryService = (*inventoryService)(nil)
