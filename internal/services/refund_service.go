package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/orchard-market/api/internal/domain"
	"github.com/orchard-market/api/internal/repositories"
)

const (
	refundEventRequested = "refund.requested"
	refundEventApproved  = "refund.approved"
	refundEventRejected  = "refund.rejected"

	refundIDPrefix = "ref_"
)

var (
	// ErrRefundInvalidInput signals the caller provided invalid data.
	ErrRefundInvalidInput = errors.New("refund: invalid input")
	// ErrRefundNotFound indicates the refund request could not be located.
	ErrRefundNotFound = errors.New("refund: not found")
	// ErrRefundConflict indicates the order already carries a refund request.
	ErrRefundConflict = errors.New("refund: conflict")
	// ErrRefundInvalidState indicates the request or order is in the wrong state.
	ErrRefundInvalidState = errors.New("refund: invalid state")
	// ErrRefundUnauthorized indicates the caller does not own the order.
	ErrRefundUnauthorized = errors.New("refund: unauthorized")
)

var refundableOrderStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusPaid:    true,
	domain.OrderStatusShipped: true,
}

var refundReasons = map[domain.RefundReason]bool{
	domain.RefundReasonNotReceived:    true,
	domain.RefundReasonNotAsDescribed: true,
	domain.RefundReasonQualityIssue:   true,
	domain.RefundReasonWrongItem:      true,
	domain.RefundReasonOther:          true,
}

// RefundServiceDeps bundles collaborators required to construct the refund service.
type RefundServiceDeps struct {
	Refunds     repositories.RefundRepository
	Orders      repositories.OrderRepository
	Inventory   repositories.InventoryRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      RefundEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type refundService struct {
	refunds    repositories.RefundRepository
	orders     repositories.OrderRepository
	inventory  repositories.InventoryRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     RefundEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewRefundService wires dependencies into a concrete RefundService implementation.
func NewRefundService(deps RefundServiceDeps) (RefundService, error) {
	if deps.Refunds == nil {
		return nil, errors.New("refund service: refund repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("refund service: order repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("refund service: inventory repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &refundService{
		refunds:    deps.Refunds,
		orders:     deps.Orders,
		inventory:  deps.Inventory,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *refundService) Request(ctx context.Context, cmd RequestRefundCommand) (RefundRequest, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return RefundRequest{}, fmt.Errorf("%w: order id is required", ErrRefundInvalidInput)
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return RefundRequest{}, fmt.Errorf("%w: user id is required", ErrRefundInvalidInput)
	}
	if !refundReasons[cmd.Reason] {
		return RefundRequest{}, fmt.Errorf("%w: unknown refund reason %q", ErrRefundInvalidInput, cmd.Reason)
	}

	now := s.now()
	var refund RefundRequest

	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if order.UserID != userID {
			return fmt.Errorf("%w: order %s does not belong to caller", ErrRefundUnauthorized, orderID)
		}
		if !refundableOrderStatuses[order.Status] {
			return fmt.Errorf("%w: order status %s does not admit refunds", ErrRefundInvalidState, order.Status)
		}

		refund = RefundRequest{
			ID:           refundIDPrefix + s.newID(),
			OrderID:      order.ID,
			UserID:       userID,
			Status:       domain.RefundStatusPending,
			Reason:       cmd.Reason,
			BuyerNote:    strings.TrimSpace(cmd.Detail),
			RefundAmount: order.TotalAmount,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return s.mapRepositoryError(s.refunds.Insert(txCtx, refund))
	})
	if err != nil {
		return RefundRequest{}, err
	}

	s.publishEvent(ctx, RefundEvent{
		Type:       refundEventRequested,
		RefundID:   refund.ID,
		OrderID:    refund.OrderID,
		Status:     refund.Status,
		OccurredAt: now,
	})

	return refund, nil
}

func (s *refundService) GetByOrder(ctx context.Context, cmd GetRefundCommand) (RefundRequest, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return RefundRequest{}, fmt.Errorf("%w: order id is required", ErrRefundInvalidInput)
	}

	refund, err := s.refunds.FindByOrder(ctx, orderID)
	if err != nil {
		return RefundRequest{}, s.mapRepositoryError(err)
	}
	if !cmd.Admin && refund.UserID != strings.TrimSpace(cmd.UserID) {
		return RefundRequest{}, fmt.Errorf("%w: order %s does not belong to caller", ErrRefundUnauthorized, orderID)
	}
	return refund, nil
}

func (s *refundService) List(ctx context.Context, filter RefundListFilter) (domain.CursorPage[RefundRequest], error) {
	page, err := s.refunds.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[RefundRequest]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// Approve flips the refund, restores the reserved stock, and moves the order
// to refunded in one transaction. A second approval attempt fails on the
// pending guard regardless of interleaving.
func (s *refundService) Approve(ctx context.Context, cmd ProcessRefundCommand) (RefundRequest, error) {
	refundID := strings.TrimSpace(cmd.RefundID)
	if refundID == "" {
		return RefundRequest{}, fmt.Errorf("%w: refund id is required", ErrRefundInvalidInput)
	}

	now := s.now()
	var refund RefundRequest

	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		refund, err = s.refunds.FindByID(txCtx, refundID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if refund.Status != domain.RefundStatusPending {
			return fmt.Errorf("%w: refund already %s", ErrRefundInvalidState, refund.Status)
		}

		order, err := s.orders.FindByID(txCtx, refund.OrderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !canTransition(order.Status, domain.OrderStatusRefunded) {
			return fmt.Errorf("%w: order status %s cannot move to refunded", ErrRefundInvalidState, order.Status)
		}

		lines := orderInventoryLines(order)
		if _, err := s.inventory.Release(txCtx, repositories.InventoryReleaseRequest{Lines: lines, Now: now}); err != nil {
			return s.mapRepositoryError(err)
		}

		refund.Status = domain.RefundStatusApproved
		refund.AdminRemark = strings.TrimSpace(cmd.Remark)
		refund.ProcessedAt = &now
		refund.UpdatedAt = now
		if err := s.refunds.Update(txCtx, refund); err != nil {
			return s.mapRepositoryError(err)
		}

		order.Status = domain.OrderStatusRefunded
		order.UpdatedAt = now
		return s.mapRepositoryError(s.orders.Update(txCtx, order))
	})
	if err != nil {
		return RefundRequest{}, err
	}

	s.publishEvent(ctx, RefundEvent{
		Type:       refundEventApproved,
		RefundID:   refund.ID,
		OrderID:    refund.OrderID,
		Status:     refund.Status,
		OccurredAt: now,
	})

	return refund, nil
}

func (s *refundService) Reject(ctx context.Context, cmd ProcessRefundCommand) (RefundRequest, error) {
	refundID := strings.TrimSpace(cmd.RefundID)
	if refundID == "" {
		return RefundRequest{}, fmt.Errorf("%w: refund id is required", ErrRefundInvalidInput)
	}
	remark := strings.TrimSpace(cmd.Remark)
	if remark == "" {
		return RefundRequest{}, fmt.Errorf("%w: rejection requires a remark", ErrRefundInvalidInput)
	}

	now := s.now()
	var refund RefundRequest

	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		refund, err = s.refunds.FindByID(txCtx, refundID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if refund.Status != domain.RefundStatusPending {
			return fmt.Errorf("%w: refund already %s", ErrRefundInvalidState, refund.Status)
		}

		refund.Status = domain.RefundStatusRejected
		refund.AdminRemark = remark
		refund.ProcessedAt = &now
		refund.UpdatedAt = now
		return s.mapRepositoryError(s.refunds.Update(txCtx, refund))
	})
	if err != nil {
		return RefundRequest{}, err
	}

	s.publishEvent(ctx, RefundEvent{
		Type:       refundEventRejected,
		RefundID:   refund.ID,
		OrderID:    refund.OrderID,
		Status:     refund.Status,
		OccurredAt: now,
	})

	return refund, nil
}

func (s *refundService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrRefundNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrRefundConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("refund: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *refundService) now() time.Time {
	return s.clock()
}

func (s *refundService) publishEvent(ctx context.Context, event RefundEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishRefundEvent(ctx, event); err != nil {
		s.logger(ctx, "refund.event.publish.failed", map[string]any{
			"type":   event.Type,
			"refund": event.RefundID,
			"order":  event.OrderID,
			"error":  err.Error(),
		})
	}
}

var _ RefundService = (*refundService)(nil)
