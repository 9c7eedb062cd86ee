package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/orchard-market/api/internal/domain"
	"github.com/orchard-market/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix    = "ord_"
	lineItemIDPrefix = "itm_"

	defaultOrderCurrency = "usd"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates concurrent modification or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnauthorized indicates the caller does not own the order.
	ErrOrderUnauthorized = errors.New("order: unauthorized")
	// ErrOrderInsufficientStock indicates a line item exceeds available stock.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:    {domain.OrderStatusShipped, domain.OrderStatusRefunded},
	domain.OrderStatusShipped: {domain.OrderStatusCompleted, domain.OrderStatusRefunded},
}

func canTransition(from, to domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[from], to)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Addresses   repositories.AddressRepository
	Products    repositories.ProductRepository
	Inventory   repositories.InventoryRepository
	Ownership   repositories.OwnershipRepository
	Counters    repositories.CounterRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Currency    string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	carts      repositories.CartRepository
	addresses  repositories.AddressRepository
	products   repositories.ProductRepository
	inventory  repositories.InventoryRepository
	ownership  repositories.OwnershipRepository
	counters   repositories.CounterRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	currency   string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("order service: address repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory repository is required")
	}
	if deps.Ownership == nil {
		return nil, errors.New("order service: ownership repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
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

	currency := strings.TrimSpace(deps.Currency)
	if currency == "" {
		currency = defaultOrderCurrency
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		addresses:  deps.Addresses,
		products:   deps.Products,
		inventory:  deps.Inventory,
		ownership:  deps.Ownership,
		counters:   deps.Counters,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		currency: currency,
		events:   deps.Events,
		logger:   logger,
	}, nil
}

func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	addressID := strings.TrimSpace(cmd.AddressID)
	if addressID == "" {
		return Order{}, fmt.Errorf("%w: address id is required", ErrOrderInvalidInput)
	}
	switch cmd.PaymentMethod {
	case domain.PaymentMethodMock, domain.PaymentMethodStripe:
	default:
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}

	address, err := s.addresses.Get(ctx, userID, addressID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.now()

	// The counter runs its own transaction, so the sequence is taken before
	// the order's unit of work opens.
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:            orderIDPrefix + s.newID(),
		OrderNumber:   number,
		UserID:        userID,
		Status:        domain.OrderStatusPending,
		Currency:      s.currency,
		PaymentMethod: cmd.PaymentMethod,
		Shipping: domain.ShippingSnapshot{
			ReceiverName:  address.ReceiverName,
			ReceiverPhone: address.ReceiverPhone,
			Province:      address.Province,
			City:          address.City,
			District:      address.District,
			Detail:        address.Detail,
		},
		Metadata:  cloneMetadata(cmd.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		cart, err := s.carts.Get(txCtx, userID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		selected, remaining, err := selectCartItems(cart.Items, cmd.CartItemIDs)
		if err != nil {
			return err
		}

		items, total, err := s.buildLineItems(txCtx, selected)
		if err != nil {
			return err
		}
		order.Items = items
		order.TotalAmount = total

		lines := make([]repositories.InventoryLine, 0, len(items))
		for _, item := range items {
			lines = append(lines, repositories.InventoryLine{SKUID: item.SKUID, Quantity: item.Quantity})
		}
		if _, err := s.inventory.Reserve(txCtx, repositories.InventoryReserveRequest{Lines: lines, Now: now}); err != nil {
			return s.mapInventoryError(err)
		}

		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return s.mapRepositoryError(s.carts.ReplaceItems(txCtx, userID, remaining))
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: order.Status,
		OccurredAt:    now,
		Metadata:      maps.Clone(order.Metadata),
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if err := authorizeOrderAccess(order, cmd.UserID, cmd.Admin); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var (
		order      Order
		prevStatus domain.OrderStatus
	)
	now := s.now()

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := authorizeOrderAccess(order, cmd.UserID, cmd.Admin); err != nil {
			return err
		}
		prevStatus = order.Status

		if err := applyStatusTransition(&order, domain.OrderStatusCancelled, now); err != nil {
			return err
		}
		if reason := strings.TrimSpace(cmd.Reason); reason != "" {
			order.Metadata = ensureMetadata(order.Metadata)
			order.Metadata["cancelReason"] = reason
		}

		// Restores the exact reserved quantities; only pending orders hold a
		// reservation, and the transition guard admits nothing else here.
		if _, err := s.inventory.Release(txCtx, repositories.InventoryReleaseRequest{Lines: orderInventoryLines(order), Now: now}); err != nil {
			return s.mapInventoryError(err)
		}

		return s.mapRepositoryError(s.orders.Update(txCtx, order))
	})
	if err != nil {
		return Order{}, err
	}

	s.publishStatusChange(ctx, order, prevStatus, now, nil)
	return order, nil
}

func (s *orderService) MarkPaid(ctx context.Context, cmd MarkPaidCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var (
		order      Order
		prevStatus domain.OrderStatus
		repeated   bool
	)
	now := s.now()

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !cmd.SkipOwnerCheck {
			if err := authorizeOrderAccess(order, cmd.UserID, false); err != nil {
				return err
			}
		}
		prevStatus = order.Status

		// A redelivered payment event may arrive after the order moved on to
		// shipped or completed; anything at or past paid is a no-op. Cancelled
		// and refunded orders still reject the transition so the stray charge
		// surfaces for reconciliation.
		if cmd.AllowRepeat {
			switch order.Status {
			case domain.OrderStatusPaid, domain.OrderStatusShipped, domain.OrderStatusCompleted:
				repeated = true
				return nil
			}
		}

		if err := applyStatusTransition(&order, domain.OrderStatusPaid, now); err != nil {
			return err
		}
		if cmd.PaymentMethod != "" {
			order.PaymentMethod = cmd.PaymentMethod
		}
		if ref := strings.TrimSpace(cmd.ProviderRef); ref != "" {
			order.Metadata = ensureMetadata(order.Metadata)
			order.Metadata["paymentRef"] = ref
		}

		return s.mapRepositoryError(s.orders.Update(txCtx, order))
	})
	if err != nil {
		return Order{}, err
	}

	// Grants are keyed by (user, SKU), so repeating them here is harmless and
	// repairs a crash that landed between the commit and the first grant.
	s.grantOwnership(ctx, order, now)
	if repeated {
		return order, nil
	}

	s.publishStatusChange(ctx, order, prevStatus, now, map[string]any{"paymentMethod": string(order.PaymentMethod)})
	return order, nil
}

func (s *orderService) Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	carrier := strings.TrimSpace(cmd.Carrier)
	tracking := strings.TrimSpace(cmd.TrackingNumber)
	if carrier == "" || tracking == "" {
		return Order{}, fmt.Errorf("%w: carrier and tracking number are required", ErrOrderInvalidInput)
	}

	var (
		order      Order
		prevStatus domain.OrderStatus
	)
	now := s.now()

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		prevStatus = order.Status

		if err := applyStatusTransition(&order, domain.OrderStatusShipped, now); err != nil {
			return err
		}
		order.Shipment = &domain.Shipment{Carrier: carrier, TrackingNumber: tracking}

		return s.mapRepositoryError(s.orders.Update(txCtx, order))
	})
	if err != nil {
		return Order{}, err
	}

	s.publishStatusChange(ctx, order, prevStatus, now, map[string]any{"carrier": carrier})
	return order, nil
}

func (s *orderService) ConfirmDelivery(ctx context.Context, cmd ConfirmDeliveryCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var (
		order      Order
		prevStatus domain.OrderStatus
	)
	now := s.now()

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := authorizeOrderAccess(order, cmd.UserID, cmd.Admin); err != nil {
			return err
		}
		prevStatus = order.Status

		if err := applyStatusTransition(&order, domain.OrderStatusCompleted, now); err != nil {
			return err
		}

		return s.mapRepositoryError(s.orders.Update(txCtx, order))
	})
	if err != nil {
		return Order{}, err
	}

	s.grantOwnership(ctx, order, now)
	s.publishStatusChange(ctx, order, prevStatus, now, nil)
	return order, nil
}

// buildLineItems snapshots SKU titles and prices at purchase time. It runs
// inside the order transaction so a concurrent price change cannot split the
// snapshot.
func (s *orderService) buildLineItems(ctx context.Context, selected []CartItem) ([]OrderLineItem, int64, error) {
	items := make([]OrderLineItem, 0, len(selected))
	spuNames := make(map[string]string)
	var total int64

	for _, entry := range selected {
		if entry.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: cart item %s has non-positive quantity", ErrOrderInvalidInput, entry.ID)
		}

		sku, err := s.products.GetSKU(ctx, entry.SKUID)
		if err != nil {
			return nil, 0, s.mapRepositoryError(err)
		}
		if !sku.Active {
			return nil, 0, fmt.Errorf("%w: sku %s is no longer for sale", ErrOrderInvalidInput, sku.ID)
		}

		spuName, ok := spuNames[sku.SPUID]
		if !ok {
			spu, err := s.products.GetSPU(ctx, sku.SPUID)
			if err != nil {
				return nil, 0, s.mapRepositoryError(err)
			}
			spuName = spu.Name
			spuNames[sku.SPUID] = spuName
		}

		subtotal := sku.Price * entry.Quantity
		items = append(items, OrderLineItem{
			ID:        lineItemIDPrefix + s.newID(),
			SKUID:     sku.ID,
			SKUTitle:  sku.Title,
			SPUName:   spuName,
			UnitPrice: sku.Price,
			Quantity:  entry.Quantity,
			Subtotal:  subtotal,
		})
		total += subtotal
	}

	return items, total, nil
}

func (s *orderService) grantOwnership(ctx context.Context, order Order, now time.Time) {
	for _, item := range order.Items {
		grant := domain.OwnershipGrant{
			UserID:    order.UserID,
			SKUID:     item.SKUID,
			OrderID:   order.ID,
			GrantedAt: now,
		}
		if _, _, err := s.ownership.Grant(ctx, grant); err != nil {
			s.logger(ctx, "order.ownership.grant.failed", map[string]any{
				"order": order.ID,
				"sku":   item.SKUID,
				"error": err.Error(),
			})
		}
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) mapInventoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %v", ErrOrderInsufficientStock, err)
		case repositories.InventoryErrorRecordNotFound:
			return fmt.Errorf("%w: %v", ErrOrderInsufficientStock, err)
		case repositories.InventoryErrorInvalidLine:
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
	}

	return s.mapRepositoryError(err)
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("OM-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishStatusChange(ctx context.Context, order Order, prev domain.OrderStatus, now time.Time, metadata map[string]any) {
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: prev,
		CurrentStatus:  order.Status,
		OccurredAt:     now,
		Metadata:       metadata,
	})
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}

func applyStatusTransition(order *Order, target domain.OrderStatus, now time.Time) error {
	if order.Status == target {
		return fmt.Errorf("%w: order already %s", ErrOrderInvalidState, target)
	}
	if !canTransition(order.Status, target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, target)
	}

	order.Status = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusPaid:
		order.PaidAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusCompleted:
		order.CompletedAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	}
	return nil
}

func authorizeOrderAccess(order Order, userID string, admin bool) error {
	if admin {
		return nil
	}
	if strings.TrimSpace(userID) == "" || order.UserID != strings.TrimSpace(userID) {
		return fmt.Errorf("%w: order %s does not belong to caller", ErrOrderUnauthorized, order.ID)
	}
	return nil
}

// selectCartItems splits the cart into the entries being purchased and the
// entries left behind. An empty id list buys the whole cart.
func selectCartItems(items []CartItem, ids []string) (selected, remaining []CartItem, err error) {
	if len(items) == 0 {
		return nil, nil, fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
	}
	if len(ids) == 0 {
		return items, nil, nil
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, nil, fmt.Errorf("%w: cart item id must not be empty", ErrOrderInvalidInput)
		}
		wanted[id] = true
	}

	for _, item := range items {
		if wanted[item.ID] {
			selected = append(selected, item)
			delete(wanted, item.ID)
		} else {
			remaining = append(remaining, item)
		}
	}
	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for id := range wanted {
			missing = append(missing, id)
		}
		slices.Sort(missing)
		return nil, nil, fmt.Errorf("%w: cart items not found: %s", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}
	return selected, remaining, nil
}

func orderInventoryLines(order Order) []repositories.InventoryLine {
	lines := make([]repositories.InventoryLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, repositories.InventoryLine{SKUID: item.SKUID, Quantity: item.Quantity})
	}
	return lines
}

func ensureMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func cloneMetadata(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return maps.Clone(m)
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

var _ OrderService = (*orderService)(nil)
