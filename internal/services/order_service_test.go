package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/orchard-market/api/internal/domain"
	"github.com/orchard-market/api/internal/repositories"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "stub repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

type stubOrderRepo struct {
	insertFn     func(context.Context, domain.Order) error
	updateFn     func(context.Context, domain.Order) error
	findFn       func(context.Context, string) (domain.Order, error)
	listFn       func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	markReviewFn func(context.Context, string, string, time.Time) error
	countSKUFn   func(context.Context, string) (int64, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) MarkItemReviewed(ctx context.Context, orderID, lineItemID string, now time.Time) error {
	if s.markReviewFn != nil {
		return s.markReviewFn(ctx, orderID, lineItemID, now)
	}
	return nil
}

func (s *stubOrderRepo) CountItemsBySKU(ctx context.Context, skuID string) (int64, error) {
	if s.countSKUFn != nil {
		return s.countSKUFn(ctx, skuID)
	}
	return 0, nil
}

type stubCartRepo struct {
	getFn     func(context.Context, string) (domain.Cart, error)
	replaceFn func(context.Context, string, []domain.CartItem) error
}

func (s *stubCartRepo) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return domain.Cart{}, errors.New("not implemented")
}

func (s *stubCartRepo) ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) error {
	if s.replaceFn != nil {
		return s.replaceFn(ctx, userID, items)
	}
	return nil
}

type stubAddressRepo struct {
	getFn func(context.Context, string, string) (domain.Address, error)
}

func (s *stubAddressRepo) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID, addressID)
	}
	return domain.Address{ID: addressID, UserID: userID, ReceiverName: "Alex Doe", ReceiverPhone: "555-0100"}, nil
}

func (s *stubAddressRepo) List(context.Context, string) ([]domain.Address, error) {
	return nil, errors.New("not implemented")
}

type stubProductRepo struct {
	getSKUFn     func(context.Context, string) (domain.ProductSKU, error)
	getSPUFn     func(context.Context, string) (domain.ProductSPU, error)
	insertSPUFn  func(context.Context, domain.ProductSPU) error
	updateSPUFn  func(context.Context, domain.ProductSPU) error
	deleteSPUFn  func(context.Context, string) error
	listSPUsFn   func(context.Context, repositories.SPUFilter) (domain.CursorPage[domain.ProductSPU], error)
	insertSKUFn  func(context.Context, domain.ProductSKU) error
	updateSKUFn  func(context.Context, domain.ProductSKU) error
	deleteSKUFn  func(context.Context, string) error
	listSKUsFn   func(context.Context, string) ([]domain.ProductSKU, error)
	listAttrsFn  func(context.Context, string) ([]domain.Attribute, error)
	upsertAttrFn func(context.Context, domain.Attribute) (domain.Attribute, error)
}

func (s *stubProductRepo) InsertSPU(ctx context.Context, spu domain.ProductSPU) error {
	if s.insertSPUFn != nil {
		return s.insertSPUFn(ctx, spu)
	}
	return nil
}

func (s *stubProductRepo) UpdateSPU(ctx context.Context, spu domain.ProductSPU) error {
	if s.updateSPUFn != nil {
		return s.updateSPUFn(ctx, spu)
	}
	return nil
}

func (s *stubProductRepo) DeleteSPU(ctx context.Context, spuID string) error {
	if s.deleteSPUFn != nil {
		return s.deleteSPUFn(ctx, spuID)
	}
	return nil
}

func (s *stubProductRepo) GetSPU(ctx context.Context, spuID string) (domain.ProductSPU, error) {
	if s.getSPUFn != nil {
		return s.getSPUFn(ctx, spuID)
	}
	return domain.ProductSPU{}, errors.New("not implemented")
}

func (s *stubProductRepo) ListSPUs(ctx context.Context, filter repositories.SPUFilter) (domain.CursorPage[domain.ProductSPU], error) {
	if s.listSPUsFn != nil {
		return s.listSPUsFn(ctx, filter)
	}
	return domain.CursorPage[domain.ProductSPU]{}, nil
}

func (s *stubProductRepo) InsertSKU(ctx context.Context, sku domain.ProductSKU) error {
	if s.insertSKUFn != nil {
		return s.insertSKUFn(ctx, sku)
	}
	return nil
}

func (s *stubProductRepo) UpdateSKU(ctx context.Context, sku domain.ProductSKU) error {
	if s.updateSKUFn != nil {
		return s.updateSKUFn(ctx, sku)
	}
	return nil
}

func (s *stubProductRepo) DeleteSKU(ctx context.Context, skuID string) error {
	if s.deleteSKUFn != nil {
		return s.deleteSKUFn(ctx, skuID)
	}
	return nil
}

func (s *stubProductRepo) GetSKU(ctx context.Context, skuID string) (domain.ProductSKU, error) {
	if s.getSKUFn != nil {
		return s.getSKUFn(ctx, skuID)
	}
	return domain.ProductSKU{}, errors.New("not implemented")
}

func (s *stubProductRepo) ListSKUs(ctx context.Context, spuID string) ([]domain.ProductSKU, error) {
	if s.listSKUsFn != nil {
		return s.listSKUsFn(ctx, spuID)
	}
	return nil, nil
}

func (s *stubProductRepo) GetAttribute(context.Context, string) (domain.Attribute, error) {
	return domain.Attribute{}, errors.New("not implemented")
}

func (s *stubProductRepo) ListAttributes(ctx context.Context, categoryID string) ([]domain.Attribute, error) {
	if s.listAttrsFn != nil {
		return s.listAttrsFn(ctx, categoryID)
	}
	return nil, nil
}

func (s *stubProductRepo) UpsertAttribute(ctx context.Context, attribute domain.Attribute) (domain.Attribute, error) {
	if s.upsertAttrFn != nil {
		return s.upsertAttrFn(ctx, attribute)
	}
	return attribute, nil
}

type stubInventoryRepo struct {
	reserveFn func(context.Context, repositories.InventoryReserveRequest) (repositories.InventoryAdjustResult, error)
	releaseFn func(context.Context, repositories.InventoryReleaseRequest) (repositories.InventoryAdjustResult, error)
	getFn     func(context.Context, string) (domain.InventoryRecord, error)
	putFn     func(context.Context, domain.InventoryRecord) error
	listLowFn func(context.Context, repositories.InventoryLowStockQuery) (domain.CursorPage[domain.InventoryRecord], error)
}

func (s *stubInventoryRepo) Reserve(ctx context.Context, req repositories.InventoryReserveRequest) (repositories.InventoryAdjustResult, error) {
	if s.reserveFn != nil {
		return s.reserveFn(ctx, req)
	}
	return repositories.InventoryAdjustResult{}, nil
}

func (s *stubInventoryRepo) Release(ctx context.Context, req repositories.InventoryReleaseRequest) (repositories.InventoryAdjustResult, error) {
	if s.releaseFn != nil {
		return s.releaseFn(ctx, req)
	}
	return repositories.InventoryAdjustResult{}, nil
}

func (s *stubInventoryRepo) Get(ctx context.Context, skuID string) (domain.InventoryRecord, error) {
	if s.getFn != nil {
		return s.getFn(ctx, skuID)
	}
	return domain.InventoryRecord{}, errors.New("not implemented")
}

func (s *stubInventoryRepo) Put(ctx context.Context, record domain.InventoryRecord) error {
	if s.putFn != nil {
		return s.putFn(ctx, record)
	}
	return nil
}

func (s *stubInventoryRepo) ListLowStock(ctx context.Context, query repositories.InventoryLowStockQuery) (domain.CursorPage[domain.InventoryRecord], error) {
	if s.listLowFn != nil {
		return s.listLowFn(ctx, query)
	}
	return domain.CursorPage[domain.InventoryRecord]{}, nil
}

type stubOwnershipRepo struct {
	grantFn func(context.Context, domain.OwnershipGrant) (domain.OwnershipGrant, bool, error)
}

func (s *stubOwnershipRepo) Grant(ctx context.Context, grant domain.OwnershipGrant) (domain.OwnershipGrant, bool, error) {
	if s.grantFn != nil {
		return s.grantFn(ctx, grant)
	}
	return grant, true, nil
}

func (s *stubOwnershipRepo) Exists(context.Context, string, string) (bool, error) {
	return false, nil
}

func (s *stubOwnershipRepo) ListByUser(context.Context, string, domain.Pagination) (domain.CursorPage[domain.OwnershipGrant], error) {
	return domain.CursorPage[domain.OwnershipGrant]{}, nil
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

func (s *stubCounterRepo) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

type stubUnitOfWork struct {
	runFn func(context.Context, func(context.Context) error) error
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureOrderEvents) all() []OrderEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]OrderEvent(nil), c.events...)
}

// memoryInventoryRepo backs concurrency tests with a real conditional
// decrement guarded by a mutex, mirroring the transactional repository.
type memoryInventoryRepo struct {
	mu      sync.Mutex
	records map[string]domain.InventoryRecord
}

func newMemoryInventoryRepo(stock map[string]int64) *memoryInventoryRepo {
	records := make(map[string]domain.InventoryRecord, len(stock))
	for sku, qty := range stock {
		records[sku] = domain.InventoryRecord{SKUID: sku, Quantity: qty}
	}
	return &memoryInventoryRepo{records: records}
}

func (m *memoryInventoryRepo) Reserve(_ context.Context, req repositories.InventoryReserveRequest) (repositories.InventoryAdjustResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, line := range req.Lines {
		record, ok := m.records[line.SKUID]
		if !ok {
			return repositories.InventoryAdjustResult{}, repositories.NewInventoryError(repositories.InventoryErrorRecordNotFound, "no stock record for "+line.SKUID, nil)
		}
		if record.Quantity < line.Quantity {
			return repositories.InventoryAdjustResult{}, repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, "insufficient stock for "+line.SKUID, nil)
		}
	}

	result := repositories.InventoryAdjustResult{Records: make(map[string]domain.InventoryRecord, len(req.Lines))}
	for _, line := range req.Lines {
		record := m.records[line.SKUID]
		record.Quantity -= line.Quantity
		record.UpdatedAt = req.Now
		m.records[line.SKUID] = record
		result.Records[line.SKUID] = record
	}
	return result, nil
}

func (m *memoryInventoryRepo) Release(_ context.Context, req repositories.InventoryReleaseRequest) (repositories.InventoryAdjustResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := repositories.InventoryAdjustResult{Records: make(map[string]domain.InventoryRecord, len(req.Lines))}
	for _, line := range req.Lines {
		record := m.records[line.SKUID]
		record.SKUID = line.SKUID
		record.Quantity += line.Quantity
		record.UpdatedAt = req.Now
		m.records[line.SKUID] = record
		result.Records[line.SKUID] = record
	}
	return result, nil
}

func (m *memoryInventoryRepo) Get(_ context.Context, skuID string) (domain.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[skuID]
	if !ok {
		return domain.InventoryRecord{}, repositories.NewInventoryError(repositories.InventoryErrorRecordNotFound, "no stock record for "+skuID, nil)
	}
	return record, nil
}

func (m *memoryInventoryRepo) Put(_ context.Context, record domain.InventoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.SKUID] = record
	return nil
}

func (m *memoryInventoryRepo) ListLowStock(context.Context, repositories.InventoryLowStockQuery) (domain.CursorPage[domain.InventoryRecord], error) {
	return domain.CursorPage[domain.InventoryRecord]{}, nil
}

func testCatalogProducts() *stubProductRepo {
	skus := map[string]domain.ProductSKU{
		"sku-mug":   {ID: "sku-mug", SPUID: "spu-mug", Title: "Ceramic Mug / Blue", Price: 1299, Active: true},
		"sku-plate": {ID: "sku-plate", SPUID: "spu-mug", Title: "Side Plate", Price: 499, Active: true},
	}
	return &stubProductRepo{
		getSKUFn: func(_ context.Context, skuID string) (domain.ProductSKU, error) {
			sku, ok := skus[skuID]
			if !ok {
				return domain.ProductSKU{}, stubRepoError{notFound: true}
			}
			return sku, nil
		},
		getSPUFn: func(_ context.Context, spuID string) (domain.ProductSPU, error) {
			return domain.ProductSPU{ID: spuID, Name: "Ceramic Mug", Active: true}, nil
		},
	}
}

// newTestOrderService fills unset dependencies with inert stubs so each test
// only spells out the collaborators it observes.
func newTestOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.Carts == nil {
		deps.Carts = &stubCartRepo{}
	}
	if deps.Addresses == nil {
		deps.Addresses = &stubAddressRepo{}
	}
	if deps.Products == nil {
		deps.Products = testCatalogProducts()
	}
	if deps.Inventory == nil {
		deps.Inventory = &stubInventoryRepo{}
	}
	if deps.Ownership == nil {
		deps.Ownership = &stubOwnershipRepo{}
	}
	if deps.Counters == nil {
		deps.Counters = &stubCounterRepo{}
	}
	if deps.UnitOfWork == nil {
		deps.UnitOfWork = &stubUnitOfWork{}
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return svc
}

func TestOrderServiceCreateFromCart(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

	var inserted []domain.Order
	var reserved repositories.InventoryReserveRequest
	var remaining []domain.CartItem
	events := &captureOrderEvents{}

	orderRepo := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			inserted = append(inserted, order)
			return nil
		},
	}
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{UserID: userID, Items: []domain.CartItem{
				{ID: "ci-1", SKUID: "sku-mug", Quantity: 5},
				{ID: "ci-2", SKUID: "sku-plate", Quantity: 3},
				{ID: "ci-3", SKUID: "sku-mug", Quantity: 1},
			}}, nil
		},
		replaceFn: func(_ context.Context, _ string, items []domain.CartItem) error {
			remaining = items
			return nil
		},
	}
	inventory := &stubInventoryRepo{
		reserveFn: func(_ context.Context, req repositories.InventoryReserveRequest) (repositories.InventoryAdjustResult, error) {
			reserved = req
			return repositories.InventoryAdjustResult{}, nil
		},
	}
	counters := &stubCounterRepo{
		nextFn: func(_ context.Context, counterID string, step int64) (int64, error) {
			if counterID != "orders" {
				t.Fatalf("unexpected counter id %s", counterID)
			}
			if step != 1 {
				t.Fatalf("unexpected step %d", step)
			}
			return 42, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:      orderRepo,
		Carts:       carts,
		Inventory:   inventory,
		Counters:    counters,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "000TEST" },
		Events:      events,
	})

	order, err := svc.CreateFromCart(ctx, CreateOrderCommand{
		UserID:        "user-1",
		CartItemIDs:   []string{"ci-1", "ci-2"},
		AddressID:     "addr-1",
		PaymentMethod: domain.PaymentMethodStripe,
	})
	if err != nil {
		t.Fatalf("create from cart: %v", err)
	}

	if order.ID != "ord_000TEST" {
		t.Fatalf("unexpected order id %s", order.ID)
	}
	if order.OrderNumber != "OM-2026-000042" {
		t.Fatalf("unexpected order number %s", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected status pending got %s", order.Status)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 line items got %d", len(order.Items))
	}
	if order.Items[0].Subtotal != 5*1299 || order.Items[1].Subtotal != 3*499 {
		t.Fatalf("unexpected subtotals %d/%d", order.Items[0].Subtotal, order.Items[1].Subtotal)
	}
	if want := int64(5*1299 + 3*499); order.TotalAmount != want {
		t.Fatalf("expected total %d got %d", want, order.TotalAmount)
	}
	if order.Shipping.ReceiverName != "Alex Doe" {
		t.Fatalf("expected shipping snapshot, got %#v", order.Shipping)
	}

	if len(reserved.Lines) != 2 || reserved.Lines[0].Quantity != 5 || reserved.Lines[1].Quantity != 3 {
		t.Fatalf("unexpected reservation lines %#v", reserved.Lines)
	}
	if len(remaining) != 1 || remaining[0].ID != "ci-3" {
		t.Fatalf("expected ci-3 left in cart, got %#v", remaining)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected 1 inserted order got %d", len(inserted))
	}
	if inserted[0].TotalAmount != order.TotalAmount {
		t.Fatalf("persisted total %d differs from returned %d", inserted[0].TotalAmount, order.TotalAmount)
	}

	published := events.all()
	if len(published) != 1 || published[0].Type != orderEventCreated {
		t.Fatalf("expected one order.created event, got %#v", published)
	}
}

func TestOrderServiceCreateFromCartInsufficientStock(t *testing.T) {
	ctx := context.Background()
	inserted := false

	orderRepo := &stubOrderRepo{
		insertFn: func(context.Context, domain.Order) error {
			inserted = true
			return nil
		},
	}
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{UserID: userID, Items: []domain.CartItem{{ID: "ci-1", SKUID: "sku-mug", Quantity: 5}}}, nil
		},
	}
	inventory := &stubInventoryRepo{
		reserveFn: func(context.Context, repositories.InventoryReserveRequest) (repositories.InventoryAdjustResult, error) {
			return repositories.InventoryAdjustResult{}, repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, "sku-mug short by 2", nil)
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orderRepo,
		Carts:     carts,
		Inventory: inventory,
	})

	_, err := svc.CreateFromCart(ctx, CreateOrderCommand{
		UserID:        "user-1",
		AddressID:     "addr-1",
		PaymentMethod: domain.PaymentMethodMock,
	})
	if !errors.Is(err, ErrOrderInsufficientStock) {
		t.Fatalf("expected ErrOrderInsufficientStock, got %v", err)
	}
	if inserted {
		t.Fatalf("order must not be inserted when the reservation fails")
	}
}

func TestOrderServiceCreateFromCartRejectsInactiveSKU(t *testing.T) {
	ctx := context.Background()
	products := &stubProductRepo{
		getSKUFn: func(_ context.Context, skuID string) (domain.ProductSKU, error) {
			return domain.ProductSKU{ID: skuID, SPUID: "spu-1", Title: "Retired", Price: 100, Active: false}, nil
		},
	}
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{UserID: userID, Items: []domain.CartItem{{ID: "ci-1", SKUID: "sku-retired", Quantity: 1}}}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Carts:    carts,
		Products: products,
	})

	_, err := svc.CreateFromCart(ctx, CreateOrderCommand{
		UserID:        "user-1",
		AddressID:     "addr-1",
		PaymentMethod: domain.PaymentMethodMock,
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for inactive sku, got %v", err)
	}
}

func TestOrderServiceCreateFromCartUnknownCartItem(t *testing.T) {
	ctx := context.Background()
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{UserID: userID, Items: []domain.CartItem{{ID: "ci-1", SKUID: "sku-mug", Quantity: 1}}}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Carts: carts})

	_, err := svc.CreateFromCart(ctx, CreateOrderCommand{
		UserID:        "user-1",
		CartItemIDs:   []string{"ci-1", "ci-missing"},
		AddressID:     "addr-1",
		PaymentMethod: domain.PaymentMethodMock,
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for unknown cart item, got %v", err)
	}
}

func TestOrderServiceConcurrentPurchaseSingleWinner(t *testing.T) {
	ctx := context.Background()
	inventory := newMemoryInventoryRepo(map[string]int64{"sku-limited": 1})

	var orderMu sync.Mutex
	var inserted []domain.Order
	orderRepo := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			orderMu.Lock()
			defer orderMu.Unlock()
			inserted = append(inserted, order)
			return nil
		},
	}
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{UserID: userID, Items: []domain.CartItem{{ID: "ci-" + userID, SKUID: "sku-limited", Quantity: 1}}}, nil
		},
	}
	products := &stubProductRepo{
		getSKUFn: func(_ context.Context, skuID string) (domain.ProductSKU, error) {
			return domain.ProductSKU{ID: skuID, SPUID: "spu-1", Title: "Last One", Price: 2500, Active: true}, nil
		},
		getSPUFn: func(_ context.Context, spuID string) (domain.ProductSPU, error) {
			return domain.ProductSPU{ID: spuID, Name: "Limited Edition"}, nil
		},
	}

	var seq, ids atomic.Int64
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orderRepo,
		Carts:     carts,
		Products:  products,
		Inventory: inventory,
		Counters:  &stubCounterRepo{nextFn: func(context.Context, string, int64) (int64, error) { return seq.Add(1), nil }},
		IDGenerator: func() string {
			return fmt.Sprintf("%06d", ids.Add(1))
		},
	})

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, userID := range []string{"user-a", "user-b"} {
		wg.Add(1)
		go func(slot int, user string) {
			defer wg.Done()
			_, errs[slot] = svc.CreateFromCart(ctx, CreateOrderCommand{
				UserID:        user,
				AddressID:     "addr-1",
				PaymentMethod: domain.PaymentMethodMock,
			})
		}(i, userID)
	}
	wg.Wait()

	var successes, shortages int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrOrderInsufficientStock):
			shortages++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || shortages != 1 {
		t.Fatalf("expected exactly one winner, got %d successes and %d shortages", successes, shortages)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected one persisted order, got %d", len(inserted))
	}

	record, err := inventory.Get(ctx, "sku-limited")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if record.Quantity != 0 {
		t.Fatalf("expected stock drained to zero, got %d", record.Quantity)
	}
}

func TestOrderServiceCancelRestoresStock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	orderRepo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			return domain.Order{
				ID:     id,
				UserID: "user-1",
				Status: domain.OrderStatusPending,
				Items: []domain.OrderLineItem{
					{ID: "itm-1", SKUID: "sku-mug", Quantity: 5},
					{ID: "itm-2", SKUID: "sku-plate", Quantity: 3},
				},
			}, nil
		},
	}
	var updated domain.Order
	orderRepo.updateFn = func(_ context.Context, order domain.Order) error {
		updated = order
		return nil
	}

	var released repositories.InventoryReleaseRequest
	inventory := &stubInventoryRepo{
		releaseFn: func(_ context.Context, req repositories.InventoryReleaseRequest) (repositories.InventoryAdjustResult, error) {
			released = req
			return repositories.InventoryAdjustResult{}, nil
		},
	}
	events := &captureOrderEvents{}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orderRepo,
		Inventory: inventory,
		Clock:     func() time.Time { return now },
		Events:    events,
	})

	order, err := svc.Cancel(ctx, CancelOrderCommand{OrderID: "ord-1", UserID: "user-1", Reason: "changed mind"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled status got %s", order.Status)
	}
	if updated.CancelledAt == nil || !updated.CancelledAt.Equal(now) {
		t.Fatalf("expected cancelledAt %s, got %v", now, updated.CancelledAt)
	}
	if updated.Metadata["cancelReason"] != "changed mind" {
		t.Fatalf("expected cancel reason recorded, got %#v", updated.Metadata)
	}

	if len(released.Lines) != 2 {
		t.Fatalf("expected 2 release lines got %d", len(released.Lines))
	}
	if released.Lines[0].SKUID != "sku-mug" || released.Lines[0].Quantity != 5 {
		t.Fatalf("unexpected first release line %#v", released.Lines[0])
	}
	if released.Lines[1].SKUID != "sku-plate" || released.Lines[1].Quantity != 3 {
		t.Fatalf("unexpected second release line %#v", released.Lines[1])
	}

	published := events.all()
	if len(published) != 1 || published[0].Type != orderEventStatusChanged {
		t.Fatalf("expected one status change event, got %#v", published)
	}
	if published[0].PreviousStatus != domain.OrderStatusPending || published[0].CurrentStatus != domain.OrderStatusCancelled {
		t.Fatalf("unexpected transition in event %#v", published[0])
	}
}

func TestOrderServiceCancelPaidOrderFails(t *testing.T) {
	ctx := context.Background()
	releaseCalled := false

	orderRepo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			return domain.Order{ID: id, UserID: "user-1", Status: domain.OrderStatusPaid}, nil
		},
	}
	inventory := &stubInventoryRepo{
		releaseFn: func(context.Context, repositories.InventoryReleaseRequest) (repositories.InventoryAdjustResult, error) {
			releaseCalled = true
			return repositories.InventoryAdjustResult{}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orderRepo,
		Inventory: inventory,
	})

	_, err := svc.Cancel(ctx, CancelOrderCommand{OrderID: "ord-1", UserID: "user-1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
	if releaseCalled {
		t.Fatalf("paid orders must not release stock on a failed cancel")
	}
}

func TestOrderServiceMarkPaidGrantsOwnership(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 2, 11, 0, 0, 0, time.UTC)

	orderRepo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			return domain.Order{
				ID:     id,
				UserID: "user-1",
				Status: domain.OrderStatusPending,
				Items:  []domain.OrderLineItem{{ID: "itm-1", SKUID: "sku-mug", Quantity: 2}},
			}, nil
		},
	}
	var updated domain.Order
	orderRepo.updateFn = func(_ context.Context, order domain.Order) error {
		updated = order
		return nil
	}

	var grants []domain.OwnershipGrant
	ownership := &stubOwnershipRepo{
		grantFn: func(_ context.Context, grant domain.OwnershipGrant) (domain.OwnershipGrant, bool, error) {
			grants = append(grants, grant)
			return grant, true, nil
		},
	}
	events := &captureOrderEvents{}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orderRepo,
		Ownership: ownership,
		Clock:     func() time.Time { return now },
		Events:    events,
	})

	order, err := svc.MarkPaid(ctx, MarkPaidCommand{
		OrderID:       "ord-1",
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodStripe,
		ProviderRef:   "cs_test_123",
	})
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid status got %s", order.Status)
	}
	if updated.PaidAt == nil || !updated.PaidAt.Equal(now) {
		t.Fatalf("expected paidAt %s, got %v", now, updated.PaidAt)
	}
	if updated.Metadata["paymentRef"] != "cs_test_123" {
		t.Fatalf("expected provider ref recorded, got %#v", updated.Metadata)
	}
	if len(grants) != 1 || grants[0].SKUID != "sku-mug" || grants[0].UserID != "user-1" {
		t.Fatalf("expected ownership grant for sku-mug, got %#v", grants)
	}

	published := events.all()
	if len(published) != 1 || published[0].Metadata["paymentMethod"] != "stripe" {
		t.Fatalf("expected status event with payment method, got %#v", published)
	}
}

func TestOrderServiceMarkPaidRepeatedDeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	events := &captureOrderEvents{}

	orderRepo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			return domain.Order{
				ID:     id,
				UserID: "user-1",
				Status: domain.OrderStatusPaid,
				Items:  []domain.OrderLineItem{{ID: "itm-1", SKUID: "sku-mug", Quantity: 1}},
			}, nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			t.Fatalf("repeated delivery must not rewrite the order, got %#v", order)
			return nil
		},
	}
	// Repeats still walk the grants so a crash between the first commit and
	// the first grant heals on redelivery; the repo makes that a no-op.
	var grants []domain.OwnershipGrant
	ownership := &stubOwnershipRepo{
		grantFn: func(_ context.Context, grant domain.OwnershipGrant) (domain.OwnershipGrant, bool, error) {
			grants = append(grants, grant)
			return grant, false, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orderRepo,
		Ownership: ownership,
		Events:    events,
	})

	order, err := svc.MarkPaid(ctx, MarkPaidCommand{
		OrderID:        "ord-1",
		AllowRepeat:    true,
		SkipOwnerCheck: true,
	})
	if err != nil {
		t.Fatalf("mark paid repeat: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid status got %s", order.Status)
	}
	if len(grants) != 1 || grants[0].SKUID != "sku-mug" {
		t.Fatalf("expected idempotent re-grant for sku-mug, got %#v", grants)
	}
	if published := events.all(); len(published) != 0 {
		t.Fatalf("expected no events on repeated delivery, got %#v", published)
	}

	// Without the repeat flag a second payment attempt is a state error.
	if _, err := svc.MarkPaid(ctx, MarkPaidCommand{OrderID: "ord-1", UserID: "user-1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestOrderServiceMarkPaidLateRedeliveryAfterShipIsNoOp(t *testing.T) {
	ctx := context.Background()
	events := &captureOrderEvents{}

	status := domain.OrderStatusShipped
	orderRepo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			return domain.Order{
				ID:     id,
				UserID: "user-1",
				Status: status,
				Items:  []domain.OrderLineItem{{ID: "itm-1", SKUID: "sku-mug", Quantity: 1}},
			}, nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			t.Fatalf("late redelivery must not rewrite the order, got %#v", order)
			return nil
		},
	}
	ownership := &stubOwnershipRepo{
		grantFn: func(_ context.Context, grant domain.OwnershipGrant) (domain.OwnershipGrant, bool, error) {
			return grant, false, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orderRepo,
		Ownership: ownership,
		Events:    events,
	})

	// The payment event can arrive again after the order already shipped or
	// completed; both stay benign no-ops.
	for _, st := range []domain.OrderStatus{domain.OrderStatusShipped, domain.OrderStatusCompleted} {
		status = st
		order, err := svc.MarkPaid(ctx, MarkPaidCommand{
			OrderID:        "ord-1",
			AllowRepeat:    true,
			SkipOwnerCheck: true,
		})
		if err != nil {
			t.Fatalf("redelivery after %s: %v", st, err)
		}
		if order.Status != st {
			t.Fatalf("expected status %s preserved, got %s", st, order.Status)
		}
	}
	if published := events.all(); len(published) != 0 {
		t.Fatalf("expected no events on late redelivery, got %#v", published)
	}

	// A cancelled order keeps rejecting payment so the stray charge is not
	// silently absorbed.
	status = domain.OrderStatusCancelled
	if _, err := svc.MarkPaid(ctx, MarkPaidCommand{OrderID: "ord-1", AllowRepeat: true, SkipOwnerCheck: true}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState for cancelled order, got %v", err)
	}
}

func TestOrderServiceShip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 3, 15, 0, 0, 0, time.UTC)

	orderRepo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			return domain.Order{ID: id, UserID: "user-1", Status: domain.OrderStatusPaid}, nil
		},
	}
	var updated domain.Order
	orderRepo.updateFn = func(_ context.Context, order domain.Order) error {
		updated = order
		return nil
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: orderRepo,
		Clock:  func() time.Time { return now },
	})

	if _, err := svc.Ship(ctx, ShipOrderCommand{OrderID: "ord-1", Carrier: "UPS"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput without tracking, got %v", err)
	}

	order, err := svc.Ship(ctx, ShipOrderCommand{OrderID: "ord-1", Carrier: "UPS", TrackingNumber: "1Z999"})
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if order.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped status got %s", order.Status)
	}
	if updated.Shipment == nil || updated.Shipment.TrackingNumber != "1Z999" {
		t.Fatalf("expected shipment recorded, got %#v", updated.Shipment)
	}
	if updated.ShippedAt == nil || !updated.ShippedAt.Equal(now) {
		t.Fatalf("expected shippedAt %s, got %v", now, updated.ShippedAt)
	}
}

func TestOrderServiceConfirmDelivery(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 4, 16, 0, 0, 0, time.UTC)

	orderRepo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			return domain.Order{
				ID:     id,
				UserID: "user-1",
				Status: domain.OrderStatusShipped,
				Items:  []domain.OrderLineItem{{ID: "itm-1", SKUID: "sku-mug", Quantity: 1}},
			}, nil
		},
	}
	var updated domain.Order
	orderRepo.updateFn = func(_ context.Context, order domain.Order) error {
		updated = order
		return nil
	}
	var grants []domain.OwnershipGrant
	ownership := &stubOwnershipRepo{
		grantFn: func(_ context.Context, grant domain.OwnershipGrant) (domain.OwnershipGrant, bool, error) {
			grants = append(grants, grant)
			return grant, true, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orderRepo,
		Ownership: ownership,
		Clock:     func() time.Time { return now },
	})

	if _, err := svc.ConfirmDelivery(ctx, ConfirmDeliveryCommand{OrderID: "ord-1", UserID: "user-2"}); !errors.Is(err, ErrOrderUnauthorized) {
		t.Fatalf("expected ErrOrderUnauthorized for other user, got %v", err)
	}

	order, err := svc.ConfirmDelivery(ctx, ConfirmDeliveryCommand{OrderID: "ord-1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("confirm delivery: %v", err)
	}
	if order.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected completed status got %s", order.Status)
	}
	if updated.CompletedAt == nil || !updated.CompletedAt.Equal(now) {
		t.Fatalf("expected completedAt %s, got %v", now, updated.CompletedAt)
	}
	if len(grants) != 1 {
		t.Fatalf("expected ownership grant on completion, got %d", len(grants))
	}
}

func TestOrderServiceGetOrderAuthorization(t *testing.T) {
	ctx := context.Background()
	orderRepo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			return domain.Order{ID: id, UserID: "user-1", Status: domain.OrderStatusPending}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orderRepo})

	if _, err := svc.GetOrder(ctx, GetOrderCommand{OrderID: "ord-1", UserID: "user-2"}); !errors.Is(err, ErrOrderUnauthorized) {
		t.Fatalf("expected ErrOrderUnauthorized, got %v", err)
	}
	if _, err := svc.GetOrder(ctx, GetOrderCommand{OrderID: "ord-1", Admin: true}); err != nil {
		t.Fatalf("admin read should pass, got %v", err)
	}
	if _, err := svc.GetOrder(ctx, GetOrderCommand{OrderID: "ord-1", UserID: "user-1"}); err != nil {
		t.Fatalf("owner read should pass, got %v", err)
	}
}

func TestOrderServiceGetOrderNotFound(t *testing.T) {
	ctx := context.Background()
	orderRepo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, stubRepoError{notFound: true}
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orderRepo})

	if _, err := svc.GetOrder(ctx, GetOrderCommand{OrderID: "ord-missing", Admin: true}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
