package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp-core/internal/audit"
	"erp-core/internal/eventing"
	inventory "erp-core/internal/inventory/client"
	orders "erp-core/internal/orders/domain"
	"erp-core/internal/orders/infrastructure/memory"
	"erp-core/internal/platform/apperr"
)

type fakeInventory struct {
	mu          sync.Mutex
	short       []inventory.UnavailableItem
	checkErr    error
	reserveErr  error
	releaseErr  error
	completeErr error
	reserved    map[string][]inventory.Line
	releases    []string
	completes   []string
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{reserved: make(map[string][]inventory.Line)}
}

func (f *fakeInventory) CheckAvailability(_ context.Context, _ []inventory.Line) (*inventory.Availability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return &inventory.Availability{Available: len(f.short) == 0, UnavailableItems: f.short}, nil
}

func (f *fakeInventory) Reserve(_ context.Context, orderID string, lines []inventory.Line) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return f.reserveErr
	}
	f.reserved[orderID] = lines
	return nil
}

func (f *fakeInventory) Release(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.releases = append(f.releases, orderID)
	delete(f.reserved, orderID)
	return nil
}

func (f *fakeInventory) Complete(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completes = append(f.completes, orderID)
	delete(f.reserved, orderID)
	return nil
}

func (f *fakeInventory) setReleaseErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseErr = err
}

type fixture struct {
	service *LifecycleService
	repo    *memory.OrderRepository
	inv     *fakeInventory
	outbox  *eventing.MemoryOutbox
	audit   *audit.MemoryLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	outbox := eventing.NewMemoryOutbox()
	repo := memory.NewOrderRepository(outbox)
	inv := newFakeInventory()
	auditLog := audit.NewMemoryLogger()
	service, err := NewLifecycleService(repo, inv, auditLog, nil)
	require.NoError(t, err)
	return &fixture{service: service, repo: repo, inv: inv, outbox: outbox, audit: auditLog}
}

func sampleRequest() CreateRequest {
	return CreateRequest{
		CustomerID: "c-1",
		Items: []ItemInput{
			{ProductID: "p-1", Quantity: 2, Price: decimal.RequireFromString("50.00")},
			{ProductID: "p-2", Quantity: 1, Price: decimal.RequireFromString("30.00")},
		},
		ShippingMethod: orders.ShippingNovaPoshta,
		PaymentMethod:  orders.PaymentCard,
	}
}

func TestCreateComputesTotalAndReserves(t *testing.T) {
	f := newFixture(t)

	order, err := f.service.Create(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("130.00").Equal(order.TotalAmount))
	assert.Equal(t, orders.StatusNew, order.Status)
	assert.Regexp(t, `^\d{2}-\d{2}-\d{2}-0001$`, order.OrderNumber)
	require.Len(t, order.History, 1)
	assert.Equal(t, orders.StatusNew, order.History[0].Status)
	assert.Len(t, f.inv.reserved[order.ID], 2)
	assert.Equal(t, []string{"order.created"}, f.outbox.EventTypes())
}

func TestCreateRejectsUnavailableItemsWithoutPersisting(t *testing.T) {
	f := newFixture(t)
	f.inv.short = []inventory.UnavailableItem{{ID: "p-1", Requested: 2, Available: 1}}

	_, err := f.service.Create(context.Background(), sampleRequest())

	require.ErrorIs(t, err, apperr.ErrBadRequest)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "items_unavailable", appErr.Code)
	assert.Contains(t, appErr.Details, "unavailableItems")
	assert.Zero(t, f.repo.Count())
	assert.Empty(t, f.inv.reserved)
	assert.Empty(t, f.outbox.EventTypes())
}

func TestCreateAvailabilityOutagePersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.inv.checkErr = apperr.Unavailable("inventory_unavailable", errors.New("timeout"), "inventory service unavailable")

	_, err := f.service.Create(context.Background(), sampleRequest())

	require.ErrorIs(t, err, apperr.ErrServiceUnavailable)
	assert.Zero(t, f.repo.Count())
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]func(*CreateRequest){
		"no items":         func(r *CreateRequest) { r.Items = nil },
		"no customer":      func(r *CreateRequest) { r.CustomerID = " " },
		"zero quantity":    func(r *CreateRequest) { r.Items[0].Quantity = 0 },
		"negative price":   func(r *CreateRequest) { r.Items[0].Price = decimal.NewFromInt(-1) },
		"unknown shipping": func(r *CreateRequest) { r.ShippingMethod = "pigeon" },
		"unknown payment":  func(r *CreateRequest) { r.PaymentMethod = "barter" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := sampleRequest()
			mutate(&req)
			_, err := f.service.Create(context.Background(), req)
			assert.ErrorIs(t, err, apperr.ErrBadRequest)
		})
	}
	assert.Zero(t, f.repo.Count())
}

func TestCreateCompensatesFailedReservation(t *testing.T) {
	f := newFixture(t)
	f.inv.reserveErr = apperr.BadRequest("insufficient_stock", "insufficient stock for product p-1")

	_, err := f.service.Create(context.Background(), sampleRequest())

	require.ErrorIs(t, err, apperr.ErrBadRequest)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	orderID, _ := appErr.Details["orderId"].(string)
	require.NotEmpty(t, orderID)
	assert.Equal(t, string(orders.StatusCancelled), appErr.Details["status"])

	stored, err := f.service.Get(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, stored.Status)
	require.Len(t, stored.History, 2)
	last := stored.History[1]
	assert.Equal(t, "inventory reservation failed: insufficient stock for product p-1", last.Comment)
	assert.Equal(t, "system", last.ChangedBy)
	assert.Equal(t, []string{orderID}, f.inv.releases)

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "order.compensate", entries[0].Action)
	assert.Equal(t, []string{"order.created", "order.status_changed"}, f.outbox.EventTypes())
}

func TestCancelFromNewReleasesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.service.Create(ctx, sampleRequest())
	require.NoError(t, err)

	cancelled, err := f.service.ChangeStatus(ctx, order.ID, "cancelled", "customer request")
	require.NoError(t, err)

	assert.Equal(t, orders.StatusCancelled, cancelled.Status)
	require.Len(t, cancelled.History, 2)
	assert.Equal(t, orders.StatusCancelled, cancelled.History[1].Status)
	assert.Equal(t, "customer request", cancelled.History[1].Comment)
	assert.Equal(t, []string{order.ID}, f.inv.releases)
	assert.Empty(t, f.inv.completes)
}

func TestDeliveredCompletesReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.service.Create(ctx, sampleRequest())
	require.NoError(t, err)

	for _, status := range []string{"processing", "shipped", "delivered"} {
		_, err := f.service.ChangeStatus(ctx, order.ID, status, "")
		require.NoError(t, err, status)
	}
	assert.Equal(t, []string{order.ID}, f.inv.completes)
	assert.Empty(t, f.inv.releases)

	history, err := f.service.History(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestChangeStatusRejectsInvalidTransitionWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.service.Create(ctx, sampleRequest())
	require.NoError(t, err)

	for _, target := range []string{"shipped", "delivered", "returned", "new"} {
		_, err := f.service.ChangeStatus(ctx, order.ID, target, "")
		assert.ErrorIs(t, err, apperr.ErrBadRequest, target)
	}
	_, err = f.service.ChangeStatus(ctx, order.ID, "lost", "")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	stored, err := f.service.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusNew, stored.Status)
	assert.Len(t, stored.History, 1)
	assert.Empty(t, f.inv.releases)
}

func TestChangeStatusNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.ChangeStatus(context.Background(), "missing", "processing", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestChangeStatusReportsPendingReleaseAndRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.service.Create(ctx, sampleRequest())
	require.NoError(t, err)
	f.inv.setReleaseErr(apperr.Unavailable("inventory_unavailable", errors.New("timeout"), "inventory service unavailable"))

	changed, err := f.service.ChangeStatus(ctx, order.ID, "cancelled", "")

	require.ErrorIs(t, err, apperr.ErrServiceUnavailable)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "reservation_sync_pending", appErr.Code)
	require.NotNil(t, changed)
	assert.Equal(t, orders.StatusCancelled, changed.Status)

	f.inv.setReleaseErr(nil)
	result, err := f.service.RetryReservation(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionRelease, result.Action)
	assert.Equal(t, []string{order.ID}, f.inv.releases)
}

func TestRetryReservationIsNoopForActiveOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.service.Create(ctx, sampleRequest())
	require.NoError(t, err)

	result, err := f.service.RetryReservation(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, result.Action)
	assert.Empty(t, f.inv.releases)
}

func TestDeleteOnlyFromNew(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.service.Create(ctx, sampleRequest())
	require.NoError(t, err)
	second, err := f.service.Create(ctx, sampleRequest())
	require.NoError(t, err)
	_, err = f.service.ChangeStatus(ctx, second.ID, "processing", "")
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(ctx, first.ID))
	assert.Equal(t, []string{first.ID}, f.inv.releases)
	_, err = f.service.Get(ctx, first.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	err = f.service.Delete(ctx, second.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, 1, f.repo.Count())
}

func TestUpdateDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.service.Create(ctx, sampleRequest())
	require.NoError(t, err)

	city := "Lviv"
	updated, err := f.service.Update(ctx, order.ID, UpdateRequest{Details: orders.Details{ShippingCity: &city}})
	require.NoError(t, err)
	assert.Equal(t, "Lviv", updated.ShippingCity)
	assert.True(t, order.TotalAmount.Equal(updated.TotalAmount))

	_, err = f.service.Update(ctx, order.ID, UpdateRequest{Items: []ItemInput{{ProductID: "p-9", Quantity: 1}}})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	bad := "pigeon"
	_, err = f.service.Update(ctx, order.ID, UpdateRequest{Details: orders.Details{ShippingMethod: &bad}})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	for _, status := range []string{"processing", "shipped"} {
		_, err = f.service.ChangeStatus(ctx, order.ID, status, "")
		require.NoError(t, err)
	}
	_, err = f.service.Update(ctx, order.ID, UpdateRequest{Details: orders.Details{ShippingCity: &city}})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestTotal(t *testing.T) {
	f := newFixture(t)
	order, err := f.service.Create(context.Background(), sampleRequest())
	require.NoError(t, err)

	total, err := f.service.Total(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, total.OrderID)
	assert.Equal(t, "130.00", total.TotalAmount.StringFixed(2))
	assert.Equal(t, 2, total.ItemsCount)
}

func TestListRejectsUnknownSort(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.service.List(context.Background(), orders.Filter{SortBy: "customer_name"})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
}
