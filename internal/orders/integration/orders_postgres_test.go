package integration_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp-core/internal/eventing"
	eventingpg "erp-core/internal/eventing/infrastructure/postgres"
	"erp-core/internal/orders/application/events"
	orders "erp-core/internal/orders/domain"
	orderspg "erp-core/internal/orders/infrastructure/postgres"
	"erp-core/internal/platform/database"
	"erp-core/internal/platform/database/dbtest"
)

func newRepository(t *testing.T) (*orderspg.OrderRepository, *database.Handle) {
	t.Helper()
	db := dbtest.Open(t, "orders", "order_status_history", "order_items", "orders", "event_outbox")
	publisher := eventing.NewPublisher(eventingpg.NewOutboxStore(db.Primary), "tenant-it")
	return orderspg.NewOrderRepository(db.Primary, db.Reader, publisher), db
}

func newOrder(t *testing.T, customerID string, createdAt time.Time, prices ...string) *orders.Order {
	t.Helper()
	order := &orders.Order{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Status:     orders.StatusNew,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	for i, price := range prices {
		item, err := orders.NewItem("sku-"+string(rune('a'+i)), i+1, decimal.RequireFromString(price))
		require.NoError(t, err)
		item.ID = uuid.NewString()
		item.OrderID = order.ID
		order.Items = append(order.Items, item)
	}
	order.TotalAmount = orders.Total(order.Items)
	order.History = []orders.HistoryEntry{{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		Status:    orders.StatusNew,
		ChangedBy: "clerk-1",
		CreatedAt: createdAt,
	}}
	return order
}

func createdEvent(order *orders.Order) *events.OrderCreated {
	return &events.OrderCreated{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		TotalAmount: order.TotalAmount,
		OccurredAt:  order.CreatedAt,
	}
}

func countRows(t *testing.T, db *database.Handle, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.Primary.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

func historyEntry(orderID string, status orders.Status, at time.Time) orders.HistoryEntry {
	return orders.HistoryEntry{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Status:    status,
		ChangedBy: "clerk-1",
		CreatedAt: at,
	}
}

func TestPostgresCreateIsAtomic(t *testing.T) {
	repo, db := newRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	order := newOrder(t, "cust-1", now, "50.00", "30.00")
	event := createdEvent(order)
	require.NoError(t, repo.Create(ctx, order, event))
	assert.Equal(t, orders.FormatOrderNumber(now, 1), order.OrderNumber)
	assert.Equal(t, order.OrderNumber, event.OrderNumber)

	stored, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, decimal.RequireFromString("110.00").Equal(stored.TotalAmount))
	assert.Len(t, stored.Items, 2)
	require.Len(t, stored.History, 1)
	assert.Equal(t, orders.StatusNew, stored.History[0].Status)
	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM event_outbox WHERE aggregate_id = $1`, order.ID))

	// The second item violates the quantity check after the order row and
	// the first item were written; nothing of the order may remain.
	broken := newOrder(t, "cust-1", now, "10.00", "20.00")
	broken.Items[1].Quantity = 0
	require.Error(t, repo.Create(ctx, broken, createdEvent(broken)))

	missing, err := repo.Get(ctx, broken.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM order_items WHERE order_id = $1`, broken.ID))
	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM order_status_history WHERE order_id = $1`, broken.ID))
	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM event_outbox WHERE aggregate_id = $1`, broken.ID))

	next := newOrder(t, "cust-2", now, "5.00")
	require.NoError(t, repo.Create(ctx, next, createdEvent(next)))
	assert.Equal(t, orders.FormatOrderNumber(now, 2), next.OrderNumber)
}

func TestPostgresConcurrentStatusChangeHasOneWinner(t *testing.T) {
	repo, _ := newRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	order := newOrder(t, "cust-1", now, "20.00")
	require.NoError(t, repo.Create(ctx, order))

	targets := []orders.Status{orders.StatusProcessing, orders.StatusCancelled}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target orders.Status) {
			defer wg.Done()
			errs[i] = repo.ChangeStatus(ctx, order.ID, orders.StatusNew, target, historyEntry(order.ID, target, now.Add(time.Second)))
		}(i, target)
	}
	wg.Wait()

	var (
		winner    orders.Status
		conflicts int
	)
	for i, err := range errs {
		if err == nil {
			winner = targets[i]
			continue
		}
		assert.ErrorIs(t, err, orders.ErrStatusConflict)
		conflicts++
	}
	require.Equal(t, 1, conflicts)

	stored, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, winner, stored.Status)
	require.Len(t, stored.History, 2)
	assert.Equal(t, winner, stored.History[1].Status)
}

func TestPostgresDeleteOnlyFromNew(t *testing.T) {
	repo, db := newRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	processing := newOrder(t, "cust-1", now, "20.00")
	require.NoError(t, repo.Create(ctx, processing))
	require.NoError(t, repo.ChangeStatus(ctx, processing.ID, orders.StatusNew, orders.StatusProcessing,
		historyEntry(processing.ID, orders.StatusProcessing, now.Add(time.Second))))

	assert.ErrorIs(t, repo.Delete(ctx, processing.ID), orders.ErrStatusConflict)
	kept, err := repo.Get(ctx, processing.ID)
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Len(t, kept.Items, 1)

	fresh := newOrder(t, "cust-1", now, "20.00", "5.00")
	require.NoError(t, repo.Create(ctx, fresh))
	require.NoError(t, repo.Delete(ctx, fresh.ID, events.OrderDeleted{OrderID: fresh.ID, OccurredAt: now}))
	gone, err := repo.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM order_items WHERE order_id = $1`, fresh.ID))

	assert.ErrorIs(t, repo.Delete(ctx, "missing"), orders.ErrOrderNotFound)
}

func TestPostgresListFiltersAndSorts(t *testing.T) {
	repo, _ := newRepository(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	cheap := newOrder(t, "cust-1", day, "10.00")
	pricey := newOrder(t, "cust-1", day.Add(time.Hour), "90.00")
	other := newOrder(t, "cust-2", day.Add(2*time.Hour), "40.00")
	for _, order := range []*orders.Order{cheap, pricey, other} {
		require.NoError(t, repo.Create(ctx, order))
	}
	require.NoError(t, repo.ChangeStatus(ctx, pricey.ID, orders.StatusNew, orders.StatusProcessing,
		historyEntry(pricey.ID, orders.StatusProcessing, day.Add(3*time.Hour))))

	list, total, err := repo.List(ctx, orders.Filter{CustomerID: "cust-1", SortBy: "total_amount", SortOrder: "asc", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 2)
	assert.Equal(t, cheap.ID, list[0].ID)
	assert.Equal(t, pricey.ID, list[1].ID)
	assert.Empty(t, list[0].Items)

	list, total, err = repo.List(ctx, orders.Filter{Status: orders.StatusProcessing, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, pricey.ID, list[0].ID)

	list, total, err = repo.List(ctx, orders.Filter{From: day.Add(30 * time.Minute), To: day.Add(90 * time.Minute), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, pricey.ID, list[0].ID)

	list, total, err = repo.List(ctx, orders.Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, list, 1)
	assert.Equal(t, pricey.ID, list[0].ID)
}
