package integration_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp-core/internal/eventing"
	eventingpg "erp-core/internal/eventing/infrastructure/postgres"
	invapp "erp-core/internal/inventory/application"
	inventory "erp-core/internal/inventory/domain"
	invpg "erp-core/internal/inventory/infrastructure/postgres"
	"erp-core/internal/platform/apperr"
	"erp-core/internal/platform/database/dbtest"
)

func newService(t *testing.T) *invapp.Service {
	t.Helper()
	db := dbtest.Open(t, "inventory",
		"inventory_reservation_lines", "inventory_reservations", "inventory_transactions", "inventory_stock", "event_outbox")
	publisher := eventing.NewPublisher(eventingpg.NewOutboxStore(db.Primary), "tenant-it")
	service, err := invapp.NewService(invpg.NewStore(db.Primary, publisher), nil)
	require.NoError(t, err)
	return service
}

func TestPostgresReserveIsIdempotentAndNeverOversells(t *testing.T) {
	service := newService(t)
	ctx := context.Background()
	_, err := service.SetStock(ctx, "sku-1", 5)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := service.Reserve(ctx, fmt.Sprintf("order-%d", n), []inventory.Line{{ProductID: "sku-1", Quantity: 1}})
			if err == nil {
				accepted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(5), accepted.Load())

	stock, err := service.GetStock(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 5, stock.Reserved)
	assert.Zero(t, stock.Available())

	// Replaying a reservation that is already held changes nothing.
	var held string
	for i := 0; i < 8; i++ {
		if r, err := service.GetReservation(ctx, fmt.Sprintf("order-%d", i)); err == nil && r != nil {
			held = r.OrderID
			break
		}
	}
	require.NotEmpty(t, held)
	_, err = service.Reserve(ctx, held, []inventory.Line{{ProductID: "sku-1", Quantity: 1}})
	require.NoError(t, err)
	stock, err = service.GetStock(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 5, stock.Reserved)

	completed, err := service.Complete(ctx, held)
	require.NoError(t, err)
	assert.True(t, completed)
	completed, err = service.Complete(ctx, held)
	require.NoError(t, err)
	assert.False(t, completed)

	released, err := service.Release(ctx, held)
	require.NoError(t, err)
	assert.False(t, released)

	stock, err = service.GetStock(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 4, stock.Quantity)
	assert.Equal(t, 4, stock.Reserved)
}

func TestPostgresReleaseBeforeReserveRefusesLateReserve(t *testing.T) {
	service := newService(t)
	ctx := context.Background()
	_, err := service.SetStock(ctx, "sku-1", 5)
	require.NoError(t, err)
	lines := []inventory.Line{{ProductID: "sku-1", Quantity: 2}}

	released, err := service.Release(ctx, "order-late")
	require.NoError(t, err)
	assert.False(t, released)
	released, err = service.Release(ctx, "order-late")
	require.NoError(t, err)
	assert.False(t, released)

	_, err = service.Reserve(ctx, "order-late", lines)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	stock, err := service.GetStock(ctx, "sku-1")
	require.NoError(t, err)
	assert.Zero(t, stock.Reserved)

	reservation, err := service.GetReservation(ctx, "order-late")
	require.NoError(t, err)
	require.NotNil(t, reservation)
	assert.Equal(t, inventory.ReservationReleased, reservation.Status)
	assert.Empty(t, reservation.Lines)
}
