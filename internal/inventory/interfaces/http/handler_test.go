package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp-core/internal/audit"
	"erp-core/internal/eventing"
	invapp "erp-core/internal/inventory/application"
	"erp-core/internal/inventory/client"
	"erp-core/internal/inventory/infrastructure/memory"
	"erp-core/internal/platform/apperr"
)

func newServer(t *testing.T, seed map[string]int) *httptest.Server {
	t.Helper()
	store := memory.NewStore(eventing.NewMemoryOutbox())
	store.Seed(seed)
	service, err := invapp.NewService(store, nil)
	require.NoError(t, err)
	handler, err := NewHandler(service, audit.NewMemoryLogger(), nil)
	require.NoError(t, err)
	mux := http.NewServeMux()
	mux.Handle("/inventory/", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, baseURL string) *client.Client {
	t.Helper()
	c, err := client.New(client.Config{BaseURL: baseURL, Timeout: time.Second, RetryInitial: time.Millisecond}, nil)
	require.NoError(t, err)
	return c
}

// The order side's client and this handler must agree on the wire format.
func TestReservationProtocolRoundTrip(t *testing.T) {
	srv := newServer(t, map[string]int{"p-1": 3, "p-2": 1})
	c := newClient(t, srv.URL)
	ctx := context.Background()
	lines := []client.Line{{ProductID: "p-1", Quantity: 2}, {ProductID: "p-2", Quantity: 2}}

	avail, err := c.CheckAvailability(ctx, lines)
	require.NoError(t, err)
	assert.False(t, avail.Available)
	assert.Equal(t, []client.UnavailableItem{{ID: "p-2", Requested: 2, Available: 1}}, avail.UnavailableItems)

	err = c.Reserve(ctx, "o-1", lines)
	require.ErrorIs(t, err, apperr.ErrBadRequest)

	ok := []client.Line{{ProductID: "p-1", Quantity: 2}}
	require.NoError(t, c.Reserve(ctx, "o-1", ok))
	require.NoError(t, c.Reserve(ctx, "o-1", ok))
	require.NoError(t, c.Release(ctx, "o-1"))
	require.NoError(t, c.Release(ctx, "o-1"))
	require.NoError(t, c.Complete(ctx, "o-1"))

	require.NoError(t, c.Reserve(ctx, "o-2", ok))
	require.NoError(t, c.Complete(ctx, "o-2"))

	resp, err := http.Get(srv.URL + "/inventory/stock/p-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStockAdministration(t *testing.T) {
	srv := newServer(t, map[string]int{"p-1": 3})
	h := srv.Config.Handler

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/inventory/stock/p-9", strings.NewReader(`{"quantity":7}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stock map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stock))
	assert.Equal(t, "p-9", stock["product_id"])
	assert.Equal(t, 7.0, stock["quantity"])
	assert.Equal(t, 7.0, stock["available"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inventory/reserve", strings.NewReader(`{"order_id":"o-1","products":[{"id":"p-9","quantity":5}]}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/inventory/stock/p-9", strings.NewReader(`{"quantity":4}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inventory/reservations/o-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"active"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inventory/stock/p-9/movements", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"RESERVATION"`)
	assert.Contains(t, rec.Body.String(), `"type":"ADJUSTMENT"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inventory/release-reservation", strings.NewReader(`{"order_id":"missing"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"order_id":"missing","released":false}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inventory/reserve", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inventory/reservations/none", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
