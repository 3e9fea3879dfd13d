package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp-core/internal/platform/apperr"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := Config{
		BaseURL:      srv.URL,
		Token:        "svc-token",
		Timeout:      200 * time.Millisecond,
		RetryMax:     2,
		RetryInitial: time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg, nil)
	require.NoError(t, err)
	return c
}

func TestCheckAvailability(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/inventory/check-availability", r.URL.Path)
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		var body struct {
			Products []Line `json:"products"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Products, 2)
		_ = json.NewEncoder(w).Encode(Availability{
			Available:        false,
			UnavailableItems: []UnavailableItem{{ID: body.Products[1].ProductID, Requested: 5, Available: 1}},
		})
	}, nil)

	avail, err := c.CheckAvailability(context.Background(), []Line{{ProductID: "p-1", Quantity: 1}, {ProductID: "p-2", Quantity: 5}})
	require.NoError(t, err)
	assert.False(t, avail.Available)
	require.Len(t, avail.UnavailableItems, 1)
	assert.Equal(t, "p-2", avail.UnavailableItems[0].ID)
}

func TestReserveRejectionIsBadRequest(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":400,"message":"insufficient stock","code":"insufficient_stock","errors":{"unavailableItems":[{"id":"p-1","requested":3,"available":0}]}}`))
	}, nil)

	err := c.Reserve(context.Background(), "o-1", []Line{{ProductID: "p-1", Quantity: 3}})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "insufficient_stock", appErr.Code)
	assert.NotNil(t, appErr.Details["unavailableItems"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "business rejections are not retried")
}

func TestTimeoutIsServiceUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}, func(cfg *Config) {
		cfg.Timeout = 20 * time.Millisecond
		cfg.RetryMax = 1
	})

	err := c.Reserve(context.Background(), "o-1", []Line{{ProductID: "p-1", Quantity: 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrServiceUnavailable)
}

func TestConnectionRefusedIsServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url, Timeout: 50 * time.Millisecond, RetryInitial: time.Millisecond}, nil)
	require.NoError(t, err)
	_, err = c.CheckAvailability(context.Background(), []Line{{ProductID: "p-1", Quantity: 1}})
	assert.ErrorIs(t, err, apperr.ErrServiceUnavailable)
}

func TestTransientFailureIsRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"released":true}`))
	}, nil)

	require.NoError(t, c.Release(context.Background(), "o-1"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestReleaseAndCompleteTolerateMissingReservation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":404,"message":"reservation not found"}`))
	}, nil)

	assert.NoError(t, c.Release(context.Background(), "o-1"))
	assert.NoError(t, c.Complete(context.Background(), "o-1"))
	assert.ErrorIs(t, c.Reserve(context.Background(), "o-1", nil), apperr.ErrServiceUnavailable)
}

func TestCircuitBreakerOpens(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}, func(cfg *Config) {
		cfg.RetryMax = 0
		cfg.BreakerFailures = 2
		cfg.BreakerOpenFor = time.Minute
	})

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, c.Complete(context.Background(), "o-1"), apperr.ErrServiceUnavailable)
	}
	err := c.Complete(context.Background(), "o-1")
	assert.ErrorIs(t, err, apperr.ErrServiceUnavailable)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "inventory_circuit_open", appErr.Code)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}
