package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewRedisStore(client)
	require.NoError(t, err)
	return store, mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	rec, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, store.Save(ctx, "k1", Record{Status: 201, Body: []byte(`{"id":"o-1"}`)}, time.Minute))
	rec, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 201, rec.Status)

	mr.FastForward(2 * time.Minute)
	rec, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRedisStoreLock(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	ok, err := store.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Unlock(ctx, "k"))
	ok, err = store.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMiddlewareReplaysResponse(t *testing.T) {
	store, _ := newStore(t)
	var calls int32
	handler := NewMiddleware(store, time.Hour, nil).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"o-1"}`))
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`))
		req.Header.Set(HeaderKey, "abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.JSONEq(t, `{"id":"o-1"}`, rec.Body.String())
		if i == 1 {
			assert.Equal(t, "true", rec.Header().Get(HeaderReplayed))
		}
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestMiddlewareSkipsServerErrorsAndReads(t *testing.T) {
	store, _ := newStore(t)
	var calls int32
	handler := NewMiddleware(store, time.Hour, nil).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/orders", nil)
		req.Header.Set(HeaderKey, "retry-me")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		get := httptest.NewRequest(http.MethodGet, "/orders", nil)
		get.Header.Set(HeaderKey, "ignored")
		handler.ServeHTTP(httptest.NewRecorder(), get)
	}
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestMiddlewareScopesKeys(t *testing.T) {
	store, _ := newStore(t)
	var calls int32
	mw := NewMiddleware(store, time.Hour, nil, WithScope(func(r *http.Request) string {
		return r.Header.Get("X-Tenant")
	}))
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusCreated)
	}))

	for _, tenant := range []string{"t1", "t2"} {
		req := httptest.NewRequest(http.MethodPost, "/transactions", nil)
		req.Header.Set(HeaderKey, "same")
		req.Header.Set("X-Tenant", tenant)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
