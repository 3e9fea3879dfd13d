package idempotency

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"erp-core/internal/platform/apperr"
	"erp-core/internal/platform/httpx"
)

const (
	// HeaderKey carries the client supplied idempotency key.
	HeaderKey = "X-Idempotency"
	// HeaderReplayed is set on responses served from the store.
	HeaderReplayed = "X-Idempotency-Replayed"

	lockTTL = 30 * time.Second
)

// Store is the persistence used by Middleware.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	Save(ctx context.Context, key string, rec Record, ttl time.Duration) error
}

// Middleware replays responses for mutating requests carrying X-Idempotency.
type Middleware struct {
	store  Store
	ttl    time.Duration
	scope  func(*http.Request) string
	logger *zap.Logger
}

// Option configures Middleware.
type Option func(*Middleware)

// WithScope prefixes keys, typically with the caller's tenant.
func WithScope(fn func(*http.Request) string) Option {
	return func(m *Middleware) { m.scope = fn }
}

// NewMiddleware returns a middleware; a nil store disables replay.
func NewMiddleware(store Store, ttl time.Duration, logger *zap.Logger, opts ...Option) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	m := &Middleware{store: store, ttl: ttl, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wrap applies idempotent replay to next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil || m.store == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(HeaderKey)
		if header == "" || !mutating(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Method + ":" + r.URL.Path + ":" + header
		if m.scope != nil {
			key = m.scope(r) + ":" + key
		}
		ctx := r.Context()

		rec, err := m.store.Get(ctx, key)
		if err != nil {
			m.logger.Warn("idempotency lookup failed", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if rec != nil {
			replay(w, rec)
			return
		}

		locked, err := m.store.Lock(ctx, key, lockTTL)
		if err != nil {
			m.logger.Warn("idempotency lock failed", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !locked {
			httpx.WriteError(w, r, m.logger, apperr.Conflict("request_in_progress", "a request with this idempotency key is in progress"))
			return
		}
		defer func() {
			if err := m.store.Unlock(context.WithoutCancel(ctx), key); err != nil {
				m.logger.Warn("idempotency unlock failed", zap.Error(err))
			}
		}()

		rw := &recorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		if rw.status >= http.StatusInternalServerError {
			return
		}
		saved := Record{Status: rw.status, ContentType: rw.Header().Get("Content-Type"), Body: rw.body.Bytes()}
		if err := m.store.Save(context.WithoutCancel(ctx), key, saved, m.ttl); err != nil {
			m.logger.Warn("idempotency save failed", zap.Error(err))
		}
	})
}

func replay(w http.ResponseWriter, rec *Record) {
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
