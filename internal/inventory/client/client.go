// Package client calls the inventory service's reservation API on behalf of
// the order service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"erp-core/internal/observability/metrics"
	"erp-core/internal/platform/apperr"
)

const (
	opCheck    = "check_availability"
	opReserve  = "reserve"
	opRelease  = "release"
	opComplete = "complete"
)

// Line is a product and quantity sent to the inventory service.
type Line struct {
	ProductID string `json:"id"`
	Quantity  int    `json:"quantity"`
}

// UnavailableItem describes a line that cannot be served.
type UnavailableItem struct {
	ID        string `json:"id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// Availability is the result of CheckAvailability.
type Availability struct {
	Available        bool              `json:"available"`
	UnavailableItems []UnavailableItem `json:"unavailableItems"`
}

// Config configures Client.
type Config struct {
	BaseURL          string
	Token            string
	Timeout          time.Duration
	RetryMax         int
	RetryInitial     time.Duration
	BreakerFailures  uint32
	BreakerOpenFor   time.Duration
	BreakerHalfOpens uint32
	HTTPClient       *http.Client
}

// Client is the InventoryReservationClient. Every call carries a bounded
// per-attempt timeout, passes through a circuit breaker and retries
// transient failures with exponential backoff.
type Client struct {
	baseURL      string
	token        string
	timeout      time.Duration
	retryMax     int
	retryInitial time.Duration
	http         *http.Client
	breaker      *gobreaker.CircuitBreaker
	tracer       trace.Tracer
	logger       *zap.Logger
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("inventory client: empty base url")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 200 * time.Millisecond
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 30 * time.Second
	}
	if cfg.BreakerHalfOpens == 0 {
		cfg.BreakerHalfOpens = 1
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		timeout:      cfg.Timeout,
		retryMax:     cfg.RetryMax,
		retryInitial: cfg.RetryInitial,
		http:         httpClient,
		tracer:       otel.Tracer("erp-core/inventory-client"),
		logger:       logger,
	}
	failures := cfg.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "inventory",
		MaxRequests: cfg.BreakerHalfOpens,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !transient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("inventory circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c, nil
}

// CheckAvailability asks whether every line can be reserved.
func (c *Client) CheckAvailability(ctx context.Context, lines []Line) (*Availability, error) {
	var out Availability
	err := c.call(ctx, opCheck, "", "/inventory/check-availability", map[string]any{"products": lines}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Reserve places a hold for orderID. Reserving the same order twice is a
// no-op on the inventory side.
func (c *Client) Reserve(ctx context.Context, orderID string, lines []Line) error {
	body := map[string]any{"order_id": orderID, "products": lines}
	return c.call(ctx, opReserve, orderID, "/inventory/reserve", body, nil)
}

// Release drops the hold for orderID. A missing or already settled
// reservation counts as success.
func (c *Client) Release(ctx context.Context, orderID string) error {
	return c.call(ctx, opRelease, orderID, "/inventory/release-reservation", map[string]any{"order_id": orderID}, nil)
}

// Complete converts the hold for orderID into a stock decrement. A missing
// or already settled reservation counts as success.
func (c *Client) Complete(ctx context.Context, orderID string) error {
	return c.call(ctx, opComplete, orderID, "/inventory/complete-order", map[string]any{"order_id": orderID}, nil)
}

func (c *Client) call(ctx context.Context, op, orderID, path string, body, out any) error {
	start := time.Now()
	result := metrics.ResultSuccess
	ctx, span := c.tracer.Start(ctx, "inventory."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)
	defer func() {
		metrics.ObserveInventoryCall(op, result, time.Since(start))
		span.End()
	}()

	var b backoff.BackOff = backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.retryInitial),
		backoff.WithMaxElapsedTime(0),
	)
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retryMax)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, classify(op, c.doJSON(ctx, path, body, out))
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = apperr.Unavailable("inventory_circuit_open", errCircuitOpen, "inventory service is temporarily unavailable")
		}
		if err == nil {
			return nil
		}
		if !transient(err) || errors.Is(err, errCircuitOpen) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("inventory call failed",
			zap.String("op", op),
			zap.String("order_id", orderID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}, b)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !isAppErr(err) {
		err = apperr.Unavailable("inventory_unavailable", ctxErr, "inventory service did not answer in time")
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if transient(err) {
		result = metrics.ResultUnavailable
	} else {
		result = metrics.ResultRejected
	}
	return err
}

var errCircuitOpen = errors.New("inventory circuit open")

// classify maps transport and HTTP failures onto apperr kinds: business
// rejections become BadRequest, everything else ServiceUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.toAppErr(op)
	}
	if isAppErr(err) {
		return err
	}
	return apperr.Unavailable("inventory_unavailable", err, "inventory service is unavailable")
}

func (c *Client) doJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "inventory_encode", err, "encode inventory request")
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "inventory_request", err, "build inventory request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(attemptCtx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return &httpStatusError{status: resp.StatusCode, body: raw}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Unavailable("inventory_bad_response", err, "inventory service returned an unreadable response")
	}
	return nil
}

type httpStatusError struct {
	status int
	body   []byte
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("inventory: http %d", e.status)
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Errors  struct {
		UnavailableItems []UnavailableItem `json:"unavailableItems"`
	} `json:"errors"`
}

func (e *httpStatusError) toAppErr(op string) error {
	var body errorBody
	_ = json.Unmarshal(e.body, &body)
	message := body.Message
	if message == "" {
		message = http.StatusText(e.status)
	}

	switch {
	case e.status == http.StatusNotFound && (op == opRelease || op == opComplete):
		return nil
	case e.status == http.StatusBadRequest || e.status == http.StatusConflict || e.status == http.StatusUnprocessableEntity:
		code := body.Code
		if code == "" {
			code = "inventory_rejected"
		}
		appErr := apperr.BadRequest(code, "inventory rejected request: %s", message)
		if len(body.Errors.UnavailableItems) > 0 {
			appErr = appErr.WithDetail("unavailableItems", body.Errors.UnavailableItems)
		}
		return appErr
	default:
		return apperr.Unavailable("inventory_unavailable", e, "inventory service error: %s", message)
	}
}

func transient(err error) bool {
	return apperr.KindOf(err) == apperr.KindServiceUnavailable
}

func isAppErr(err error) bool {
	var appErr *apperr.Error
	return errors.As(err, &appErr)
}
