package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"erp-core/internal/audit"
	"erp-core/internal/auth"
	inventory "erp-core/internal/inventory/client"
	"erp-core/internal/observability/metrics"
	orderevents "erp-core/internal/orders/application/events"
	orders "erp-core/internal/orders/domain"
	"erp-core/internal/platform/apperr"
	"erp-core/internal/platform/logging"
)

const compensationPrefix = "inventory reservation failed: "

// Inventory is the reservation boundary used by the lifecycle service.
type Inventory interface {
	CheckAvailability(ctx context.Context, lines []inventory.Line) (*inventory.Availability, error)
	Reserve(ctx context.Context, orderID string, lines []inventory.Line) error
	Release(ctx context.Context, orderID string) error
	Complete(ctx context.Context, orderID string) error
}

// ItemInput is one requested order line.
type ItemInput struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// CreateRequest is the input of Create. Totals are always computed from
// the items.
type CreateRequest struct {
	CustomerID         string      `json:"customer_id"`
	Items              []ItemInput `json:"items"`
	ShippingAddress    string      `json:"shipping_address"`
	ShippingCity       string      `json:"shipping_city"`
	ShippingPostalCode string      `json:"shipping_postal_code"`
	ShippingCountry    string      `json:"shipping_country"`
	ShippingMethod     string      `json:"shipping_method"`
	PaymentMethod      string      `json:"payment_method"`
	Notes              string      `json:"notes"`
}

// OrderTotal is the result of Total.
type OrderTotal struct {
	OrderID     string          `json:"order_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ItemsCount  int             `json:"items_count"`
}

// RetryResult reports which side effect RetryReservation re-issued.
type RetryResult struct {
	OrderID string `json:"order_id"`
	Action  string `json:"action"`
}

// Retry actions.
const (
	ActionRelease  = "release"
	ActionComplete = "complete"
	ActionNone     = "none"
)

// LifecycleService creates orders and drives their status transitions
// together with the inventory reservation of each order.
type LifecycleService struct {
	repo      orders.Repository
	inventory Inventory
	auditor   audit.Logger
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewLifecycleService constructs a lifecycle service.
func NewLifecycleService(repo orders.Repository, inv Inventory, auditor audit.Logger, logger *zap.Logger) (*LifecycleService, error) {
	if repo == nil {
		return nil, errors.New("orders service: nil repo")
	}
	if inv == nil {
		return nil, errors.New("orders service: nil inventory client")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleService{
		repo:      repo,
		inventory: inv,
		auditor:   auditor,
		logger:    logger,
		tracer:    otel.Tracer("erp-core/orders"),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Create checks availability, commits the order locally and then reserves
// stock. A reservation failure after the commit cancels the order.
func (s *LifecycleService) Create(ctx context.Context, req CreateRequest) (*orders.Order, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveOrderCreate(result, time.Since(start))
	}()

	ctx, span := s.tracer.Start(ctx, "order.create")
	defer span.End()

	order, lines, err := s.buildOrder(ctx, req)
	if err != nil {
		result = metrics.ResultRejected
		return nil, err
	}

	avail, err := s.inventory.CheckAvailability(ctx, lines)
	if err != nil {
		result = resultFor(err)
		recordSpanError(span, err)
		return nil, err
	}
	if !avail.Available {
		result = metrics.ResultRejected
		span.AddEvent("items_unavailable")
		return nil, apperr.BadRequest("items_unavailable", "some items are not available").
			WithDetail("unavailableItems", avail.UnavailableItems)
	}
	span.AddEvent("availability_checked")

	created := orderevents.OrderCreated{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		TotalAmount: order.TotalAmount,
		Items:       eventItems(order.Items),
		OccurredAt:  order.CreatedAt,
	}
	if err := s.repo.Create(ctx, order, &created); err != nil {
		result = metrics.ResultError
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.number", order.OrderNumber))
	span.AddEvent("persisted")

	if err := s.inventory.Reserve(ctx, order.ID, lines); err != nil {
		result = metrics.ResultError
		recordSpanError(span, err)
		return nil, s.compensate(ctx, order, err)
	}
	span.AddEvent("reserved")

	logging.WithTrace(ctx, s.logger).Info("order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("total_amount", order.TotalAmount.StringFixed(2)),
	)
	return order, nil
}

func (s *LifecycleService) buildOrder(ctx context.Context, req CreateRequest) (*orders.Order, []inventory.Line, error) {
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return nil, nil, badRequest(orders.ErrCustomerRequired, "customer_required")
	}
	if len(req.Items) == 0 {
		return nil, nil, badRequest(orders.ErrNoItems, "items_required")
	}
	if err := orders.ValidateShippingMethod(req.ShippingMethod); err != nil {
		return nil, nil, badRequest(err, "invalid_shipping_method")
	}
	if err := orders.ValidatePaymentMethod(req.PaymentMethod); err != nil {
		return nil, nil, badRequest(err, "invalid_payment_method")
	}

	now := s.now()
	order := &orders.Order{
		ID:                 uuid.NewString(),
		CustomerID:         customerID,
		Status:             orders.StatusNew,
		ShippingAddress:    req.ShippingAddress,
		ShippingCity:       req.ShippingCity,
		ShippingPostalCode: req.ShippingPostalCode,
		ShippingCountry:    req.ShippingCountry,
		ShippingMethod:     req.ShippingMethod,
		PaymentMethod:      req.PaymentMethod,
		Notes:              req.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	lines := make([]inventory.Line, 0, len(req.Items))
	for _, input := range req.Items {
		item, err := orders.NewItem(input.ProductID, input.Quantity, input.Price)
		if err != nil {
			return nil, nil, badRequest(err, "invalid_item")
		}
		item.ID = uuid.NewString()
		item.OrderID = order.ID
		order.Items = append(order.Items, item)
		lines = append(lines, inventory.Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	order.TotalAmount = orders.Total(order.Items)
	order.History = []orders.HistoryEntry{{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		Status:    orders.StatusNew,
		Comment:   "Order created",
		ChangedBy: auth.ActorFromContext(ctx),
		CreatedAt: now,
	}}
	return order, lines, nil
}

// compensate moves a committed order whose reservation failed to
// cancelled, records an audit entry and returns the error to surface.
func (s *LifecycleService) compensate(ctx context.Context, order *orders.Order, cause error) error {
	ctx = context.WithoutCancel(ctx)
	logger := logging.WithTrace(ctx, s.logger).With(zap.String("order_id", order.ID), zap.NamedError("reserve_error", cause))
	ctx, span := s.tracer.Start(ctx, "order.compensate")
	defer span.End()

	reason := cause.Error()
	var appErr *apperr.Error
	if errors.As(cause, &appErr) && appErr.Message != "" {
		reason = appErr.Message
	}
	now := s.now()
	entry := orders.HistoryEntry{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		Status:    orders.StatusCancelled,
		Comment:   compensationPrefix + reason,
		ChangedBy: auth.SubjectSystem,
		CreatedAt: now,
	}
	changed := orderevents.OrderStatusChanged{
		OrderID:    order.ID,
		From:       string(orders.StatusNew),
		To:         string(orders.StatusCancelled),
		Comment:    entry.Comment,
		ChangedBy:  auth.SubjectSystem,
		OccurredAt: now,
	}
	if err := s.repo.ChangeStatus(ctx, order.ID, orders.StatusNew, orders.StatusCancelled, entry, &changed); err != nil {
		recordSpanError(span, err)
		logger.Error("order compensation failed; order left in new status", zap.Error(err))
		return apperr.Unavailable("reservation_failed", errors.Join(cause, err),
			"inventory reservation failed and order %s could not be cancelled", order.ID).
			WithDetail("orderId", order.ID)
	}
	order.Status = orders.StatusCancelled
	order.UpdatedAt = now
	order.History = append(order.History, entry)

	kind := apperr.KindOf(cause)
	metrics.IncSagaCompensation(strings.ToLower(string(kind)))
	s.audit(ctx, audit.System(ctx, "order.compensate", "order", order.ID, map[string]string{
		"reason": reason,
		"kind":   string(kind),
	}))

	// A timed out reserve may still have been applied remotely.
	if err := s.inventory.Release(ctx, order.ID); err != nil {
		logger.Warn("release after failed reservation did not succeed", zap.Error(err))
	}
	logger.Warn("order cancelled after failed reservation")

	if errors.As(cause, &appErr) {
		return appErr.WithDetail("orderId", order.ID).WithDetail("status", string(orders.StatusCancelled))
	}
	return apperr.Unavailable("reservation_failed", cause, "inventory reservation failed").
		WithDetail("orderId", order.ID).
		WithDetail("status", string(orders.StatusCancelled))
}

// ChangeStatus applies a validated transition and then releases or
// completes the reservation when the new status requires it. If that side
// effect cannot be delivered the status stays committed and a
// ServiceUnavailable error tells the caller to retry the reservation.
func (s *LifecycleService) ChangeStatus(ctx context.Context, id, status, comment string) (*orders.Order, error) {
	target, err := orders.ParseStatus(status)
	if err != nil {
		metrics.IncOrderStatusChange(status, metrics.ResultRejected)
		return nil, badRequest(err, "invalid_status")
	}
	ctx, span := s.tracer.Start(ctx, "order.change_status", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.status", string(target)),
	))
	defer span.End()

	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := orders.ValidateTransition(order.Status, target); err != nil {
		metrics.IncOrderStatusChange(string(target), metrics.ResultRejected)
		return nil, apperr.BadRequest("invalid_transition", "cannot change order status from %s to %s", order.Status, target).
			WithDetail("from", string(order.Status)).
			WithDetail("to", string(target)).
			WithDetail("allowed", order.Status.AllowedNext())
	}

	now := s.now()
	actor := auth.ActorFromContext(ctx)
	entry := orders.HistoryEntry{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		Status:    target,
		Comment:   comment,
		ChangedBy: actor,
		CreatedAt: now,
	}
	changed := orderevents.OrderStatusChanged{
		OrderID:    order.ID,
		From:       string(order.Status),
		To:         string(target),
		Comment:    comment,
		ChangedBy:  actor,
		OccurredAt: now,
	}
	if err := s.repo.ChangeStatus(ctx, order.ID, order.Status, target, entry, &changed); err != nil {
		metrics.IncOrderStatusChange(string(target), metrics.ResultError)
		if errors.Is(err, orders.ErrStatusConflict) {
			return nil, apperr.Conflict("status_conflict", "order %s was modified concurrently", order.ID)
		}
		recordSpanError(span, err)
		return nil, err
	}
	order.Status = target
	order.UpdatedAt = now
	order.History = append(order.History, entry)
	metrics.IncOrderStatusChange(string(target), metrics.ResultSuccess)

	if err := s.syncReservation(ctx, order.ID, target); err != nil {
		recordSpanError(span, err)
		return order, err
	}
	return order, nil
}

// syncReservation issues the inventory side effect owed by status.
func (s *LifecycleService) syncReservation(ctx context.Context, orderID string, status orders.Status) error {
	action := actionFor(status)
	if action == ActionNone {
		return nil
	}
	if err := s.runAction(ctx, orderID, action); err != nil {
		logging.WithTrace(ctx, s.logger).Error("inventory side effect not delivered",
			zap.String("order_id", orderID),
			zap.String("status", string(status)),
			zap.String("action", action),
			zap.Error(err),
		)
		s.audit(ctx, audit.System(ctx, "order.reservation_pending", "order", orderID, map[string]string{
			"status": string(status),
			"action": action,
			"error":  err.Error(),
		}))
		return apperr.Unavailable("reservation_sync_pending", err,
			"order status is %s but the inventory %s did not complete; retry the reservation", status, action).
			WithDetail("orderId", orderID).
			WithDetail("status", string(status)).
			WithDetail("action", action)
	}
	return nil
}

func (s *LifecycleService) runAction(ctx context.Context, orderID, action string) error {
	switch action {
	case ActionRelease:
		return s.inventory.Release(ctx, orderID)
	case ActionComplete:
		return s.inventory.Complete(ctx, orderID)
	default:
		return nil
	}
}

// RetryReservation re-issues the side effect owed by the order's current
// status. A deleted order owes a release.
func (s *LifecycleService) RetryReservation(ctx context.Context, id string) (*RetryResult, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	action := ActionRelease
	status := orders.StatusCancelled
	if order != nil {
		status = order.Status
		action = actionFor(status)
	}
	if err := s.syncReservation(ctx, id, status); err != nil {
		return nil, err
	}
	return &RetryResult{OrderID: id, Action: action}, nil
}

// Delete removes a new order and then releases its reservation.
func (s *LifecycleService) Delete(ctx context.Context, id string) error {
	order, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if order.Status != orders.StatusNew {
		return apperr.Conflict("order_not_deletable", "only new orders can be deleted; order %s is %s", order.ID, order.Status)
	}
	deleted := orderevents.OrderDeleted{
		OrderID:    order.ID,
		DeletedBy:  auth.ActorFromContext(ctx),
		OccurredAt: s.now(),
	}
	if err := s.repo.Delete(ctx, order.ID, &deleted); err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			return apperr.NotFound("order_not_found", "order %s not found", order.ID)
		}
		if errors.Is(err, orders.ErrStatusConflict) {
			return apperr.Conflict("order_not_deletable", "order %s is no longer new", order.ID)
		}
		return err
	}
	return s.syncReservation(ctx, order.ID, orders.StatusCancelled)
}

// UpdateRequest changes shipping, payment and notes. Items may not be sent.
type UpdateRequest struct {
	orders.Details
	Items []ItemInput
}

// Update changes order details while the order is new or processing.
func (s *LifecycleService) Update(ctx context.Context, id string, req UpdateRequest) (*orders.Order, error) {
	if req.Items != nil {
		return nil, apperr.BadRequest("items_immutable", "order items cannot be changed after creation")
	}
	if err := req.Details.Validate(); err != nil {
		code := "invalid_shipping_method"
		if errors.Is(err, orders.ErrInvalidPaymentMethod) {
			code = "invalid_payment_method"
		}
		return nil, badRequest(err, code)
	}
	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Status.Editable() {
		return nil, apperr.Conflict("order_not_editable", "order %s is %s and can no longer be updated", order.ID, order.Status)
	}
	if req.Details.Empty() {
		return order, nil
	}
	updated := orderevents.OrderUpdated{
		OrderID:    order.ID,
		UpdatedBy:  auth.ActorFromContext(ctx),
		OccurredAt: s.now(),
	}
	allowed := []orders.Status{orders.StatusNew, orders.StatusProcessing}
	if err := s.repo.UpdateDetails(ctx, order.ID, allowed, req.Details, &updated); err != nil {
		if errors.Is(err, orders.ErrStatusConflict) {
			return nil, apperr.Conflict("order_not_editable", "order %s can no longer be updated", order.ID)
		}
		return nil, err
	}
	return s.load(ctx, id)
}

// Get returns an order with items and history.
func (s *LifecycleService) Get(ctx context.Context, id string) (*orders.Order, error) {
	return s.load(ctx, id)
}

// List returns a page of orders and the total count.
func (s *LifecycleService) List(ctx context.Context, filter orders.Filter) ([]orders.Order, int, error) {
	if filter.SortBy != "" {
		if _, ok := orders.SortColumns[filter.SortBy]; !ok {
			return nil, 0, badRequest(orders.ErrInvalidSort, "invalid_sort")
		}
	}
	return s.repo.List(ctx, filter)
}

// Total returns the stored total of an order.
func (s *LifecycleService) Total(ctx context.Context, id string) (*OrderTotal, error) {
	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &OrderTotal{OrderID: order.ID, TotalAmount: order.TotalAmount, ItemsCount: len(order.Items)}, nil
}

// History returns the status history of an order, oldest first.
func (s *LifecycleService) History(ctx context.Context, id string) ([]orders.HistoryEntry, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

func (s *LifecycleService) load(ctx context.Context, id string) (*orders.Order, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperr.NotFound("order_not_found", "order %s not found", id)
	}
	return order, nil
}

func (s *LifecycleService) audit(ctx context.Context, entry audit.Entry) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Log(ctx, entry); err != nil {
		s.logger.Warn("audit log failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

func actionFor(status orders.Status) string {
	switch status {
	case orders.StatusCancelled:
		return ActionRelease
	case orders.StatusDelivered:
		return ActionComplete
	default:
		return ActionNone
	}
}

func eventItems(items []orders.Item) []orderevents.OrderItem {
	out := make([]orderevents.OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, orderevents.OrderItem{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	return out
}

func badRequest(err error, code string) error {
	return apperr.Wrap(apperr.KindBadRequest, code, err, strings.TrimPrefix(err.Error(), "orders: "))
}

func resultFor(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindServiceUnavailable:
		return metrics.ResultUnavailable
	case apperr.KindBadRequest:
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
