package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"erp-core/internal/auth"
	invevents "erp-core/internal/inventory/application/events"
	inventory "erp-core/internal/inventory/domain"
	"erp-core/internal/observability/metrics"
	"erp-core/internal/platform/apperr"
	"erp-core/internal/platform/logging"
)

// Reservation operations, used as metric labels.
const (
	OpCheck    = "check"
	OpReserve  = "reserve"
	OpRelease  = "release"
	OpComplete = "complete"
)

// Service answers the reservation protocol used by the order service.
type Service struct {
	store  inventory.Store
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewService constructs an inventory service.
func NewService(store inventory.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("inventory service: nil store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("erp-core/inventory"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Availability is the answer to a check.
type Availability struct {
	Available bool
	Shortages []inventory.Shortage
}

// Check reports whether every line can be reserved right now.
func (s *Service) Check(ctx context.Context, lines []inventory.Line) (*Availability, error) {
	normalized, err := inventory.NormalizeLines(lines)
	if err != nil {
		metrics.IncReservation(OpCheck, metrics.ResultRejected)
		return nil, badRequest(err)
	}
	stock, err := s.store.Stock(ctx, productIDs(normalized))
	if err != nil {
		metrics.IncReservation(OpCheck, metrics.ResultError)
		return nil, err
	}
	shortages := inventory.Shortages(normalized, stock)
	metrics.IncReservation(OpCheck, metrics.ResultSuccess)
	return &Availability{Available: len(shortages) == 0, Shortages: shortages}, nil
}

// Reserve holds stock for orderID. A repeated call for the same order
// returns the existing reservation.
func (s *Service) Reserve(ctx context.Context, orderID string, lines []inventory.Line) (*inventory.Reservation, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		metrics.IncReservation(OpReserve, metrics.ResultRejected)
		return nil, badRequest(inventory.ErrOrderRequired)
	}
	normalized, err := inventory.NormalizeLines(lines)
	if err != nil {
		metrics.IncReservation(OpReserve, metrics.ResultRejected)
		return nil, badRequest(err)
	}
	ctx, span := s.tracer.Start(ctx, "inventory.reserve", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	now := s.now()
	reservation := inventory.Reservation{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Status:    inventory.ReservationActive,
		Lines:     normalized,
		CreatedAt: now,
		UpdatedAt: now,
	}
	event := invevents.StockReserved{
		OrderID:       orderID,
		ReservationID: reservation.ID,
		Lines:         reservedLines(normalized),
		OccurredAt:    now,
	}
	outcome, err := s.store.Reserve(ctx, reservation, event)
	if err != nil {
		if errors.Is(err, inventory.ErrReservationClosed) {
			metrics.IncReservation(OpReserve, metrics.ResultRejected)
			return nil, apperr.Conflict("reservation_closed", "reservation for order %s is already settled", orderID)
		}
		metrics.IncReservation(OpReserve, metrics.ResultError)
		span.RecordError(err)
		return nil, err
	}
	if len(outcome.Shortages) > 0 {
		metrics.IncReservation(OpReserve, metrics.ResultRejected)
		return nil, apperr.BadRequest("insufficient_stock", "insufficient stock for order %s", orderID).
			WithDetail("unavailableItems", outcome.Shortages)
	}
	metrics.IncReservation(OpReserve, metrics.ResultSuccess)
	if outcome.Created {
		logging.WithTrace(ctx, s.logger).Info("stock reserved", zap.String("order_id", orderID), zap.Int("lines", len(normalized)))
	}
	return outcome.Reservation, nil
}

// Release returns the order's hold to stock. It reports false when there
// was no active reservation.
func (s *Service) Release(ctx context.Context, orderID string) (bool, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		metrics.IncReservation(OpRelease, metrics.ResultRejected)
		return false, badRequest(inventory.ErrOrderRequired)
	}
	now := s.now()
	released, err := s.store.Release(ctx, orderID, now, invevents.ReservationReleased{OrderID: orderID, OccurredAt: now})
	if err != nil {
		metrics.IncReservation(OpRelease, metrics.ResultError)
		return false, err
	}
	metrics.IncReservation(OpRelease, metrics.ResultSuccess)
	logging.WithTrace(ctx, s.logger).Info("reservation release", zap.String("order_id", orderID), zap.Bool("released", released))
	return released, nil
}

// Complete turns the order's hold into a stock decrement. It reports false
// when there was no active reservation.
func (s *Service) Complete(ctx context.Context, orderID string) (bool, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		metrics.IncReservation(OpComplete, metrics.ResultRejected)
		return false, badRequest(inventory.ErrOrderRequired)
	}
	now := s.now()
	completed, err := s.store.Complete(ctx, orderID, now, invevents.ReservationCompleted{OrderID: orderID, OccurredAt: now})
	if err != nil {
		metrics.IncReservation(OpComplete, metrics.ResultError)
		return false, err
	}
	metrics.IncReservation(OpComplete, metrics.ResultSuccess)
	logging.WithTrace(ctx, s.logger).Info("reservation complete", zap.String("order_id", orderID), zap.Bool("completed", completed))
	return completed, nil
}

// GetStock returns the stock row of productID.
func (s *Service) GetStock(ctx context.Context, productID string) (*inventory.Stock, error) {
	stock, err := s.store.Stock(ctx, []string{productID})
	if err != nil {
		return nil, err
	}
	row, ok := stock[productID]
	if !ok {
		return nil, apperr.NotFound("stock_not_found", "no stock for product %s", productID)
	}
	return &row, nil
}

// SetStock sets the on-hand quantity of productID, creating the row when
// missing. It may not drop below the reserved quantity.
func (s *Service) SetStock(ctx context.Context, productID string, quantity int) (*inventory.Stock, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, badRequest(inventory.ErrInvalidLine)
	}
	if quantity < 0 {
		return nil, badRequest(inventory.ErrNegativeQuantity)
	}
	now := s.now()
	event := invevents.StockAdjusted{
		ProductID:  productID,
		Quantity:   quantity,
		AdjustedBy: auth.ActorFromContext(ctx),
		OccurredAt: now,
	}
	stock, err := s.store.SetQuantity(ctx, productID, quantity, now, event)
	if err != nil {
		if errors.Is(err, inventory.ErrBelowReserved) {
			return nil, apperr.Conflict("quantity_below_reserved", "product %s has %d units reserved", productID, stock.Reserved)
		}
		return nil, err
	}
	return &stock, nil
}

// GetReservation returns the reservation of orderID.
func (s *Service) GetReservation(ctx context.Context, orderID string) (*inventory.Reservation, error) {
	reservation, err := s.store.Reservation(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, apperr.NotFound("reservation_not_found", "no reservation for order %s", orderID)
	}
	return reservation, nil
}

// Movements returns the latest stock movements of productID.
func (s *Service) Movements(ctx context.Context, productID string, limit int) ([]inventory.Movement, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.Movements(ctx, productID, limit)
}

func productIDs(lines []inventory.Line) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, line.ProductID)
	}
	return out
}

func reservedLines(lines []inventory.Line) []invevents.ReservedLine {
	out := make([]invevents.ReservedLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, invevents.ReservedLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return out
}

func badRequest(err error) error {
	code := "invalid_request"
	switch {
	case errors.Is(err, inventory.ErrNoLines), errors.Is(err, inventory.ErrInvalidLine):
		code = "invalid_products"
	case errors.Is(err, inventory.ErrOrderRequired):
		code = "order_id_required"
	case errors.Is(err, inventory.ErrNegativeQuantity):
		code = "invalid_quantity"
	}
	return apperr.Wrap(apperr.KindBadRequest, code, err, strings.TrimPrefix(err.Error(), "inventory: "))
}
