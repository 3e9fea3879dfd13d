// Package inventory holds stock levels and per-order reservations.
package inventory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidLine       = errors.New("inventory: invalid line")
	ErrNoLines           = errors.New("inventory: at least one product is required")
	ErrOrderRequired     = errors.New("inventory: order id required")
	ErrStockNotFound     = errors.New("inventory: stock not found")
	ErrBelowReserved     = errors.New("inventory: quantity below reserved")
	ErrNegativeQuantity  = errors.New("inventory: quantity must not be negative")
	ErrReservationClosed = errors.New("inventory: reservation already settled")
)

// Stock is the on-hand and reserved quantity of one product.
type Stock struct {
	ProductID string
	Quantity  int
	Reserved  int
	UpdatedAt time.Time
}

// Available returns the quantity that can still be reserved.
func (s Stock) Available() int {
	if s.Quantity <= s.Reserved {
		return 0
	}
	return s.Quantity - s.Reserved
}

// Line is a requested quantity of one product.
type Line struct {
	ProductID string
	Quantity  int
}

// Shortage describes a line that cannot be satisfied. It is returned to
// callers as an unavailable item.
type Shortage struct {
	ProductID string `json:"id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// NormalizeLines validates lines and merges repeated products. The result
// is sorted by product id, which is also the row lock order.
func NormalizeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, ErrNoLines
	}
	merged := make(map[string]int, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: product id required", ErrInvalidLine)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for product %s", ErrInvalidLine, id)
		}
		merged[id] += line.Quantity
	}
	out := make([]Line, 0, len(merged))
	for id, qty := range merged {
		out = append(out, Line{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// Shortages compares lines against stock. Products without a stock row
// have nothing available.
func Shortages(lines []Line, stock map[string]Stock) []Shortage {
	var out []Shortage
	for _, line := range lines {
		available := 0
		if s, ok := stock[line.ProductID]; ok {
			available = s.Available()
		}
		if available < line.Quantity {
			out = append(out, Shortage{ProductID: line.ProductID, Requested: line.Quantity, Available: available})
		}
	}
	return out
}
