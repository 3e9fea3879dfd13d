package orders

import "errors"

var (
	ErrOrderNotFound         = errors.New("orders: order not found")
	ErrNoItems               = errors.New("orders: at least one item is required")
	ErrInvalidItem           = errors.New("orders: invalid item")
	ErrCustomerRequired      = errors.New("orders: customer id required")
	ErrInvalidStatus         = errors.New("orders: invalid status")
	ErrInvalidTransition     = errors.New("orders: invalid status transition")
	ErrSelfTransition        = errors.New("orders: order already has this status")
	ErrStatusConflict        = errors.New("orders: order status changed concurrently")
	ErrInvalidShippingMethod = errors.New("orders: invalid shipping method")
	ErrInvalidPaymentMethod  = errors.New("orders: invalid payment method")
	ErrInvalidSort           = errors.New("orders: invalid sort field")
)
