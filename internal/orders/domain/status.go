package orders

import "strings"

// Status is the lifecycle state of an order.
type Status string

const (
	StatusNew        Status = "new"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusReturned   Status = "returned"
)

var transitions = map[Status][]Status{
	StatusNew:        {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusReturned},
	StatusDelivered:  {StatusReturned},
	StatusCancelled:  nil,
	StatusReturned:   nil,
}

// ParseStatus accepts any casing of a known status.
func ParseStatus(value string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := transitions[status]; !ok {
		return "", ErrInvalidStatus
	}
	return status, nil
}

// AllowedNext returns the statuses reachable from s.
func (s Status) AllowedNext() []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// CanTransitionTo reports whether next is in the allowed set of s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Editable reports whether shipping and payment details may change.
func (s Status) Editable() bool {
	return s == StatusNew || s == StatusProcessing
}

// ValidateTransition checks from -> to against the transition table.
func ValidateTransition(from, to Status) error {
	if from == to {
		return ErrSelfTransition
	}
	if !from.CanTransitionTo(to) {
		return ErrInvalidTransition
	}
	return nil
}
