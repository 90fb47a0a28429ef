package domain

import "fmt"

type OrderStatus string

const (
	StatusQuote        OrderStatus = "quote"
	StatusInService    OrderStatus = "in_service"
	StatusAwaitingPart OrderStatus = "awaiting_part"
	StatusCompleted    OrderStatus = "completed"
	StatusCancelled    OrderStatus = "cancelled"
)

// transitions is the closed table of allowed status changes. Terminal
// states have no entry.
var transitions = map[OrderStatus][]OrderStatus{
	StatusQuote:        {StatusInService, StatusCancelled},
	StatusInService:    {StatusAwaitingPart, StatusCompleted, StatusCancelled},
	StatusAwaitingPart: {StatusInService, StatusCancelled},
}

// ParseStatus validates a status value coming from the boundary. Unknown
// values are rejected rather than stored as free-form strings.
func ParseStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case StatusQuote, StatusInService, StatusAwaitingPart, StatusCompleted, StatusCancelled:
		return OrderStatus(s), nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Editable reports whether line items may be added or removed in this status.
func (s OrderStatus) Editable() bool {
	return !s.Terminal()
}

func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// CheckTransition returns InvalidTransitionError unless (s, target) is in
// the transition table.
func (s OrderStatus) CheckTransition(target OrderStatus) error {
	if !s.CanTransitionTo(target) {
		return &InvalidTransitionError{From: s, To: target}
	}
	return nil
}
