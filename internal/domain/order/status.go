package order

import (
	"slices"

	"github.com/go-faster/errors"
)

// Status is a position in the order lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

var (
	// ErrInvalidStatus is returned for an unknown status value.
	ErrInvalidStatus = errors.New("invalid order status")
	// ErrInvalidStatusFlow is returned for a backward transition.
	ErrInvalidStatusFlow = errors.New("cannot move order status backwards")
)

// ParseStatus validates a raw status value.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !slices.Contains(Statuses, st) {
		return "", ErrInvalidStatus
	}
	return st, nil
}

func (s Status) index() int { return slices.Index(Statuses, s) }

// Live reports whether the order still holds stock and coupon state.
func (s Status) Live() bool { return s != StatusCancelled && s.index() >= 0 }

// CanTransition checks the monotonic lifecycle rule: a status may only move
// forward, except that cancelled is reachable from anywhere. A cancelled
// order stays cancelled.
func CanTransition(from, to Status) error {
	if to.index() < 0 {
		return ErrInvalidStatus
	}
	if to == StatusCancelled {
		return nil
	}
	if from == StatusCancelled || to.index() < from.index() {
		return ErrInvalidStatusFlow
	}
	return nil
}
