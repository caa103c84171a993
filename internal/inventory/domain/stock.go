package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/veloretail/FulfillmentGo/pkg/errors"
)

// Item is a stock record for one SKU. AvailableQty never goes negative;
// Version is an optimistic concurrency counter bumped on every mutation.
type Item struct {
	SKU          string
	AvailableQty int
	Version      int
	UpdatedAt    time.Time
}

// CanSatisfy reports whether the item has enough stock for the requested quantity.
func (i *Item) CanSatisfy(qty int) bool {
	return i.AvailableQty >= qty
}

// ReservationStatus is the lifecycle state of a stock reservation.
type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "RESERVED"
	ReservationReleased ReservationStatus = "RELEASED"
	ReservationFailed   ReservationStatus = "FAILED"
)

// Line is one (sku, quantity) entry of a reservation.
type Line struct {
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Reservation records the outcome of a reserve command. The (SagaID, OrderID)
// pair is unique and serves as the idempotency key: a replayed command finds
// this record and returns the stored outcome instead of touching stock again.
type Reservation struct {
	ID            string
	SagaID        string
	OrderID       string
	Status        ReservationStatus
	Lines         []Line
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewReservation creates a RESERVED reservation for the given lines.
func NewReservation(sagaID, orderID string, lines []Line) *Reservation {
	return &Reservation{
		ID:      uuid.New().String(),
		SagaID:  sagaID,
		OrderID: orderID,
		Status:  ReservationReserved,
		Lines:   lines,
	}
}

// NewFailedReservation creates a FAILED reservation recording why stock could
// not be reserved. No stock is associated with it.
func NewFailedReservation(sagaID, orderID string, lines []Line, reason string) *Reservation {
	return &Reservation{
		ID:            uuid.New().String(),
		SagaID:        sagaID,
		OrderID:       orderID,
		Status:        ReservationFailed,
		Lines:         lines,
		FailureReason: reason,
	}
}

// Release transitions the reservation to RELEASED. Only a RESERVED
// reservation holds stock, so only that transition is legal here; callers
// handle RELEASED and FAILED as no-ops before getting this far.
func (r *Reservation) Release() error {
	if r.Status != ReservationReserved {
		return apperrors.InvalidTransition(
			fmt.Sprintf("cannot release reservation in status %s", r.Status))
	}
	r.Status = ReservationReleased
	return nil
}

// HoldsStock reports whether the reservation currently holds deducted stock.
func (r *Reservation) HoldsStock() bool {
	return r.Status == ReservationReserved
}
