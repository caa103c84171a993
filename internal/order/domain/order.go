package domain

import (
	"fmt"
	"time"

	apperrors "github.com/veloretail/FulfillmentGo/pkg/errors"
)

// OrderStatus is the externally visible lifecycle state of an order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderConfirmed       OrderStatus = "CONFIRMED"
	OrderCancelRequested OrderStatus = "CANCEL_REQUESTED"
	OrderCancelled       OrderStatus = "CANCELLED"
)

// Item is one order line.
type Item struct {
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Order is the aggregate the saga drives to CONFIRMED or CANCELLED. It is
// created by the ordering layer and mutated exclusively by the orchestrator.
// Invariant: CONFIRMED implies both progress flags are true.
type Order struct {
	ID                string
	CustomerID        string
	Status            OrderStatus
	Total             int64
	Currency          string
	ShippingAddress   string
	Items             []Item
	InventoryReserved bool
	Paid              bool
	CancelReason      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MarkInventoryReserved records that stock has been reserved for this order.
func (o *Order) MarkInventoryReserved() {
	o.InventoryReserved = true
}

// MarkPaid records that payment has been captured for this order.
func (o *Order) MarkPaid() {
	o.Paid = true
}

// RequestCancel moves a PENDING order into CANCEL_REQUESTED.
func (o *Order) RequestCancel(reason string) error {
	if o.Status != OrderPending {
		return apperrors.InvalidTransition(
			fmt.Sprintf("cannot request cancel of order in status %s", o.Status))
	}
	o.Status = OrderCancelRequested
	o.CancelReason = reason
	return nil
}

// Confirm moves the order to CONFIRMED. Both progress flags must already be
// set, which is what keeps the CONFIRMED invariant.
func (o *Order) Confirm() error {
	if o.Status != OrderPending {
		return apperrors.InvalidTransition(
			fmt.Sprintf("cannot confirm order in status %s", o.Status))
	}
	if !o.InventoryReserved || !o.Paid {
		return apperrors.InvalidTransition(
			"cannot confirm order before inventory is reserved and payment captured")
	}
	o.Status = OrderConfirmed
	return nil
}

// Cancel moves the order to CANCELLED with the given reason. Cancelling an
// already-CANCELLED order is an idempotent no-op; a CONFIRMED order cannot be
// cancelled by the saga.
func (o *Order) Cancel(reason string) error {
	switch o.Status {
	case OrderCancelled:
		return nil
	case OrderConfirmed:
		return apperrors.InvalidTransition("cannot cancel a confirmed order")
	default:
		o.Status = OrderCancelled
		o.CancelReason = reason
		return nil
	}
}
