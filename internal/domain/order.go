package domain

import "time"

// OrderStatus enumerates the lifecycle of an Order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// OrderItem is a single priced line item on an Order.
type OrderItem struct {
	ID           int64
	OrderID      int64
	ProductID    string
	Description  string
	UnitPriceCents int64
	Quantity     int
}

// Order is the minimal priced aggregate the payment-intent gate acts on.
// Pricing fields are always server-computed from Items; no client-supplied
// price ever reaches this struct.
type Order struct {
	ID             int64
	UserID         int64
	Status         OrderStatus
	Items          []OrderItem
	SubtotalCents  int64
	DiscountCents  int64
	TotalCents     int64
	CreatedAt      time.Time
}

// ComputeTotal recomputes the authoritative total from line items and any applied
// discount, ignoring whatever the caller may have supplied.
func (o Order) ComputeTotal() int64 {
	var subtotal int64
	for _, item := range o.Items {
		subtotal += item.UnitPriceCents * int64(item.Quantity)
	}
	total := subtotal - o.DiscountCents
	if total < 0 {
		total = 0
	}
	return total
}
