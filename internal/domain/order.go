package domain

import "time"

// Order status lifecycle starts at pending; later values are admin-set.
const OrderStatusPending = "pending"

// Order belongs to one user and owns its items. Created atomically with them.
type Order struct {
	ID        int64
	UserID    int64
	Status    string
	CreatedAt time.Time
	Items     []OrderItem
	User      *User
}

// OrderItem links an order to a variant with a requested quantity.
type OrderItem struct {
	ID        int64
	OrderID   int64
	VariantID int64
	Quantity  int
	Variant   *Variant
}

// OrderLine is a requested line item as submitted by the caller.
type OrderLine struct {
	VariantID int64
	Quantity  int
}
