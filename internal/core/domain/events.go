package domain

import "time"

// Event names dispatched through the event bus.
const (
	EventStockReserved  = "inventory.stock_reserved"
	EventStockReleased  = "inventory.stock_released"
	EventStockConfirmed = "inventory.stock_confirmed"
	EventProductCreated = "product.created"
	EventProductUpdated = "product.updated"
)

type StockEvent struct {
	ProductID  string
	Quantity   int
	Version    int
	OccurredAt time.Time
}

type ProductEvent struct {
	ProductID  string
	OccurredAt time.Time
}
