package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Stock события
	EventTypeStockReserved  EventType = "stock.reserved"
	EventTypeStockFulfilled EventType = "stock.fulfilled"
	EventTypeStockReleased  EventType = "stock.released"
	EventTypeStockExpired   EventType = "stock.expired"
	EventTypeStockAdjusted  EventType = "stock.adjusted"
	EventTypeStockLow       EventType = "stock.low"

	// Order события
	EventTypeOrderCreated  EventType = "order.created"
	EventTypeOrderRejected EventType = "order.rejected"

	// Входящие команды
	EventTypeOrderCancelRequested EventType = "order.cancel_requested"
)

// Topics для Kafka
const (
	TopicStockEvents     = "ims.stock.events"
	TopicOrderEvents     = "ims.order.events"
	TopicOrderCommands   = "ims.order.commands"
	TopicDeadLetterQueue = "ims.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// StockEvent представляет событие движения остатка
type StockEvent struct {
	EventType EventType `json:"event_type"`
	ProductID string    `json:"product_id"`
	OrderID   string    `json:"order_id,omitempty"`
	Qty       int64     `json:"qty,omitempty"`
	Available int64     `json:"available"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent представляет событие заказа
type OrderEvent struct {
	EventType  EventType `json:"event_type"`
	OrderID    string    `json:"order_id"`
	Number     string    `json:"number,omitempty"`
	CustomerID string    `json:"customer_id"`
	Status     string    `json:"status"`
	TotalMinor int64     `json:"total_minor"`
	Currency   string    `json:"currency"`
	Timestamp  time.Time `json:"timestamp"`
}

// OrderCommand представляет входящую команду по заказу,
// например отмену из внешней системы.
type OrderCommand struct {
	CommandType EventType `json:"command_type"`
	OrderID     string    `json:"order_id"`
	ProductIDs  []string  `json:"product_ids,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewStockEvent создает новое событие движения остатка
func NewStockEvent(eventType EventType, productID, orderID string, qty, available int64) *StockEvent {
	return &StockEvent{
		EventType: eventType,
		ProductID: productID,
		OrderID:   orderID,
		Qty:       qty,
		Available: available,
		Timestamp: time.Now().UTC(),
	}
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, number, customerID, status, currency string, totalMinor int64) *OrderEvent {
	return &OrderEvent{
		EventType:  eventType,
		OrderID:    orderID,
		Number:     number,
		CustomerID: customerID,
		Status:     status,
		Currency:   currency,
		TotalMinor: totalMinor,
		Timestamp:  time.Now().UTC(),
	}
}
