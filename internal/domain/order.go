package domain

import "time"

// OrderStatus описывает состояние заказа, созданного движком.
// Движок фиксирует заказ только в момент атомарного исполнения,
// поэтому жизненный цикл короткий: created → cancelled (внешними системами).
type OrderStatus string

const (
	// OrderStatusCreated — заказ создан и остаток по всем позициям списан.
	OrderStatusCreated OrderStatus = "created"
	// OrderStatusCancelled — заказ отменён внешней системой после создания.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID        string
	ProductID string
	Qty       int64
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	// LineTotalMinor — qty * price, хранится для самодостаточности строки.
	LineTotalMinor int64
	CreatedAt      time.Time
}

// Order агрегирует заказ и его позиции в момент атомарного создания.
type Order struct {
	ID string
	// Number — человекочитаемый номер заказа, генерируется движком.
	Number     string
	CustomerID string
	Status     OrderStatus
	Currency   string
	// TotalMinor — сумма всех позиций.
	TotalMinor int64
	Items      []OrderItem
	// ReservationIDs — резервы, потреблённые при создании заказа.
	ReservationIDs []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
// Проверка выполняется до любых обращений к складу (fail fast).
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	seen := make(map[string]bool, len(o.Items))
	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if item.ProductID != "" && seen[item.ProductID] {
			errs = append(errs, ErrDuplicateLineItem)
		}
		seen[item.ProductID] = true
		calc += item.Qty * item.PriceMinor
	}
	if calc != o.TotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
