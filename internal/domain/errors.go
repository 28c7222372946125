package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка отрицательного физического остатка.
	ErrPhysicalStockNegative = errors.New("physical_stock must be non-negative")
	// Ошибка отрицательного зарезервированного остатка.
	ErrReservedStockNegative = errors.New("reserved_stock must be non-negative")
	// Ошибка превышения резерва над физическим остатком.
	ErrReservedExceedsPhysical = errors.New("reserved_stock must not exceed physical_stock")
	// Ошибка неподдерживаемого статуса складской записи.
	ErrStockStatusInvalid = errors.New("stock status is invalid")
	// Ошибка отсутствующего идентификатора заказа в резервах.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка некорректного количества в резерве.
	ErrReservationQtyInvalid = errors.New("reservation qty must be greater than zero")
	// Ошибка неподдерживаемого статуса резерва.
	ErrReservationStatusInvalid = errors.New("reservation status is invalid")
	// Ошибка несовпадения количества при исполнении резерва: резерв
	// исполняется целиком, частичное исполнение не поддерживается.
	ErrReservationQtyMismatch = errors.New("fulfill qty must match reserved qty")
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("order total must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка повторяющегося товара в позициях заказа.
	ErrDuplicateLineItem = errors.New("order contains duplicate product line")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")
	// Ошибка неподдерживаемого вида корректировки.
	ErrAdjustmentTypeInvalid = errors.New("adjustment type is invalid")
	// Ошибка некорректного количества корректировки.
	ErrAdjustmentQtyInvalid = errors.New("adjustment quantity is invalid")
	// Ошибка неподдерживаемой причины операции.
	ErrAuditReasonInvalid = errors.New("audit reason is invalid")
	// Ошибка отсутствующего актора для аудита.
	ErrActorRequired = errors.New("actor is required")

	// ErrProductNotFound возвращается, если складской записи по товару нет.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductExists возвращается при повторном создании складской записи.
	ErrProductExists = errors.New("stock record already exists")
	// ErrProductInactive — товар выведен из оборота и не принимает новые резервы.
	ErrProductInactive = errors.New("product is inactive")
	// ErrReservationNotFound — активный резерв по паре товар/заказ не найден.
	ErrReservationNotFound = errors.New("active reservation not found")
	// ErrReservationExists — по паре товар/заказ уже есть активный резерв.
	// Повторный hold оформляется после снятия или исполнения предыдущего.
	ErrReservationExists = errors.New("active reservation already exists for this product and order")
	// ErrReservationNotInOrder — привязанный к заказу резерв держит больше
	// единиц товара, чем заказ покупает (или товара нет в позициях вовсе).
	// Исполнение такого резерва оставило бы reserved_stock без владельца.
	ErrReservationNotInOrder = errors.New("consumed reservation is not covered by order items")
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrStockVersionConflict сигнализирует о конфликте версий складской записи.
	ErrStockVersionConflict = errors.New("stock record version conflict")
	// ErrFulfillmentFailed — инфраструктурный сбой атомарной операции
	// (таймаут блокировки, обрыв соединения). Ничего не зафиксировано,
	// вызов можно безопасно повторить.
	ErrFulfillmentFailed = errors.New("fulfillment failed, no changes were committed")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже занят другим запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — тот же ключ, но другой запрос.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request payload")
	// ErrIdempotencyKeyNotFound — запись по ключу не найдена.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// InsufficientStockError возвращается, когда запрошенное количество превышает
// доступный остаток. Несёт контекст для диагностики на стороне вызывающего.
type InsufficientStockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// InsufficientUnreservedStockError возвращается при попытке уменьшить
// физический остаток ниже суммы активных резервов: нельзя забрать со склада
// единицы, уже обещанные заказам.
type InsufficientUnreservedStockError struct {
	ProductID string
	// Requested — физический остаток, который получился бы после корректировки.
	Requested int64
	Reserved  int64
}

func (e *InsufficientUnreservedStockError) Error() string {
	return fmt.Sprintf("cannot reduce physical stock of product %s to %d: %d units are reserved",
		e.ProductID, e.Requested, e.Reserved)
}

// TransitionError возвращается при недопустимом переходе статуса резерва,
// в том числе при повторном fulfill/cancel уже терминального резерва.
type TransitionError struct {
	ReservationID string
	From          ReservationStatus
	To            ReservationStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid reservation transition %s → %s for reservation %s",
		e.From, e.To, e.ReservationID)
}

// FailedProduct описывает одну непрошедшую проверку позицию заказа.
type FailedProduct struct {
	ProductID string `json:"product_id"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
	// Reason — machine-readable причина: insufficient_stock | product_inactive | product_not_found.
	Reason string `json:"reason"`
}

// OrderRejectedError агрегирует все позиции, из-за которых заказ отклонён.
// Вызывающий обязан уметь назвать клиенту конкретные проблемные товары.
type OrderRejectedError struct {
	Failed []FailedProduct
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected: %d product(s) failed stock validation", len(e.Failed))
}

// IsInsufficientStock проверяет, является ли ошибка нехваткой остатка.
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

// IsInsufficientUnreservedStock проверяет конфликт корректировки с резервами.
func IsInsufficientUnreservedStock(err error) bool {
	var target *InsufficientUnreservedStockError
	return errors.As(err, &target)
}

// IsInvalidTransition проверяет, является ли ошибка недопустимым переходом резерва.
func IsInvalidTransition(err error) bool {
	var target *TransitionError
	return errors.As(err, &target)
}

// IsOrderRejected проверяет, отклонён ли заказ проверкой остатков.
func IsOrderRejected(err error) bool {
	var target *OrderRejectedError
	return errors.As(err, &target)
}

// IsRetryable сообщает, можно ли безопасно повторить операцию:
// инфраструктурные сбои не фиксируют частичное состояние.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrFulfillmentFailed)
}
