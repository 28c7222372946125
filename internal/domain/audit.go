package domain

import "time"

// AuditOperation описывает вид складской операции в журнале аудита.
type AuditOperation string

const (
	AuditOpIncrease AuditOperation = "increase"
	AuditOpDecrease AuditOperation = "decrease"
	AuditOpSet      AuditOperation = "set"
	AuditOpReserve  AuditOperation = "reserve"
	AuditOpRelease  AuditOperation = "release"
	AuditOpFulfill  AuditOperation = "fulfill"
)

// AuditReason — причина складской операции для отчётности и разбора споров.
type AuditReason string

const (
	AuditReasonReceived          AuditReason = "received"
	AuditReasonDamaged           AuditReason = "damaged"
	AuditReasonLost              AuditReason = "lost"
	AuditReasonCorrection        AuditReason = "correction"
	AuditReasonReturn            AuditReason = "return"
	AuditReasonSale              AuditReason = "sale"
	AuditReasonTransfer          AuditReason = "transfer"
	AuditReasonOrderReservation  AuditReason = "order_reservation"
	AuditReasonOrderFulfillment  AuditReason = "order_fulfillment"
	AuditReasonOrderCancellation AuditReason = "order_cancellation"
	AuditReasonOther             AuditReason = "other"
)

// AuditEntry — неизменяемая запись об одной операции, затронувшей остаток.
// Записи никогда не редактируются и не удаляются: исправление — это новая запись.
type AuditEntry struct {
	// ID назначается хранилищем как монотонно растущий идентификатор.
	ID        int64
	ProductID string
	Operation AuditOperation
	// Снимок физического остатка до и после операции плюс знаковое изменение.
	PhysicalBefore int64
	PhysicalAfter  int64
	PhysicalChange int64
	// Снимок зарезервированного остатка, чтобы журнал был самодостаточным.
	ReservedBefore int64
	ReservedAfter  int64
	Reason         AuditReason
	Notes          string
	// OrderID пуст для административных корректировок без заказа.
	OrderID    string
	Actor      string
	OccurredAt time.Time
}

// Consistent проверяет арифметику снимков: after − before == change.
func (e *AuditEntry) Consistent() bool {
	return e.PhysicalAfter-e.PhysicalBefore == e.PhysicalChange
}

// Valid проверяет, что вид операции относится к поддерживаемым значениям.
func (op AuditOperation) Valid() bool {
	switch op {
	case AuditOpIncrease, AuditOpDecrease, AuditOpSet, AuditOpReserve, AuditOpRelease, AuditOpFulfill:
		return true
	default:
		return false
	}
}

// Valid проверяет, что причина относится к поддерживаемым значениям.
func (r AuditReason) Valid() bool {
	switch r {
	case AuditReasonReceived, AuditReasonDamaged, AuditReasonLost, AuditReasonCorrection,
		AuditReasonReturn, AuditReasonSale, AuditReasonTransfer, AuditReasonOrderReservation,
		AuditReasonOrderFulfillment, AuditReasonOrderCancellation, AuditReasonOther:
		return true
	default:
		return false
	}
}

// AuditSortField задаёт поле сортировки выборки журнала.
type AuditSortField string

const (
	AuditSortByOccurredAt AuditSortField = "occurred_at"
	AuditSortByChange     AuditSortField = "physical_change"
)

// AuditFilter описывает параметры выборки журнала аудита.
// Нулевые значения означают отсутствие ограничения.
type AuditFilter struct {
	ProductID string
	OrderID   string
	Operation AuditOperation
	Reason    AuditReason
	DateFrom  time.Time
	DateTo    time.Time
	SortBy    AuditSortField
	// SortDesc=true — от новых к старым.
	SortDesc bool
	Page     int
	PerPage  int
}

// Normalize приводит фильтр к безопасным значениям по умолчанию.
func (f AuditFilter) Normalize() AuditFilter {
	if f.SortBy == "" {
		f.SortBy = AuditSortByOccurredAt
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = 50
	}
	if f.PerPage > 500 {
		f.PerPage = 500
	}
	return f
}
