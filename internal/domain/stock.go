package domain

import "time"

// StockStatus описывает доступность товара для новых резервов.
type StockStatus string

const (
	// StockStatusActive — товар активен, резервирование разрешено.
	StockStatusActive StockStatus = "active"
	// StockStatusInactive — товар выведен из оборота: новые резервы запрещены,
	// административные корректировки остатка по-прежнему допустимы.
	StockStatusInactive StockStatus = "inactive"
)

// Valid сообщает, известен ли статус движку.
func (s StockStatus) Valid() bool {
	return s == StockStatusActive || s == StockStatusInactive
}

// StockRecord — складская запись по товару, единственный источник правды
// о физическом и зарезервированном остатке.
type StockRecord struct {
	ProductID string
	SKU       string
	Name      string
	// PhysicalStock — сколько единиц физически есть на складе.
	PhysicalStock int64
	// ReservedStock — сумма количеств всех активных резервов.
	ReservedStock int64
	// ReorderPoint и ReorderQty — плановые подсказки для закупки,
	// не жёсткие ограничения.
	ReorderPoint int64
	ReorderQty   int64
	// MaxStockLevel — мягкий потолок хранения, не контролируется движком.
	MaxStockLevel int64
	Status        StockStatus
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Available возвращает доступный остаток: физический минус зарезервированный.
// Значение всегда вычисляется и нигде не хранится отдельно.
func (s *StockRecord) Available() int64 {
	available := s.PhysicalStock - s.ReservedStock
	if available < 0 {
		return 0
	}
	return available
}

// Active сообщает, разрешено ли резервирование по товару.
func (s *StockRecord) Active() bool {
	return s.Status == StockStatusActive
}

// BelowReorderPoint сигнализирует, что доступный остаток дошёл до точки перезаказа.
func (s *StockRecord) BelowReorderPoint() bool {
	return s.ReorderPoint > 0 && s.Available() <= s.ReorderPoint
}

// ValidateInvariants проверяет инварианты складской записи и возвращает список замечаний.
func (s *StockRecord) ValidateInvariants() []error {
	var errs []error

	if s.ProductID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if s.PhysicalStock < 0 {
		errs = append(errs, ErrPhysicalStockNegative)
	}
	if s.ReservedStock < 0 {
		errs = append(errs, ErrReservedStockNegative)
	}
	if s.ReservedStock > s.PhysicalStock {
		errs = append(errs, ErrReservedExceedsPhysical)
	}
	switch s.Status {
	case StockStatusActive, StockStatusInactive:
	default:
		errs = append(errs, ErrStockStatusInvalid)
	}

	return errs
}
