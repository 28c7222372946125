package domain

import "time"

// ReservationStatus отражает состояние резерва в его жизненном цикле.
type ReservationStatus string

const (
	// ReservationStatusActive — резерв удерживает остаток и может быть исполнен.
	ReservationStatusActive ReservationStatus = "active"
	// ReservationStatusFulfilled — резерв исполнен, физический остаток списан. Терминальный статус.
	ReservationStatusFulfilled ReservationStatus = "fulfilled"
	// ReservationStatusCancelled — резерв снят явно или при отмене заказа. Терминальный статус.
	ReservationStatusCancelled ReservationStatus = "cancelled"
	// ReservationStatusExpired — резерв снят системой по истечении срока. Терминальный статус.
	ReservationStatusExpired ReservationStatus = "expired"
)

// Reservation описывает удержание остатка товара под конкретный заказ.
type Reservation struct {
	ID        string
	ProductID string
	// OrderID может быть пустым, пока резерв не привязан к заказу.
	OrderID   string
	Qty       int64
	Status    ReservationStatus
	Notes     string
	CreatedAt time.Time
	// ExpiresAt — мягкий дедлайн: активный резерв остаётся исполнимым,
	// пока его не снимет reaper.
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// Terminal сообщает, достиг ли статус конца жизненного цикла.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case ReservationStatusFulfilled, ReservationStatusCancelled, ReservationStatusExpired:
		return true
	default:
		return false
	}
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationStatusActive, ReservationStatusFulfilled,
		ReservationStatusCancelled, ReservationStatusExpired:
		return true
	default:
		return false
	}
}

// CanTransition проверяет допустимость перехода статуса.
// Единственные допустимые переходы: active → fulfilled | cancelled | expired.
func (r *Reservation) CanTransition(to ReservationStatus) bool {
	if r.Status != ReservationStatusActive {
		return false
	}
	return to.Terminal()
}

// Expired сообщает, прошёл ли мягкий дедлайн резерва к моменту now.
func (r *Reservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Validate проверяет, корректно ли заполнены ключевые поля резерва.
func (r *Reservation) Validate() []error {
	var errs []error

	if r.ProductID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if r.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if r.Qty <= 0 {
		errs = append(errs, ErrReservationQtyInvalid)
	}
	if !r.Status.Valid() {
		errs = append(errs, ErrReservationStatusInvalid)
	}

	return errs
}
