package memory

import (
	"sort"
	"time"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// Репозитории делят состояние с ядром: чтения видят результат последней
// завершённой операции, как и в PostgreSQL-реализации.

// Stocks возвращает репозиторий складских записей поверх ядра.
func (e *Engine) Stocks() domain.StockRepository {
	return (*stockRepositoryInMemory)(e)
}

// Reservations возвращает read-only репозиторий резервов поверх ядра.
func (e *Engine) Reservations() domain.ReservationRepository {
	return (*reservationRepositoryInMemory)(e)
}

// Audits возвращает read-only репозиторий журнала аудита поверх ядра.
func (e *Engine) Audits() domain.AuditRepository {
	return (*auditRepositoryInMemory)(e)
}

// Orders возвращает read-only репозиторий заказов поверх ядра.
func (e *Engine) Orders() domain.OrderRepository {
	return (*orderRepositoryInMemory)(e)
}

type stockRepositoryInMemory Engine

func (r *stockRepositoryInMemory) Create(rec domain.StockRecord) (domain.StockRecord, error) {
	if rec.Status == "" {
		rec.Status = domain.StockStatusActive
	}
	if errs := rec.ValidateInvariants(); len(errs) > 0 {
		return domain.StockRecord{}, errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stocks[rec.ProductID]; exists {
		return domain.StockRecord{}, domain.ErrProductExists
	}

	now := time.Now().UTC()
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now
	stored := rec
	r.stocks[rec.ProductID] = &stored
	return rec, nil
}

func (r *stockRepositoryInMemory) Get(productID string) (domain.StockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stock, ok := r.stocks[productID]
	if !ok {
		return domain.StockRecord{}, domain.ErrProductNotFound
	}
	return *stock, nil
}

func (r *stockRepositoryInMemory) SetStatus(productID string, status domain.StockStatus) error {
	if !status.Valid() {
		return domain.ErrStockStatusInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stock, ok := r.stocks[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	stock.Status = status
	stock.Version++
	stock.UpdatedAt = time.Now().UTC()
	return nil
}

type reservationRepositoryInMemory Engine

func (r *reservationRepositoryInMemory) Get(id string) (domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reservation, ok := r.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return *reservation, nil
}

func (r *reservationRepositoryInMemory) FindActive(productID, orderID string) (domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reservation := range r.reservations {
		if reservation.ProductID == productID &&
			reservation.OrderID == orderID &&
			reservation.Status == domain.ReservationStatusActive {
			return *reservation, nil
		}
	}
	return domain.Reservation{}, domain.ErrReservationNotFound
}

func (r *reservationRepositoryInMemory) ListByOrder(orderID string) ([]domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []domain.Reservation
	for _, reservation := range r.reservations {
		if reservation.OrderID == orderID {
			result = append(result, *reservation)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

type auditRepositoryInMemory Engine

func (r *auditRepositoryInMemory) Query(filter domain.AuditFilter) ([]domain.AuditEntry, int, error) {
	filter = filter.Normalize()

	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]domain.AuditEntry, 0, len(r.audits))
	for _, entry := range r.audits {
		if filter.ProductID != "" && entry.ProductID != filter.ProductID {
			continue
		}
		if filter.OrderID != "" && entry.OrderID != filter.OrderID {
			continue
		}
		if filter.Operation != "" && entry.Operation != filter.Operation {
			continue
		}
		if filter.Reason != "" && entry.Reason != filter.Reason {
			continue
		}
		if !filter.DateFrom.IsZero() && entry.OccurredAt.Before(filter.DateFrom) {
			continue
		}
		if !filter.DateTo.IsZero() && entry.OccurredAt.After(filter.DateTo) {
			continue
		}
		matched = append(matched, entry)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		var less bool
		if filter.SortBy == domain.AuditSortByChange {
			if matched[i].PhysicalChange == matched[j].PhysicalChange {
				less = matched[i].ID < matched[j].ID
			} else {
				less = matched[i].PhysicalChange < matched[j].PhysicalChange
			}
		} else {
			if matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
				less = matched[i].ID < matched[j].ID
			} else {
				less = matched[i].OccurredAt.Before(matched[j].OccurredAt)
			}
		}
		if filter.SortDesc {
			return !less
		}
		return less
	})

	total := len(matched)
	offset := (filter.Page - 1) * filter.PerPage
	if offset >= total {
		return []domain.AuditEntry{}, total, nil
	}
	end := offset + filter.PerPage
	if end > total {
		end = total
	}

	page := append([]domain.AuditEntry(nil), matched[offset:end]...)
	return page, total, nil
}

type orderRepositoryInMemory Engine

func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	result := *order
	result.Items = append([]domain.OrderItem(nil), order.Items...)
	return result, nil
}

var (
	_ domain.StockRepository       = (*stockRepositoryInMemory)(nil)
	_ domain.ReservationRepository = (*reservationRepositoryInMemory)(nil)
	_ domain.AuditRepository       = (*auditRepositoryInMemory)(nil)
	_ domain.OrderRepository       = (*orderRepositoryInMemory)(nil)
)
