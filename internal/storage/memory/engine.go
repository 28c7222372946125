package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// Engine — in-memory реализация транзакционного ядра и read-репозиториев.
// Атомарность обеспечивается одним мьютексом: каждая операция вычисляет новое
// состояние целиком и применяет его под блокировкой, поэтому частично
// применённых операций не бывает. Поведение зеркально PostgreSQL-реализации,
// чтобы сервисные тесты работали против обеих.
type Engine struct {
	mu  sync.Mutex
	cfg domain.EngineConfig

	stocks       map[string]*domain.StockRecord
	reservations map[string]*domain.Reservation
	audits       []domain.AuditEntry
	auditSeq     int64
	orders       map[string]*domain.Order
}

// NewEngine создаёт пустое in-memory ядро.
func NewEngine(cfg domain.EngineConfig) *Engine {
	return &Engine{
		cfg:          cfg.Normalize(),
		stocks:       make(map[string]*domain.StockRecord),
		reservations: make(map[string]*domain.Reservation),
		orders:       make(map[string]*domain.Order),
	}
}

func (e *Engine) Reserve(ctx context.Context, cmd domain.ReserveCommand) (domain.ReserveResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ReserveResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	stock, ok := e.stocks[cmd.ProductID]
	if !ok {
		return domain.ReserveResult{}, domain.ErrProductNotFound
	}
	if !stock.Active() {
		return domain.ReserveResult{}, domain.ErrProductInactive
	}
	// Один активный резерв на пару товар/заказ, как и в схеме PostgreSQL
	// (частичный уникальный индекс reservations_active_pair_uidx).
	for _, existing := range e.reservations {
		if existing.Status == domain.ReservationStatusActive &&
			existing.ProductID == cmd.ProductID && existing.OrderID == cmd.OrderID {
			return domain.ReserveResult{}, domain.ErrReservationExists
		}
	}
	if cmd.Qty > stock.Available() {
		return domain.ReserveResult{}, &domain.InsufficientStockError{
			ProductID: cmd.ProductID,
			Requested: cmd.Qty,
			Available: stock.Available(),
		}
	}

	now := time.Now().UTC()
	ttl := cmd.TTL
	if ttl <= 0 {
		ttl = e.cfg.ReservationTTL
	}
	reservation := domain.Reservation{
		ID:        uuid.NewString(),
		ProductID: cmd.ProductID,
		OrderID:   cmd.OrderID,
		Qty:       cmd.Qty,
		Status:    domain.ReservationStatusActive,
		Notes:     cmd.Notes,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	}
	e.reservations[reservation.ID] = &reservation

	before := *stock
	stock.ReservedStock += cmd.Qty
	stock.Version++
	stock.UpdatedAt = now

	e.appendAudit(domain.AuditEntry{
		ProductID:      cmd.ProductID,
		Operation:      domain.AuditOpReserve,
		PhysicalBefore: before.PhysicalStock,
		PhysicalAfter:  stock.PhysicalStock,
		ReservedBefore: before.ReservedStock,
		ReservedAfter:  stock.ReservedStock,
		Reason:         domain.AuditReasonOrderReservation,
		Notes:          cmd.Notes,
		OrderID:        cmd.OrderID,
		Actor:          cmd.Actor,
		OccurredAt:     now,
	})

	return domain.ReserveResult{
		Reservation:    reservation,
		AvailableAfter: stock.Available(),
	}, nil
}

func (e *Engine) Fulfill(ctx context.Context, cmd domain.FulfillCommand) (domain.FulfillResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.FulfillResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	stock, ok := e.stocks[cmd.ProductID]
	if !ok {
		return domain.FulfillResult{}, domain.ErrProductNotFound
	}
	reservation := e.findLatestReservation(cmd.ProductID, cmd.OrderID)
	if reservation == nil {
		return domain.FulfillResult{}, domain.ErrReservationNotFound
	}

	if reservation.Status != domain.ReservationStatusActive {
		if reservation.Status == domain.ReservationStatusFulfilled {
			return domain.FulfillResult{
				Reservation:     *reservation,
				PhysicalAfter:   stock.PhysicalStock,
				AvailableAfter:  stock.Available(),
				AlreadyTerminal: true,
			}, nil
		}
		return domain.FulfillResult{}, &domain.TransitionError{
			ReservationID: reservation.ID,
			From:          reservation.Status,
			To:            domain.ReservationStatusFulfilled,
		}
	}

	if cmd.Qty != reservation.Qty {
		return domain.FulfillResult{}, domain.ErrReservationQtyMismatch
	}

	now := time.Now().UTC()
	before := *stock
	stock.PhysicalStock -= reservation.Qty
	stock.ReservedStock -= reservation.Qty
	stock.Version++
	stock.UpdatedAt = now

	reservation.Status = domain.ReservationStatusFulfilled
	reservation.UpdatedAt = now

	e.appendAudit(domain.AuditEntry{
		ProductID:      cmd.ProductID,
		Operation:      domain.AuditOpFulfill,
		PhysicalBefore: before.PhysicalStock,
		PhysicalAfter:  stock.PhysicalStock,
		PhysicalChange: -reservation.Qty,
		ReservedBefore: before.ReservedStock,
		ReservedAfter:  stock.ReservedStock,
		Reason:         domain.AuditReasonOrderFulfillment,
		OrderID:        cmd.OrderID,
		Actor:          cmd.Actor,
		OccurredAt:     now,
	})

	return domain.FulfillResult{
		Reservation:    *reservation,
		PhysicalAfter:  stock.PhysicalStock,
		AvailableAfter: stock.Available(),
	}, nil
}

func (e *Engine) Release(ctx context.Context, cmd domain.ReleaseCommand) (domain.ReleaseResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ReleaseResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.releaseLocked(cmd, domain.ReservationStatusCancelled)
}

func (e *Engine) releaseLocked(cmd domain.ReleaseCommand, target domain.ReservationStatus) (domain.ReleaseResult, error) {
	stock, ok := e.stocks[cmd.ProductID]
	if !ok {
		return domain.ReleaseResult{}, domain.ErrProductNotFound
	}
	reservation := e.findLatestReservation(cmd.ProductID, cmd.OrderID)
	if reservation == nil {
		return domain.ReleaseResult{}, domain.ErrReservationNotFound
	}
	return e.releaseReservationLocked(stock, reservation, cmd, target)
}

// releaseReservationLocked снимает конкретный резерв. Вызывающий уже держит
// мьютекс и определился, какой именно резерв снимается.
func (e *Engine) releaseReservationLocked(stock *domain.StockRecord, reservation *domain.Reservation, cmd domain.ReleaseCommand, target domain.ReservationStatus) (domain.ReleaseResult, error) {
	if reservation.Status != domain.ReservationStatusActive {
		if reservation.Status == domain.ReservationStatusCancelled ||
			reservation.Status == domain.ReservationStatusExpired {
			return domain.ReleaseResult{
				Reservation:     *reservation,
				AvailableAfter:  stock.Available(),
				AlreadyTerminal: true,
			}, nil
		}
		return domain.ReleaseResult{}, &domain.TransitionError{
			ReservationID: reservation.ID,
			From:          reservation.Status,
			To:            target,
		}
	}

	now := time.Now().UTC()
	before := *stock
	stock.ReservedStock -= reservation.Qty
	stock.Version++
	stock.UpdatedAt = now

	reservation.Status = target
	reservation.UpdatedAt = now

	e.appendAudit(domain.AuditEntry{
		ProductID:      cmd.ProductID,
		Operation:      domain.AuditOpRelease,
		PhysicalBefore: before.PhysicalStock,
		PhysicalAfter:  stock.PhysicalStock,
		ReservedBefore: before.ReservedStock,
		ReservedAfter:  stock.ReservedStock,
		Reason:         cmd.Reason,
		Notes:          cmd.Notes,
		OrderID:        cmd.OrderID,
		Actor:          cmd.Actor,
		OccurredAt:     now,
	})

	return domain.ReleaseResult{
		Reservation:    *reservation,
		AvailableAfter: stock.Available(),
	}, nil
}

func (e *Engine) Adjust(ctx context.Context, cmd domain.AdjustmentCommand) (domain.AdjustmentResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.AdjustmentResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	stock, ok := e.stocks[cmd.ProductID]
	if !ok {
		return domain.AdjustmentResult{}, domain.ErrProductNotFound
	}

	var newPhysical int64
	switch cmd.Type {
	case domain.AdjustmentIncrease:
		newPhysical = stock.PhysicalStock + cmd.Quantity
	case domain.AdjustmentDecrease:
		newPhysical = stock.PhysicalStock - cmd.Quantity
	case domain.AdjustmentSet:
		newPhysical = cmd.Quantity
	default:
		return domain.AdjustmentResult{}, domain.ErrAdjustmentTypeInvalid
	}

	if newPhysical < stock.ReservedStock {
		return domain.AdjustmentResult{}, &domain.InsufficientUnreservedStockError{
			ProductID: cmd.ProductID,
			Requested: newPhysical,
			Reserved:  stock.ReservedStock,
		}
	}

	now := time.Now().UTC()
	before := *stock
	stock.PhysicalStock = newPhysical
	stock.Version++
	stock.UpdatedAt = now

	e.appendAudit(domain.AuditEntry{
		ProductID:      cmd.ProductID,
		Operation:      cmd.Type.AuditOperation(),
		PhysicalBefore: before.PhysicalStock,
		PhysicalAfter:  newPhysical,
		PhysicalChange: newPhysical - before.PhysicalStock,
		ReservedBefore: before.ReservedStock,
		ReservedAfter:  stock.ReservedStock,
		Reason:         cmd.Reason,
		Notes:          cmd.Notes,
		Actor:          cmd.Actor,
		OccurredAt:     now,
	})

	return domain.AdjustmentResult{
		ProductID:        cmd.ProductID,
		NewPhysicalStock: newPhysical,
		AvailableAfter:   stock.Available(),
	}, nil
}

func (e *Engine) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()

	qtyByProduct := make(map[string]int64, len(order.Items))
	productIDs := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		if _, seen := qtyByProduct[item.ProductID]; !seen {
			productIDs = append(productIDs, item.ProductID)
		}
		qtyByProduct[item.ProductID] += item.Qty
	}
	sort.Strings(productIDs)

	heldByProduct := make(map[string]int64, len(order.ReservationIDs))
	consumed := make([]*domain.Reservation, 0, len(order.ReservationIDs))
	for _, resID := range order.ReservationIDs {
		reservation, ok := e.reservations[resID]
		if !ok {
			return domain.Order{}, domain.ErrReservationNotFound
		}
		if reservation.Status != domain.ReservationStatusActive {
			return domain.Order{}, &domain.TransitionError{
				ReservationID: reservation.ID,
				From:          reservation.Status,
				To:            domain.ReservationStatusFulfilled,
			}
		}
		heldByProduct[reservation.ProductID] += reservation.Qty
		consumed = append(consumed, reservation)
	}

	// Каждый потребляемый резерв обязан покрываться позициями заказа,
	// иначе его qty навсегда зависнет в reserved_stock без активного резерва.
	for _, productID := range sortedKeys(heldByProduct) {
		if held := heldByProduct[productID]; held > qtyByProduct[productID] {
			return domain.Order{}, fmt.Errorf(
				"product %s: reserved %d exceeds ordered %d: %w",
				productID, held, qtyByProduct[productID], domain.ErrReservationNotInOrder)
		}
	}

	var failed []domain.FailedProduct
	for _, productID := range productIDs {
		qty := qtyByProduct[productID]
		stock, ok := e.stocks[productID]
		if !ok {
			failed = append(failed, domain.FailedProduct{
				ProductID: productID,
				Requested: qty,
				Available: 0,
				Reason:    "product_not_found",
			})
			continue
		}

		effectiveAvailable := stock.Available() + heldByProduct[productID]
		switch {
		case !stock.Active():
			failed = append(failed, domain.FailedProduct{
				ProductID: productID,
				Requested: qty,
				Available: effectiveAvailable,
				Reason:    "product_inactive",
			})
		case qty > effectiveAvailable:
			failed = append(failed, domain.FailedProduct{
				ProductID: productID,
				Requested: qty,
				Available: effectiveAvailable,
				Reason:    "insufficient_stock",
			})
		}
	}
	if len(failed) > 0 {
		return domain.Order{}, &domain.OrderRejectedError{Failed: failed}
	}

	for _, reservation := range consumed {
		reservation.Status = domain.ReservationStatusFulfilled
		reservation.UpdatedAt = now
	}

	for _, productID := range productIDs {
		stock := e.stocks[productID]
		qty := qtyByProduct[productID]
		held := heldByProduct[productID]

		before := *stock
		stock.PhysicalStock -= qty
		stock.ReservedStock -= held
		stock.Version++
		stock.UpdatedAt = now

		operation := domain.AuditOpDecrease
		reason := domain.AuditReasonSale
		if held > 0 {
			operation = domain.AuditOpFulfill
			reason = domain.AuditReasonOrderFulfillment
		}
		e.appendAudit(domain.AuditEntry{
			ProductID:      productID,
			Operation:      operation,
			PhysicalBefore: before.PhysicalStock,
			PhysicalAfter:  stock.PhysicalStock,
			PhysicalChange: -qty,
			ReservedBefore: before.ReservedStock,
			ReservedAfter:  stock.ReservedStock,
			Reason:         reason,
			OrderID:        order.ID,
			Actor:          order.CustomerID,
			OccurredAt:     now,
		})
	}

	order.Status = domain.OrderStatusCreated
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Items {
		if order.Items[i].ID == "" {
			order.Items[i].ID = uuid.NewString()
		}
		order.Items[i].CreatedAt = now
	}
	stored := order
	stored.Items = append([]domain.OrderItem(nil), order.Items...)
	e.orders[order.ID] = &stored

	return order, nil
}

func (e *Engine) ExpireBatch(ctx context.Context, before time.Time, limit int) ([]domain.ExpiredReservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = e.cfg.SweepBatchSize
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	candidates := make([]*domain.Reservation, 0, limit)
	for _, reservation := range e.reservations {
		if reservation.Status == domain.ReservationStatusActive && !reservation.ExpiresAt.After(before) {
			candidates = append(candidates, reservation)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ExpiresAt.Before(candidates[j].ExpiresAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	expired := make([]domain.ExpiredReservation, 0, len(candidates))
	for _, candidate := range candidates {
		stock, ok := e.stocks[candidate.ProductID]
		if !ok {
			return expired, domain.ErrProductNotFound
		}
		// Снимается именно отобранный резерв, а не последний по паре:
		// у заказа могут быть и другие, ещё не истёкшие резервы.
		released, err := e.releaseReservationLocked(stock, candidate, domain.ReleaseCommand{
			ProductID: candidate.ProductID,
			OrderID:   candidate.OrderID,
			Reason:    domain.AuditReasonOther,
			Notes:     "reservation expired",
			Actor:     "system",
		}, domain.ReservationStatusExpired)
		if err != nil {
			return expired, err
		}
		if released.AlreadyTerminal {
			continue
		}
		expired = append(expired, domain.ExpiredReservation{
			Reservation:    released.Reservation,
			AvailableAfter: released.AvailableAfter,
		})
	}

	return expired, nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// findLatestReservation возвращает резерв по паре товар/заказ, предпочитая активный.
func (e *Engine) findLatestReservation(productID, orderID string) *domain.Reservation {
	var latest *domain.Reservation
	for _, reservation := range e.reservations {
		if reservation.ProductID != productID || reservation.OrderID != orderID {
			continue
		}
		if reservation.Status == domain.ReservationStatusActive {
			return reservation
		}
		if latest == nil || reservation.CreatedAt.After(latest.CreatedAt) {
			latest = reservation
		}
	}
	return latest
}

func (e *Engine) appendAudit(entry domain.AuditEntry) {
	e.auditSeq++
	entry.ID = e.auditSeq
	entry.PhysicalChange = entry.PhysicalAfter - entry.PhysicalBefore
	e.audits = append(e.audits, entry)
}

var _ domain.StockEngine = (*Engine)(nil)
