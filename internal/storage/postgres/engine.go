package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// engine — PostgreSQL-реализация транзакционного ядра движка.
// Каждая операция выполняется в одной транзакции с блокировкой строк остатка
// (SELECT ... FOR UPDATE); при нескольких товарах строки блокируются в порядке
// возрастания product_id, чтобы конкурирующие заказы с пересекающимися
// корзинами не попадали в deadlock.
type engine struct {
	db  *sql.DB
	cfg domain.EngineConfig
}

// NewEngine создаёт PostgreSQL-реализацию StockEngine.
func NewEngine(store *Store, cfg domain.EngineConfig) domain.StockEngine {
	return &engine{db: store.DB(), cfg: cfg.Normalize()}
}

// lockedStock — снимок складской записи, удерживаемый под блокировкой строки.
type lockedStock struct {
	productID string
	physical  int64
	reserved  int64
	status    domain.StockStatus
}

func (l *lockedStock) available() int64 {
	available := l.physical - l.reserved
	if available < 0 {
		return 0
	}
	return available
}

func (e *engine) Reserve(ctx context.Context, cmd domain.ReserveCommand) (domain.ReserveResult, error) {
	var result domain.ReserveResult

	err := e.withinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		stock, err := e.lockStock(ctx, tx, cmd.ProductID)
		if err != nil {
			return err
		}
		if stock.status != domain.StockStatusActive {
			return domain.ErrProductInactive
		}
		if cmd.Qty > stock.available() {
			return &domain.InsufficientStockError{
				ProductID: cmd.ProductID,
				Requested: cmd.Qty,
				Available: stock.available(),
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
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reservations (id, product_id, order_id, qty, status, notes, created_at, expires_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			reservation.ID, reservation.ProductID, reservation.OrderID, reservation.Qty,
			string(reservation.Status), reservation.Notes,
			reservation.CreatedAt, reservation.ExpiresAt, reservation.UpdatedAt,
		); err != nil {
			// Частичный уникальный индекс reservations_active_pair_uidx:
			// не более одного активного резерва на пару товар/заказ.
			if isUniqueViolation(err) {
				return domain.ErrReservationExists
			}
			return fmt.Errorf("insert reservation: %w", err)
		}

		newReserved := stock.reserved + cmd.Qty
		if err := e.updateStock(ctx, tx, cmd.ProductID, stock.physical, newReserved, now); err != nil {
			return err
		}

		if err := e.insertAudit(ctx, tx, domain.AuditEntry{
			ProductID:      cmd.ProductID,
			Operation:      domain.AuditOpReserve,
			PhysicalBefore: stock.physical,
			PhysicalAfter:  stock.physical,
			PhysicalChange: 0,
			ReservedBefore: stock.reserved,
			ReservedAfter:  newReserved,
			Reason:         domain.AuditReasonOrderReservation,
			Notes:          cmd.Notes,
			OrderID:        cmd.OrderID,
			Actor:          cmd.Actor,
			OccurredAt:     now,
		}); err != nil {
			return err
		}

		result = domain.ReserveResult{
			Reservation:    reservation,
			AvailableAfter: stock.physical - newReserved,
		}
		return nil
	})
	if err != nil {
		return domain.ReserveResult{}, err
	}
	return result, nil
}

func (e *engine) Fulfill(ctx context.Context, cmd domain.FulfillCommand) (domain.FulfillResult, error) {
	var result domain.FulfillResult

	err := e.withinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		stock, err := e.lockStock(ctx, tx, cmd.ProductID)
		if err != nil {
			return err
		}

		reservation, err := e.lockReservation(ctx, tx, cmd.ProductID, cmd.OrderID)
		if err != nil {
			return err
		}

		if reservation.Status != domain.ReservationStatusActive {
			// Идемпотентный повтор: fulfill уже исполненного резерва — no-op
			// без второй записи аудита. Любой другой терминальный статус —
			// недопустимый переход.
			if reservation.Status == domain.ReservationStatusFulfilled {
				result = domain.FulfillResult{
					Reservation:     reservation,
					PhysicalAfter:   stock.physical,
					AvailableAfter:  stock.available(),
					AlreadyTerminal: true,
				}
				return nil
			}
			return &domain.TransitionError{
				ReservationID: reservation.ID,
				From:          reservation.Status,
				To:            domain.ReservationStatusFulfilled,
			}
		}

		if cmd.Qty != reservation.Qty {
			return domain.ErrReservationQtyMismatch
		}

		now := time.Now().UTC()
		newPhysical := stock.physical - reservation.Qty
		newReserved := stock.reserved - reservation.Qty
		if err := e.updateStock(ctx, tx, cmd.ProductID, newPhysical, newReserved, now); err != nil {
			return err
		}
		if err := e.transitionReservation(ctx, tx, reservation.ID, domain.ReservationStatusFulfilled, now); err != nil {
			return err
		}

		if err := e.insertAudit(ctx, tx, domain.AuditEntry{
			ProductID:      cmd.ProductID,
			Operation:      domain.AuditOpFulfill,
			PhysicalBefore: stock.physical,
			PhysicalAfter:  newPhysical,
			PhysicalChange: -reservation.Qty,
			ReservedBefore: stock.reserved,
			ReservedAfter:  newReserved,
			Reason:         domain.AuditReasonOrderFulfillment,
			OrderID:        cmd.OrderID,
			Actor:          cmd.Actor,
			OccurredAt:     now,
		}); err != nil {
			return err
		}

		reservation.Status = domain.ReservationStatusFulfilled
		reservation.UpdatedAt = now
		result = domain.FulfillResult{
			Reservation:    reservation,
			PhysicalAfter:  newPhysical,
			AvailableAfter: newPhysical - newReserved,
		}
		return nil
	})
	if err != nil {
		return domain.FulfillResult{}, err
	}
	return result, nil
}

func (e *engine) Release(ctx context.Context, cmd domain.ReleaseCommand) (domain.ReleaseResult, error) {
	var result domain.ReleaseResult

	err := e.withinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		released, err := e.releaseLocked(ctx, tx, cmd, domain.ReservationStatusCancelled)
		if err != nil {
			return err
		}
		result = released
		return nil
	})
	if err != nil {
		return domain.ReleaseResult{}, err
	}
	return result, nil
}

// releaseLocked снимает резерв внутри уже открытой транзакции.
// target задаёт терминальный статус: cancelled для явной отмены,
// expired для системного снятия reaper-ом.
func (e *engine) releaseLocked(ctx context.Context, tx *sql.Tx, cmd domain.ReleaseCommand, target domain.ReservationStatus) (domain.ReleaseResult, error) {
	stock, err := e.lockStock(ctx, tx, cmd.ProductID)
	if err != nil {
		return domain.ReleaseResult{}, err
	}

	reservation, err := e.lockReservation(ctx, tx, cmd.ProductID, cmd.OrderID)
	if err != nil {
		return domain.ReleaseResult{}, err
	}

	return e.finishRelease(ctx, tx, stock, reservation, cmd, target)
}

// finishRelease завершает снятие уже заблокированного резерва: правит
// остаток, переводит статус и пишет аудит.
func (e *engine) finishRelease(ctx context.Context, tx *sql.Tx, stock *lockedStock, reservation domain.Reservation, cmd domain.ReleaseCommand, target domain.ReservationStatus) (domain.ReleaseResult, error) {
	if reservation.Status != domain.ReservationStatusActive {
		// Повторная отмена уже снятого (cancelled или expired) резерва — no-op.
		if reservation.Status == domain.ReservationStatusCancelled ||
			reservation.Status == domain.ReservationStatusExpired {
			return domain.ReleaseResult{
				Reservation:     reservation,
				AvailableAfter:  stock.available(),
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
	newReserved := stock.reserved - reservation.Qty
	if err := e.updateStock(ctx, tx, cmd.ProductID, stock.physical, newReserved, now); err != nil {
		return domain.ReleaseResult{}, err
	}
	if err := e.transitionReservation(ctx, tx, reservation.ID, target, now); err != nil {
		return domain.ReleaseResult{}, err
	}

	if err := e.insertAudit(ctx, tx, domain.AuditEntry{
		ProductID:      cmd.ProductID,
		Operation:      domain.AuditOpRelease,
		PhysicalBefore: stock.physical,
		PhysicalAfter:  stock.physical,
		PhysicalChange: 0,
		ReservedBefore: stock.reserved,
		ReservedAfter:  newReserved,
		Reason:         cmd.Reason,
		Notes:          cmd.Notes,
		OrderID:        cmd.OrderID,
		Actor:          cmd.Actor,
		OccurredAt:     now,
	}); err != nil {
		return domain.ReleaseResult{}, err
	}

	reservation.Status = target
	reservation.UpdatedAt = now
	return domain.ReleaseResult{
		Reservation:    reservation,
		AvailableAfter: stock.physical - newReserved,
	}, nil
}

func (e *engine) Adjust(ctx context.Context, cmd domain.AdjustmentCommand) (domain.AdjustmentResult, error) {
	var result domain.AdjustmentResult

	err := e.withinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// Неактивные товары остаются корректируемыми: инвентаризация и
		// исправления не зависят от доступности товара для резервов.
		stock, err := e.lockStock(ctx, tx, cmd.ProductID)
		if err != nil {
			return err
		}

		var newPhysical int64
		switch cmd.Type {
		case domain.AdjustmentIncrease:
			newPhysical = stock.physical + cmd.Quantity
		case domain.AdjustmentDecrease:
			newPhysical = stock.physical - cmd.Quantity
		case domain.AdjustmentSet:
			newPhysical = cmd.Quantity
		default:
			return domain.ErrAdjustmentTypeInvalid
		}

		// Нельзя убрать со склада единицы, уже обещанные заказам.
		if newPhysical < stock.reserved {
			return &domain.InsufficientUnreservedStockError{
				ProductID: cmd.ProductID,
				Requested: newPhysical,
				Reserved:  stock.reserved,
			}
		}

		now := time.Now().UTC()
		if err := e.updateStock(ctx, tx, cmd.ProductID, newPhysical, stock.reserved, now); err != nil {
			return err
		}

		if err := e.insertAudit(ctx, tx, domain.AuditEntry{
			ProductID:      cmd.ProductID,
			Operation:      cmd.Type.AuditOperation(),
			PhysicalBefore: stock.physical,
			PhysicalAfter:  newPhysical,
			PhysicalChange: newPhysical - stock.physical,
			ReservedBefore: stock.reserved,
			ReservedAfter:  stock.reserved,
			Reason:         cmd.Reason,
			Notes:          cmd.Notes,
			Actor:          cmd.Actor,
			OccurredAt:     now,
		}); err != nil {
			return err
		}

		result = domain.AdjustmentResult{
			ProductID:        cmd.ProductID,
			NewPhysicalStock: newPhysical,
			AvailableAfter:   newPhysical - stock.reserved,
		}
		return nil
	})
	if err != nil {
		return domain.AdjustmentResult{}, err
	}
	return result, nil
}

func (e *engine) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	var created domain.Order

	err := e.withinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()

		// Количество по каждому товару суммируется заранее; строки остатка
		// блокируются строго по возрастанию product_id.
		qtyByProduct := make(map[string]int64, len(order.Items))
		productIDs := make([]string, 0, len(order.Items))
		for _, item := range order.Items {
			if _, seen := qtyByProduct[item.ProductID]; !seen {
				productIDs = append(productIDs, item.ProductID)
			}
			qtyByProduct[item.ProductID] += item.Qty
		}
		sort.Strings(productIDs)

		// Привязанные резервы потребляются, а не перепроверяются: их
		// количество уже удержано в reserved_stock и доступно этому заказу.
		heldByProduct := make(map[string]int64, len(order.ReservationIDs))
		consumed := make([]domain.Reservation, 0, len(order.ReservationIDs))
		for _, resID := range order.ReservationIDs {
			reservation, err := e.lockReservationByID(ctx, tx, resID)
			if err != nil {
				return err
			}
			if reservation.Status != domain.ReservationStatusActive {
				return &domain.TransitionError{
					ReservationID: reservation.ID,
					From:          reservation.Status,
					To:            domain.ReservationStatusFulfilled,
				}
			}
			heldByProduct[reservation.ProductID] += reservation.Qty
			consumed = append(consumed, reservation)
		}

		// Каждый потребляемый резерв обязан покрываться позициями заказа,
		// иначе его qty навсегда зависнет в reserved_stock без активного
		// резерва.
		heldProducts := make([]string, 0, len(heldByProduct))
		for productID := range heldByProduct {
			heldProducts = append(heldProducts, productID)
		}
		sort.Strings(heldProducts)
		for _, productID := range heldProducts {
			if held := heldByProduct[productID]; held > qtyByProduct[productID] {
				return fmt.Errorf("product %s: reserved %d exceeds ordered %d: %w",
					productID, held, qtyByProduct[productID], domain.ErrReservationNotInOrder)
			}
		}

		stocks := make(map[string]*lockedStock, len(productIDs))
		var failed []domain.FailedProduct
		for _, productID := range productIDs {
			stock, err := e.lockStock(ctx, tx, productID)
			if errors.Is(err, domain.ErrProductNotFound) {
				failed = append(failed, domain.FailedProduct{
					ProductID: productID,
					Requested: qtyByProduct[productID],
					Available: 0,
					Reason:    "product_not_found",
				})
				continue
			}
			if err != nil {
				return err
			}
			stocks[productID] = stock

			effectiveAvailable := stock.available() + heldByProduct[productID]
			switch {
			case stock.status != domain.StockStatusActive:
				failed = append(failed, domain.FailedProduct{
					ProductID: productID,
					Requested: qtyByProduct[productID],
					Available: effectiveAvailable,
					Reason:    "product_inactive",
				})
			case qtyByProduct[productID] > effectiveAvailable:
				failed = append(failed, domain.FailedProduct{
					ProductID: productID,
					Requested: qtyByProduct[productID],
					Available: effectiveAvailable,
					Reason:    "insufficient_stock",
				})
			}
		}

		// Собираем все проблемные позиции, а не первую: клиент должен видеть,
		// какие именно товары из корзины не прошли.
		if len(failed) > 0 {
			return &domain.OrderRejectedError{Failed: failed}
		}

		// Все проверки пройдены: списываем остаток, закрываем резервы,
		// сохраняем заказ и пишем аудит — всё в этой же транзакции.
		for _, reservation := range consumed {
			if err := e.transitionReservation(ctx, tx, reservation.ID, domain.ReservationStatusFulfilled, now); err != nil {
				return err
			}
		}

		for _, productID := range productIDs {
			stock := stocks[productID]
			qty := qtyByProduct[productID]
			held := heldByProduct[productID]

			newPhysical := stock.physical - qty
			newReserved := stock.reserved - held
			if err := e.updateStock(ctx, tx, productID, newPhysical, newReserved, now); err != nil {
				return err
			}

			operation := domain.AuditOpDecrease
			reason := domain.AuditReasonSale
			if held > 0 {
				operation = domain.AuditOpFulfill
				reason = domain.AuditReasonOrderFulfillment
			}
			if err := e.insertAudit(ctx, tx, domain.AuditEntry{
				ProductID:      productID,
				Operation:      operation,
				PhysicalBefore: stock.physical,
				PhysicalAfter:  newPhysical,
				PhysicalChange: -qty,
				ReservedBefore: stock.reserved,
				ReservedAfter:  newReserved,
				Reason:         reason,
				OrderID:        order.ID,
				Actor:          order.CustomerID,
				OccurredAt:     now,
			}); err != nil {
				return err
			}
		}

		order.Status = domain.OrderStatusCreated
		order.CreatedAt = now
		order.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, number, customer_id, status, currency, total_minor, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			order.ID, order.Number, order.CustomerID, string(order.Status),
			order.Currency, order.TotalMinor, order.CreatedAt, order.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for i := range order.Items {
			item := &order.Items[i]
			if item.ID == "" {
				item.ID = uuid.NewString()
			}
			item.CreatedAt = now
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, product_id, qty, price_minor, line_total_minor, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`,
				item.ID, order.ID, item.ProductID, item.Qty,
				item.PriceMinor, item.LineTotalMinor, item.CreatedAt,
			); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		created = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return created, nil
}

func (e *engine) ExpireBatch(ctx context.Context, before time.Time, limit int) ([]domain.ExpiredReservation, error) {
	if limit <= 0 {
		limit = e.cfg.SweepBatchSize
	}

	// Кандидаты выбираются без блокировки; каждый резерв снимается в
	// отдельной транзакции, чтобы один контендед товар не тормозил остальные.
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, product_id, order_id
		FROM reservations
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query expired reservations: %w", err)
	}
	defer rows.Close()

	type candidateRow struct{ id, productID, orderID string }
	candidates := make([]candidateRow, 0, limit)
	for rows.Next() {
		var c candidateRow
		if err := rows.Scan(&c.id, &c.productID, &c.orderID); err != nil {
			return nil, fmt.Errorf("scan expired reservation: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired reservations: %w", err)
	}

	expired := make([]domain.ExpiredReservation, 0, len(candidates))
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}

		var released domain.ReleaseResult
		err := e.withinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			stock, txErr := e.lockStock(ctx, tx, candidate.productID)
			if txErr != nil {
				return txErr
			}
			// Снимается именно отобранный резерв: поиск по паре мог бы
			// перехватить другой, ещё не просроченный резерв того же заказа.
			reservation, txErr := e.lockReservationByID(ctx, tx, candidate.id)
			if txErr != nil {
				return txErr
			}
			released, txErr = e.finishRelease(ctx, tx, stock, reservation, domain.ReleaseCommand{
				ProductID: candidate.productID,
				OrderID:   candidate.orderID,
				Reason:    domain.AuditReasonOther,
				Notes:     "reservation expired",
				Actor:     "system",
			}, domain.ReservationStatusExpired)
			return txErr
		})
		if err != nil {
			// Резерв могли исполнить или отменить между выборкой и снятием.
			if errors.Is(err, domain.ErrReservationNotFound) || domain.IsInvalidTransition(err) {
				continue
			}
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

// withinTx выполняет fn в одной транзакции с ограниченным ожиданием блокировок.
// Любая ошибка откатывает всё: остаток, резервы, заказ и аудит меняются
// только вместе.
func (e *engine) withinTx(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.LockTimeout+opTimeout)
	defer cancel()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", domain.ErrFulfillmentFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	lockTimeoutMs := e.cfg.LockTimeout.Milliseconds()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeoutMs)); err != nil {
		return fmt.Errorf("%w: set lock timeout: %v", domain.ErrFulfillmentFailed, err)
	}

	if err := fn(ctx, tx); err != nil {
		return mapInfraError(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrFulfillmentFailed, err)
	}
	committed = true
	return nil
}

func (e *engine) lockStock(ctx context.Context, tx *sql.Tx, productID string) (*lockedStock, error) {
	stock := &lockedStock{productID: productID}
	var status string
	err := tx.QueryRowContext(ctx, `
		SELECT physical_stock, reserved_stock, status
		FROM stock_records
		WHERE product_id = $1
		FOR UPDATE
	`, productID).Scan(&stock.physical, &stock.reserved, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("lock stock record: %w", err)
	}
	stock.status = domain.StockStatus(status)
	return stock, nil
}

// lockReservation возвращает последний резерв по паре товар/заказ,
// предпочитая активный.
func (e *engine) lockReservation(ctx context.Context, tx *sql.Tx, productID, orderID string) (domain.Reservation, error) {
	var (
		reservation domain.Reservation
		status      string
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, product_id, order_id, qty, status, notes, created_at, expires_at, updated_at
		FROM reservations
		WHERE product_id = $1 AND order_id = $2
		ORDER BY (status = 'active') DESC, created_at DESC
		LIMIT 1
		FOR UPDATE
	`, productID, orderID).Scan(
		&reservation.ID, &reservation.ProductID, &reservation.OrderID, &reservation.Qty,
		&status, &reservation.Notes, &reservation.CreatedAt, &reservation.ExpiresAt, &reservation.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("lock reservation: %w", err)
	}
	reservation.Status = domain.ReservationStatus(status)
	return reservation, nil
}

func (e *engine) lockReservationByID(ctx context.Context, tx *sql.Tx, id string) (domain.Reservation, error) {
	var (
		reservation domain.Reservation
		status      string
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, product_id, order_id, qty, status, notes, created_at, expires_at, updated_at
		FROM reservations
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(
		&reservation.ID, &reservation.ProductID, &reservation.OrderID, &reservation.Qty,
		&status, &reservation.Notes, &reservation.CreatedAt, &reservation.ExpiresAt, &reservation.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("lock reservation by id: %w", err)
	}
	reservation.Status = domain.ReservationStatus(status)
	return reservation, nil
}

func (e *engine) updateStock(ctx context.Context, tx *sql.Tx, productID string, physical, reserved int64, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE stock_records
		SET physical_stock = $2,
		    reserved_stock = $3,
		    version = version + 1,
		    updated_at = $4
		WHERE product_id = $1
	`, productID, physical, reserved, now)
	if err != nil {
		return fmt.Errorf("update stock record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update stock rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (e *engine) transitionReservation(ctx context.Context, tx *sql.Tx, id string, to domain.ReservationStatus, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE reservations
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'active'
	`, id, string(to), now)
	if err != nil {
		return fmt.Errorf("transition reservation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition reservation rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrReservationNotFound
	}
	return nil
}

func (e *engine) insertAudit(ctx context.Context, tx *sql.Tx, entry domain.AuditEntry) error {
	// Потеря записи аудита равносильна потере операции: ошибка вставки
	// валит всю транзакцию.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_entries (
			product_id, operation, physical_before, physical_after, physical_change,
			reserved_before, reserved_after, reason, notes, order_id, actor, occurred_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		entry.ProductID, string(entry.Operation),
		entry.PhysicalBefore, entry.PhysicalAfter, entry.PhysicalChange,
		entry.ReservedBefore, entry.ReservedAfter,
		string(entry.Reason), entry.Notes, entry.OrderID, entry.Actor, entry.OccurredAt,
	); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// mapInfraError переводит сбои уровня хранилища в retryable-ошибку движка.
// Бизнес-ошибки и ошибки валидации проходят без изменений.
func mapInfraError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", // lock_not_available
			"40001", // serialization_failure
			"40P01", // deadlock_detected
			"57014": // query_canceled (статement timeout)
			return fmt.Errorf("%w: %v", domain.ErrFulfillmentFailed, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", domain.ErrFulfillmentFailed, err)
	}
	return err
}

const opTimeout = 5 * time.Second

var _ domain.StockEngine = (*engine)(nil)
