package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ims/internal/metrics"
)

// Manager оборачивает операции резервирования движка: валидация команд,
// постановка событий в outbox, метрики и сигналы о низком остатке.
// Вся атомарность остаётся внутри StockEngine, Manager ничего не блокирует сам.
type Manager struct {
	engine       domain.StockEngine
	stocks       domain.StockRepository
	reservations domain.ReservationRepository
	outbox       domain.OutboxRepository
	logger       *log.Entry
	metrics      *metrics.EngineMetrics
}

// NewManager создаёт рабочий экземпляр менеджера резервов.
func NewManager(
	engine domain.StockEngine,
	stocks domain.StockRepository,
	reservations domain.ReservationRepository,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Manager {
	if logger == nil {
		logger = log.New().WithField("component", "reservation")
	}
	return &Manager{
		engine:       engine,
		stocks:       stocks,
		reservations: reservations,
		outbox:       outbox,
		logger:       logger,
		metrics:      metrics.NewEngineMetrics(),
	}
}

// NewManagerWithoutMetrics создаёт менеджер без метрик (для тестов).
func NewManagerWithoutMetrics(
	engine domain.StockEngine,
	stocks domain.StockRepository,
	reservations domain.ReservationRepository,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Manager {
	if logger == nil {
		logger = log.New().WithField("component", "reservation")
	}
	return &Manager{
		engine:       engine,
		stocks:       stocks,
		reservations: reservations,
		outbox:       outbox,
		logger:       logger,
	}
}

// Reserve удерживает остаток под заказ и ставит событие stock.reserved в outbox.
func (m *Manager) Reserve(ctx context.Context, cmd domain.ReserveCommand) (domain.ReserveResult, error) {
	if err := validateReserveCommand(cmd); err != nil {
		return domain.ReserveResult{}, err
	}

	start := time.Now()
	result, err := m.engine.Reserve(ctx, cmd)
	m.recordOpDuration("reserve", start)
	if err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"product_id": cmd.ProductID,
			"order_id":   cmd.OrderID,
			"qty":        cmd.Qty,
		}).Warn("reserve failed")
		return domain.ReserveResult{}, err
	}

	if m.metrics != nil {
		m.metrics.RecordReservationCreated()
	}
	m.publishStockEvent(kafka.EventTypeStockReserved, cmd.ProductID, cmd.OrderID, cmd.Qty, result.AvailableAfter)
	m.checkLowStock(cmd.ProductID)

	m.logger.WithFields(log.Fields{
		"reservation_id": result.Reservation.ID,
		"product_id":     cmd.ProductID,
		"order_id":       cmd.OrderID,
		"qty":            cmd.Qty,
		"available":      result.AvailableAfter,
	}).Info("reservation created")

	return result, nil
}

// Fulfill исполняет активный резерв и ставит событие stock.fulfilled в outbox.
// Повторный вызов по уже исполненному резерву — идемпотентный no-op без события.
func (m *Manager) Fulfill(ctx context.Context, cmd domain.FulfillCommand) (domain.FulfillResult, error) {
	if cmd.ProductID == "" {
		return domain.FulfillResult{}, domain.ErrProductIDRequired
	}
	if cmd.OrderID == "" {
		return domain.FulfillResult{}, domain.ErrOrderIDRequired
	}

	start := time.Now()
	result, err := m.engine.Fulfill(ctx, cmd)
	m.recordOpDuration("fulfill", start)
	if err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"product_id": cmd.ProductID,
			"order_id":   cmd.OrderID,
		}).Warn("fulfill failed")
		return domain.FulfillResult{}, err
	}

	if result.AlreadyTerminal {
		m.logger.WithFields(log.Fields{
			"reservation_id": result.Reservation.ID,
			"order_id":       cmd.OrderID,
		}).Debug("reservation already fulfilled, skipping")
		return result, nil
	}

	if m.metrics != nil {
		m.metrics.RecordReservationFulfilled()
	}
	m.publishStockEvent(kafka.EventTypeStockFulfilled, cmd.ProductID, cmd.OrderID, result.Reservation.Qty, result.AvailableAfter)

	m.logger.WithFields(log.Fields{
		"reservation_id": result.Reservation.ID,
		"product_id":     cmd.ProductID,
		"order_id":       cmd.OrderID,
		"physical":       result.PhysicalAfter,
	}).Info("reservation fulfilled")

	return result, nil
}

// Release снимает активный резерв и ставит событие stock.released в outbox.
// Повторный вызов по уже отменённому резерву — идемпотентный no-op без события.
func (m *Manager) Release(ctx context.Context, cmd domain.ReleaseCommand) (domain.ReleaseResult, error) {
	if cmd.ProductID == "" {
		return domain.ReleaseResult{}, domain.ErrProductIDRequired
	}
	if cmd.OrderID == "" {
		return domain.ReleaseResult{}, domain.ErrOrderIDRequired
	}
	if cmd.Reason == "" {
		cmd.Reason = domain.AuditReasonOrderCancellation
	}

	start := time.Now()
	result, err := m.engine.Release(ctx, cmd)
	m.recordOpDuration("release", start)
	if err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"product_id": cmd.ProductID,
			"order_id":   cmd.OrderID,
		}).Warn("release failed")
		return domain.ReleaseResult{}, err
	}

	if result.AlreadyTerminal {
		m.logger.WithFields(log.Fields{
			"reservation_id": result.Reservation.ID,
			"order_id":       cmd.OrderID,
		}).Debug("reservation already released, skipping")
		return result, nil
	}

	if m.metrics != nil {
		m.metrics.RecordReservationReleased()
	}
	m.publishStockEvent(kafka.EventTypeStockReleased, cmd.ProductID, cmd.OrderID, result.Reservation.Qty, result.AvailableAfter)

	m.logger.WithFields(log.Fields{
		"reservation_id": result.Reservation.ID,
		"product_id":     cmd.ProductID,
		"order_id":       cmd.OrderID,
		"available":      result.AvailableAfter,
	}).Info("reservation released")

	return result, nil
}

// ReleaseOrder снимает все активные резервы заказа. Используется при отмене
// заказа из внешних систем (команда order.cancel_requested). Терминальные
// резервы пропускаются, первая invalid-transition ошибка не прерывает обход.
func (m *Manager) ReleaseOrder(ctx context.Context, orderID, actor string) (int, error) {
	if orderID == "" {
		return 0, domain.ErrOrderIDRequired
	}

	reservations, err := m.reservations.ListByOrder(orderID)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, res := range reservations {
		if res.Status != domain.ReservationStatusActive {
			continue
		}
		_, err := m.Release(ctx, domain.ReleaseCommand{
			ProductID: res.ProductID,
			OrderID:   orderID,
			Reason:    domain.AuditReasonOrderCancellation,
			Actor:     actor,
		})
		if err != nil {
			if errors.Is(err, domain.ErrReservationNotFound) || domain.IsInvalidTransition(err) {
				// Резерв успели исполнить или снять параллельно.
				continue
			}
			return released, err
		}
		released++
	}

	return released, nil
}

// Get возвращает резерв по идентификатору.
func (m *Manager) Get(id string) (domain.Reservation, error) {
	return m.reservations.Get(id)
}

// ListByOrder возвращает все резервы заказа.
func (m *Manager) ListByOrder(orderID string) ([]domain.Reservation, error) {
	if orderID == "" {
		return nil, domain.ErrOrderIDRequired
	}
	return m.reservations.ListByOrder(orderID)
}

func (m *Manager) recordOpDuration(op string, start time.Time) {
	if m.metrics != nil {
		m.metrics.RecordOpDuration(op, time.Since(start))
	}
}

// publishStockEvent ставит событие движения остатка в outbox.
// Ошибка постановки логируется, но не ломает уже зафиксированную операцию.
func (m *Manager) publishStockEvent(eventType kafka.EventType, productID, orderID string, qty, available int64) {
	event := kafka.NewStockEvent(eventType, productID, orderID, qty, available)
	payload, err := json.Marshal(event)
	if err != nil {
		m.logger.WithError(err).WithField("event_type", eventType).Error("marshal stock event")
		return
	}

	_, err = m.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "stock",
		AggregateID:   productID,
		EventType:     string(eventType),
		Payload:       payload,
	})
	if err != nil {
		m.logger.WithError(err).WithField("event_type", eventType).Error("enqueue stock event")
		return
	}
	if m.metrics != nil {
		m.metrics.RecordOutboxEvent()
	}
}

// checkLowStock публикует stock.low, если доступный остаток дошёл до точки перезаказа.
func (m *Manager) checkLowStock(productID string) {
	rec, err := m.stocks.Get(productID)
	if err != nil {
		m.logger.WithError(err).WithField("product_id", productID).Warn("low stock check failed")
		return
	}
	if !rec.BelowReorderPoint() {
		return
	}

	if m.metrics != nil {
		m.metrics.RecordLowStockAlert()
	}
	m.publishStockEvent(kafka.EventTypeStockLow, productID, "", rec.ReorderQty, rec.Available())
	m.logger.WithFields(log.Fields{
		"product_id":    productID,
		"available":     rec.Available(),
		"reorder_point": rec.ReorderPoint,
	}).Warn("stock below reorder point")
}

func validateReserveCommand(cmd domain.ReserveCommand) error {
	if cmd.ProductID == "" {
		return domain.ErrProductIDRequired
	}
	if cmd.OrderID == "" {
		return domain.ErrOrderIDRequired
	}
	if cmd.Qty <= 0 {
		return domain.ErrReservationQtyInvalid
	}
	return nil
}
