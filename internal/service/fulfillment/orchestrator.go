package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ims/internal/metrics"
	"github.com/vladislavdragonenkov/ims/internal/service/reservation"
)

// Orchestrator отвечает за атомарное создание заказов поверх StockEngine:
// вся проверка и списание остатков происходят в одной транзакции движка,
// оркестратор добавляет идентификаторы, события и метрики.
type Orchestrator struct {
	engine       domain.StockEngine
	orders       domain.OrderRepository
	reservations *reservation.Manager
	outbox       domain.OutboxRepository
	logger       *log.Entry
	metrics      *metrics.EngineMetrics
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора заказов.
func NewOrchestrator(
	engine domain.StockEngine,
	orders domain.OrderRepository,
	reservations *reservation.Manager,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "fulfillment")
	}
	return &Orchestrator{
		engine:       engine,
		orders:       orders,
		reservations: reservations,
		outbox:       outbox,
		logger:       logger,
		metrics:      metrics.NewEngineMetrics(),
	}
}

// NewOrchestratorWithoutMetrics создаёт оркестратор без метрик (для тестов).
func NewOrchestratorWithoutMetrics(
	engine domain.StockEngine,
	orders domain.OrderRepository,
	reservations *reservation.Manager,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "fulfillment")
	}
	return &Orchestrator{
		engine:       engine,
		orders:       orders,
		reservations: reservations,
		outbox:       outbox,
		logger:       logger,
	}
}

// CreateOrder создаёт заказ целиком либо не создаёт вовсе. При отклонении
// возвращается OrderRejectedError со всеми проблемными позициями сразу.
func (o *Orchestrator) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Number == "" {
		order.Number = generateOrderNumber()
	}
	order.Status = domain.OrderStatusCreated

	start := time.Now()
	created, err := o.engine.CreateOrder(ctx, order)
	if o.metrics != nil {
		o.metrics.RecordOpDuration("create_order", time.Since(start))
	}
	if err != nil {
		if domain.IsOrderRejected(err) {
			if o.metrics != nil {
				o.metrics.RecordOrderRejected()
			}
			o.publishOrderEvent(kafka.EventTypeOrderRejected, order)
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id":    order.ID,
				"customer_id": order.CustomerID,
			}).Warn("order rejected by stock validation")
			return domain.Order{}, err
		}
		o.logger.WithError(err).WithField("order_id", order.ID).Error("order creation failed")
		return domain.Order{}, err
	}

	if o.metrics != nil {
		o.metrics.RecordOrderCreated()
	}
	o.publishOrderEvent(kafka.EventTypeOrderCreated, created)

	o.logger.WithFields(log.Fields{
		"order_id":     created.ID,
		"number":       created.Number,
		"customer_id":  created.CustomerID,
		"items":        len(created.Items),
		"total_minor":  created.TotalMinor,
		"reservations": len(created.ReservationIDs),
	}).Info("order created")

	return created, nil
}

// GetOrder возвращает заказ по идентификатору.
func (o *Orchestrator) GetOrder(id string) (domain.Order, error) {
	if id == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o.orders.Get(id)
}

// CancelOrder обрабатывает команду отмены из внешней системы: снимает все
// активные резервы заказа и публикует событие отмены. Уже исполненные
// резервы остаются исполненными, компенсация списаний не выполняется.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID, actor string) (int, error) {
	released, err := o.reservations.ReleaseOrder(ctx, orderID, actor)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", orderID).Warn("order cancellation failed")
		return released, err
	}

	o.logger.WithFields(log.Fields{
		"order_id": orderID,
		"released": released,
		"actor":    actor,
	}).Info("order cancellation processed")

	return released, nil
}

func (o *Orchestrator) publishOrderEvent(eventType kafka.EventType, order domain.Order) {
	if o.outbox == nil {
		return
	}

	status := string(order.Status)
	if eventType == kafka.EventTypeOrderRejected {
		status = "rejected"
	}

	event := kafka.NewOrderEvent(eventType, order.ID, order.Number, order.CustomerID, status, order.Currency, order.TotalMinor)
	payload, err := json.Marshal(event)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("marshal order event")
		return
	}

	if _, err := o.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       payload,
	}); err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("enqueue order event")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordOutboxEvent()
	}
}

// generateOrderNumber собирает человекочитаемый номер вида IMS-20260831-A1B2C3D4.
func generateOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return "IMS-" + time.Now().UTC().Format("20060102") + "-" + suffix
}
