package adjustment

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

// Service — административный контур склада: заведение складских записей,
// корректировки остатка, батчи и выборки журнала аудита.
type Service struct {
	engine  domain.StockEngine
	stocks  domain.StockRepository
	audits  domain.AuditRepository
	outbox  domain.OutboxRepository
	cfg     domain.EngineConfig
	logger  *log.Entry
	metrics *metrics.EngineMetrics
}

// NewService создаёт рабочий экземпляр административного сервиса.
func NewService(
	engine domain.StockEngine,
	stocks domain.StockRepository,
	audits domain.AuditRepository,
	outbox domain.OutboxRepository,
	cfg domain.EngineConfig,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "adjustment")
	}
	return &Service{
		engine:  engine,
		stocks:  stocks,
		audits:  audits,
		outbox:  outbox,
		cfg:     cfg.Normalize(),
		logger:  logger,
		metrics: metrics.NewEngineMetrics(),
	}
}

// NewServiceWithoutMetrics создаёт сервис без метрик (для тестов).
func NewServiceWithoutMetrics(
	engine domain.StockEngine,
	stocks domain.StockRepository,
	audits domain.AuditRepository,
	outbox domain.OutboxRepository,
	cfg domain.EngineConfig,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "adjustment")
	}
	return &Service{
		engine: engine,
		stocks: stocks,
		audits: audits,
		outbox: outbox,
		cfg:    cfg.Normalize(),
		logger: logger,
	}
}

// CreateStock заводит складскую запись, подставляя плановые значения
// перезаказа из конфигурации, если они не заданы явно.
func (s *Service) CreateStock(rec domain.StockRecord) (domain.StockRecord, error) {
	if rec.ReorderPoint == 0 {
		rec.ReorderPoint = s.cfg.DefaultReorderPoint
	}
	if rec.ReorderQty == 0 {
		rec.ReorderQty = s.cfg.DefaultReorderQty
	}

	created, err := s.stocks.Create(rec)
	if err != nil {
		return domain.StockRecord{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id": created.ProductID,
		"sku":        created.SKU,
		"physical":   created.PhysicalStock,
	}).Info("stock record created")

	return created, nil
}

// GetStock возвращает складскую запись по товару.
func (s *Service) GetStock(productID string) (domain.StockRecord, error) {
	if productID == "" {
		return domain.StockRecord{}, domain.ErrProductIDRequired
	}
	return s.stocks.Get(productID)
}

// SetStatus активирует либо деактивирует товар. Деактивация не трогает
// существующие резервы: они доживают свой жизненный цикл обычным порядком.
func (s *Service) SetStatus(productID string, status domain.StockStatus) error {
	if productID == "" {
		return domain.ErrProductIDRequired
	}
	if err := s.stocks.SetStatus(productID, status); err != nil {
		return err
	}

	s.logger.WithFields(log.Fields{
		"product_id": productID,
		"status":     status,
	}).Info("stock status changed")
	return nil
}

// Adjust применяет одну административную корректировку остатка
// и ставит событие stock.adjusted в outbox.
func (s *Service) Adjust(ctx context.Context, cmd domain.AdjustmentCommand) (domain.AdjustmentResult, error) {
	if errs := cmd.Validate(); len(errs) > 0 {
		return domain.AdjustmentResult{}, errors.Join(errs...)
	}

	start := time.Now()
	result, err := s.engine.Adjust(ctx, cmd)
	if s.metrics != nil {
		s.metrics.RecordOpDuration("adjust", time.Since(start))
	}
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"product_id": cmd.ProductID,
			"type":       cmd.Type,
			"quantity":   cmd.Quantity,
		}).Warn("adjustment failed")
		return domain.AdjustmentResult{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordAdjustmentApplied()
	}
	s.publishAdjustedEvent(cmd, result)

	s.logger.WithFields(log.Fields{
		"product_id": cmd.ProductID,
		"type":       cmd.Type,
		"quantity":   cmd.Quantity,
		"physical":   result.NewPhysicalStock,
		"actor":      cmd.Actor,
	}).Info("stock adjusted")

	return result, nil
}

// BulkAdjust применяет батч корректировок. Позиции независимы: отказ одной
// не откатывает остальные, частичный успех — контракт операции.
func (s *Service) BulkAdjust(ctx context.Context, cmds []domain.AdjustmentCommand) domain.BulkAdjustmentResult {
	result := domain.BulkAdjustmentResult{}
	for _, cmd := range cmds {
		applied, err := s.Adjust(ctx, cmd)
		if err != nil {
			result.Errors = append(result.Errors, domain.BulkAdjustmentError{
				ProductID: cmd.ProductID,
				Code:      adjustmentErrorCode(err),
				Message:   err.Error(),
			})
			continue
		}
		result.UpdatedCount++
		result.Results = append(result.Results, applied)
	}
	return result
}

// QueryAudit возвращает страницу журнала аудита и общее число записей.
func (s *Service) QueryAudit(filter domain.AuditFilter) ([]domain.AuditEntry, int, error) {
	return s.audits.Query(filter.Normalize())
}

func (s *Service) publishAdjustedEvent(cmd domain.AdjustmentCommand, result domain.AdjustmentResult) {
	if s.outbox == nil {
		return
	}

	event := kafka.NewStockEvent(kafka.EventTypeStockAdjusted, cmd.ProductID, "", cmd.Quantity, result.AvailableAfter)
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).WithField("product_id", cmd.ProductID).Error("marshal adjusted event")
		return
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "stock",
		AggregateID:   cmd.ProductID,
		EventType:     string(kafka.EventTypeStockAdjusted),
		Payload:       payload,
	}); err != nil {
		s.logger.WithError(err).WithField("product_id", cmd.ProductID).Error("enqueue adjusted event")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
}

// adjustmentErrorCode сводит ошибку к machine-readable коду для батча.
func adjustmentErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		return "product_not_found"
	case domain.IsInsufficientUnreservedStock(err):
		return "insufficient_unreserved_stock"
	case errors.Is(err, domain.ErrAdjustmentTypeInvalid),
		errors.Is(err, domain.ErrAdjustmentQtyInvalid),
		errors.Is(err, domain.ErrAuditReasonInvalid),
		errors.Is(err, domain.ErrActorRequired),
		errors.Is(err, domain.ErrProductIDRequired):
		return "validation_failed"
	case domain.IsRetryable(err):
		return "retryable_failure"
	default:
		return "internal_error"
	}
}
