package retry

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// Config конфигурация для retry логики.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Engine оборачивает StockEngine retry логикой: повторяются только операции,
// завершившиеся retryable-ошибкой инфраструктуры. Бизнес-отказы (нехватка
// остатка, недопустимый переход) возвращаются сразу.
type Engine struct {
	inner  domain.StockEngine
	config Config
	logger *log.Entry
}

// New создаёт retry-обёртку над движком остатков.
func New(inner domain.StockEngine, config Config, logger *log.Entry) *Engine {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = DefaultConfig().InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultConfig().MaxDelay
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = DefaultConfig().BackoffFactor
	}
	if logger == nil {
		logger = log.New().WithField("component", "retry-engine")
	}

	return &Engine{
		inner:  inner,
		config: config,
		logger: logger,
	}
}

func (e *Engine) Reserve(ctx context.Context, cmd domain.ReserveCommand) (domain.ReserveResult, error) {
	var result domain.ReserveResult
	err := e.executeWithRetry(ctx, "Reserve", func() error {
		var opErr error
		result, opErr = e.inner.Reserve(ctx, cmd)
		return opErr
	})
	return result, err
}

func (e *Engine) Fulfill(ctx context.Context, cmd domain.FulfillCommand) (domain.FulfillResult, error) {
	var result domain.FulfillResult
	err := e.executeWithRetry(ctx, "Fulfill", func() error {
		var opErr error
		result, opErr = e.inner.Fulfill(ctx, cmd)
		return opErr
	})
	return result, err
}

func (e *Engine) Release(ctx context.Context, cmd domain.ReleaseCommand) (domain.ReleaseResult, error) {
	var result domain.ReleaseResult
	err := e.executeWithRetry(ctx, "Release", func() error {
		var opErr error
		result, opErr = e.inner.Release(ctx, cmd)
		return opErr
	})
	return result, err
}

func (e *Engine) Adjust(ctx context.Context, cmd domain.AdjustmentCommand) (domain.AdjustmentResult, error) {
	var result domain.AdjustmentResult
	err := e.executeWithRetry(ctx, "Adjust", func() error {
		var opErr error
		result, opErr = e.inner.Adjust(ctx, cmd)
		return opErr
	})
	return result, err
}

func (e *Engine) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	var result domain.Order
	err := e.executeWithRetry(ctx, "CreateOrder", func() error {
		var opErr error
		result, opErr = e.inner.CreateOrder(ctx, order)
		return opErr
	})
	return result, err
}

func (e *Engine) ExpireBatch(ctx context.Context, before time.Time, limit int) ([]domain.ExpiredReservation, error) {
	var result []domain.ExpiredReservation
	err := e.executeWithRetry(ctx, "ExpireBatch", func() error {
		var opErr error
		result, opErr = e.inner.ExpireBatch(ctx, before, limit)
		return opErr
	})
	return result, err
}

func (e *Engine) executeWithRetry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	delay := e.config.InitialDelay

	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				e.logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("operation succeeded after retry")
			}
			return nil
		}

		if !domain.IsRetryable(err) {
			return err
		}
		lastErr = err

		if attempt < e.config.MaxAttempts {
			e.logger.WithFields(log.Fields{
				"operation": operation,
				"attempt":   attempt,
				"delay":     delay,
				"error":     err,
			}).Warn("operation failed, retrying")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}

			delay = time.Duration(float64(delay) * e.config.BackoffFactor)
			if delay > e.config.MaxDelay {
				delay = e.config.MaxDelay
			}
		}
	}

	e.logger.WithFields(log.Fields{
		"operation":    operation,
		"max_attempts": e.config.MaxAttempts,
		"error":        lastErr,
	}).Error("operation failed after all retry attempts")

	return lastErr
}

var _ domain.StockEngine = (*Engine)(nil)
