package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/retry"
	"github.com/vladislavdragonenkov/ims/internal/service/adjustment"
	"github.com/vladislavdragonenkov/ims/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/ims/internal/service/reservation"
	"github.com/vladislavdragonenkov/ims/internal/storage/postgres"
)

// Dependencies содержит собранный граф зависимостей сервиса.
type Dependencies struct {
	Store *postgres.Store

	Engine          domain.StockEngine
	Stocks          domain.StockRepository
	Reservations    domain.ReservationRepository
	Audits          domain.AuditRepository
	Orders          domain.OrderRepository
	OutboxRepo      domain.OutboxRepository
	IdempotencyRepo domain.IdempotencyRepository

	ReservationSvc *reservation.Manager
	StockSvc       *adjustment.Service
	OrderSvc       *fulfillment.Orchestrator

	Logger *log.Entry
}

// NewDependencies подключается к PostgreSQL и собирает сервисы движка.
// Хранилище обязательно: при недоступной базе возвращается ошибка,
// подмена живых остатков in-memory заглушкой не выполняется.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres dsn is required (IMS_POSTGRES_DSN)")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}

	// Инфраструктурные сбои движка (таймаут блокировки, обрыв соединения)
	// повторяются с backoff, бизнес-отказы проходят без повторов.
	engine := retry.New(postgres.NewEngine(store, cfg.Engine), retry.DefaultConfig(),
		logger.WithField("component", "retry-engine"))
	stocks := postgres.NewStockRepository(store)
	reservations := postgres.NewReservationRepository(store)
	audits := postgres.NewAuditRepository(store)
	orders := postgres.NewOrderRepository(store)
	outboxRepo := postgres.NewOutboxRepository(store)
	idempotencyRepo := postgres.NewIdempotencyRepository(store)

	reservationSvc := reservation.NewManager(engine, stocks, reservations, outboxRepo,
		logger.WithField("component", "reservation"))
	stockSvc := adjustment.NewService(engine, stocks, audits, outboxRepo, cfg.Engine,
		logger.WithField("component", "adjustment"))
	orderSvc := fulfillment.NewOrchestrator(engine, orders, reservationSvc, outboxRepo,
		logger.WithField("component", "fulfillment"))

	return &Dependencies{
		Store:           store,
		Engine:          engine,
		Stocks:          stocks,
		Reservations:    reservations,
		Audits:          audits,
		Orders:          orders,
		OutboxRepo:      outboxRepo,
		IdempotencyRepo: idempotencyRepo,
		ReservationSvc:  reservationSvc,
		StockSvc:        stockSvc,
		OrderSvc:        orderSvc,
		Logger:          logger,
	}, nil
}

// Close освобождает ресурсы графа зависимостей.
func (d *Dependencies) Close() error {
	if d == nil || d.Store == nil {
		return nil
	}
	return d.Store.Close()
}
