package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/messaging/kafka"
)

const (
	defaultSweepInterval  = time.Minute
	defaultSweepBatchSize = 100
)

var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ims_reservation_sweep_runs_total",
		Help: "Total number of reservation sweep runs grouped by result.",
	}, []string{"result"})
	sweepExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ims_reservations_swept_total",
		Help: "Total number of reservations released by TTL sweeps.",
	})
	sweepLastExpired = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ims_reservation_sweep_last_expired",
		Help: "Number of reservations released during the last sweep run.",
	})
)

// SweeperOptions задает параметры reaper-а просроченных резервов.
type SweeperOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

// SweeperOption настраивает Sweeper.
type SweeperOption func(*SweeperOptions)

// WithSweepLogger задает logger для reaper-а.
func WithSweepLogger(logger *log.Entry) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Logger = logger
	}
}

// WithSweepInterval задает интервал между проходами.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Interval = interval
	}
}

// WithSweepBatchSize задает предел резервов на один проход.
func WithSweepBatchSize(batchSize int) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.BatchSize = batchSize
	}
}

// Sweeper периодически снимает активные резервы с истёкшим сроком.
// Истечение срока — единственная ленивость движка: резерв остаётся исполнимым,
// пока его не обработает этот воркер.
type Sweeper struct {
	engine    domain.StockEngine
	outbox    domain.OutboxRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewSweeper создает reaper просроченных резервов.
func NewSweeper(engine domain.StockEngine, outbox domain.OutboxRepository, options ...SweeperOption) *Sweeper {
	opts := SweeperOptions{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reservation-sweeper")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}

	return &Sweeper{
		engine:    engine,
		outbox:    outbox,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодические проходы до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.engine == nil {
		s.logger.Warn("reservation sweeper is disabled: engine is nil")
		return
	}

	s.sweep(ctx, time.Now().UTC())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, time.Now().UTC())
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, before time.Time) {
	expired, err := s.SweepExpired(ctx, before)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		sweepRunsTotal.WithLabelValues("error").Inc()
		s.logger.WithError(err).Warn("reservation sweep run failed")
		return
	}

	sweepRunsTotal.WithLabelValues("ok").Inc()
	sweepLastExpired.Set(float64(expired))
	if expired > 0 {
		s.logger.WithField("expired", expired).Info("reservation sweep completed")
	}
}

// SweepExpired снимает все резервы с дедлайном <= before порциями batchSize
// и публикует по событию stock.expired на каждый снятый резерв.
func (s *Sweeper) SweepExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	totalExpired := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalExpired, err
		}

		batch, err := s.engine.ExpireBatch(ctx, before, s.batchSize)
		if err != nil {
			return totalExpired, err
		}

		for _, exp := range batch {
			s.publishExpiredEvent(exp)
		}

		totalExpired += len(batch)
		if len(batch) > 0 {
			sweepExpiredTotal.Add(float64(len(batch)))
		}

		if len(batch) < s.batchSize {
			break
		}
	}

	return totalExpired, nil
}

func (s *Sweeper) publishExpiredEvent(exp domain.ExpiredReservation) {
	if s.outbox == nil {
		return
	}

	res := exp.Reservation
	event := kafka.NewStockEvent(kafka.EventTypeStockExpired, res.ProductID, res.OrderID, res.Qty, exp.AvailableAfter)
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).WithField("reservation_id", res.ID).Error("marshal expired event")
		return
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "stock",
		AggregateID:   res.ProductID,
		EventType:     string(kafka.EventTypeStockExpired),
		Payload:       payload,
	}); err != nil {
		s.logger.WithError(err).WithField("reservation_id", res.ID).Error("enqueue expired event")
	}
}
