package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics содержит метрики операций движка остатков.
type EngineMetrics struct {
	// Счётчики операций
	reservationsCreated   prometheus.Counter
	reservationsFulfilled prometheus.Counter
	reservationsReleased  prometheus.Counter
	reservationsExpired   prometheus.Counter
	adjustmentsApplied    prometheus.Counter
	ordersCreated         prometheus.Counter
	ordersRejected        prometheus.Counter

	// Гистограмма времени выполнения операций движка
	opDuration *prometheus.HistogramVec

	// Счётчики событий
	outboxEvents   prometheus.Counter
	lowStockAlerts prometheus.Counter

	// Gauge для активных резервов
	activeReservations prometheus.Gauge
}

// NewEngineMetrics создаёт новый экземпляр метрик движка.
func NewEngineMetrics() *EngineMetrics {
	return newEngineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newEngineMetricsWithRegisterer(registerer prometheus.Registerer) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &EngineMetrics{
		reservationsCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ims_reservations_created_total",
			Help: "Total number of stock reservations created",
		}),
		reservationsFulfilled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ims_reservations_fulfilled_total",
			Help: "Total number of stock reservations fulfilled",
		}),
		reservationsReleased: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ims_reservations_released_total",
			Help: "Total number of stock reservations released by cancellation",
		}),
		reservationsExpired: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ims_reservations_expired_total",
			Help: "Total number of stock reservations released by TTL expiry",
		}),
		adjustmentsApplied: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ims_adjustments_applied_total",
			Help: "Total number of administrative stock adjustments applied",
		}),
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ims_orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersRejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ims_orders_rejected_total",
			Help: "Total number of orders rejected by stock validation",
		}),
		opDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "ims_engine_op_duration_seconds",
			Help:    "Duration of stock engine operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"op"}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ims_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		lowStockAlerts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ims_low_stock_alerts_total",
			Help: "Total number of low stock alerts emitted",
		}),
		activeReservations: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "ims_active_reservations",
			Help: "Number of currently active stock reservations",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordReservationCreated увеличивает счётчик созданных резервов и число активных.
func (m *EngineMetrics) RecordReservationCreated() {
	m.reservationsCreated.Inc()
	m.activeReservations.Inc()
}

// RecordReservationFulfilled фиксирует исполненный резерв.
func (m *EngineMetrics) RecordReservationFulfilled() {
	m.reservationsFulfilled.Inc()
	m.activeReservations.Dec()
}

// RecordReservationReleased фиксирует отменённый резерв.
func (m *EngineMetrics) RecordReservationReleased() {
	m.reservationsReleased.Inc()
	m.activeReservations.Dec()
}

// RecordReservationExpired фиксирует резерв, снятый по истечении срока.
func (m *EngineMetrics) RecordReservationExpired() {
	m.reservationsExpired.Inc()
	m.activeReservations.Dec()
}

// RecordAdjustmentApplied увеличивает счётчик применённых корректировок.
func (m *EngineMetrics) RecordAdjustmentApplied() {
	m.adjustmentsApplied.Inc()
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *EngineMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

// RecordOrderRejected увеличивает счётчик отклонённых заказов.
func (m *EngineMetrics) RecordOrderRejected() {
	m.ordersRejected.Inc()
}

// RecordOpDuration записывает время выполнения операции движка.
func (m *EngineMetrics) RecordOpDuration(op string, duration time.Duration) {
	m.opDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordOutboxEvent увеличивает счётчик поставленных в outbox событий.
func (m *EngineMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordLowStockAlert увеличивает счётчик сигналов о низком остатке.
func (m *EngineMetrics) RecordLowStockAlert() {
	m.lowStockAlerts.Inc()
}
