package domain

import "time"

const (
	defaultReservationTTL = 24 * time.Hour
	defaultLockTimeout    = 5 * time.Second
	defaultSweepInterval  = time.Minute
	defaultSweepBatchSize = 100
)

// EngineConfig — явные настройки движка. Ничего из этого не является
// встроенной константой: значения задаются на уровне деплоймента.
type EngineConfig struct {
	// ReservationTTL — срок жизни резерва по умолчанию.
	ReservationTTL time.Duration
	// LockTimeout — предельное ожидание блокировки строк остатка; по его
	// истечении операция завершается как инфраструктурный сбой, а не висит.
	LockTimeout time.Duration
	// SweepInterval и SweepBatchSize управляют reaper-ом просроченных резервов.
	SweepInterval  time.Duration
	SweepBatchSize int
	// DefaultReorderPoint и DefaultReorderQty проставляются новым складским
	// записям, если при создании не заданы явно.
	DefaultReorderPoint int64
	DefaultReorderQty   int64
}

// Normalize приводит конфигурацию к безопасным значениям по умолчанию.
func (c EngineConfig) Normalize() EngineConfig {
	if c.ReservationTTL <= 0 {
		c.ReservationTTL = defaultReservationTTL
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = defaultLockTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = defaultSweepBatchSize
	}
	if c.DefaultReorderPoint < 0 {
		c.DefaultReorderPoint = 0
	}
	if c.DefaultReorderQty < 0 {
		c.DefaultReorderQty = 0
	}
	return c
}
