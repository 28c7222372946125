package app

import (
	"os"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// Config описывает настройки запуска сервиса. Значения читаются из окружения
// с префиксом IMS_, незаданные поля получают значения по умолчанию.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	// PostgresDSN обязателен: движок не работает поверх заглушек хранилища.
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers  string
	ConsumerGroup string
	MaxRetries    int

	Engine domain.EngineConfig

	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает конфигурацию с безопасными значениями по умолчанию.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:            ":8080",
		MetricsAddr:         ":9090",
		PostgresAutoMigrate: true,
		ConsumerGroup:       "ims-engine",
		MaxRetries:          3,
		Engine:              domain.EngineConfig{}.Normalize(),

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,

		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// LoadConfig собирает конфигурацию из переменных окружения поверх значений
// по умолчанию.
func LoadConfig() Config {
	cfg := DefaultConfig()

	cfg.HTTPAddr = envString("IMS_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = envString("IMS_METRICS_ADDR", cfg.MetricsAddr)
	cfg.PostgresDSN = envString("IMS_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.PostgresAutoMigrate = envBool("IMS_POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate)
	cfg.KafkaBrokers = envString("IMS_KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.ConsumerGroup = envString("IMS_CONSUMER_GROUP", cfg.ConsumerGroup)
	cfg.MaxRetries = envInt("IMS_KAFKA_MAX_RETRIES", cfg.MaxRetries)

	cfg.Engine.ReservationTTL = envDuration("IMS_RESERVATION_TTL", cfg.Engine.ReservationTTL)
	cfg.Engine.LockTimeout = envDuration("IMS_LOCK_TIMEOUT", cfg.Engine.LockTimeout)
	cfg.Engine.SweepInterval = envDuration("IMS_SWEEP_INTERVAL", cfg.Engine.SweepInterval)
	cfg.Engine.SweepBatchSize = envInt("IMS_SWEEP_BATCH_SIZE", cfg.Engine.SweepBatchSize)
	cfg.Engine.DefaultReorderPoint = int64(envInt("IMS_DEFAULT_REORDER_POINT", int(cfg.Engine.DefaultReorderPoint)))
	cfg.Engine.DefaultReorderQty = int64(envInt("IMS_DEFAULT_REORDER_QTY", int(cfg.Engine.DefaultReorderQty)))
	cfg.Engine = cfg.Engine.Normalize()

	cfg.OutboxPollInterval = envDuration("IMS_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = envInt("IMS_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.IdempotencyCleanupInterval = envDuration("IMS_IDEMPOTENCY_CLEANUP_INTERVAL", cfg.IdempotencyCleanupInterval)
	cfg.IdempotencyCleanupBatchSize = envInt("IMS_IDEMPOTENCY_CLEANUP_BATCH_SIZE", cfg.IdempotencyCleanupBatchSize)

	return cfg
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
