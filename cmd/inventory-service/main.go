package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/app"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(logLevelFromEnv(os.Getenv("IMS_LOG_LEVEL")))
}

// logLevelFromEnv преобразует значение переменной окружения в уровень logrus,
// при пустом или неизвестном значении возвращает InfoLevel.
func logLevelFromEnv(value string) log.Level {
	if value == "" {
		return log.InfoLevel
	}
	level, err := log.ParseLevel(value)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

func main() {
	_ = godotenv.Load()
	setupLogger()
	cfg := app.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
	}).Info("запускаем InventoryService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("InventoryService остановлен")
}
