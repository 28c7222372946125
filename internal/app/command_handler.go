package app

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ims/internal/service/fulfillment"
)

// newCommandHandler возвращает обработчик входящих команд по заказам.
// Сейчас поддерживается единственная команда — отмена заказа: она снимает
// все активные резервы заказа. Неизвестные команды — ошибка, уходят в DLQ.
func newCommandHandler(orders *fulfillment.Orchestrator, logger *log.Entry) kafka.MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "command-handler")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		command, err := kafka.ParseOrderCommand(message)
		if err != nil {
			return err
		}

		switch command.CommandType {
		case kafka.EventTypeOrderCancelRequested:
			actor := command.Actor
			if actor == "" {
				actor = "kafka"
			}
			released, err := orders.CancelOrder(ctx, command.OrderID, actor)
			if err != nil {
				return fmt.Errorf("cancel order %s: %w", command.OrderID, err)
			}
			logger.WithFields(log.Fields{
				"order_id": command.OrderID,
				"released": released,
			}).Info("cancel command processed")
			return nil
		default:
			return fmt.Errorf("unsupported order command %q", command.CommandType)
		}
	}
}
