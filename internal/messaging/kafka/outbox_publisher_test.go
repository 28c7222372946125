package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndSucceed()

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-outbox-publisher-test"),
	}
	publisher := NewOutboxPublisher(producer, TopicStockEvents)

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "stock",
		AggregateID:   "prod-123",
		EventType:     "StockReserved",
		Payload:       []byte(`{"qty":2,"available":8}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-outbox-publisher-test"),
	}
	publisher := NewOutboxPublisher(producer, TopicStockEvents)

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: "stock",
		AggregateID:   "prod-234",
		EventType:     "StockReserved",
		Payload:       []byte(`{"qty":1,"available":0}`),
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_TopicRouting(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		defaultTopic  string
		aggregateType string
		want          string
	}{
		{"stock event keeps default topic", TopicStockEvents, "stock", TopicStockEvents},
		{"order event routes to order topic", TopicStockEvents, "order", TopicOrderEvents},
		{"dlq publisher keeps dlq topic for orders", TopicDeadLetterQueue, "order", TopicDeadLetterQueue},
		{"dlq publisher keeps dlq topic for stock", TopicDeadLetterQueue, "stock", TopicDeadLetterQueue},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			publisher := &OutboxTopicPublisher{topic: tc.defaultTopic}
			got := publisher.topicFor(domain.OutboxMessage{AggregateType: tc.aggregateType})
			if got != tc.want {
				t.Errorf("topicFor() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicStockEvents)
	if err := publisher.Publish(domain.OutboxMessage{ID: "outbox-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}
