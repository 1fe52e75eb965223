package kafka

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

var errPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// OrderEventEnvelope — формат события заказа в топике storefront.order.events.
type OrderEventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// OutboxPublisher публикует outbox-сообщения в топик с id заказа в качестве ключа.
type OutboxPublisher struct {
	producer *Producer
	topic    string
	// raw=true отправляет Payload без конверта (для DLQ, где payload уже конверт).
	raw bool
}

// NewOutboxPublisher публикует события заказов в конверте OrderEventEnvelope.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxPublisher{producer: producer, topic: topic}
}

// NewDeadLetterPublisher отправляет payload в DLQ без дополнительного конверта.
func NewDeadLetterPublisher(producer *Producer) *OutboxPublisher {
	return &OutboxPublisher{producer: producer, topic: TopicDeadLetterQueue, raw: true}
}

func (p *OutboxPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}
	eventType := sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(msg.EventType)}

	if p.raw {
		return p.producer.Send(p.topic, key, msg.Payload, eventType)
	}

	data, err := json.Marshal(OrderEventEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		EnqueuedAt:    msg.EnqueuedAt.UTC(),
		PublishedAt:   p.producer.now().UTC(),
	})
	if err != nil {
		return err
	}
	return p.producer.Send(p.topic, key, data, eventType)
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
