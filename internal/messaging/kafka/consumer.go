package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 200 * time.Millisecond
)

// ErrPermanent помечает ошибку, которую бессмысленно повторять: сообщение сразу уходит в DLQ.
var ErrPermanent = errors.New("permanent message failure")

// MessageHandler обрабатывает одно сообщение.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerConfig задаёт подписку consumer group.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	Topics      []string
	MaxAttempts int
	RetryDelay  time.Duration
}

// Consumer читает топики в составе consumer group. Сообщение повторяется
// до MaxAttempts раз с удвоением паузы, затем отправляется в DLQ и коммитится.
type Consumer struct {
	group       sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	dlq         *Producer
	maxAttempts int
	retryDelay  time.Duration
	logger      *log.Entry
	wg          sync.WaitGroup
	now         func() time.Time
}

// NewConsumer подключается к брокерам; dlq может быть nil.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, dlq *Producer) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return newConsumer(group, cfg, handler, dlq), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler, dlq *Producer) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	return &Consumer{
		group:       group,
		topics:      cfg.Topics,
		handler:     handler,
		dlq:         dlq,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		logger:      log.WithField("component", "kafka-consumer"),
		now:         time.Now,
	}
}

// Start запускает чтение в фоне до отмены ctx.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается при каждом rebalance, поэтому вызывается в цикле.
		for ctx.Err() == nil {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("kafka consume failed")
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Warn("kafka consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
}

// Stop закрывает группу и дожидается фоновых горутин.
func (c *Consumer) Stop() error {
	err := c.group.Close()
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if c.process(session.Context(), message) {
				session.MarkMessage(message, "")
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// process возвращает true, если смещение можно закоммитить.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) bool {
	logger := c.logger.WithFields(log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	})

	attempts, err := c.handleWithRetry(ctx, message)
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	logger.WithError(err).WithField("attempts", attempts).Error("kafka message processing failed")
	if c.dlq == nil {
		// Без DLQ сообщение пропускается, иначе партиция встанет навсегда.
		return true
	}
	if dlqErr := c.deadLetter(message, attempts, err); dlqErr != nil {
		logger.WithError(dlqErr).Error("failed to send message to DLQ")
		return false
	}
	logger.Info("message moved to DLQ")
	return true
}

func (c *Consumer) handleWithRetry(ctx context.Context, message *sarama.ConsumerMessage) (int, error) {
	delay := c.retryDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = c.handler(ctx, message); err == nil {
			return attempt, nil
		}
		if errors.Is(err, ErrPermanent) || attempt >= c.maxAttempts {
			return attempt, err
		}

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (c *Consumer) deadLetter(message *sarama.ConsumerMessage, attempts int, cause error) error {
	return c.dlq.Send(TopicDeadLetterQueue, string(message.Key), message.Value,
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
		sarama.RecordHeader{Key: []byte(HeaderErrorMessage), Value: []byte(cause.Error())},
		sarama.RecordHeader{Key: []byte(HeaderFailedAt), Value: []byte(c.now().UTC().Format(time.RFC3339))},
		sarama.RecordHeader{Key: []byte(HeaderAttempts), Value: []byte(strconv.Itoa(attempts))},
	)
}
