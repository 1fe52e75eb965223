package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type stubGroup struct {
	consume  func(context.Context) error
	errs     chan error
	closeErr error
}

func newStubGroup(consume func(context.Context) error) *stubGroup {
	return &stubGroup{consume: consume, errs: make(chan error, 1)}
}

func (g *stubGroup) Consume(ctx context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
	return g.consume(ctx)
}
func (g *stubGroup) Errors() <-chan error { return g.errs }
func (g *stubGroup) Close() error {
	close(g.errs)
	return g.closeErr
}
func (g *stubGroup) Pause(map[string][]int32)  {}
func (g *stubGroup) Resume(map[string][]int32) {}
func (g *stubGroup) PauseAll()                 {}
func (g *stubGroup) ResumeAll()                {}

type stubSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *stubSession) Context() context.Context { return s.ctx }
func (s *stubSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type stubClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *stubClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func runClaim(t *testing.T, consumer *Consumer, messages ...*sarama.ConsumerMessage) *stubSession {
	t.Helper()
	claim := &stubClaim{messages: make(chan *sarama.ConsumerMessage, len(messages))}
	for _, m := range messages {
		claim.messages <- m
	}
	close(claim.messages)

	session := &stubSession{ctx: context.Background()}
	require.NoError(t, consumer.ConsumeClaim(session, claim))
	return session
}

func confirmationMessage(offset int64, value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:  TopicPaymentConfirmations,
		Offset: offset,
		Key:    []byte("order-1"),
		Value:  []byte(value),
	}
}

func TestConsumer_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	handler := func(context.Context, *sarama.ConsumerMessage) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}
	consumer := newConsumer(nil, ConsumerConfig{MaxAttempts: 3}, handler, nil)

	session := runClaim(t, consumer, confirmationMessage(7, `{}`))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int64{7}, session.marked)
}

func TestConsumer_DeadLettersAfterMaxAttempts(t *testing.T) {
	sync := mocks.NewSyncProducer(t, nil)
	var sent *sarama.ProducerMessage
	captureMessage(t, sync, &sent)

	calls := 0
	handler := func(context.Context, *sarama.ConsumerMessage) error {
		calls++
		return errors.New("db timeout")
	}
	consumer := newConsumer(nil, ConsumerConfig{MaxAttempts: 2}, handler, newProducer(sync))

	session := runClaim(t, consumer, confirmationMessage(3, `{"order_id":"order-1"}`))
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int64{3}, session.marked)

	require.NotNil(t, sent)
	assert.Equal(t, TopicDeadLetterQueue, sent.Topic)
	assert.Equal(t, TopicPaymentConfirmations, header(sent, HeaderOriginalTopic))
	assert.Equal(t, "2", header(sent, HeaderAttempts))
	assert.Equal(t, "db timeout", header(sent, HeaderErrorMessage))
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(encoded(t, sent.Value)))
	require.NoError(t, sync.Close())
}

func TestConsumer_PermanentErrorSkipsRetries(t *testing.T) {
	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageAndSucceed()

	calls := 0
	handler := func(context.Context, *sarama.ConsumerMessage) error {
		calls++
		return fmt.Errorf("%w: malformed", ErrPermanent)
	}
	consumer := newConsumer(nil, ConsumerConfig{MaxAttempts: 5}, handler, newProducer(sync))

	session := runClaim(t, consumer, confirmationMessage(1, `nope`))
	assert.Equal(t, 1, calls)
	assert.Equal(t, []int64{1}, session.marked)
	require.NoError(t, sync.Close())
}

func TestConsumer_DLQFailureLeavesOffsetUncommitted(t *testing.T) {
	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	handler := func(context.Context, *sarama.ConsumerMessage) error { return ErrPermanent }
	consumer := newConsumer(nil, ConsumerConfig{}, handler, newProducer(sync))

	session := runClaim(t, consumer, confirmationMessage(9, `{}`))
	assert.Empty(t, session.marked)
	require.NoError(t, sync.Close())
}

func TestConsumer_StartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumed := make(chan struct{}, 1)
	group := newStubGroup(func(ctx context.Context) error {
		select {
		case consumed <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil
	})
	group.errs <- errors.New("rebalance error")

	consumer := newConsumer(group, ConsumerConfig{Topics: []string{TopicPaymentConfirmations}}, nil, nil)
	consumer.Start(ctx)

	select {
	case <-consumed:
	case <-time.After(time.Second):
		t.Fatal("consume was not called")
	}
	cancel()
	require.NoError(t, consumer.Stop())
}

func TestNewConsumer_UnreachableBrokers(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{Brokers: []string{"127.0.0.1:1"}, GroupID: "g", Topics: []string{"t"}}, nil, nil)
	require.Error(t, err)
}

func TestPaymentConfirmationHandler(t *testing.T) {
	var applied []domain.PaymentConfirmation
	applyErr := error(nil)
	handler := PaymentConfirmationHandler(func(_ context.Context, c domain.PaymentConfirmation) error {
		applied = append(applied, c)
		return applyErr
	})
	ctx := context.Background()

	require.NoError(t, handler(ctx, confirmationMessage(0, `{"event_id":"evt-1","session_id":"cs_1","order_id":"order-1","paid":true}`)))
	require.Len(t, applied, 1)
	assert.Equal(t, domain.PaymentConfirmation{EventID: "evt-1", SessionID: "cs_1", OrderID: "order-1", Paid: true}, applied[0])

	require.ErrorIs(t, handler(ctx, confirmationMessage(1, `{"paid":true}`)), ErrPermanent)
	require.ErrorIs(t, handler(ctx, confirmationMessage(2, `{{`)), ErrPermanent)

	applyErr = domain.ErrOrderNotFound
	err := handler(ctx, confirmationMessage(3, `{"order_id":"ghost","paid":true}`))
	require.ErrorIs(t, err, ErrPermanent)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	applyErr = fmt.Errorf("%w: connection reset", domain.ErrStorage)
	err = handler(ctx, confirmationMessage(4, `{"order_id":"order-1","paid":true}`))
	require.ErrorIs(t, err, domain.ErrStorage)
	assert.NotErrorIs(t, err, ErrPermanent)
}
