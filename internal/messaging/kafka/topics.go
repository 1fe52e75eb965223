package kafka

// Топики Kafka.
const (
	TopicOrderEvents          = "storefront.order.events"
	TopicDeadLetterQueue      = "storefront.dlq"
	TopicPaymentConfirmations = "storefront.payment.confirmations"
)

// Заголовки сообщений, которые кладутся в DLQ.
const (
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderAttempts      = "x-attempts"
	HeaderEventType     = "x-event-type"
)
