package messaging

// Exchange Names
const (
	// EventsExchangeName - topic exchange, через который проходят все события пайплайна.
	EventsExchangeName = "story_events"
	// DeadLetterExchangeName - DLX, куда брокер переносит отклоненные и просроченные события.
	DeadLetterExchangeName = "story_events_dlx"
)

// Queue naming
const (
	queuePrefix = "story_events."
	dlqSuffix   = ".dlq"
)

// Message properties
const (
	contentTypeJSON   = "application/json"
	headerEventSource = "x-event-source"
	defaultAppID      = "novel-workflow"
)

// MaxBatchSize - максимальное число конвертов в одном вызове PublishBatch.
const MaxBatchSize = 10

// QueueName возвращает имя очереди, на которую маршрутизируется routing key.
func QueueName(route string) string {
	return queuePrefix + route
}

// DeadLetterQueueName возвращает имя DLQ для очереди маршрута.
func DeadLetterQueueName(route string) string {
	return QueueName(route) + dlqSuffix
}
