package events

const (
	// TopicPaymentCommands carries what the order service asks of the
	// payment service: charges and refunds.
	TopicPaymentCommands = "order.payment.commands"
	TopicPaymentOutcomes = "payment.outcomes"
)

// TopicFor maps an event type to the topic it is published on. Unknown types
// return "".
func TopicFor(eventType string) string {
	switch {
	case eventType == TypePaymentRequested, eventType == TypeRefundRequested:
		return TopicPaymentCommands
	case IsPaymentOutcome(eventType):
		return TopicPaymentOutcomes
	}
	return ""
}

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
