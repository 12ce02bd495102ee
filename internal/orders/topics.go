package orders

const (
	TopicConfirmationRequested = "order.confirmation.requested"
	TopicOrderConfirmed        = "order.confirmed"
	TopicOrderCancelled        = "order.cancelled"
	TopicOrderDelivered        = "order.delivered"
	TopicPaymentSettled        = "order.payment.settled"
)

// Partition key = order_id so all events of one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
