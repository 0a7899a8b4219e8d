package orders

const (
	TopicOrderCreated      = "order.created"
	TopicOrderTransitioned = "order.transitioned"
)

// Partition key = order_id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
