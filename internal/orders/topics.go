package orders

const (
	TopicOrderStatus = "order.status.changed"
)

// Partition key = order_id so one order's events stay ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
