package orders

const (
	TopicOrderPlaced        = "order.placed"
	TopicOrderStatusChanged = "order.status.changed"
)

// Partition key = public reference, so every event of one order keeps its order.
func PartitionKey(ref string) []byte { return []byte(ref) }
