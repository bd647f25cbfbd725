package orders

// TopicOrderEvents carries every lifecycle event; consumers switch on event_type.
const TopicOrderEvents = "storefront.order.events"

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
