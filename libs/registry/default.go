package registry

// Event types published across the platform. Producers and consumers share
// these constants; the registry routes each one to its canonical topic.
const (
	EventOrderCreated          = "order.created.v1"
	EventOrderPaymentRequested = "order.payment.requested.v1"
	EventOrderConfirmed        = "order.confirmed.v1"
	EventOrderCancelled        = "order.cancelled.v1"

	EventPaymentCompleted = "payment.completed.v1"
	EventPaymentFailed    = "payment.failed.v1"
	EventPaymentRefunded  = "payment.refunded.v1"

	EventInventoryReserved = "inventory.reserved.v1"
	EventInventoryRejected = "inventory.rejected.v1"
	EventInventoryReleased = "inventory.released.v1"

	EventProductCreated      = "product.created.v1"
	EventProductUpdated      = "product.updated.v1"
	EventProductPriceChanged = "product.price.changed.v1"

	EventCartItemAdded         = "cart.item.added.v1"
	EventCartItemRemoved       = "cart.item.removed.v1"
	EventCartCheckoutCompleted = "cart.checkout.completed.v1"
)

// Canonical topic names.
const (
	TopicOrderEvents     = "order-events"
	TopicPaymentEvents   = "payment-events"
	TopicInventoryEvents = "inventory-events"
	TopicProductEvents   = "product-events"
	TopicAnalyticsEvents = "analytics-events"
)

const dayMS = int64(86400000)

// Default returns the canonical production registry. Cluster defaults
// (replication factor 3, min ISR 2, lz4, 1 MiB messages, daily segments)
// come from withDefaults; only per-topic choices are spelled out here.
func Default() *Registry {
	r, err := New([]TopicSpec{
		{
			Name:        TopicOrderEvents,
			Partitions:  12,
			RetentionMS: 30 * dayMS,
			KeyPath:     "order_id",
			EventTypes: []string{
				EventOrderCreated,
				EventOrderPaymentRequested,
				EventOrderConfirmed,
				EventOrderCancelled,
			},
		},
		{
			Name:        TopicPaymentEvents,
			Partitions:  12,
			RetentionMS: 90 * dayMS,
			KeyPath:     "order_id",
			EventTypes: []string{
				EventPaymentCompleted,
				EventPaymentFailed,
				EventPaymentRefunded,
			},
		},
		{
			Name:        TopicInventoryEvents,
			Partitions:  6,
			RetentionMS: 7 * dayMS,
			KeyPath:     "product_id",
			EventTypes: []string{
				EventInventoryReserved,
				EventInventoryRejected,
				EventInventoryReleased,
			},
		},
		{
			Name:          TopicProductEvents,
			Partitions:    6,
			RetentionMS:   7 * dayMS,
			CleanupPolicy: CleanupCompact,
			KeyPath:       "product_id",
			EventTypes: []string{
				EventProductCreated,
				EventProductUpdated,
				EventProductPriceChanged,
			},
		},
		{
			Name:        TopicAnalyticsEvents,
			Partitions:  12,
			RetentionMS: 365 * dayMS,
			KeyPath:     "user_id",
			EventTypes: []string{
				EventCartItemAdded,
				EventCartItemRemoved,
				EventCartCheckoutCompleted,
			},
		},
	})
	if err != nil {
		panic(err) // static specs; New only fails on a bad edit here
	}
	return r
}
