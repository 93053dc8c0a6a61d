package registry

import (
	"errors"
	"strings"
	"testing"
)

func testSpecs() []TopicSpec {
	return []TopicSpec{
		{
			Name:        "order-events",
			Partitions:  12,
			RetentionMS: 30 * dayMS,
			KeyPath:     "order_id",
			EventTypes:  []string{"order.created.v1", "order.cancelled.v1"},
		},
		{
			Name:          "product-events",
			Partitions:    6,
			RetentionMS:   7 * dayMS,
			CleanupPolicy: CleanupCompact,
			KeyPath:       "product_id",
			EventTypes:    []string{"product.created.v1"},
		},
	}
}

func TestNew_DerivesDLQMirrors(t *testing.T) {
	r, err := New(testSpecs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	topics := r.Topics()
	if len(topics) != 4 {
		t.Fatalf("expected 4 topics (2 business + 2 DLQ), got %d", len(topics))
	}

	byName := make(map[string]TopicSpec)
	for _, s := range topics {
		byName[s.Name] = s
	}

	dlq, ok := byName["order-events.DLQ"]
	if !ok {
		t.Fatalf("order-events.DLQ not derived")
	}
	if dlq.Partitions != 12 {
		t.Fatalf("DLQ partitions = %d, want parent's 12", dlq.Partitions)
	}
	if dlq.RetentionMS != 7*dayMS {
		t.Fatalf("DLQ retention = %d, want 7 days", dlq.RetentionMS)
	}
	if dlq.CleanupPolicy != CleanupDelete {
		t.Fatalf("DLQ cleanup = %q, want delete", dlq.CleanupPolicy)
	}
	if !dlq.IsDLQ() || byName["order-events"].IsDLQ() {
		t.Fatalf("IsDLQ mismatch")
	}
}

func TestNew_AppliesClusterDefaults(t *testing.T) {
	r, err := New(testSpecs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s, err := r.Resolve("order.created.v1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.ReplicationFactor != 3 || s.MinInSyncReplicas != 2 {
		t.Fatalf("replication defaults not applied: rf=%d isr=%d", s.ReplicationFactor, s.MinInSyncReplicas)
	}
	if s.Compression != CompressionLZ4 {
		t.Fatalf("compression default = %q, want lz4", s.Compression)
	}
	if s.MaxMessageBytes != 1048576 {
		t.Fatalf("max message bytes default = %d", s.MaxMessageBytes)
	}
}

func TestNew_RejectsInvalidSpecs(t *testing.T) {
	bad := []TopicSpec{
		{Name: "", Partitions: 1, RetentionMS: dayMS, KeyPath: "k", EventTypes: []string{"a.v1"}},
		{Name: "t", Partitions: 0, RetentionMS: dayMS, KeyPath: "k", EventTypes: []string{"a.v1"}},
		{Name: "t", Partitions: 1, RetentionMS: 0, KeyPath: "k", EventTypes: []string{"a.v1"}},
		{Name: "t", Partitions: 1, RetentionMS: dayMS, KeyPath: "", EventTypes: []string{"a.v1"}},
		{Name: "t", Partitions: 1, RetentionMS: dayMS, KeyPath: "k", EventTypes: nil},
		{Name: "t.DLQ", Partitions: 1, RetentionMS: dayMS, KeyPath: "k", EventTypes: []string{"a.v1"}},
		{Name: "t", Partitions: 1, RetentionMS: dayMS, KeyPath: "k", CleanupPolicy: "truncate", EventTypes: []string{"a.v1"}},
		{Name: "t", Partitions: 1, RetentionMS: dayMS, KeyPath: "k", Compression: "zip", EventTypes: []string{"a.v1"}},
	}
	for i, spec := range bad {
		if _, err := New([]TopicSpec{spec}); !errors.Is(err, ErrInvalidTopicSpec) {
			t.Fatalf("spec %d: expected ErrInvalidTopicSpec, got %v", i, err)
		}
	}
}

func TestNew_RejectsDuplicateEventType(t *testing.T) {
	specs := testSpecs()
	specs[1].EventTypes = append(specs[1].EventTypes, "order.created.v1")
	if _, err := New(specs); !errors.Is(err, ErrInvalidTopicSpec) {
		t.Fatalf("expected ErrInvalidTopicSpec for duplicate event type, got %v", err)
	}
}

func TestResolve_UnknownEventType(t *testing.T) {
	r, err := New(testSpecs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = r.Resolve("order.shipped.v1")
	if !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
	if !strings.Contains(err.Error(), "order.shipped.v1") {
		t.Fatalf("error should name the event type: %v", err)
	}
}

func TestExtractKey(t *testing.T) {
	r, err := New(testSpecs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	key, err := r.ExtractKey("order.created.v1", []byte(`{"order_id":"ord-123","total":4200}`))
	if err != nil {
		t.Fatalf("ExtractKey: %v", err)
	}
	if key != "ord-123" {
		t.Fatalf("key = %q, want ord-123", key)
	}

	if _, err := r.ExtractKey("order.created.v1", []byte(`{"total":4200}`)); !errors.Is(err, ErrMissingKeyField) {
		t.Fatalf("absent field: expected ErrMissingKeyField, got %v", err)
	}
	if _, err := r.ExtractKey("order.created.v1", []byte(`{"order_id":""}`)); !errors.Is(err, ErrMissingKeyField) {
		t.Fatalf("empty field: expected ErrMissingKeyField, got %v", err)
	}
	if _, err := r.ExtractKey("order.created.v1", []byte(`{"order_id":null}`)); !errors.Is(err, ErrMissingKeyField) {
		t.Fatalf("null field: expected ErrMissingKeyField, got %v", err)
	}
	if _, err := r.ExtractKey("order.created.v1", []byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
	if _, err := r.ExtractKey("order.shipped.v1", []byte(`{}`)); !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}

func TestExtractKey_NestedPathAndNumbers(t *testing.T) {
	specs := testSpecs()
	specs[0].KeyPath = "order.id"
	r, err := New(specs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	key, err := r.ExtractKey("order.created.v1", []byte(`{"order":{"id":"ord-9"}}`))
	if err != nil {
		t.Fatalf("ExtractKey nested: %v", err)
	}
	if key != "ord-9" {
		t.Fatalf("key = %q, want ord-9", key)
	}

	key, err = r.ExtractKey("order.created.v1", []byte(`{"order":{"id":42}}`))
	if err != nil {
		t.Fatalf("ExtractKey numeric: %v", err)
	}
	if key != "42" {
		t.Fatalf("key = %q, want 42", key)
	}

	if _, err := r.ExtractKey("order.created.v1", []byte(`{"order":"flat"}`)); !errors.Is(err, ErrMissingKeyField) {
		t.Fatalf("non-object midway: expected ErrMissingKeyField, got %v", err)
	}
}

func TestDefault_RoutesEveryEventType(t *testing.T) {
	r := Default()

	for _, et := range []string{
		EventOrderCreated, EventOrderPaymentRequested, EventOrderConfirmed, EventOrderCancelled,
		EventPaymentCompleted, EventPaymentFailed, EventPaymentRefunded,
		EventInventoryReserved, EventInventoryRejected, EventInventoryReleased,
		EventProductCreated, EventProductUpdated, EventProductPriceChanged,
		EventCartItemAdded, EventCartItemRemoved, EventCartCheckoutCompleted,
	} {
		if _, err := r.Resolve(et); err != nil {
			t.Fatalf("Resolve(%q): %v", et, err)
		}
	}

	if got := len(r.Topics()); got != 10 {
		t.Fatalf("expected 10 topics (5 business + 5 DLQ), got %d", got)
	}

	products, err := r.Resolve(EventProductCreated)
	if err != nil {
		t.Fatalf("Resolve product: %v", err)
	}
	if products.CleanupPolicy != CleanupCompact {
		t.Fatalf("product-events cleanup = %q, want compact", products.CleanupPolicy)
	}
}

func TestTopicConfigs_CarriesBrokerSettings(t *testing.T) {
	r, err := New(testSpecs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfgs := r.TopicConfigs()
	if len(cfgs) != 4 {
		t.Fatalf("expected 4 topic configs, got %d", len(cfgs))
	}
	for _, c := range cfgs {
		entries := make(map[string]string)
		for _, e := range c.ConfigEntries {
			entries[e.ConfigName] = e.ConfigValue
		}
		if entries["retention.ms"] == "" || entries["cleanup.policy"] == "" {
			t.Fatalf("topic %s missing broker config entries: %v", c.Topic, entries)
		}
		if c.Topic == "product-events" && entries["cleanup.policy"] != "compact" {
			t.Fatalf("product-events cleanup.policy = %q", entries["cleanup.policy"])
		}
		if c.Topic == "order-events" && entries["retention.ms"] != "2592000000" {
			t.Fatalf("order-events retention.ms = %q", entries["retention.ms"])
		}
	}
}
