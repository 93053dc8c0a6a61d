package stock

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/evercart/evercart/libs/registry"
)

func testHandler() *Handler {
	return New(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func msgFor(eventType string, payload string) kafka.Message {
	return kafka.Message{
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte("evt-1")},
			{Key: "event_type", Value: []byte(eventType)},
		},
		Value: []byte(payload),
	}
}

func TestHandle_IgnoresUnrelatedEvents(t *testing.T) {
	h := testHandler()
	for _, eventType := range []string{
		registry.EventOrderConfirmed,
		registry.EventOrderPaymentRequested,
		registry.EventProductUpdated,
		registry.EventProductPriceChanged,
	} {
		if err := h.Handle(context.Background(), nil, msgFor(eventType, `{}`)); err != nil {
			t.Fatalf("%s: expected no-op, got %v", eventType, err)
		}
	}
}

func TestHandle_RejectsMalformedPayloads(t *testing.T) {
	h := testHandler()
	for _, eventType := range []string{
		registry.EventProductCreated,
		registry.EventOrderCreated,
		registry.EventOrderCancelled,
	} {
		if err := h.Handle(context.Background(), nil, msgFor(eventType, `{"product_id":`)); err == nil {
			t.Fatalf("%s: expected unmarshal error", eventType)
		}
	}
}

func TestHandle_OrderCreatedWithoutItemsReservesNothing(t *testing.T) {
	h := testHandler()
	// No lines means no repo calls, so nil deps prove nothing is touched.
	err := h.Handle(context.Background(), nil, msgFor(registry.EventOrderCreated, `{"order_id":"o-1","items":[]}`))
	if err != nil {
		t.Fatalf("expected no-op for empty order, got %v", err)
	}
}
