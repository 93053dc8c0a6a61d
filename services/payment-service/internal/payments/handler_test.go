package payments

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/evercart/evercart/libs/registry"
)

func testHandler() *Handler {
	return New(nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
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
		registry.EventOrderCreated,
		registry.EventOrderConfirmed,
		registry.EventInventoryReserved,
	} {
		if err := h.Handle(context.Background(), nil, msgFor(eventType, `{}`)); err != nil {
			t.Fatalf("%s: expected no-op, got %v", eventType, err)
		}
	}
}

func TestHandle_RejectsMalformedPayloads(t *testing.T) {
	h := testHandler()
	for _, eventType := range []string{
		registry.EventOrderPaymentRequested,
		registry.EventOrderCancelled,
	} {
		if err := h.Handle(context.Background(), nil, msgFor(eventType, `{"order_id":`)); err == nil {
			t.Fatalf("%s: expected unmarshal error", eventType)
		}
	}
}
