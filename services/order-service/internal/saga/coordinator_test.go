package saga

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/evercart/evercart/libs/registry"
)

func testCoordinator() *Coordinator {
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
	c := testCoordinator()
	// Neither branch touches the repo, so nil deps are safe here.
	for _, eventType := range []string{
		registry.EventInventoryReleased,
		registry.EventPaymentRefunded,
		registry.EventProductCreated,
		"some.unknown.v1",
	} {
		if err := c.Handle(context.Background(), nil, msgFor(eventType, `{}`)); err != nil {
			t.Fatalf("%s: expected no-op, got %v", eventType, err)
		}
	}
}

func TestHandle_RejectsMalformedPayloads(t *testing.T) {
	c := testCoordinator()
	for _, eventType := range []string{
		registry.EventInventoryReserved,
		registry.EventInventoryRejected,
		registry.EventPaymentCompleted,
		registry.EventPaymentFailed,
	} {
		err := c.Handle(context.Background(), nil, msgFor(eventType, `{"order_id":`))
		if err == nil {
			t.Fatalf("%s: expected unmarshal error", eventType)
		}
		if !strings.Contains(err.Error(), "payload") {
			t.Fatalf("%s: error should name the payload, got %v", eventType, err)
		}
	}
}
