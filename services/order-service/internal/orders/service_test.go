package orders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

func testService() *Service {
	return New(nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPlaceOrder_RejectsEmptyOrder(t *testing.T) {
	s := testService()
	_, err := s.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID: uuid.NewString(),
	})
	if !errors.Is(err, ErrEmptyOrder) {
		t.Fatalf("expected ErrEmptyOrder, got %v", err)
	}
}

func TestPlaceOrder_RejectsBadUserID(t *testing.T) {
	s := testService()
	_, err := s.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID: "not-a-uuid",
		Items:  []LineInput{{ProductID: uuid.NewString(), Quantity: 1, UnitPriceCents: 100}},
	})
	if err == nil {
		t.Fatal("expected error for malformed user id")
	}
}

func TestPlaceOrder_RejectsInvalidLines(t *testing.T) {
	userID := uuid.NewString()
	productID := uuid.NewString()

	cases := []struct {
		name string
		line LineInput
	}{
		{"zero quantity", LineInput{ProductID: productID, Quantity: 0, UnitPriceCents: 100}},
		{"negative quantity", LineInput{ProductID: productID, Quantity: -2, UnitPriceCents: 100}},
		{"negative price", LineInput{ProductID: productID, Quantity: 1, UnitPriceCents: -1}},
		{"bad product id", LineInput{ProductID: "shoes", Quantity: 1, UnitPriceCents: 100}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := testService()
			_, err := s.PlaceOrder(context.Background(), PlaceOrderInput{
				UserID: userID,
				Items:  []LineInput{tc.line},
			})
			if !errors.Is(err, ErrInvalidLine) {
				t.Fatalf("expected ErrInvalidLine, got %v", err)
			}
		})
	}
}
