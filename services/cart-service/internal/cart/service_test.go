package cart

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

func TestAddItem_Validation(t *testing.T) {
	s := testService()
	userID := uuid.NewString()
	productID := uuid.NewString()

	cases := []struct {
		name      string
		userID    string
		productID string
		quantity  int
		price     int64
	}{
		{"zero quantity", userID, productID, 0, 100},
		{"negative quantity", userID, productID, -1, 100},
		{"negative price", userID, productID, 1, -5},
		{"bad user id", "someone", productID, 1, 100},
		{"bad product id", userID, "a-mug", 1, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.AddItem(context.Background(), tc.userID, tc.productID, tc.quantity, tc.price)
			if !errors.Is(err, ErrInvalidItem) {
				t.Fatalf("expected ErrInvalidItem, got %v", err)
			}
		})
	}
}
