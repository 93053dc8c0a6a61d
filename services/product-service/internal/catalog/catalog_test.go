package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/evercart/evercart/services/product-service/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreate_Validation(t *testing.T) {
	s := New(nil, nil, nil, NewCache(nil, time.Minute, discardLogger()), discardLogger())

	if _, err := s.Create(context.Background(), CreateInput{Name: "   "}); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	if _, err := s.Create(context.Background(), CreateInput{Name: "Mug", PriceCents: -1}); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestChangePrice_RejectsNegative(t *testing.T) {
	s := New(nil, nil, nil, NewCache(nil, time.Minute, discardLogger()), discardLogger())
	if _, err := s.ChangePrice(context.Background(), "p-1", -100); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestCache_DisabledClientIsSoft(t *testing.T) {
	c := NewCache(nil, time.Minute, discardLogger())
	ctx := context.Background()

	if _, ok := c.Get(ctx, "p-1"); ok {
		t.Fatal("disabled cache must always miss")
	}
	// No client set; writes must be safe no-ops.
	c.Put(ctx, storage.Product{ID: "p-1"})
	c.Invalidate(ctx, "p-1")
}
