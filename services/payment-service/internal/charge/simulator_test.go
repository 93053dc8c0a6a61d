package charge

import (
	"context"
	"testing"
)

func TestSimulator_ApprovesWithinLimit(t *testing.T) {
	s := NewSimulator(50_000)
	res, err := s.Charge(context.Background(), Request{OrderID: "o-1", AmountCents: 4_999, Currency: "usd"})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if res.Declined {
		t.Fatalf("expected approval, got decline: %s", res.Reason)
	}
	if res.ProviderPaymentID == "" {
		t.Fatal("expected a provider payment id")
	}
}

func TestSimulator_DeclinesOverLimit(t *testing.T) {
	s := NewSimulator(50_000)
	res, err := s.Charge(context.Background(), Request{OrderID: "o-1", AmountCents: 50_001, Currency: "usd"})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if !res.Declined {
		t.Fatal("expected decline over the limit")
	}
}

func TestSimulator_DeclinesNonPositiveAmount(t *testing.T) {
	s := NewSimulator(0) // falls back to the default limit
	for _, amount := range []int64{0, -100} {
		res, err := s.Charge(context.Background(), Request{OrderID: "o-1", AmountCents: amount})
		if err != nil {
			t.Fatalf("charge: %v", err)
		}
		if !res.Declined {
			t.Fatalf("expected decline for amount %d", amount)
		}
	}
}

func TestSimulator_RefundAlwaysSucceeds(t *testing.T) {
	s := NewSimulator(0)
	id, err := s.Refund(context.Background(), "sim_abc", "o-1")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if id == "" {
		t.Fatal("expected a refund id")
	}
}
