package charge

import (
	"context"

	"github.com/google/uuid"
)

// Simulator stands in for a real provider when no Stripe key is
// configured. Charges under the limit are approved; anything above it is
// declined, which gives the failure path a deterministic trigger.
type Simulator struct {
	declineOverCents int64
}

func NewSimulator(declineOverCents int64) *Simulator {
	if declineOverCents <= 0 {
		declineOverCents = 1_000_000
	}
	return &Simulator{declineOverCents: declineOverCents}
}

func (s *Simulator) Name() string { return "simulated" }

func (s *Simulator) Charge(_ context.Context, req Request) (Result, error) {
	if req.AmountCents <= 0 {
		return Result{Declined: true, Reason: "non-positive amount"}, nil
	}
	if req.AmountCents > s.declineOverCents {
		return Result{Declined: true, Reason: "amount exceeds simulated card limit"}, nil
	}
	return Result{ProviderPaymentID: "sim_" + uuid.NewString()}, nil
}

func (s *Simulator) Refund(_ context.Context, providerPaymentID string, _ string) (string, error) {
	return "simre_" + uuid.NewString(), nil
}
