package charge

import "context"

// Request describes one charge attempt. Amounts are integer cents.
type Request struct {
	OrderID     string
	UserID      string
	AmountCents int64
	Currency    string
}

// Result is the provider's verdict. Declined is a business outcome (the
// payment failed and the saga compensates); an error return means the
// attempt itself could not be made and will be retried on redelivery.
type Result struct {
	ProviderPaymentID string
	Declined          bool
	Reason            string
}

type Provider interface {
	Name() string
	Charge(ctx context.Context, req Request) (Result, error)
	Refund(ctx context.Context, providerPaymentID string, orderID string) (string, error)
}
