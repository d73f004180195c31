// Package gateway holds the outbound clients for the payment providers. The
// finalizer only depends on the Gateway interface; each provider has a thin
// HTTP client and tests supply fakes.
package gateway

import "context"

// Status is a provider's live view of one payment.
type Status struct {
	Paid        bool
	AmountCents int64
	State       string
	// Reference is the merchant-supplied reference echoed back by the
	// provider, empty when the provider does not echo one.
	Reference string
}

type Gateway interface {
	// Status fetches the live payment status. Network I/O: call it before
	// opening any storage transaction, never inside one.
	Status(ctx context.Context, paymentRef string) (Status, error)
}

// Provider names as they appear in payment records and API routes.
const (
	ProviderMayapos    = "mayapos"
	ProviderStripeline = "stripeline"
)
