package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// StripelineClient fetches card checkout-session status from Stripeline.
// Session amounts are already in minor currency units.
type StripelineClient struct {
	client *resty.Client
}

type stripelineSession struct {
	ID            string `json:"id"`
	PaymentStatus string `json:"payment_status"`
	AmountTotal   int64  `json:"amount_total"`
	ClientRef     string `json:"client_reference_id"`
}

func NewStripelineClient(baseURL string, apiKey string) *StripelineClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(10 * time.Second).
		SetRetryCount(2)
	return &StripelineClient{client: client}
}

func (c *StripelineClient) Status(ctx context.Context, paymentRef string) (Status, error) {
	var session stripelineSession
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&session).
		SetPathParam("sessionID", paymentRef).
		Get("/v1/checkout/sessions/{sessionID}")
	if err != nil {
		return Status{}, fmt.Errorf("stripeline session lookup: %w", err)
	}
	if resp.IsError() {
		return Status{}, fmt.Errorf("stripeline session lookup: status %d", resp.StatusCode())
	}

	return Status{
		Paid:        session.PaymentStatus == "paid",
		AmountCents: session.AmountTotal,
		State:       session.PaymentStatus,
		Reference:   session.ClientRef,
	}, nil
}
