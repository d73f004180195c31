package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// MayaposClient fetches online-bill status from the Mayapos billing API.
type MayaposClient struct {
	client *resty.Client
}

type mayaposBill struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	MerchantID string `json:"merchant_id"`
}

func NewMayaposClient(baseURL string, apiKey string) *MayaposClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(10 * time.Second).
		SetRetryCount(2)
	return &MayaposClient{client: client}
}

func (c *MayaposClient) Status(ctx context.Context, paymentRef string) (Status, error) {
	var bill mayaposBill
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&bill).
		SetPathParam("billID", paymentRef).
		Get("/v1/bills/{billID}")
	if err != nil {
		return Status{}, fmt.Errorf("mayapos bill lookup: %w", err)
	}
	if resp.IsError() {
		return Status{}, fmt.Errorf("mayapos bill lookup: status %d", resp.StatusCode())
	}

	return Status{
		Paid:        bill.Status == "paid" || bill.Status == "settled",
		AmountCents: bill.Amount,
		State:       bill.Status,
		Reference:   bill.MerchantID,
	}, nil
}
