package cache

import (
	"context"
	"time"

	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/domain"
)

type ReceiptCache interface {
	Get(ctx context.Context, token string) (*domain.PublicReceipt, bool, error)
	Set(ctx context.Context, token string, receipt *domain.PublicReceipt, ttl time.Duration) error
}

type NoopReceiptCache struct{}

func (NoopReceiptCache) Get(_ context.Context, _ string) (*domain.PublicReceipt, bool, error) {
	return nil, false, nil
}

func (NoopReceiptCache) Set(_ context.Context, _ string, _ *domain.PublicReceipt, _ time.Duration) error {
	return nil
}
