// Package events carries the purchase-created notifications that drive the
// safety-net reconciler. Delivery is at-least-once: consumers must tolerate
// duplicate events for the same purchase id.
package events

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// PurchaseCreated is emitted after a purchase record commits, regardless of
// which path created it.
type PurchaseCreated struct {
	EventID    string    `json:"event_id"`
	PurchaseID string    `json:"purchase_id"`
	StationID  string    `json:"station_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewPurchaseCreated stamps a fresh event for a purchase.
func NewPurchaseCreated(purchaseID string, stationID string) PurchaseCreated {
	return PurchaseCreated{
		EventID:    uuid.New().String(),
		PurchaseID: purchaseID,
		StationID:  stationID,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	PublishPurchaseCreated(ctx context.Context, ev PurchaseCreated) error
}

// NoopPublisher drops events; used when no consumer is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishPurchaseCreated(_ context.Context, _ PurchaseCreated) error {
	return nil
}

// Handler consumes one purchase-created event.
type Handler func(ctx context.Context, purchaseID string) error

// Dispatcher invokes the handler in-process, for single-binary deployments
// without a broker. Each event runs on its own goroutine so publishing never
// blocks the request path; errors are logged, matching the reconciler's
// fail-loudly contract.
type Dispatcher struct {
	handler Handler
}

func NewDispatcher(handler Handler) *Dispatcher {
	return &Dispatcher{handler: handler}
}

func (d *Dispatcher) PublishPurchaseCreated(_ context.Context, ev PurchaseCreated) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.handler(ctx, ev.PurchaseID); err != nil {
			log.Printf("[events] reconcile dispatch failed purchase=%s: %v", ev.PurchaseID, err)
		}
	}()
	return nil
}
