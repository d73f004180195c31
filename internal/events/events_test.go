package events

import (
	"context"
	"testing"
	"time"
)

func TestNewPurchaseCreated(t *testing.T) {
	ev := NewPurchaseCreated("pur-1", "station-2")
	if ev.EventID == "" {
		t.Fatalf("expected event id")
	}
	if ev.PurchaseID != "pur-1" || ev.StationID != "station-2" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.OccurredAt.IsZero() {
		t.Fatalf("expected timestamp")
	}
	if ev.EventID == NewPurchaseCreated("pur-1", "station-2").EventID {
		t.Fatalf("expected unique event ids")
	}
}

func TestDispatcherInvokesHandler(t *testing.T) {
	got := make(chan string, 1)
	d := NewDispatcher(func(_ context.Context, purchaseID string) error {
		got <- purchaseID
		return nil
	})

	if err := d.PublishPurchaseCreated(context.Background(), NewPurchaseCreated("pur-42", "station-1")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case id := <-got:
		if id != "pur-42" {
			t.Fatalf("expected pur-42, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler was never invoked")
	}
}
