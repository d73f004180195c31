package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/domain"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/store"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/store/memory"
)

func TestAggregateCollapsesAndCoerces(t *testing.T) {
	adjustments := Aggregate([]domain.CartLineItem{
		{SKU: "SKU-B", Qty: 2},
		{SKU: "SKU-A"},          // missing qty defaults to 1
		{SKU: "SKU-B", Qty: -3}, // non-positive coerced to 1
		{SKU: domain.UnknownScanSKU, Qty: 4},
		{SKU: "", Qty: 2},
	})

	if len(adjustments) != 2 {
		t.Fatalf("expected 2 adjustments, got %d (%+v)", len(adjustments), adjustments)
	}
	if adjustments[0].SKU != "SKU-A" || adjustments[0].Qty != 1 {
		t.Fatalf("unexpected first adjustment: %+v", adjustments[0])
	}
	if adjustments[1].SKU != "SKU-B" || adjustments[1].Qty != 3 {
		t.Fatalf("unexpected second adjustment: %+v", adjustments[1])
	}
}

func TestBuildPlanWritesAllDuplicates(t *testing.T) {
	s := memory.NewSeeded()

	var plan *Plan
	err := s.RunTransaction(context.Background(), func(tx store.Tx) error {
		var err error
		plan, err = BuildPlan(tx, []domain.CartLineItem{{SKU: "SKU-NOODLE-01", Qty: 2}})
		return err
	})
	if err != nil {
		t.Fatalf("build plan failed: %v", err)
	}

	if len(plan.Products) != 1 {
		t.Fatalf("expected one product plan, got %d", len(plan.Products))
	}
	product := plan.Products[0]
	if product.Canonical.ID != "inv-d4a38f" {
		t.Fatalf("unexpected canonical: %s", product.Canonical.ID)
	}
	if len(product.Writes) != 2 {
		t.Fatalf("expected writes to both duplicate records, got %d", len(product.Writes))
	}
	for _, w := range product.Writes {
		if w.NewStock != 48 {
			t.Fatalf("expected converged stock 48 on %s, got %d", w.RecordID, w.NewStock)
		}
	}
}

func TestBuildPlanInsufficientStock(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	if err := s.PutInventoryRecord(ctx, domain.InventoryRecord{ID: "SKU-LOW-01", Stock: 2}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		_, err := BuildPlan(tx, []domain.CartLineItem{{SKU: "SKU-LOW-01", Qty: 3}})
		return err
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	var insufficient *InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.CurrentStock != 2 || insufficient.Requested != 3 {
		t.Fatalf("unexpected diagnostics: %+v", insufficient)
	}
}

// Draining the canonical record exactly to zero is allowed.
func TestBuildPlanAllowsExactDrain(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	if err := s.PutInventoryRecord(ctx, domain.InventoryRecord{ID: "SKU-LAST-01", Stock: 3}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		plan, err := BuildPlan(tx, []domain.CartLineItem{{SKU: "SKU-LAST-01", Qty: 3}})
		if err != nil {
			return err
		}
		if plan.Products[0].Writes[0].NewStock != 0 {
			t.Fatalf("expected stock 0, got %d", plan.Products[0].Writes[0].NewStock)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("build plan failed: %v", err)
	}
}

func TestBuildPlanEmptyCart(t *testing.T) {
	s := memory.NewSeeded()

	err := s.RunTransaction(context.Background(), func(tx store.Tx) error {
		plan, err := BuildPlan(tx, []domain.CartLineItem{{SKU: domain.UnknownScanSKU, Qty: 1}})
		if err != nil {
			return err
		}
		if len(plan.Products) != 0 {
			t.Fatalf("expected empty plan, got %+v", plan.Products)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("build plan failed: %v", err)
	}
}

func TestApplyPlanUpdatesEveryRecord(t *testing.T) {
	s := memory.NewSeeded()
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		plan, err := BuildPlan(tx, []domain.CartLineItem{
			{SKU: "SKU-NOODLE-01", Qty: 2},
			{SKU: "SKU-COLA-01", Qty: 1},
		})
		if err != nil {
			return err
		}
		result, err := ApplyPlan(tx, plan, time.Now().UTC())
		if err != nil {
			return err
		}
		if result.UpdatedProducts != 2 || result.UpdatedRecords != 3 {
			t.Fatalf("unexpected apply result: %+v", result)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	stocks := map[string]int{}
	err = s.RunTransaction(ctx, func(tx store.Tx) error {
		for _, id := range []string{"inv-d4a38f", "inv-e5b490", "SKU-COLA-01"} {
			rec, err := tx.GetInventoryRecord(id)
			if err != nil {
				return err
			}
			stocks[id] = rec.Stock
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if stocks["inv-d4a38f"] != 48 || stocks["inv-e5b490"] != 48 {
		t.Fatalf("duplicates diverged: %+v", stocks)
	}
	if stocks["SKU-COLA-01"] != 119 {
		t.Fatalf("expected 119, got %d", stocks["SKU-COLA-01"])
	}
}
