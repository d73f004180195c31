package inventory

import (
	"fmt"
	"sort"

	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/domain"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/store"
)

// InsufficientStockError carries the diagnostics a kiosk needs to tell the
// shopper why the purchase was rejected.
type InsufficientStockError struct {
	SKU          string
	CurrentStock int
	Requested    int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: have %d, need %d", e.SKU, e.CurrentStock, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return store.ErrInsufficientStock }

// RecordWrite is one pending stock write to a specific inventory record.
type RecordWrite struct {
	RecordID string
	NewStock int
}

// ProductPlan is the validated decrement for one product: the new level is
// written to every matching record so legacy duplicates converge instead of
// drifting.
type ProductPlan struct {
	Adjustment domain.ProductAdjustment
	Canonical  domain.InventoryRecord
	Writes     []RecordWrite
}

// Plan is a complete, validated write plan for one purchase. It is built
// entirely from reads, so the caller may still abort without any stock
// mutation having happened.
type Plan struct {
	Products []ProductPlan
}

// Aggregate collapses cart lines into per-product adjustments. Lines without
// a product reference and unknown-scan sentinel lines are skipped; quantities
// default to 1 and non-positive values are coerced to 1. Product order is
// deterministic (sorted by sku).
func Aggregate(items []domain.CartLineItem) []domain.ProductAdjustment {
	perSKU := make(map[string]int, len(items))
	for _, item := range items {
		if item.SKU == "" || item.SKU == domain.UnknownScanSKU {
			continue
		}
		qty := item.Qty
		if qty <= 0 {
			qty = 1
		}
		perSKU[item.SKU] += qty
	}

	skus := make([]string, 0, len(perSKU))
	for sku := range perSKU {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	adjustments := make([]domain.ProductAdjustment, 0, len(skus))
	for _, sku := range skus {
		adjustments = append(adjustments, domain.ProductAdjustment{SKU: sku, Qty: perSKU[sku]})
	}
	return adjustments
}

// BuildPlan resolves and validates every product in the cart before a single
// write is issued. Any failure rejects the whole purchase: partial decrement
// is never acceptable.
func BuildPlan(tx store.Tx, items []domain.CartLineItem) (*Plan, error) {
	adjustments := Aggregate(items)
	if len(adjustments) == 0 {
		return &Plan{}, nil
	}

	plan := &Plan{Products: make([]ProductPlan, 0, len(adjustments))}
	for _, adj := range adjustments {
		res, err := Resolve(tx, adj.SKU)
		if err != nil {
			return nil, err
		}

		remaining := res.Canonical.Stock - adj.Qty
		if remaining < 0 {
			return nil, &InsufficientStockError{
				SKU:          adj.SKU,
				CurrentStock: res.Canonical.Stock,
				Requested:    adj.Qty,
			}
		}

		writes := make([]RecordWrite, 0, len(res.AllMatches))
		for _, rec := range res.AllMatches {
			writes = append(writes, RecordWrite{RecordID: rec.ID, NewStock: remaining})
		}
		plan.Products = append(plan.Products, ProductPlan{
			Adjustment: adj,
			Canonical:  res.Canonical,
			Writes:     writes,
		})
	}
	return plan, nil
}
