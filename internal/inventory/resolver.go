// Package inventory locates stock records across the legacy reference
// schemes, plans per-purchase decrements, and applies them inside a storage
// transaction.
package inventory

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/domain"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/store"
)

// Rule scores. The ordering (record id > primary field > secondary field >
// structured ref) reproduces the historical lookup behavior, which determines
// which of several duplicate records is treated as canonical.
const (
	scoreRecordID  = 40
	scorePrimary   = 30
	scoreSecondary = 20
	scoreStructRef = 10
)

// NoRecordError reports a product with no inventory record under any scheme.
type NoRecordError struct {
	SKU string
}

func (e *NoRecordError) Error() string {
	return fmt.Sprintf("no inventory record for product %s", e.SKU)
}

func (e *NoRecordError) Unwrap() error { return store.ErrNoInventoryRecord }

// Resolution is the outcome of resolving one product id. Canonical is the
// highest-ranked record; AllMatches includes every candidate so duplicates
// can be kept in sync on write.
type Resolution struct {
	Canonical  domain.InventoryRecord
	AllMatches []domain.InventoryRecord
}

type candidate struct {
	record domain.InventoryRecord
	score  int
}

// Resolve gathers inventory records matching productID under every reference
// scheme, de-duplicates them, and ranks them. Read-only; it must run inside
// the caller's transaction so the reads belong to the same attempt as the
// eventual writes.
func Resolve(tx store.Tx, productID string) (Resolution, error) {
	if productID == "" {
		return Resolution{}, &NoRecordError{SKU: productID}
	}

	best := make(map[string]candidate)
	consider := func(rec domain.InventoryRecord, score int, scheme domain.RefScheme) {
		rec.MatchedBy = scheme
		if existing, ok := best[rec.ID]; ok && existing.score >= score {
			return
		}
		best[rec.ID] = candidate{record: rec, score: score}
	}

	if rec, err := tx.GetInventoryRecord(productID); err == nil {
		consider(*rec, scoreRecordID, domain.RefSchemeRecordID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return Resolution{}, err
	}

	primary, err := tx.FindInventoryByField(store.FieldProductSKU, productID)
	if err != nil {
		return Resolution{}, err
	}
	for _, rec := range primary {
		consider(rec, scorePrimary, domain.RefSchemePrimary)
	}

	secondary, err := tx.FindInventoryByField(store.FieldSKU, productID)
	if err != nil {
		return Resolution{}, err
	}
	for _, rec := range secondary {
		consider(rec, scoreSecondary, domain.RefSchemeSecondary)
	}

	byRef, err := tx.FindInventoryByRef(domain.NewProductRef(productID))
	if err != nil {
		return Resolution{}, err
	}
	for _, rec := range byRef {
		consider(rec, scoreStructRef, domain.RefSchemeStructRef)
	}

	if len(best) == 0 {
		return Resolution{}, &NoRecordError{SKU: productID}
	}

	ranked := make([]candidate, 0, len(best))
	for _, c := range best {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		// Deterministic tie-break: lexicographically smallest record id.
		return ranked[i].record.ID < ranked[j].record.ID
	})

	all := make([]domain.InventoryRecord, len(ranked))
	for i, c := range ranked {
		all[i] = c.record
	}
	return Resolution{Canonical: all[0], AllMatches: all}, nil
}
