package inventory

import (
	"time"

	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/store"
)

// ApplyResult summarizes a committed-if-the-transaction-commits plan.
type ApplyResult struct {
	UpdatedProducts int
	UpdatedRecords  int
}

// ApplyPlan issues every stock write in the plan through the transaction.
// The caller creates the purchase and receipt in the same transaction, so a
// concurrent reader never sees decremented stock without the purchase record
// or vice versa. Conflict retry is the storage layer's job and replays the
// whole attempt, plan construction included.
func ApplyPlan(tx store.Tx, plan *Plan, at time.Time) (ApplyResult, error) {
	result := ApplyResult{}
	for _, product := range plan.Products {
		for _, w := range product.Writes {
			if err := tx.SetInventoryStock(w.RecordID, w.NewStock, at); err != nil {
				return ApplyResult{}, err
			}
			result.UpdatedRecords++
		}
		result.UpdatedProducts++
	}
	return result, nil
}
