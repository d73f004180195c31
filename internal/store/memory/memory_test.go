package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/domain"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/store"
)

func TestTransactionCommitsBufferedWrites(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		rec, err := tx.GetInventoryRecord("SKU-COLA-01")
		if err != nil {
			return err
		}
		return tx.SetInventoryStock(rec.ID, rec.Stock-2, time.Now().UTC())
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	var after int
	err = s.RunTransaction(ctx, func(tx store.Tx) error {
		rec, err := tx.GetInventoryRecord("SKU-COLA-01")
		if err != nil {
			return err
		}
		after = rec.Stock
		return nil
	})
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if after != 118 {
		t.Fatalf("expected stock 118, got %d", after)
	}
}

func TestTransactionReadAfterWriteRejected(t *testing.T) {
	s := NewSeeded()

	err := s.RunTransaction(context.Background(), func(tx store.Tx) error {
		if err := tx.SetInventoryStock("SKU-COLA-01", 100, time.Now().UTC()); err != nil {
			return err
		}
		_, err := tx.GetInventoryRecord("SKU-COLA-01")
		return err
	})
	if !errors.Is(err, store.ErrReadAfterWrite) {
		t.Fatalf("expected ErrReadAfterWrite, got %v", err)
	}
}

func TestTransactionFnErrorDiscardsWrites(t *testing.T) {
	s := NewSeeded()
	boom := errors.New("boom")

	err := s.RunTransaction(context.Background(), func(tx store.Tx) error {
		if err := tx.SetInventoryStock("SKU-COLA-01", 1, time.Now().UTC()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to surface, got %v", err)
	}

	var stock int
	_ = s.RunTransaction(context.Background(), func(tx store.Tx) error {
		rec, err := tx.GetInventoryRecord("SKU-COLA-01")
		if err != nil {
			return err
		}
		stock = rec.Stock
		return nil
	})
	if stock != 120 {
		t.Fatalf("expected untouched stock 120, got %d", stock)
	}
}

func TestTransactionRetriesOnInvalidatedRead(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	attempts := 0
	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		attempts++
		rec, err := tx.GetInventoryRecord("SKU-COLA-01")
		if err != nil {
			return err
		}
		if attempts == 1 {
			// A concurrent writer lands between this attempt's read and its
			// commit, invalidating the read version.
			if err := s.PutInventoryRecord(ctx, domain.InventoryRecord{ID: "SKU-COLA-01", Stock: 90}); err != nil {
				return err
			}
		}
		return tx.SetInventoryStock(rec.ID, rec.Stock-1, time.Now().UTC())
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}

	var stock int
	_ = s.RunTransaction(ctx, func(tx store.Tx) error {
		rec, err := tx.GetInventoryRecord("SKU-COLA-01")
		if err != nil {
			return err
		}
		stock = rec.Stock
		return nil
	})
	if stock != 89 {
		t.Fatalf("expected retry to base on fresh stock (89), got %d", stock)
	}
}

func TestTransactionConflictAfterExhaustedRetries(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		rec, err := tx.GetInventoryRecord("SKU-COLA-01")
		if err != nil {
			return err
		}
		// Invalidate every attempt.
		if err := s.PutInventoryRecord(ctx, domain.InventoryRecord{ID: "SKU-COLA-01", Stock: rec.Stock}); err != nil {
			return err
		}
		return tx.SetInventoryStock(rec.ID, rec.Stock-1, time.Now().UTC())
	})
	if !errors.Is(err, store.ErrTransactionConflict) {
		t.Fatalf("expected ErrTransactionConflict, got %v", err)
	}
}

func TestFieldQueryInvalidatedByNewMatchingRecord(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	attempts := 0
	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		attempts++
		matches, err := tx.FindInventoryByField(store.FieldProductSKU, "SKU-CHIPS-01")
		if err != nil {
			return err
		}
		if attempts == 1 {
			// A record matching the query appears before commit; the query
			// result is stale and the attempt must rerun.
			if err := s.PutInventoryRecord(ctx, domain.InventoryRecord{ID: "inv-new", ProductSKU: "SKU-CHIPS-01", Stock: 5}); err != nil {
				return err
			}
		}
		for _, rec := range matches {
			if err := tx.SetInventoryStock(rec.ID, rec.Stock-1, time.Now().UTC()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected retry after membership change, got %d attempts", attempts)
	}
}

func TestLinkPaymentGuardsEstablishedLink(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	link := func(purchaseID string) error {
		return s.RunTransaction(ctx, func(tx store.Tx) error {
			return tx.LinkPayment(domain.PaymentRecord{
				Provider:         "mayapos",
				Ref:              "bill-1",
				Paid:             true,
				LinkedPurchaseID: purchaseID,
				UpdatedAt:        time.Now().UTC(),
			})
		})
	}

	if err := link("pur-first"); err != nil {
		t.Fatalf("first link failed: %v", err)
	}
	if err := link("pur-first"); err != nil {
		t.Fatalf("re-linking the same purchase must be a no-op, got %v", err)
	}
	if err := link("pur-second"); !errors.Is(err, store.ErrPaymentLinked) {
		t.Fatalf("expected ErrPaymentLinked, got %v", err)
	}
}

func TestUpsertPaymentPreservesLink(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		return tx.LinkPayment(domain.PaymentRecord{
			Provider:         "stripeline",
			Ref:              "sess-9",
			Paid:             true,
			LinkedPurchaseID: "pur-linked",
			ReceiptToken:     "tok-linked",
			UpdatedAt:        time.Now().UTC(),
		})
	})
	if err != nil {
		t.Fatalf("link failed: %v", err)
	}

	// A later projection refresh carries no link; the marker must survive.
	err = s.UpsertPayment(ctx, domain.PaymentRecord{
		Provider:      "stripeline",
		Ref:           "sess-9",
		Paid:          true,
		ProviderState: "complete",
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	var pay *domain.PaymentRecord
	err = s.RunTransaction(ctx, func(tx store.Tx) error {
		p, err := tx.GetPayment("stripeline", "sess-9")
		if err != nil {
			return err
		}
		pay = p
		return nil
	})
	if err != nil {
		t.Fatalf("read payment failed: %v", err)
	}
	if pay.LinkedPurchaseID != "pur-linked" || pay.ReceiptToken != "tok-linked" {
		t.Fatalf("upsert clobbered link: %+v", pay)
	}
	if pay.ProviderState != "complete" {
		t.Fatalf("expected refreshed provider state, got %q", pay.ProviderState)
	}
}

func TestNegativeStockWriteRejected(t *testing.T) {
	s := NewSeeded()

	err := s.RunTransaction(context.Background(), func(tx store.Tx) error {
		return tx.SetInventoryStock("SKU-COLA-01", -1, time.Now().UTC())
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}
