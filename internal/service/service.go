package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/cache"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/domain"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/events"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/gateway"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/inventory"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/store"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/xid"
)

const receiptCacheTTL = 24 * time.Hour

type Service struct {
	store            store.TxStore
	gateways         map[string]gateway.Gateway
	publisher        events.Publisher
	receipts         cache.ReceiptCache
	defaultStationID string
}

func New(txStore store.TxStore, gateways map[string]gateway.Gateway, publisher events.Publisher, receipts cache.ReceiptCache, defaultStationID string) *Service {
	if gateways == nil {
		gateways = map[string]gateway.Gateway{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if receipts == nil {
		receipts = cache.NoopReceiptCache{}
	}
	if defaultStationID == "" {
		defaultStationID = "station-1"
	}
	return &Service{
		store:            txStore,
		gateways:         gateways,
		publisher:        publisher,
		receipts:         receipts,
		defaultStationID: defaultStationID,
	}
}

// SetPublisher swaps the purchase-created publisher after construction. The
// in-process dispatcher uses Reconcile as its handler, so the caller builds
// the service first and wires the publisher second.
func (s *Service) SetPublisher(p events.Publisher) {
	if p == nil {
		p = events.NoopPublisher{}
	}
	s.publisher = p
}

// RecordAndDecrement is the direct path for already-confirmed or simulated
// payments: no gateway check, one transaction covering decrement, purchase
// record and receipt. The purchase is flagged as decremented so the
// safety-net reconciler skips it.
func (s *Service) RecordAndDecrement(ctx context.Context, req domain.RecordRequest) (domain.RecordResponse, error) {
	if req.StationID == "" {
		req.StationID = s.defaultStationID
	}
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if req.PaymentMethod == "" {
		req.PaymentMethod = "simulated"
	}
	lines := snapshotLines(req.CartItems)
	if len(lines) == 0 {
		return domain.RecordResponse{}, store.ErrInvalidRequest
	}
	total := req.AmountCents
	if total <= 0 {
		total = linesTotal(lines)
	}

	var resp domain.RecordResponse
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		plan, err := inventory.BuildPlan(tx, req.CartItems)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		purchaseID := xid.New("pur")
		token, err := xid.Token(16)
		if err != nil {
			return err
		}

		if _, err := inventory.ApplyPlan(tx, plan, now); err != nil {
			return err
		}
		purchase := domain.PurchaseRecord{
			ID:               purchaseID,
			StationID:        req.StationID,
			CustomerRef:      req.CustomerRef,
			Lines:            lines,
			TotalCents:       total,
			PaymentMethod:    req.PaymentMethod,
			PaymentStatus:    domain.PurchaseStatusPaid,
			ReceiptToken:     token,
			StockDecremented: true,
			DecrementedBy:    domain.DecrementByDirect,
			CreatedAt:        now,
		}
		if err := tx.CreatePurchase(purchase); err != nil {
			return err
		}
		if err := tx.CreateReceipt(receiptFor(purchase)); err != nil {
			return err
		}
		resp = domain.RecordResponse{PurchaseID: purchaseID, ReceiptToken: token}
		return nil
	})
	if err != nil {
		return domain.RecordResponse{}, err
	}

	s.notifyPurchaseCreated(ctx, resp.PurchaseID, req.StationID)
	log.Printf("[service] recorded purchase=%s station=%s total=%d method=%s", resp.PurchaseID, req.StationID, total, req.PaymentMethod)
	return resp, nil
}

// FinalizePayment verifies a provider payment and, guarded by the payment
// record's idempotency marker, performs decrement + purchase + receipt
// exactly once. It may be invoked any number of times for the same payment
// reference (client retry, polling race, duplicate webhook); every invocation
// converges on the same purchase id and receipt token.
func (s *Service) FinalizePayment(ctx context.Context, req domain.FinalizeRequest) (domain.FinalizeResponse, error) {
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.PaymentRef = strings.TrimSpace(req.PaymentRef)
	if req.PaymentRef == "" {
		return domain.FinalizeResponse{}, store.ErrInvalidRequest
	}
	gw, ok := s.gateways[req.Provider]
	if !ok {
		return domain.FinalizeResponse{}, fmt.Errorf("%w: %s", ErrUnknownProvider, req.Provider)
	}
	if req.StationID == "" {
		req.StationID = s.defaultStationID
	}
	lines := snapshotLines(req.CartItems)
	expected := req.AmountCents
	if expected <= 0 {
		expected = linesTotal(lines)
	}

	// The gateway call blocks on network I/O and therefore happens before the
	// transaction begins; transactions stay short-lived.
	status, err := gw.Status(ctx, req.PaymentRef)
	if err != nil {
		return domain.FinalizeResponse{}, err
	}
	if !status.Paid {
		return domain.FinalizeResponse{}, fmt.Errorf("%w: provider state %q", ErrPaymentNotConfirmed, status.State)
	}
	if status.AmountCents != expected {
		return domain.FinalizeResponse{}, &AmountMismatchError{ExpectedCents: expected, PaidCents: status.AmountCents}
	}
	if status.Reference != "" && status.Reference != req.StationID {
		return domain.FinalizeResponse{}, &ReferenceMismatchError{Expected: req.StationID, Echoed: status.Reference}
	}

	var resp domain.FinalizeResponse
	err = s.store.RunTransaction(ctx, func(tx store.Tx) error {
		resp = domain.FinalizeResponse{}

		pay, err := tx.GetPayment(req.Provider, req.PaymentRef)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err == nil && pay.LinkedPurchaseID != "" {
			// Idempotency guard: a previous invocation won. Refresh provider
			// metadata only; never redo the decrement.
			resp = domain.FinalizeResponse{
				PurchaseID:       pay.LinkedPurchaseID,
				ReceiptToken:     pay.ReceiptToken,
				AlreadyFinalized: true,
			}
			return tx.UpdatePaymentState(req.Provider, req.PaymentRef, status.State, true)
		}

		plan, err := inventory.BuildPlan(tx, req.CartItems)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		purchaseID := xid.New("pur")
		token, err := xid.Token(16)
		if err != nil {
			return err
		}

		if _, err := inventory.ApplyPlan(tx, plan, now); err != nil {
			return err
		}
		purchase := domain.PurchaseRecord{
			ID:               purchaseID,
			StationID:        req.StationID,
			CustomerRef:      req.CustomerRef,
			Lines:            lines,
			TotalCents:       expected,
			PaymentMethod:    req.Provider,
			PaymentStatus:    domain.PurchaseStatusPaid,
			ReceiptToken:     token,
			StockDecremented: true,
			DecrementedBy:    domain.DecrementByFinalizer,
			CreatedAt:        now,
		}
		if err := tx.CreatePurchase(purchase); err != nil {
			return err
		}
		if err := tx.CreateReceipt(receiptFor(purchase)); err != nil {
			return err
		}
		if err := tx.LinkPayment(domain.PaymentRecord{
			Provider:         req.Provider,
			Ref:              req.PaymentRef,
			AmountCents:      status.AmountCents,
			Paid:             true,
			ProviderState:    status.State,
			LinkedPurchaseID: purchaseID,
			ReceiptToken:     token,
			UpdatedAt:        now,
		}); err != nil {
			return err
		}
		resp = domain.FinalizeResponse{PurchaseID: purchaseID, ReceiptToken: token}
		return nil
	})
	if err != nil {
		return domain.FinalizeResponse{}, err
	}

	if resp.AlreadyFinalized {
		log.Printf("[service] finalize replay provider=%s ref=%s purchase=%s", req.Provider, req.PaymentRef, resp.PurchaseID)
		return resp, nil
	}
	s.notifyPurchaseCreated(ctx, resp.PurchaseID, req.StationID)
	log.Printf("[service] finalized provider=%s ref=%s purchase=%s total=%d", req.Provider, req.PaymentRef, resp.PurchaseID, expected)
	return resp, nil
}

// Reconcile is the safety net behind purchase-created events. It re-reads the
// purchase's decremented flag inside a transaction and only acts when the
// flag is absent, so at-least-once delivery never double-decrements. Failures
// are logged and returned: silent stock drift is worse than a visible fault.
func (s *Service) Reconcile(ctx context.Context, purchaseID string) error {
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		purchase, err := tx.GetPurchase(purchaseID)
		if err != nil {
			return err
		}
		if purchase.StockDecremented {
			return nil
		}
		if len(purchase.Lines) == 0 {
			return nil
		}

		plan, err := inventory.BuildPlan(tx, cartFromLines(purchase.Lines))
		if err != nil {
			return err
		}
		if _, err := inventory.ApplyPlan(tx, plan, time.Now().UTC()); err != nil {
			return err
		}
		return tx.SetPurchaseDecremented(purchaseID, domain.DecrementByReconciler)
	})
	if err != nil {
		log.Printf("[service] ERROR: reconcile purchase=%s: %v", purchaseID, err)
		return err
	}
	return nil
}

// GetReceipt serves the unauthenticated public receipt lookup. Receipts are
// immutable once issued, so cache entries never need invalidation.
func (s *Service) GetReceipt(ctx context.Context, token string) (*domain.PublicReceipt, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, store.ErrNotFound
	}

	if cached, found, err := s.receipts.Get(ctx, token); err == nil && found {
		return cached, nil
	}

	receipt, err := s.store.GetReceipt(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.receipts.Set(ctx, token, receipt, receiptCacheTTL); err != nil {
		log.Printf("[service] WARN: receipt cache set failed: %v", err)
	}
	return receipt, nil
}

func (s *Service) notifyPurchaseCreated(ctx context.Context, purchaseID string, stationID string) {
	ev := events.NewPurchaseCreated(purchaseID, stationID)
	if err := s.publisher.PublishPurchaseCreated(ctx, ev); err != nil {
		// The reconciler is a fallback; the purchase itself is committed.
		log.Printf("[service] WARN: publish purchase-created purchase=%s: %v", purchaseID, err)
	}
}

// snapshotLines freezes cart lines for the purchase record. Unknown-scan
// lines stay in the snapshot (they were charged); quantity coercion mirrors
// the planner so the receipt matches what stock was decremented by.
func snapshotLines(items []domain.CartLineItem) []domain.PurchaseLine {
	lines := make([]domain.PurchaseLine, 0, len(items))
	for _, item := range items {
		qty := item.Qty
		if qty <= 0 {
			qty = 1
		}
		lines = append(lines, domain.PurchaseLine{
			SKU:            item.SKU,
			Name:           item.Name,
			UnitPriceCents: item.UnitPriceCents,
			Qty:            qty,
		})
	}
	return lines
}

func cartFromLines(lines []domain.PurchaseLine) []domain.CartLineItem {
	items := make([]domain.CartLineItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.CartLineItem{
			SKU:            line.SKU,
			Name:           line.Name,
			UnitPriceCents: line.UnitPriceCents,
			Qty:            line.Qty,
		})
	}
	return items
}

func linesTotal(lines []domain.PurchaseLine) int64 {
	var total int64
	for _, line := range lines {
		total += line.UnitPriceCents * int64(line.Qty)
	}
	return total
}

func receiptFor(p domain.PurchaseRecord) domain.PublicReceipt {
	return domain.PublicReceipt{
		Token:      p.ReceiptToken,
		PurchaseID: p.ID,
		StationID:  p.StationID,
		Status:     p.PaymentStatus,
		TotalCents: p.TotalCents,
		Lines:      p.Lines,
		IssuedAt:   p.CreatedAt,
	}
}
