package store

import (
	"context"
	"errors"
	"time"

	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrNoInventoryRecord   = errors.New("no inventory record")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrTransactionConflict = errors.New("transaction conflict")
	ErrReadAfterWrite      = errors.New("transaction read after write")
	ErrPaymentLinked       = errors.New("payment already linked")
)

// Inventory reference fields queryable inside a transaction. These are the
// two legacy string-valued fields; structured references go through
// FindInventoryByRef.
const (
	FieldProductSKU = "product_sku"
	FieldSKU        = "sku"
)

// Tx is one attempt of an optimistic document transaction. All reads must be
// issued before the first write; a read after a write fails with
// ErrReadAfterWrite. Writes are atomic: either every write in the attempt
// commits or none do. The enclosing RunTransaction retries the whole attempt
// on write contention, so fn must be side-effect free outside the Tx.
type Tx interface {
	GetInventoryRecord(id string) (*domain.InventoryRecord, error)
	FindInventoryByField(field string, value string) ([]domain.InventoryRecord, error)
	FindInventoryByRef(ref domain.ProductRef) ([]domain.InventoryRecord, error)
	GetPurchase(id string) (*domain.PurchaseRecord, error)
	GetPayment(provider string, ref string) (*domain.PaymentRecord, error)

	SetInventoryStock(recordID string, stock int, at time.Time) error
	CreatePurchase(p domain.PurchaseRecord) error
	CreateReceipt(r domain.PublicReceipt) error
	SetPurchaseDecremented(purchaseID string, by string) error
	// LinkPayment sets the idempotency marker. It upserts the payment record
	// if the projection has not landed yet, and fails the attempt with
	// ErrPaymentLinked if another purchase already claimed the marker.
	LinkPayment(p domain.PaymentRecord) error
	UpdatePaymentState(provider string, ref string, state string, paid bool) error
}

// TxStore is the storage backend. RunTransaction runs fn against a Tx,
// retrying the entire attempt transparently on optimistic write conflict and
// returning ErrTransactionConflict only once retries are exhausted. Any other
// error from fn aborts without retry and discards the attempt's writes.
type TxStore interface {
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error

	GetReceipt(ctx context.Context, token string) (*domain.PublicReceipt, error)
	GetPurchase(ctx context.Context, id string) (*domain.PurchaseRecord, error)

	// Non-transactional writers used by external collaborators (catalog
	// workflows, payment-projection ingest) and by tests.
	PutInventoryRecord(ctx context.Context, rec domain.InventoryRecord) error
	UpsertPayment(ctx context.Context, p domain.PaymentRecord) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}
