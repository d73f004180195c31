package domain

import "time"

// Product is owned by catalog management; this backend only references it by id.
type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

// RefScheme names the historical convention an inventory record used to point
// at its product. Several generations of tag-linking tooling each wrote the
// reference under a different field, so records for the same product survive
// in all four shapes.
type RefScheme string

const (
	RefSchemeRecordID  RefScheme = "record_id"
	RefSchemePrimary   RefScheme = "product_sku"
	RefSchemeSecondary RefScheme = "sku"
	RefSchemeStructRef RefScheme = "product_ref"
)

// ProductRef is a structured reference to a catalog product, matched by path
// rather than by string equality on the id.
type ProductRef struct {
	Path string `json:"path"`
}

// NewProductRef builds the canonical reference path for a product id.
func NewProductRef(productID string) ProductRef {
	return ProductRef{Path: "products/" + productID}
}

// InventoryRecord is the stock document for one product. At most one of the
// reference fields is normally set; the oldest records carry none because
// their id doubles as the product id. Stock never goes below zero once a
// decrement commits.
type InventoryRecord struct {
	ID         string      `json:"id"`
	ProductSKU string      `json:"product_sku,omitempty"`
	SKU        string      `json:"sku,omitempty"`
	ProductRef *ProductRef `json:"product_ref,omitempty"`
	Stock      int         `json:"stock"`
	UpdatedAt  time.Time   `json:"updated_at"`

	// MatchedBy records which scheme matched during resolution. Not persisted.
	MatchedBy RefScheme `json:"-"`
}

// UnknownScanSKU marks a kiosk line that never resolved to a catalog product.
// Such lines are priced manually at the station and must not touch stock.
const UnknownScanSKU = "__unknown_scan__"

type CartLineItem struct {
	SKU            string `json:"sku"`
	Name           string `json:"name,omitempty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Qty            int    `json:"qty"`
}

// PurchaseLine is a cart line snapshotted at sale time.
type PurchaseLine struct {
	SKU            string `json:"sku"`
	Name           string `json:"name,omitempty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Qty            int    `json:"qty"`
}

// Attribution values for PurchaseRecord.DecrementedBy.
const (
	DecrementByFinalizer  = "finalizer"
	DecrementByDirect     = "direct"
	DecrementByReconciler = "reconciler"
)

const PurchaseStatusPaid = "paid"

// PurchaseRecord is immutable once created, except for the decremented flag
// which the safety-net reconciler may flip from false to true.
type PurchaseRecord struct {
	ID               string         `json:"id"`
	StationID        string         `json:"station_id"`
	CustomerRef      string         `json:"customer_ref,omitempty"`
	Lines            []PurchaseLine `json:"lines"`
	TotalCents       int64          `json:"total_cents"`
	PaymentMethod    string         `json:"payment_method"`
	PaymentStatus    string         `json:"payment_status"`
	ReceiptToken     string         `json:"receipt_token"`
	StockDecremented bool           `json:"stock_decremented"`
	DecrementedBy    string         `json:"decremented_by,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// PaymentRecord is the stored projection of a provider bill or checkout
// session. LinkedPurchaseID is the idempotency marker: once set it is never
// overwritten, and it binds the payment to exactly one purchase.
type PaymentRecord struct {
	Provider         string    `json:"provider"`
	Ref              string    `json:"ref"`
	AmountCents      int64     `json:"amount_cents"`
	Paid             bool      `json:"paid"`
	ProviderState    string    `json:"provider_state,omitempty"`
	LinkedPurchaseID string    `json:"linked_purchase_id,omitempty"`
	ReceiptToken     string    `json:"receipt_token,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PublicReceipt is keyed by the unguessable receipt token, not the purchase
// id, and holds only display-safe fields for unauthenticated lookup.
type PublicReceipt struct {
	Token      string         `json:"token"`
	PurchaseID string         `json:"purchase_id"`
	StationID  string         `json:"station_id"`
	Status     string         `json:"status"`
	TotalCents int64          `json:"total_cents"`
	Lines      []PurchaseLine `json:"lines"`
	IssuedAt   time.Time      `json:"issued_at"`
}

// ProductAdjustment is one aggregated decrement for a product.
type ProductAdjustment struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

type RecordRequest struct {
	StationID     string         `json:"station_id"`
	CustomerRef   string         `json:"customer_ref,omitempty"`
	PaymentMethod string         `json:"payment_method"`
	AmountCents   int64          `json:"amount_cents"`
	CartItems     []CartLineItem `json:"cart_items"`
}

type RecordResponse struct {
	PurchaseID   string `json:"purchase_id"`
	ReceiptToken string `json:"receipt_token"`
}

type FinalizeRequest struct {
	Provider    string         `json:"provider"`
	PaymentRef  string         `json:"payment_ref"`
	StationID   string         `json:"station_id"`
	CustomerRef string         `json:"customer_ref,omitempty"`
	AmountCents int64          `json:"amount_cents"`
	CartItems   []CartLineItem `json:"cart_items"`
}

type FinalizeResponse struct {
	PurchaseID       string `json:"purchase_id"`
	ReceiptToken     string `json:"receipt_token"`
	AlreadyFinalized bool   `json:"already_finalized"`
}

type ReceiptLookupResponse struct {
	Found   bool           `json:"found"`
	Receipt *PublicReceipt `json:"receipt,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
