package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/domain"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/store"
)

// maxTxAttempts bounds the optimistic retry loop, matching the behavior of
// document stores that re-run a transaction a handful of times before giving
// up with a contention error.
const maxTxAttempts = 5

type doc[T any] struct {
	val     T
	version uint64
}

// Store is an in-memory document store with per-document versioning and
// optimistic transactions: reads record the version they observed, writes are
// buffered, and commit revalidates every read under the write lock.
type Store struct {
	mu        sync.RWMutex
	inventory map[string]doc[domain.InventoryRecord]
	invColVer uint64
	purchases map[string]doc[domain.PurchaseRecord]
	payments  map[string]doc[domain.PaymentRecord]
	receipts  map[string]doc[domain.PublicReceipt]
	users     map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		inventory: make(map[string]doc[domain.InventoryRecord]),
		purchases: make(map[string]doc[domain.PurchaseRecord]),
		payments:  make(map[string]doc[domain.PaymentRecord]),
		receipts:  make(map[string]doc[domain.PublicReceipt]),
		users:     seedUsers(),
	}
}

// NewSeeded returns a store populated with a dev fixture covering every
// legacy inventory shape, including a deliberately duplicated product.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	records := []domain.InventoryRecord{
		// Oldest shape: the record id is the product id.
		{ID: "SKU-COLA-01", Stock: 120, UpdatedAt: now},
		// Primary legacy field.
		{ID: "inv-a1f04c", ProductSKU: "SKU-CHIPS-01", Stock: 80, UpdatedAt: now},
		// Secondary legacy field.
		{ID: "inv-b2e91d", SKU: "SKU-WATER-01", Stock: 60, UpdatedAt: now},
		// Structured reference.
		{ID: "inv-c3d27e", ProductRef: refPtr(domain.NewProductRef("SKU-CANDY-01")), Stock: 40, UpdatedAt: now},
		// Legacy duplication: two records for the same product that must be
		// kept numerically consistent.
		{ID: "inv-d4a38f", ProductSKU: "SKU-NOODLE-01", Stock: 50, UpdatedAt: now},
		{ID: "inv-e5b490", SKU: "SKU-NOODLE-01", Stock: 50, UpdatedAt: now},
	}
	for _, rec := range records {
		s.inventory[rec.ID] = doc[domain.InventoryRecord]{val: rec, version: 1}
	}
	s.invColVer = 1
	return s
}

func refPtr(ref domain.ProductRef) *domain.ProductRef {
	return &ref
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_KIOSK_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. Production
// deployments use PostgreSQL and never reach this path.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	kioskPwd := envOr("SEED_KIOSK_PASSWORD", "kiosk123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_KIOSK_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_KIOSK_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"kiosk", kioskPwd, "kiosk"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

const invCollectionKey = "inventory-collection"

func invKey(id string) string            { return "inv/" + id }
func purKey(id string) string            { return "pur/" + id }
func payKey(provider, ref string) string { return "pay/" + provider + "/" + ref }

// currentVersion reports the committed version for a read-set key; missing
// documents report version zero so a later create invalidates the read.
func (s *Store) currentVersion(key string) uint64 {
	if key == invCollectionKey {
		return s.invColVer
	}
	if len(key) > 4 {
		switch key[:4] {
		case "inv/":
			return s.inventory[key[4:]].version
		case "pur/":
			return s.purchases[key[4:]].version
		case "pay/":
			return s.payments[key[4:]].version
		}
	}
	return 0
}

type txOp struct {
	// check validates the op against committed state; a failed check aborts
	// the attempt without retry. apply mutates state. Both run with s.mu held.
	check func(s *Store) error
	apply func(s *Store)
}

type memTx struct {
	store *Store
	reads map[string]uint64
	ops   []txOp
	wrote bool
}

func (t *memTx) recordRead(key string) {
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = t.store.currentVersion(key)
	}
}

func (t *memTx) readable() error {
	if t.wrote {
		return store.ErrReadAfterWrite
	}
	return nil
}

func (t *memTx) GetInventoryRecord(id string) (*domain.InventoryRecord, error) {
	if err := t.readable(); err != nil {
		return nil, err
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	t.recordRead(invKey(id))
	d, ok := t.store.inventory[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	rec := d.val
	return &rec, nil
}

func (t *memTx) FindInventoryByField(field string, value string) ([]domain.InventoryRecord, error) {
	if err := t.readable(); err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	t.recordRead(invCollectionKey)

	var matches []domain.InventoryRecord
	for id, d := range t.store.inventory {
		var fieldValue string
		switch field {
		case store.FieldProductSKU:
			fieldValue = d.val.ProductSKU
		case store.FieldSKU:
			fieldValue = d.val.SKU
		default:
			return nil, fmt.Errorf("%w: unknown inventory field %q", store.ErrInvalidRequest, field)
		}
		if fieldValue == value {
			t.recordRead(invKey(id))
			matches = append(matches, d.val)
		}
	}
	sortRecords(matches)
	return matches, nil
}

func (t *memTx) FindInventoryByRef(ref domain.ProductRef) ([]domain.InventoryRecord, error) {
	if err := t.readable(); err != nil {
		return nil, err
	}
	if ref.Path == "" {
		return nil, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	t.recordRead(invCollectionKey)

	var matches []domain.InventoryRecord
	for id, d := range t.store.inventory {
		if d.val.ProductRef != nil && d.val.ProductRef.Path == ref.Path {
			t.recordRead(invKey(id))
			matches = append(matches, d.val)
		}
	}
	sortRecords(matches)
	return matches, nil
}

func sortRecords(records []domain.InventoryRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
}

func (t *memTx) GetPurchase(id string) (*domain.PurchaseRecord, error) {
	if err := t.readable(); err != nil {
		return nil, err
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	t.recordRead(purKey(id))
	d, ok := t.store.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p := clonePurchase(d.val)
	return &p, nil
}

func (t *memTx) GetPayment(provider string, ref string) (*domain.PaymentRecord, error) {
	if err := t.readable(); err != nil {
		return nil, err
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	t.recordRead(payKey(provider, ref))
	d, ok := t.store.payments[provider+"/"+ref]
	if !ok {
		return nil, store.ErrNotFound
	}
	p := d.val
	return &p, nil
}

func (t *memTx) SetInventoryStock(recordID string, stock int, at time.Time) error {
	if stock < 0 {
		return fmt.Errorf("%w: stock for %s would be %d", store.ErrInsufficientStock, recordID, stock)
	}
	t.wrote = true
	t.ops = append(t.ops, txOp{
		check: func(s *Store) error {
			if _, ok := s.inventory[recordID]; !ok {
				return fmt.Errorf("%w: inventory record %s", store.ErrNotFound, recordID)
			}
			return nil
		},
		apply: func(s *Store) {
			d := s.inventory[recordID]
			d.val.Stock = stock
			d.val.UpdatedAt = at
			d.version++
			s.inventory[recordID] = d
		},
	})
	return nil
}

func (t *memTx) CreatePurchase(p domain.PurchaseRecord) error {
	if p.ID == "" {
		return fmt.Errorf("%w: purchase id required", store.ErrInvalidRequest)
	}
	t.wrote = true
	stored := clonePurchase(p)
	t.ops = append(t.ops, txOp{
		check: func(s *Store) error {
			if _, exists := s.purchases[stored.ID]; exists {
				return fmt.Errorf("%w: purchase %s exists", store.ErrInvalidRequest, stored.ID)
			}
			return nil
		},
		apply: func(s *Store) {
			s.purchases[stored.ID] = doc[domain.PurchaseRecord]{val: stored, version: 1}
		},
	})
	return nil
}

func (t *memTx) CreateReceipt(r domain.PublicReceipt) error {
	if r.Token == "" {
		return fmt.Errorf("%w: receipt token required", store.ErrInvalidRequest)
	}
	t.wrote = true
	stored := cloneReceipt(r)
	t.ops = append(t.ops, txOp{
		check: func(s *Store) error {
			if _, exists := s.receipts[stored.Token]; exists {
				return fmt.Errorf("%w: receipt token collision", store.ErrInvalidRequest)
			}
			return nil
		},
		apply: func(s *Store) {
			s.receipts[stored.Token] = doc[domain.PublicReceipt]{val: stored, version: 1}
		},
	})
	return nil
}

func (t *memTx) SetPurchaseDecremented(purchaseID string, by string) error {
	t.wrote = true
	t.ops = append(t.ops, txOp{
		check: func(s *Store) error {
			if _, ok := s.purchases[purchaseID]; !ok {
				return fmt.Errorf("%w: purchase %s", store.ErrNotFound, purchaseID)
			}
			return nil
		},
		apply: func(s *Store) {
			d := s.purchases[purchaseID]
			d.val.StockDecremented = true
			d.val.DecrementedBy = by
			d.version++
			s.purchases[purchaseID] = d
		},
	})
	return nil
}

func (t *memTx) LinkPayment(p domain.PaymentRecord) error {
	if p.Provider == "" || p.Ref == "" || p.LinkedPurchaseID == "" {
		return fmt.Errorf("%w: payment link requires provider, ref and purchase id", store.ErrInvalidRequest)
	}
	t.wrote = true
	key := p.Provider + "/" + p.Ref
	stored := p
	t.ops = append(t.ops, txOp{
		check: func(s *Store) error {
			existing, ok := s.payments[key]
			if ok && existing.val.LinkedPurchaseID != "" && existing.val.LinkedPurchaseID != stored.LinkedPurchaseID {
				return store.ErrPaymentLinked
			}
			return nil
		},
		apply: func(s *Store) {
			d := s.payments[key]
			d.val = stored
			d.version++
			s.payments[key] = d
		},
	})
	return nil
}

func (t *memTx) UpdatePaymentState(provider string, ref string, state string, paid bool) error {
	t.wrote = true
	key := provider + "/" + ref
	t.ops = append(t.ops, txOp{
		check: func(s *Store) error {
			if _, ok := s.payments[key]; !ok {
				return fmt.Errorf("%w: payment %s/%s", store.ErrNotFound, provider, ref)
			}
			return nil
		},
		apply: func(s *Store) {
			d := s.payments[key]
			d.val.ProviderState = state
			d.val.Paid = paid
			d.val.UpdatedAt = time.Now().UTC()
			d.version++
			s.payments[key] = d
		},
	})
	return nil
}

// RunTransaction runs fn against a fresh attempt, retrying the whole attempt
// when commit-time validation finds a read was invalidated by a concurrent
// writer. Errors from fn abort immediately and discard buffered writes.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memTx{store: s, reads: make(map[string]uint64)}
		if err := fn(tx); err != nil {
			return err
		}
		committed, err := s.commit(tx)
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
	}
	return store.ErrTransactionConflict
}

// commit returns (false, nil) when a read was invalidated and the attempt
// should be retried.
func (s *Store) commit(tx *memTx) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, observed := range tx.reads {
		if s.currentVersion(key) != observed {
			return false, nil
		}
	}
	for _, op := range tx.ops {
		if err := op.check(s); err != nil {
			return false, err
		}
	}
	for _, op := range tx.ops {
		op.apply(s)
	}
	return true, nil
}

func (s *Store) GetReceipt(_ context.Context, token string) (*domain.PublicReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.receipts[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	r := cloneReceipt(d.val)
	return &r, nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (*domain.PurchaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p := clonePurchase(d.val)
	return &p, nil
}

func (s *Store) PutInventoryRecord(_ context.Context, rec domain.InventoryRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: inventory record id required", store.ErrInvalidRequest)
	}
	if rec.Stock < 0 {
		return fmt.Errorf("%w: negative stock", store.ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.inventory[rec.ID]
	d.val = rec
	d.version++
	s.inventory[rec.ID] = d
	s.invColVer++
	return nil
}

func (s *Store) UpsertPayment(_ context.Context, p domain.PaymentRecord) error {
	if p.Provider == "" || p.Ref == "" {
		return fmt.Errorf("%w: provider and ref required", store.ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := p.Provider + "/" + p.Ref
	d := s.payments[key]
	// Never clobber an established idempotency marker from the ingest path.
	if d.val.LinkedPurchaseID != "" {
		p.LinkedPurchaseID = d.val.LinkedPurchaseID
		p.ReceiptToken = d.val.ReceiptToken
	}
	d.val = p
	d.version++
	s.payments[key] = d
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Username]; exists {
		return store.ErrInvalidRequest
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func clonePurchase(p domain.PurchaseRecord) domain.PurchaseRecord {
	out := p
	out.Lines = append([]domain.PurchaseLine(nil), p.Lines...)
	return out
}

func cloneReceipt(r domain.PublicReceipt) domain.PublicReceipt {
	out := r
	out.Lines = append([]domain.PurchaseLine(nil), r.Lines...)
	return out
}
