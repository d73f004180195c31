package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/domain"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const maxTxAttempts = 5

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

// RunTransaction executes fn inside a serializable database transaction.
// Serialization failures roll the whole attempt back and rerun fn, so fn must
// not carry side effects outside the transaction.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.runAttempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
	}
	return store.ErrTransactionConflict
}

func (s *Store) runAttempt(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	attempt := &pgTx{ctx: ctx, tx: sqlTx}
	if err := fn(attempt); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// pgTx enforces the reads-before-writes discipline shared with the in-memory
// backend, so service code behaves identically against either store.
type pgTx struct {
	ctx   context.Context
	tx    *sql.Tx
	wrote bool
}

func (t *pgTx) readable() error {
	if t.wrote {
		return store.ErrReadAfterWrite
	}
	return nil
}

const inventoryColumns = `id, product_sku, sku, ref_path, stock, updated_at`

func scanInventoryRecord(row interface{ Scan(...any) error }) (*domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	var refPath string
	if err := row.Scan(&rec.ID, &rec.ProductSKU, &rec.SKU, &refPath, &rec.Stock, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if refPath != "" {
		rec.ProductRef = &domain.ProductRef{Path: refPath}
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func (t *pgTx) GetInventoryRecord(id string) (*domain.InventoryRecord, error) {
	if err := t.readable(); err != nil {
		return nil, err
	}
	rec, err := scanInventoryRecord(t.tx.QueryRowContext(t.ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_records
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (t *pgTx) FindInventoryByField(field string, value string) ([]domain.InventoryRecord, error) {
	if err := t.readable(); err != nil {
		return nil, err
	}
	var column string
	switch field {
	case store.FieldProductSKU:
		column = "product_sku"
	case store.FieldSKU:
		column = "sku"
	default:
		return nil, store.ErrInvalidRequest
	}

	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_records
		WHERE `+column+` = $1
		ORDER BY id ASC
	`, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectInventoryRecords(rows)
}

func (t *pgTx) FindInventoryByRef(ref domain.ProductRef) ([]domain.InventoryRecord, error) {
	if err := t.readable(); err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_records
		WHERE ref_path = $1
		ORDER BY id ASC
	`, ref.Path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectInventoryRecords(rows)
}

func collectInventoryRecords(rows *sql.Rows) ([]domain.InventoryRecord, error) {
	records := make([]domain.InventoryRecord, 0, 4)
	for rows.Next() {
		rec, err := scanInventoryRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (t *pgTx) GetPurchase(id string) (*domain.PurchaseRecord, error) {
	if err := t.readable(); err != nil {
		return nil, err
	}
	return scanPurchase(t.tx.QueryRowContext(t.ctx, purchaseSelect+` WHERE id = $1`, id))
}

func (t *pgTx) GetPayment(provider string, ref string) (*domain.PaymentRecord, error) {
	if err := t.readable(); err != nil {
		return nil, err
	}
	var p domain.PaymentRecord
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT provider, provider_ref, amount_cents, paid, state, linked_purchase_id, receipt_token, updated_at
		FROM payments
		WHERE provider = $1 AND provider_ref = $2
	`, provider, ref).Scan(&p.Provider, &p.Ref, &p.AmountCents, &p.Paid, &p.ProviderState, &p.LinkedPurchaseID, &p.ReceiptToken, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (t *pgTx) SetInventoryStock(recordID string, stock int, at time.Time) error {
	t.wrote = true
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE inventory_records
		SET stock = $2, updated_at = $3
		WHERE id = $1
	`, recordID, stock, at.UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) CreatePurchase(p domain.PurchaseRecord) error {
	t.wrote = true
	lines, err := json.Marshal(p.Lines)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO purchases (
			id, station_id, customer_ref, lines, total_cents, payment_method,
			payment_status, receipt_token, stock_decremented, decremented_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, p.ID, p.StationID, p.CustomerRef, lines, p.TotalCents, p.PaymentMethod,
		p.PaymentStatus, p.ReceiptToken, p.StockDecremented, p.DecrementedBy, p.CreatedAt)
	return err
}

func (t *pgTx) CreateReceipt(r domain.PublicReceipt) error {
	t.wrote = true
	lines, err := json.Marshal(r.Lines)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO receipts (token, purchase_id, station_id, status, total_cents, lines, issued_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, r.Token, r.PurchaseID, r.StationID, r.Status, r.TotalCents, lines, r.IssuedAt)
	return err
}

func (t *pgTx) SetPurchaseDecremented(purchaseID string, by string) error {
	t.wrote = true
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE purchases
		SET stock_decremented = true, decremented_by = $2
		WHERE id = $1
	`, purchaseID, by)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) LinkPayment(p domain.PaymentRecord) error {
	t.wrote = true
	res, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO payments (provider, provider_ref, amount_cents, paid, state, linked_purchase_id, receipt_token, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (provider, provider_ref) DO UPDATE
		SET amount_cents = EXCLUDED.amount_cents,
			paid = EXCLUDED.paid,
			state = EXCLUDED.state,
			linked_purchase_id = EXCLUDED.linked_purchase_id,
			receipt_token = EXCLUDED.receipt_token,
			updated_at = EXCLUDED.updated_at
		WHERE payments.linked_purchase_id = ''
			OR payments.linked_purchase_id = EXCLUDED.linked_purchase_id
	`, p.Provider, p.Ref, p.AmountCents, p.Paid, p.ProviderState, p.LinkedPurchaseID, p.ReceiptToken, p.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrPaymentLinked
	}
	return nil
}

func (t *pgTx) UpdatePaymentState(provider string, ref string, state string, paid bool) error {
	t.wrote = true
	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE payments
		SET state = $3, paid = $4, updated_at = now()
		WHERE provider = $1 AND provider_ref = $2
	`, provider, ref, state, paid)
	return err
}

const purchaseSelect = `
	SELECT id, station_id, customer_ref, lines, total_cents, payment_method,
		payment_status, receipt_token, stock_decremented, decremented_by, created_at
	FROM purchases`

func scanPurchase(row interface{ Scan(...any) error }) (*domain.PurchaseRecord, error) {
	var p domain.PurchaseRecord
	var lines []byte
	err := row.Scan(&p.ID, &p.StationID, &p.CustomerRef, &lines, &p.TotalCents, &p.PaymentMethod,
		&p.PaymentStatus, &p.ReceiptToken, &p.StockDecremented, &p.DecrementedBy, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(lines, &p.Lines); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) GetPurchase(ctx context.Context, id string) (*domain.PurchaseRecord, error) {
	return scanPurchase(s.db.QueryRowContext(ctx, purchaseSelect+` WHERE id = $1`, id))
}

func (s *Store) GetReceipt(ctx context.Context, token string) (*domain.PublicReceipt, error) {
	var r domain.PublicReceipt
	var lines []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT token, purchase_id, station_id, status, total_cents, lines, issued_at
		FROM receipts
		WHERE token = $1
	`, token).Scan(&r.Token, &r.PurchaseID, &r.StationID, &r.Status, &r.TotalCents, &lines, &r.IssuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(lines, &r.Lines); err != nil {
		return nil, err
	}
	r.IssuedAt = r.IssuedAt.UTC()
	return &r, nil
}

func (s *Store) PutInventoryRecord(ctx context.Context, rec domain.InventoryRecord) error {
	if rec.ID == "" {
		return store.ErrInvalidRequest
	}
	refPath := ""
	if rec.ProductRef != nil {
		refPath = rec.ProductRef.Path
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_records (id, product_sku, sku, ref_path, stock, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE
		SET product_sku = EXCLUDED.product_sku,
			sku = EXCLUDED.sku,
			ref_path = EXCLUDED.ref_path,
			stock = EXCLUDED.stock,
			updated_at = EXCLUDED.updated_at
	`, rec.ID, rec.ProductSKU, rec.SKU, refPath, rec.Stock, rec.UpdatedAt)
	return err
}

// UpsertPayment refreshes the provider projection without ever clearing an
// established purchase link.
func (s *Store) UpsertPayment(ctx context.Context, p domain.PaymentRecord) error {
	if p.Provider == "" || p.Ref == "" {
		return store.ErrInvalidRequest
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (provider, provider_ref, amount_cents, paid, state, linked_purchase_id, receipt_token, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (provider, provider_ref) DO UPDATE
		SET amount_cents = EXCLUDED.amount_cents,
			paid = EXCLUDED.paid,
			state = EXCLUDED.state,
			linked_purchase_id = CASE
				WHEN payments.linked_purchase_id = '' THEN EXCLUDED.linked_purchase_id
				ELSE payments.linked_purchase_id
			END,
			receipt_token = CASE
				WHEN payments.receipt_token = '' THEN EXCLUDED.receipt_token
				ELSE payments.receipt_token
			END,
			updated_at = EXCLUDED.updated_at
	`, p.Provider, p.Ref, p.AmountCents, p.Paid, p.ProviderState, p.LinkedPurchaseID, p.ReceiptToken, p.UpdatedAt)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalidRequest
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidRequest
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
