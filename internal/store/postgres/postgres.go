package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"posgo/backend/internal/domain"
	"posgo/backend/internal/store"
	"posgo/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

// queryer is the part of sqlx shared by *sqlx.DB and *sqlx.Tx.
type queryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
}

// Store implements store.Repository on PostgreSQL. A Store handed out by
// WithinTx is bound to one serializable transaction and locks the product,
// shift, transaction and purchase rows it reads.
type Store struct {
	db *sqlx.DB
	q  queryer
	tx *sqlx.Tx
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
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

	return &Store{db: db, q: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the tables and indexes the store needs. It is safe to
// run on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Repository) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", store.ErrPersistence, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(ctx, &Store{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return fmt.Errorf("%w: concurrent update, retry: %v", store.ErrInvalidState, err)
		}
		return fmt.Errorf("%w: commit: %v", store.ErrPersistence, err)
	}
	return nil
}

func (s *Store) lockClause() string {
	if s.tx != nil {
		return " FOR UPDATE"
	}
	return ""
}

const productColumns = `store_id, id, name, category, barcode, price_cents, cost_cents, stock, has_variants, variants, updated_at`

type productRow struct {
	StoreID     string    `db:"store_id"`
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Category    string    `db:"category"`
	Barcode     string    `db:"barcode"`
	PriceCents  int64     `db:"price_cents"`
	CostCents   int64     `db:"cost_cents"`
	Stock       int       `db:"stock"`
	HasVariants bool      `db:"has_variants"`
	Variants    []byte    `db:"variants"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r productRow) toDomain() (domain.Product, error) {
	p := domain.Product{
		ID:          r.ID,
		StoreID:     r.StoreID,
		Name:        r.Name,
		Category:    r.Category,
		Barcode:     r.Barcode,
		PriceCents:  r.PriceCents,
		CostCents:   r.CostCents,
		Stock:       r.Stock,
		HasVariants: r.HasVariants,
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if err := decodeJSON(r.Variants, &p.Variants); err != nil {
		return p, err
	}
	if p.Variants == nil {
		p.Variants = []domain.ProductVariant{}
	}
	return p, nil
}

func (s *Store) GetProduct(ctx context.Context, storeID string, productID string) (*domain.Product, error) {
	var row productRow
	err := s.q.GetContext(ctx, &row, `
		SELECT `+productColumns+`
		FROM products
		WHERE store_id = $1 AND id = $2`+s.lockClause(), storeID, productID)
	if err != nil {
		return nil, mapErr(err)
	}
	product, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context, storeID string) ([]domain.Product, error) {
	var rows []productRow
	if err := s.q.SelectContext(ctx, &rows, `
		SELECT `+productColumns+`
		FROM products
		WHERE store_id = $1
		ORDER BY name ASC
	`, storeID); err != nil {
		return nil, mapErr(err)
	}

	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.ID) == "" || strings.TrimSpace(product.StoreID) == "" {
		return nil, store.ErrValidation
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	if product.Variants == nil {
		product.Variants = []domain.ProductVariant{}
	}
	variants, err := json.Marshal(product.Variants)
	if err != nil {
		return nil, err
	}

	_, err = s.q.NamedExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (:store_id, :id, :name, :category, :barcode, :price_cents, :cost_cents, :stock, :has_variants, :variants, :updated_at)
		ON CONFLICT (store_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			barcode = EXCLUDED.barcode,
			price_cents = EXCLUDED.price_cents,
			cost_cents = EXCLUDED.cost_cents,
			stock = EXCLUDED.stock,
			has_variants = EXCLUDED.has_variants,
			variants = EXCLUDED.variants,
			updated_at = EXCLUDED.updated_at
	`, productRow{
		StoreID:     product.StoreID,
		ID:          product.ID,
		Name:        product.Name,
		Category:    product.Category,
		Barcode:     product.Barcode,
		PriceCents:  product.PriceCents,
		CostCents:   product.CostCents,
		Stock:       product.Stock,
		HasVariants: product.HasVariants,
		Variants:    variants,
		UpdatedAt:   product.UpdatedAt,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return &product, nil
}

const shiftColumns = `store_id, id, terminal_id, opened_by, start_time, end_time, start_amount_cents, end_amount_cents, status,
	total_sales_cash_cents, total_sales_digital_cents, total_sales_yape_cents, total_sales_plin_cents, total_sales_card_cents`

type shiftRow struct {
	ID                     string     `db:"id"`
	StoreID                string     `db:"store_id"`
	TerminalID             string     `db:"terminal_id"`
	OpenedBy               string     `db:"opened_by"`
	StartTime              time.Time  `db:"start_time"`
	EndTime                *time.Time `db:"end_time"`
	StartAmountCents       int64      `db:"start_amount_cents"`
	EndAmountCents         *int64     `db:"end_amount_cents"`
	Status                 string     `db:"status"`
	TotalSalesCashCents    int64      `db:"total_sales_cash_cents"`
	TotalSalesDigitalCents int64      `db:"total_sales_digital_cents"`
	TotalSalesYapeCents    int64      `db:"total_sales_yape_cents"`
	TotalSalesPlinCents    int64      `db:"total_sales_plin_cents"`
	TotalSalesCardCents    int64      `db:"total_sales_card_cents"`
}

func (r shiftRow) toDomain() domain.CashShift {
	shift := domain.CashShift(r)
	shift.StartTime = shift.StartTime.UTC()
	if shift.EndTime != nil {
		end := shift.EndTime.UTC()
		shift.EndTime = &end
	}
	return shift
}

func (s *Store) GetShift(ctx context.Context, storeID string, shiftID string) (*domain.CashShift, error) {
	var row shiftRow
	err := s.q.GetContext(ctx, &row, `
		SELECT `+shiftColumns+`
		FROM cash_shifts
		WHERE store_id = $1 AND id = $2`+s.lockClause(), storeID, shiftID)
	if err != nil {
		return nil, mapErr(err)
	}
	shift := row.toDomain()
	return &shift, nil
}

func (s *Store) GetOpenShift(ctx context.Context, storeID string) (*domain.CashShift, error) {
	var row shiftRow
	err := s.q.GetContext(ctx, &row, `
		SELECT `+shiftColumns+`
		FROM cash_shifts
		WHERE store_id = $1 AND status = 'OPEN'
		LIMIT 1`+s.lockClause(), storeID)
	if err != nil {
		return nil, mapErr(err)
	}
	shift := row.toDomain()
	return &shift, nil
}

func (s *Store) ListShifts(ctx context.Context, storeID string, limit int) ([]domain.CashShift, error) {
	var rows []shiftRow
	if err := s.q.SelectContext(ctx, &rows, `
		SELECT `+shiftColumns+`
		FROM cash_shifts
		WHERE store_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, storeID, nullLimit(limit)); err != nil {
		return nil, mapErr(err)
	}

	shifts := make([]domain.CashShift, 0, len(rows))
	for _, row := range rows {
		shifts = append(shifts, row.toDomain())
	}
	return shifts, nil
}

func (s *Store) UpsertShift(ctx context.Context, shift domain.CashShift) (*domain.CashShift, error) {
	if strings.TrimSpace(shift.ID) == "" || strings.TrimSpace(shift.StoreID) == "" {
		return nil, store.ErrValidation
	}

	_, err := s.q.NamedExecContext(ctx, `
		INSERT INTO cash_shifts (`+shiftColumns+`)
		VALUES (:store_id, :id, :terminal_id, :opened_by, :start_time, :end_time, :start_amount_cents, :end_amount_cents, :status,
			:total_sales_cash_cents, :total_sales_digital_cents, :total_sales_yape_cents, :total_sales_plin_cents, :total_sales_card_cents)
		ON CONFLICT (store_id, id) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			end_amount_cents = EXCLUDED.end_amount_cents,
			status = EXCLUDED.status,
			total_sales_cash_cents = EXCLUDED.total_sales_cash_cents,
			total_sales_digital_cents = EXCLUDED.total_sales_digital_cents,
			total_sales_yape_cents = EXCLUDED.total_sales_yape_cents,
			total_sales_plin_cents = EXCLUDED.total_sales_plin_cents,
			total_sales_card_cents = EXCLUDED.total_sales_card_cents
	`, shiftRow(shift))
	if err != nil {
		return nil, mapErr(err)
	}
	return &shift, nil
}

type movementRow struct {
	ID            string    `db:"id"`
	StoreID       string    `db:"store_id"`
	ShiftID       string    `db:"shift_id"`
	Type          string    `db:"type"`
	AmountCents   int64     `db:"amount_cents"`
	Description   string    `db:"description"`
	TransactionID string    `db:"transaction_id"`
	CreatedAt     time.Time `db:"created_at"`
}

func (s *Store) InsertMovement(ctx context.Context, movement domain.CashMovement) (*domain.CashMovement, error) {
	if strings.TrimSpace(movement.StoreID) == "" || strings.TrimSpace(movement.ShiftID) == "" {
		return nil, store.ErrValidation
	}
	if movement.ID == "" {
		movement.ID = xid.New("mv")
	}
	if movement.Timestamp.IsZero() {
		movement.Timestamp = time.Now().UTC()
	}

	_, err := s.q.NamedExecContext(ctx, `
		INSERT INTO cash_movements (id, store_id, shift_id, type, amount_cents, description, transaction_id, created_at)
		VALUES (:id, :store_id, :shift_id, :type, :amount_cents, :description, :transaction_id, :created_at)
	`, movementRow{
		ID:            movement.ID,
		StoreID:       movement.StoreID,
		ShiftID:       movement.ShiftID,
		Type:          movement.Type,
		AmountCents:   movement.AmountCents,
		Description:   movement.Description,
		TransactionID: movement.TransactionID,
		CreatedAt:     movement.Timestamp,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return &movement, nil
}

func (s *Store) ListMovementsByShift(ctx context.Context, storeID string, shiftID string) ([]domain.CashMovement, error) {
	var rows []movementRow
	if err := s.q.SelectContext(ctx, &rows, `
		SELECT id, store_id, shift_id, type, amount_cents, description, transaction_id, created_at
		FROM cash_movements
		WHERE store_id = $1 AND shift_id = $2
		ORDER BY created_at ASC, id ASC
	`, storeID, shiftID); err != nil {
		return nil, mapErr(err)
	}

	movements := make([]domain.CashMovement, 0, len(rows))
	for _, row := range rows {
		movements = append(movements, domain.CashMovement{
			ID:            row.ID,
			StoreID:       row.StoreID,
			ShiftID:       row.ShiftID,
			Type:          row.Type,
			AmountCents:   row.AmountCents,
			Description:   row.Description,
			TransactionID: row.TransactionID,
			Timestamp:     row.CreatedAt.UTC(),
		})
	}
	return movements, nil
}

const transactionColumns = `store_id, id, shift_id, date, items, payments, payment_method, subtotal_cents, tax_cents,
	discount_cents, total_cents, profit_cents, status, refund_tender, canceled_at`

type transactionRow struct {
	StoreID       string     `db:"store_id"`
	ID            string     `db:"id"`
	ShiftID       string     `db:"shift_id"`
	Date          time.Time  `db:"date"`
	Items         []byte     `db:"items"`
	Payments      []byte     `db:"payments"`
	PaymentMethod string     `db:"payment_method"`
	SubtotalCents int64      `db:"subtotal_cents"`
	TaxCents      int64      `db:"tax_cents"`
	DiscountCents int64      `db:"discount_cents"`
	TotalCents    int64      `db:"total_cents"`
	ProfitCents   int64      `db:"profit_cents"`
	Status        string     `db:"status"`
	RefundTender  string     `db:"refund_tender"`
	CanceledAt    *time.Time `db:"canceled_at"`
}

func (r transactionRow) toDomain() (domain.Transaction, error) {
	tx := domain.Transaction{
		ID:            r.ID,
		StoreID:       r.StoreID,
		ShiftID:       r.ShiftID,
		Date:          r.Date.UTC(),
		PaymentMethod: r.PaymentMethod,
		SubtotalCents: r.SubtotalCents,
		TaxCents:      r.TaxCents,
		DiscountCents: r.DiscountCents,
		TotalCents:    r.TotalCents,
		ProfitCents:   r.ProfitCents,
		Status:        r.Status,
		RefundTender:  r.RefundTender,
		CanceledAt:    r.CanceledAt,
	}
	if err := decodeJSON(r.Items, &tx.Items); err != nil {
		return tx, err
	}
	if err := decodeJSON(r.Payments, &tx.Payments); err != nil {
		return tx, err
	}
	return tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, storeID string, transactionID string) (*domain.Transaction, error) {
	var row transactionRow
	err := s.q.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM sales_transactions
		WHERE store_id = $1 AND id = $2`+s.lockClause(), storeID, transactionID)
	if err != nil {
		return nil, mapErr(err)
	}
	tx, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) InsertTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if strings.TrimSpace(tx.ID) == "" || strings.TrimSpace(tx.StoreID) == "" || len(tx.Items) == 0 {
		return nil, store.ErrValidation
	}
	items, err := json.Marshal(tx.Items)
	if err != nil {
		return nil, err
	}
	if tx.Payments == nil {
		tx.Payments = []domain.Payment{}
	}
	payments, err := json.Marshal(tx.Payments)
	if err != nil {
		return nil, err
	}

	_, err = s.q.NamedExecContext(ctx, `
		INSERT INTO sales_transactions (`+transactionColumns+`)
		VALUES (:store_id, :id, :shift_id, :date, :items, :payments, :payment_method, :subtotal_cents, :tax_cents,
			:discount_cents, :total_cents, :profit_cents, :status, :refund_tender, :canceled_at)
	`, transactionRow{
		StoreID:       tx.StoreID,
		ID:            tx.ID,
		ShiftID:       tx.ShiftID,
		Date:          tx.Date,
		Items:         items,
		Payments:      payments,
		PaymentMethod: tx.PaymentMethod,
		SubtotalCents: tx.SubtotalCents,
		TaxCents:      tx.TaxCents,
		DiscountCents: tx.DiscountCents,
		TotalCents:    tx.TotalCents,
		ProfitCents:   tx.ProfitCents,
		Status:        tx.Status,
		RefundTender:  tx.RefundTender,
		CanceledAt:    tx.CanceledAt,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return &tx, nil
}

func (s *Store) MarkTransactionCanceled(ctx context.Context, tx domain.Transaction) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE sales_transactions
		SET status = 'CANCELED', refund_tender = $3, canceled_at = $4
		WHERE store_id = $1 AND id = $2 AND status = 'COMPLETED'
	`, tx.StoreID, tx.ID, tx.RefundTender, tx.CanceledAt)
	if err != nil {
		return mapErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var status string
	if err := s.q.GetContext(ctx, &status, `
		SELECT status FROM sales_transactions WHERE store_id = $1 AND id = $2
	`, tx.StoreID, tx.ID); err != nil {
		return mapErr(err)
	}
	return store.ErrAlreadyCanceled
}

func (s *Store) ListTransactionsByShift(ctx context.Context, storeID string, shiftID string) ([]domain.Transaction, error) {
	var rows []transactionRow
	if err := s.q.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM sales_transactions
		WHERE store_id = $1 AND shift_id = $2
		ORDER BY date DESC
	`, storeID, shiftID); err != nil {
		return nil, mapErr(err)
	}

	txs := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

const purchaseColumns = `store_id, id, reference, supplier_id, invoice_number, doc_type, date, due_date, items, subtotal_cents,
	tax_cents, total_cents, amount_paid_cents, payment_condition, payment_method, pay_from_cash, tax_included, status,
	received_at, updated_at`

type purchaseRow struct {
	StoreID          string     `db:"store_id"`
	ID               string     `db:"id"`
	Reference        string     `db:"reference"`
	SupplierID       string     `db:"supplier_id"`
	InvoiceNumber    string     `db:"invoice_number"`
	DocType          string     `db:"doc_type"`
	Date             time.Time  `db:"date"`
	DueDate          *time.Time `db:"due_date"`
	Items            []byte     `db:"items"`
	SubtotalCents    int64      `db:"subtotal_cents"`
	TaxCents         int64      `db:"tax_cents"`
	TotalCents       int64      `db:"total_cents"`
	AmountPaidCents  int64      `db:"amount_paid_cents"`
	PaymentCondition string     `db:"payment_condition"`
	PaymentMethod    string     `db:"payment_method"`
	PayFromCash      bool       `db:"pay_from_cash"`
	TaxIncluded      bool       `db:"tax_included"`
	Status           string     `db:"status"`
	ReceivedAt       *time.Time `db:"received_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

func (r purchaseRow) toDomain() (domain.Purchase, error) {
	p := domain.Purchase{
		ID:               r.ID,
		StoreID:          r.StoreID,
		Reference:        r.Reference,
		SupplierID:       r.SupplierID,
		InvoiceNumber:    r.InvoiceNumber,
		DocType:          r.DocType,
		Date:             r.Date.UTC(),
		DueDate:          r.DueDate,
		SubtotalCents:    r.SubtotalCents,
		TaxCents:         r.TaxCents,
		TotalCents:       r.TotalCents,
		AmountPaidCents:  r.AmountPaidCents,
		PaymentCondition: r.PaymentCondition,
		PaymentMethod:    r.PaymentMethod,
		PayFromCash:      r.PayFromCash,
		TaxIncluded:      r.TaxIncluded,
		Status:           r.Status,
		ReceivedAt:       r.ReceivedAt,
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
	if err := decodeJSON(r.Items, &p.Items); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Store) GetPurchase(ctx context.Context, storeID string, purchaseID string) (*domain.Purchase, error) {
	var row purchaseRow
	err := s.q.GetContext(ctx, &row, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE store_id = $1 AND id = $2`+s.lockClause(), storeID, purchaseID)
	if err != nil {
		return nil, mapErr(err)
	}
	purchase, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

func (s *Store) UpsertPurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if strings.TrimSpace(purchase.ID) == "" || strings.TrimSpace(purchase.StoreID) == "" {
		return nil, store.ErrValidation
	}
	purchase.UpdatedAt = time.Now().UTC()
	items, err := json.Marshal(purchase.Items)
	if err != nil {
		return nil, err
	}

	_, err = s.q.NamedExecContext(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES (:store_id, :id, :reference, :supplier_id, :invoice_number, :doc_type, :date, :due_date, :items, :subtotal_cents,
			:tax_cents, :total_cents, :amount_paid_cents, :payment_condition, :payment_method, :pay_from_cash, :tax_included, :status,
			:received_at, :updated_at)
		ON CONFLICT (store_id, id) DO UPDATE SET
			reference = EXCLUDED.reference,
			supplier_id = EXCLUDED.supplier_id,
			invoice_number = EXCLUDED.invoice_number,
			doc_type = EXCLUDED.doc_type,
			date = EXCLUDED.date,
			due_date = EXCLUDED.due_date,
			items = EXCLUDED.items,
			subtotal_cents = EXCLUDED.subtotal_cents,
			tax_cents = EXCLUDED.tax_cents,
			total_cents = EXCLUDED.total_cents,
			amount_paid_cents = EXCLUDED.amount_paid_cents,
			payment_condition = EXCLUDED.payment_condition,
			payment_method = EXCLUDED.payment_method,
			pay_from_cash = EXCLUDED.pay_from_cash,
			tax_included = EXCLUDED.tax_included,
			status = EXCLUDED.status,
			received_at = EXCLUDED.received_at,
			updated_at = EXCLUDED.updated_at
	`, purchaseRow{
		StoreID:          purchase.StoreID,
		ID:               purchase.ID,
		Reference:        purchase.Reference,
		SupplierID:       purchase.SupplierID,
		InvoiceNumber:    purchase.InvoiceNumber,
		DocType:          purchase.DocType,
		Date:             purchase.Date,
		DueDate:          purchase.DueDate,
		Items:            items,
		SubtotalCents:    purchase.SubtotalCents,
		TaxCents:         purchase.TaxCents,
		TotalCents:       purchase.TotalCents,
		AmountPaidCents:  purchase.AmountPaidCents,
		PaymentCondition: purchase.PaymentCondition,
		PaymentMethod:    purchase.PaymentMethod,
		PayFromCash:      purchase.PayFromCash,
		TaxIncluded:      purchase.TaxIncluded,
		Status:           purchase.Status,
		ReceivedAt:       purchase.ReceivedAt,
		UpdatedAt:        purchase.UpdatedAt,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return &purchase, nil
}

func (s *Store) ListPurchases(ctx context.Context, storeID string, status string, limit int) ([]domain.Purchase, error) {
	status = strings.ToUpper(strings.TrimSpace(status))

	var rows []purchaseRow
	if err := s.q.SelectContext(ctx, &rows, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE store_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY date DESC
		LIMIT $3
	`, storeID, status, nullLimit(limit)); err != nil {
		return nil, mapErr(err)
	}

	purchases := make([]domain.Purchase, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, nil
}

type supplierRow struct {
	StoreID   string    `db:"store_id"`
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Contact   string    `db:"contact"`
	CreatedAt time.Time `db:"created_at"`
}

func (r supplierRow) toDomain() domain.Supplier {
	return domain.Supplier{ID: r.ID, StoreID: r.StoreID, Name: r.Name, Contact: r.Contact, CreatedAt: r.CreatedAt.UTC()}
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if strings.TrimSpace(supplier.StoreID) == "" || strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.NamedExecContext(ctx, `
		INSERT INTO suppliers (store_id, id, name, contact, created_at)
		VALUES (:store_id, :id, :name, :contact, :created_at)
	`, supplierRow{
		StoreID:   supplier.StoreID,
		ID:        supplier.ID,
		Name:      supplier.Name,
		Contact:   supplier.Contact,
		CreatedAt: supplier.CreatedAt,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return &supplier, nil
}

func (s *Store) GetSupplier(ctx context.Context, storeID string, supplierID string) (*domain.Supplier, error) {
	var row supplierRow
	if err := s.q.GetContext(ctx, &row, `
		SELECT store_id, id, name, contact, created_at
		FROM suppliers
		WHERE store_id = $1 AND id = $2
	`, storeID, supplierID); err != nil {
		return nil, mapErr(err)
	}
	supplier := row.toDomain()
	return &supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context, storeID string) ([]domain.Supplier, error) {
	var rows []supplierRow
	if err := s.q.SelectContext(ctx, &rows, `
		SELECT store_id, id, name, contact, created_at
		FROM suppliers
		WHERE store_id = $1
		ORDER BY name ASC
	`, storeID); err != nil {
		return nil, mapErr(err)
	}

	suppliers := make([]domain.Supplier, 0, len(rows))
	for _, row := range rows {
		suppliers = append(suppliers, row.toDomain())
	}
	return suppliers, nil
}

type auditRow struct {
	ID            string    `db:"id"`
	StoreID       string    `db:"store_id"`
	ActorUsername string    `db:"actor_username"`
	ActorRole     string    `db:"actor_role"`
	Action        string    `db:"action"`
	EntityType    string    `db:"entity_type"`
	EntityID      string    `db:"entity_id"`
	Detail        string    `db:"detail"`
	CreatedAt     time.Time `db:"created_at"`
}

// CreateAuditLog runs inside a savepoint when bound to a transaction so a
// failed insert does not abort the surrounding unit of work.
func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	insert := func() error {
		_, err := s.q.NamedExecContext(ctx, `
			INSERT INTO audit_logs (id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
			VALUES (:id, :store_id, :actor_username, :actor_role, :action, :entity_type, :entity_id, :detail, :created_at)
		`, auditRow(entry))
		return err
	}
	if s.tx == nil {
		return insert()
	}

	if _, err := s.tx.ExecContext(ctx, `SAVEPOINT audit_log`); err != nil {
		return err
	}
	if err := insert(); err != nil {
		_, _ = s.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT audit_log`)
		return err
	}
	_, err := s.tx.ExecContext(ctx, `RELEASE SAVEPOINT audit_log`)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var rows []auditRow
	if err := s.q.SelectContext(ctx, &rows, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, storeID, limit); err != nil {
		return nil, mapErr(err)
	}

	logs := make([]domain.AuditLog, 0, len(rows))
	for _, row := range rows {
		entry := domain.AuditLog(row)
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, nil
}

type userRow struct {
	Username  string    `db:"username"`
	Password  string    `db:"password"`
	Role      string    `db:"role"`
	StoreID   string    `db:"store_id"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.NamedExecContext(ctx, `
		INSERT INTO app_users (username, password, role, store_id, active, created_at, updated_at)
		VALUES (:username, :password, :role, :store_id, :active, :created_at, now())
	`, userRow(user))
	return mapErr(err)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []userRow
	if err := s.q.SelectContext(ctx, &rows, `
		SELECT username, password, role, store_id, active, created_at
		FROM app_users
		ORDER BY username ASC
	`); err != nil {
		return nil, mapErr(err)
	}

	users := make([]domain.UserAccount, 0, len(rows))
	for _, row := range rows {
		user := domain.UserAccount(row)
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return mapErr(err)
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

// mapErr translates driver errors into the store sentinels. Unique and
// serialization conflicts surface as ErrInvalidState.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", store.ErrInvalidState, err)
	case isSerializationFailure(err):
		return fmt.Errorf("%w: concurrent update, retry: %v", store.ErrInvalidState, err)
	default:
		return err
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func decodeJSON(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func nullLimit(limit int) any {
	if limit < 1 {
		return nil
	}
	return limit
}
