package domain

import (
	"encoding/json"
	"time"
)

type ProductVariant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
}

type Product struct {
	ID          string           `json:"id"`
	StoreID     string           `json:"store_id"`
	Name        string           `json:"name"`
	Category    string           `json:"category"`
	Barcode     string           `json:"barcode,omitempty"`
	PriceCents  int64            `json:"price_cents"`
	CostCents   int64            `json:"cost_cents"`
	Stock       int              `json:"stock"`
	HasVariants bool             `json:"has_variants"`
	Variants    []ProductVariant `json:"variants"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// VariantIndex returns the position of the variant with the given id, or -1.
func (p Product) VariantIndex(variantID string) int {
	for i, v := range p.Variants {
		if v.ID == variantID {
			return i
		}
	}
	return -1
}

type ProductUpsertRequest struct {
	ID         string                `json:"id"`
	Name       string                `json:"name" validate:"required"`
	Category   string                `json:"category"`
	Barcode    string                `json:"barcode"`
	PriceCents int64                 `json:"price_cents" validate:"gte=0"`
	CostCents  int64                 `json:"cost_cents" validate:"gte=0"`
	Stock      int                   `json:"stock" validate:"gte=0"`
	Variants   []ProductVariantInput `json:"variants" validate:"dive"`
}

type ProductVariantInput struct {
	ID         string `json:"id" validate:"required"`
	Name       string `json:"name" validate:"required"`
	PriceCents int64  `json:"price_cents" validate:"gte=0"`
	Stock      int    `json:"stock" validate:"gte=0"`
}

// StockAdjustment addresses a product (or one of its variants) with a signed delta.
type StockAdjustment struct {
	ProductID          string `json:"product_id" validate:"required"`
	VariantID          string `json:"variant_id,omitempty"`
	VariantName        string `json:"variant_name,omitempty"`
	Delta              int    `json:"delta"`
	PriceOverrideCents *int64 `json:"price_override_cents,omitempty" validate:"omitempty,gte=0"`
	CostOverrideCents  *int64 `json:"cost_override_cents,omitempty" validate:"omitempty,gte=0"`
}

type StockAdjustmentResult struct {
	Product          Product `json:"product"`
	Clamped          bool    `json:"clamped"`
	// DefaultVariantID is set when a variant-less reversal was applied to the
	// product's first variant.
	DefaultVariantID string  `json:"default_variant_id,omitempty"`
}

type CashShift struct {
	ID                     string     `json:"id"`
	StoreID                string     `json:"store_id"`
	TerminalID             string     `json:"terminal_id,omitempty"`
	OpenedBy               string     `json:"opened_by,omitempty"`
	StartTime              time.Time  `json:"start_time"`
	EndTime                *time.Time `json:"end_time,omitempty"`
	StartAmountCents       int64      `json:"start_amount_cents"`
	EndAmountCents         *int64     `json:"end_amount_cents,omitempty"`
	Status                 string     `json:"status"`
	TotalSalesCashCents    int64      `json:"total_sales_cash_cents"`
	TotalSalesDigitalCents int64      `json:"total_sales_digital_cents"`
	TotalSalesYapeCents    int64      `json:"total_sales_yape_cents"`
	TotalSalesPlinCents    int64      `json:"total_sales_plin_cents"`
	TotalSalesCardCents    int64      `json:"total_sales_card_cents"`
}

type ShiftOpenRequest struct {
	TerminalID       string `json:"terminal_id"`
	OpenedBy         string `json:"opened_by"`
	StartAmountCents int64  `json:"start_amount_cents" validate:"gte=0"`
}

type ShiftCloseRequest struct {
	EndAmountCents int64  `json:"end_amount_cents" validate:"gte=0"`
	Description    string `json:"description"`
}

// ShiftSummary is the drawer count for a shift: expected physical cash is the
// opening float plus cash sales plus manual IN minus manual OUT. Refund OUT
// entries are reported apart since the shift totals already reflect them.
type ShiftSummary struct {
	Shift              CashShift `json:"shift"`
	ManualInCents      int64     `json:"manual_in_cents"`
	ManualOutCents     int64     `json:"manual_out_cents"`
	RefundOutCents     int64     `json:"refund_out_cents"`
	ExpectedCashCents  int64     `json:"expected_cash_cents"`
	TotalInDrawerCents int64     `json:"total_in_drawer_cents"`
	Movements          int       `json:"movements"`
	Transactions       int       `json:"transactions"`
	CanceledCount      int       `json:"canceled_count"`
}

type CashMovement struct {
	ID          string `json:"id"`
	StoreID     string `json:"store_id"`
	ShiftID     string `json:"shift_id"`
	Type        string `json:"type"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`

	// TransactionID is set on the OUT entry written by a cancellation.
	TransactionID string    `json:"transaction_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type MovementRequest struct {
	Type        string `json:"type" validate:"required,oneof=IN OUT"`
	AmountCents int64  `json:"amount_cents" validate:"gte=0"`
	Description string `json:"description"`
}

// TenderBreakdown splits an amount across the tenders tracked on a shift.
// Tenders the shift does not track accumulate in UntrackedCents.
type TenderBreakdown struct {
	CashCents      int64 `json:"cash_cents"`
	CardCents      int64 `json:"card_cents"`
	YapeCents      int64 `json:"yape_cents"`
	PlinCents      int64 `json:"plin_cents"`
	UntrackedCents int64 `json:"untracked_cents,omitempty"`
}

func (b *TenderBreakdown) Add(tender string, amountCents int64) {
	switch tender {
	case TenderCash:
		b.CashCents += amountCents
	case TenderCard:
		b.CardCents += amountCents
	case TenderYape:
		b.YapeCents += amountCents
	case TenderPlin:
		b.PlinCents += amountCents
	default:
		b.UntrackedCents += amountCents
	}
}

func (b TenderBreakdown) DigitalCents() int64 {
	return b.CardCents + b.YapeCents + b.PlinCents
}

func (b TenderBreakdown) TotalCents() int64 {
	return b.CashCents + b.DigitalCents() + b.UntrackedCents
}

type TransactionItem struct {
	ProductID      string `json:"product_id" validate:"required"`
	VariantID      string `json:"variant_id,omitempty"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity" validate:"gt=0"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"gte=0"`
	UnitCostCents  int64  `json:"unit_cost_cents" validate:"gte=0"`
}

type Payment struct {
	Tender      string `json:"method" validate:"required,tender"`
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
}

type Transaction struct {
	ID            string            `json:"id"`
	StoreID       string            `json:"store_id"`
	ShiftID       string            `json:"shift_id"`
	Date          time.Time         `json:"date"`
	Items         []TransactionItem `json:"items"`
	Payments      []Payment         `json:"payments"`
	PaymentMethod string            `json:"payment_method"`
	SubtotalCents int64             `json:"subtotal_cents"`
	TaxCents      int64             `json:"tax_cents"`
	DiscountCents int64             `json:"discount_cents"`
	TotalCents    int64             `json:"total_cents"`
	ProfitCents   int64             `json:"profit_cents"`
	Status        string            `json:"status"`
	RefundTender  string            `json:"refund_tender,omitempty"`
	CanceledAt    *time.Time        `json:"canceled_at,omitempty"`
}

// Breakdown returns the tender split recorded on the sale. A sale without
// payments attributes its whole total to PaymentMethod.
func (t Transaction) Breakdown() TenderBreakdown {
	var b TenderBreakdown
	if len(t.Payments) == 0 {
		b.Add(t.PaymentMethod, t.TotalCents)
		return b
	}
	for _, p := range t.Payments {
		b.Add(p.Tender, p.AmountCents)
	}
	return b
}

type SaleRequest struct {
	ID            string            `json:"id"`
	ShiftID       string            `json:"shift_id" validate:"required"`
	Date          *time.Time        `json:"date,omitempty"`
	Items         []TransactionItem `json:"items" validate:"required,min=1,dive"`
	Payments      []Payment         `json:"payments" validate:"dive"`
	PaymentMethod string            `json:"payment_method"`
	SubtotalCents int64             `json:"subtotal_cents" validate:"gte=0"`
	TaxCents      int64             `json:"tax_cents" validate:"gte=0"`
	DiscountCents int64             `json:"discount_cents" validate:"gte=0"`
	TotalCents    int64             `json:"total_cents" validate:"gte=0"`
	ProfitCents   *int64            `json:"profit_cents,omitempty"`
}

type CancelRequest struct {
	RefundTender string `json:"refund_tender"`
	ManagerPIN   string `json:"manager_pin"`
}

type CancellationResult struct {
	Transaction  Transaction  `json:"transaction"`
	Shift        CashShift    `json:"shift"`
	Movement     CashMovement `json:"movement"`
	ShiftFloored bool         `json:"shift_floored"`
	StockClamped bool         `json:"stock_clamped"`
}

type Supplier struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"store_id"`
	Name      string    `json:"name"`
	Contact   string    `json:"contact"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name    string `json:"name" validate:"required"`
	Contact string `json:"contact"`
}

type PurchaseItem struct {
	ProductID              string `json:"product_id" validate:"required"`
	ProductName            string `json:"product_name,omitempty"`
	VariantID              string `json:"variant_id,omitempty"`
	VariantName            string `json:"variant_name,omitempty"`
	Quantity               int    `json:"quantity" validate:"gt=0"`
	UnitCostCents          int64  `json:"unit_cost_cents" validate:"gte=0"`
	ProposedSellPriceCents *int64 `json:"proposed_sell_price_cents,omitempty" validate:"omitempty,gte=0"`
	IsBonus                bool   `json:"is_bonus,omitempty"`
}

type Purchase struct {
	ID               string         `json:"id"`
	StoreID          string         `json:"store_id"`
	Reference        string         `json:"reference"`
	SupplierID       string         `json:"supplier_id"`
	InvoiceNumber    string         `json:"invoice_number,omitempty"`
	DocType          string         `json:"doc_type,omitempty"`
	Date             time.Time      `json:"date"`
	DueDate          *time.Time     `json:"due_date,omitempty"`
	Items            []PurchaseItem `json:"items"`
	SubtotalCents    int64          `json:"subtotal_cents"`
	TaxCents         int64          `json:"tax_cents"`
	TotalCents       int64          `json:"total_cents"`
	AmountPaidCents  int64          `json:"amount_paid_cents"`
	PaymentCondition string         `json:"payment_condition"`
	PaymentMethod    string         `json:"payment_method,omitempty"`
	PayFromCash      bool           `json:"pay_from_cash"`
	TaxIncluded      bool           `json:"tax_included"`
	Status           string         `json:"status"`
	ReceivedAt       *time.Time     `json:"received_at,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Received mirrors Status for consumers that still read the YES/NO flag.
func (p Purchase) Received() string {
	if p.Status == PurchaseStatusReceived {
		return ReceivedYes
	}
	return ReceivedNo
}

func (p Purchase) PaymentStatus() string {
	switch {
	case p.Status == PurchaseStatusCanceled:
		return PurchasePaymentCanceled
	case p.TotalCents > 0 && p.AmountPaidCents >= p.TotalCents:
		return PurchasePaymentPaid
	case p.AmountPaidCents > 0:
		return PurchasePaymentPartial
	default:
		return PurchasePaymentPending
	}
}

func (p Purchase) Overdue(now time.Time) bool {
	if p.PaymentCondition != PaymentConditionCredit || p.DueDate == nil {
		return false
	}
	if p.Status == PurchaseStatusCanceled || p.AmountPaidCents >= p.TotalCents {
		return false
	}
	return p.DueDate.Before(now)
}

func (p Purchase) MarshalJSON() ([]byte, error) {
	type plain Purchase
	return json.Marshal(struct {
		plain
		Received      string `json:"received"`
		PaymentStatus string `json:"payment_status"`
		Overdue       bool   `json:"overdue"`
	}{
		plain:         plain(p),
		Received:      p.Received(),
		PaymentStatus: p.PaymentStatus(),
		Overdue:       p.Overdue(time.Now().UTC()),
	})
}

type PurchaseRequest struct {
	Reference        string         `json:"reference"`
	SupplierID       string         `json:"supplier_id" validate:"required"`
	InvoiceNumber    string         `json:"invoice_number"`
	DocType          string         `json:"doc_type" validate:"omitempty,oneof=INVOICE RECEIPT GUIDE OTHER"`
	Date             *time.Time     `json:"date,omitempty"`
	DueDate          *time.Time     `json:"due_date,omitempty"`
	Items            []PurchaseItem `json:"items" validate:"required,min=1,dive"`
	SubtotalCents    int64          `json:"subtotal_cents" validate:"gte=0"`
	TaxCents         int64          `json:"tax_cents" validate:"gte=0"`
	TotalCents       int64          `json:"total_cents" validate:"gte=0"`
	AmountPaidCents  int64          `json:"amount_paid_cents" validate:"gte=0"`
	PaymentCondition string         `json:"payment_condition" validate:"required,oneof=CASH CREDIT"`
	PaymentMethod    string         `json:"payment_method"`
	PayFromCash      bool           `json:"pay_from_cash"`
	TaxIncluded      bool           `json:"tax_included"`
	Status           string         `json:"status" validate:"omitempty,oneof=DRAFT CONFIRMED"`
	// Received is accepted for compatibility and ignored; it is derived from Status.
	Received string `json:"received,omitempty"`
}

type PurchasePaymentRequest struct {
	AmountPaidCents int64 `json:"amount_paid_cents" validate:"gte=0"`
}

type ReceptionResult struct {
	Purchase     Purchase  `json:"purchase"`
	Products     []Product `json:"products"`
	ClampedItems int       `json:"clamped_items"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	StoreID     string `json:"store_id"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	StoreID   string    `json:"store_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
	StoreID  string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	StoreID   string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	ShiftStatusOpen   = "OPEN"
	ShiftStatusClosed = "CLOSED"
)

const (
	MovementOpen  = "OPEN"
	MovementClose = "CLOSE"
	MovementIn    = "IN"
	MovementOut   = "OUT"
)

const (
	TxStatusCompleted = "COMPLETED"
	TxStatusCanceled  = "CANCELED"
)

const (
	TenderCash     = "cash"
	TenderCard     = "card"
	TenderYape     = "yape"
	TenderPlin     = "plin"
	TenderTransfer = "transfer"
	TenderCredit   = "credit"

	// RefundOriginal mirrors the sale's own tender split on cancellation.
	RefundOriginal = "ORIGINAL"
)

const (
	PurchaseStatusDraft     = "DRAFT"
	PurchaseStatusConfirmed = "CONFIRMED"
	PurchaseStatusReceived  = "RECEIVED"
	PurchaseStatusCanceled  = "CANCELED"

	ReceivedYes = "YES"
	ReceivedNo  = "NO"

	PaymentConditionCash   = "CASH"
	PaymentConditionCredit = "CREDIT"

	PurchasePaymentPaid     = "PAID"
	PurchasePaymentPartial  = "PARTIAL"
	PurchasePaymentPending  = "PENDING"
	PurchasePaymentCanceled = "CANCELED"
)
