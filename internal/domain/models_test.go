package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPurchaseJSONCarriesDerivedFields(t *testing.T) {
	due := time.Now().UTC().Add(-24 * time.Hour)
	p := Purchase{
		ID:               "pur-1",
		Status:           PurchaseStatusReceived,
		PaymentCondition: PaymentConditionCredit,
		DueDate:          &due,
		TotalCents:       1000,
		AmountPaidCents:  400,
	}

	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out["received"] != ReceivedYes || out["payment_status"] != PurchasePaymentPartial || out["overdue"] != true {
		t.Fatalf("unexpected derived fields in %s", raw)
	}
	if out["status"] != PurchaseStatusReceived {
		t.Fatalf("expected status in %s", raw)
	}
}

func TestPurchaseDecodeIgnoresReceivedMirror(t *testing.T) {
	var p Purchase
	if err := json.Unmarshal([]byte(`{"id":"pur-1","status":"CONFIRMED","received":"YES"}`), &p); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if p.Received() != ReceivedNo {
		t.Fatalf("expected received derived from status, got %s", p.Received())
	}
}

func TestTransactionBreakdown(t *testing.T) {
	legacy := Transaction{PaymentMethod: TenderPlin, TotalCents: 700}
	if b := legacy.Breakdown(); b.PlinCents != 700 || b.DigitalCents() != 700 {
		t.Fatalf("expected legacy method to carry the total, got %+v", b)
	}

	split := Transaction{
		PaymentMethod: "split",
		TotalCents:    1500,
		Payments: []Payment{
			{Tender: TenderCash, AmountCents: 1000},
			{Tender: TenderYape, AmountCents: 300},
			{Tender: TenderTransfer, AmountCents: 200},
		},
	}
	b := split.Breakdown()
	if b.CashCents != 1000 || b.YapeCents != 300 || b.UntrackedCents != 200 || b.TotalCents() != 1500 {
		t.Fatalf("unexpected split breakdown %+v", b)
	}
}

func TestPurchaseOverdueOnlyForUnpaidCredit(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	now := time.Now().UTC()

	cash := Purchase{PaymentCondition: PaymentConditionCash, DueDate: &past, TotalCents: 100}
	if cash.Overdue(now) {
		t.Fatalf("cash purchases are never overdue")
	}
	paid := Purchase{PaymentCondition: PaymentConditionCredit, DueDate: &past, TotalCents: 100, AmountPaidCents: 100}
	if paid.Overdue(now) {
		t.Fatalf("paid purchases are never overdue")
	}
	open := Purchase{PaymentCondition: PaymentConditionCredit, DueDate: &past, TotalCents: 100}
	if !open.Overdue(now) {
		t.Fatalf("expected unpaid credit purchase past due to be overdue")
	}
}
