package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"posgo/backend/internal/domain"
	"posgo/backend/internal/store"
	"posgo/backend/internal/store/memory"
	"posgo/backend/internal/xid"
)

func seedSaleFixture(t *testing.T, svc *Service) domain.CashShift {
	t.Helper()
	seedProduct(t, svc, domain.ProductUpsertRequest{ID: "prod-p", Name: "Producto P", PriceCents: 500, CostCents: 200, Stock: 10})
	return openTestShift(t, svc, 10000)
}

func splitSale(shiftID string) domain.SaleRequest {
	return domain.SaleRequest{
		ShiftID:    shiftID,
		TotalCents: 1500,
		Items:      []domain.TransactionItem{{ProductID: "prod-p", Quantity: 3, UnitPriceCents: 500}},
		Payments: []domain.Payment{
			{Tender: "cash", AmountCents: 1000},
			{Tender: "yape", AmountCents: 500},
		},
	}
}

func TestRecordSaleSplitTender(t *testing.T) {
	svc := newTestService()
	shift := seedSaleFixture(t, svc)

	sale, err := svc.RecordSale(adminContext(), testStore, splitSale(shift.ID))
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if sale.Status != domain.TxStatusCompleted || sale.TotalCents != 1500 {
		t.Fatalf("unexpected sale %+v", sale)
	}
	if sale.PaymentMethod != "split" {
		t.Fatalf("expected split payment method, got %s", sale.PaymentMethod)
	}
	if sale.ProfitCents != 1500-3*200 {
		t.Fatalf("expected profit 900, got %d", sale.ProfitCents)
	}
	if sale.Items[0].Name != "Producto P" || sale.Items[0].UnitCostCents != 200 {
		t.Fatalf("expected item name and cost filled from product, got %+v", sale.Items[0])
	}

	if stock := mustProduct(t, svc, "prod-p").Stock; stock != 7 {
		t.Fatalf("expected stock 7, got %d", stock)
	}
	got := mustShift(t, svc, shift.ID)
	if got.TotalSalesCashCents != 1000 || got.TotalSalesYapeCents != 500 || got.TotalSalesDigitalCents != 500 {
		t.Fatalf("unexpected shift totals %+v", got)
	}

	stored, err := svc.GetTransaction(context.Background(), testStore, sale.ID)
	if err != nil {
		t.Fatalf("get transaction failed: %v", err)
	}
	if stored.Status != domain.TxStatusCompleted || len(stored.Payments) != 2 {
		t.Fatalf("unexpected stored transaction %+v", stored)
	}
}

func TestRecordSaleDefaultsToCash(t *testing.T) {
	svc := newTestService()
	shift := seedSaleFixture(t, svc)

	sale, err := svc.RecordSale(adminContext(), testStore, domain.SaleRequest{
		ShiftID: shift.ID,
		Items:   []domain.TransactionItem{{ProductID: "prod-p", Quantity: 2, UnitPriceCents: 500}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if sale.PaymentMethod != domain.TenderCash || sale.TotalCents != 1000 || sale.SubtotalCents != 1000 {
		t.Fatalf("unexpected defaulted sale %+v", sale)
	}
	if got := mustShift(t, svc, shift.ID); got.TotalSalesCashCents != 1000 {
		t.Fatalf("expected cash credited, got %d", got.TotalSalesCashCents)
	}
}

func TestRecordSaleUntrackedTender(t *testing.T) {
	svc := newTestService()
	shift := seedSaleFixture(t, svc)

	if _, err := svc.RecordSale(adminContext(), testStore, domain.SaleRequest{
		ShiftID: shift.ID, TotalCents: 500, PaymentMethod: "Transfer",
		Items: []domain.TransactionItem{{ProductID: "prod-p", Quantity: 1, UnitPriceCents: 500}},
	}); err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	got := mustShift(t, svc, shift.ID)
	if got.TotalSalesCashCents != 0 || got.TotalSalesDigitalCents != 0 {
		t.Fatalf("expected transfer to leave tracked totals alone, got %+v", got)
	}
	if stock := mustProduct(t, svc, "prod-p").Stock; stock != 9 {
		t.Fatalf("expected stock 9, got %d", stock)
	}
}

func TestRecordSaleValidationChangesNothing(t *testing.T) {
	svc := newTestService()
	shift := seedSaleFixture(t, svc)

	cases := map[string]domain.SaleRequest{
		"no items": {ShiftID: shift.ID, TotalCents: 100},
		"zero qty": {
			ShiftID: shift.ID, TotalCents: 500,
			Items: []domain.TransactionItem{{ProductID: "prod-p", Quantity: 0}},
		},
		"payments mismatch": {
			ShiftID: shift.ID, TotalCents: 1500,
			Items:    []domain.TransactionItem{{ProductID: "prod-p", Quantity: 3}},
			Payments: []domain.Payment{{Tender: "cash", AmountCents: 1000}},
		},
		"unknown tender": {
			ShiftID: shift.ID, TotalCents: 500,
			Items:    []domain.TransactionItem{{ProductID: "prod-p", Quantity: 1}},
			Payments: []domain.Payment{{Tender: "bitcoin", AmountCents: 500}},
		},
		"unknown payment method": {
			ShiftID: shift.ID, TotalCents: 500, PaymentMethod: "barter",
			Items: []domain.TransactionItem{{ProductID: "prod-p", Quantity: 1}},
		},
		"no shift": {
			TotalCents: 500,
			Items:      []domain.TransactionItem{{ProductID: "prod-p", Quantity: 1}},
		},
	}
	for name, req := range cases {
		_, err := svc.RecordSale(adminContext(), testStore, req)
		if !errors.Is(err, store.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}

	if stock := mustProduct(t, svc, "prod-p").Stock; stock != 10 {
		t.Fatalf("expected stock untouched, got %d", stock)
	}
	if got := mustShift(t, svc, shift.ID); got.TotalSalesCashCents != 0 || got.TotalSalesDigitalCents != 0 {
		t.Fatalf("expected shift untouched, got %+v", got)
	}
}

func TestRecordSaleRequiresOpenShift(t *testing.T) {
	svc := newTestService()
	shift := seedSaleFixture(t, svc)
	if _, err := svc.CloseShift(adminContext(), testStore, shift.ID, domain.ShiftCloseRequest{}); err != nil {
		t.Fatalf("close shift failed: %v", err)
	}

	_, err := svc.RecordSale(adminContext(), testStore, splitSale(shift.ID))
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if stock := mustProduct(t, svc, "prod-p").Stock; stock != 10 {
		t.Fatalf("expected stock untouched, got %d", stock)
	}

	_, err = svc.RecordSale(adminContext(), testStore, splitSale("shift-missing"))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecordSaleIsAllOrNothing(t *testing.T) {
	repo := &failingRepo{Repository: memory.New()}
	svc := newServiceWithRepo(repo)
	seedProduct(t, svc, domain.ProductUpsertRequest{ID: "prod-p", Name: "Producto P", PriceCents: 500, Stock: 10})
	seedProduct(t, svc, domain.ProductUpsertRequest{ID: "prod-q", Name: "Producto Q", PriceCents: 500, Stock: 4})
	shift := openTestShift(t, svc, 0)

	repo.failInsertTransaction = true
	req := domain.SaleRequest{
		ShiftID:    shift.ID,
		TotalCents: 2000,
		Items: []domain.TransactionItem{
			{ProductID: "prod-p", Quantity: 3, UnitPriceCents: 500},
			{ProductID: "prod-q", Quantity: 1, UnitPriceCents: 500},
		},
	}
	_, err := svc.RecordSale(adminContext(), testStore, req)
	if !errors.Is(err, store.ErrPersistence) || !errors.Is(err, errBoom) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != "insert transaction" {
		t.Fatalf("expected failing step to be named, got %v", err)
	}

	if stock := mustProduct(t, svc, "prod-p").Stock; stock != 10 {
		t.Fatalf("expected prod-p stock rolled back to 10, got %d", stock)
	}
	if stock := mustProduct(t, svc, "prod-q").Stock; stock != 4 {
		t.Fatalf("expected prod-q stock rolled back to 4, got %d", stock)
	}
	if got := mustShift(t, svc, shift.ID); got.TotalSalesCashCents != 0 {
		t.Fatalf("expected shift credit rolled back, got %d", got.TotalSalesCashCents)
	}
	txs, _ := svc.ListTransactions(context.Background(), testStore, shift.ID)
	if len(txs) != 0 {
		t.Fatalf("expected no stored transaction, got %d", len(txs))
	}

	repo.failInsertTransaction = false
	if _, err := svc.RecordSale(adminContext(), testStore, req); err != nil {
		t.Fatalf("retry after failure should succeed: %v", err)
	}
}

func TestRecordSaleRejectsDuplicateID(t *testing.T) {
	svc := newTestService()
	shift := seedSaleFixture(t, svc)

	req := splitSale(shift.ID)
	req.ID = "tx-fixed"
	if _, err := svc.RecordSale(adminContext(), testStore, req); err != nil {
		t.Fatalf("first sale failed: %v", err)
	}
	if _, err := svc.RecordSale(adminContext(), testStore, req); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state on duplicate id, got %v", err)
	}
	if stock := mustProduct(t, svc, "prod-p").Stock; stock != 7 {
		t.Fatalf("expected duplicate to leave stock at 7, got %d", stock)
	}
}

func TestCancelRefundToDifferentTender(t *testing.T) {
	svc := newTestService()
	shift := seedSaleFixture(t, svc)

	if _, err := svc.RecordSale(adminContext(), testStore, domain.SaleRequest{
		ShiftID: shift.ID, TotalCents: 500,
		Items: []domain.TransactionItem{{ProductID: "prod-p", Quantity: 1, UnitPriceCents: 500}},
	}); err != nil {
		t.Fatalf("warm-up sale failed: %v", err)
	}
	sale, err := svc.RecordSale(adminContext(), testStore, splitSale(shift.ID))
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	before := mustShift(t, svc, shift.ID)

	result, err := svc.CancelTransaction(adminContext(), testStore, sale.ID, "cash")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if stock := mustProduct(t, svc, "prod-p").Stock; stock != 9 {
		t.Fatalf("expected stock back to 9, got %d", stock)
	}
	after := mustShift(t, svc, shift.ID)
	if before.TotalSalesCashCents-after.TotalSalesCashCents != 1500 {
		t.Fatalf("expected cash debited by 1500, got %d -> %d", before.TotalSalesCashCents, after.TotalSalesCashCents)
	}
	if after.TotalSalesYapeCents != before.TotalSalesYapeCents {
		t.Fatalf("expected yape unchanged, got %d -> %d", before.TotalSalesYapeCents, after.TotalSalesYapeCents)
	}
	if result.ShiftFloored {
		t.Fatalf("did not expect a floor")
	}

	m := result.Movement
	if m.Type != domain.MovementOut || m.AmountCents != 1500 || m.TransactionID != sale.ID {
		t.Fatalf("unexpected refund movement %+v", m)
	}
	wantDesc := "CANCEL #" + xid.Short(sale.ID) + " (via cash)"
	if m.Description != wantDesc {
		t.Fatalf("expected description %q, got %q", wantDesc, m.Description)
	}

	movements, _ := svc.ListMovements(context.Background(), testStore, shift.ID)
	outs := 0
	for _, mv := range movements {
		if mv.Type == domain.MovementOut {
			outs++
		}
	}
	if outs != 1 {
		t.Fatalf("expected exactly one OUT movement, got %d", outs)
	}

	stored, _ := svc.GetTransaction(context.Background(), testStore, sale.ID)
	if stored.Status != domain.TxStatusCanceled || stored.RefundTender != "cash" || stored.CanceledAt == nil {
		t.Fatalf("unexpected canceled transaction %+v", stored)
	}
}

func TestCancelOriginalRoundTrip(t *testing.T) {
	svc := newTestService()
	shift := seedSaleFixture(t, svc)
	beforeShift := mustShift(t, svc, shift.ID)
	beforeStock := mustProduct(t, svc, "prod-p").Stock

	sale, err := svc.RecordSale(adminContext(), testStore, splitSale(shift.ID))
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	result, err := svc.CancelTransaction(adminContext(), testStore, sale.ID, "original")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if result.Transaction.RefundTender != domain.RefundOriginal {
		t.Fatalf("expected ORIGINAL refund tender, got %s", result.Transaction.RefundTender)
	}
	if !strings.HasSuffix(result.Movement.Description, "(via ORIGINAL)") {
		t.Fatalf("unexpected description %q", result.Movement.Description)
	}

	after := mustShift(t, svc, shift.ID)
	if after.TotalSalesCashCents != beforeShift.TotalSalesCashCents ||
		after.TotalSalesYapeCents != beforeShift.TotalSalesYapeCents ||
		after.TotalSalesPlinCents != beforeShift.TotalSalesPlinCents ||
		after.TotalSalesCardCents != beforeShift.TotalSalesCardCents ||
		after.TotalSalesDigitalCents != beforeShift.TotalSalesDigitalCents {
		t.Fatalf("expected shift totals restored, before=%+v after=%+v", beforeShift, after)
	}
	if stock := mustProduct(t, svc, "prod-p").Stock; stock != beforeStock {
		t.Fatalf("expected stock restored to %d, got %d", beforeStock, stock)
	}
}

func TestCancelIsSingleUse(t *testing.T) {
	svc := newTestService()
	shift := seedSaleFixture(t, svc)

	sale, err := svc.RecordSale(adminContext(), testStore, splitSale(shift.ID))
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if _, err := svc.CancelTransaction(adminContext(), testStore, sale.ID, ""); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	shiftAfterFirst := mustShift(t, svc, shift.ID)
	stockAfterFirst := mustProduct(t, svc, "prod-p").Stock
	movementsAfterFirst, _ := svc.ListMovements(context.Background(), testStore, shift.ID)

	_, err = svc.CancelTransaction(adminContext(), testStore, sale.ID, "cash")
	if !errors.Is(err, store.ErrAlreadyCanceled) || !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected already canceled, got %v", err)
	}

	if got := mustShift(t, svc, shift.ID); got != shiftAfterFirst {
		t.Fatalf("expected shift unchanged by second cancel")
	}
	if stock := mustProduct(t, svc, "prod-p").Stock; stock != stockAfterFirst {
		t.Fatalf("expected stock unchanged by second cancel, got %d", stock)
	}
	movements, _ := svc.ListMovements(context.Background(), testStore, shift.ID)
	if len(movements) != len(movementsAfterFirst) {
		t.Fatalf("expected no extra movement, got %d then %d", len(movementsAfterFirst), len(movements))
	}
}

func TestCancelFloorsShiftTotals(t *testing.T) {
	svc := newTestService()
	shift := seedSaleFixture(t, svc)

	sale, err := svc.RecordSale(adminContext(), testStore, domain.SaleRequest{
		ShiftID: shift.ID, TotalCents: 500, PaymentMethod: "yape",
		Items: []domain.TransactionItem{{ProductID: "prod-p", Quantity: 1, UnitPriceCents: 500}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	result, err := svc.CancelTransaction(adminContext(), testStore, sale.ID, "cash")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !result.ShiftFloored {
		t.Fatalf("expected the cash total to floor")
	}
	if result.Shift.TotalSalesCashCents != 0 || result.Shift.TotalSalesYapeCents != 500 {
		t.Fatalf("unexpected shift totals %+v", result.Shift)
	}
	if got := testutil.ToFloat64(svc.metrics.ShiftFloors(testStore)); got != 1 {
		t.Fatalf("expected one floor counted, got %v", got)
	}
	if !hasAudit(t, svc, "shift_floor") {
		t.Fatalf("expected shift_floor audit entry")
	}
}

func TestCancelAllowedAfterShiftClosed(t *testing.T) {
	svc := newTestService()
	shift := seedSaleFixture(t, svc)

	sale, err := svc.RecordSale(adminContext(), testStore, splitSale(shift.ID))
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if _, err := svc.CloseShift(adminContext(), testStore, shift.ID, domain.ShiftCloseRequest{EndAmountCents: 11000}); err != nil {
		t.Fatalf("close shift failed: %v", err)
	}

	result, err := svc.CancelTransaction(adminContext(), testStore, sale.ID, "ORIGINAL")
	if err != nil {
		t.Fatalf("cancel on closed shift failed: %v", err)
	}
	if result.Shift.Status != domain.ShiftStatusClosed {
		t.Fatalf("expected shift to stay closed")
	}
	if result.Shift.TotalSalesCashCents != 0 || result.Shift.TotalSalesYapeCents != 0 {
		t.Fatalf("expected closed shift totals debited, got %+v", result.Shift)
	}
}

func TestCancelRejectsUnknownTenderAndMissingSale(t *testing.T) {
	svc := newTestService()
	shift := seedSaleFixture(t, svc)
	sale, err := svc.RecordSale(adminContext(), testStore, splitSale(shift.ID))
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	if _, err := svc.CancelTransaction(adminContext(), testStore, sale.ID, "voucher"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.CancelTransaction(adminContext(), testStore, "tx-missing", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if stored, _ := svc.GetTransaction(context.Background(), testStore, sale.ID); stored.Status != domain.TxStatusCompleted {
		t.Fatalf("expected sale still completed")
	}
}

func TestCancelIsAllOrNothing(t *testing.T) {
	repo := &failingRepo{Repository: memory.New()}
	svc := newServiceWithRepo(repo)
	shift := seedSaleFixture(t, svc)

	sale, err := svc.RecordSale(adminContext(), testStore, splitSale(shift.ID))
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	shiftBefore := mustShift(t, svc, shift.ID)
	movementsBefore, _ := svc.ListMovements(context.Background(), testStore, shift.ID)

	repo.failMarkCanceled = true
	_, err = svc.CancelTransaction(adminContext(), testStore, sale.ID, "cash")
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != "mark canceled" {
		t.Fatalf("expected mark canceled step error, got %v", err)
	}

	if stock := mustProduct(t, svc, "prod-p").Stock; stock != 7 {
		t.Fatalf("expected stock restore rolled back, got %d", stock)
	}
	if got := mustShift(t, svc, shift.ID); got != shiftBefore {
		t.Fatalf("expected shift debit rolled back")
	}
	movements, _ := svc.ListMovements(context.Background(), testStore, shift.ID)
	if len(movements) != len(movementsBefore) {
		t.Fatalf("expected refund movement rolled back")
	}

	repo.failMarkCanceled = false
	if _, err := svc.CancelTransaction(adminContext(), testStore, sale.ID, "cash"); err != nil {
		t.Fatalf("retry after failure should succeed: %v", err)
	}
}

func TestCancelAfterProductGainedVariants(t *testing.T) {
	svc := newTestService()
	shift := seedSaleFixture(t, svc)
	supplier := seedSupplier(t, svc)

	sale, err := svc.RecordSale(adminContext(), testStore, splitSale(shift.ID))
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	purchase := createConfirmedPurchase(t, svc, supplier.ID, []domain.PurchaseItem{{
		ProductID: "prod-p", VariantID: "V1", VariantName: "Grande", Quantity: 5, UnitCostCents: 200,
	}})
	if _, err := svc.ConfirmReception(adminContext(), testStore, purchase.ID); err != nil {
		t.Fatalf("confirm reception failed: %v", err)
	}

	if _, err := svc.CancelTransaction(adminContext(), testStore, sale.ID, "ORIGINAL"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	p := mustProduct(t, svc, "prod-p")
	if p.Variants[p.VariantIndex("V1")].Stock != 8 {
		t.Fatalf("expected sold quantity restored into V1, got %+v", p.Variants)
	}
	if p.Stock != variantSum(p) || p.Stock != 8 {
		t.Fatalf("expected stock to equal variant sum 8, got %d", p.Stock)
	}
	if !hasAudit(t, svc, "stock_default_variant") {
		t.Fatalf("expected stock_default_variant audit entry")
	}
}
