package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"posgo/backend/internal/domain"
	"posgo/backend/internal/metrics"
	"posgo/backend/internal/store"
	"posgo/backend/internal/store/memory"
)

type mapSummaryCache struct {
	mu          sync.Mutex
	entries     map[string]domain.ShiftSummary
	generations map[string]int64
	hits        int
	// beforeSet runs once, between the ledger reads and the cache write.
	beforeSet func()
}

func newMapSummaryCache() *mapSummaryCache {
	return &mapSummaryCache{entries: map[string]domain.ShiftSummary{}, generations: map[string]int64{}}
}

func (c *mapSummaryCache) Generation(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[key], nil
}

func (c *mapSummaryCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[key]++
	return nil
}

func (c *mapSummaryCache) Get(_ context.Context, key string, generation int64) (*domain.ShiftSummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[fmt.Sprintf("%s@%d", key, generation)]
	if !ok {
		return nil, false, nil
	}
	c.hits++
	return &v, true, nil
}

func (c *mapSummaryCache) Set(_ context.Context, key string, generation int64, value *domain.ShiftSummary, _ time.Duration) error {
	if hook := c.beforeSet; hook != nil {
		c.beforeSet = nil
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fmt.Sprintf("%s@%d", key, generation)] = *value
	return nil
}

func TestOpenShiftRejectsSecondOpenShift(t *testing.T) {
	svc := newTestService()
	first := openTestShift(t, svc, 10000)

	_, err := svc.OpenShift(adminContext(), testStore, domain.ShiftOpenRequest{StartAmountCents: 500})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state for second open shift, got %v", err)
	}

	active, err := svc.ActiveShift(context.Background(), testStore)
	if err != nil {
		t.Fatalf("active shift failed: %v", err)
	}
	if active.ID != first.ID || active.OpenedBy != "admin" {
		t.Fatalf("unexpected active shift %+v", active)
	}

	movements, err := svc.ListMovements(context.Background(), testStore, first.ID)
	if err != nil {
		t.Fatalf("list movements failed: %v", err)
	}
	if len(movements) != 1 || movements[0].Type != domain.MovementOpen || movements[0].AmountCents != 10000 {
		t.Fatalf("expected one OPEN movement with the float, got %+v", movements)
	}
}

func TestCloseShiftLifecycle(t *testing.T) {
	svc := newTestService()
	shift := openTestShift(t, svc, 10000)

	closed, err := svc.CloseShift(adminContext(), testStore, shift.ID, domain.ShiftCloseRequest{EndAmountCents: 12000})
	if err != nil {
		t.Fatalf("close shift failed: %v", err)
	}
	if closed.Status != domain.ShiftStatusClosed || closed.EndTime == nil || closed.EndAmountCents == nil || *closed.EndAmountCents != 12000 {
		t.Fatalf("unexpected closed shift %+v", closed)
	}

	if _, err := svc.CloseShift(adminContext(), testStore, shift.ID, domain.ShiftCloseRequest{}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state closing twice, got %v", err)
	}
	if _, err := svc.Credit(adminContext(), testStore, shift.ID, domain.TenderBreakdown{CashCents: 100}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state crediting closed shift, got %v", err)
	}
	if _, _, err := svc.Debit(adminContext(), testStore, shift.ID, domain.TenderBreakdown{CashCents: 100}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state debiting closed shift, got %v", err)
	}
	if _, err := svc.ActiveShift(context.Background(), testStore); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no active shift, got %v", err)
	}

	movements, _ := svc.ListMovements(context.Background(), testStore, shift.ID)
	if len(movements) != 2 || movements[1].Type != domain.MovementClose || movements[1].AmountCents != 12000 {
		t.Fatalf("expected OPEN then CLOSE movements, got %+v", movements)
	}
	if movements[0].Description != "Shift open" || movements[1].Description != "Shift close" {
		t.Fatalf("unexpected movement descriptions %q, %q", movements[0].Description, movements[1].Description)
	}

	if _, err := svc.OpenShift(adminContext(), testStore, domain.ShiftOpenRequest{}); err != nil {
		t.Fatalf("expected a new shift to open after close, got %v", err)
	}
}

func TestCreditAndDebitRecomputeDigital(t *testing.T) {
	svc := newTestService()
	shift := openTestShift(t, svc, 0)

	credited, err := svc.Credit(adminContext(), testStore, shift.ID, domain.TenderBreakdown{
		CashCents: 1000, CardCents: 300, YapeCents: 200, PlinCents: 100, UntrackedCents: 900,
	})
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if credited.TotalSalesCashCents != 1000 || credited.TotalSalesDigitalCents != 600 {
		t.Fatalf("unexpected totals after credit %+v", credited)
	}

	debited, floored, err := svc.Debit(adminContext(), testStore, shift.ID, domain.TenderBreakdown{CashCents: 400, YapeCents: 500})
	if err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if !floored {
		t.Fatalf("expected yape debit to floor")
	}
	if debited.TotalSalesCashCents != 600 || debited.TotalSalesYapeCents != 0 || debited.TotalSalesDigitalCents != 400 {
		t.Fatalf("unexpected totals after debit %+v", debited)
	}
	if !hasAudit(t, svc, "shift_floor") {
		t.Fatalf("expected shift_floor audit entry")
	}

	if _, err := svc.Credit(adminContext(), testStore, shift.ID, domain.TenderBreakdown{CashCents: -1}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for negative credit, got %v", err)
	}
}

func TestAppendMovementRules(t *testing.T) {
	svc := newTestService()
	shift := openTestShift(t, svc, 5000)

	in, err := svc.AppendMovement(adminContext(), testStore, shift.ID, domain.MovementRequest{Type: "in", AmountCents: 700, Description: "sencillo"})
	if err != nil {
		t.Fatalf("append IN failed: %v", err)
	}
	if in.Type != domain.MovementIn || in.ShiftID != shift.ID {
		t.Fatalf("unexpected movement %+v", in)
	}

	if _, err := svc.AppendMovement(adminContext(), testStore, shift.ID, domain.MovementRequest{Type: "OPEN", AmountCents: 1}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected manual OPEN to be rejected, got %v", err)
	}
	if _, err := svc.AppendMovement(adminContext(), testStore, shift.ID, domain.MovementRequest{Type: "OUT", AmountCents: -1}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected negative amount to be rejected, got %v", err)
	}
	if _, err := svc.AppendMovement(adminContext(), testStore, "shift-missing", domain.MovementRequest{Type: "OUT", AmountCents: 1}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := svc.CloseShift(adminContext(), testStore, shift.ID, domain.ShiftCloseRequest{}); err != nil {
		t.Fatalf("close shift failed: %v", err)
	}
	if _, err := svc.AppendMovement(adminContext(), testStore, shift.ID, domain.MovementRequest{Type: "OUT", AmountCents: 1}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state on closed shift, got %v", err)
	}

	got, _ := svc.GetShift(context.Background(), testStore, shift.ID)
	if got.TotalSalesCashCents != 0 {
		t.Fatalf("movements must not touch sales totals, got %d", got.TotalSalesCashCents)
	}
}

func TestShiftSummaryCountsDrawer(t *testing.T) {
	svc := newTestService()
	seedProduct(t, svc, domain.ProductUpsertRequest{ID: "prod-p", Name: "P", PriceCents: 500, CostCents: 200, Stock: 50})
	shift := openTestShift(t, svc, 10000)

	if _, err := svc.RecordSale(adminContext(), testStore, domain.SaleRequest{
		ShiftID: shift.ID, TotalCents: 1000,
		Items:    []domain.TransactionItem{{ProductID: "prod-p", Quantity: 2, UnitPriceCents: 500}},
		Payments: []domain.Payment{{Tender: "cash", AmountCents: 1000}},
	}); err != nil {
		t.Fatalf("cash sale failed: %v", err)
	}
	card, err := svc.RecordSale(adminContext(), testStore, domain.SaleRequest{
		ShiftID: shift.ID, TotalCents: 500, PaymentMethod: "card",
		Items: []domain.TransactionItem{{ProductID: "prod-p", Quantity: 1, UnitPriceCents: 500}},
	})
	if err != nil {
		t.Fatalf("card sale failed: %v", err)
	}
	if _, err := svc.AppendMovement(adminContext(), testStore, shift.ID, domain.MovementRequest{Type: "IN", AmountCents: 500}); err != nil {
		t.Fatalf("append IN failed: %v", err)
	}
	if _, err := svc.AppendMovement(adminContext(), testStore, shift.ID, domain.MovementRequest{Type: "OUT", AmountCents: 200}); err != nil {
		t.Fatalf("append OUT failed: %v", err)
	}
	if _, err := svc.CancelTransaction(adminContext(), testStore, card.ID, "ORIGINAL"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	summary, err := svc.ShiftSummary(context.Background(), testStore, shift.ID)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.ManualInCents != 500 || summary.ManualOutCents != 200 || summary.RefundOutCents != 500 {
		t.Fatalf("unexpected manual totals %+v", summary)
	}
	if summary.ExpectedCashCents != 11300 {
		t.Fatalf("expected cash 10000+1000+500-200=11300, got %d", summary.ExpectedCashCents)
	}
	if summary.TotalInDrawerCents != 11300 {
		t.Fatalf("expected drawer 11300 after card refund, got %d", summary.TotalInDrawerCents)
	}
	if summary.Transactions != 2 || summary.CanceledCount != 1 {
		t.Fatalf("unexpected transaction counts %+v", summary)
	}
}

func TestShiftSummaryCacheIsInvalidated(t *testing.T) {
	summaries := newMapSummaryCache()
	svc := New(memory.New(), summaries, time.Minute, metrics.NewRecorder(prometheus.NewRegistry()), zap.NewNop())
	shift := openTestShift(t, svc, 1000)

	first, err := svc.ShiftSummary(context.Background(), testStore, shift.ID)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if _, err := svc.ShiftSummary(context.Background(), testStore, shift.ID); err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summaries.hits != 1 {
		t.Fatalf("expected second read from cache, hits=%d", summaries.hits)
	}

	if _, err := svc.AppendMovement(adminContext(), testStore, shift.ID, domain.MovementRequest{Type: "IN", AmountCents: 250}); err != nil {
		t.Fatalf("append movement failed: %v", err)
	}
	after, err := svc.ShiftSummary(context.Background(), testStore, shift.ID)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if after.ExpectedCashCents != first.ExpectedCashCents+250 {
		t.Fatalf("expected fresh summary after movement, got %d then %d", first.ExpectedCashCents, after.ExpectedCashCents)
	}
}

func TestShiftSummaryRacingWriteIsNotServedStale(t *testing.T) {
	summaries := newMapSummaryCache()
	svc := New(memory.New(), summaries, time.Minute, metrics.NewRecorder(prometheus.NewRegistry()), zap.NewNop())
	shift := openTestShift(t, svc, 1000)

	summaries.beforeSet = func() {
		if _, err := svc.AppendMovement(adminContext(), testStore, shift.ID, domain.MovementRequest{Type: "IN", AmountCents: 400}); err != nil {
			t.Errorf("append movement failed: %v", err)
		}
	}
	raced, err := svc.ShiftSummary(context.Background(), testStore, shift.ID)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if raced.ExpectedCashCents != 1000 {
		t.Fatalf("expected summary computed before the movement, got %d", raced.ExpectedCashCents)
	}

	fresh, err := svc.ShiftSummary(context.Background(), testStore, shift.ID)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if fresh.ExpectedCashCents != 1400 {
		t.Fatalf("expected fresh summary with the movement, got %d", fresh.ExpectedCashCents)
	}
}
