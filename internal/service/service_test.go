package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"posgo/backend/internal/domain"
	"posgo/backend/internal/metrics"
	"posgo/backend/internal/store"
	"posgo/backend/internal/store/memory"
)

const testStore = "main-store"

var errBoom = errors.New("connection reset by peer")

func newTestService() *Service {
	return New(memory.New(), nil, time.Minute, metrics.NewRecorder(prometheus.NewRegistry()), zap.NewNop())
}

func newServiceWithRepo(repo store.Repository) *Service {
	return New(repo, nil, time.Minute, metrics.NewRecorder(prometheus.NewRegistry()), zap.NewNop())
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin", StoreID: testStore})
}

func seedProduct(t *testing.T, svc *Service, req domain.ProductUpsertRequest) domain.Product {
	t.Helper()
	product, err := svc.UpsertProduct(adminContext(), testStore, req)
	if err != nil {
		t.Fatalf("seed product %s failed: %v", req.ID, err)
	}
	return product
}

func openTestShift(t *testing.T, svc *Service, startCents int64) domain.CashShift {
	t.Helper()
	shift, err := svc.OpenShift(adminContext(), testStore, domain.ShiftOpenRequest{
		TerminalID:       "terminal-1",
		StartAmountCents: startCents,
	})
	if err != nil {
		t.Fatalf("open shift failed: %v", err)
	}
	return shift
}

func mustProduct(t *testing.T, svc *Service, productID string) domain.Product {
	t.Helper()
	product, err := svc.GetProduct(context.Background(), testStore, productID)
	if err != nil {
		t.Fatalf("get product %s failed: %v", productID, err)
	}
	return product
}

func mustShift(t *testing.T, svc *Service, shiftID string) domain.CashShift {
	t.Helper()
	shift, err := svc.GetShift(context.Background(), testStore, shiftID)
	if err != nil {
		t.Fatalf("get shift %s failed: %v", shiftID, err)
	}
	return shift
}

func hasAudit(t *testing.T, svc *Service, action string) bool {
	t.Helper()
	logs, err := svc.ListAuditLogs(context.Background(), testStore, 500)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	for _, entry := range logs {
		if entry.Action == action {
			return true
		}
	}
	return false
}

// failingRepo injects storage failures inside units of work.
type failingRepo struct {
	store.Repository
	failInsertTransaction bool
	failMarkCanceled      bool
	failUpsertPurchase    bool
}

func (f *failingRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Repository) error) error {
	return f.Repository.WithinTx(ctx, func(ctx context.Context, tx store.Repository) error {
		inner := *f
		inner.Repository = tx
		return fn(ctx, &inner)
	})
}

func (f *failingRepo) InsertTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if f.failInsertTransaction {
		return nil, errBoom
	}
	return f.Repository.InsertTransaction(ctx, tx)
}

func (f *failingRepo) MarkTransactionCanceled(ctx context.Context, tx domain.Transaction) error {
	if f.failMarkCanceled {
		return errBoom
	}
	return f.Repository.MarkTransactionCanceled(ctx, tx)
}

func (f *failingRepo) UpsertPurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if f.failUpsertPurchase && purchase.Status == domain.PurchaseStatusReceived {
		return nil, errBoom
	}
	return f.Repository.UpsertPurchase(ctx, purchase)
}

func TestWrapStepKeepsDomainErrors(t *testing.T) {
	if err := wrapStep("op", "step", store.ErrNotFound); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound untouched, got %v", err)
	}
	if err := wrapStep("op", "step", store.ErrAlreadyCanceled); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state to pass through, got %v", err)
	}

	err := wrapStep("record_sale", "insert transaction", errBoom)
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, got %T", err)
	}
	if stepErr.Op != "record_sale" || stepErr.Step != "insert transaction" {
		t.Fatalf("unexpected step error fields %+v", stepErr)
	}
	if !errors.Is(err, store.ErrPersistence) || !errors.Is(err, errBoom) {
		t.Fatalf("expected step error to match ErrPersistence and its cause")
	}
	if wrapStep("op", "other", err) != err {
		t.Fatalf("expected an existing step error to be returned as is")
	}
}

func TestValidationErrorUsesJSONFieldNames(t *testing.T) {
	svc := newTestService()

	_, err := svc.UpsertProduct(adminContext(), testStore, domain.ProductUpsertRequest{PriceCents: -1})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation")
	}
	fields := make([]string, 0, len(vErr.Fields))
	for _, f := range vErr.Fields {
		fields = append(fields, f.Field)
	}
	joined := strings.Join(fields, ",")
	if !strings.Contains(joined, "name") || !strings.Contains(joined, "price_cents") {
		t.Fatalf("expected name and price_cents field errors, got %s", joined)
	}
}

func TestTenderRuleRejectsUnknownMethod(t *testing.T) {
	svc := newTestService()

	if err := svc.validateStruct(domain.Payment{Tender: "yape", AmountCents: 100}); err != nil {
		t.Fatalf("expected yape to pass, got %v", err)
	}
	err := svc.validateStruct(domain.Payment{Tender: "bitcoin", AmountCents: 100})
	var vErr *ValidationError
	if !errors.As(err, &vErr) || len(vErr.Fields) != 1 || vErr.Fields[0].Tag != "tender" {
		t.Fatalf("expected tender field error, got %v", err)
	}
}

func TestOperationsRequireStoreID(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.ListProducts(ctx, ""); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for list products, got %v", err)
	}
	if _, err := svc.CancelTransaction(ctx, " ", "tx-1", ""); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for cancel, got %v", err)
	}
	if _, err := svc.ConfirmReception(ctx, "", "pur-1"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for reception, got %v", err)
	}
}

func TestAuditFallsBackToSystemActor(t *testing.T) {
	svc := newTestService()

	if _, err := svc.CreateSupplier(context.Background(), testStore, domain.SupplierCreateRequest{Name: "Distribuidora Sur"}); err != nil {
		t.Fatalf("create supplier failed: %v", err)
	}
	logs, err := svc.ListAuditLogs(context.Background(), testStore, 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].ActorUsername != "system" || logs[0].Action != "supplier_create" {
		t.Fatalf("unexpected audit logs %+v", logs)
	}
}
