package store

import (
	"context"
	"errors"
	"fmt"

	"posgo/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
	ErrPersistence  = errors.New("persistence failure")

	ErrAlreadyCanceled = fmt.Errorf("%w: transaction already canceled", ErrInvalidState)
)

// Repository is the persistence boundary of the ledger core. Every query is
// scoped by an explicit store id.
//
// Reads made through the Repository handed to WithinTx see the latest
// committed values and, where the backend supports it, lock the rows they
// return until the unit of work ends.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error

	GetProduct(ctx context.Context, storeID string, productID string) (*domain.Product, error)
	ListProducts(ctx context.Context, storeID string) ([]domain.Product, error)
	UpsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	GetShift(ctx context.Context, storeID string, shiftID string) (*domain.CashShift, error)
	GetOpenShift(ctx context.Context, storeID string) (*domain.CashShift, error)
	ListShifts(ctx context.Context, storeID string, limit int) ([]domain.CashShift, error)
	UpsertShift(ctx context.Context, shift domain.CashShift) (*domain.CashShift, error)

	InsertMovement(ctx context.Context, movement domain.CashMovement) (*domain.CashMovement, error)
	ListMovementsByShift(ctx context.Context, storeID string, shiftID string) ([]domain.CashMovement, error)

	GetTransaction(ctx context.Context, storeID string, transactionID string) (*domain.Transaction, error)
	InsertTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	// MarkTransactionCanceled flips COMPLETED to CANCELED and returns
	// ErrAlreadyCanceled when the row is no longer COMPLETED.
	MarkTransactionCanceled(ctx context.Context, tx domain.Transaction) error
	ListTransactionsByShift(ctx context.Context, storeID string, shiftID string) ([]domain.Transaction, error)

	GetPurchase(ctx context.Context, storeID string, purchaseID string) (*domain.Purchase, error)
	UpsertPurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, storeID string, status string, limit int) ([]domain.Purchase, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplier(ctx context.Context, storeID string, supplierID string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context, storeID string) ([]domain.Supplier, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
