package store

import (
	"context"
	"errors"
	"time"

	"dapurpos/backend/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
	// ErrConcurrentModification is returned by AppendMovement when the
	// account version no longer matches the caller's read.
	ErrConcurrentModification = domain.ErrConcurrentModification
	// ErrDuplicateMovement is returned when a ledger entry for the same
	// document line was already written.
	ErrDuplicateMovement = errors.New("ledger entry already recorded for document line")
)

// Transition moves a purchase order to To when its current status is one of
// From. Stores return *domain.InvalidStateError otherwise.
type Transition struct {
	Operation string
	From      []string
	To        string
	At        time.Time
	// Unreceived refuses the transition once any ledger entry references
	// the order. The check runs in the same transaction as the update.
	Unreceived bool
}

type IngredientStore interface {
	CreateIngredient(ctx context.Context, ingredient domain.Ingredient) (*domain.Ingredient, error)
	GetIngredient(ctx context.Context, ingredientID string) (*domain.Ingredient, error)
	ListIngredients(ctx context.Context) ([]domain.Ingredient, error)
}

type AccountStore interface {
	GetAccount(ctx context.Context, ingredientID string) (*domain.IngredientAccount, error)
	ListAccounts(ctx context.Context) ([]domain.IngredientAccount, error)
}

// LedgerStore is append-only. AppendMovement writes the entry and the new
// account projection in one atomic step; next.Version is ignored and set to
// expectedVersion+1.
type LedgerStore interface {
	AppendMovement(ctx context.Context, entry domain.LedgerEntryDraft, next domain.IngredientAccount, expectedVersion int64) (*domain.LedgerEntry, *domain.IngredientAccount, error)
	ListLedgerByRef(ctx context.Context, refType string, refID string) ([]domain.LedgerEntry, error)
	ListLedgerByIngredient(ctx context.Context, ingredientID string, limit int) ([]domain.LedgerEntry, error)
	// SumLedger totals deltas with occurred_at <= until; a zero until means all.
	SumLedger(ctx context.Context, ingredientID string, until time.Time) (int64, int, error)
}

type PurchaseOrderStore interface {
	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error)
	ReplacePurchaseOrderItems(ctx context.Context, purchaseOrderID string, items []domain.LineItem) (*domain.PurchaseOrder, error)
	TransitionPurchaseOrder(ctx context.Context, purchaseOrderID string, t Transition) (*domain.PurchaseOrder, error)
	DeletePurchaseOrder(ctx context.Context, purchaseOrderID string) error
}

type CatalogStore interface {
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplier(ctx context.Context, supplierID string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	CreateCatalogItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error)
	GetCatalogItem(ctx context.Context, catalogItemID string) (*domain.CatalogItem, error)
	ListCatalogItems(ctx context.Context, supplierID string) ([]domain.CatalogItem, error)
	UpsertCatalogLink(ctx context.Context, link domain.CatalogLink) (*domain.CatalogLink, error)
	ListCatalogLinks(ctx context.Context, ingredientID string) ([]domain.CatalogLink, error)
	// RecordLastPurchase never replaces a newer purchase with an older one.
	RecordLastPurchase(ctx context.Context, catalogItemID string, ingredientID string, price int64, at time.Time) error
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

// UserStore keys accounts by lower-cased username.
type UserStore interface {
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

type Repository interface {
	IngredientStore
	AccountStore
	LedgerStore
	PurchaseOrderStore
	CatalogStore
	AuditStore
	UserStore
}
