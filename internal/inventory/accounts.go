package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dapurpos/backend/internal/domain"
	"dapurpos/backend/internal/store"
	"dapurpos/backend/internal/valuation"
)

// Accounts exposes the projected stock and average cost per ingredient.
// ApplyMovement is the only way an account changes.
type Accounts struct {
	repo   store.AccountStore
	ledger *Ledger
}

func NewAccounts(repo store.AccountStore, ledger *Ledger) *Accounts {
	return &Accounts{repo: repo, ledger: ledger}
}

func (a *Accounts) Get(ctx context.Context, ingredientID string) (*domain.IngredientAccount, error) {
	return a.repo.GetAccount(ctx, ingredientID)
}

func (a *Accounts) List(ctx context.Context) ([]domain.IngredientAccount, error) {
	return a.repo.ListAccounts(ctx)
}

// current returns the stored account, or the zero account of a known
// ingredient that has never moved.
func (a *Accounts) current(ctx context.Context, ingredientID string) (domain.IngredientAccount, error) {
	account, err := a.repo.GetAccount(ctx, ingredientID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.IngredientAccount{IngredientID: ingredientID}, nil
	}
	if err != nil {
		return domain.IngredientAccount{}, fmt.Errorf("load account %s: %w", ingredientID, err)
	}
	return *account, nil
}

// ApplyMovement values draft against the current account and commits the
// ledger entry and the new projection together. Outflows are recorded at the
// previous average cost. A stale read fails with
// store.ErrConcurrentModification; the caller is expected to hold the
// ingredient lock so that this only happens across processes.
func (a *Accounts) ApplyMovement(ctx context.Context, draft domain.LedgerEntryDraft) (*domain.IngredientAccount, *domain.LedgerEntry, error) {
	draft, err := a.ledger.Validate(ctx, draft)
	if err != nil {
		return nil, nil, err
	}

	current, err := a.current(ctx, draft.IngredientID)
	if err != nil {
		return nil, nil, err
	}
	if draft.DeltaQty <= 0 {
		draft.UnitCost = current.AvgCost
	}

	next, err := valuation.ComputeNext(
		valuation.State{Stock: current.CurrentStock, AvgCost: current.AvgCost},
		valuation.Movement{DeltaQty: draft.DeltaQty, UnitCost: draft.UnitCost},
	)
	if err != nil {
		var violation *domain.InvariantViolation
		if errors.As(err, &violation) {
			violation.IngredientID = draft.IngredientID
		}
		return nil, nil, err
	}

	entry, account, err := a.ledger.append(ctx, draft, domain.IngredientAccount{
		IngredientID: draft.IngredientID,
		CurrentStock: next.Stock,
		AvgCost:      next.AvgCost,
		UpdatedAt:    time.Now().UTC(),
	}, current.Version)
	if err != nil {
		return nil, nil, err
	}
	return account, entry, nil
}

// Reconcile compares the projection with a full replay of the ledger.
func (a *Accounts) Reconcile(ctx context.Context, ingredientID string) (*domain.ReconcileResult, error) {
	if _, err := a.ledger.repo.GetIngredient(ctx, ingredientID); err != nil {
		return nil, err
	}
	current, err := a.current(ctx, ingredientID)
	if err != nil {
		return nil, err
	}
	sum, count, err := a.ledger.repo.SumLedger(ctx, ingredientID, time.Time{})
	if err != nil {
		return nil, err
	}
	return &domain.ReconcileResult{
		IngredientID: ingredientID,
		AccountStock: current.CurrentStock,
		LedgerStock:  sum,
		Drift:        current.CurrentStock - sum,
		Entries:      count,
	}, nil
}
