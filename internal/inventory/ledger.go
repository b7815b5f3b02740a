// Package inventory owns ingredient stock: the append-only movement ledger,
// the per-ingredient account projection and the purchase-order completion
// workflow that feeds both.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dapurpos/backend/internal/domain"
	"dapurpos/backend/internal/store"
)

type LedgerRepository interface {
	store.LedgerStore
	GetIngredient(ctx context.Context, ingredientID string) (*domain.Ingredient, error)
}

// Ledger validates and appends stock movements. There is no update or delete.
type Ledger struct {
	repo LedgerRepository
	now  func() time.Time
}

func NewLedger(repo LedgerRepository) *Ledger {
	return &Ledger{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Validate checks a draft against its ingredient and the reason's sign
// convention. An empty UOM is filled with the ingredient's base UOM.
func (l *Ledger) Validate(ctx context.Context, draft domain.LedgerEntryDraft) (domain.LedgerEntryDraft, error) {
	draft.IngredientID = strings.TrimSpace(draft.IngredientID)
	if draft.IngredientID == "" {
		return draft, domain.NewValidationError("ingredient_id", "", "is required")
	}
	ingredient, err := l.repo.GetIngredient(ctx, draft.IngredientID)
	if errors.Is(err, store.ErrNotFound) {
		return draft, domain.NewValidationError("ingredient_id", draft.IngredientID, "unknown ingredient")
	}
	if err != nil {
		return draft, fmt.Errorf("load ingredient %s: %w", draft.IngredientID, err)
	}

	if draft.DeltaQty == 0 {
		return draft, domain.NewValidationError("delta_qty", draft.IngredientID, "must not be zero")
	}
	if draft.UnitCost < 0 {
		return draft, domain.NewValidationError("unit_cost", draft.IngredientID, "must not be negative")
	}

	switch draft.Reason {
	case domain.ReasonPurchaseOrder, domain.ReasonVoid:
		if draft.DeltaQty < 0 {
			return draft, domain.NewValidationError("delta_qty", draft.IngredientID, draft.Reason+" movements must be inbound")
		}
	case domain.ReasonSale:
		if draft.DeltaQty > 0 {
			return draft, domain.NewValidationError("delta_qty", draft.IngredientID, "sale movements must be outbound")
		}
	case domain.ReasonAdjustment:
	default:
		return draft, domain.NewValidationError("reason", draft.IngredientID, fmt.Sprintf("unknown reason %q", draft.Reason))
	}

	if !draft.OccurredAt.IsZero() && draft.OccurredAt.After(l.now()) {
		return draft, domain.NewValidationError("occurred_at", draft.IngredientID, "must not be in the future")
	}

	if draft.Reason == domain.ReasonPurchaseOrder && (draft.RefType == "" || draft.RefID == "" || draft.RefLineID == "") {
		return draft, domain.NewValidationError("ref", draft.IngredientID, "purchase order receipts need ref type, id and line")
	}

	uom := strings.TrimSpace(draft.UOM)
	switch {
	case uom == "":
		draft.UOM = ingredient.BaseUOM
	case !strings.EqualFold(uom, ingredient.BaseUOM):
		return draft, domain.NewValidationError("uom", draft.IngredientID,
			fmt.Sprintf("%q does not match base unit %q", uom, ingredient.BaseUOM))
	default:
		draft.UOM = ingredient.BaseUOM
	}
	return draft, nil
}

// Append validates draft and stores it together with the account projection
// next. expectedVersion is the account version the projection was computed
// from.
func (l *Ledger) Append(ctx context.Context, draft domain.LedgerEntryDraft, next domain.IngredientAccount, expectedVersion int64) (*domain.LedgerEntry, *domain.IngredientAccount, error) {
	draft, err := l.Validate(ctx, draft)
	if err != nil {
		return nil, nil, err
	}
	return l.append(ctx, draft, next, expectedVersion)
}

// append keeps each ingredient's entries in time order, so that replaying
// them up to any instant never passes through a negative balance. A supplied
// time before the latest entry is rejected; a defaulted one is moved up to
// it. expectedVersion makes the store refuse the write if another entry
// lands after the latest one was read.
func (l *Ledger) append(ctx context.Context, draft domain.LedgerEntryDraft, next domain.IngredientAccount, expectedVersion int64) (*domain.LedgerEntry, *domain.IngredientAccount, error) {
	tail, err := l.repo.ListLedgerByIngredient(ctx, draft.IngredientID, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("load latest movement for %s: %w", draft.IngredientID, err)
	}
	var latest time.Time
	if len(tail) > 0 {
		latest = tail[len(tail)-1].OccurredAt
	}

	switch {
	case draft.OccurredAt.IsZero():
		draft.OccurredAt = l.now()
		if draft.OccurredAt.Before(latest) {
			draft.OccurredAt = latest
		}
	case draft.OccurredAt.Before(latest):
		return nil, nil, domain.NewValidationError("occurred_at", draft.IngredientID,
			"is before the latest movement at "+latest.UTC().Format(time.RFC3339))
	}
	return l.repo.AppendMovement(ctx, draft, next, expectedVersion)
}

// ListByRef returns the entries written for a document in insertion order.
func (l *Ledger) ListByRef(ctx context.Context, refType string, refID string) ([]domain.LedgerEntry, error) {
	return l.repo.ListLedgerByRef(ctx, refType, refID)
}

// History returns an ingredient's entries ordered by (occurredAt, seq). A
// positive limit keeps only the latest limit entries, still in that order.
func (l *Ledger) History(ctx context.Context, ingredientID string, limit int) ([]domain.LedgerEntry, error) {
	if _, err := l.repo.GetIngredient(ctx, ingredientID); err != nil {
		return nil, err
	}
	return l.repo.ListLedgerByIngredient(ctx, ingredientID, limit)
}

// StockAt replays the ledger up to and including at.
func (l *Ledger) StockAt(ctx context.Context, ingredientID string, at time.Time) (int64, error) {
	if _, err := l.repo.GetIngredient(ctx, ingredientID); err != nil {
		return 0, err
	}
	if at.IsZero() {
		at = l.now()
	}
	stock, _, err := l.repo.SumLedger(ctx, ingredientID, at)
	return stock, err
}
