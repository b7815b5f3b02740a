package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dapurpos/backend/internal/domain"
	"dapurpos/backend/internal/store"
	"dapurpos/backend/internal/xid"
)

func (s *Service) ListIngredients(ctx context.Context) ([]domain.IngredientWithAccount, error) {
	if _, err := requireStaff(ctx); err != nil {
		return nil, err
	}
	ingredients, err := s.repo.ListIngredients(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := s.coordinator.Accounts().List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.IngredientAccount, len(accounts))
	for _, account := range accounts {
		byID[account.IngredientID] = account
	}

	result := make([]domain.IngredientWithAccount, 0, len(ingredients))
	for _, ing := range ingredients {
		account := byID[ing.ID]
		result = append(result, domain.IngredientWithAccount{
			Ingredient:   ing,
			CurrentStock: account.CurrentStock,
			AvgCost:      account.AvgCost,
		})
	}
	return result, nil
}

func (s *Service) CreateIngredient(ctx context.Context, req domain.IngredientCreateRequest) (domain.Ingredient, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Ingredient{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.BaseUOM = strings.ToLower(strings.TrimSpace(req.BaseUOM))
	if err := s.check(req, ""); err != nil {
		return domain.Ingredient{}, err
	}

	created, err := s.repo.CreateIngredient(ctx, domain.Ingredient{
		ID:        xid.New("ing"),
		Name:      req.Name,
		BaseUOM:   req.BaseUOM,
		ParLevel:  req.ParLevel,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Ingredient{}, err
	}

	s.logAudit(ctx, "ingredient_create", "ingredient", created.ID, fmt.Sprintf("name=%s,uom=%s,par=%d", created.Name, created.BaseUOM, created.ParLevel))
	return *created, nil
}

// GetAccount returns the zero account for an ingredient that has never moved.
func (s *Service) GetAccount(ctx context.Context, ingredientID string) (domain.IngredientAccount, error) {
	if _, err := requireStaff(ctx); err != nil {
		return domain.IngredientAccount{}, err
	}
	if _, err := s.repo.GetIngredient(ctx, ingredientID); err != nil {
		return domain.IngredientAccount{}, err
	}
	account, err := s.coordinator.Accounts().Get(ctx, ingredientID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.IngredientAccount{IngredientID: ingredientID}, nil
	}
	if err != nil {
		return domain.IngredientAccount{}, err
	}
	return *account, nil
}

func (s *Service) IngredientLedger(ctx context.Context, ingredientID string, limit int) ([]domain.LedgerEntry, error) {
	if _, err := requireStaff(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.coordinator.Ledger().History(ctx, ingredientID, limit)
}

func (s *Service) StockAt(ctx context.Context, ingredientID string, at time.Time) (domain.StockAtResponse, error) {
	if _, err := requireStaff(ctx); err != nil {
		return domain.StockAtResponse{}, err
	}
	if at.IsZero() {
		at = s.now()
	}
	stock, err := s.coordinator.Ledger().StockAt(ctx, ingredientID, at)
	if err != nil {
		return domain.StockAtResponse{}, err
	}
	return domain.StockAtResponse{IngredientID: ingredientID, At: at.UTC(), Stock: stock}, nil
}

func (s *Service) Reconcile(ctx context.Context, ingredientID string) (domain.ReconcileResult, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.ReconcileResult{}, err
	}
	result, err := s.coordinator.Accounts().Reconcile(ctx, ingredientID)
	if err != nil {
		return domain.ReconcileResult{}, err
	}
	if result.Drift != 0 {
		s.logger.WithField("ingredient_id", ingredientID).
			WithField("drift", result.Drift).
			Error("ingredient account drifted from ledger")
	}
	return *result, nil
}

// RecordMovement writes a non purchase-order movement. Staff may record sales;
// adjustments and voids need an admin.
func (s *Service) RecordMovement(ctx context.Context, req domain.StockMovementRequest) (domain.StockMovementResponse, error) {
	actor, err := requireStaff(ctx)
	if err != nil {
		return domain.StockMovementResponse{}, err
	}
	req.IngredientID = strings.TrimSpace(req.IngredientID)
	req.Reason = strings.ToLower(strings.TrimSpace(req.Reason))
	req.Note = strings.TrimSpace(req.Note)
	if err := s.check(req, req.IngredientID); err != nil {
		return domain.StockMovementResponse{}, err
	}
	if req.Reason != domain.ReasonSale && actor.Role != domain.RoleAdmin {
		return domain.StockMovementResponse{}, fmt.Errorf("%w: admin role required for %s", ErrForbidden, req.Reason)
	}

	draft := domain.LedgerEntryDraft{
		IngredientID: req.IngredientID,
		DeltaQty:     req.DeltaQty,
		UOM:          req.UOM,
		Reason:       req.Reason,
		UnitCost:     req.UnitCost,
		RefID:        strings.TrimSpace(req.RefID),
		Note:         req.Note,
	}
	if req.OccurredAt != nil {
		draft.OccurredAt = req.OccurredAt.UTC()
	}

	account, entry, err := s.coordinator.RecordMovement(ctx, draft)
	if err != nil {
		return domain.StockMovementResponse{}, err
	}
	s.invalidateValuation(ctx)
	s.logAudit(ctx, "stock_movement", "ingredient", entry.IngredientID, fmt.Sprintf("reason=%s,delta=%d,ref=%s", entry.Reason, entry.DeltaQty, entry.RefID))
	return domain.StockMovementResponse{Account: *account, Entry: *entry}, nil
}
