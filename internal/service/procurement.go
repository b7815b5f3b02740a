package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dapurpos/backend/internal/domain"
	"dapurpos/backend/internal/store"
	"dapurpos/backend/internal/xid"
)

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Supplier{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := s.check(req, ""); err != nil {
		return domain.Supplier{}, err
	}

	saved, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:        xid.New("sup"),
		Name:      req.Name,
		Phone:     req.Phone,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, "supplier_create", "supplier", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreateCatalogItem(ctx context.Context, supplierID string, req domain.CatalogItemCreateRequest) (domain.CatalogItem, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.CatalogItem{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.PurchaseUOM = strings.ToLower(strings.TrimSpace(req.PurchaseUOM))
	if err := s.check(req, supplierID); err != nil {
		return domain.CatalogItem{}, err
	}
	if _, err := s.repo.GetSupplier(ctx, supplierID); err != nil {
		return domain.CatalogItem{}, err
	}

	saved, err := s.repo.CreateCatalogItem(ctx, domain.CatalogItem{
		ID:          xid.New("cat"),
		SupplierID:  supplierID,
		Name:        req.Name,
		PurchaseUOM: req.PurchaseUOM,
		ListPrice:   req.ListPrice,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return domain.CatalogItem{}, err
	}

	s.logAudit(ctx, "catalog_item_create", "catalog_item", saved.ID, fmt.Sprintf("supplier=%s,name=%s", supplierID, saved.Name))
	return *saved, nil
}

func (s *Service) ListCatalogItems(ctx context.Context, supplierID string) ([]domain.CatalogItem, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetSupplier(ctx, supplierID); err != nil {
		return nil, err
	}
	return s.repo.ListCatalogItems(ctx, supplierID)
}

func (s *Service) LinkCatalogItem(ctx context.Context, req domain.CatalogLinkRequest) (domain.CatalogLink, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.CatalogLink{}, err
	}
	req.CatalogItemID = strings.TrimSpace(req.CatalogItemID)
	req.StoreIngredientID = strings.TrimSpace(req.StoreIngredientID)
	if err := s.check(req, req.CatalogItemID); err != nil {
		return domain.CatalogLink{}, err
	}

	link, err := s.repo.UpsertCatalogLink(ctx, domain.CatalogLink{
		CatalogItemID:     req.CatalogItemID,
		StoreIngredientID: req.StoreIngredientID,
		CreatedAt:         s.now(),
	})
	if err != nil {
		return domain.CatalogLink{}, err
	}

	s.logAudit(ctx, "catalog_link", "catalog_item", link.CatalogItemID, fmt.Sprintf("ingredient=%s", link.StoreIngredientID))
	return *link, nil
}

func (s *Service) ListCatalogLinks(ctx context.Context, ingredientID string) ([]domain.CatalogLink, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetIngredient(ctx, ingredientID); err != nil {
		return nil, err
	}
	return s.repo.ListCatalogLinks(ctx, ingredientID)
}

func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrderResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	req.SupplierID = strings.TrimSpace(req.SupplierID)
	req.Note = strings.TrimSpace(req.Note)
	if err := s.check(req, ""); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	if _, err := s.repo.GetSupplier(ctx, req.SupplierID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.PurchaseOrderResponse{}, domain.NewValidationError("supplier_id", req.SupplierID, "unknown supplier")
		}
		return domain.PurchaseOrderResponse{}, err
	}

	poID := xid.New("po")
	items, err := s.buildItems(ctx, poID, req.SupplierID, req.Items)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	saved, err := s.repo.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		ID:         poID,
		SupplierID: req.SupplierID,
		Status:     domain.StatusDraft,
		Note:       req.Note,
		Items:      items,
		CreatedBy:  actor.Username,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	s.logAudit(ctx, "purchase_order_create", "purchase_order", saved.ID, fmt.Sprintf("supplier=%s,items=%d,total=%d", saved.SupplierID, len(saved.Items), saved.TotalCost()))
	return domain.PurchaseOrderResponse{PurchaseOrder: *saved}, nil
}

// buildItems checks each requested line against the ingredient and the
// supplier catalog and assigns line ids.
func (s *Service) buildItems(ctx context.Context, poID string, supplierID string, reqs []domain.LineItemRequest) ([]domain.LineItem, error) {
	items := make([]domain.LineItem, 0, len(reqs))
	for i, req := range reqs {
		field := fmt.Sprintf("items[%d]", i)

		ingredient, err := s.repo.GetIngredient(ctx, strings.TrimSpace(req.StoreIngredientID))
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NewValidationError(field+".store_ingredient_id", req.StoreIngredientID, "unknown ingredient")
		}
		if err != nil {
			return nil, err
		}

		catalogItem, err := s.repo.GetCatalogItem(ctx, strings.TrimSpace(req.CatalogItemID))
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NewValidationError(field+".catalog_item_id", req.CatalogItemID, "unknown catalog item")
		}
		if err != nil {
			return nil, err
		}
		if catalogItem.SupplierID != supplierID {
			return nil, domain.NewValidationError(field+".catalog_item_id", req.CatalogItemID, "catalog item belongs to another supplier")
		}

		uom := strings.ToLower(strings.TrimSpace(req.BaseUOM))
		if uom == "" {
			uom = ingredient.BaseUOM
		}
		if uom != ingredient.BaseUOM {
			return nil, domain.NewValidationError(field+".base_uom", req.StoreIngredientID, fmt.Sprintf("quantity must be in %s", ingredient.BaseUOM))
		}

		items = append(items, domain.LineItem{
			ID:                fmt.Sprintf("%s-l%d", poID, i+1),
			StoreIngredientID: ingredient.ID,
			CatalogItemID:     catalogItem.ID,
			Qty:               req.Qty,
			Price:             req.Price,
			BaseUOM:           uom,
		})
	}
	return items, nil
}

func (s *Service) UpdatePurchaseOrderItems(ctx context.Context, purchaseOrderID string, req domain.PurchaseOrderItemsUpdateRequest) (domain.PurchaseOrderResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	if err := s.check(req, purchaseOrderID); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	po, err := s.repo.GetPurchaseOrder(ctx, purchaseOrderID)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	if po.Status != domain.StatusDraft {
		return domain.PurchaseOrderResponse{}, &domain.InvalidStateError{PurchaseOrderID: po.ID, Status: po.Status, Operation: "edited"}
	}

	items, err := s.buildItems(ctx, po.ID, po.SupplierID, req.Items)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	updated, err := s.repo.ReplacePurchaseOrderItems(ctx, po.ID, items)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	s.logAudit(ctx, "purchase_order_edit", "purchase_order", updated.ID, fmt.Sprintf("items=%d,total=%d", len(updated.Items), updated.TotalCost()))
	return domain.PurchaseOrderResponse{PurchaseOrder: *updated}, nil
}

func (s *Service) IssuePurchaseOrder(ctx context.Context, purchaseOrderID string) (domain.PurchaseOrderResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	po, err := s.repo.GetPurchaseOrder(ctx, purchaseOrderID)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	if len(po.Items) == 0 {
		return domain.PurchaseOrderResponse{}, domain.NewValidationError("items", po.ID, "purchase order has no line items")
	}

	issued, err := s.repo.TransitionPurchaseOrder(ctx, po.ID, store.Transition{
		Operation: "issued",
		From:      []string{domain.StatusDraft},
		To:        domain.StatusIssued,
		At:        s.now(),
	})
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	s.logAudit(ctx, "purchase_order_issue", "purchase_order", issued.ID, fmt.Sprintf("total=%d", issued.TotalCost()))
	return domain.PurchaseOrderResponse{PurchaseOrder: *issued}, nil
}

func (s *Service) CancelPurchaseOrder(ctx context.Context, purchaseOrderID string) (domain.PurchaseOrderResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	cancelled, err := s.coordinator.Cancel(ctx, purchaseOrderID)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	s.logAudit(ctx, "purchase_order_cancel", "purchase_order", cancelled.ID, "")
	return domain.PurchaseOrderResponse{PurchaseOrder: *cancelled}, nil
}

// CompletePurchaseOrder receives every line into stock. It is safe to call
// again after a partial failure or on an order that is already complete.
func (s *Service) CompletePurchaseOrder(ctx context.Context, purchaseOrderID string) (domain.CompletionResult, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.CompletionResult{}, err
	}
	result, err := s.coordinator.Complete(ctx, purchaseOrderID)
	if err != nil {
		var partial *domain.PartialApplyError
		if errors.As(err, &partial) && len(partial.Applied) > 0 {
			s.invalidateValuation(ctx)
			s.logAudit(ctx, "purchase_order_complete_partial", "purchase_order", purchaseOrderID,
				fmt.Sprintf("applied=%d,pending=%d", len(partial.Applied), len(partial.Pending)))
		}
		return domain.CompletionResult{}, err
	}
	if result.AlreadyComplete {
		return *result, nil
	}

	s.invalidateValuation(ctx)
	s.logAudit(ctx, "purchase_order_complete", "purchase_order", purchaseOrderID,
		fmt.Sprintf("applied=%d,skipped=%d,total=%d", len(result.AppliedLines), len(result.SkippedLines), result.PurchaseOrder.TotalCost()))
	return *result, nil
}

func (s *Service) DeletePurchaseOrder(ctx context.Context, purchaseOrderID string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.coordinator.Delete(ctx, purchaseOrderID); err != nil {
		return err
	}
	s.logAudit(ctx, "purchase_order_delete", "purchase_order", purchaseOrderID, "")
	return nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, purchaseOrderID string) (domain.PurchaseOrderResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	po, err := s.repo.GetPurchaseOrder(ctx, purchaseOrderID)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	return domain.PurchaseOrderResponse{PurchaseOrder: *po}, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, status string, limit int) (domain.PurchaseOrderListResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.PurchaseOrderListResponse{}, err
	}
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", domain.StatusDraft, domain.StatusIssued, domain.StatusComplete, domain.StatusCancelled:
	default:
		return domain.PurchaseOrderListResponse{}, domain.NewValidationError("status", status, "unknown purchase order status")
	}
	if limit < 1 {
		limit = 200
	}
	pos, err := s.repo.ListPurchaseOrders(ctx, status, limit)
	if err != nil {
		return domain.PurchaseOrderListResponse{}, err
	}
	return domain.PurchaseOrderListResponse{PurchaseOrders: pos}, nil
}

func (s *Service) PurchaseOrderLedger(ctx context.Context, purchaseOrderID string) ([]domain.LedgerEntry, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetPurchaseOrder(ctx, purchaseOrderID); err != nil {
		return nil, err
	}
	return s.coordinator.Ledger().ListByRef(ctx, domain.RefTypePurchaseOrder, purchaseOrderID)
}
