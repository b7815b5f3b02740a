package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dapurpos/backend/internal/domain"
	"dapurpos/backend/internal/store"
)

func TestSeededLedgerMatchesAccounts(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	accounts, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, accounts)
	for _, account := range accounts {
		sum, _, err := s.SumLedger(ctx, account.IngredientID, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, account.CurrentStock, sum, account.IngredientID)
	}

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestAppendMovementRejectsDuplicateLine(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	_, err := s.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		ID:         "po-1",
		SupplierID: "sup-sumber-pangan",
		Status:     domain.StatusIssued,
		Items:      []domain.LineItem{{ID: "po-1-line-1", StoreIngredientID: "ing-telur", Qty: 30, Price: 1900}},
	})
	require.NoError(t, err)
	draft := domain.LedgerEntryDraft{
		IngredientID: "ing-telur",
		DeltaQty:     30,
		UOM:          "pcs",
		Reason:       domain.ReasonPurchaseOrder,
		UnitCost:     1900,
		RefType:      domain.RefTypePurchaseOrder,
		RefID:        "po-1",
		RefLineID:    "po-1-line-1",
	}
	_, account, err := s.AppendMovement(ctx, draft, domain.IngredientAccount{CurrentStock: 30, AvgCost: 1900}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), account.Version)

	_, _, err = s.AppendMovement(ctx, draft, domain.IngredientAccount{CurrentStock: 60, AvgCost: 1900}, 1)
	assert.ErrorIs(t, err, store.ErrDuplicateMovement)

	got, err := s.GetAccount(ctx, "ing-telur")
	require.NoError(t, err)
	assert.Equal(t, int64(30), got.CurrentStock)
}

func TestRecordLastPurchaseKeepsNewest(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	newer := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	older := newer.Add(-48 * time.Hour)

	require.NoError(t, s.RecordLastPurchase(ctx, "cat-gula-50kg", "ing-gula", 18, newer))
	require.NoError(t, s.RecordLastPurchase(ctx, "cat-gula-50kg", "ing-gula", 15, older))

	links, err := s.ListCatalogLinks(ctx, "ing-gula")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, int64(18), links[0].LastPurchasePrice)
	assert.True(t, newer.Equal(*links[0].LastPurchasedAt))

	assert.ErrorIs(t, s.RecordLastPurchase(ctx, "cat-missing", "ing-gula", 1, newer), store.ErrNotFound)
}

func TestTransitionPurchaseOrderStampsTimes(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	po, err := s.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		SupplierID: "sup-sumber-pangan",
		Items:      []domain.LineItem{{ID: "l1", StoreIngredientID: "ing-gula", Qty: 1, Price: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, po.Status)

	issued, err := s.TransitionPurchaseOrder(ctx, po.ID, store.Transition{
		Operation: "issued", From: []string{domain.StatusDraft}, To: domain.StatusIssued,
	})
	require.NoError(t, err)
	assert.NotNil(t, issued.IssuedAt)

	_, err = s.TransitionPurchaseOrder(ctx, po.ID, store.Transition{
		Operation: "issued", From: []string{domain.StatusDraft}, To: domain.StatusIssued,
	})
	var stateErr *domain.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, domain.StatusIssued, stateErr.Status)

	listed, err := s.ListPurchaseOrders(ctx, domain.StatusIssued, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, po.ID, listed[0].ID)
}

func TestReceivedOrderKeepsItsLedgerReference(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	po, err := s.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		SupplierID: "sup-sumber-pangan",
		Status:     domain.StatusIssued,
		Items: []domain.LineItem{
			{ID: "l1", StoreIngredientID: "ing-telur", Qty: 30, Price: 1900},
			{ID: "l2", StoreIngredientID: "ing-gula", Qty: 1000, Price: 18},
		},
	})
	require.NoError(t, err)

	_, _, err = s.AppendMovement(ctx, domain.LedgerEntryDraft{
		IngredientID: "ing-telur",
		DeltaQty:     30,
		UOM:          "pcs",
		Reason:       domain.ReasonPurchaseOrder,
		UnitCost:     1900,
		RefType:      domain.RefTypePurchaseOrder,
		RefID:        po.ID,
		RefLineID:    "l1",
	}, domain.IngredientAccount{CurrentStock: 30, AvgCost: 1900}, 0)
	require.NoError(t, err)

	err = s.DeletePurchaseOrder(ctx, po.ID)
	var stateErr *domain.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "deleted", stateErr.Operation)

	_, err = s.TransitionPurchaseOrder(ctx, po.ID, store.Transition{
		Operation:  "cancelled",
		From:       []string{domain.StatusDraft, domain.StatusIssued},
		To:         domain.StatusCancelled,
		Unreceived: true,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = s.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)

	_, _, err = s.AppendMovement(ctx, domain.LedgerEntryDraft{
		IngredientID: "ing-telur", DeltaQty: 1, UOM: "pcs", Reason: domain.ReasonPurchaseOrder,
		RefType: domain.RefTypePurchaseOrder, RefID: "po-gone", RefLineID: "l1",
	}, domain.IngredientAccount{CurrentStock: 31, AvgCost: 1900}, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
