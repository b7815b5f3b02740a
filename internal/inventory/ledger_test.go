package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dapurpos/backend/internal/domain"
	"dapurpos/backend/internal/inventory"
	"dapurpos/backend/internal/store"
)

func TestLedgerValidate(t *testing.T) {
	ledger := inventory.NewLedger(seedStore(t))
	ctx := context.Background()

	cases := []struct {
		name  string
		draft domain.LedgerEntryDraft
		field string
	}{
		{"unknown ingredient", domain.LedgerEntryDraft{IngredientID: "ing-salt", DeltaQty: 1, Reason: domain.ReasonAdjustment}, "ingredient_id"},
		{"missing ingredient", domain.LedgerEntryDraft{DeltaQty: 1, Reason: domain.ReasonAdjustment}, "ingredient_id"},
		{"zero delta", domain.LedgerEntryDraft{IngredientID: "ing-flour", Reason: domain.ReasonAdjustment}, "delta_qty"},
		{"negative receipt", domain.LedgerEntryDraft{IngredientID: "ing-flour", DeltaQty: -1, Reason: domain.ReasonPurchaseOrder, RefType: "purchase_order", RefID: "po", RefLineID: "l"}, "delta_qty"},
		{"inbound sale", domain.LedgerEntryDraft{IngredientID: "ing-flour", DeltaQty: 2, Reason: domain.ReasonSale}, "delta_qty"},
		{"outbound void", domain.LedgerEntryDraft{IngredientID: "ing-flour", DeltaQty: -2, Reason: domain.ReasonVoid}, "delta_qty"},
		{"unknown reason", domain.LedgerEntryDraft{IngredientID: "ing-flour", DeltaQty: 2, Reason: "gift"}, "reason"},
		{"receipt without ref", domain.LedgerEntryDraft{IngredientID: "ing-flour", DeltaQty: 2, Reason: domain.ReasonPurchaseOrder}, "ref"},
		{"wrong uom", domain.LedgerEntryDraft{IngredientID: "ing-flour", DeltaQty: 2, UOM: "kg", Reason: domain.ReasonAdjustment}, "uom"},
		{"negative cost", domain.LedgerEntryDraft{IngredientID: "ing-flour", DeltaQty: 2, UnitCost: -1, Reason: domain.ReasonAdjustment}, "unit_cost"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ledger.Validate(ctx, tc.draft)
			var validation *domain.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, tc.field, validation.Field)
		})
	}
}

func TestLedgerValidateFillsBaseUOM(t *testing.T) {
	ledger := inventory.NewLedger(seedStore(t))
	draft, err := ledger.Validate(context.Background(), domain.LedgerEntryDraft{
		IngredientID: "ing-milk", DeltaQty: -3, Reason: domain.ReasonAdjustment,
	})
	require.NoError(t, err)
	assert.Equal(t, "ml", draft.UOM)

	draft, err = ledger.Validate(context.Background(), domain.LedgerEntryDraft{
		IngredientID: "ing-milk", DeltaQty: 3, UOM: "ML", Reason: domain.ReasonAdjustment,
	})
	require.NoError(t, err)
	assert.Equal(t, "ml", draft.UOM)
}

func TestLedgerStockAtReplaysHistory(t *testing.T) {
	ctx := context.Background()
	repo := seedStore(t)
	coord := newCoordinator(repo)
	ledger := coord.Ledger()

	day := func(d int) time.Time { return time.Date(2026, 1, d, 12, 0, 0, 0, time.UTC) }
	moves := []domain.LedgerEntryDraft{
		{IngredientID: "ing-flour", DeltaQty: 50, Reason: domain.ReasonAdjustment, UnitCost: 10, OccurredAt: day(1)},
		{IngredientID: "ing-flour", DeltaQty: -20, Reason: domain.ReasonSale, OccurredAt: day(3)},
		{IngredientID: "ing-flour", DeltaQty: 5, Reason: domain.ReasonVoid, OccurredAt: day(5)},
	}
	for _, move := range moves {
		_, _, err := coord.RecordMovement(ctx, move)
		require.NoError(t, err)
	}

	for _, tc := range []struct {
		at   time.Time
		want int64
	}{
		{day(1).Add(-time.Second), 0},
		{day(1), 50},
		{day(4), 30},
		{day(6), 35},
	} {
		stock, err := ledger.StockAt(ctx, "ing-flour", tc.at)
		require.NoError(t, err)
		assert.Equal(t, tc.want, stock, tc.at.String())
	}

	history, err := ledger.History(ctx, "ing-flour", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(-20), history[0].DeltaQty)
	assert.Equal(t, int64(5), history[1].DeltaQty)
	assert.True(t, history[0].OccurredAt.Before(history[1].OccurredAt))

	_, err = ledger.History(ctx, "ing-salt", 10)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAccountsApplyMovementDetectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	repo := seedStore(t)
	ledger := inventory.NewLedger(repo)

	_, _, err := ledger.Append(ctx, domain.LedgerEntryDraft{
		IngredientID: "ing-flour", DeltaQty: 10, Reason: domain.ReasonAdjustment, UnitCost: 100,
	}, domain.IngredientAccount{CurrentStock: 10, AvgCost: 100}, 0)
	require.NoError(t, err)

	// a second writer computed its projection from version 0 as well
	_, _, err = ledger.Append(ctx, domain.LedgerEntryDraft{
		IngredientID: "ing-flour", DeltaQty: 5, Reason: domain.ReasonAdjustment, UnitCost: 100,
	}, domain.IngredientAccount{CurrentStock: 5, AvgCost: 100}, 0)
	assert.ErrorIs(t, err, store.ErrConcurrentModification)
	assert.True(t, domain.IsRetryable(err))

	account, err := repo.GetAccount(ctx, "ing-flour")
	require.NoError(t, err)
	assert.Equal(t, int64(10), account.CurrentStock)
}

func TestLedgerRejectsMovementsOutOfTimeOrder(t *testing.T) {
	ctx := context.Background()
	repo := seedStore(t)
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	coord := newCoordinator(repo, inventory.WithClock(func() time.Time { return now }))

	_, _, err := coord.RecordMovement(ctx, domain.LedgerEntryDraft{
		IngredientID: "ing-sugar", DeltaQty: 10, Reason: domain.ReasonAdjustment, UnitCost: 100,
	})
	require.NoError(t, err)

	var validation *domain.ValidationError
	_, _, err = coord.RecordMovement(ctx, domain.LedgerEntryDraft{
		IngredientID: "ing-sugar", DeltaQty: -8, Reason: domain.ReasonSale, OccurredAt: now.Add(-48 * time.Hour),
	})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "occurred_at", validation.Field)

	_, _, err = coord.RecordMovement(ctx, domain.LedgerEntryDraft{
		IngredientID: "ing-sugar", DeltaQty: -8, Reason: domain.ReasonSale, OccurredAt: now.Add(time.Hour),
	})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "occurred_at", validation.Field)

	stock, err := coord.Ledger().StockAt(ctx, "ing-sugar", now.Add(-47*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, stock)

	account, err := repo.GetAccount(ctx, "ing-sugar")
	require.NoError(t, err)
	assert.Equal(t, int64(10), account.CurrentStock)

	// a clock that fell behind the latest entry does not reorder the ledger
	now = now.Add(-time.Minute)
	_, entry, err := coord.RecordMovement(ctx, domain.LedgerEntryDraft{
		IngredientID: "ing-sugar", DeltaQty: -8, Reason: domain.ReasonSale,
	})
	require.NoError(t, err)
	assert.True(t, entry.OccurredAt.Equal(now.Add(time.Minute)))

	stock, err = coord.Ledger().StockAt(ctx, "ing-sugar", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stock)
}
