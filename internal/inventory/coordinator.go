package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"dapurpos/backend/internal/domain"
	"dapurpos/backend/internal/lock"
	"dapurpos/backend/internal/store"
	"dapurpos/backend/internal/xid"
)

type Repository interface {
	LedgerRepository
	store.AccountStore
	GetPurchaseOrder(ctx context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error)
	TransitionPurchaseOrder(ctx context.Context, purchaseOrderID string, t store.Transition) (*domain.PurchaseOrder, error)
	DeletePurchaseOrder(ctx context.Context, purchaseOrderID string) error
	RecordLastPurchase(ctx context.Context, catalogItemID string, ingredientID string, price int64, at time.Time) error
}

const DefaultLockTimeout = 5 * time.Second

// Coordinator is the only writer of ingredient accounts. Every write happens
// while holding the lock for that ingredient.
type Coordinator struct {
	repo        Repository
	ledger      *Ledger
	accounts    *Accounts
	locker      lock.Locker
	lockTimeout time.Duration
	now         func() time.Time
	logger      logrus.FieldLogger
}

type Option func(*Coordinator)

func WithLockTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.lockTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
			c.ledger.now = now
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewCoordinator(repo Repository, locker lock.Locker, opts ...Option) *Coordinator {
	ledger := NewLedger(repo)
	c := &Coordinator{
		repo:        repo,
		ledger:      ledger,
		accounts:    NewAccounts(repo, ledger),
		locker:      locker,
		lockTimeout: DefaultLockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logrus.StandardLogger(),
	}
	if c.locker == nil {
		c.locker = lock.NewKeyed()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) Ledger() *Ledger {
	return c.ledger
}

func (c *Coordinator) Accounts() *Accounts {
	return c.accounts
}

// Complete moves an issued purchase order to complete, writing one ledger
// entry per line. Lines already in the ledger are skipped, so a call that
// failed part way can simply be repeated. Calling it on a complete order
// returns the order without touching stock.
func (c *Coordinator) Complete(ctx context.Context, purchaseOrderID string) (*domain.CompletionResult, error) {
	po, err := c.repo.GetPurchaseOrder(ctx, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	if po.Status == domain.StatusComplete {
		return &domain.CompletionResult{PurchaseOrder: *po, AlreadyComplete: true}, nil
	}
	if po.Status != domain.StatusIssued {
		return nil, &domain.InvalidStateError{PurchaseOrderID: po.ID, Status: po.Status, Operation: "completed"}
	}
	if len(po.Items) == 0 {
		return nil, domain.NewValidationError("items", po.ID, "purchase order has no line items")
	}

	existing, err := c.ledger.ListByRef(ctx, domain.RefTypePurchaseOrder, po.ID)
	if err != nil {
		return nil, fmt.Errorf("list ledger for purchase order %s: %w", po.ID, err)
	}
	written := indexLines(existing)

	log := c.logger.WithField("purchase_order_id", po.ID)
	result := &domain.CompletionResult{AppliedLines: []string{}, SkippedLines: []string{}}
	for i, item := range po.Items {
		if err := ctx.Err(); err != nil {
			return nil, c.partial(po, i, result.AppliedLines, err)
		}
		skipped, err := c.applyLine(ctx, po, item, written)
		if err != nil {
			return nil, c.partial(po, i, result.AppliedLines, err)
		}
		if skipped {
			result.SkippedLines = append(result.SkippedLines, item.ID)
			continue
		}
		result.AppliedLines = append(result.AppliedLines, item.ID)
	}

	completed, err := c.repo.TransitionPurchaseOrder(ctx, po.ID, store.Transition{
		Operation: "completed",
		From:      []string{domain.StatusIssued},
		To:        domain.StatusComplete,
		At:        c.now(),
	})
	if err != nil {
		var stateErr *domain.InvalidStateError
		if errors.As(err, &stateErr) && stateErr.Status == domain.StatusComplete {
			// another caller finished the same order
			latest, getErr := c.repo.GetPurchaseOrder(ctx, po.ID)
			if getErr != nil {
				return nil, getErr
			}
			result.PurchaseOrder = *latest
			return result, nil
		}
		return nil, fmt.Errorf("mark purchase order %s complete: %w", po.ID, err)
	}

	log.WithFields(logrus.Fields{
		"applied": len(result.AppliedLines),
		"skipped": len(result.SkippedLines),
	}).Info("purchase order completed")
	result.PurchaseOrder = *completed
	return result, nil
}

// applyLine reports skipped=true when the line was already in the ledger.
func (c *Coordinator) applyLine(ctx context.Context, po *domain.PurchaseOrder, item domain.LineItem, written map[string]domain.LedgerEntry) (bool, error) {
	if entry, ok := matchLine(written, item); ok {
		return true, c.recordPurchase(ctx, item, entry.OccurredAt)
	}

	release, err := c.acquire(ctx, item.StoreIngredientID)
	if err != nil {
		return false, err
	}
	defer release()

	// re-read under the lock: a concurrent call may have written this line
	latest, err := c.ledger.ListByRef(ctx, domain.RefTypePurchaseOrder, po.ID)
	if err != nil {
		return false, fmt.Errorf("list ledger for purchase order %s: %w", po.ID, err)
	}
	if entry, ok := matchLine(indexLines(latest), item); ok {
		return true, c.recordPurchase(ctx, item, entry.OccurredAt)
	}

	account, entry, err := c.accounts.ApplyMovement(ctx, domain.LedgerEntryDraft{
		IngredientID: item.StoreIngredientID,
		DeltaQty:     item.Qty,
		UOM:          item.BaseUOM,
		Reason:       domain.ReasonPurchaseOrder,
		UnitCost:     item.Price,
		RefType:      domain.RefTypePurchaseOrder,
		RefID:        po.ID,
		RefLineID:    item.ID,
	})
	if errors.Is(err, store.ErrDuplicateMovement) {
		return true, c.recordPurchase(ctx, item, c.now())
	}
	if err != nil {
		return false, err
	}

	c.logger.WithFields(logrus.Fields{
		"purchase_order_id": po.ID,
		"line_id":           item.ID,
		"ingredient_id":     item.StoreIngredientID,
		"delta_qty":         entry.DeltaQty,
		"stock":             account.CurrentStock,
		"avg_cost":          account.AvgCost,
	}).Debug("line applied")

	return false, c.recordPurchase(ctx, item, entry.OccurredAt)
}

func (c *Coordinator) recordPurchase(ctx context.Context, item domain.LineItem, at time.Time) error {
	if item.CatalogItemID == "" {
		return nil
	}
	if err := c.repo.RecordLastPurchase(ctx, item.CatalogItemID, item.StoreIngredientID, item.Price, at); err != nil {
		return fmt.Errorf("record last purchase for catalog item %s: %w", item.CatalogItemID, err)
	}
	return nil
}

func (c *Coordinator) acquire(ctx context.Context, ingredientID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, c.lockTimeout)
	defer cancel()

	release, err := c.locker.Acquire(lockCtx, ingredientID)
	if err == nil {
		return release, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, &domain.LockTimeoutError{IngredientID: ingredientID, Wait: c.lockTimeout}
	}
	return nil, err
}

func (c *Coordinator) partial(po *domain.PurchaseOrder, failedAt int, applied []string, cause error) error {
	pending := make([]string, 0, len(po.Items)-failedAt)
	for _, item := range po.Items[failedAt:] {
		pending = append(pending, item.ID)
	}
	failed := po.Items[failedAt]
	c.logger.WithFields(logrus.Fields{
		"purchase_order_id": po.ID,
		"line_id":           failed.ID,
		"ingredient_id":     failed.StoreIngredientID,
		"pending":           len(pending),
	}).WithError(cause).Warn("purchase order completion stopped")

	return &domain.PartialApplyError{
		PurchaseOrderID: po.ID,
		Applied:         append([]string(nil), applied...),
		Pending:         pending,
		FailedLineID:    failed.ID,
		Cause:           cause,
	}
}

// Delete removes a purchase order that has not been completed and has no
// stock received against it. A completion that stopped part way leaves the
// order issued with some lines in the ledger; such an order can only be
// completed.
func (c *Coordinator) Delete(ctx context.Context, purchaseOrderID string) error {
	po, err := c.repo.GetPurchaseOrder(ctx, purchaseOrderID)
	if err != nil {
		return err
	}
	if po.Status == domain.StatusComplete {
		return &domain.InvalidStateError{PurchaseOrderID: po.ID, Status: po.Status, Operation: "deleted"}
	}
	if err := c.ensureUnreceived(ctx, po, "deleted"); err != nil {
		return err
	}
	return c.repo.DeletePurchaseOrder(ctx, purchaseOrderID)
}

// Cancel moves a draft or issued order to cancelled. Like Delete it refuses
// orders that already have ledger entries.
func (c *Coordinator) Cancel(ctx context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	po, err := c.repo.GetPurchaseOrder(ctx, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	if po.Status != domain.StatusDraft && po.Status != domain.StatusIssued {
		return nil, &domain.InvalidStateError{PurchaseOrderID: po.ID, Status: po.Status, Operation: "cancelled"}
	}
	if err := c.ensureUnreceived(ctx, po, "cancelled"); err != nil {
		return nil, err
	}
	cancelled, err := c.repo.TransitionPurchaseOrder(ctx, po.ID, store.Transition{
		Operation:  "cancelled",
		From:       []string{domain.StatusDraft, domain.StatusIssued},
		To:         domain.StatusCancelled,
		At:         c.now(),
		Unreceived: true,
	})
	if err != nil {
		return nil, err
	}
	c.logger.WithField("purchase_order_id", po.ID).Info("purchase order cancelled")
	return cancelled, nil
}

// ensureUnreceived is the early check; the store repeats it inside the
// transaction that deletes or cancels.
func (c *Coordinator) ensureUnreceived(ctx context.Context, po *domain.PurchaseOrder, operation string) error {
	entries, err := c.ledger.ListByRef(ctx, domain.RefTypePurchaseOrder, po.ID)
	if err != nil {
		return fmt.Errorf("list ledger for purchase order %s: %w", po.ID, err)
	}
	if len(entries) > 0 {
		return &domain.InvalidStateError{
			PurchaseOrderID: po.ID,
			Status:          po.Status,
			Operation:       operation,
			Detail:          domain.ReceivedStockDetail(len(entries)),
		}
	}
	return nil
}

// RecordMovement writes an adjustment, sale or void. Receipts with a zero unit
// cost are valued at the current average.
func (c *Coordinator) RecordMovement(ctx context.Context, draft domain.LedgerEntryDraft) (*domain.IngredientAccount, *domain.LedgerEntry, error) {
	if draft.Reason == domain.ReasonPurchaseOrder {
		return nil, nil, domain.NewValidationError("reason", draft.IngredientID, "purchase order receipts are recorded by completing the order")
	}
	draft, err := c.ledger.Validate(ctx, draft)
	if err != nil {
		return nil, nil, err
	}
	if draft.RefType == "" {
		draft.RefType = domain.RefTypeAdjustment
		if draft.Reason == domain.ReasonSale || draft.Reason == domain.ReasonVoid {
			draft.RefType = domain.RefTypeSale
		}
	}
	if draft.RefID == "" {
		draft.RefID = xid.New("mv")
	}

	release, err := c.acquire(ctx, draft.IngredientID)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	if draft.DeltaQty > 0 && draft.UnitCost == 0 {
		current, err := c.accounts.current(ctx, draft.IngredientID)
		if err != nil {
			return nil, nil, err
		}
		draft.UnitCost = current.AvgCost
	}

	account, entry, err := c.accounts.ApplyMovement(ctx, draft)
	if err != nil {
		return nil, nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"ingredient_id": draft.IngredientID,
		"reason":        draft.Reason,
		"delta_qty":     draft.DeltaQty,
		"stock":         account.CurrentStock,
	}).Info("stock movement recorded")
	return account, entry, nil
}

func indexLines(entries []domain.LedgerEntry) map[string]domain.LedgerEntry {
	index := make(map[string]domain.LedgerEntry, len(entries))
	for _, entry := range entries {
		key := entry.RefLineID
		if key == "" {
			key = "ingredient:" + entry.IngredientID
		}
		index[key] = entry
	}
	return index
}

// matchLine finds the entry for a line by line id, falling back to the
// ingredient for entries written without one.
func matchLine(index map[string]domain.LedgerEntry, item domain.LineItem) (domain.LedgerEntry, bool) {
	if entry, ok := index[item.ID]; ok && entry.IngredientID == item.StoreIngredientID {
		return entry, true
	}
	entry, ok := index["ingredient:"+item.StoreIngredientID]
	return entry, ok
}
