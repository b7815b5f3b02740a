package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"dapurpos/backend/internal/domain"
	"dapurpos/backend/internal/store"
	"dapurpos/backend/internal/xid"
)

const purchaseOrderColumns = `id, supplier_id, status, COALESCE(note, ''), COALESCE(created_by, ''),
	created_at, issued_at, completed_at, cancelled_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPurchaseOrder(row rowScanner) (*domain.PurchaseOrder, error) {
	var (
		po          domain.PurchaseOrder
		issuedAt    sql.NullTime
		completedAt sql.NullTime
		cancelledAt sql.NullTime
	)
	if err := row.Scan(&po.ID, &po.SupplierID, &po.Status, &po.Note, &po.CreatedBy,
		&po.CreatedAt, &issuedAt, &completedAt, &cancelledAt); err != nil {
		return nil, err
	}
	po.CreatedAt = po.CreatedAt.UTC()
	po.IssuedAt = timePtr(issuedAt)
	po.CompletedAt = timePtr(completedAt)
	po.CancelledAt = timePtr(cancelledAt)
	return &po, nil
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.ID == "" {
		po.ID = xid.New("po")
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	if po.Status == "" {
		po.Status = domain.StatusDraft
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchase_orders (id, supplier_id, status, note, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, po.ID, po.SupplierID, po.Status, nullIfEmpty(po.Note), nullIfEmpty(po.CreatedBy), po.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := insertItems(ctx, tx, po.ID, po.Items); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &po, nil
}

func insertItems(ctx context.Context, tx *sql.Tx, purchaseOrderID string, items []domain.LineItem) error {
	for i, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_order_items (
				purchase_order_id, line_id, position, store_ingredient_id, catalog_item_id, qty, price, base_uom
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, purchaseOrderID, item.ID, i, item.StoreIngredientID, nullIfEmpty(item.CatalogItemID), item.Qty, item.Price, item.BaseUOM)
		if err != nil {
			if isForeignKeyViolation(err) {
				return store.ErrNotFound
			}
			if isUniqueViolation(err) {
				return store.ErrDuplicate
			}
			return err
		}
	}
	return nil
}

func (s *Store) loadItems(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, po *domain.PurchaseOrder) error {
	rows, err := q.QueryContext(ctx, `
		SELECT line_id, store_ingredient_id, COALESCE(catalog_item_id, ''), qty, price, base_uom
		FROM purchase_order_items
		WHERE purchase_order_id = $1
		ORDER BY position ASC
	`, po.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	po.Items = make([]domain.LineItem, 0, 8)
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ID, &item.StoreIngredientID, &item.CatalogItemID, &item.Qty, &item.Price, &item.BaseUOM); err != nil {
			return err
		}
		po.Items = append(po.Items, item)
	}
	return rows.Err()
}

func (s *Store) GetPurchaseOrder(ctx context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	po, err := scanPurchaseOrder(s.db.QueryRowContext(ctx, `
		SELECT `+purchaseOrderColumns+`
		FROM purchase_orders
		WHERE id = $1
	`, purchaseOrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := s.loadItems(ctx, s.db, po); err != nil {
		return nil, err
	}
	return po, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+purchaseOrderColumns+`
		FROM purchase_orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, strings.ToLower(strings.TrimSpace(status)), nullIfZero(limit))
	if err != nil {
		return nil, err
	}

	result := make([]domain.PurchaseOrder, 0, 32)
	for rows.Next() {
		po, err := scanPurchaseOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		result = append(result, *po)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range result {
		if err := s.loadItems(ctx, s.db, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// lockPurchaseOrder reads the header row FOR UPDATE inside tx.
func lockPurchaseOrder(ctx context.Context, tx *sql.Tx, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	po, err := scanPurchaseOrder(tx.QueryRowContext(ctx, `
		SELECT `+purchaseOrderColumns+`
		FROM purchase_orders
		WHERE id = $1
		FOR UPDATE
	`, purchaseOrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return po, nil
}

func (s *Store) ReplacePurchaseOrderItems(ctx context.Context, purchaseOrderID string, items []domain.LineItem) (*domain.PurchaseOrder, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	po, err := lockPurchaseOrder(ctx, tx, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	if po.Status != domain.StatusDraft {
		return nil, &domain.InvalidStateError{PurchaseOrderID: po.ID, Status: po.Status, Operation: "edited"}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM purchase_order_items WHERE purchase_order_id = $1`, po.ID); err != nil {
		return nil, err
	}
	if err := insertItems(ctx, tx, po.ID, items); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	po.Items = append([]domain.LineItem(nil), items...)
	return po, nil
}

func (s *Store) TransitionPurchaseOrder(ctx context.Context, purchaseOrderID string, t store.Transition) (*domain.PurchaseOrder, error) {
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var stampColumn string
	switch t.To {
	case domain.StatusIssued:
		stampColumn = "issued_at"
	case domain.StatusComplete:
		stampColumn = "completed_at"
	case domain.StatusCancelled:
		stampColumn = "cancelled_at"
	default:
		return nil, domain.NewValidationError("status", purchaseOrderID, "unsupported target status "+t.To)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if t.Unreceived {
		po, err := lockPurchaseOrder(ctx, tx, purchaseOrderID)
		if err != nil {
			return nil, err
		}
		if err := checkUnreceived(ctx, tx, po, t.Operation); err != nil {
			return nil, err
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = $2, `+stampColumn+` = $3
		WHERE id = $1 AND status = ANY($4)
	`, purchaseOrderID, t.To, at, t.From)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	po, err := scanPurchaseOrder(tx.QueryRowContext(ctx, `
		SELECT `+purchaseOrderColumns+`
		FROM purchase_orders
		WHERE id = $1
	`, purchaseOrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if affected == 0 {
		return nil, &domain.InvalidStateError{PurchaseOrderID: po.ID, Status: po.Status, Operation: t.Operation}
	}
	if err := s.loadItems(ctx, tx, po); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return po, nil
}

func (s *Store) DeletePurchaseOrder(ctx context.Context, purchaseOrderID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	po, err := lockPurchaseOrder(ctx, tx, purchaseOrderID)
	if err != nil {
		return err
	}
	if po.Status == domain.StatusComplete {
		return &domain.InvalidStateError{PurchaseOrderID: po.ID, Status: po.Status, Operation: "deleted"}
	}
	if err := checkUnreceived(ctx, tx, po, "deleted"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM purchase_orders WHERE id = $1`, po.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// checkUnreceived fails when ledger entries reference po. The caller holds the
// row lock taken by lockPurchaseOrder, which waits out any receipt in flight.
func checkUnreceived(ctx context.Context, tx *sql.Tx, po *domain.PurchaseOrder, operation string) error {
	var received int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM stock_ledger
		WHERE ref_type = $1 AND ref_id = $2
	`, domain.RefTypePurchaseOrder, po.ID).Scan(&received)
	if err != nil {
		return err
	}
	if received > 0 {
		return &domain.InvalidStateError{
			PurchaseOrderID: po.ID,
			Status:          po.Status,
			Operation:       operation,
			Detail:          domain.ReceivedStockDetail(received),
		}
	}
	return nil
}
