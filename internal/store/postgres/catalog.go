package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dapurpos/backend/internal/domain"
	"dapurpos/backend/internal/store"
	"dapurpos/backend/internal/xid"
)

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, created_at)
		VALUES ($1,$2,$3,$4)
	`, supplier.ID, supplier.Name, nullIfEmpty(supplier.Phone), supplier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &supplier, nil
}

func (s *Store) GetSupplier(ctx context.Context, supplierID string) (*domain.Supplier, error) {
	var supplier domain.Supplier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(phone, ''), created_at
		FROM suppliers
		WHERE id = $1
	`, supplierID).Scan(&supplier.ID, &supplier.Name, &supplier.Phone, &supplier.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	supplier.CreatedAt = supplier.CreatedAt.UTC()
	return &supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone, ''), created_at
		FROM suppliers
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 16)
	for rows.Next() {
		var supplier domain.Supplier
		if err := rows.Scan(&supplier.ID, &supplier.Name, &supplier.Phone, &supplier.CreatedAt); err != nil {
			return nil, err
		}
		supplier.CreatedAt = supplier.CreatedAt.UTC()
		suppliers = append(suppliers, supplier)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) CreateCatalogItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	if item.ID == "" {
		item.ID = xid.New("cat")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_items (id, supplier_id, name, purchase_uom, list_price, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, item.ID, item.SupplierID, item.Name, item.PurchaseUOM, item.ListPrice, item.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetCatalogItem(ctx context.Context, catalogItemID string) (*domain.CatalogItem, error) {
	var item domain.CatalogItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, supplier_id, name, purchase_uom, list_price, created_at
		FROM catalog_items
		WHERE id = $1
	`, catalogItemID).Scan(&item.ID, &item.SupplierID, &item.Name, &item.PurchaseUOM, &item.ListPrice, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return &item, nil
}

func (s *Store) ListCatalogItems(ctx context.Context, supplierID string) ([]domain.CatalogItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, supplier_id, name, purchase_uom, list_price, created_at
		FROM catalog_items
		WHERE ($1 = '' OR supplier_id = $1)
		ORDER BY name ASC
	`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.CatalogItem, 0, 16)
	for rows.Next() {
		var item domain.CatalogItem
		if err := rows.Scan(&item.ID, &item.SupplierID, &item.Name, &item.PurchaseUOM, &item.ListPrice, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpsertCatalogLink(ctx context.Context, link domain.CatalogLink) (*domain.CatalogLink, error) {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_links (catalog_item_id, store_ingredient_id, created_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (catalog_item_id, store_ingredient_id) DO NOTHING
	`, link.CatalogItemID, link.StoreIngredientID, link.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s.getCatalogLink(ctx, link.CatalogItemID, link.StoreIngredientID)
}

func (s *Store) getCatalogLink(ctx context.Context, catalogItemID, ingredientID string) (*domain.CatalogLink, error) {
	var (
		link            domain.CatalogLink
		lastPurchasedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT catalog_item_id, store_ingredient_id, last_purchase_price, last_purchased_at, created_at
		FROM catalog_links
		WHERE catalog_item_id = $1 AND store_ingredient_id = $2
	`, catalogItemID, ingredientID).Scan(&link.CatalogItemID, &link.StoreIngredientID, &link.LastPurchasePrice, &lastPurchasedAt, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	link.LastPurchasedAt = timePtr(lastPurchasedAt)
	link.CreatedAt = link.CreatedAt.UTC()
	return &link, nil
}

func (s *Store) ListCatalogLinks(ctx context.Context, ingredientID string) ([]domain.CatalogLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT catalog_item_id, store_ingredient_id, last_purchase_price, last_purchased_at, created_at
		FROM catalog_links
		WHERE ($1 = '' OR store_ingredient_id = $1)
		ORDER BY catalog_item_id ASC
	`, ingredientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := make([]domain.CatalogLink, 0, 4)
	for rows.Next() {
		var (
			link            domain.CatalogLink
			lastPurchasedAt sql.NullTime
		)
		if err := rows.Scan(&link.CatalogItemID, &link.StoreIngredientID, &link.LastPurchasePrice, &lastPurchasedAt, &link.CreatedAt); err != nil {
			return nil, err
		}
		link.LastPurchasedAt = timePtr(lastPurchasedAt)
		link.CreatedAt = link.CreatedAt.UTC()
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return links, nil
}

func (s *Store) RecordLastPurchase(ctx context.Context, catalogItemID string, ingredientID string, price int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_links (catalog_item_id, store_ingredient_id, last_purchase_price, last_purchased_at, created_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (catalog_item_id, store_ingredient_id) DO UPDATE
		SET last_purchase_price = EXCLUDED.last_purchase_price,
			last_purchased_at = EXCLUDED.last_purchased_at
		WHERE catalog_links.last_purchased_at IS NULL
			OR catalog_links.last_purchased_at <= EXCLUDED.last_purchased_at
	`, catalogItemID, ingredientID, price, at.UTC())
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}
