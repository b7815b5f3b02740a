package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"dapurpos/backend/internal/domain"
	"dapurpos/backend/internal/store"
	"dapurpos/backend/internal/xid"
)

// Store keeps everything in process memory. A single mutex guards all maps so
// AppendMovement is atomic with respect to every other call.
type Store struct {
	mu                 sync.RWMutex
	seq                int64
	ingredientsByID    map[string]domain.Ingredient
	accountsByID       map[string]domain.IngredientAccount
	ledger             []domain.LedgerEntry
	ledgerLineKeys     map[string]string
	purchaseOrdersByID map[string]domain.PurchaseOrder
	suppliersByID      map[string]domain.Supplier
	catalogItemsByID   map[string]domain.CatalogItem
	catalogLinks       map[string]domain.CatalogLink
	auditLogs          []domain.AuditLog
	usersByUsername    map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		ingredientsByID:    make(map[string]domain.Ingredient),
		accountsByID:       make(map[string]domain.IngredientAccount),
		ledger:             make([]domain.LedgerEntry, 0, 256),
		ledgerLineKeys:     make(map[string]string),
		purchaseOrdersByID: make(map[string]domain.PurchaseOrder),
		suppliersByID:      make(map[string]domain.Supplier),
		catalogItemsByID:   make(map[string]domain.CatalogItem),
		catalogLinks:       make(map[string]domain.CatalogLink),
		auditLogs:          make([]domain.AuditLog, 0, 128),
		usersByUsername:    make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; the hardcoded defaults are only
// used when those are unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		logrus.WithField("component", "memory-store").
			Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithError(err).Fatalf("hash seed password for %s", u.username)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo ingredients, suppliers and users. Opening
// balances are written as adjustment entries so the ledger always sums to the
// account stock.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	now := time.Now().UTC()

	ingredients := []struct {
		ingredient domain.Ingredient
		stock      int64
		avgCost    int64
	}{
		{domain.Ingredient{ID: "ing-tepung", Name: "Tepung Terigu", BaseUOM: "g", ParLevel: 5000}, 12000, 12},
		{domain.Ingredient{ID: "ing-gula", Name: "Gula Pasir", BaseUOM: "g", ParLevel: 3000}, 2000, 17},
		{domain.Ingredient{ID: "ing-susu", Name: "Susu Segar", BaseUOM: "ml", ParLevel: 4000}, 6000, 21},
		{domain.Ingredient{ID: "ing-kopi", Name: "Biji Kopi Arabika", BaseUOM: "g", ParLevel: 2000}, 1500, 240},
		{domain.Ingredient{ID: "ing-telur", Name: "Telur Ayam", BaseUOM: "pcs", ParLevel: 60}, 0, 0},
	}
	for _, seed := range ingredients {
		seed.ingredient.CreatedAt = now
		s.ingredientsByID[seed.ingredient.ID] = seed.ingredient
		if seed.stock == 0 {
			continue
		}
		s.seq++
		s.ledger = append(s.ledger, domain.LedgerEntry{
			ID:           xid.New("led"),
			Seq:          s.seq,
			IngredientID: seed.ingredient.ID,
			DeltaQty:     seed.stock,
			UOM:          seed.ingredient.BaseUOM,
			Reason:       domain.ReasonAdjustment,
			UnitCost:     seed.avgCost,
			RefType:      domain.RefTypeAdjustment,
			RefID:        "opening-balance",
			Note:         "opening balance",
			OccurredAt:   now,
			RecordedAt:   now,
		})
		s.accountsByID[seed.ingredient.ID] = domain.IngredientAccount{
			IngredientID: seed.ingredient.ID,
			CurrentStock: seed.stock,
			AvgCost:      seed.avgCost,
			Version:      1,
			UpdatedAt:    now,
		}
	}

	s.suppliersByID["sup-sumber-pangan"] = domain.Supplier{ID: "sup-sumber-pangan", Name: "CV Sumber Pangan", Phone: "+62215550101", CreatedAt: now}
	s.suppliersByID["sup-kopi-nusantara"] = domain.Supplier{ID: "sup-kopi-nusantara", Name: "Kopi Nusantara", Phone: "+62215550202", CreatedAt: now}

	catalog := []domain.CatalogItem{
		{ID: "cat-tepung-25kg", SupplierID: "sup-sumber-pangan", Name: "Tepung Terigu Karung", PurchaseUOM: "g", ListPrice: 11},
		{ID: "cat-gula-50kg", SupplierID: "sup-sumber-pangan", Name: "Gula Pasir Karung", PurchaseUOM: "g", ListPrice: 16},
		{ID: "cat-susu-1l", SupplierID: "sup-sumber-pangan", Name: "Susu Segar Liter", PurchaseUOM: "ml", ListPrice: 20},
		{ID: "cat-telur-tray", SupplierID: "sup-sumber-pangan", Name: "Telur Tray", PurchaseUOM: "pcs", ListPrice: 1900},
		{ID: "cat-arabika-1kg", SupplierID: "sup-kopi-nusantara", Name: "Arabika Gayo 1kg", PurchaseUOM: "g", ListPrice: 230},
	}
	links := map[string]string{
		"cat-tepung-25kg": "ing-tepung",
		"cat-gula-50kg":   "ing-gula",
		"cat-susu-1l":     "ing-susu",
		"cat-telur-tray":  "ing-telur",
		"cat-arabika-1kg": "ing-kopi",
	}
	for _, item := range catalog {
		item.CreatedAt = now
		s.catalogItemsByID[item.ID] = item
		ingredientID := links[item.ID]
		s.catalogLinks[linkKey(item.ID, ingredientID)] = domain.CatalogLink{
			CatalogItemID:     item.ID,
			StoreIngredientID: ingredientID,
			CreatedAt:         now,
		}
	}

	return s
}

func (s *Store) CreateIngredient(_ context.Context, ingredient domain.Ingredient) (*domain.Ingredient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ingredient.ID == "" {
		ingredient.ID = xid.New("ing")
	}
	if _, exists := s.ingredientsByID[ingredient.ID]; exists {
		return nil, store.ErrDuplicate
	}
	if ingredient.CreatedAt.IsZero() {
		ingredient.CreatedAt = time.Now().UTC()
	}
	s.ingredientsByID[ingredient.ID] = ingredient
	saved := ingredient
	return &saved, nil
}

func (s *Store) GetIngredient(_ context.Context, ingredientID string) (*domain.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ingredient, exists := s.ingredientsByID[ingredientID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &ingredient, nil
}

func (s *Store) ListIngredients(_ context.Context) ([]domain.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Ingredient, 0, len(s.ingredientsByID))
	for _, ingredient := range s.ingredientsByID {
		result = append(result, ingredient)
	}
	slices.SortFunc(result, func(a, b domain.Ingredient) int {
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) GetAccount(_ context.Context, ingredientID string) (*domain.IngredientAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accountsByID[ingredientID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &account, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]domain.IngredientAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.IngredientAccount, 0, len(s.accountsByID))
	for _, account := range s.accountsByID {
		result = append(result, account)
	}
	slices.SortFunc(result, func(a, b domain.IngredientAccount) int {
		return cmpString(a.IngredientID, b.IngredientID)
	})
	return result, nil
}

func (s *Store) AppendMovement(_ context.Context, draft domain.LedgerEntryDraft, next domain.IngredientAccount, expectedVersion int64) (*domain.LedgerEntry, *domain.IngredientAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ingredientsByID[draft.IngredientID]; !exists {
		return nil, nil, store.ErrNotFound
	}
	var version int64
	if current, exists := s.accountsByID[draft.IngredientID]; exists {
		version = current.Version
	}
	if version != expectedVersion {
		return nil, nil, fmt.Errorf("%w: ingredient %s is at version %d, expected %d",
			store.ErrConcurrentModification, draft.IngredientID, version, expectedVersion)
	}
	key := ""
	if draft.RefLineID != "" {
		key = lineKey(draft.RefType, draft.RefID, draft.RefLineID)
		if existing, dup := s.ledgerLineKeys[key]; dup {
			return nil, nil, fmt.Errorf("%w: %s", store.ErrDuplicateMovement, existing)
		}
	}
	if draft.RefType == domain.RefTypePurchaseOrder {
		po, exists := s.purchaseOrdersByID[draft.RefID]
		if !exists {
			return nil, nil, fmt.Errorf("purchase order %s: %w", draft.RefID, store.ErrNotFound)
		}
		if po.Status != domain.StatusIssued {
			return nil, nil, &domain.InvalidStateError{PurchaseOrderID: po.ID, Status: po.Status, Operation: "received"}
		}
	}

	now := time.Now().UTC()
	s.seq++
	entry := domain.LedgerEntry{
		ID:           xid.New("led"),
		Seq:          s.seq,
		IngredientID: draft.IngredientID,
		DeltaQty:     draft.DeltaQty,
		UOM:          draft.UOM,
		Reason:       draft.Reason,
		UnitCost:     draft.UnitCost,
		RefType:      draft.RefType,
		RefID:        draft.RefID,
		RefLineID:    draft.RefLineID,
		Note:         draft.Note,
		OccurredAt:   draft.OccurredAt,
		RecordedAt:   now,
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = now
	}
	s.ledger = append(s.ledger, entry)
	if key != "" {
		s.ledgerLineKeys[key] = entry.ID
	}

	next.IngredientID = draft.IngredientID
	next.Version = expectedVersion + 1
	next.UpdatedAt = now
	s.accountsByID[draft.IngredientID] = next

	return &entry, &next, nil
}

func (s *Store) ListLedgerByRef(_ context.Context, refType string, refID string) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.LedgerEntry, 0, 8)
	for _, entry := range s.ledger {
		if entry.RefType == refType && entry.RefID == refID {
			result = append(result, entry)
		}
	}
	return result, nil
}

// ListLedgerByIngredient returns entries ordered by (occurredAt, seq). A
// positive limit keeps the latest limit entries.
func (s *Store) ListLedgerByIngredient(_ context.Context, ingredientID string, limit int) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.LedgerEntry, 0, 16)
	for _, entry := range s.ledger {
		if entry.IngredientID == ingredientID {
			result = append(result, entry)
		}
	}
	slices.SortFunc(result, compareLedger)
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func (s *Store) SumLedger(_ context.Context, ingredientID string, until time.Time) (int64, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	count := 0
	for _, entry := range s.ledger {
		if entry.IngredientID != ingredientID {
			continue
		}
		if !until.IsZero() && entry.OccurredAt.After(until) {
			continue
		}
		sum += entry.DeltaQty
		count++
	}
	return sum, count, nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.suppliersByID[po.SupplierID]; !exists {
		return nil, store.ErrNotFound
	}
	if po.ID == "" {
		po.ID = xid.New("po")
	}
	if _, exists := s.purchaseOrdersByID[po.ID]; exists {
		return nil, store.ErrDuplicate
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	if po.Status == "" {
		po.Status = domain.StatusDraft
	}

	s.purchaseOrdersByID[po.ID] = clonePurchaseOrder(po)
	saved := clonePurchaseOrder(po)
	return &saved, nil
}

func (s *Store) GetPurchaseOrder(_ context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, exists := s.purchaseOrdersByID[purchaseOrderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyPO := clonePurchaseOrder(po)
	return &copyPO, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status = strings.ToLower(strings.TrimSpace(status))
	result := make([]domain.PurchaseOrder, 0, len(s.purchaseOrdersByID))
	for _, po := range s.purchaseOrdersByID {
		if status != "" && po.Status != status {
			continue
		}
		result = append(result, clonePurchaseOrder(po))
	}
	slices.SortFunc(result, func(a, b domain.PurchaseOrder) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ReplacePurchaseOrderItems(_ context.Context, purchaseOrderID string, items []domain.LineItem) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, exists := s.purchaseOrdersByID[purchaseOrderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if po.Status != domain.StatusDraft {
		return nil, &domain.InvalidStateError{PurchaseOrderID: po.ID, Status: po.Status, Operation: "edited"}
	}
	po.Items = slices.Clone(items)
	s.purchaseOrdersByID[po.ID] = po
	updated := clonePurchaseOrder(po)
	return &updated, nil
}

func (s *Store) TransitionPurchaseOrder(_ context.Context, purchaseOrderID string, t store.Transition) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, exists := s.purchaseOrdersByID[purchaseOrderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if !slices.Contains(t.From, po.Status) {
		return nil, &domain.InvalidStateError{PurchaseOrderID: po.ID, Status: po.Status, Operation: t.Operation}
	}
	if t.Unreceived {
		if received := s.receivedLines(po.ID); received > 0 {
			return nil, &domain.InvalidStateError{
				PurchaseOrderID: po.ID,
				Status:          po.Status,
				Operation:       t.Operation,
				Detail:          domain.ReceivedStockDetail(received),
			}
		}
	}
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	po.Status = t.To
	switch t.To {
	case domain.StatusIssued:
		po.IssuedAt = &at
	case domain.StatusComplete:
		po.CompletedAt = &at
	case domain.StatusCancelled:
		po.CancelledAt = &at
	}
	s.purchaseOrdersByID[po.ID] = po
	updated := clonePurchaseOrder(po)
	return &updated, nil
}

func (s *Store) DeletePurchaseOrder(_ context.Context, purchaseOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, exists := s.purchaseOrdersByID[purchaseOrderID]
	if !exists {
		return store.ErrNotFound
	}
	if po.Status == domain.StatusComplete {
		return &domain.InvalidStateError{PurchaseOrderID: po.ID, Status: po.Status, Operation: "deleted"}
	}
	if received := s.receivedLines(po.ID); received > 0 {
		return &domain.InvalidStateError{
			PurchaseOrderID: po.ID,
			Status:          po.Status,
			Operation:       "deleted",
			Detail:          domain.ReceivedStockDetail(received),
		}
	}
	delete(s.purchaseOrdersByID, purchaseOrderID)
	return nil
}

// receivedLines counts ledger entries written against a purchase order.
// Callers hold s.mu.
func (s *Store) receivedLines(purchaseOrderID string) int {
	count := 0
	for _, entry := range s.ledger {
		if entry.RefType == domain.RefTypePurchaseOrder && entry.RefID == purchaseOrderID {
			count++
		}
	}
	return count
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliersByID[supplier.ID] = supplier
	copySupplier := supplier
	return &copySupplier, nil
}

func (s *Store) GetSupplier(_ context.Context, supplierID string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, exists := s.suppliersByID[supplierID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, supplier := range s.suppliersByID {
		suppliers = append(suppliers, supplier)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return cmpString(a.Name, b.Name)
	})
	return suppliers, nil
}

func (s *Store) CreateCatalogItem(_ context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.suppliersByID[item.SupplierID]; !exists {
		return nil, store.ErrNotFound
	}
	if item.ID == "" {
		item.ID = xid.New("cat")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.catalogItemsByID[item.ID] = item
	saved := item
	return &saved, nil
}

func (s *Store) GetCatalogItem(_ context.Context, catalogItemID string) (*domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.catalogItemsByID[catalogItemID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) ListCatalogItems(_ context.Context, supplierID string) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CatalogItem, 0, len(s.catalogItemsByID))
	for _, item := range s.catalogItemsByID {
		if supplierID != "" && item.SupplierID != supplierID {
			continue
		}
		result = append(result, item)
	}
	slices.SortFunc(result, func(a, b domain.CatalogItem) int {
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) UpsertCatalogLink(_ context.Context, link domain.CatalogLink) (*domain.CatalogLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.catalogItemsByID[link.CatalogItemID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.ingredientsByID[link.StoreIngredientID]; !exists {
		return nil, store.ErrNotFound
	}
	key := linkKey(link.CatalogItemID, link.StoreIngredientID)
	if existing, exists := s.catalogLinks[key]; exists {
		return cloneCatalogLink(existing), nil
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	s.catalogLinks[key] = link
	return cloneCatalogLink(link), nil
}

func (s *Store) ListCatalogLinks(_ context.Context, ingredientID string) ([]domain.CatalogLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CatalogLink, 0, 4)
	for _, link := range s.catalogLinks {
		if ingredientID != "" && link.StoreIngredientID != ingredientID {
			continue
		}
		result = append(result, *cloneCatalogLink(link))
	}
	slices.SortFunc(result, func(a, b domain.CatalogLink) int {
		return cmpString(a.CatalogItemID, b.CatalogItemID)
	})
	return result, nil
}

func (s *Store) RecordLastPurchase(_ context.Context, catalogItemID string, ingredientID string, price int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.catalogItemsByID[catalogItemID]; !exists {
		return store.ErrNotFound
	}
	key := linkKey(catalogItemID, ingredientID)
	link, exists := s.catalogLinks[key]
	if !exists {
		link = domain.CatalogLink{
			CatalogItemID:     catalogItemID,
			StoreIngredientID: ingredientID,
			CreatedAt:         time.Now().UTC(),
		}
	}
	if link.LastPurchasedAt != nil && link.LastPurchasedAt.After(at) {
		return nil
	}
	purchasedAt := at
	link.LastPurchasePrice = price
	link.LastPurchasedAt = &purchasedAt
	s.catalogLinks[key] = link
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, len(s.auditLogs))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return domain.NewValidationError("username", username, "username and password are required")
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func lineKey(refType, refID, lineID string) string {
	return refType + "|" + refID + "|" + lineID
}

func linkKey(catalogItemID, ingredientID string) string {
	return catalogItemID + "|" + ingredientID
}

func compareLedger(a, b domain.LedgerEntry) int {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		if a.OccurredAt.Before(b.OccurredAt) {
			return -1
		}
		return 1
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return 0
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func clonePurchaseOrder(src domain.PurchaseOrder) domain.PurchaseOrder {
	dup := src
	items := make([]domain.LineItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}

func cloneCatalogLink(src domain.CatalogLink) *domain.CatalogLink {
	dup := src
	if src.LastPurchasedAt != nil {
		at := *src.LastPurchasedAt
		dup.LastPurchasedAt = &at
	}
	return &dup
}
