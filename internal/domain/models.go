package domain

import "time"

const (
	StatusDraft     = "draft"
	StatusIssued    = "issued"
	StatusComplete  = "complete"
	StatusCancelled = "cancelled"
)

const (
	ReasonPurchaseOrder = "po"
	ReasonAdjustment    = "adjustment"
	ReasonSale          = "sale"
	ReasonVoid          = "void"
)

const (
	RefTypePurchaseOrder = "purchase_order"
	RefTypeAdjustment    = "stock_adjustment"
	RefTypeSale          = "sale"
)

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

type Ingredient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BaseUOM   string    `json:"base_uom"`
	ParLevel  int64     `json:"par_level"`
	CreatedAt time.Time `json:"created_at"`
}

type IngredientCreateRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	BaseUOM  string `json:"base_uom" validate:"required,max=16"`
	ParLevel int64  `json:"par_level" validate:"gte=0"`
}

// IngredientAccount is the projected stock and weighted-average cost of one
// ingredient. Version increases by one with every committed movement.
type IngredientAccount struct {
	IngredientID string    `json:"ingredient_id"`
	CurrentStock int64     `json:"current_stock"`
	AvgCost      int64     `json:"avg_cost"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type IngredientWithAccount struct {
	Ingredient
	CurrentStock int64 `json:"current_stock"`
	AvgCost      int64 `json:"avg_cost"`
}

type LedgerEntryDraft struct {
	IngredientID string
	DeltaQty     int64
	UOM          string
	Reason       string
	UnitCost     int64
	RefType      string
	RefID        string
	RefLineID    string
	Note         string
	OccurredAt   time.Time
}

type LedgerEntry struct {
	ID           string    `json:"id"`
	Seq          int64     `json:"seq"`
	IngredientID string    `json:"ingredient_id"`
	DeltaQty     int64     `json:"delta_qty"`
	UOM          string    `json:"uom"`
	Reason       string    `json:"reason"`
	UnitCost     int64     `json:"unit_cost"`
	RefType      string    `json:"ref_type"`
	RefID        string    `json:"ref_id"`
	RefLineID    string    `json:"ref_line_id,omitempty"`
	Note         string    `json:"note,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
	RecordedAt   time.Time `json:"recorded_at"`
}

type LineItem struct {
	ID                string `json:"id"`
	StoreIngredientID string `json:"store_ingredient_id"`
	CatalogItemID     string `json:"catalog_item_id"`
	Qty               int64  `json:"qty"`
	Price             int64  `json:"price"`
	BaseUOM           string `json:"base_uom"`
}

type PurchaseOrder struct {
	ID          string     `json:"id"`
	SupplierID  string     `json:"supplier_id"`
	Status      string     `json:"status"`
	Note        string     `json:"note,omitempty"`
	Items       []LineItem `json:"items"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	IssuedAt    *time.Time `json:"issued_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// TotalCost is the sum of qty*price over all lines.
func (po PurchaseOrder) TotalCost() int64 {
	var total int64
	for _, item := range po.Items {
		total += item.Qty * item.Price
	}
	return total
}

type LineItemRequest struct {
	StoreIngredientID string `json:"store_ingredient_id" validate:"required"`
	CatalogItemID     string `json:"catalog_item_id" validate:"required"`
	Qty               int64  `json:"qty" validate:"gt=0"`
	Price             int64  `json:"price" validate:"gte=0"`
	BaseUOM           string `json:"base_uom"`
}

type PurchaseOrderCreateRequest struct {
	SupplierID string            `json:"supplier_id" validate:"required"`
	Note       string            `json:"note" validate:"max=500"`
	Items      []LineItemRequest `json:"items" validate:"required,min=1,dive,required"`
}

type PurchaseOrderItemsUpdateRequest struct {
	Items []LineItemRequest `json:"items" validate:"required,min=1,dive,required"`
}

type PurchaseOrderResponse struct {
	PurchaseOrder PurchaseOrder `json:"purchase_order"`
}

type PurchaseOrderListResponse struct {
	PurchaseOrders []PurchaseOrder `json:"purchase_orders"`
}

// CompletionResult reports what a completion call did. AppliedLines lists the
// line ids written by this call; SkippedLines were already in the ledger.
type CompletionResult struct {
	PurchaseOrder   PurchaseOrder `json:"purchase_order"`
	AppliedLines    []string      `json:"applied_lines"`
	SkippedLines    []string      `json:"skipped_lines"`
	AlreadyComplete bool          `json:"already_complete"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Phone string `json:"phone" validate:"max=32"`
}

type CatalogItem struct {
	ID          string    `json:"id"`
	SupplierID  string    `json:"supplier_id"`
	Name        string    `json:"name"`
	PurchaseUOM string    `json:"purchase_uom"`
	ListPrice   int64     `json:"list_price"`
	CreatedAt   time.Time `json:"created_at"`
}

type CatalogItemCreateRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	PurchaseUOM string `json:"purchase_uom" validate:"required,max=16"`
	ListPrice   int64  `json:"list_price" validate:"gte=0"`
}

// CatalogLink pairs a supplier catalog item with the store ingredient it
// replenishes and remembers the most recent completed purchase.
type CatalogLink struct {
	CatalogItemID     string     `json:"catalog_item_id"`
	StoreIngredientID string     `json:"store_ingredient_id"`
	LastPurchasePrice int64      `json:"last_purchase_price"`
	LastPurchasedAt   *time.Time `json:"last_purchased_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type CatalogLinkRequest struct {
	CatalogItemID     string `json:"catalog_item_id" validate:"required"`
	StoreIngredientID string `json:"store_ingredient_id" validate:"required"`
}

type StockMovementRequest struct {
	IngredientID string     `json:"ingredient_id" validate:"required"`
	DeltaQty     int64      `json:"delta_qty" validate:"ne=0"`
	UOM          string     `json:"uom"`
	Reason       string     `json:"reason" validate:"required,oneof=adjustment sale void"`
	UnitCost     int64      `json:"unit_cost" validate:"gte=0"`
	RefID        string     `json:"ref_id"`
	Note         string     `json:"note" validate:"max=500"`
	OccurredAt   *time.Time `json:"occurred_at,omitempty"`
}

type StockMovementResponse struct {
	Account IngredientAccount `json:"account"`
	Entry   LedgerEntry       `json:"entry"`
}

type ValuationLine struct {
	IngredientID string `json:"ingredient_id"`
	Name         string `json:"name"`
	BaseUOM      string `json:"base_uom"`
	CurrentStock int64  `json:"current_stock"`
	AvgCost      int64  `json:"avg_cost"`
	Value        int64  `json:"value"`
}

type ValuationReport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Lines       []ValuationLine `json:"lines"`
	TotalValue  int64           `json:"total_value"`
}

type ReorderSuggestion struct {
	IngredientID   string `json:"ingredient_id"`
	Name           string `json:"name"`
	BaseUOM        string `json:"base_uom"`
	CurrentStock   int64  `json:"current_stock"`
	ParLevel       int64  `json:"par_level"`
	RecommendedQty int64  `json:"recommended_qty"`
	AvgCost        int64  `json:"avg_cost"`
	EstimatedCost  int64  `json:"estimated_cost"`
}

type ReorderSuggestionResponse struct {
	GeneratedAt string              `json:"generated_at"`
	Suggestions []ReorderSuggestion `json:"suggestions"`
}

type ReconcileResult struct {
	IngredientID string `json:"ingredient_id"`
	AccountStock int64  `json:"account_stock"`
	LedgerStock  int64  `json:"ledger_stock"`
	Drift        int64  `json:"drift"`
	Entries      int    `json:"entries"`
}

type StockAtResponse struct {
	IngredientID string    `json:"ingredient_id"`
	At           time.Time `json:"at"`
	Stock        int64     `json:"stock"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
