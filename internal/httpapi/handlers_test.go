package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"dapurpos/backend/internal/domain"
	"dapurpos/backend/internal/inventory"
	"dapurpos/backend/internal/service"
	"dapurpos/backend/internal/store/memory"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestAPI builds a full API with an in-memory store, real Authenticator and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	coord := inventory.NewCoordinator(repo, nil, inventory.WithLogger(quietLogger()))
	svc := service.New(repo, coord, service.WithLogger(quietLogger()))
	auth := NewAuthenticator("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*", quietLogger())
}

func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	payload, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d (body: %s)", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.AccessToken
}

func fetchCSRFToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token: expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf token: %v", err)
	}
	return body["csrf_token"]
}

type client struct {
	t       *testing.T
	handler http.Handler
	token   string
	csrf    string
}

func (c client) do(method, path string, payload any) *httptest.ResponseRecorder {
	c.t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func newClient(t *testing.T, handler http.Handler, username, password string) client {
	t.Helper()
	return client{
		t:       t,
		handler: handler,
		token:   loginAs(t, handler, username, password),
		csrf:    fetchCSRFToken(t, handler),
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (raw: %s)", err, rec.Body.String())
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	handler := newTestAPI(t).Handler()

	token := loginAs(t, handler, "admin", "admin123")
	if token == "" {
		t.Fatalf("expected access token")
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	handler := newTestAPI(t).Handler()

	payload, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestIngredientsRequireAuth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ingredients", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStaffRoutesAndAdminRoutes(t *testing.T) {
	handler := newTestAPI(t).Handler()
	staff := newClient(t, handler, "staff", "staff123")

	rec := staff.do(http.MethodGet, "/api/v1/ingredients", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("staff list ingredients: expected 200, got %d", rec.Code)
	}
	listed := decodeBody[map[string][]domain.IngredientWithAccount](t, rec)
	if len(listed["ingredients"]) != 5 {
		t.Fatalf("expected 5 seeded ingredients, got %d", len(listed["ingredients"]))
	}

	rec = staff.do(http.MethodGet, "/api/v1/purchase-orders", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff list purchase orders: expected 403, got %d", rec.Code)
	}

	rec = staff.do(http.MethodPost, "/api/v1/stock-movements", domain.StockMovementRequest{
		IngredientID: "ing-tepung",
		DeltaQty:     -250,
		Reason:       domain.ReasonSale,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("staff sale: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	moved := decodeBody[domain.StockMovementResponse](t, rec)
	if moved.Account.CurrentStock != 11750 {
		t.Fatalf("expected tepung stock 11750, got %d", moved.Account.CurrentStock)
	}

	rec = staff.do(http.MethodPost, "/api/v1/stock-movements", domain.StockMovementRequest{
		IngredientID: "ing-tepung",
		DeltaQty:     100,
		Reason:       "adjustment",
		UnitCost:     12,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff adjustment: expected 403, got %d", rec.Code)
	}
}

func TestPurchaseOrderFlowOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := newClient(t, handler, "admin", "admin123")

	rec := admin.do(http.MethodPost, "/api/v1/purchase-orders", domain.PurchaseOrderCreateRequest{
		SupplierID: "sup-sumber-pangan",
		Items: []domain.LineItemRequest{
			{StoreIngredientID: "ing-gula", CatalogItemID: "cat-gula-50kg", Qty: 2000, Price: 20},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	created := decodeBody[domain.PurchaseOrderResponse](t, rec)
	poPath := "/api/v1/purchase-orders/" + created.PurchaseOrder.ID

	rec = admin.do(http.MethodPost, poPath+"/complete", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("complete draft: expected 409, got %d", rec.Code)
	}

	rec = admin.do(http.MethodPost, poPath+"/issue", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("issue: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = admin.do(http.MethodPost, poPath+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	first := decodeBody[domain.CompletionResult](t, rec)
	if first.AlreadyComplete || len(first.AppliedLines) != 1 {
		t.Fatalf("unexpected first completion %+v", first)
	}

	rec = admin.do(http.MethodPost, poPath+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second complete: expected 200, got %d", rec.Code)
	}
	second := decodeBody[domain.CompletionResult](t, rec)
	if !second.AlreadyComplete {
		t.Fatalf("expected already_complete on second call")
	}

	rec = admin.do(http.MethodGet, "/api/v1/ingredients/ing-gula/account", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("account: expected 200, got %d", rec.Code)
	}
	account := decodeBody[map[string]domain.IngredientAccount](t, rec)["account"]
	if account.CurrentStock != 4000 || account.AvgCost != 19 {
		t.Fatalf("expected 4000 @ 19, got %d @ %d", account.CurrentStock, account.AvgCost)
	}

	rec = admin.do(http.MethodGet, poPath+"/ledger", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("po ledger: expected 200, got %d", rec.Code)
	}
	entries := decodeBody[map[string][]domain.LedgerEntry](t, rec)["entries"]
	if len(entries) != 1 || entries[0].DeltaQty != 2000 {
		t.Fatalf("expected a single +2000 entry, got %+v", entries)
	}

	rec = admin.do(http.MethodDelete, poPath, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete complete order: expected 409, got %d", rec.Code)
	}
	errBody := decodeBody[errorResponse](t, rec)
	if errBody.Kind != "invalid_state" || errBody.EntityID != created.PurchaseOrder.ID {
		t.Fatalf("unexpected error body %+v", errBody)
	}
}

func TestDeleteDraftPurchaseOrder(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := newClient(t, handler, "admin", "admin123")

	rec := admin.do(http.MethodPost, "/api/v1/purchase-orders", domain.PurchaseOrderCreateRequest{
		SupplierID: "sup-kopi-nusantara",
		Items: []domain.LineItemRequest{
			{StoreIngredientID: "ing-kopi", CatalogItemID: "cat-arabika-1kg", Qty: 1000, Price: 250},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	created := decodeBody[domain.PurchaseOrderResponse](t, rec)
	poPath := "/api/v1/purchase-orders/" + created.PurchaseOrder.ID

	if rec := admin.do(http.MethodDelete, poPath, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	if rec := admin.do(http.MethodGet, poPath, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", rec.Code)
	}
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := newClient(t, handler, "admin", "admin123")

	rec := admin.do(http.MethodGet, "/api/v1/purchase-orders/po-missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing po: expected 404, got %d", rec.Code)
	}
	if body := decodeBody[errorResponse](t, rec); body.Kind != "not_found" {
		t.Fatalf("expected not_found kind, got %q", body.Kind)
	}

	rec = admin.do(http.MethodPost, "/api/v1/purchase-orders", domain.PurchaseOrderCreateRequest{
		SupplierID: "sup-sumber-pangan",
		Items:      []domain.LineItemRequest{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty items: expected 400, got %d", rec.Code)
	}
	if body := decodeBody[errorResponse](t, rec); body.Kind != "validation" || body.Field != "items" {
		t.Fatalf("unexpected validation body %+v", body)
	}

	rec = admin.do(http.MethodPost, "/api/v1/stock-movements", domain.StockMovementRequest{
		IngredientID: "ing-kopi",
		DeltaQty:     -999999,
		Reason:       domain.ReasonSale,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("oversell: expected 422, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[errorResponse](t, rec)
	if body.Kind != "invariant_violation" || body.EntityID != "ing-kopi" || body.Retryable {
		t.Fatalf("unexpected invariant body %+v", body)
	}

	lastWeek := time.Now().UTC().Add(-7 * 24 * time.Hour)
	nextWeek := time.Now().UTC().Add(7 * 24 * time.Hour)
	for _, when := range []time.Time{lastWeek, nextWeek} {
		rec = admin.do(http.MethodPost, "/api/v1/stock-movements", domain.StockMovementRequest{
			IngredientID: "ing-kopi",
			DeltaQty:     -100,
			Reason:       domain.ReasonSale,
			OccurredAt:   &when,
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("sale at %s: expected 400, got %d (body: %s)", when, rec.Code, rec.Body.String())
		}
		if body := decodeBody[errorResponse](t, rec); body.Field != "occurred_at" {
			t.Fatalf("expected field occurred_at, got %q", body.Field)
		}
	}

	rec = admin.do(http.MethodGet, "/api/v1/ingredients/ing-kopi/stock-at?at=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad at: expected 400, got %d", rec.Code)
	}
	if body := decodeBody[errorResponse](t, rec); body.Field != "at" {
		t.Fatalf("expected field at, got %q", body.Field)
	}

	rec = admin.do(http.MethodPost, "/api/v1/purchase-orders", map[string]any{"supplier": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", rec.Code)
	}
}

func TestStockAtAndReconcile(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := newClient(t, handler, "admin", "admin123")

	at := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	rec := admin.do(http.MethodGet, "/api/v1/ingredients/ing-susu/stock-at?at="+at, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stock-at: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if resp := decodeBody[domain.StockAtResponse](t, rec); resp.Stock != 6000 {
		t.Fatalf("expected susu stock 6000, got %d", resp.Stock)
	}

	rec = admin.do(http.MethodGet, "/api/v1/ingredients/ing-susu/reconcile", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile: expected 200, got %d", rec.Code)
	}
	if result := decodeBody[domain.ReconcileResult](t, rec); result.Drift != 0 {
		t.Fatalf("expected no drift, got %+v", result)
	}
}

func TestValuationReportFormats(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := newClient(t, handler, "admin", "admin123")

	rec := admin.do(http.MethodGet, "/api/v1/reports/valuation", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("valuation: expected 200, got %d", rec.Code)
	}
	report := decodeBody[domain.ValuationReport](t, rec)
	if report.TotalValue != 664000 {
		t.Fatalf("expected total value 664000, got %d", report.TotalValue)
	}

	rec = admin.do(http.MethodGet, "/api/v1/reports/valuation?format=xlsx", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("valuation xlsx: expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != xlsxContentType {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, ".xlsx") {
		t.Fatalf("unexpected content disposition %q", got)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected zip payload")
	}

	rec = admin.do(http.MethodGet, "/api/v1/reports/valuation?format=pdf", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown format: expected 400, got %d", rec.Code)
	}
}

func TestStaffAdministration(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := newClient(t, handler, "admin", "admin123")

	rec := admin.do(http.MethodPost, "/api/v1/users/staff", domain.StaffCreateRequest{Username: "barista", Password: "kopi1234"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create staff: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = admin.do(http.MethodPost, "/api/v1/users/staff", domain.StaffCreateRequest{Username: "barista", Password: "kopi1234"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate staff: expected 409, got %d", rec.Code)
	}

	rec = admin.do(http.MethodGet, "/api/v1/users/staff", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list staff: expected 200, got %d", rec.Code)
	}
	listed := decodeBody[map[string][]domain.StaffUser](t, rec)["staff"]
	found := false
	for _, user := range listed {
		if user.Username == "admin" {
			t.Fatalf("admin must not be listed as staff")
		}
		if user.Username == "barista" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected barista in %+v", listed)
	}

	loginAs(t, handler, "barista", "kopi1234")
}
