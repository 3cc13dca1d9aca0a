package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/ec-order-engine/internal/auth"
	"github.com/example/ec-order-engine/internal/domain/inventory"
	"github.com/example/ec-order-engine/internal/domain/order"
	"github.com/example/ec-order-engine/internal/domain/product"
	"github.com/example/ec-order-engine/internal/domain/user"
	"github.com/example/ec-order-engine/internal/infrastructure/store"
	"github.com/example/ec-order-engine/internal/payment"
	"github.com/example/ec-order-engine/internal/service"
)

type testServer struct {
	router   http.Handler
	store    *store.MemoryStore
	verifier *payment.Verifier
	tokens   *auth.TokenService
}

type nopGateway struct{}

func (nopGateway) CreateIntent(ctx context.Context, amountCents int64, currency, orderID string) (*payment.Intent, error) {
	return &payment.Intent{ID: "intent_1", AmountCents: amountCents, Currency: currency}, nil
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemoryStore()
	verifier := payment.NewVerifier("api-test-payment-secret")
	tokens := auth.NewTokenService("api-test-jwt-secret-at-least-32ch", 15*time.Minute)

	svc := service.NewOrderService(service.Options{
		Orders:   mem,
		Products: mem,
		Ledger:   inventory.NewLedger(mem, nil),
		Gateway:  nopGateway{},
		Verifier: verifier,
		Pricing: order.Pricing{
			TaxRatePercent:    18,
			ShippingFeeCents:  10000,
			FreeShippingAbove: 100000,
		},
		Currency: "INR",
	})

	logger := zap.NewNop()
	handlers := NewHandlers(svc, mem, logger)
	authHandlers := NewAuthHandlers(mem, tokens, logger)
	router := NewRouter(handlers, authHandlers, tokens, nil, logger)

	return &testServer{router: router, store: mem, verifier: verifier, tokens: tokens}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) registerUser(t *testing.T, email string) (userID, token string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    email,
		"password": "password123",
		"name":     "Test User",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		User  struct{ ID string } `json:"user"`
		Token string              `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.User.ID, resp.Token
}

func (ts *testServer) adminToken(t *testing.T) string {
	t.Helper()
	hash, err := auth.HashPassword("adminpassword")
	require.NoError(t, err)
	admin, err := user.New("admin-1", fmt.Sprintf("admin-%d@example.com", time.Now().UnixNano()), hash, "Admin", user.RoleAdmin)
	require.NoError(t, err)
	admin.ID = fmt.Sprintf("admin-%d", time.Now().UnixNano())
	require.NoError(t, ts.store.CreateUser(context.Background(), admin))

	token, _, err := ts.tokens.Issue(admin.ID, admin.Email, admin.Role)
	require.NoError(t, err)
	return token
}

func (ts *testServer) seedProduct(t *testing.T, id string, priceCents int64, stock int) {
	t.Helper()
	p, err := product.New(id, "Product "+id, priceCents, stock)
	require.NoError(t, err)
	require.NoError(t, ts.store.PutProduct(context.Background(), p))
}

// ============================================
// Auth
// ============================================

func TestRegister_DuplicateEmail(t *testing.T) {
	ts := newTestServer(t)
	ts.registerUser(t, "dup@example.com")

	rec := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    "dup@example.com",
		"password": "password123",
		"name":     "Someone Else",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegister_ShortPassword(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    "short@example.com",
		"password": "short",
		"name":     "Shorty",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)
	ts.registerUser(t, "login@example.com")

	rec := ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "login@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "token")

	rec = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "login@example.com",
		"password": "wrongpassword",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "nobody@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe(t *testing.T) {
	ts := newTestServer(t)
	userID, token := ts.registerUser(t, "me@example.com")

	rec := ts.do(t, http.MethodGet, "/auth/me", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), userID)
	// The password hash never leaves the server.
	assert.NotContains(t, rec.Body.String(), "password")
}

// ============================================
// Authorization boundaries
// ============================================

func TestOrders_RequireAuth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/orders", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateProduct_RequiresAdmin(t *testing.T) {
	ts := newTestServer(t)
	_, customerToken := ts.registerUser(t, "customer@example.com")

	body := map[string]any{"name": "Widget", "price_cents": 5000, "stock": 10}

	rec := ts.do(t, http.MethodPost, "/products", customerToken, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/products", ts.adminToken(t), body)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestGetOrder_OwnershipBoundary(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProduct(t, "P1", 5000, 5)
	_, ownerToken := ts.registerUser(t, "owner@example.com")
	_, strangerToken := ts.registerUser(t, "stranger@example.com")

	rec := ts.do(t, http.MethodPost, "/orders", ownerToken, map[string]any{
		"lines":            []map[string]any{{"product_id": "P1", "quantity": 1}},
		"shipping_address": "1 Main St",
		"payment_method":   "cash_on_delivery",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Order struct{ ID string } `json:"order"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = ts.do(t, http.MethodGet, "/orders/"+created.Order.ID, ownerToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/orders/"+created.Order.ID, strangerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/orders/"+created.Order.ID, ts.adminToken(t), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ============================================
// Order flow over HTTP
// ============================================

func TestOrderFlow_CreateCancel(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProduct(t, "P1", 5000, 5)
	_, token := ts.registerUser(t, "flow@example.com")

	rec := ts.do(t, http.MethodPost, "/orders", token, map[string]any{
		"lines":            []map[string]any{{"product_id": "P1", "quantity": 2}},
		"shipping_address": "1 Main St",
		"payment_method":   "cash_on_delivery",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Order struct {
			ID            string `json:"id"`
			SubtotalCents int64  `json:"subtotal_cents"`
			Status        string `json:"status"`
		} `json:"order"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, int64(10000), created.Order.SubtotalCents)
	assert.Equal(t, "pending", created.Order.Status)

	// Stock is reserved.
	rec = ts.do(t, http.MethodGet, "/products/P1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p struct {
		Stock int `json:"stock"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, 3, p.Stock)

	rec = ts.do(t, http.MethodPut, "/orders/"+created.Order.ID+"/cancel", token,
		map[string]string{"reason": "changed my mind"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/products/P1", "", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, 5, p.Stock)

	// A second cancel is rejected.
	rec = ts.do(t, http.MethodPut, "/orders/"+created.Order.ID+"/cancel", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProduct(t, "P1", 5000, 1)
	_, token := ts.registerUser(t, "greedy@example.com")

	rec := ts.do(t, http.MethodPost, "/orders", token, map[string]any{
		"lines":            []map[string]any{{"product_id": "P1", "quantity": 3}},
		"shipping_address": "1 Main St",
		"payment_method":   "cash_on_delivery",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient stock")
}

func TestGetOrder_NotFound(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.registerUser(t, "lost@example.com")
	rec := ts.do(t, http.MethodGet, "/orders/does-not-exist", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifyPayment(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProduct(t, "P1", 5000, 5)
	_, token := ts.registerUser(t, "payer@example.com")

	rec := ts.do(t, http.MethodPost, "/orders", token, map[string]any{
		"lines":            []map[string]any{{"product_id": "P1", "quantity": 1}},
		"shipping_address": "1 Main St",
		"payment_method":   "gateway",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Order struct{ ID string } `json:"order"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = ts.do(t, http.MethodPost, "/orders/verify-payment", token, map[string]string{
		"order_id":    created.Order.ID,
		"payment_ref": "pay_1",
		"signature":   "forged",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/orders/verify-payment", token, map[string]string{
		"order_id":    created.Order.ID,
		"payment_ref": "pay_1",
		"signature":   ts.verifier.Sign(created.Order.ID, "pay_1"),
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "completed")
}

func TestAdminEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProduct(t, "P1", 5000, 5)
	userID, token := ts.registerUser(t, "purged@example.com")
	adminToken := ts.adminToken(t)

	rec := ts.do(t, http.MethodPost, "/orders", token, map[string]any{
		"lines":            []map[string]any{{"product_id": "P1", "quantity": 2}},
		"shipping_address": "1 Main St",
		"payment_method":   "cash_on_delivery",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/orders", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/orders", adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/admin/users/"+userID+"/orders", adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted":1`)

	// The pending order's reservation came back with the purge.
	rec = ts.do(t, http.MethodGet, "/products/P1", "", nil)
	var p struct {
		Stock int `json:"stock"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, 5, p.Stock)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
