package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"log/slog"

	"github.com/maelisc/boutique/internal/config"
	"github.com/maelisc/boutique/internal/domain"
	"github.com/maelisc/boutique/internal/repository"
	"github.com/maelisc/boutique/internal/service/auth"
	"github.com/maelisc/boutique/internal/service/catalog"
	"github.com/maelisc/boutique/internal/service/order"
	"github.com/maelisc/boutique/internal/ws"
)

// memoryStore implements every repository interface for handler tests. WithTx
// snapshots and restores on failure, mirroring the transactional store.
type memoryStore struct {
	users         map[string]*domain.User
	products      map[int64]*domain.Product
	variants      map[int64]*domain.Variant
	orders        map[int64]*domain.Order
	items         []domain.OrderItem
	nextUserID    int64
	nextProductID int64
	nextVariantID int64
	nextOrderID   int64
	nextItemID    int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:    make(map[string]*domain.User),
		products: make(map[int64]*domain.Product),
		variants: make(map[int64]*domain.Variant),
		orders:   make(map[int64]*domain.Order),
	}
}

var (
	_ repository.UserRepository    = (*memoryStore)(nil)
	_ repository.ProductRepository = (*memoryStore)(nil)
	_ repository.OrderRepository   = (*memoryStore)(nil)
)

func (s *memoryStore) CreateUser(_ context.Context, username string, passwordHash []byte) (*domain.User, error) {
	if _, ok := s.users[username]; ok {
		return nil, repository.ErrDuplicate
	}
	s.nextUserID++
	user := &domain.User{
		ID:           s.nextUserID,
		Username:     username,
		PasswordHash: passwordHash,
		IsAdmin:      len(s.users) == 0,
		CreatedAt:    time.Now(),
	}
	s.users[username] = user
	copied := *user
	return &copied, nil
}

func (s *memoryStore) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	user, ok := s.users[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *memoryStore) CreateProduct(_ context.Context, product *domain.Product) error {
	s.nextProductID++
	product.ID = s.nextProductID
	copied := *product
	s.products[product.ID] = &copied
	return nil
}

func (s *memoryStore) GetProductByID(_ context.Context, id int64) (*domain.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *p
	for _, v := range s.variants {
		if v.ProductID == id {
			copied.Variants = append(copied.Variants, *v)
		}
	}
	return &copied, nil
}

func (s *memoryStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	for id := range s.products {
		p, err := s.GetProductByID(ctx, id)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, nil
}

func (s *memoryStore) UpdateProduct(_ context.Context, product *domain.Product) error {
	if _, ok := s.products[product.ID]; !ok {
		return repository.ErrNotFound
	}
	copied := *product
	copied.Variants = nil
	s.products[product.ID] = &copied
	return nil
}

func (s *memoryStore) DeleteProduct(_ context.Context, id int64) error {
	if _, ok := s.products[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *memoryStore) CreateVariant(_ context.Context, variant *domain.Variant) error {
	s.nextVariantID++
	variant.ID = s.nextVariantID
	copied := *variant
	s.variants[variant.ID] = &copied
	return nil
}

func (s *memoryStore) GetVariantByID(_ context.Context, id int64) (*domain.Variant, error) {
	v, ok := s.variants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *v
	return &copied, nil
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	variants := make(map[int64]*domain.Variant, len(s.variants))
	for id, v := range s.variants {
		copied := *v
		variants[id] = &copied
	}
	orders := make(map[int64]*domain.Order, len(s.orders))
	for id, o := range s.orders {
		copied := *o
		orders[id] = &copied
	}
	items := append([]domain.OrderItem(nil), s.items...)
	nextOrderID, nextItemID := s.nextOrderID, s.nextItemID

	if err := fn(ctx); err != nil {
		s.variants = variants
		s.orders = orders
		s.items = items
		s.nextOrderID, s.nextItemID = nextOrderID, nextItemID
		return err
	}
	return nil
}

func (s *memoryStore) CreateOrder(_ context.Context, o *domain.Order) error {
	s.nextOrderID++
	o.ID = s.nextOrderID
	o.CreatedAt = time.Now()
	copied := *o
	s.orders[o.ID] = &copied
	return nil
}

func (s *memoryStore) GetVariantForUpdate(ctx context.Context, variantID int64) (*domain.Variant, error) {
	return s.GetVariantByID(ctx, variantID)
}

func (s *memoryStore) DecrementVariantStock(_ context.Context, variantID int64, quantity int) error {
	v, ok := s.variants[variantID]
	if !ok || v.StockQuantity < quantity {
		return domain.ErrInsufficientStock
	}
	v.StockQuantity -= quantity
	return nil
}

func (s *memoryStore) CreateOrderItem(_ context.Context, item *domain.OrderItem) error {
	s.nextItemID++
	item.ID = s.nextItemID
	s.items = append(s.items, *item)
	return nil
}

func (s *memoryStore) GetOrderByID(_ context.Context, orderID int64) (*domain.Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *o
	for _, item := range s.items {
		if item.OrderID == orderID {
			withVariant := item
			if v, ok := s.variants[item.VariantID]; ok {
				copiedVariant := *v
				withVariant.Variant = &copiedVariant
			}
			copied.Items = append(copied.Items, withVariant)
		}
	}
	return &copied, nil
}

func (s *memoryStore) ListOrdersByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	var orders []domain.Order
	for id, o := range s.orders {
		if o.UserID != userID {
			continue
		}
		full, err := s.GetOrderByID(ctx, id)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *full)
	}
	return orders, nil
}

func (s *memoryStore) ListOrders(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	for id, o := range s.orders {
		full, err := s.GetOrderByID(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, u := range s.users {
			if u.ID == o.UserID {
				owner := *u
				full.User = &owner
				break
			}
		}
		orders = append(orders, *full)
	}
	return orders, nil
}

func (s *memoryStore) UpdateOrderStatus(_ context.Context, orderID int64, status string) error {
	o, ok := s.orders[orderID]
	if !ok {
		return repository.ErrNotFound
	}
	o.Status = status
	return nil
}

func newTestRouter(t *testing.T) (*Router, *memoryStore) {
	t.Helper()
	store := newMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.APIConfig{JWTSecret: "router-test-secret", AccessTokenTTL: 30 * time.Minute}

	authSvc := auth.New(store, log, cfg)
	catalogSvc := catalog.New(store, log)
	orderSvc := order.New(store, log, nil)
	return NewRouter(log, authSvc, catalogSvc, orderSvc, ws.NewHub(), nil), store
}

func doJSON(t *testing.T, router *Router, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func signupAndLogin(t *testing.T, router *Router, username, password string) string {
	t.Helper()
	if rec := doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{
		"username": username, "password": password,
	}); rec.Code != http.StatusCreated {
		t.Fatalf("signup %s: status %d body %s", username, rec.Code, rec.Body.String())
	}
	rec := doJSON(t, router, http.MethodPost, "/auth/login", "", map[string]string{
		"username": username, "password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, rec.Code, rec.Body.String())
	}
	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	decodeBody(t, rec, &payload)
	if payload.TokenType != "bearer" || payload.AccessToken == "" {
		t.Fatalf("unexpected login payload: %+v", payload)
	}
	return payload.AccessToken
}

func seedVariant(t *testing.T, router *Router, token string, stock int) int64 {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/products", token, map[string]any{
		"name": "Robe Courte", "description": "robe d'ete",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: status %d body %s", rec.Code, rec.Body.String())
	}
	var product struct {
		ID int64 `json:"id"`
	}
	decodeBody(t, rec, &product)

	rec = doJSON(t, router, http.MethodPost, "/variants", token, map[string]any{
		"product_id":     product.ID,
		"size":           "S",
		"color":          "kaki",
		"price":          25.99,
		"source_url":     "https://supplier.example/item/42",
		"stock_quantity": stock,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create variant: status %d body %s", rec.Code, rec.Body.String())
	}
	var variant struct {
		ID int64 `json:"id"`
	}
	decodeBody(t, rec, &variant)
	return variant.ID
}

func TestSignupFirstUserIsAdmin(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{
		"username": "madjiguene", "password": "pass",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	var first struct {
		IsAdmin bool `json:"is_admin"`
	}
	decodeBody(t, rec, &first)
	if !first.IsAdmin {
		t.Fatalf("expected first signup to be admin")
	}

	rec = doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{
		"username": "awa", "password": "pass",
	})
	var second struct {
		IsAdmin bool `json:"is_admin"`
	}
	decodeBody(t, rec, &second)
	if second.IsAdmin {
		t.Fatalf("expected second signup to not be admin")
	}

	rec = doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{
		"username": "awa", "password": "other",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", rec.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	router, _ := newTestRouter(t)
	signupAndLogin(t, router, "marie", "good-pass")

	rec := doJSON(t, router, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "marie", "password": "bad-pass",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("expected WWW-Authenticate header")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/products", "", map[string]any{"name": "Robe"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/orders", "not-a-token", map[string]any{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", rec.Code)
	}
}

func TestPublicProductViewHidesStockAndSource(t *testing.T) {
	router, _ := newTestRouter(t)
	token := signupAndLogin(t, router, "admin", "pass")
	seedVariant(t, router, token, 5)

	rec := doJSON(t, router, http.MethodGet, "/products", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var products []map[string]any
	decodeBody(t, rec, &products)
	if len(products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(products))
	}
	variants, ok := products[0]["variants"].([]any)
	if !ok || len(variants) != 1 {
		t.Fatalf("expected 1 variant: %+v", products[0])
	}
	variant := variants[0].(map[string]any)
	if _, leaked := variant["stock_quantity"]; leaked {
		t.Fatalf("public view must not expose stock_quantity: %+v", variant)
	}
	if _, leaked := variant["source_url"]; leaked {
		t.Fatalf("public view must not expose source_url: %+v", variant)
	}
}

func TestPlaceOrderFlow(t *testing.T) {
	router, store := newTestRouter(t)
	token := signupAndLogin(t, router, "admin", "pass")
	variantID := seedVariant(t, router, token, 5)

	rec := doJSON(t, router, http.MethodPost, "/orders", token, map[string]any{
		"items": []map[string]any{{"variant_id": variantID, "quantity": 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("place order: status %d body %s", rec.Code, rec.Body.String())
	}
	var placed struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
		Items  []struct {
			VariantID int64 `json:"variant_id"`
			Quantity  int   `json:"quantity"`
		} `json:"items"`
	}
	decodeBody(t, rec, &placed)
	if placed.Status != "pending" {
		t.Fatalf("unexpected status %q", placed.Status)
	}
	if len(placed.Items) != 1 || placed.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items: %+v", placed.Items)
	}
	if got := store.variants[variantID].StockQuantity; got != 3 {
		t.Fatalf("expected stock 3 after placement, got %d", got)
	}

	rec = doJSON(t, router, http.MethodGet, "/orders/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("orders/me: status %d", rec.Code)
	}
	var mine []map[string]any
	decodeBody(t, rec, &mine)
	if len(mine) != 1 {
		t.Fatalf("expected 1 order, got %d", len(mine))
	}
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	router, store := newTestRouter(t)
	token := signupAndLogin(t, router, "admin", "pass")
	okVariant := seedVariant(t, router, token, 5)
	lowVariant := seedVariant(t, router, token, 1)

	rec := doJSON(t, router, http.MethodPost, "/orders", token, map[string]any{
		"items": []map[string]any{
			{"variant_id": okVariant, "quantity": 2},
			{"variant_id": lowVariant, "quantity": 100},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body %s", rec.Code, rec.Body.String())
	}
	if got := store.variants[okVariant].StockQuantity; got != 5 {
		t.Fatalf("expected no partial decrement, stock %d", got)
	}
	if len(store.orders) != 0 {
		t.Fatalf("expected no order to remain")
	}
}

func TestPlaceOrderUnknownVariant(t *testing.T) {
	router, store := newTestRouter(t)
	token := signupAndLogin(t, router, "admin", "pass")

	rec := doJSON(t, router, http.MethodPost, "/orders", token, map[string]any{
		"items": []map[string]any{{"variant_id": 12345, "quantity": 1}},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body %s", rec.Code, rec.Body.String())
	}
	if len(store.orders) != 0 {
		t.Fatalf("expected no order to remain")
	}
}

func TestAdminOrderRoutes(t *testing.T) {
	router, _ := newTestRouter(t)
	adminToken := signupAndLogin(t, router, "admin", "pass")
	customerToken := signupAndLogin(t, router, "customer", "pass")
	variantID := seedVariant(t, router, adminToken, 10)

	rec := doJSON(t, router, http.MethodPost, "/orders", customerToken, map[string]any{
		"items": []map[string]any{{"variant_id": variantID, "quantity": 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("place order: status %d", rec.Code)
	}
	var placed struct {
		ID int64 `json:"id"`
	}
	decodeBody(t, rec, &placed)

	// Listing every order is an admin surface.
	if rec := doJSON(t, router, http.MethodGet, "/orders", customerToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/orders", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list: status %d", rec.Code)
	}
	var all []map[string]any
	decodeBody(t, rec, &all)
	if len(all) != 1 {
		t.Fatalf("expected 1 order, got %d", len(all))
	}
	owner, ok := all[0]["user"].(map[string]any)
	if !ok || owner["username"] != "customer" {
		t.Fatalf("admin view should include the owner: %+v", all[0])
	}

	path := fmt.Sprintf("/orders/%d", placed.ID)
	if rec := doJSON(t, router, http.MethodPatch, path, customerToken, map[string]string{"status": "shipped"}); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin patch, got %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPatch, path, adminToken, map[string]string{"status": "shipped"})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin patch: status %d body %s", rec.Code, rec.Body.String())
	}
	var updated struct {
		Status string `json:"status"`
	}
	decodeBody(t, rec, &updated)
	if updated.Status != "shipped" {
		t.Fatalf("unexpected status %q", updated.Status)
	}

	if rec := doJSON(t, router, http.MethodPatch, "/orders/9999", adminToken, map[string]string{"status": "shipped"}); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown order, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var payload struct {
		Status string `json:"status"`
	}
	decodeBody(t, rec, &payload)
	if payload.Status != "ok" {
		t.Fatalf("unexpected health status %q", payload.Status)
	}
}
