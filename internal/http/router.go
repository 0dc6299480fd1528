package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maelisc/boutique/internal/domain"
	"github.com/maelisc/boutique/internal/service/auth"
	"github.com/maelisc/boutique/internal/service/catalog"
	"github.com/maelisc/boutique/internal/service/order"
	"github.com/maelisc/boutique/internal/ws"
)

const healthCheckTimeout = 2 * time.Second

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	auth      auth.Service
	catalog   catalog.Service
	orders    order.Service
	upgrader  websocket.Upgrader
	ordersHub *ws.Hub
	dbHealth  func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, catalogSvc catalog.Service, orderSvc order.Service, ordersHub *ws.Hub, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		auth:    authSvc,
		catalog: catalogSvc,
		orders:  orderSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ordersHub: ordersHub,
		dbHealth:  dbHealth,
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit("/auth/signup", r.handleSignup))
	r.mux.HandleFunc("/auth/login", r.audit("/auth/login", r.handleLogin))
	r.mux.HandleFunc("/products", r.audit("/products", r.handleProducts))
	r.mux.HandleFunc("/products/", r.audit("/products/{id}", r.handleProductByID))
	r.mux.HandleFunc("/variants", r.audit("/variants", r.handleVariants))
	r.mux.HandleFunc("/variants/", r.audit("/variants/{id}", r.handleVariantByID))
	r.mux.HandleFunc("/orders", r.audit("/orders", r.handleOrders))
	r.mux.HandleFunc("/orders/me", r.audit("/orders/me", r.requireAuth(r.handleMyOrders)))
	r.mux.HandleFunc("/orders/", r.audit("/orders/{id}", r.requireAdmin(r.handleOrderByID)))
	r.mux.HandleFunc("/ws/orders", r.audit("/ws/orders", r.requireAdmin(r.handleOrdersWS)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := r.auth.Register(req.Context(), payload.Username, payload.Password)
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserView(user))
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, err := r.auth.Login(req.Context(), payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredential) {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
		r.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token.AccessToken,
		"token_type":   token.TokenType,
		"expires_in":   int(token.ExpiresIn.Seconds()),
	})
}

func (r *Router) handleProducts(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		products, err := r.catalog.ListProducts(req.Context())
		if err != nil {
			r.respondServiceError(w, err)
			return
		}
		views := make([]productView, 0, len(products))
		for _, p := range products {
			views = append(views, toProductView(p))
		}
		writeJSON(w, http.StatusOK, views)
	case http.MethodPost:
		r.requireAuth(r.handleCreateProduct)(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleCreateProduct(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		ImageURLs   []string `json:"image_urls"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	product, err := r.catalog.CreateProduct(req.Context(), payload.Name, payload.Description, payload.ImageURLs)
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductView(*product))
}

func (r *Router) handleProductByID(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req.URL.Path, "/products/")
	if !ok {
		return
	}
	switch req.Method {
	case http.MethodGet:
		product, err := r.catalog.GetProduct(req.Context(), id)
		if err != nil {
			r.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toProductView(*product))
	case http.MethodPatch:
		r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
			r.handleUpdateProduct(w, req, id)
		})(w, req)
	case http.MethodDelete:
		r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
			if err := r.catalog.DeleteProduct(req.Context(), id); err != nil {
				r.respondServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
		})(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleUpdateProduct(w http.ResponseWriter, req *http.Request, id int64) {
	var payload struct {
		Name        *string   `json:"name"`
		Description *string   `json:"description"`
		ImageURLs   *[]string `json:"image_urls"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	product, err := r.catalog.UpdateProduct(req.Context(), id, catalog.ProductUpdate{
		Name:        payload.Name,
		Description: payload.Description,
		ImageURLs:   payload.ImageURLs,
	})
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductView(*product))
}

func (r *Router) handleVariants(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
		var payload struct {
			ProductID     int64   `json:"product_id"`
			Size          string  `json:"size"`
			Color         string  `json:"color"`
			Price         float64 `json:"price"`
			SourceURL     string  `json:"source_url"`
			StockQuantity int     `json:"stock_quantity"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		variant, err := r.catalog.CreateVariant(req.Context(), domain.Variant{
			ProductID:     payload.ProductID,
			Size:          payload.Size,
			Color:         payload.Color,
			Price:         payload.Price,
			SourceURL:     payload.SourceURL,
			StockQuantity: payload.StockQuantity,
		})
		if err != nil {
			r.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toVariantAdminView(*variant))
	})(w, req)
}

func (r *Router) handleVariantByID(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	id, ok := pathID(w, req.URL.Path, "/variants/")
	if !ok {
		return
	}
	variant, err := r.catalog.GetVariant(req.Context(), id)
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVariantView(*variant))
}

func (r *Router) handleOrders(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.requireAuth(r.handlePlaceOrder)(w, req)
	case http.MethodGet:
		r.requireAdmin(r.handleListOrders)(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handlePlaceOrder(w http.ResponseWriter, req *http.Request) {
	user, ok := userFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var payload struct {
		Items []struct {
			VariantID int64 `json:"variant_id"`
			Quantity  int   `json:"quantity"`
		} `json:"items"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	lines := make([]domain.OrderLine, 0, len(payload.Items))
	for _, item := range payload.Items {
		lines = append(lines, domain.OrderLine{VariantID: item.VariantID, Quantity: item.Quantity})
	}
	placed, err := r.orders.Place(req.Context(), user, lines)
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderView(*placed))
}

func (r *Router) handleListOrders(w http.ResponseWriter, req *http.Request) {
	orders, err := r.orders.ListAll(req.Context())
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	views := make([]orderAdminView, 0, len(orders))
	for _, o := range orders {
		views = append(views, toOrderAdminView(o))
	}
	writeJSON(w, http.StatusOK, views)
}

func (r *Router) handleMyOrders(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	user, ok := userFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	orders, err := r.orders.ListMine(req.Context(), user)
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, toOrderView(o))
	}
	writeJSON(w, http.StatusOK, views)
}

func (r *Router) handleOrderByID(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPatch {
		r.methodNotAllowed(w)
		return
	}
	id, ok := pathID(w, req.URL.Path, "/orders/")
	if !ok {
		return
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	updated, err := r.orders.UpdateStatus(req.Context(), id, payload.Status)
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderAdminView(*updated))
}

func (r *Router) handleOrdersWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.ordersHub.Register(client)
	defer r.ordersHub.Unregister(client)

	// Hold the connection open until the peer goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// respondServiceError maps domain errors onto HTTP statuses.
func (r *Router) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrInvalidCredential):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrVariantNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUsernameTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrEmptyOrder),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		r.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// audit wraps a handler with structured request logging and metrics.
func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
		r.recordRequestMetrics(req.Method, route, status, duration)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// pathID extracts the trailing numeric id from a prefixed path.
func pathID(w http.ResponseWriter, path, prefix string) (int64, bool) {
	raw := strings.TrimPrefix(path, prefix)
	raw = strings.TrimSuffix(raw, "/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "not found")
		return 0, false
	}
	return id, true
}

func clientIP(req *http.Request) string {
	if fwd := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
