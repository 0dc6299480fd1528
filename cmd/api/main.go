package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maelisc/boutique/internal/app/migrate"
	"github.com/maelisc/boutique/internal/config"
	"github.com/maelisc/boutique/internal/domain"
	httpx "github.com/maelisc/boutique/internal/http"
	"github.com/maelisc/boutique/internal/logger"
	"github.com/maelisc/boutique/internal/repository/postgres"
	"github.com/maelisc/boutique/internal/service/auth"
	"github.com/maelisc/boutique/internal/service/catalog"
	"github.com/maelisc/boutique/internal/service/order"
	"github.com/maelisc/boutique/internal/ws"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	ordersHub := ws.NewHub()

	authSvc := auth.New(repo, log, cfg)
	catalogSvc := catalog.New(repo, log)
	orderSvc := order.New(repo, log, func(o domain.Order) {
		payload, err := json.Marshal(orderPlacedEvent(o))
		if err != nil {
			log.Warn("order event encode failed", "error", err, "order_id", o.ID)
			return
		}
		ordersHub.Broadcast(payload)
	})

	router := httpx.NewRouter(log, authSvc, catalogSvc, orderSvc, ordersHub, pool.Ping)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// orderPlacedEvent shapes the payload broadcast to admin subscribers.
func orderPlacedEvent(o domain.Order) map[string]any {
	items := make([]map[string]any, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, map[string]any{
			"variant_id": it.VariantID,
			"quantity":   it.Quantity,
		})
	}
	return map[string]any{
		"type":       "order.placed",
		"order_id":   o.ID,
		"user_id":    o.UserID,
		"status":     o.Status,
		"created_at": o.CreatedAt,
		"items":      items,
	}
}
