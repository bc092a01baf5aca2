package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/lmsr-market/internal/engine"
	"github.com/atmx/lmsr-market/internal/metrics"
	"github.com/atmx/lmsr-market/internal/store"
	"github.com/atmx/lmsr-market/internal/ws"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Platform fee rate ---
	defaultFeeBps := uint64(100) // 1% default
	if v := os.Getenv("PLATFORM_FEE_RATE_BPS"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			slog.Error("invalid PLATFORM_FEE_RATE_BPS", "err", err)
			os.Exit(1)
		}
		defaultFeeBps = parsed
	}

	// --- WebSocket hub ---
	hub := ws.NewHub()
	go hub.Run()
	go reportWebSocketClients(hub)

	// --- Engine service ---
	svc := engine.NewService(st, hub, defaultFeeBps)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"lmsr-market"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price updates.
		r.Get("/ws", hub.HandleWS)

		// Market management.
		r.Get("/markets", svc.ListMarkets)
		r.Post("/markets", svc.CreateMarket)
		r.Get("/markets/{marketID}", svc.GetMarket)
		r.Get("/markets/{marketID}/price", svc.GetPrice)
		r.Get("/markets/{marketID}/history", svc.GetMarketHistory)
		r.Get("/markets/{marketID}/payout", svc.GetPayout)
		r.Post("/markets/{marketID}/resolve", svc.Resolve)
		r.Post("/markets/{marketID}/fees/withdraw", svc.WithdrawFees)

		// Trade execution.
		r.Post("/markets/{marketID}/bet", svc.PlaceBet)
		r.Post("/markets/{marketID}/sell", svc.SellShares)

		// User trade history.
		r.Get("/users/{userID}/history", svc.GetUserHistory)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("lmsr-market listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down lmsr-market...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("lmsr-market stopped")
}

// reportWebSocketClients periodically syncs the hub's connection count
// into the Prometheus gauge; the hub itself doesn't import metrics to
// keep it free of reporting concerns.
func reportWebSocketClients(hub *ws.Hub) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		metrics.WebSocketClients.Set(float64(hub.ClientCount()))
	}
}
