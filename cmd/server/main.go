package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wsacademy/ledger-engine/internal/achievement"
	"github.com/wsacademy/ledger-engine/internal/award"
	"github.com/wsacademy/ledger-engine/internal/config"
	"github.com/wsacademy/ledger-engine/internal/metrics"
	"github.com/wsacademy/ledger-engine/internal/quote"
	"github.com/wsacademy/ledger-engine/internal/store"
	"github.com/wsacademy/ledger-engine/internal/trade"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var rdb *redis.Client
	var cleanup []func()

	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")
	case cfg.SQLitePath != "":
		lite, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			slog.Error("sqlite open failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { lite.Close() })
		st = lite
	default:
		slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled")
	}

	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Price source ---
	prices := buildPriceSource(cfg, rdb)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run(bgCtx)

	// --- Award issuance ---
	var issuer award.Issuer = award.LogIssuer{}
	if cfg.AwardWebhookURL != "" {
		issuer = award.NewHTTPIssuer(cfg.AwardWebhookURL)
		slog.Info("award webhook enabled")
	}
	dispatcher := award.NewDispatcher(issuer, st, award.Options{
		Workers:     cfg.AwardWorkers,
		QueueSize:   cfg.AwardQueueSize,
		MaxAttempts: cfg.AwardMaxAttempts,
		OnIssued: func(ev award.Event, ref string) {
			wsHub.Broadcast(trade.WSMessage{Type: trade.MsgAchievementIssued, UserID: ev.UserID, Kind: string(ev.Kind), Ref: ref})
		},
	})

	dispatcher.Start(bgCtx)

	// --- Achievements ---
	evaluator := achievement.NewEvaluator(st, prices, dispatcher,
		achievement.HeldNDays{Days: cfg.HeldDaysThreshold},
		achievement.ProfitThreshold{Threshold: cfg.ProfitThreshold},
	)
	evaluator.OnAward = func(ev award.Event) {
		wsHub.Broadcast(trade.WSMessage{Type: trade.MsgAchievementAwarded, UserID: ev.UserID, Kind: string(ev.Kind)})
	}
	scheduler := achievement.NewScheduler(st, evaluator, dispatcher, cfg.EvaluationInterval)
	go scheduler.Run(bgCtx)

	// --- Trade service ---
	tradeSvc := trade.NewService(st, prices, evaluator, wsHub, trade.Options{
		DefaultCash: cfg.DefaultCash,
		Currency:    cfg.Currency,
		MaxRetries:  cfg.SettleMaxRetries,
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"ledger-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for settlement and award events. Kept outside
		// the timeout middleware, which would cut long-lived connections.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Portfolios.
			r.Post("/portfolios", tradeSvc.CreatePortfolio)
			r.Get("/portfolios/{userID}", tradeSvc.GetPortfolio)
			r.Get("/portfolios/{userID}/trades", tradeSvc.GetTrades)

			// Achievements.
			r.Get("/portfolios/{userID}/achievements", tradeSvc.GetAchievements)
			r.Post("/portfolios/{userID}/achievements/evaluate", tradeSvc.EvaluateAchievements)

			// Order settlement.
			r.Post("/orders", tradeSvc.SubmitOrder)

			r.Get("/leaderboard", tradeSvc.Leaderboard)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ledger-engine listening", "port", cfg.Port)
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

	slog.Info("shutting down ledger-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	// Let in-flight evaluations enqueue their awards, then flush the queue.
	// Anything unfinished stays pending and is re-driven on next start.
	tradeSvc.Drain()
	dispatcher.Close()
	stopBackground()
	fmt.Println("ledger-engine stopped")
}

// buildPriceSource assembles the lookup chain: manual overrides first, then
// the live source for the symbol's asset class, optionally behind Redis.
func buildPriceSource(cfg *config.Config, rdb *redis.Client) quote.Source {
	overrides := quote.NewStaticSource(cfg.StaticPrices)

	router := &quote.Router{}
	if cfg.QuoteAPIURL != "" {
		router.Equity = quote.NewHTTPSource(cfg.QuoteAPIURL, cfg.QuotePricePath)
		slog.Info("equity quotes enabled", "url", cfg.QuoteAPIURL)
	}
	if cfg.BinanceEnabled {
		router.Crypto = quote.NewBinanceSource()
		slog.Info("binance crypto quotes enabled")
	}
	if router.Equity == nil && router.Crypto == nil {
		slog.Warn("no live quote source configured, valuations use STATIC_PRICES only")
		return overrides
	}

	var live quote.Source = router
	if rdb != nil && cfg.QuoteCacheTTL > 0 {
		live = quote.NewCachedSource(live, rdb, cfg.QuoteCacheTTL)
	}
	return quote.Chain{overrides, live}
}
