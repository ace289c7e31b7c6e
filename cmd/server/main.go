package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	delivery "trading-backend/internal/delivery/http"
	"trading-backend/internal/domain"
	"trading-backend/internal/infrastructure/binance"
	"trading-backend/internal/infrastructure/db"
	"trading-backend/internal/infrastructure/fcm"
	"trading-backend/internal/infrastructure/indicators"
	"trading-backend/internal/repository"
	"trading-backend/internal/usecase"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	cfg := configFromEnv()

	// 1. Durable storage. Without DATABASE_URL everything runs in memory,
	// which is only acceptable for local experiments.
	var (
		ledger       domain.TradeLedger
		cooldownRepo domain.CooldownRepository
		streakRepo   domain.StreakRepository
		setsRepo     domain.ProtectiveOrderRepository
		lockRepo     domain.JobLockRepository
	)
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		pool, err := db.NewPool(ctx, databaseURL, db.PoolSettingsFromEnv())
		cancel()
		if err != nil {
			log.Fatalf("❌ Database connection failed: %v", err)
		}
		defer pool.Close()

		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		err = db.Migrate(ctx, pool)
		cancel()
		if err != nil {
			log.Fatalf("❌ Migration failed: %v", err)
		}

		ledger = repository.NewPostgresTradeLedger(pool)
		cooldownRepo = repository.NewPostgresCooldownRepository(pool)
		streakRepo = repository.NewPostgresStreakRepository(pool)
		setsRepo = repository.NewPostgresProtectiveOrderRepository(pool)
		lockRepo = repository.NewPostgresJobLockRepository(pool)
		log.Println("✅ Postgres connected and migrated")
	} else {
		log.Println("⚠️ DATABASE_URL not set, state will not survive restarts")
		ledger = repository.NewInMemoryTradeLedger()
		cooldownRepo = repository.NewInMemoryCooldownRepository()
		streakRepo = repository.NewInMemoryStreakRepository()
		setsRepo = repository.NewInMemoryProtectiveOrderRepository()
		lockRepo = repository.NewInMemoryJobLockRepository()
	}

	state := repository.NewStateCache(cooldownRepo, streakRepo, cfg.PositionCacheTTL)
	state.Load()

	// 2. Exchange gateway.
	apiKey := getEnv("BINANCE_API_KEY", "")
	secretKey := getEnv("BINANCE_SECRET_KEY", "")
	if apiKey == "" || secretKey == "" {
		log.Fatal("❌ BINANCE_API_KEY and BINANCE_SECRET_KEY are required")
	}
	isTestnet := getEnvBool("BINANCE_TESTNET", false)
	gateway := binance.NewGateway(apiKey, secretKey, isTestnet)
	if err := gateway.TestConnection(); err != nil {
		log.Fatalf("❌ Exchange connection failed: %v", err)
	}
	log.Printf("✅ Exchange connected (testnet=%v)", isTestnet)

	// 3. Notifications.
	fcmClient, err := fcm.NewClient()
	if err != nil {
		log.Printf("⚠️ FCM disabled: %v", err)
	}
	tokenRepo := repository.NewTokenRepository()
	notifier := usecase.NewNotifier(fcmClient, tokenRepo)
	go notifier.Run()

	// 4. Core use cases.
	vol := usecase.NewVolatilityTracker(cfg.VolWindow)
	gate := usecase.NewRiskGate(cfg, ledger, vol)
	protection := usecase.NewProtectionMonitor(cfg, gateway, ledger, setsRepo, state, lockRepo, notifier)
	executor := usecase.NewSignalExecutor(cfg, gateway, ledger, state, gate, protection, notifier, vol)
	reconciler := usecase.NewReconciler(ledger, setsRepo, protection, state, notifier)

	go protection.Run()
	go sampleVolatility(cfg, gateway, vol)
	go emergencyStopLoop(executor)

	// 5. Push fill stream.
	stream := binance.NewUserStream(gateway, isTestnet)
	go stream.Run()
	go reconciler.Run(stream.Events())

	// 6. HTTP delivery.
	intentHandler := delivery.NewIntentHandler(executor)
	tradeHandler := delivery.NewTradeHandler(ledger, gateway)
	tokenHandler := delivery.NewTokenHandler(tokenRepo)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/intents", intentHandler.HandleIntent)
	mux.HandleFunc("/api/trades", tradeHandler.GetTrades)
	mux.HandleFunc("/api/trades/stats", tradeHandler.GetStatistics)
	mux.HandleFunc("/api/positions", tradeHandler.GetPositions)
	mux.HandleFunc("/api/tokens/register", tokenHandler.HandleRegisterToken)
	mux.HandleFunc("/api/tokens/unregister", tokenHandler.HandleUnregisterToken)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    ":" + getEnv("PORT", "8080"),
		Handler: mux,
	}
	go func() {
		log.Printf("Server executing on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ HTTP server failed: %v", err)
		}
	}()

	// 7. Graceful shutdown: stop taking intents, let in-flight executions
	// finish, then tear the stream down and drain the reconciler.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ HTTP shutdown: %v", err)
	}

	executor.Wait(cfg.ShutdownGrace)
	protection.Stop()
	stream.Stop()
	<-reconciler.Done()
	notifier.Stop()
	log.Println("✅ Shutdown complete")
}

// sampleVolatility feeds the tracker one ATR-derived sample per symbol per
// minute from public kline data.
func sampleVolatility(cfg domain.Config, gateway *binance.Gateway, vol *usecase.VolatilityTracker) {
	const period = 14
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	sample := func() {
		for _, symbol := range cfg.AllowedSymbols {
			highs, lows, closes, err := gateway.Public().GetKlines(symbol, "1m", period+1)
			if err != nil {
				log.Printf("Volatility: WARNING: klines %s: %v", symbol, err)
				continue
			}
			if pct := indicators.LatestATRPct(highs, lows, closes, period); pct > 0 {
				vol.Add(symbol, pct)
			}
		}
	}

	sample()
	for range ticker.C {
		sample()
	}
}

// emergencyStopLoop checks the hard daily-loss line once a minute.
func emergencyStopLoop(executor *usecase.SignalExecutor) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		executor.CheckEmergencyStop()
	}
}
