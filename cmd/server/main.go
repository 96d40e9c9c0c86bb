package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/decentralabs/lab-reservation/internal/config"
	"github.com/decentralabs/lab-reservation/internal/database"
	"github.com/decentralabs/lab-reservation/internal/engine"
	"github.com/decentralabs/lab-reservation/internal/handler"
	"github.com/decentralabs/lab-reservation/internal/middleware"
	"github.com/decentralabs/lab-reservation/internal/queue"
	"github.com/decentralabs/lab-reservation/internal/repository"
	"github.com/decentralabs/lab-reservation/internal/router"
)

func main() {
	// .env is optional; real deployments configure the environment.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Repositories.
	labs := repository.NewLabRepo(db)
	accounts := repository.NewAccountRepo(db)
	clock := func() uint32 { return uint32(time.Now().Unix()) }
	budgets := repository.NewBudgetRepo(db, accounts, clock)
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)

	// The reservation engine holds all booking state in memory; MySQL
	// only backs the collaborators (labs, balances, budgets, users).
	eng := engine.New(engine.Deps{
		Labs:     labs,
		Wallet:   accounts,
		Budgets:  budgets,
		Notifier: labs,
		Clock:    clock,
		FeeBPS:   uint32(cfg.PlatformFeeBPS),
		Treasury: cfg.TreasuryAccount,
	})

	// Background consumer appends reservation events to logs/.
	go func() {
		if err := queue.StartReservationConsumer(); err != nil {
			log.Printf("reservation-consumer stopped: %v", err)
		}
	}()

	// Daily refresh-token housekeeping; rows older than 30 days past
	// expiry are dropped.
	go func() {
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if n, err := tokens.PurgeExpired(ctx, 30*24*time.Hour); err != nil {
				log.Printf("token purge failed: %v", err)
			} else if n > 0 {
				log.Printf("purged %d expired refresh tokens", n)
			}
			cancel()
			time.Sleep(24 * time.Hour)
		}
	}()

	// Redis is optional: a nil client turns the cache and the rate
	// limiter into pass-throughs.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable; response cache and rate limiting disabled")
	}
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)
	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	e := echo.New()
	e.HideBanner = true

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens, accounts), cfg.JWTSecret)
	router.RegisterLabs(e, handler.NewLabHandler(labs), cfg.JWTSecret, cache)
	router.RegisterWallet(e, handler.NewWalletHandler(accounts, budgets), cfg.JWTSecret)
	router.RegisterReservations(e,
		handler.NewReservationHandler(eng, labs),
		handler.NewQueryHandler(eng),
		cfg.JWTSecret, limit, cache)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
