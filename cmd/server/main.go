package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/rateguard/rateguard/internal/config"
	"github.com/rateguard/rateguard/internal/database"
	"github.com/rateguard/rateguard/internal/handler"
	"github.com/rateguard/rateguard/internal/queue"
	"github.com/rateguard/rateguard/internal/repository"
	"github.com/rateguard/rateguard/internal/router"
	"github.com/rateguard/rateguard/internal/service"
	"github.com/rateguard/rateguard/internal/token"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		logger.Warn("redis unreachable, rate limiting disabled")
	}

	codec := token.NewCodec(cfg.JWTAccessSecret, cfg.JWTRefreshSecret,
		cfg.AccessExpiry, cfg.RefreshExpiry, cfg.RememberExpiry)

	stores := repository.NewStores(db)
	uow := repository.NewUnitOfWork(db)
	notifier := service.NewAMQPNotifier(cfg.AMQPURL, logger)

	ledger := service.NewSessionLedger(codec, stores, uow, logger)
	authSvc := service.NewAuthService(stores, uow, ledger, notifier, logger, cfg.BcryptCost)
	wsSvc := service.NewWorkspaceService(stores, uow, notifier, logger)

	go queue.StartEmailConsumer(cfg.AMQPURL)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	router.Register(e, codec, config.LoadRateLimitConfig(), rdb,
		handler.NewHealthHandler(db),
		handler.NewAuthHandler(authSvc),
		handler.NewWorkspaceHandler(wsSvc))

	addr := ":" + cfg.Port
	logger.Info("listening", "addr", addr, "env", cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
