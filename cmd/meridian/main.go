package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian/internal/app"
	"github.com/meridian-pos/meridian/internal/catalog"
	"github.com/meridian-pos/meridian/internal/contacts"
	"github.com/meridian-pos/meridian/internal/loans"
	"github.com/meridian-pos/meridian/internal/platform/cache"
	"github.com/meridian-pos/meridian/internal/platform/db"
	"github.com/meridian-pos/meridian/internal/purchases"
	"github.com/meridian-pos/meridian/internal/sales"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Error("migrate database", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, caching disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	readCache := cache.NewCache(redisClient, cfg.CacheTTL)

	validate := validator.New()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, auditLogger)
	catalogHandler := catalog.NewHandler(logger, catalogService, validate)

	contactsRepo := contacts.NewRepository(pool)
	contactsService := contacts.NewService(contactsRepo)
	contactsHandler := contacts.NewHandler(logger, contactsService, validate)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(salesRepo, auditLogger, idempotencyStore, readCache)
	salesHandler := sales.NewHandler(logger, salesService, validate)

	purchasesRepo := purchases.NewRepository(pool)
	purchasesService := purchases.NewService(purchasesRepo, auditLogger)
	purchasesHandler := purchases.NewHandler(logger, purchasesService, validate)

	loansRepo := loans.NewRepository(pool)
	loansService := loans.NewService(loansRepo, auditLogger)
	loansHandler := loans.NewHandler(logger, loansService, validate)

	var jobHandler *jobs.Handler
	if redisClient != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		CatalogHandler:   catalogHandler,
		ContactsHandler:  contactsHandler,
		SalesHandler:     salesHandler,
		PurchasesHandler: purchasesHandler,
		LoansHandler:     loansHandler,
		JobHandler:       jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
