package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sitestock-erp/sitestock/internal/app"
	"github.com/sitestock-erp/sitestock/internal/grn"
	"github.com/sitestock-erp/sitestock/internal/issue"
	"github.com/sitestock-erp/sitestock/internal/ledger"
	"github.com/sitestock-erp/sitestock/internal/masterdata"
	"github.com/sitestock-erp/sitestock/internal/observability"
	"github.com/sitestock-erp/sitestock/internal/platform/cache"
	"github.com/sitestock-erp/sitestock/internal/platform/db"
	"github.com/sitestock-erp/sitestock/internal/procurement"
	"github.com/sitestock-erp/sitestock/internal/shared"
	"github.com/sitestock-erp/sitestock/internal/transfer"
	"github.com/sitestock-erp/sitestock/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, register cache disabled", slog.Any("error", err))
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

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

	ledgerRepo := ledger.NewRepository(dbpool)
	ledgerCache := ledger.NewCache(redisClient, cfg.CacheTTL)
	ledgerStore := ledger.NewStore(ledgerRepo, ledgerCache, metrics)

	refs := masterdata.NewRepository(dbpool)

	procurementRepo := procurement.NewRepository(dbpool)
	procurementService := procurement.NewService(procurementRepo, refs, auditLogger)

	grnRepo := grn.NewRepository(dbpool)
	grnService := grn.NewService(grnRepo, procurementService, refs, ledgerStore, auditLogger, idempotencyStore)

	issueRepo := issue.NewRepository(dbpool)
	issueService := issue.NewService(issueRepo, refs, ledgerStore, auditLogger, idempotencyStore)

	transferRepo := transfer.NewRepository(dbpool)
	transferService := transfer.NewService(transferRepo, refs, ledgerStore, auditLogger, idempotencyStore)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		GRNHandler:         grn.NewHandler(logger, grnService),
		IssueHandler:       issue.NewHandler(logger, issueService),
		TransferHandler:    transfer.NewHandler(logger, transferService),
		StockHandler:       ledger.NewHandler(logger, ledgerStore),
		JobHandler:         jobs.NewHandler(inspector, jobClient, logger),
		Metrics:            metrics,
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
