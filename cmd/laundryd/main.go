package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"laundry-reservation-backend/config"
	"laundry-reservation-backend/internal/api"
	"laundry-reservation-backend/internal/auth"
	"laundry-reservation-backend/internal/broadcast"
	"laundry-reservation-backend/internal/db"
	"laundry-reservation-backend/internal/notification"
	"laundry-reservation-backend/internal/registry"
	"laundry-reservation-backend/internal/reservation"
	"laundry-reservation-backend/internal/txlog"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.String("path", configPath), zap.Error(err))
	}
	logger.Info("configuration loaded", zap.String("path", configPath))

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	logger.Info("database initialized")

	if err := auth.EnsureAdminUser(gormDB, cfg.Auth.AdminName, cfg.Auth.AdminPassword); err != nil {
		logger.Fatal("failed to seed admin user", zap.Error(err))
	}

	catalog := registry.NewCatalog(cfg.Registry.Devices)
	if err := registry.Sync(context.Background(), gormDB, catalog, logger.Named("registry")); err != nil {
		logger.Fatal("failed to sync device registry", zap.Error(err))
	}

	resyncer, err := registry.NewResyncer(cfg.Registry.ResyncCron, gormDB, catalog, logger.Named("registry"))
	if err != nil {
		logger.Fatal("invalid registry resync schedule", zap.Error(err))
	}
	resyncer.Start()
	defer resyncer.Stop()

	auditLogger, err := txlog.NewAuditLogger(cfg.Audit.LogPath)
	if err != nil {
		logger.Fatal("failed to open transaction log", zap.String("path", cfg.Audit.LogPath), zap.Error(err))
	}
	defer auditLogger.Sync()
	recorder := txlog.NewRecorder(auditLogger)

	engine := reservation.NewEngine(gormDB, catalog, recorder, logger.Named("reservation"))
	hub := broadcast.NewHub(engine, logger.Named("broadcast"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifiers := reservation.IdleNotifiers{hub}
	webpushOptions := &webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}
	if cfg.Push.Enabled {
		if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
			logger.Fatal("push is enabled but VAPID keys are not configured")
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions, logger.Named("notification"))
		pool.Start(ctx)
		notifiers = append(notifiers, pool)
	}
	engine.SetIdleNotifier(notifiers)

	tokens := auth.NewTokenIssuer(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)
	handler := api.NewHandler(gormDB, engine, hub, catalog, tokens, webpushOptions, logger.Named("api"))
	router := api.NewRouter(handler, &cfg.Server)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received, stopping services")

	// Let in-flight operations finish; the engine's atomic units never
	// commit partially, but aborting them mid-request wastes work.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("HTTP server shutdown failed", zap.Error(err))
	}

	logger.Info("server gracefully stopped")
}
