package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/slotbooking/api"
	"github.com/Domenick1991/slotbooking/config"
	"github.com/Domenick1991/slotbooking/internal/bootstrap"
	"github.com/Domenick1991/slotbooking/internal/logger"
	"github.com/Domenick1991/slotbooking/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		zl.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if cfg.Database.Migrate {
		if err := repository.Migrate(ctx, pool); err != nil {
			zl.Fatal("apply migrations", zap.Error(err))
		}
	}

	app, err := bootstrap.NewApp(ctx, cfg, pool, zl)
	if err != nil {
		zl.Fatal("wire services", zap.Error(err))
	}
	defer app.Close()

	router := api.NewRouter(api.Handlers{
		Availability: api.NewAvailabilityHandler(app.Availability),
		Bookings:     api.NewBookingHandler(app.Bookings, app.Payments),
		Webhooks:     api.NewWebhookHandler(app.Gateway, app.Payments, app.Queue, zl.Named("webhooks")),
	}, cfg.HTTP.AllowedOrigins, zl.Named("http"))

	if err := bootstrap.Run(ctx, cfg, router, zl); err != nil {
		zl.Fatal("server error", zap.Error(err))
	}
}
