package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/slotbooking/config"
	"github.com/Domenick1991/slotbooking/internal/bootstrap"
	"github.com/Domenick1991/slotbooking/internal/kafka"
	"github.com/Domenick1991/slotbooking/internal/logger"
	"github.com/Domenick1991/slotbooking/internal/notify"
	"github.com/Domenick1991/slotbooking/internal/tasks"
	"github.com/Domenick1991/slotbooking/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
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

	app, err := bootstrap.NewApp(ctx, cfg, pool, zl)
	if err != nil {
		zl.Fatal("wire services", zap.Error(err))
	}
	defer app.Close()

	scheduler, err := worker.NewScheduler(app.Bookings, cfg.Worker, zl.Named("scheduler"))
	if err != nil {
		zl.Fatal("create scheduler", zap.Error(err))
	}

	taskServer := tasks.NewServer(cfg.Redis, cfg.Worker, zl.Named("asynq"))
	mux := tasks.NewServeMux(app.Payments, zl.Named("tasks"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(ctx) })
	g.Go(func() error {
		if err := taskServer.Start(mux); err != nil {
			return err
		}
		<-ctx.Done()
		taskServer.Shutdown()
		return nil
	})

	// Notifications need the Kafka stream; with other drivers they are skipped.
	if cfg.Publisher.Driver == "kafka" {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.BookingEventsTopic, zl.Named("consumer"))
		defer consumer.Close()
		sender := notify.NewSender(zl.Named("notify"))

		g.Go(func() error {
			err := consumer.ConsumeBookingEvents(ctx, sender.Send)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	zl.Info("worker started")
	if err := g.Wait(); err != nil {
		zl.Error("worker stopped", zap.Error(err))
		return
	}
	zl.Info("worker stopped")
}
