package bootstrap

import (
	"context"
	"fmt"

	"github.com/Domenick1991/slotbooking/config"
	"github.com/Domenick1991/slotbooking/internal/amqp"
	"github.com/Domenick1991/slotbooking/internal/cache"
	"github.com/Domenick1991/slotbooking/internal/calendar"
	"github.com/Domenick1991/slotbooking/internal/events"
	"github.com/Domenick1991/slotbooking/internal/gateway"
	"github.com/Domenick1991/slotbooking/internal/kafka"
	"github.com/Domenick1991/slotbooking/internal/repository"
	"github.com/Domenick1991/slotbooking/internal/service/availability"
	"github.com/Domenick1991/slotbooking/internal/service/booking"
	"github.com/Domenick1991/slotbooking/internal/service/payment"
	"github.com/Domenick1991/slotbooking/internal/tasks"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// App holds the wired services shared by the API and the worker.
type App struct {
	Gateway      gateway.Gateway
	Availability *availability.AvailabilityService
	Bookings     *booking.BookingService
	Payments     *payment.PaymentService
	Queue        *tasks.Client

	closers []func() error
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func NewApp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) (*App, error) {
	app := &App{}

	bookingRepo := repository.NewBookingRepository(pool)
	availabilityRepo := repository.NewAvailabilityRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	tx := repository.NewTransactor(pool)

	availabilityOpts := []availability.AvailabilityServiceOption{
		availability.WithMaxDays(cfg.Booking.MaxAvailabilityDays),
	}
	if cfg.Calendar.Enabled {
		cal, err := calendar.NewGoogleCalendar(ctx, cfg.Calendar)
		if err != nil {
			app.Close()
			return nil, err
		}
		redisCache := cache.NewRedisCache(cfg.Redis, cfg.Calendar.CacheTTL())
		app.closers = append(app.closers, redisCache.Close)
		if err := redisCache.Ping(ctx); err != nil {
			// Busy lookups fall through to the calendar while the cache is down.
			logger.Warn("redis is not reachable", zap.Error(err))
		}
		availabilityOpts = append(availabilityOpts,
			availability.WithCalendar(cal, cfg.Calendar.Timeout()),
			availability.WithBusyCache(redisCache),
		)
	} else {
		availabilityOpts = append(availabilityOpts, availability.WithCalendar(calendar.NewStatic(nil), cfg.Calendar.Timeout()))
	}
	app.Availability = availability.NewAvailabilityService(
		availabilityRepo,
		bookingRepo,
		tx,
		logger.Named("availability"),
		cfg.Booking.DefaultSlotMinutes,
		availabilityOpts...,
	)

	publisher, err := app.newPublisher(ctx, cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	machine := booking.NewStateMachine(bookingRepo, tx, publisher, logger.Named("state_machine"), nil)

	app.Gateway = gateway.NewStripe(cfg.Stripe)
	app.Queue = tasks.NewClient(cfg.Redis, cfg.Worker.TaskMaxRetry, logger.Named("tasks"))
	app.closers = append(app.closers, app.Queue.Close)

	app.Payments = payment.NewPaymentService(
		paymentRepo,
		machine,
		tx,
		app.Gateway,
		logger.Named("payment"),
		payment.WithRetryQueue(app.Queue),
		payment.WithRefundPolicy(payment.NewRefundPolicy(cfg.Refund)),
	)

	var bookingOpts []booking.BookingServiceOption
	if cfg.Booking.EnforceAvailability {
		bookingOpts = append(bookingOpts, booking.WithAvailability(app.Availability))
	}
	app.Bookings = booking.NewBookingService(
		bookingRepo,
		tx,
		machine,
		app.Payments,
		booking.NewSettings(cfg.Booking),
		logger.Named("booking"),
		bookingOpts...,
	)
	return app, nil
}

func (a *App) newPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (events.Publisher, error) {
	switch cfg.Publisher.Driver {
	case "kafka":
		producer := kafka.NewProducer(cfg.Kafka.Brokers, logger.Named("kafka"))
		a.closers = append(a.closers, producer.Close)
		if err := producer.CheckConnection(ctx); err != nil {
			// Publishing is best effort; the producer reconnects on the next write.
			logger.Warn("kafka is not reachable", zap.Error(err))
		}
		return kafka.NewBookingPublisher(producer, cfg.Kafka.BookingEventsTopic), nil
	case "amqp":
		publisher, err := amqp.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return nil, fmt.Errorf("connect amqp publisher: %w", err)
		}
		a.closers = append(a.closers, publisher.Close)
		return publisher, nil
	default:
		return events.Nop{}, nil
	}
}
