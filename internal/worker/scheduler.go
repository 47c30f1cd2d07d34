package worker

import (
	"context"
	"fmt"

	"github.com/Domenick1991/slotbooking/config"
	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper is the periodic booking maintenance.
type Sweeper interface {
	ExpireStaleHolds(ctx context.Context) ([]domain.Booking, error)
	AdvanceSessions(ctx context.Context) (started, completed []domain.Booking, err error)
}

type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	logger  *zap.Logger
	ctx     context.Context
}

func NewScheduler(sweeper Sweeper, cfg config.WorkerConfig, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		sweeper: sweeper,
		logger:  logger,
		ctx:     context.Background(),
	}
	cl := cronLogger{logger.Sugar()}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := s.cron.AddFunc(cfg.ExpirySweepSpec, s.expire); err != nil {
		return nil, fmt.Errorf("schedule expiry sweep %q: %w", cfg.ExpirySweepSpec, err)
	}
	if _, err := s.cron.AddFunc(cfg.LifecycleSweepSpec, s.advance); err != nil {
		return nil, fmt.Errorf("schedule lifecycle sweep %q: %w", cfg.LifecycleSweepSpec, err)
	}
	return s, nil
}

// Run starts the sweeps and blocks until ctx is done and running jobs finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) expire() {
	expired, err := s.sweeper.ExpireStaleHolds(s.ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if len(expired) > 0 {
		s.logger.Info("expiry sweep", zap.Int("expired", len(expired)))
	}
}

func (s *Scheduler) advance() {
	started, completed, err := s.sweeper.AdvanceSessions(s.ctx)
	if err != nil {
		s.logger.Error("lifecycle sweep failed", zap.Error(err))
		return
	}
	if len(started)+len(completed) > 0 {
		s.logger.Info("lifecycle sweep", zap.Int("started", len(started)), zap.Int("completed", len(completed)))
	}
}

type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
