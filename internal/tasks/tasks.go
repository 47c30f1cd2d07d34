package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Domenick1991/slotbooking/config"
	"github.com/Domenick1991/slotbooking/internal/gateway"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TypePaymentEvent  = "payment:event"
	TypePaymentRefund = "payment:refund"
)

type refundPayload struct {
	RefundID string `json:"refund_id"`
}

// NewPaymentEventTask wraps a verified gateway event. The task id is derived from the event
// id so the same notification is never queued twice.
func NewPaymentEventTask(event gateway.Event) (*asynq.Task, []asynq.Option, error) {
	payload, err := gateway.Encode(event)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypePaymentEvent, payload)
	opts := []asynq.Option{asynq.TaskID(TypePaymentEvent + ":" + event.EventID())}
	return task, opts, nil
}

func NewRefundTask(refundID string) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(refundPayload{RefundID: refundID})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypePaymentRefund, payload)
	opts := []asynq.Option{asynq.TaskID(TypePaymentRefund + ":" + refundID)}
	return task, opts, nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client puts retry work on the Redis-backed queue.
type Client struct {
	client   enqueuer
	maxRetry int
	logger   *zap.Logger
}

func NewClient(cfg config.RedisConfig, maxRetry int, logger *zap.Logger) *Client {
	return newClient(asynq.NewClient(redisOpt(cfg)), maxRetry, logger)
}

func newClient(client enqueuer, maxRetry int, logger *zap.Logger) *Client {
	return &Client{client: client, maxRetry: maxRetry, logger: logger}
}

func redisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.TasksDB,
	}
}

func (c *Client) EnqueueEvent(ctx context.Context, event gateway.Event) error {
	task, opts, err := NewPaymentEventTask(event)
	if err != nil {
		return fmt.Errorf("build event task: %w", err)
	}
	return c.enqueue(ctx, task, opts)
}

func (c *Client) EnqueueRefund(ctx context.Context, refundID string) error {
	task, opts, err := NewRefundTask(refundID)
	if err != nil {
		return fmt.Errorf("build refund task: %w", err)
	}
	return c.enqueue(ctx, task, opts)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, opts []asynq.Option) error {
	if c.maxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(c.maxRetry))
	}
	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	c.logger.Info("task enqueued", zap.String("type", task.Type()), zap.String("task_id", info.ID))
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// PaymentProcessor is the reconciliation work the queue retries.
type PaymentProcessor interface {
	HandleEvent(ctx context.Context, event gateway.Event) error
	SubmitRefund(ctx context.Context, refundID string) error
}

func NewServeMux(processor PaymentProcessor, logger *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePaymentEvent, handlePaymentEvent(processor, logger))
	mux.HandleFunc(TypePaymentRefund, handleRefund(processor, logger))
	return mux
}

func handlePaymentEvent(processor PaymentProcessor, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		event, err := gateway.Decode(task.Payload())
		if err != nil {
			logger.Error("invalid payment event task", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if err := processor.HandleEvent(ctx, event); err != nil {
			logger.Warn("payment event retry failed", zap.String("event_id", event.EventID()), zap.Error(err))
			return err
		}
		return nil
	}
}

func handleRefund(processor PaymentProcessor, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p refundPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil || p.RefundID == "" {
			logger.Error("invalid refund task", zap.Error(err))
			return fmt.Errorf("invalid refund payload: %w", asynq.SkipRetry)
		}
		if err := processor.SubmitRefund(ctx, p.RefundID); err != nil {
			logger.Warn("refund retry failed", zap.String("refund_id", p.RefundID), zap.Error(err))
			return err
		}
		return nil
	}
}

// NewServer builds the worker side of the queue. asynq logs through zap.
func NewServer(cfg config.RedisConfig, worker config.WorkerConfig, logger *zap.Logger) *asynq.Server {
	concurrency := worker.TaskConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	return asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 1,
		},
		Logger: logger.Sugar(),
	})
}
