package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Domenick1991/slotbooking/internal/events"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Consumer struct {
	reader *kafka.Reader
	logger *zap.Logger
}

func NewConsumer(brokers []string, groupID, topic string, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:           brokers,
			GroupID:           groupID,
			Topic:             topic,
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    30 * time.Second,
		}),
		logger: logger,
	}
}

func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

func (c *Consumer) Consume(ctx context.Context, handler func(context.Context, kafka.Message) error) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			return err
		}

		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
}

// ConsumeBookingEvents decodes each message as a booking event. Undecodable messages are
// logged and skipped so one bad payload cannot stall the group.
func (c *Consumer) ConsumeBookingEvents(ctx context.Context, handler func(context.Context, events.BookingEvent) error) error {
	return c.Consume(ctx, func(ctx context.Context, msg kafka.Message) error {
		event, ok := decodeBookingEvent(msg, c.logger)
		if !ok {
			return nil
		}
		return handler(ctx, event)
	})
}

func decodeBookingEvent(msg kafka.Message, logger *zap.Logger) (events.BookingEvent, bool) {
	var event events.BookingEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Warn("skipping undecodable booking event",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return event, false
	}
	return event, true
}
