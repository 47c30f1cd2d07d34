package amqp

import (
	"testing"
	"time"

	"github.com/Domenick1991/slotbooking/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishing(t *testing.T) {
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	event := events.BookingEvent{ID: "e-1", Type: events.TypeBookingExpired, BookingID: "b-1", OccurredAt: at}

	msg, err := publishing(event)

	require.NoError(t, err)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "e-1", msg.MessageId)
	assert.Equal(t, events.TypeBookingExpired, msg.Type)
	assert.Contains(t, string(msg.Body), `"booking_id":"b-1"`)
}

func TestNewPublisher_BadURL(t *testing.T) {
	_, err := NewPublisher("not-a-url", "booking-events")
	assert.Error(t, err)
}

func TestPublisher_CloseWithoutConnection(t *testing.T) {
	assert.NoError(t, (&Publisher{}).Close())
}
