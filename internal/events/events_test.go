package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBookingEvent(t *testing.T) {
	start := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	b := &domain.Booking{
		ID:           "b-1",
		RequesterID:  "req-1",
		ResponderID:  "resp-1",
		StartAt:      start,
		EndAt:        start.Add(30 * time.Minute),
		Timezone:     "Europe/Berlin",
		Status:       domain.BookingStatusCancelled,
		CancelReason: "sick",
	}
	berlin, _ := time.LoadLocation("Europe/Berlin")

	event := NewBookingEvent(TypeBookingCancelled, b, domain.BookingStatusScheduled, start.In(berlin))

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "b-1", event.Key())
	assert.Equal(t, "cancelled", event.Status)
	assert.Equal(t, "scheduled", event.PreviousStatus)
	assert.Equal(t, "sick", event.Reason)
	assert.Equal(t, time.UTC, event.OccurredAt.Location())

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"booking.cancelled"`)
	assert.Contains(t, string(data), `"booking_id":"b-1"`)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), BookingEvent{}))
}
