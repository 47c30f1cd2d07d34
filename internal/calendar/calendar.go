package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/slotbooking/config"
	"github.com/Domenick1991/slotbooking/internal/domain"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleCalendar reads busy times through the Google Calendar free/busy API.
type GoogleCalendar struct {
	service     *gcal.Service
	calendarIDs map[string]string
}

func NewGoogleCalendar(ctx context.Context, cfg config.CalendarConfig, opts ...option.ClientOption) (*GoogleCalendar, error) {
	if cfg.CredentialsFile != "" {
		opts = append([]option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}, opts...)
	}
	service, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar client: %w", err)
	}
	return &GoogleCalendar{service: service, calendarIDs: cfg.CalendarIDs}, nil
}

// calendarID maps a responder to its calendar. Unmapped responders use their id directly.
func (g *GoogleCalendar) calendarID(responderID string) string {
	if id, ok := g.calendarIDs[responderID]; ok && id != "" {
		return id
	}
	return responderID
}

func (g *GoogleCalendar) Busy(ctx context.Context, responderID string, window domain.Interval) ([]domain.Interval, error) {
	id := g.calendarID(responderID)
	resp, err := g.service.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: window.Start.UTC().Format(time.RFC3339),
		TimeMax: window.End.UTC().Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: id}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy query: %w", err)
	}

	cal, ok := resp.Calendars[id]
	if !ok {
		return nil, fmt.Errorf("freebusy: calendar %s missing from response", id)
	}
	if len(cal.Errors) > 0 {
		reasons := make([]string, 0, len(cal.Errors))
		for _, e := range cal.Errors {
			reasons = append(reasons, e.Reason)
		}
		return nil, fmt.Errorf("freebusy: calendar %s: %s", id, strings.Join(reasons, ", "))
	}

	busy := make([]domain.Interval, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		start, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, fmt.Errorf("freebusy: bad start %q: %w", period.Start, err)
		}
		end, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, fmt.Errorf("freebusy: bad end %q: %w", period.End, err)
		}
		busy = append(busy, domain.Interval{Start: start.UTC(), End: end.UTC()})
	}
	return busy, nil
}

// Static serves fixed busy intervals per responder. It backs local runs without a calendar.
type Static struct {
	busy map[string][]domain.Interval
}

func NewStatic(busy map[string][]domain.Interval) *Static {
	if busy == nil {
		busy = map[string][]domain.Interval{}
	}
	return &Static{busy: busy}
}

func (s *Static) Busy(_ context.Context, responderID string, window domain.Interval) ([]domain.Interval, error) {
	out := make([]domain.Interval, 0)
	for _, b := range s.busy[responderID] {
		if b.Overlaps(window) {
			out = append(out, b)
		}
	}
	return out, nil
}
