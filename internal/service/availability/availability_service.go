package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/Domenick1991/slotbooking/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AvailabilityUseCase interface {
	GetAvailability(ctx context.Context, query AvailabilityQuery) ([]domain.Slot, error)
	ReplaceRules(ctx context.Context, responderID string, rules []RuleInput) ([]domain.AvailabilityRule, error)
	ListRules(ctx context.Context, responderID string) ([]domain.AvailabilityRule, error)
	ListOverrides(ctx context.Context, responderID string, from, to time.Time) ([]domain.AvailabilityOverride, error)
	CreateOverride(ctx context.Context, input OverrideInput) (*domain.AvailabilityOverride, error)
	DeleteOverride(ctx context.Context, actorID, id string) (*domain.AvailabilityOverride, error)
	BlockDates(ctx context.Context, input BlockDatesInput) ([]domain.AvailabilityOverride, error)
	CheckWindow(ctx context.Context, responderID string, window domain.Interval, ignoreBookingID string) error
}

// Calendar returns the responder's busy intervals from an external calendar.
type Calendar interface {
	Busy(ctx context.Context, responderID string, window domain.Interval) ([]domain.Interval, error)
}

type BusyCache interface {
	GetBusy(ctx context.Context, responderID string, window domain.Interval) ([]domain.Interval, bool, error)
	SetBusy(ctx context.Context, responderID string, window domain.Interval, busy []domain.Interval) error
}

type AvailabilityService struct {
	availability       repository.AvailabilityRepository
	bookings           repository.BookingRepository
	tx                 repository.Transactor
	calendar           Calendar
	calendarTimeout    time.Duration
	cache              BusyCache
	logger             *zap.Logger
	defaultSlotMinutes int
	maxDays            int
}

type AvailabilityServiceOption func(*AvailabilityService)

func WithCalendar(calendar Calendar, timeout time.Duration) AvailabilityServiceOption {
	return func(s *AvailabilityService) {
		s.calendar = calendar
		s.calendarTimeout = timeout
	}
}

func WithBusyCache(cache BusyCache) AvailabilityServiceOption {
	return func(s *AvailabilityService) {
		s.cache = cache
	}
}

func WithMaxDays(days int) AvailabilityServiceOption {
	return func(s *AvailabilityService) {
		s.maxDays = days
	}
}

func NewAvailabilityService(
	availability repository.AvailabilityRepository,
	bookings repository.BookingRepository,
	tx repository.Transactor,
	logger *zap.Logger,
	defaultSlotMinutes int,
	opts ...AvailabilityServiceOption,
) *AvailabilityService {
	service := &AvailabilityService{
		availability:       availability,
		bookings:           bookings,
		tx:                 tx,
		logger:             logger,
		defaultSlotMinutes: defaultSlotMinutes,
		calendarTimeout:    1500 * time.Millisecond,
		maxDays:            31,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

type AvailabilityQuery struct {
	ResponderID string
	// Date is the first local day to resolve, Days the number of days.
	Date     time.Time
	Days     int
	Timezone string
}

type RuleInput struct {
	DayOfWeek   int    `json:"day_of_week"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	SlotMinutes int    `json:"slot_minutes"`
	Timezone    string `json:"timezone"`
}

type OverrideInput struct {
	ResponderID string `json:"-"`
	Date        string `json:"date"`
	Kind        string `json:"kind"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Timezone    string `json:"timezone"`
	Reason      string `json:"reason"`
}

type BlockDatesInput struct {
	ResponderID string `json:"-"`
	From        string `json:"from"`
	To          string `json:"to"`
	Timezone    string `json:"timezone"`
	Reason      string `json:"reason"`
}

const maxBlockDays = 366

func (s *AvailabilityService) GetAvailability(ctx context.Context, query AvailabilityQuery) ([]domain.Slot, error) {
	if query.ResponderID == "" {
		return nil, fmt.Errorf("%w: responder id is required", domain.ErrInvalidRequest)
	}
	if query.Days == 0 {
		query.Days = 1
	}
	if query.Days < 0 || query.Days > s.maxDays {
		return nil, fmt.Errorf("%w: days must be within 1-%d", domain.ErrInvalidRequest, s.maxDays)
	}
	if query.Timezone == "" {
		query.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(query.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", domain.ErrInvalidRequest, query.Timezone)
	}

	start := time.Date(query.Date.Year(), query.Date.Month(), query.Date.Day(), 0, 0, 0, 0, loc)
	rng := domain.Interval{Start: start, End: start.AddDate(0, 0, query.Days)}
	return s.resolve(ctx, query.ResponderID, rng, query.Timezone, "")
}

// CheckWindow verifies that window lies inside a single open window of the responder.
// ignoreBookingID drops that booking's own claim, which a reschedule needs.
func (s *AvailabilityService) CheckWindow(ctx context.Context, responderID string, window domain.Interval, ignoreBookingID string) error {
	if window.Empty() {
		return fmt.Errorf("%w: start must be before end", domain.ErrInvalidRequest)
	}
	rng := domain.Interval{Start: window.Start.Add(-24 * time.Hour), End: window.End.Add(24 * time.Hour)}
	slots, err := s.resolve(ctx, responderID, rng, "UTC", ignoreBookingID)
	if err != nil {
		return err
	}
	if !Contains(slots, window.UTC()) {
		return fmt.Errorf("%w: window is outside the responder's open hours", domain.ErrSlotUnavailable)
	}
	return nil
}

func (s *AvailabilityService) resolve(ctx context.Context, responderID string, rng domain.Interval, tz, ignoreBookingID string) ([]domain.Slot, error) {
	rules, err := s.availability.ListRules(ctx, responderID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	// Overrides are stored by local date; widen by a day to catch every timezone.
	overrides, err := s.availability.ListOverrides(ctx, responderID, rng.Start.AddDate(0, 0, -1), rng.End.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	live, err := s.bookings.ListLive(ctx, responderID, rng)
	if err != nil {
		return nil, fmt.Errorf("list live bookings: %w", err)
	}

	claims := make([]domain.Interval, 0, len(live))
	for _, b := range live {
		if b.ID == ignoreBookingID {
			continue
		}
		claims = append(claims, b.Window())
	}

	return Resolve(Query{
		Range:              rng,
		Timezone:           tz,
		Rules:              rules,
		Overrides:          overrides,
		Busy:               s.busy(ctx, responderID, rng),
		Claims:             claims,
		DefaultSlotMinutes: s.defaultSlotMinutes,
	})
}

// busy never fails: a slow or broken calendar yields no busy intervals.
func (s *AvailabilityService) busy(ctx context.Context, responderID string, rng domain.Interval) []domain.Interval {
	if s.calendar == nil {
		return nil
	}
	if s.cache != nil {
		cached, ok, err := s.cache.GetBusy(ctx, responderID, rng)
		if err != nil {
			s.logger.Warn("busy cache read failed", zap.String("responder_id", responderID), zap.Error(err))
		} else if ok {
			return cached
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.calendarTimeout)
	defer cancel()

	busy, err := s.calendar.Busy(callCtx, responderID, rng)
	if err != nil {
		s.logger.Warn("calendar unavailable, treating responder as free",
			zap.String("responder_id", responderID),
			zap.NamedError("degraded", fmt.Errorf("%w: %w", domain.ErrExternalServiceDegraded, err)),
			zap.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
		)
		return nil
	}

	if s.cache != nil {
		if err := s.cache.SetBusy(ctx, responderID, rng, busy); err != nil {
			s.logger.Warn("busy cache write failed", zap.String("responder_id", responderID), zap.Error(err))
		}
	}
	return busy
}

func (s *AvailabilityService) ReplaceRules(ctx context.Context, responderID string, inputs []RuleInput) ([]domain.AvailabilityRule, error) {
	if responderID == "" {
		return nil, fmt.Errorf("%w: responder id is required", domain.ErrInvalidRequest)
	}
	rules := make([]domain.AvailabilityRule, 0, len(inputs))
	for _, in := range inputs {
		start, err := domain.ParseTimeOfDay(in.StartTime)
		if err != nil {
			return nil, err
		}
		end, err := parseEndOfDay(in.EndTime)
		if err != nil {
			return nil, err
		}
		slot := in.SlotMinutes
		if slot == 0 {
			slot = s.defaultSlotMinutes
		}
		rule := domain.AvailabilityRule{
			ID:          uuid.NewString(),
			ResponderID: responderID,
			DayOfWeek:   time.Weekday(in.DayOfWeek),
			StartTime:   start,
			EndTime:     end,
			SlotMinutes: slot,
			Timezone:    in.Timezone,
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.availability.ReplaceRules(ctx, responderID, rules)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("availability rules replaced", zap.String("responder_id", responderID), zap.Int("rules", len(rules)))
	return rules, nil
}

func (s *AvailabilityService) ListRules(ctx context.Context, responderID string) ([]domain.AvailabilityRule, error) {
	return s.availability.ListRules(ctx, responderID)
}

func (s *AvailabilityService) ListOverrides(ctx context.Context, responderID string, from, to time.Time) ([]domain.AvailabilityOverride, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: from must not be after to", domain.ErrInvalidRequest)
	}
	return s.availability.ListOverrides(ctx, responderID, from, to)
}

func (s *AvailabilityService) CreateOverride(ctx context.Context, input OverrideInput) (*domain.AvailabilityOverride, error) {
	date, err := time.Parse(time.DateOnly, input.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrInvalidRequest)
	}
	override := domain.AvailabilityOverride{
		ID:          uuid.NewString(),
		ResponderID: input.ResponderID,
		Date:        date,
		Kind:        domain.OverrideKind(input.Kind),
		Timezone:    input.Timezone,
		Reason:      input.Reason,
	}
	if input.StartTime != "" || input.EndTime != "" {
		start, err := domain.ParseTimeOfDay(input.StartTime)
		if err != nil {
			return nil, err
		}
		end, err := parseEndOfDay(input.EndTime)
		if err != nil {
			return nil, err
		}
		override.StartTime, override.EndTime = &start, &end
	}
	if override.ResponderID == "" {
		return nil, fmt.Errorf("%w: responder id is required", domain.ErrInvalidRequest)
	}
	if err := override.Validate(); err != nil {
		return nil, err
	}

	overrides := []domain.AvailabilityOverride{override}
	if err := s.availability.CreateOverrides(ctx, overrides); err != nil {
		return nil, err
	}
	return &overrides[0], nil
}

// DeleteOverride removes an override on behalf of the responder who owns it.
func (s *AvailabilityService) DeleteOverride(ctx context.Context, actorID, id string) (*domain.AvailabilityOverride, error) {
	var deleted *domain.AvailabilityOverride
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		override, err := s.availability.GetOverrideForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if actorID == "" || actorID != override.ResponderID {
			return fmt.Errorf("%w: only the responder can change availability", domain.ErrForbidden)
		}
		deleted, err = s.availability.DeleteOverride(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// BlockDates writes one whole-day blocked override per date in [From, To].
func (s *AvailabilityService) BlockDates(ctx context.Context, input BlockDatesInput) ([]domain.AvailabilityOverride, error) {
	from, err := time.Parse(time.DateOnly, input.From)
	if err != nil {
		return nil, fmt.Errorf("%w: from must be YYYY-MM-DD", domain.ErrInvalidRequest)
	}
	to, err := time.Parse(time.DateOnly, input.To)
	if err != nil {
		return nil, fmt.Errorf("%w: to must be YYYY-MM-DD", domain.ErrInvalidRequest)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: from must not be after to", domain.ErrInvalidRequest)
	}
	if to.Sub(from) >= maxBlockDays*24*time.Hour {
		return nil, fmt.Errorf("%w: at most %d days can be blocked at once", domain.ErrInvalidRequest, maxBlockDays)
	}
	if input.ResponderID == "" {
		return nil, fmt.Errorf("%w: responder id is required", domain.ErrInvalidRequest)
	}

	overrides := make([]domain.AvailabilityOverride, 0)
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		o := domain.AvailabilityOverride{
			ID:          uuid.NewString(),
			ResponderID: input.ResponderID,
			Date:        day,
			Kind:        domain.OverrideBlocked,
			Timezone:    input.Timezone,
			Reason:      input.Reason,
		}
		if err := o.Validate(); err != nil {
			return nil, err
		}
		overrides = append(overrides, o)
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.availability.CreateOverrides(ctx, overrides)
	})
	if err != nil {
		return nil, err
	}
	return overrides, nil
}

// parseEndOfDay accepts "24:00" as the end of the day in addition to HH:MM.
func parseEndOfDay(s string) (domain.TimeOfDay, error) {
	if s == "24:00" {
		return domain.MinutesPerDay, nil
	}
	return domain.ParseTimeOfDay(s)
}

var _ AvailabilityUseCase = (*AvailabilityService)(nil)
