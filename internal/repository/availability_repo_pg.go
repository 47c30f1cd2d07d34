package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AvailabilityRepository interface {
	ListRules(ctx context.Context, responderID string) ([]domain.AvailabilityRule, error)
	ReplaceRules(ctx context.Context, responderID string, rules []domain.AvailabilityRule) error
	ListOverrides(ctx context.Context, responderID string, from, to time.Time) ([]domain.AvailabilityOverride, error)
	CreateOverrides(ctx context.Context, overrides []domain.AvailabilityOverride) error
	GetOverrideForUpdate(ctx context.Context, id string) (*domain.AvailabilityOverride, error)
	DeleteOverride(ctx context.Context, id string) (*domain.AvailabilityOverride, error)
}

type PGAvailabilityRepository struct {
	db *pgxpool.Pool
}

func NewAvailabilityRepository(db *pgxpool.Pool) AvailabilityRepository {
	return &PGAvailabilityRepository{db: db}
}

func (r *PGAvailabilityRepository) ListRules(ctx context.Context, responderID string) ([]domain.AvailabilityRule, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `SELECT id, responder_id, day_of_week, start_minute, end_minute, slot_minutes,
		timezone, retired_at, created_at
		FROM availability_rules WHERE responder_id=$1 AND retired_at IS NULL
		ORDER BY day_of_week, start_minute`, responderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]domain.AvailabilityRule, 0)
	for rows.Next() {
		var (
			rule       domain.AvailabilityRule
			day        int16
			start, end int
		)
		if err := rows.Scan(&rule.ID, &rule.ResponderID, &day, &start, &end, &rule.SlotMinutes, &rule.Timezone,
			&rule.RetiredAt, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rule.DayOfWeek = time.Weekday(day)
		rule.StartTime, rule.EndTime = domain.TimeOfDay(start), domain.TimeOfDay(end)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ReplaceRules retires every active rule of the responder and inserts rules as the new set.
// Retired rows are kept for audit. Callers run it inside a transaction.
func (r *PGAvailabilityRepository) ReplaceRules(ctx context.Context, responderID string, rules []domain.AvailabilityRule) error {
	q := conn(ctx, r.db)
	if _, err := q.Exec(ctx, `UPDATE availability_rules SET retired_at=now()
		WHERE responder_id=$1 AND retired_at IS NULL`, responderID); err != nil {
		return fmt.Errorf("retire rules: %w", err)
	}

	for i := range rules {
		rule := &rules[i]
		if err := q.QueryRow(ctx, `INSERT INTO availability_rules (id, responder_id, day_of_week, start_minute, end_minute,
			slot_minutes, timezone)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at`,
			rule.ID, responderID, int16(rule.DayOfWeek), int(rule.StartTime), int(rule.EndTime), rule.SlotMinutes,
			rule.Timezone).Scan(&rule.CreatedAt); err != nil {
			return fmt.Errorf("insert rule: %w", err)
		}
	}
	return nil
}

// ListOverrides returns overrides whose date falls within [from, to] (dates only).
func (r *PGAvailabilityRepository) ListOverrides(ctx context.Context, responderID string, from, to time.Time) ([]domain.AvailabilityOverride, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `SELECT id, responder_id, override_date, kind, start_minute, end_minute,
		timezone, reason, created_at
		FROM availability_overrides
		WHERE responder_id=$1 AND override_date BETWEEN $2::date AND $3::date
		ORDER BY override_date, start_minute NULLS FIRST`,
		responderID, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	overrides := make([]domain.AvailabilityOverride, 0)
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, *o)
	}
	return overrides, rows.Err()
}

func (r *PGAvailabilityRepository) CreateOverrides(ctx context.Context, overrides []domain.AvailabilityOverride) error {
	q := conn(ctx, r.db)
	for i := range overrides {
		o := &overrides[i]
		if err := q.QueryRow(ctx, `INSERT INTO availability_overrides (id, responder_id, override_date, kind, start_minute,
			end_minute, timezone, reason)
			VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8)
			RETURNING created_at`,
			o.ID, o.ResponderID, o.Date.Format(time.DateOnly), o.Kind, minutesPtr(o.StartTime), minutesPtr(o.EndTime),
			o.Timezone, o.Reason).Scan(&o.CreatedAt); err != nil {
			return fmt.Errorf("insert override: %w", err)
		}
	}
	return nil
}

const overrideColumns = `id, responder_id, override_date, kind, start_minute, end_minute, timezone, reason, created_at`

func (r *PGAvailabilityRepository) GetOverrideForUpdate(ctx context.Context, id string) (*domain.AvailabilityOverride, error) {
	o, err := scanOverride(conn(ctx, r.db).QueryRow(ctx, `SELECT `+overrideColumns+` FROM availability_overrides
		WHERE id=$1 FOR UPDATE`, id))
	return o, mapError(err, "override "+id)
}

func (r *PGAvailabilityRepository) DeleteOverride(ctx context.Context, id string) (*domain.AvailabilityOverride, error) {
	o, err := scanOverride(conn(ctx, r.db).QueryRow(ctx, `DELETE FROM availability_overrides WHERE id=$1
		RETURNING `+overrideColumns, id))
	return o, mapError(err, "override "+id)
}

func scanOverride(row pgx.Row) (*domain.AvailabilityOverride, error) {
	var (
		o          domain.AvailabilityOverride
		start, end *int
	)
	if err := row.Scan(&o.ID, &o.ResponderID, &o.Date, &o.Kind, &start, &end, &o.Timezone, &o.Reason, &o.CreatedAt); err != nil {
		return nil, err
	}
	if start != nil && end != nil {
		s, e := domain.TimeOfDay(*start), domain.TimeOfDay(*end)
		o.StartTime, o.EndTime = &s, &e
	}
	return &o, nil
}

func minutesPtr(t *domain.TimeOfDay) *int {
	if t == nil {
		return nil
	}
	m := int(*t)
	return &m
}

var _ AvailabilityRepository = (*PGAvailabilityRepository)(nil)
