package payment

import (
	"time"

	"github.com/Domenick1991/slotbooking/config"
)

// RefundPolicy decides how much of a captured amount goes back on cancellation, by lead
// time before the session starts. It is independent of the cancellation cutoff.
type RefundPolicy struct {
	FullBefore     time.Duration
	PartialBefore  time.Duration
	PartialPercent int64
}

func DefaultRefundPolicy() RefundPolicy {
	return RefundPolicy{FullBefore: 24 * time.Hour, PartialBefore: 12 * time.Hour, PartialPercent: 50}
}

func NewRefundPolicy(cfg config.RefundConfig) RefundPolicy {
	return RefundPolicy{
		FullBefore:     time.Duration(cfg.FullRefundHours) * time.Hour,
		PartialBefore:  time.Duration(cfg.PartialRefundHours) * time.Hour,
		PartialPercent: int64(cfg.PartialPercent),
	}
}

// Percent is the refundable share for a cancellation at now of a session starting at start.
func (p RefundPolicy) Percent(start, now time.Time) int64 {
	lead := start.Sub(now)
	switch {
	case lead >= p.FullBefore:
		return 100
	case lead >= p.PartialBefore:
		return p.PartialPercent
	}
	return 0
}

// Compute returns the refund in minor units, rounded down.
func (p RefundPolicy) Compute(captured int64, start, now time.Time) int64 {
	if captured <= 0 {
		return 0
	}
	return captured * p.Percent(start, now) / 100
}
