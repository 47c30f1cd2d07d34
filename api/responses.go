package api

import (
	"time"

	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/Domenick1991/slotbooking/internal/service/payment"
)

type slotResponse struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
	Timezone  string    `json:"timezone"`
}

type ruleResponse struct {
	ID          string `json:"id"`
	DayOfWeek   int    `json:"day_of_week"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	SlotMinutes int    `json:"slot_minutes"`
	Timezone    string `json:"timezone"`
}

type overrideResponse struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Kind      string `json:"kind"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Timezone  string `json:"timezone"`
	Reason    string `json:"reason,omitempty"`
}

type bookingResponse struct {
	ID              string     `json:"id"`
	RequesterID     string     `json:"requester_id"`
	ResponderID     string     `json:"responder_id"`
	Status          string     `json:"status"`
	StartAt         time.Time  `json:"start_at"`
	EndAt           time.Time  `json:"end_at"`
	Timezone        string     `json:"timezone"`
	DurationMinutes int        `json:"duration_minutes"`
	PriceMinor      int64      `json:"price_minor"`
	Currency        string     `json:"currency"`
	HoldExpiresAt   *time.Time `json:"hold_expires_at,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	CancelledBy     string     `json:"cancelled_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type paymentResponse struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Amount         int64      `json:"amount"`
	CapturedAmount int64      `json:"captured_amount"`
	RefundedAmount int64      `json:"refunded_amount"`
	Currency       string     `json:"currency"`
	CheckoutURL    string     `json:"checkout_url,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type paymentSummaryResponse struct {
	Payment paymentResponse  `json:"payment"`
	Refunds []refundResponse `json:"refunds"`
}

type paymentRequestResponse struct {
	Booking bookingResponse `json:"booking"`
	Payment paymentResponse `json:"payment"`
}

type cancellationResponse struct {
	Booking bookingResponse `json:"booking"`
	Refund  *refundResponse `json:"refund"`
}

func toSlots(slots []domain.Slot) []slotResponse {
	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotResponse{Start: s.Start.UTC(), End: s.End.UTC(), Available: s.Available, Timezone: s.Timezone})
	}
	return out
}

func toRules(rules []domain.AvailabilityRule) []ruleResponse {
	out := make([]ruleResponse, 0, len(rules))
	for _, r := range rules {
		out = append(out, ruleResponse{
			ID:          r.ID,
			DayOfWeek:   int(r.DayOfWeek),
			StartTime:   r.StartTime.String(),
			EndTime:     r.EndTime.String(),
			SlotMinutes: r.SlotMinutes,
			Timezone:    r.Timezone,
		})
	}
	return out
}

func toOverride(o domain.AvailabilityOverride) overrideResponse {
	resp := overrideResponse{
		ID:       o.ID,
		Date:     o.Date.Format(time.DateOnly),
		Kind:     string(o.Kind),
		Timezone: o.Timezone,
		Reason:   o.Reason,
	}
	if !o.WholeDay() {
		resp.StartTime = o.StartTime.String()
		resp.EndTime = o.EndTime.String()
	}
	return resp
}

func toOverrides(overrides []domain.AvailabilityOverride) []overrideResponse {
	out := make([]overrideResponse, 0, len(overrides))
	for _, o := range overrides {
		out = append(out, toOverride(o))
	}
	return out
}

func toBooking(b *domain.Booking) bookingResponse {
	return bookingResponse{
		ID:              b.ID,
		RequesterID:     b.RequesterID,
		ResponderID:     b.ResponderID,
		Status:          string(b.Status),
		StartAt:         b.StartAt.UTC(),
		EndAt:           b.EndAt.UTC(),
		Timezone:        b.Timezone,
		DurationMinutes: b.DurationMinutes,
		PriceMinor:      b.PriceMinor,
		Currency:        b.Currency,
		HoldExpiresAt:   b.HoldExpiresAt,
		Notes:           b.Notes,
		CancelReason:    b.CancelReason,
		CancelledBy:     b.CancelledBy,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func toBookings(bookings []domain.Booking) []bookingResponse {
	out := make([]bookingResponse, 0, len(bookings))
	for i := range bookings {
		out = append(out, toBooking(&bookings[i]))
	}
	return out
}

func toPayment(p *domain.PaymentRecord) paymentResponse {
	return paymentResponse{
		ID:             p.ID,
		Status:         string(p.Status),
		Amount:         p.Amount,
		CapturedAmount: p.CapturedAmount,
		RefundedAmount: p.RefundedAmount,
		Currency:       p.Currency,
		CheckoutURL:    p.CheckoutURL,
		FailureReason:  p.FailureReason,
		PaidAt:         p.PaidAt,
	}
}

func toRefund(r *domain.RefundRecord) *refundResponse {
	if r == nil {
		return nil
	}
	return &refundResponse{ID: r.ID, Amount: r.Amount, Status: string(r.Status), Reason: r.Reason}
}

func toPaymentSummary(s *payment.Summary) paymentSummaryResponse {
	refunds := make([]refundResponse, 0, len(s.Refunds))
	for i := range s.Refunds {
		refunds = append(refunds, *toRefund(&s.Refunds[i]))
	}
	return paymentSummaryResponse{Payment: toPayment(s.Payment), Refunds: refunds}
}
