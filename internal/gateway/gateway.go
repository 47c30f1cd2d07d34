package gateway

import (
	"context"
	"errors"

	"github.com/Domenick1991/slotbooking/internal/domain"
)

// ErrInvalidSignature means a webhook payload could not be authenticated.
var ErrInvalidSignature = errors.New("invalid webhook signature")

type ChargeRequest struct {
	BookingID   string
	Description string
	Amount      int64
	Currency    string
}

type Charge struct {
	ExternalRef string
	IntentRef   string
	CheckoutURL string
}

type RefundRequest struct {
	RefundID    string
	BookingID   string
	ExternalRef string
	IntentRef   string
	Amount      int64
}

type Refund struct {
	ExternalRef string
	Status      domain.RefundStatus
}

// Gateway is the payment provider as seen by reconciliation.
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
	ParseEvent(payload []byte, signature string) (Event, error)
}

// Event is a verified gateway notification. The set of implementations is closed: every
// handler must implement EventHandler, so adding a kind breaks the build until it is handled.
type Event interface {
	EventID() string
	EventType() string
	Accept(ctx context.Context, h EventHandler) error
	sealed()
}

type EventHandler interface {
	OnChargeSucceeded(ctx context.Context, e ChargeSucceeded) error
	OnChargeFailed(ctx context.Context, e ChargeFailed) error
	OnChargeRefunded(ctx context.Context, e ChargeRefunded) error
	OnRefundUpdated(ctx context.Context, e RefundUpdated) error
	OnUnknown(ctx context.Context, e Unknown) error
}

type Meta struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func (m Meta) EventID() string   { return m.ID }
func (m Meta) EventType() string { return m.Type }
func (Meta) sealed()             {}

// ChargeSucceeded carries the amount actually captured.
type ChargeSucceeded struct {
	Meta
	BookingID   string `json:"booking_id"`
	ExternalRef string `json:"external_ref"`
	IntentRef   string `json:"intent_ref"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

type ChargeFailed struct {
	Meta
	BookingID   string `json:"booking_id"`
	ExternalRef string `json:"external_ref"`
	IntentRef   string `json:"intent_ref"`
	Reason      string `json:"reason"`
}

// ChargeRefunded reports the cumulative refunded amount of a charge.
type ChargeRefunded struct {
	Meta
	BookingID      string `json:"booking_id"`
	IntentRef      string `json:"intent_ref"`
	AmountRefunded int64  `json:"amount_refunded"`
	Full           bool   `json:"full"`
}

type RefundUpdated struct {
	Meta
	RefundID    string              `json:"refund_id"`
	ExternalRef string              `json:"external_ref"`
	Status      domain.RefundStatus `json:"status"`
}

type Unknown struct {
	Meta
}

func (e ChargeSucceeded) Accept(ctx context.Context, h EventHandler) error {
	return h.OnChargeSucceeded(ctx, e)
}

func (e ChargeFailed) Accept(ctx context.Context, h EventHandler) error {
	return h.OnChargeFailed(ctx, e)
}

func (e ChargeRefunded) Accept(ctx context.Context, h EventHandler) error {
	return h.OnChargeRefunded(ctx, e)
}

func (e RefundUpdated) Accept(ctx context.Context, h EventHandler) error {
	return h.OnRefundUpdated(ctx, e)
}

func (e Unknown) Accept(ctx context.Context, h EventHandler) error {
	return h.OnUnknown(ctx, e)
}

var (
	_ Event = ChargeSucceeded{}
	_ Event = ChargeFailed{}
	_ Event = ChargeRefunded{}
	_ Event = RefundUpdated{}
	_ Event = Unknown{}
)
