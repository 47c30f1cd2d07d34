package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Domenick1991/slotbooking/config"
	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

const metadataBookingID = "booking_id"
const metadataRefundID = "refund_id"

// Stripe charges through Checkout sessions and refunds through payment intents.
type Stripe struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
}

func NewStripe(cfg config.StripeConfig) *Stripe {
	return NewStripeWithBackends(cfg, nil)
}

// NewStripeWithBackends lets tests point the client at a local server.
func NewStripeWithBackends(cfg config.StripeConfig, backends *stripe.Backends) *Stripe {
	return &Stripe{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}
}

func (s *Stripe) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(req.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(req.Amount),
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{metadataBookingID: req.BookingID},
		},
		ClientReferenceID: stripe.String(req.BookingID),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
	}
	params.Context = ctx
	params.AddMetadata(metadataBookingID, req.BookingID)
	params.SetIdempotencyKey("charge-" + req.BookingID)

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	charge := &Charge{ExternalRef: sess.ID, CheckoutURL: sess.URL}
	if sess.PaymentIntent != nil {
		charge.IntentRef = sess.PaymentIntent.ID
	}
	return charge, nil
}

func (s *Stripe) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	intent := req.IntentRef
	if intent == "" {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		sess, err := s.api.CheckoutSessions.Get(req.ExternalRef, params)
		if err != nil {
			return nil, fmt.Errorf("get checkout session: %w", err)
		}
		if sess.PaymentIntent == nil || sess.PaymentIntent.ID == "" {
			return nil, fmt.Errorf("no payment intent for session %s", req.ExternalRef)
		}
		intent = sess.PaymentIntent.ID
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intent),
		Amount:        stripe.Int64(req.Amount),
	}
	params.Context = ctx
	params.AddMetadata(metadataRefundID, req.RefundID)
	params.AddMetadata(metadataBookingID, req.BookingID)
	params.SetIdempotencyKey("refund-" + req.RefundID)

	r, err := s.api.Refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("create refund: %w", err)
	}
	return &Refund{ExternalRef: r.ID, Status: refundStatus(r.Status)}, nil
}

// ParseEvent verifies the Stripe-Signature header and maps the event onto the closed set.
func (s *Stripe) ParseEvent(payload []byte, signature string) (Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return mapEvent(event)
}

func mapEvent(event stripe.Event) (Event, error) {
	meta := Meta{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return Unknown{Meta: meta}, nil
	}
	raw := event.Data.Raw

	switch meta.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			return nil, fmt.Errorf("decode %s: %w", meta.Type, err)
		}
		// A completed session with a delayed payment method is not paid yet.
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			return Unknown{Meta: meta}, nil
		}
		return ChargeSucceeded{
			Meta:        meta,
			BookingID:   bookingFrom(sess.Metadata, sess.ClientReferenceID),
			ExternalRef: sess.ID,
			IntentRef:   intentID(sess.PaymentIntent),
			Amount:      sess.AmountTotal,
			Currency:    string(sess.Currency),
		}, nil

	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, fmt.Errorf("decode %s: %w", meta.Type, err)
		}
		return ChargeSucceeded{
			Meta:      meta,
			BookingID: bookingFrom(pi.Metadata, ""),
			IntentRef: pi.ID,
			Amount:    pi.AmountReceived,
			Currency:  string(pi.Currency),
		}, nil

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, fmt.Errorf("decode %s: %w", meta.Type, err)
		}
		reason := "payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			reason = pi.LastPaymentError.Msg
		}
		return ChargeFailed{
			Meta:      meta,
			BookingID: bookingFrom(pi.Metadata, ""),
			IntentRef: pi.ID,
			Reason:    reason,
		}, nil

	case "checkout.session.expired", "checkout.session.async_payment_failed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			return nil, fmt.Errorf("decode %s: %w", meta.Type, err)
		}
		reason := "checkout session expired"
		if meta.Type == "checkout.session.async_payment_failed" {
			reason = "payment failed"
		}
		return ChargeFailed{
			Meta:        meta,
			BookingID:   bookingFrom(sess.Metadata, sess.ClientReferenceID),
			ExternalRef: sess.ID,
			IntentRef:   intentID(sess.PaymentIntent),
			Reason:      reason,
		}, nil

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return nil, fmt.Errorf("decode %s: %w", meta.Type, err)
		}
		return ChargeRefunded{
			Meta:           meta,
			BookingID:      bookingFrom(ch.Metadata, ""),
			IntentRef:      intentID(ch.PaymentIntent),
			AmountRefunded: ch.AmountRefunded,
			Full:           ch.Refunded,
		}, nil

	case "refund.updated", "refund.failed", "charge.refund.updated":
		var r stripe.Refund
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", meta.Type, err)
		}
		return RefundUpdated{
			Meta:        meta,
			RefundID:    r.Metadata[metadataRefundID],
			ExternalRef: r.ID,
			Status:      refundStatus(r.Status),
		}, nil
	}

	return Unknown{Meta: meta}, nil
}

func bookingFrom(metadata map[string]string, fallback string) string {
	if id := metadata[metadataBookingID]; id != "" {
		return id
	}
	return fallback
}

func intentID(pi *stripe.PaymentIntent) string {
	if pi == nil {
		return ""
	}
	return pi.ID
}

func refundStatus(s stripe.RefundStatus) domain.RefundStatus {
	switch s {
	case stripe.RefundStatusSucceeded:
		return domain.RefundStatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return domain.RefundStatusFailed
	case stripe.RefundStatusPending, stripe.RefundStatusRequiresAction:
		return domain.RefundStatusProcessing
	}
	return domain.RefundStatusPending
}

var _ Gateway = (*Stripe)(nil)
