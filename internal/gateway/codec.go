package gateway

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Kind  string          `json:"kind"`
	Event json.RawMessage `json:"event"`
}

const (
	kindChargeSucceeded = "charge_succeeded"
	kindChargeFailed    = "charge_failed"
	kindChargeRefunded  = "charge_refunded"
	kindRefundUpdated   = "refund_updated"
	kindUnknown         = "unknown"
)

// Encode serializes a verified event so it can be replayed later without its signature.
func Encode(e Event) ([]byte, error) {
	var kind string
	switch e.(type) {
	case ChargeSucceeded:
		kind = kindChargeSucceeded
	case ChargeFailed:
		kind = kindChargeFailed
	case ChargeRefunded:
		kind = kindChargeRefunded
	case RefundUpdated:
		kind = kindRefundUpdated
	case Unknown:
		kind = kindUnknown
	default:
		return nil, fmt.Errorf("encode event: unsupported type %T", e)
	}

	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: kind, Event: body})
}

func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	switch env.Kind {
	case kindChargeSucceeded:
		return decodeAs[ChargeSucceeded](env.Event)
	case kindChargeFailed:
		return decodeAs[ChargeFailed](env.Event)
	case kindChargeRefunded:
		return decodeAs[ChargeRefunded](env.Event)
	case kindRefundUpdated:
		return decodeAs[RefundUpdated](env.Event)
	case kindUnknown:
		return decodeAs[Unknown](env.Event)
	}
	return nil, fmt.Errorf("decode event: unknown kind %q", env.Kind)
}

func decodeAs[T Event](raw json.RawMessage) (Event, error) {
	var e T
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode event body: %w", err)
	}
	return e, nil
}
