package domain

import "errors"

var (
	ErrInvalidRequest          = errors.New("invalid request")
	ErrSlotUnavailable         = errors.New("slot unavailable")
	ErrNotFound                = errors.New("not found")
	ErrForbidden               = errors.New("forbidden")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrPaymentRequired         = errors.New("payment required")
	ErrPaymentFailed           = errors.New("payment failed")
	ErrExternalServiceDegraded = errors.New("external service degraded")
)
