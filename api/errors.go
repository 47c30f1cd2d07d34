package api

import (
	"errors"
	"net/http"

	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// errorStatus maps the error taxonomy onto HTTP. The first matching kind wins.
var errorStatus = []struct {
	kind    error
	status  int
	code    string
	message string
}{
	{domain.ErrInvalidRequest, http.StatusBadRequest, "invalid_request", ""},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden", "you are not allowed to do that"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found", ""},
	{domain.ErrSlotUnavailable, http.StatusConflict, "slot_unavailable", "that time is no longer available, please pick another"},
	{domain.ErrInvalidStatusTransition, http.StatusConflict, "invalid_status_transition", ""},
	{domain.ErrPaymentRequired, http.StatusPaymentRequired, "payment_required", "payment is required to continue"},
	{domain.ErrPaymentFailed, http.StatusPaymentRequired, "payment_failed", ""},
	{domain.ErrExternalServiceDegraded, http.StatusServiceUnavailable, "external_service_degraded", "a dependent service is unavailable, please retry"},
}

func writeError(c *gin.Context, err error) {
	for _, e := range errorStatus {
		if !errors.Is(err, e.kind) {
			continue
		}
		message := e.message
		if message == "" {
			// Validation, lookup and gateway errors carry a useful detail.
			message = err.Error()
		}
		c.JSON(e.status, errorResponse{Error: e.code, Message: message})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: message})
}
