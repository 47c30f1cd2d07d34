package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/Domenick1991/slotbooking/internal/service/booking"
	"github.com/Domenick1991/slotbooking/internal/service/payment"
	"github.com/gin-gonic/gin"
)

// PaymentReader exposes the payment state of a booking.
type PaymentReader interface {
	GetPayment(ctx context.Context, bookingID string) (*payment.Summary, error)
}

type BookingHandler struct {
	service  booking.BookingUseCase
	payments PaymentReader
}

func NewBookingHandler(service booking.BookingUseCase, payments PaymentReader) *BookingHandler {
	return &BookingHandler{service: service, payments: payments}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("", h.list)
	router.GET("/:id", h.get)
	router.GET("/:id/payment", h.getPayment)
	router.POST("/:id/payment", h.requestPayment)
	router.POST("/:id/cancel", h.cancel)
	router.POST("/:id/reschedule", h.reschedule)
	router.POST("/:id/complete", h.complete)
}

func (h *BookingHandler) create(c *gin.Context) {
	var input booking.CreateBookingInput
	if err := bindJSON(c, &input); err != nil {
		badRequest(c, err.Error())
		return
	}
	input.RequesterID = actorID(c)
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		input.IdempotencyKey = key
	}

	b, err := h.service.CreateBooking(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toBooking(b))
}

func (h *BookingHandler) list(c *gin.Context) {
	filter := domain.BookingFilter{PartyID: actorID(c)}
	var err error
	if raw := c.Query("from"); raw != "" {
		if filter.From, err = time.Parse(time.RFC3339, raw); err != nil {
			badRequest(c, "from must be RFC3339")
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		if filter.To, err = time.Parse(time.RFC3339, raw); err != nil {
			badRequest(c, "to must be RFC3339")
			return
		}
	}
	if raw := c.Query("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil {
			badRequest(c, "limit must be a number")
			return
		}
	}

	bookings, err := h.service.ListBookings(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": toBookings(bookings)})
}

// visible loads the booking and checks that the caller is a party to it.
func (h *BookingHandler) visible(c *gin.Context) (*domain.Booking, bool) {
	b, err := h.service.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if !b.IsParty(actorID(c)) {
		writeError(c, fmt.Errorf("%w: not a party to booking %s", domain.ErrForbidden, b.ID))
		return nil, false
	}
	return b, true
}

func (h *BookingHandler) get(c *gin.Context) {
	b, ok := h.visible(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toBooking(b))
}

func (h *BookingHandler) getPayment(c *gin.Context) {
	b, ok := h.visible(c)
	if !ok {
		return
	}
	summary, err := h.payments.GetPayment(c.Request.Context(), b.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentSummary(summary))
}

func (h *BookingHandler) requestPayment(c *gin.Context) {
	result, err := h.service.RequestPayment(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, paymentRequestResponse{
		Booking: toBooking(result.Booking),
		Payment: toPayment(result.Payment),
	})
}

func (h *BookingHandler) cancel(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := bindJSON(c, &req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.service.CancelBooking(c.Request.Context(), c.Param("id"), actorID(c), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cancellationResponse{
		Booking: toBooking(result.Booking),
		Refund:  toRefund(result.Refund),
	})
}

func (h *BookingHandler) reschedule(c *gin.Context) {
	var input booking.RescheduleInput
	if err := bindJSON(c, &input); err != nil {
		badRequest(c, err.Error())
		return
	}

	b, err := h.service.RescheduleBooking(c.Request.Context(), c.Param("id"), actorID(c), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBooking(b))
}

func (h *BookingHandler) complete(c *gin.Context) {
	b, err := h.service.EndSession(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBooking(b))
}
