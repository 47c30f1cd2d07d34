package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func newTestRouter(bookings *MockBookingUseCase, origins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(Handlers{
		Availability: NewAvailabilityHandler(&MockAvailabilityUseCase{}),
		Bookings:     NewBookingHandler(bookings, &MockPaymentReader{}),
		Webhooks:     NewWebhookHandler(&MockGateway{}, &MockEventProcessor{}, &MockEventQueue{}, zap.NewNop()),
	}, origins, zap.NewNop())
}

func TestRouter_Healthz(t *testing.T) {
	router := newTestRouter(&MockBookingUseCase{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRouter_RoutesBookings(t *testing.T) {
	bookings := &MockBookingUseCase{}
	router := newTestRouter(bookings, nil)
	bookings.On("GetBooking", mock.Anything, "booking-1").Return(testBooking(domain.BookingStatusHeld), nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings/booking-1", nil)
	req.Header.Set(ActorHeader, "requester-1")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	bookings.AssertExpectations(t)
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(&MockBookingUseCase{}, []string{"https://app.example"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/bookings", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", ActorHeader)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
}
