package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/Domenick1991/slotbooking/internal/gateway"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

type EventProcessor interface {
	HandleEvent(ctx context.Context, event gateway.Event) error
}

type EventQueue interface {
	EnqueueEvent(ctx context.Context, event gateway.Event) error
}

type WebhookHandler struct {
	gateway   gateway.Gateway
	processor EventProcessor
	queue     EventQueue
	logger    *zap.Logger
}

func NewWebhookHandler(gw gateway.Gateway, processor EventProcessor, queue EventQueue, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{gateway: gw, processor: processor, queue: queue, logger: logger}
}

func (h *WebhookHandler) Register(router *gin.RouterGroup) {
	router.POST("/stripe", h.stripe)
}

// stripe acknowledges an authentic notification once it is processed or queued for retry.
// When neither happened it answers 503 so the gateway resends it.
func (h *WebhookHandler) stripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "cannot read body")
		return
	}

	event, err := h.gateway.ParseEvent(payload, c.GetHeader("Stripe-Signature"))
	if errors.Is(err, gateway.ErrInvalidSignature) {
		h.logger.Warn("rejected webhook with bad signature")
		badRequest(c, "invalid signature")
		return
	}
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	if err := h.processor.HandleEvent(ctx, event); err != nil {
		h.logger.Error("webhook processing failed",
			zap.String("event_id", event.EventID()),
			zap.String("type", event.EventType()),
			zap.Error(err),
		)
		if qerr := h.queue.EnqueueEvent(context.WithoutCancel(ctx), event); qerr != nil {
			h.logger.Error("failed to queue webhook retry", zap.String("event_id", event.EventID()), zap.Error(qerr))
			writeError(c, fmt.Errorf("%w: webhook %s was not processed", domain.ErrExternalServiceDegraded, event.EventID()))
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
