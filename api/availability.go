package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/Domenick1991/slotbooking/internal/service/availability"
	"github.com/gin-gonic/gin"
)

type AvailabilityHandler struct {
	service availability.AvailabilityUseCase
}

func NewAvailabilityHandler(service availability.AvailabilityUseCase) *AvailabilityHandler {
	return &AvailabilityHandler{service: service}
}

func (h *AvailabilityHandler) Register(router *gin.RouterGroup) {
	responders := router.Group("/responders/:id")
	responders.GET("/availability", h.availability)
	responders.GET("/rules", h.listRules)
	responders.PUT("/rules", h.replaceRules)
	responders.GET("/overrides", h.listOverrides)
	responders.POST("/overrides", h.createOverride)
	responders.POST("/overrides/block", h.blockDates)
	router.DELETE("/overrides/:id", h.deleteOverride)
}

func (h *AvailabilityHandler) availability(c *gin.Context) {
	date := time.Now().UTC()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			badRequest(c, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}
	days := 1
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "days must be a number")
			return
		}
		days = n
	}

	slots, err := h.service.GetAvailability(c.Request.Context(), availability.AvailabilityQuery{
		ResponderID: c.Param("id"),
		Date:        date,
		Days:        days,
		Timezone:    c.Query("tz"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": toSlots(slots)})
}

func (h *AvailabilityHandler) listRules(c *gin.Context) {
	rules, err := h.service.ListRules(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": toRules(rules)})
}

// requireOwner lets only the responder change their own configuration.
func requireOwner(c *gin.Context, responderID string) bool {
	if actorID(c) != responderID {
		writeError(c, fmt.Errorf("%w: only the responder can change availability", domain.ErrForbidden))
		return false
	}
	return true
}

func (h *AvailabilityHandler) replaceRules(c *gin.Context) {
	responderID := c.Param("id")
	if !requireOwner(c, responderID) {
		return
	}
	var req struct {
		Rules []availability.RuleInput `json:"rules"`
	}
	if err := bindJSON(c, &req); err != nil {
		badRequest(c, err.Error())
		return
	}

	rules, err := h.service.ReplaceRules(c.Request.Context(), responderID, req.Rules)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": toRules(rules)})
}

func (h *AvailabilityHandler) listOverrides(c *gin.Context) {
	from, to := time.Now().UTC().AddDate(0, 0, -1), time.Now().UTC().AddDate(0, 0, 90)
	var err error
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse(time.DateOnly, raw); err != nil {
			badRequest(c, "from must be YYYY-MM-DD")
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse(time.DateOnly, raw); err != nil {
			badRequest(c, "to must be YYYY-MM-DD")
			return
		}
	}

	overrides, err := h.service.ListOverrides(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"overrides": toOverrides(overrides)})
}

func (h *AvailabilityHandler) createOverride(c *gin.Context) {
	responderID := c.Param("id")
	if !requireOwner(c, responderID) {
		return
	}
	var input availability.OverrideInput
	if err := bindJSON(c, &input); err != nil {
		badRequest(c, err.Error())
		return
	}
	input.ResponderID = responderID

	override, err := h.service.CreateOverride(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toOverride(*override))
}

func (h *AvailabilityHandler) blockDates(c *gin.Context) {
	responderID := c.Param("id")
	if !requireOwner(c, responderID) {
		return
	}
	var input availability.BlockDatesInput
	if err := bindJSON(c, &input); err != nil {
		badRequest(c, err.Error())
		return
	}
	input.ResponderID = responderID

	overrides, err := h.service.BlockDates(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"overrides": toOverrides(overrides)})
}

func (h *AvailabilityHandler) deleteOverride(c *gin.Context) {
	override, err := h.service.DeleteOverride(c.Request.Context(), actorID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOverride(*override))
}
