package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tableside/server/internal/models"
	"tableside/server/internal/services"
	"tableside/server/internal/store"
)

// KitchenController API для кухонной доски
type KitchenController struct {
	kitchen *services.KitchenService
}

func NewKitchenController(kitchen *services.KitchenService) *KitchenController {
	return &KitchenController{kitchen: kitchen}
}

// ListTickets GET /api/v1/kitchen/tickets?station=&status=&order_id=
func (kc *KitchenController) ListTickets(c *gin.Context) {
	filter := store.TicketFilter{
		Station: c.Query("station"),
		Status:  models.TicketStatus(c.Query("status")),
		OrderID: c.Query("order_id"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(services.KindValidation), "details": "unknown ticket status " + string(filter.Status)})
		return
	}

	tickets, err := kc.kitchen.ListTickets(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets, "count": len(tickets)})
}

// StartTicket POST /api/v1/kitchen/tickets/:id/start
func (kc *KitchenController) StartTicket(c *gin.Context) {
	ticket, err := kc.kitchen.StartTicket(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// MarkItemReady POST /api/v1/kitchen/tickets/:id/items/:entryId/ready
func (kc *KitchenController) MarkItemReady(c *gin.Context) {
	result, err := kc.kitchen.MarkItemReady(c.Request.Context(), actorFrom(c), c.Param("id"), c.Param("entryId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Stats GET /api/v1/kitchen/stats?station=&date=YYYY-MM-DD
func (kc *KitchenController) Stats(c *gin.Context) {
	var day time.Time
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": string(services.KindValidation), "details": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	stats, err := kc.kitchen.Stats(c.Request.Context(), c.Query("station"), day)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
