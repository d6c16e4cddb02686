package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tableside/server/internal/events"
	"tableside/server/internal/models"
	"tableside/server/internal/services"
	"tableside/server/internal/store"
)

const watchHeartbeat = 15 * time.Second

type OrderController struct {
	orders *services.OrderService
	broker *events.Broker
}

func NewOrderController(orders *services.OrderService, broker *events.Broker) *OrderController {
	return &OrderController{orders: orders, broker: broker}
}

type AppendItemsRequest struct {
	Items           []services.ItemInput `json:"items"`
	ExpectedVersion int64                `json:"expected_version"`
}

type AdvanceStatusRequest struct {
	Status          models.OrderStatus `json:"status" binding:"required"`
	ExpectedVersion int64              `json:"expected_version"`
}

type CancelOrderRequest struct {
	Reason          string `json:"reason"`
	ExpectedVersion int64  `json:"expected_version"`
}

type TransferOrderRequest struct {
	TableID         string `json:"table_id" binding:"required"`
	ExpectedVersion int64  `json:"expected_version"`
}

// CreateOrder POST /api/v1/orders
func (oc *OrderController) CreateOrder(c *gin.Context) {
	var req services.CreateOrderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := oc.orders.CreateOrder(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// ListOrders GET /api/v1/orders?status=pending,ready&kind=&table_id=&staff_id=&limit=
func (oc *OrderController) ListOrders(c *gin.Context) {
	filter := store.OrderFilter{
		Kind:    models.OrderKind(c.Query("kind")),
		TableID: c.Query("table_id"),
		StaffID: c.Query("staff_id"),
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, models.OrderStatus(s))
			}
		}
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": string(services.KindValidation), "details": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}

	orders, err := oc.orders.ListOrders(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

// GetOrder GET /api/v1/orders/:id
func (oc *OrderController) GetOrder(c *gin.Context) {
	order, err := oc.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// AppendItems POST /api/v1/orders/:id/items
func (oc *OrderController) AppendItems(c *gin.Context) {
	var req AppendItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := oc.orders.AppendItems(c.Request.Context(), actorFrom(c), c.Param("id"), req.Items, req.ExpectedVersion)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// AdvanceStatus POST /api/v1/orders/:id/status
func (oc *OrderController) AdvanceStatus(c *gin.Context) {
	var req AdvanceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := oc.orders.AdvanceStatus(c.Request.Context(), actorFrom(c), c.Param("id"), req.Status, req.ExpectedVersion)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// CancelOrder POST /api/v1/orders/:id/cancel
func (oc *OrderController) CancelOrder(c *gin.Context) {
	var req CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := oc.orders.CancelOrder(c.Request.Context(), actorFrom(c), c.Param("id"), req.Reason, req.ExpectedVersion)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// TransferOrder POST /api/v1/orders/:id/transfer
func (oc *OrderController) TransferOrder(c *gin.Context) {
	var req TransferOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := oc.orders.TransferOrder(c.Request.Context(), actorFrom(c), c.Param("id"), req.TableID, req.ExpectedVersion)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// History GET /api/v1/orders/:id/history
func (oc *OrderController) History(c *gin.Context) {
	history, err := oc.orders.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": c.Param("id"), "history": history})
}

// Watch GET /api/v1/orders/:id/watch
// SSE: сначала снимок заказа, дальше события заказа до закрытия или отключения клиента.
func (oc *OrderController) Watch(c *gin.Context) {
	id := c.Param("id")
	sub := oc.broker.Subscribe(events.OrderTopic(id))
	defer sub.Close()

	// Снимок берем после подписки, чтобы не потерять событие между ними
	snapshot, err := oc.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", snapshot)
	c.Writer.Flush()
	if snapshot.Status.IsTerminal() {
		return
	}

	heartbeat := time.NewTicker(watchHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		case e, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(string(e.Type), e)
			if e.Type == events.OrderStatusChanged && models.OrderStatus(e.Status).IsTerminal() {
				return false
			}
			return true
		}
	})
}
