package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"tableside/server/internal/auth"
	"tableside/server/internal/events"
	"tableside/server/internal/services"
)

// Deps все, что нужно HTTP слою
type Deps struct {
	Tables  *services.TableService
	Orders  *services.OrderService
	Kitchen *services.KitchenService
	Billing *services.BillingService
	Catalog services.Catalog

	Broker     *events.Broker
	KitchenHub *Hub
	FloorHub   *Hub

	Tokens      *auth.Tokens
	Environment string
	Ping        func(ctx context.Context) error
}

func NewRouter(d Deps) *gin.Engine {
	if d.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Создаем пустой движок без лишних прослоек
	r := gin.New()
	r.Use(gin.Recovery())

	// Health check endpoint (до CORS и авторизации)
	r.GET("/api/v1/health", func(c *gin.Context) {
		status, database := "ok", "up"
		if d.Ping != nil {
			if err := d.Ping(c.Request.Context()); err != nil {
				status, database = "degraded", err.Error()
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   status,
			"service":  "Tableside Floor Server",
			"version":  "1.0.0",
			"database": database,
		})
	})

	r.Use(RequestLogger())
	r.Use(CORS())

	apiGroup := r.Group("/api/v1")

	authController := NewAuthController(d.Tokens)
	if d.Environment != "production" {
		apiGroup.POST("/auth/token", authController.IssueToken)
	}

	secured := apiGroup.Group("")
	secured.Use(RequireActor(d.Tokens))
	secured.GET("/auth/me", authController.Me)

	if d.Catalog != nil {
		menuController := NewMenuController(d.Catalog)
		secured.GET("/menu", menuController.GetMenu)
	}

	tableController := NewTableController(d.Tables)
	tablesGroup := secured.Group("/tables")
	{
		tablesGroup.POST("", tableController.CreateTable)
		tablesGroup.GET("", tableController.ListTables)
		tablesGroup.GET("/:id", tableController.GetTable)
		tablesGroup.PUT("/:id/status", tableController.SetStatus)
	}

	orderController := NewOrderController(d.Orders, d.Broker)
	billingController := NewBillingController(d.Billing)
	ordersGroup := secured.Group("/orders")
	{
		ordersGroup.POST("", orderController.CreateOrder)
		ordersGroup.GET("", orderController.ListOrders)
		ordersGroup.GET("/:id", orderController.GetOrder)
		ordersGroup.POST("/:id/items", orderController.AppendItems)
		ordersGroup.POST("/:id/status", orderController.AdvanceStatus)
		ordersGroup.POST("/:id/cancel", orderController.CancelOrder)
		ordersGroup.POST("/:id/transfer", orderController.TransferOrder)
		ordersGroup.GET("/:id/history", orderController.History)
		ordersGroup.GET("/:id/watch", orderController.Watch)
		ordersGroup.POST("/:id/bill", billingController.ComputeBill)
		ordersGroup.GET("/:id/bill", billingController.GetBill)
	}

	billsGroup := secured.Group("/bills")
	{
		billsGroup.POST("/change-due", billingController.ChangeDue)
		billsGroup.POST("/:id/settle", billingController.Settle)
	}

	customersGroup := secured.Group("/customers")
	{
		customersGroup.POST("", billingController.CreateCustomer)
		customersGroup.GET("/:id", billingController.GetCustomer)
	}

	kitchenController := NewKitchenController(d.Kitchen)
	kitchenGroup := secured.Group("/kitchen")
	{
		kitchenGroup.GET("/tickets", kitchenController.ListTickets)
		kitchenGroup.POST("/tickets/:id/start", kitchenController.StartTicket)
		kitchenGroup.POST("/tickets/:id/items/:entryId/ready", kitchenController.MarkItemReady)
		kitchenGroup.GET("/stats", kitchenController.Stats)
	}

	// WebSocket для планшетов поваров и зала
	if d.KitchenHub != nil {
		secured.GET("/ws/kitchen", ServeWS(d.KitchenHub))
	}
	if d.FloorHub != nil {
		secured.GET("/ws/floor", ServeWS(d.FloorHub))
	}

	return r
}
