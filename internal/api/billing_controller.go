package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tableside/server/internal/services"
)

// BillingController касса: счета, оплата, клиенты с долгом
type BillingController struct {
	billing *services.BillingService
}

func NewBillingController(billing *services.BillingService) *BillingController {
	return &BillingController{billing: billing}
}

type SettleRequest struct {
	Legs            []services.LegInput `json:"legs"`
	ExpectedVersion int64               `json:"expected_version"`
}

type ChangeDueRequest struct {
	Total decimal.Decimal     `json:"total"`
	Legs  []services.LegInput `json:"legs"`
}

// ComputeBill POST /api/v1/orders/:id/bill
func (bc *BillingController) ComputeBill(c *gin.Context) {
	var req services.ComputeBillInput
	// Пустое тело: ставки по умолчанию без скидки
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	bill, err := bc.billing.ComputeBill(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bill)
}

// GetBill GET /api/v1/orders/:id/bill
func (bc *BillingController) GetBill(c *gin.Context) {
	bill, err := bc.billing.GetBill(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bill)
}

// Settle POST /api/v1/bills/:id/settle
func (bc *BillingController) Settle(c *gin.Context) {
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := bc.billing.Settle(c.Request.Context(), actorFrom(c), c.Param("id"), req.Legs, req.ExpectedVersion)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ChangeDue POST /api/v1/bills/change-due
func (bc *BillingController) ChangeDue(c *gin.Context) {
	var req ChangeDueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	change, err := services.ChangeDue(req.Legs, req.Total)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": req.Total.StringFixed(2), "change": change.StringFixed(2)})
}

// CreateCustomer POST /api/v1/customers
func (bc *BillingController) CreateCustomer(c *gin.Context) {
	var req services.CreateCustomerInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	customer, err := bc.billing.CreateCustomer(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

// GetCustomer GET /api/v1/customers/:id
func (bc *BillingController) GetCustomer(c *gin.Context) {
	customer, err := bc.billing.GetCustomer(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}
