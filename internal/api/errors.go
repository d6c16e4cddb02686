package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"tableside/server/internal/auth"
	"tableside/server/internal/services"
)

// statusFor код HTTP для вида ошибки сервиса
func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindUnknownOrder, services.KindUnknownTable, services.KindUnknownTicket,
		services.KindUnknownTicketItem, services.KindUnknownBill, services.KindUnknownMenuItem,
		services.KindUnknownCustomer:
		return http.StatusNotFound
	case services.KindTableUnavailable, services.KindTableOccupied, services.KindOrderClosed,
		services.KindOrderNotServable, services.KindIllegalTransition, services.KindAlreadyPaid,
		services.KindConflict:
		return http.StatusConflict
	case services.KindEmptyOrder, services.KindSplitMismatch, services.KindDiscountExceedsTotal,
		services.KindInsufficientPayment, services.KindCreditRequiresCustomer:
		return http.StatusUnprocessableEntity
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// respondError отдает {"error": kind, "details": причина}
func respondError(c *gin.Context, err error) {
	if errors.Is(err, auth.ErrInvalidToken) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "details": err.Error()})
		return
	}

	kind := services.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		log.Printf("❌ %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.AbortWithStatusJSON(status, gin.H{"error": "Internal", "details": "internal server error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": string(kind), "details": services.Message(err)})
}

// badRequest ошибка разбора тела запроса
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": string(services.KindValidation), "details": err.Error()})
}
