package handler

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"storefront/internal/domain"

	"github.com/gin-gonic/gin"
)

// writeError maps service errors to buyer-facing responses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrReferenceInUse):
		c.JSON(http.StatusConflict, gin.H{"error": "this reference number was already used"})
	case errors.Is(err, domain.ErrPaymentCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": "this payment was already completed"})
	case errors.Is(err, domain.ErrOrderNotPayable):
		c.JSON(http.StatusConflict, gin.H{"error": "this order is not awaiting payment"})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "request conflicts with the current payment state, please retry"})
	case errors.Is(err, domain.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment could not be started, please try again"})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domain.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
	default:
		log.Printf("[HTTP] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// validationMessage strips the sentinel prefix, leaving the detail.
func validationMessage(err error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, domain.ErrValidation.Error()+": "); ok {
		return rest
	}
	return msg
}
