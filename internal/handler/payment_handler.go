package handler

import (
	"net/http"
	"strings"

	"storefront/internal/middleware"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
)

const maxProofSize = 5 << 20

type PaymentHandler struct {
	payments *service.PaymentService
}

func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type initiateMpesaRequest struct {
	OrderID     string `json:"order_id" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
}

// InitiateMpesa sends an STK push to the buyer's phone.
func (h *PaymentHandler) InitiateMpesa(c *gin.Context) {
	var req initiateMpesaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id and phone_number are required"})
		return
	}
	res, err := h.payments.InitiatePush(c.Request.Context(), middleware.GetUserID(c), req.OrderID, req.PhoneNumber)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type initiatePaystackRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	Email   string `json:"email"`
}

// InitiatePaystack returns the hosted checkout URL. Email defaults to the order's, then the token's.
func (h *PaymentHandler) InitiatePaystack(c *gin.Context) {
	var req initiatePaystackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required"})
		return
	}
	email := req.Email
	if email == "" {
		email = middleware.GetEmail(c)
	}
	res, err := h.payments.InitiateRedirect(c.Request.Context(), middleware.GetUserID(c), req.OrderID, email)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type manualRequest struct {
	OrderID         string `json:"order_id" form:"order_id" binding:"required"`
	ReferenceNumber string `json:"reference_number" form:"reference_number" binding:"required"`
	SenderName      string `json:"sender_name" form:"sender_name" binding:"required"`
}

// SubmitManual accepts JSON, or multipart with an optional "proof" image.
func (h *PaymentHandler) SubmitManual(c *gin.Context) {
	var req manualRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id, reference_number and sender_name are required"})
		return
	}
	in := service.ManualSubmission{OrderID: req.OrderID, ReferenceNumber: req.ReferenceNumber, SenderName: req.SenderName}
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if fh, err := c.FormFile("proof"); err == nil {
			if fh.Size > maxProofSize {
				c.JSON(http.StatusBadRequest, gin.H{"error": "proof image must be 5MB or smaller"})
				return
			}
			f, err := fh.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "could not read proof"})
				return
			}
			defer f.Close()
			in.Proof = f
		}
	}
	p, err := h.payments.SubmitManual(c.Request.Context(), middleware.GetUserID(c), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"payment": p,
		"message": "Payment submitted. We will confirm it once the transfer is verified.",
	})
}

// OrderStatus is polled by checkout pages that cannot hold a websocket.
func (h *PaymentHandler) OrderStatus(c *gin.Context) {
	v, err := h.payments.StatusForOrder(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *PaymentHandler) Receipt(c *gin.Context) {
	r, err := h.payments.Receipt(c.Request.Context(), middleware.GetUserID(c), middleware.IsAdmin(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
