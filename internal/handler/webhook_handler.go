package handler

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"storefront/internal/domain"
	"storefront/internal/gateway"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives asynchronous gateway results. Providers retry on non-2xx,
// so anything that will not succeed on retry is acknowledged.
type WebhookHandler struct {
	gateways *gateway.Registry
	recon    *service.ReconciliationService
}

func NewWebhookHandler(gateways *gateway.Registry, recon *service.ReconciliationService) *WebhookHandler {
	return &WebhookHandler{gateways: gateways, recon: recon}
}

// Mpesa handles Daraja STK callbacks.
func (h *WebhookHandler) Mpesa(c *gin.Context) {
	h.handle(c, domain.MethodMpesa, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}

// Paystack handles signed Paystack events.
func (h *WebhookHandler) Paystack(c *gin.Context) {
	h.handle(c, domain.MethodPaystack, gin.H{"received": true})
}

func (h *WebhookHandler) handle(c *gin.Context, method string, ack gin.H) {
	tag := "[" + method + " webhook]"
	// Raw bytes: signatures are computed over the exact body the provider sent.
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		log.Printf("%s read body: %v", tag, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	adapter, err := h.gateways.Get(method)
	if err != nil {
		writeError(c, err)
		return
	}

	out, err := adapter.Normalize(c.Request.Header, body)
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		log.Printf("%s rejected: %v", tag, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	case errors.Is(err, gateway.ErrEventIgnored):
		var key, kind string
		if out != nil {
			key, kind = out.CorrelationKey, out.EventType
		}
		log.Printf("%s ignoring event %q key=%s", tag, kind, key)
		h.recon.RecordRejected(method, key, domain.DispositionIgnored, "unhandled event "+kind, body)
		c.JSON(http.StatusOK, ack)
		return
	case errors.Is(err, domain.ErrMalformedEvent):
		log.Printf("%s %v; body=%s", tag, err, string(body))
		h.recon.RecordRejected(method, "", domain.DispositionMalformed, err.Error(), body)
		c.JSON(http.StatusOK, ack)
		return
	case err != nil:
		log.Printf("%s normalize: %v", tag, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	// The provider hanging up must not abort a half-applied decision.
	ctx := context.WithoutCancel(c.Request.Context())
	res, err := h.recon.Reconcile(ctx, method, out)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
			return
		}
		log.Printf("%s key=%s reconcile: %v", tag, out.CorrelationKey, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}
	log.Printf("%s key=%s result=%s disposition=%s", tag, out.CorrelationKey, out.Result, res.Disposition)
	c.JSON(http.StatusOK, ack)
}
