package handler

import (
	"net/http"
	"strconv"
	"strings"

	"storefront/internal/domain"
	"storefront/internal/middleware"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
)

// AdminHandler serves the manual payment review queue.
type AdminHandler struct {
	payments *service.PaymentService
}

func NewAdminHandler(payments *service.PaymentService) *AdminHandler {
	return &AdminHandler{payments: payments}
}

// ListManualPayments lists manual submissions, PENDING by default; status=ALL lists every state.
func (h *AdminHandler) ListManualPayments(c *gin.Context) {
	status := strings.ToUpper(c.DefaultQuery("status", domain.PaymentStatusPending))
	if status == "ALL" {
		status = ""
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	list, total, err := h.payments.ListManual(c.Request.Context(), status, limit, (page-1)*limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": list, "total": total, "page": page, "limit": limit})
}

func (h *AdminHandler) ApprovePayment(c *gin.Context) {
	h.review(c, true, "")
}

func (h *AdminHandler) RejectPayment(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	h.review(c, false, req.Reason)
}

func (h *AdminHandler) review(c *gin.Context, approved bool, reason string) {
	res, err := h.payments.ReviewManual(c.Request.Context(), service.ReviewRequest{
		AdminID:   middleware.GetUserID(c),
		PaymentID: c.Param("id"),
		Approved:  approved,
		Reason:    reason,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if res.Disposition == domain.DispositionIgnoredPaid {
		c.JSON(http.StatusConflict, gin.H{"error": "this payment was already completed", "payment": res.Payment})
		return
	}
	c.JSON(http.StatusOK, gin.H{"disposition": res.Disposition, "payment": res.Payment, "order": res.Order})
}
