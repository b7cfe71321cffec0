package transaction

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/joseairosa/codesalvage/internal/auth"
	"github.com/joseairosa/codesalvage/internal/fault"
	"github.com/joseairosa/codesalvage/internal/httpx"
)

// Handler provides HTTP endpoints for transactions.
type Handler struct {
	service *Service
}

// NewHandler creates a new transaction handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up transaction routes. All routes require an actor.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions", h.CreateTransaction)
	r.GET("/transactions", h.ListMyTransactions)
	r.GET("/transactions/:id", h.GetTransaction)
	r.POST("/transactions/:id/deliver", h.MarkDelivered)
}

// RegisterAdminRoutes sets up operator-only transaction routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/transactions/:id/refund", h.RefundTransaction)
	r.POST("/transactions/:id/release", h.ReleaseTransaction)
}

// CreateTransaction handles POST /v1/transactions
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, fault.New(fault.KindValidation, "invalid request body"))
		return
	}

	t, err := h.service.Create(c.Request.Context(), auth.ActorID(c), req)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": t})
}

// GetTransaction handles GET /v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	t, err := h.service.Get(c.Request.Context(), auth.ActorID(c), c.Param("id"))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// ListMyTransactions handles GET /v1/transactions
func (h *Handler) ListMyTransactions(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	txns, err := h.service.ListByBuyer(c.Request.Context(), auth.ActorID(c), limit)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns, "count": len(txns)})
}

// MarkDelivered handles POST /v1/transactions/:id/deliver
func (h *Handler) MarkDelivered(c *gin.Context) {
	t, err := h.service.MarkDelivered(c.Request.Context(), auth.ActorID(c), c.Param("id"))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// ReleaseTransaction handles POST /v1/transactions/:id/release (admin).
// Releases held escrow without waiting for the holding period, for
// support resolutions in the seller's favor.
func (h *Handler) ReleaseTransaction(c *gin.Context) {
	released, err := h.service.ForceRelease(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	if !released {
		httpx.Error(c, fault.New(fault.KindValidation, "escrow is not held"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "released"})
}

// RefundTransaction handles POST /v1/transactions/:id/refund (admin).
// The refund lands asynchronously through the processor webhook, so a
// successful call only means the request was accepted.
func (h *Handler) RefundTransaction(c *gin.Context) {
	if err := h.service.Refund(c.Request.Context(), c.Param("id")); err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "refund_requested"})
}
