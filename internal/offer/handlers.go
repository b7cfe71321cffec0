package offer

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/joseairosa/codesalvage/internal/auth"
	"github.com/joseairosa/codesalvage/internal/fault"
	"github.com/joseairosa/codesalvage/internal/httpx"
)

// Handler provides HTTP endpoints for offer negotiation.
type Handler struct {
	service *Service
}

// NewHandler creates a new offer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up offer routes. All routes require an actor.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/offers", h.CreateOffer)
	r.GET("/offers", h.ListMyOffers)
	r.GET("/offers/:id", h.GetOffer)
	r.POST("/offers/:id/accept", h.AcceptOffer)
	r.POST("/offers/:id/counter", h.CounterOffer)
	r.POST("/offers/:id/reject", h.RejectOffer)
	r.POST("/offers/:id/withdraw", h.WithdrawOffer)
	r.GET("/projects/:id/offers", h.ListProjectOffers)
}

// CreateOffer handles POST /v1/offers
func (h *Handler) CreateOffer(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, fault.New(fault.KindValidation, "invalid request body"))
		return
	}

	o, err := h.service.Create(c.Request.Context(), auth.ActorID(c), req)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"offer": o})
}

// GetOffer handles GET /v1/offers/:id
func (h *Handler) GetOffer(c *gin.Context) {
	o, err := h.service.Get(c.Request.Context(), auth.ActorID(c), c.Param("id"))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offer": o})
}

// AcceptOffer handles POST /v1/offers/:id/accept
func (h *Handler) AcceptOffer(c *gin.Context) {
	o, err := h.service.Accept(c.Request.Context(), auth.ActorID(c), c.Param("id"))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offer": o})
}

// CounterOffer handles POST /v1/offers/:id/counter
func (h *Handler) CounterOffer(c *gin.Context) {
	var req CounterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, fault.New(fault.KindValidation, "invalid request body"))
		return
	}

	o, err := h.service.Counter(c.Request.Context(), auth.ActorID(c), c.Param("id"), req)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offer": o})
}

// RejectOffer handles POST /v1/offers/:id/reject
func (h *Handler) RejectOffer(c *gin.Context) {
	o, err := h.service.Reject(c.Request.Context(), auth.ActorID(c), c.Param("id"))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offer": o})
}

// WithdrawOffer handles POST /v1/offers/:id/withdraw
func (h *Handler) WithdrawOffer(c *gin.Context) {
	o, err := h.service.Withdraw(c.Request.Context(), auth.ActorID(c), c.Param("id"))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offer": o})
}

// ListMyOffers handles GET /v1/offers
func (h *Handler) ListMyOffers(c *gin.Context) {
	offers, err := h.service.ListByBuyer(c.Request.Context(), auth.ActorID(c), queryLimit(c))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers, "count": len(offers)})
}

// ListProjectOffers handles GET /v1/projects/:id/offers
func (h *Handler) ListProjectOffers(c *gin.Context) {
	offers, err := h.service.ListByProject(c.Request.Context(), auth.ActorID(c), c.Param("id"), queryLimit(c))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers, "count": len(offers)})
}

func queryLimit(c *gin.Context) int {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}
	return limit
}
