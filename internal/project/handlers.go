package project

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/joseairosa/codesalvage/internal/auth"
	"github.com/joseairosa/codesalvage/internal/fault"
	"github.com/joseairosa/codesalvage/internal/httpx"
)

// Handler provides HTTP endpoints for project listings.
type Handler struct {
	service *Service
}

// NewHandler creates a new project handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) project routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/projects/:id", h.GetProject)
	r.GET("/sellers/:id/projects", h.ListBySeller)
}

// RegisterProtectedRoutes sets up protected (auth-required) project routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/projects", h.CreateProject)
	r.POST("/projects/:id/delist", h.DelistProject)
}

// CreateProject handles POST /v1/projects
func (h *Handler) CreateProject(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Error(c, fault.New(fault.KindValidation, "invalid request body"))
		return
	}

	p, err := h.service.Create(c.Request.Context(), auth.ActorID(c), req)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"project": p})
}

// GetProject handles GET /v1/projects/:id
func (h *Handler) GetProject(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": p})
}

// DelistProject handles POST /v1/projects/:id/delist
func (h *Handler) DelistProject(c *gin.Context) {
	p, err := h.service.Delist(c.Request.Context(), auth.ActorID(c), c.Param("id"))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": p})
}

// ListBySeller handles GET /v1/sellers/:id/projects
func (h *Handler) ListBySeller(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	projects, err := h.service.ListBySeller(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects, "count": len(projects)})
}
