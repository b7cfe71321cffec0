package sweep

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/joseairosa/codesalvage/internal/auth"
)

// Handler exposes the sweep as an internal HTTP endpoint for external
// schedulers (cron, Cloud Scheduler).
type Handler struct {
	sweeper *Sweeper
	secret  string
}

// NewHandler creates a new sweep handler.
func NewHandler(sweeper *Sweeper, secret string) *Handler {
	return &Handler{sweeper: sweeper, secret: secret}
}

// RegisterRoutes sets up the internal sweep route, guarded by the shared
// secret rather than session auth.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/sweep", auth.RequireSweepSecret(h.secret), h.RunSweep)
}

// RunSweep handles POST /internal/sweep
func (h *Handler) RunSweep(c *gin.Context) {
	sum, err := h.sweeper.Run(c.Request.Context(), time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "sweep_failed",
			"message": "Sweep run failed.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": sum})
}
