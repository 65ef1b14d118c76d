// Engine status API handler
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/limitless/limitless/pkg/service"
)

// StatusHandler reports engine health and counters.
type StatusHandler struct {
	statusService *service.StatusService
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(statusService *service.StatusService) *StatusHandler {
	return &StatusHandler{statusService: statusService}
}

// RegisterRoutes registers status routes.
func (h *StatusHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/status", h.Status)
}

// Status returns engine counters.
// GET /api/status
func (h *StatusHandler) Status(c *gin.Context) {
	st, err := h.statusService.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
