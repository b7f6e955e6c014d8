package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetStatus godoc
// @Summary      Connection summary
// @Description  Active tier, per-tier status, per-exchange link status and global poller status
// @Tags         status
// @Produce      json
// @Success      200  {object}  service.StatusReport
// @Router       /api/status [get]
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.feed.Status())
}

// GetGlobal godoc
// @Summary      Global market totals
// @Tags         status
// @Produce      json
// @Success      200  {object}  domain.GlobalView
// @Failure      503  {object}  domain.GlobalView
// @Router       /api/global [get]
func (h *Handler) GetGlobal(c *gin.Context) {
	view := h.feed.Global()
	if view.Record == nil {
		c.JSON(http.StatusServiceUnavailable, view)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Retry godoc
// @Summary      Refresh every tier now
// @Description  Fires an out-of-band fetch on every tier without moving the polling schedule
// @Tags         status
// @Produce      json
// @Param        X-API-Key  header  string  false  "API key when configured"
// @Success      202  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      403  {object}  map[string]string
// @Router       /api/retry [post]
func (h *Handler) Retry(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.retry")
	defer span.End()

	h.feed.Retry()
	c.JSON(http.StatusAccepted, gin.H{"status": "retrying"})
}
