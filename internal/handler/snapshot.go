package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"market-pulse/internal/domain"
	"market-pulse/internal/provider"
	"market-pulse/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// SnapshotsResponse is the body of GET /api/snapshots.
type SnapshotsResponse struct {
	ActiveTier domain.Tier                  `json:"active_tier"`
	Records    []domain.CryptoAssetSnapshot `json:"records"`
	LastUpdate time.Time                    `json:"last_update,omitzero"`
}

// GetSnapshots godoc
// @Summary      Current canonical snapshots
// @Description  Returns the records of the active tier, optionally filtered by id or symbol
// @Tags         snapshots
// @Produce      json
// @Param        ids  query  string  false  "Comma-separated ids or symbols (e.g. bitcoin,ETH)"
// @Success      200  {object}  SnapshotsResponse
// @Failure      503  {object}  map[string]string
// @Router       /api/snapshots [get]
func (h *Handler) GetSnapshots(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-snapshots")
	defer span.End()

	view := h.feed.View()
	if view.Err != "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": view.Err})
		return
	}

	records := view.Records
	if raw := strings.TrimSpace(c.Query("ids")); raw != "" {
		want := make(map[string]bool)
		for _, id := range strings.Split(raw, ",") {
			if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
				want[id] = true
			}
		}
		filtered := make([]domain.CryptoAssetSnapshot, 0, len(want))
		for _, r := range records {
			if want[strings.ToLower(r.ID)] || want[strings.ToLower(r.Symbol)] {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}
	span.SetAttributes(attribute.Int("records", len(records)), attribute.String("tier", view.ActiveTier.String()))

	c.JSON(http.StatusOK, SnapshotsResponse{
		ActiveTier: view.ActiveTier,
		Records:    records,
		LastUpdate: view.LastUpdate,
	})
}

// GetSnapshot godoc
// @Summary      Snapshot for one asset
// @Description  Served from the live feed when present, otherwise from a one-off upstream quote
// @Tags         snapshots
// @Produce      json
// @Param        id  path  string  true  "Asset id or symbol (e.g. bitcoin, BTC)"
// @Success      200  {object}  domain.CryptoAssetSnapshot
// @Failure      404  {object}  map[string]string
// @Failure      429  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /api/snapshots/{id} [get]
func (h *Handler) GetSnapshot(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-snapshot")
	defer span.End()

	id := strings.TrimSpace(c.Param("id"))
	span.SetAttributes(attribute.String("asset", id))

	snap, err := h.feed.Quote(ctx, id)
	switch {
	case errors.Is(err, service.ErrUnknownAsset):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, provider.ErrLimiterBusy):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case err != nil:
		span.RecordError(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, snap)
	}
}
