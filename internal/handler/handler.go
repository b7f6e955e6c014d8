package handler

import (
	"context"

	"market-pulse/internal/domain"
	"market-pulse/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// FeedAPI is the part of service.FeedService the HTTP layer reads.
type FeedAPI interface {
	View() domain.FeedView
	Quote(ctx context.Context, idOrSymbol string) (domain.CryptoAssetSnapshot, error)
	Status() service.StatusReport
	Global() domain.GlobalView
	Retry()
}

type Handler struct {
	tracer trace.Tracer
	feed   FeedAPI
	apiKey string
}

func New(tracer trace.Tracer, feed FeedAPI, apiKey string) *Handler {
	return &Handler{
		tracer: tracer,
		feed:   feed,
		apiKey: apiKey,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.GET("/snapshots", h.GetSnapshots)
	api.GET("/snapshots/:id", h.GetSnapshot)
	api.GET("/status", h.GetStatus)
	api.GET("/global", h.GetGlobal)
	api.POST("/retry", APIKeyAuth(h.apiKey), h.Retry)
}
