// Package router provides kgrag service routing.
package router

import (
	"github.com/kart-io/logger"

	"github.com/kart-io/kgrag/internal/kgrag/handler"
	"github.com/kart-io/kgrag/pkg/infra/server"
)

// Register registers the kgrag routes on the manager's HTTP server.
func Register(mgr *server.Manager, h *handler.Handler) error {
	logger.Info("Registering kgrag routes...")

	engine := mgr.HTTPServer().Engine()
	engine.GET("/healthz", h.Healthz)
	engine.GET("/metrics", h.Metrics)

	v1 := engine.Group("/v1")
	{
		// Retrieval
		v1.POST("/query", h.Query)
		v1.GET("/stats", h.Stats)
		v1.GET("/history", h.History)
		v1.POST("/reload", h.Reload)

		// Knowledge graph
		v1.GET("/graph", h.Graph)
		v1.GET("/search", h.Search)
		v1.POST("/ingest", h.Ingest)
	}

	logger.Info("HTTP routes registered")
	return nil
}
