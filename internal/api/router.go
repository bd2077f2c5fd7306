package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/jobsync/internal/logging"
	"github.com/kneutral-org/jobsync/internal/metrics"
	"github.com/kneutral-org/jobsync/internal/middleware"
)

// NewRouter assembles the admin HTTP engine with request logging, request
// metrics, a body size cap and the /metrics endpoint.
func NewRouter(h *Handler, maxPayload int64, logger zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))
	router.Use(middleware.Metrics())
	router.Use(middleware.PayloadLimit(maxPayload, logger))

	metrics.RegisterMetricsEndpoint(router)
	h.RegisterRoutes(router)
	return router
}
