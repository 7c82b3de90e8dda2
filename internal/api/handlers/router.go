package handlers

import (
	"github.com/Ayash-Bera/arena/internal/metrics"
	"github.com/Ayash-Bera/arena/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter mounts the public API under /api/v1 plus /health and /metrics.
func SetupRouter(h *ArenaHandler, limiter *middleware.RateLimiter, m *metrics.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Metrics(m))

	router.GET("/health", h.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(limiter.RateLimit())
	{
		v1.POST("/compete", middleware.RequireUserID(), h.HandleCompete)
		v1.POST("/competitions/:id/feedback", h.HandleFeedback)

		v1.GET("/experts", h.HandleExperts)
		v1.GET("/experts/stats", h.HandleExpertStats)

		learnings := v1.Group("/learnings")
		learnings.GET("", h.HandleListLearnings)
		learnings.POST("/sweep", h.HandleSweep)
		learnings.GET("/:id", h.HandleGetLearning)
		learnings.POST("/:id/approve", middleware.RequireUserID(), h.HandleApprove)
		learnings.POST("/:id/reject", h.HandleReject)
		learnings.POST("/:id/repropose", h.HandleRepropose)
	}

	return router
}
