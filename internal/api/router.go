package api

import (
	"net/http"
	"time"

	"bank-products/internal/metrics"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the HTTP server: middleware, health, metrics and /api/v1.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(deps))

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	apiGroup := r.Group("/api/v1")
	SetupRoutes(apiGroup, deps)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

// requestLogger logs each request through logrus and records its metrics.
func requestLogger(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		elapsed := time.Since(start)
		metrics.RecordRequest(c.Request.Method, endpoint, c.Writer.Status(), elapsed)
		if deps.Log != nil {
			deps.Log.WithFields(map[string]interface{}{
				"method":   c.Request.Method,
				"path":     c.Request.URL.Path,
				"status":   c.Writer.Status(),
				"duration": elapsed.String(),
			}).Debug("HTTP request")
		}
	}
}
