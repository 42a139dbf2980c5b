// Package api exposes the signal engine over HTTP: submit a pending
// transaction or executed trace for analysis, stream results over a
// websocket, and inspect recent signals and operational counters.
package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/sentinel-engine/internal/signal"
	"github.com/rawblock/sentinel-engine/internal/ws"
)

// APIHandler wires the signal engine into the HTTP surface.
type APIHandler struct {
	engine *signal.Engine
	wsHub  *ws.Hub
}

// SetupRouter builds the gin engine with every route this service
// exposes.
func SetupRouter(engine *signal.Engine, wsHub *ws.Hub) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	handler := &APIHandler{engine: engine, wsHub: wsHub}

	pub := r.Group("/v1")
	{
		pub.GET("/healthz", handler.handleHealthz)
		pub.GET("/stream", wsHub.Subscribe)
	}

	auth := r.Group("/v1")
	auth.Use(AuthMiddleware())
	auth.Use(NewRateLimiter(120, 20).Middleware())
	{
		auth.POST("/analyze/pending", handler.handleAnalyzePending)
		auth.POST("/analyze/trace", handler.handleAnalyzeTrace)
		auth.GET("/signals/recent", handler.handleRecentSignals)
		auth.GET("/stats", handler.handleStats)
	}

	return r
}
