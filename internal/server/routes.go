package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter builds the gin engine with recovery, tracing and all routes.
func NewRouter(h *Handlers, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes mounts the connections and dashboard APIs.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.Use(h.LoggerMiddleware())

	connections := router.Group("/api-connections")
	{
		connections.GET("", h.UserMiddleware(), h.HandleListConnections)
		connections.DELETE("/:id", h.UserMiddleware(), h.HandleDeleteConnection)

		googleFit := connections.Group("/google-fit")
		{
			googleFit.POST("/auth", h.UserMiddleware(), h.HandleGoogleFitAuth)
			// Invoked by the provider's redirect; the user is identified by state
			googleFit.GET("/callback", h.HandleGoogleFitCallback)
		}
	}

	health := router.Group("/api/health")
	health.Use(h.UserMiddleware())
	{
		health.GET("/dashboard", h.HandleDashboard)
	}
}
