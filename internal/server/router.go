package server

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/sueda-gl/bookspire-backend-public/internal/handlers"
	"github.com/sueda-gl/bookspire-backend-public/internal/middleware"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/envutil"
)

type RouterConfig struct {
	AuthMiddleware *middleware.AuthMiddleware
	SessionHandler *handlers.SessionHandler
	WSHandler      *handlers.WSHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware(envutil.Get("OTEL_SERVICE_NAME", "bookspire-backend")))

	origins := strings.Split(envutil.Get("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	// The websocket admits inside the handler: browsers cannot set headers
	// on the upgrade request, so the credential rides a query parameter.
	router.GET("/ws/practice/:session_id", cfg.WSHandler.Practice)

	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	{
		api.POST("/sessions", cfg.SessionHandler.Create)
		api.GET("/sessions/:session_id/history", cfg.SessionHandler.History)
		api.GET("/sessions/:session_id/flagged", cfg.SessionHandler.Flagged)
	}

	return router
}
