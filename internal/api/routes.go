package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/askwhyharsh/familycircle/internal/ratelimit"
)

type WebSocketHandler interface {
	HandleWebSocket(c *gin.Context)
}

type RouteOptions struct {
	AllowedOrigins []string
	EnableMetrics  bool
}

func SetupRoutes(r *gin.Engine, handler *Handler, wsHandler WebSocketHandler, sessions *SessionMiddleware, rlMiddleware *ratelimit.Middleware, opts RouteOptions) {
	// Apply global middleware
	r.Use(CORSMiddleware(opts.AllowedOrigins))
	r.Use(RequestMetrics())

	if opts.EnableMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// API routes
	api := r.Group("/api")
	{
		// Health check (no rate limit)
		api.GET("/health", handler.Health)

		limited := api.Group("", rlMiddleware.IPRateLimit())

		limited.POST("/session/create", handler.CreateSession)

		// Family circle
		fam := limited.Group("/family", sessions.RequireSession())
		{
			fam.GET("", handler.GetFamily)
			fam.PUT("/:id/sharing", handler.SetSharing)
		}

		limited.POST("/location", sessions.RequireSession(), handler.ReportLocation)

		// Nearby content, session optional
		feed := limited.Group("/nearby", sessions.OptionalSession())
		{
			feed.GET("/posts", handler.NearbyPosts)
			feed.GET("/businesses", handler.NearbyBusinesses)
		}
	}

	// WebSocket route
	r.GET("/ws", sessions.RequireSession(), wsHandler.HandleWebSocket)
}
