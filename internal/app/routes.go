package app

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/shortener/internal/database"
	"github.com/mx-space/shortener/internal/middleware"
	"github.com/mx-space/shortener/internal/modules/analytics"
	"github.com/mx-space/shortener/internal/modules/health"
	"github.com/mx-space/shortener/internal/modules/redirect"
	"github.com/mx-space/shortener/internal/modules/shorturl"
	"github.com/mx-space/shortener/internal/pkg/eventbus"
	"github.com/mx-space/shortener/internal/pkg/metrics"
	"github.com/mx-space/shortener/internal/pkg/response"
)

func (a *App) registerRoutes(urlSvc *shorturl.Service, pub *eventbus.Publisher, analyticsStore *analytics.Store, m *metrics.Metrics) {
	r := a.router

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		response.MethodNotAllowed(c)
	})

	adminMW := middleware.APIKey(a.cfg.APIKeyHeader, a.cfg.AdminAPIKey)
	rateLimitMW := middleware.RateLimit(a.rc,
		time.Duration(a.cfg.RateLimitTTL)*time.Second, int64(a.cfg.RateLimitCount))

	urlHandler := shorturl.NewHandler(urlSvc)
	redirectHandler := redirect.NewHandler(urlSvc, pub, nil, m, a.logger)

	// Versioned API
	api := r.Group("/api", rateLimitMW)
	urlHandler.RegisterRoutes(api, adminMW)
	analytics.NewHandler(analyticsStore, a.logger).RegisterRoutes(api)

	// Infrastructure
	root := r.Group("")
	health.NewHandler(a.logger).
		Register("mysql", health.PingerFunc(func(ctx context.Context) error {
			return database.Ping(ctx, a.db)
		})).
		Register("redis", a.rc).
		Register("mongo", analyticsStore).
		RegisterRoutes(root)

	root.GET("/metrics", m.Handler())
	root.GET("/metrics/json", m.JSONHandler())

	// Redirect surface
	root.GET("/:code", rateLimitMW, redirectHandler.Dispatch)
	root.GET("/:code/preview", rateLimitMW, urlHandler.Preview)
}
