package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/shortener/internal/config"
	"github.com/mx-space/shortener/internal/database"
	"github.com/mx-space/shortener/internal/middleware"
	"github.com/mx-space/shortener/internal/modules/analytics"
	"github.com/mx-space/shortener/internal/modules/shorturl"
	"github.com/mx-space/shortener/internal/pkg/cache"
	"github.com/mx-space/shortener/internal/pkg/eventbus"
	"github.com/mx-space/shortener/internal/pkg/metrics"
	pkgredis "github.com/mx-space/shortener/internal/pkg/redis"
	"github.com/mx-space/shortener/internal/pkg/reputation"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds all application dependencies for the HTTP server binary.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	rc     *pkgredis.Client
	mongo  *mongo.Client
	logger *zap.Logger
}

// New initializes the application: config → MySQL → Redis → Mongo → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	mongoClient, analyticsStore, err := connectAnalytics(cfg)
	if err != nil {
		return nil, fmt.Errorf("mongo: %w", err)
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(corsMiddleware(cfg))

	m := metrics.New()

	redirectCache := cache.New(rc, time.Duration(cfg.CacheTTL)*time.Second)
	rep := reputation.New(reputationEndpoint(cfg), logger)

	urlSvc := shorturl.NewService(shorturl.NewStore(db), redirectCache, rep, cfg, logger).
		WithCreatedHook(m.URLsCreatedTotal.Inc).
		WithCacheHooks(m.CacheHitsTotal.Inc, m.CacheMissesTotal.Inc)

	pub := eventbus.NewPublisher(rc, cfg.HitsTopic, logger).
		WithHooks(m.HitsPublishedTotal.Inc, m.HitsDroppedTotal.Inc)

	app := &App{cfg: cfg, router: router, db: db, rc: rc, mongo: mongoClient, logger: logger}
	app.registerRoutes(urlSvc, pub, analyticsStore, m)

	return app, nil
}

// connectAnalytics opens the Mongo client and ensures the counter schema.
func connectAnalytics(cfg *config.AppConfig) (*mongo.Client, *analytics.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("ping: %w", err)
	}

	store := analytics.NewStore(client.Database(cfg.Mongo.Database))
	if err := store.EnsureIndexes(ctx); err != nil {
		return nil, nil, err
	}
	return client, store, nil
}

func reputationEndpoint(cfg *config.AppConfig) string {
	if !cfg.EnableURLScanning {
		return ""
	}
	return cfg.ReputationEndpoint
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown releases adapters in reverse dependency order.
func (a *App) Shutdown(ctx context.Context) {
	if err := a.mongo.Disconnect(ctx); err != nil {
		a.logger.Warn("mongo disconnect failed", zap.Error(err))
	}
	if err := a.rc.Close(); err != nil {
		a.logger.Warn("redis close failed", zap.Error(err))
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("database close failed", zap.Error(err))
	}
}
