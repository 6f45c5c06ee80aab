package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mx-space/shortener/internal/config"
	"github.com/mx-space/shortener/internal/modules/analytics"
	"github.com/mx-space/shortener/internal/pkg/eventbus"
	"github.com/mx-space/shortener/internal/pkg/logging"
	"github.com/mx-space/shortener/internal/pkg/metrics"
	pkgredis "github.com/mx-space/shortener/internal/pkg/redis"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "Path to YAML config file")
	consumerName := flag.String("name", "", "Consumer group member name (default: generated)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("invalid configuration", zap.Error(err))
	}

	logger, err := logging.New(cfg.LogLevel, cfg.IsDev())
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("log pipeline unavailable, fallback to zap production logger", zap.Error(err))
	}
	defer logger.Sync()

	name := *consumerName
	if name == "" {
		host, _ := os.Hostname()
		name = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}

	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rc.Close()

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		cancelConnect()
		logger.Fatal("mongo", zap.Error(err))
	}
	store := analytics.NewStore(client.Database(cfg.Mongo.Database))
	if err := store.EnsureIndexes(connectCtx); err != nil {
		cancelConnect()
		logger.Fatal("mongo indexes", zap.Error(err))
	}
	cancelConnect()

	m := metrics.New()
	bus := eventbus.NewConsumer(rc, cfg.HitsTopic, cfg.ConsumerGroup, name, logger).
		WithHooks(m.HitsConsumedTotal.Inc, m.HitsDeadLettered.Inc)
	consumer := analytics.NewConsumer(store, bus, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs := observabilityServer(cfg.ConsumerPort, m)
	go func() {
		if err := obs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("observability server error", zap.Error(err))
		}
	}()

	logger.Info("consumer starting",
		zap.String("topic", cfg.HitsTopic),
		zap.String("group", cfg.ConsumerGroup),
		zap.String("name", name))

	if err := consumer.Run(ctx); err != nil {
		logger.Fatal("consumer error", zap.Error(err))
	}

	disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = obs.Shutdown(disconnectCtx)
	if err := client.Disconnect(disconnectCtx); err != nil {
		logger.Warn("mongo disconnect failed", zap.Error(err))
	}
	logger.Info("consumer exited")
}

// observabilityServer exposes metrics and a process liveness probe for the
// consumer binary.
func observabilityServer(port int, m *metrics.Metrics) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", m.Handler())
	r.GET("/metrics/json", m.JSONHandler())
	r.GET("/health/liveness", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: r}
}
