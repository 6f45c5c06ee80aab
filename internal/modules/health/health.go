package health

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const probeTimeout = 2 * time.Second

// Pinger is one named dependency probed by the readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a plain function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type dependency struct {
	name   string
	pinger Pinger
}

// Handler serves the liveness and readiness probes. Liveness is a
// process-only check; readiness pings every registered dependency.
type Handler struct {
	deps    []dependency
	started time.Time
	logger  *zap.Logger
}

func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{started: time.Now(), logger: logger}
}

// Register adds a named dependency to the readiness probe.
func (h *Handler) Register(name string, p Pinger) *Handler {
	h.deps = append(h.deps, dependency{name: name, pinger: p})
	return h
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/health")
	g.GET("", h.health)
	g.GET("/liveness", h.liveness)
	g.GET("/readiness", h.readiness)
}

// GET /health
func (h *Handler) health(c *gin.Context) {
	checks, healthy := h.probe(c.Request.Context())
	status := 200
	state := "ok"
	if !healthy {
		status = 503
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status": state,
		"uptime": time.Since(h.started).Round(time.Second).String(),
		"checks": checks,
	})
}

// GET /health/liveness
func (h *Handler) liveness(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

// GET /health/readiness
func (h *Handler) readiness(c *gin.Context) {
	checks, healthy := h.probe(c.Request.Context())
	if !healthy {
		c.JSON(503, gin.H{"status": "not ready", "checks": checks})
		return
	}
	c.JSON(200, gin.H{"status": "ready", "checks": checks})
}

func (h *Handler) probe(parent context.Context) (map[string]string, bool) {
	checks := make(map[string]string, len(h.deps))
	healthy := true
	for _, d := range h.deps {
		ctx, cancel := context.WithTimeout(parent, probeTimeout)
		err := d.pinger.Ping(ctx)
		cancel()
		if err != nil {
			h.logger.Warn("dependency probe failed", zap.String("dependency", d.name), zap.Error(err))
			checks[d.name] = "down"
			healthy = false
			continue
		}
		checks[d.name] = "up"
	}
	return checks, healthy
}
