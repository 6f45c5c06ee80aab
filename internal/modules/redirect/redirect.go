package redirect

import (
	"context"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/shortener/internal/modules/shorturl"
	"github.com/mx-space/shortener/internal/pkg/eventbus"
	"github.com/mx-space/shortener/internal/pkg/metrics"
	"github.com/mx-space/shortener/internal/pkg/response"
	"go.uber.org/zap"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Handler resolves short codes and issues redirects. All accounting and
// analytics side effects run on detached background goroutines: their
// failure never fails the redirect, and cancelling the client request does
// not cancel them.
type Handler struct {
	svc    *shorturl.Service
	pub    *eventbus.Publisher
	geo    GeoResolver // may be nil
	m      *metrics.Metrics
	logger *zap.Logger
}

func NewHandler(svc *shorturl.Service, pub *eventbus.Publisher, geo GeoResolver, m *metrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, pub: pub, geo: geo, m: m, logger: logger}
}

// Dispatch handles GET /:code.
func (h *Handler) Dispatch(c *gin.Context) {
	code := c.Param("code")
	if !codePattern.MatchString(code) {
		h.m.RedirectsTotal.WithLabelValues("400").Inc()
		response.BadRequest(c, response.CodeInvalidCode, "malformed code")
		return
	}

	start := time.Now()
	target, err := h.svc.Resolve(c.Request.Context(), code)
	h.m.ResolveSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		h.m.RedirectsTotal.WithLabelValues("503").Inc()
		response.DependencyUnavailable(c, "resolution unavailable")
		return
	}
	if target == nil {
		h.m.RedirectsTotal.WithLabelValues("404").Inc()
		response.NotFound(c, "code not found")
		return
	}

	now := time.Now()
	if target.ExpiresAt != nil && !target.ExpiresAt.After(now) {
		h.m.RedirectsTotal.WithLabelValues("410").Inc()
		response.Gone(c, "link expired")
		return
	}

	if err := guardTarget(target.Original); err != nil {
		h.m.RedirectsTotal.WithLabelValues("400").Inc()
		h.logger.Error("open redirect blocked",
			zap.String("code", code),
			zap.String("target", target.Original),
			zap.String("ip", c.ClientIP()),
			zap.Error(err))
		response.BadRequest(c, response.CodeInvalidRedirect, "redirect target rejected")
		return
	}

	status := redirectStatus(target.Original)
	h.m.RedirectsTotal.WithLabelValues(statusLabel(status)).Inc()

	h.scheduleSideEffects(c, code, now)

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("X-Robots-Tag", "noindex, nofollow")
	c.Redirect(status, target.Original)
}

// scheduleSideEffects fires hit accounting and event emission on a context
// detached from the request, so client disconnects cannot cancel them.
func (h *Handler) scheduleSideEffects(c *gin.Context, code string, now time.Time) {
	ip := c.ClientIP()
	ua := c.GetHeader("User-Agent")
	referrer := c.GetHeader("Referer")
	ctx := context.WithoutCancel(c.Request.Context())

	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("redirect side effect panicked", zap.Any("panic", r))
			}
		}()

		h.svc.IncrementHitCount(ctx, code, 1)

		ev := eventbus.HitEvent{
			Code:      code,
			Timestamp: now.UTC(),
			IP:        ip,
			UserAgent: ua,
			Referrer:  referrer,
		}
		info := parseUA(ua)
		ev.DeviceType = info.DeviceType
		ev.Browser = info.Browser
		ev.OS = info.OS

		if h.geo != nil {
			if country, city, err := h.geo.Lookup(ctx, ip); err == nil {
				ev.Country = country
				ev.City = city
			} else {
				h.logger.Debug("geo lookup failed", zap.String("ip", ip), zap.Error(err))
			}
		}

		h.pub.Publish(ctx, ev)
	}()
}

func statusLabel(status int) string {
	if status == 301 {
		return "301"
	}
	return "302"
}
