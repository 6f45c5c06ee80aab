package analytics

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/shortener/internal/pkg/response"
	"go.uber.org/zap"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type Handler struct {
	store  *Store
	logger *zap.Logger
}

func NewHandler(store *Store, logger *zap.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/analytics")
	g.GET("/:code", h.query)
	g.GET("/:code/summary", h.summary)
	g.GET("/:code/export", h.export)
}

// GET /api/analytics/:code
func (h *Handler) query(c *gin.Context) {
	code, params, ok := h.parseQuery(c)
	if !ok {
		return
	}
	result, err := h.store.Query(c.Request.Context(), code, params)
	if err != nil {
		h.writeQueryError(c, err)
		return
	}
	response.OK(c, result)
}

// GET /api/analytics/:code/summary
func (h *Handler) summary(c *gin.Context) {
	code, params, ok := h.parseQuery(c)
	if !ok {
		return
	}
	start, end := resolveRange(params)
	sum, err := h.store.Summarize(c.Request.Context(), code, start, end)
	if err != nil {
		h.writeQueryError(c, err)
		return
	}
	response.OK(c, sum)
}

// GET /api/analytics/:code/export?format=csv|json
func (h *Handler) export(c *gin.Context) {
	code, params, ok := h.parseQuery(c)
	if !ok {
		return
	}
	format := c.DefaultQuery("format", "json")
	if format != "csv" && format != "json" {
		response.Validation(c, "format must be csv or json")
		return
	}

	result, err := h.store.Query(c.Request.Context(), code, params)
	if err != nil {
		h.writeQueryError(c, err)
		return
	}

	if format == "json" {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s-analytics.json", code))
		response.OK(c, result)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s-analytics.csv", code))
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"timestamp", "hits"})
	for _, p := range result.TimeSeries {
		_ = w.Write([]string{p.Bucket.UTC().Format(time.RFC3339), strconv.FormatInt(p.Hits, 10)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		h.logger.Warn("csv export truncated", zap.String("code", code), zap.Error(err))
	}
}

// parseQuery validates the path code and the shared query parameters. On
// failure it writes the error response and returns ok=false.
func (h *Handler) parseQuery(c *gin.Context) (string, QueryParams, bool) {
	code := c.Param("code")
	if !codePattern.MatchString(code) {
		response.BadRequest(c, response.CodeInvalidCode, "malformed code")
		return "", QueryParams{}, false
	}

	var params QueryParams
	if raw := c.Query("startDate"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			response.Validation(c, "startDate must be ISO-8601")
			return "", QueryParams{}, false
		}
		params.Start = &t
	}
	if raw := c.Query("endDate"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			response.Validation(c, "endDate must be ISO-8601")
			return "", QueryParams{}, false
		}
		params.End = &t
	}
	// Validate the range after defaulting, so a lone future startDate is
	// rejected here instead of surfacing as a store failure.
	start, end := resolveRange(params)
	if !end.After(start) {
		response.Validation(c, "endDate must be after startDate")
		return "", QueryParams{}, false
	}

	switch g := Granularity(c.Query("granularity")); g {
	case "", GranularityMinute, GranularityHour, GranularityDay:
		params.Granularity = g
	default:
		response.Validation(c, "granularity must be minute|hour|day")
		return "", QueryParams{}, false
	}

	if raw := c.Query("topLimit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			response.Validation(c, "topLimit must be an integer in [1,100]")
			return "", QueryParams{}, false
		}
		params.TopLimit = n
	}
	return code, params, true
}

// parseDate accepts full RFC 3339 timestamps and bare dates.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(dateLayout, raw)
}

func resolveRange(p QueryParams) (time.Time, time.Time) {
	end := time.Now().UTC()
	if p.End != nil {
		end = p.End.UTC()
	}
	start := end.AddDate(0, 0, -7)
	if p.Start != nil {
		start = p.Start.UTC()
	}
	return start, end
}

func (h *Handler) writeQueryError(c *gin.Context, err error) {
	h.logger.Warn("analytics query failed", zap.Error(err))
	response.DependencyUnavailable(c, "analytics store unreachable")
}
