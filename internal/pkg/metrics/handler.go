package metrics

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Handler serves the Prometheus text format for the registry.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// JSONHandler serves a JSON mirror of the gathered metric families.
func (m *Metrics) JSONHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		families, err := m.Registry.Gather()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL", "message": "metrics gather failed"})
			return
		}

		out := make(map[string]interface{}, len(families))
		for _, mf := range families {
			out[mf.GetName()] = flattenFamily(mf)
		}
		c.JSON(http.StatusOK, out)
	}
}

func flattenFamily(mf *dto.MetricFamily) []gin.H {
	rows := make([]gin.H, 0, len(mf.GetMetric()))
	for _, metric := range mf.GetMetric() {
		row := gin.H{}
		labels := gin.H{}
		for _, lp := range metric.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if len(labels) > 0 {
			row["labels"] = labels
		}
		switch {
		case metric.GetCounter() != nil:
			row["value"] = metric.GetCounter().GetValue()
		case metric.GetGauge() != nil:
			row["value"] = metric.GetGauge().GetValue()
		case metric.GetHistogram() != nil:
			h := metric.GetHistogram()
			row["count"] = h.GetSampleCount()
			row["sum"] = h.GetSampleSum()
		case metric.GetSummary() != nil:
			s := metric.GetSummary()
			row["count"] = s.GetSampleCount()
			row["sum"] = s.GetSampleSum()
		}
		rows = append(rows, row)
	}
	return rows
}
