package analytics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/shortener/internal/pkg/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestVisitorHash(t *testing.T) {
	h := VisitorHash("203.0.113.7", "test-agent")
	assert.Len(t, h, 16)
	assert.Regexp(t, `^[0-9a-f]{16}$`, h)

	assert.Equal(t, h, VisitorHash("203.0.113.7", "test-agent"))
	assert.NotEqual(t, h, VisitorHash("203.0.113.8", "test-agent"))
	assert.NotEqual(t, h, VisitorHash("203.0.113.7", "other-agent"))
}

func TestMaterializeZeroFills(t *testing.T) {
	start := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Hour)
	counts := map[time.Time]int64{
		start.Add(time.Hour):     3,
		start.Add(3 * time.Hour): 1,
	}

	points := materialize(counts, start, end, GranularityHour)
	require.Len(t, points, 5)
	assert.Equal(t, []int64{0, 3, 0, 1, 0}, hitsOf(points))
	for i := 1; i < len(points); i++ {
		assert.True(t, points[i].Bucket.After(points[i-1].Bucket))
	}
}

func TestMaterializeMinuteGranularity(t *testing.T) {
	start := time.Date(2026, 8, 1, 10, 0, 30, 0, time.UTC)
	end := start.Add(2 * time.Minute)
	bucket := time.Date(2026, 8, 1, 10, 1, 0, 0, time.UTC)

	points := materialize(map[time.Time]int64{bucket: 2}, start, end, GranularityMinute)
	require.Len(t, points, 3)
	assert.Equal(t, []int64{0, 2, 0}, hitsOf(points))
}

func TestMaterializeOversizedRangeReturnsObservedOnly(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	b1 := start.Add(time.Minute)
	b2 := start.Add(2 * time.Minute)

	points := materialize(map[time.Time]int64{b2: 1, b1: 5}, start, end, GranularityMinute)
	require.Len(t, points, 2)
	assert.Equal(t, b1, points[0].Bucket)
	assert.Equal(t, int64(5), points[0].Hits)
}

func TestBucketTime(t *testing.T) {
	b, err := bucketTime("2026-08-01", 14, 30)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 1, 14, 30, 0, 0, time.UTC), b)

	_, err = bucketTime("not-a-date", 0, 0)
	assert.Error(t, err)
}

func TestTopWithPercentage(t *testing.T) {
	rows := []RankedRow{
		{Key: "b", Count: 25},
		{Key: "a", Count: 50},
		{Key: "c", Count: 25},
	}

	top := topWithPercentage(rows, 100, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "a", top[0].Key)
	assert.InDelta(t, 50.0, top[0].Percentage, 0.001)
	assert.Equal(t, "b", top[1].Key, "ties broken alphabetically")
	assert.InDelta(t, 25.0, top[1].Percentage, 0.001)
}

func TestTopWithPercentageZeroTotal(t *testing.T) {
	top := topWithPercentage([]RankedRow{{Key: "a", Count: 0}}, 0, 10)
	require.Len(t, top, 1)
	assert.Zero(t, top[0].Percentage)
}

func TestParseDate(t *testing.T) {
	full, err := parseDate("2026-08-01T12:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 12, full.Hour())

	bare, err := parseDate("2026-08-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), bare)

	_, err = parseDate("08/01/2026")
	assert.Error(t, err)
}

// Rejections happen before any store access, so a nil store is safe here.
func TestConsumerRejectsInvalidEvents(t *testing.T) {
	c := NewConsumer(nil, nil, zap.NewNop())
	ctx := context.Background()

	err := c.apply(ctx, eventbus.Message{ID: "1-0", Event: eventbus.HitEvent{Code: "x"}})
	assert.ErrorIs(t, err, eventbus.ErrPermanent)

	stale := eventbus.HitEvent{
		Code:      "x",
		Timestamp: time.Now().UTC().Add(-25 * time.Hour),
		IP:        "203.0.113.7",
		UserAgent: "agent",
	}
	err = c.apply(ctx, eventbus.Message{ID: "1-1", Event: stale})
	assert.ErrorIs(t, err, eventbus.ErrPermanent)

	future := stale
	future.Timestamp = time.Now().UTC().Add(10 * time.Minute)
	err = c.apply(ctx, eventbus.Message{ID: "1-2", Event: future})
	assert.ErrorIs(t, err, eventbus.ErrPermanent)
}

// Invalid parameters are rejected before any store access, so a nil store
// is safe here.
func TestHandlerRejectsBadQueryParams(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(nil, zap.NewNop()).RegisterRoutes(r.Group("/api"))

	future := url.QueryEscape(time.Now().UTC().Add(48 * time.Hour).Format(time.RFC3339))
	paths := []string{
		"/api/analytics/abc1234?startDate=" + future,
		"/api/analytics/abc1234/summary?startDate=" + future,
		"/api/analytics/abc1234/export?startDate=" + future,
		"/api/analytics/abc1234?startDate=2026-02-01&endDate=2026-01-01",
		"/api/analytics/abc1234?startDate=not-a-date",
		"/api/analytics/abc1234?granularity=weekly",
		"/api/analytics/abc1234?topLimit=0",
		"/api/analytics/bad%20code",
	}
	for _, path := range paths {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.NotContains(t, w.Body.String(), "DEPENDENCY_UNAVAILABLE", path)
	}
}

func hitsOf(points []TimePoint) []int64 {
	out := make([]int64, len(points))
	for i, p := range points {
		out[i] = p.Hits
	}
	return out
}
