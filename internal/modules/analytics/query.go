package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Granularity selects the time-series bucket width.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

// maxMaterializedBuckets bounds zero-filling on read; ranges that would
// materialize more buckets return only the non-empty ones.
const maxMaterializedBuckets = 5000

const defaultTopLimit = 10

// TimePoint is one time-series bucket, zero-filled when absent.
type TimePoint struct {
	Bucket time.Time `json:"bucket"`
	Hits   int64     `json:"hits"`
}

// RankedRow is one referrer/country/device row with its share of the total.
type RankedRow struct {
	Key        string  `json:"key"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// AccessTimes carries the first/last observation per code.
type AccessTimes struct {
	FirstAccessed *time.Time `json:"firstAccessed,omitempty"`
	LastAccessed  *time.Time `json:"lastAccessed,omitempty"`
}

// Result is the per-code dashboard payload.
type Result struct {
	Code         string      `json:"code"`
	StartDate    time.Time   `json:"startDate"`
	EndDate      time.Time   `json:"endDate"`
	Granularity  Granularity `json:"granularity"`
	TotalHits    int64       `json:"totalHits"`
	TimeSeries   []TimePoint `json:"timeSeries"`
	TopReferrers []RankedRow `json:"topReferrers"`
	Geographic   []RankedRow `json:"geographic"`
	Devices      []RankedRow `json:"devices"`
	Browsers     []RankedRow `json:"browsers"`
	AccessTimes  AccessTimes `json:"accessTimes"`
}

// QueryParams narrows the dashboard request.
type QueryParams struct {
	Start       *time.Time
	End         *time.Time
	Granularity Granularity
	TopLimit    int
}

// Query reconstructs the dashboard for one code from the counter rows.
func (s *Store) Query(ctx context.Context, code string, p QueryParams) (*Result, error) {
	end := time.Now().UTC()
	if p.End != nil {
		end = p.End.UTC()
	}
	start := end.AddDate(0, 0, -7)
	if p.Start != nil {
		start = p.Start.UTC()
	}
	if !end.After(start) {
		return nil, fmt.Errorf("endDate must be after startDate")
	}

	gran := p.Granularity
	switch gran {
	case GranularityMinute, GranularityHour, GranularityDay:
	case "":
		gran = GranularityHour
	default:
		return nil, fmt.Errorf("granularity must be minute|hour|day")
	}

	topLimit := p.TopLimit
	if topLimit <= 0 {
		topLimit = defaultTopLimit
	}

	series, err := s.timeSeries(ctx, code, start, end, gran)
	if err != nil {
		return nil, err
	}

	total, err := s.totalHits(ctx, code, start, end)
	if err != nil {
		return nil, err
	}

	referrers, err := s.ranked(ctx, collReferrers, code, "referrer", topLimit)
	if err != nil {
		return nil, err
	}
	geographic, err := s.ranked(ctx, collGeographic, code, "country", topLimit)
	if err != nil {
		return nil, err
	}
	devices, browsers, err := s.deviceBreakdown(ctx, code, topLimit)
	if err != nil {
		return nil, err
	}
	access, err := s.accessTimes(ctx, code)
	if err != nil {
		return nil, err
	}

	return &Result{
		Code:         code,
		StartDate:    start,
		EndDate:      end,
		Granularity:  gran,
		TotalHits:    total,
		TimeSeries:   series,
		TopReferrers: referrers,
		Geographic:   geographic,
		Devices:      devices,
		Browsers:     browsers,
		AccessTimes:  access,
	}, nil
}

// Summary is the condensed per-code view.
type Summary struct {
	Code           string      `json:"code"`
	TotalHits      int64       `json:"totalHits"`
	UniqueVisitors int64       `json:"uniqueVisitors"`
	TopReferrer    string      `json:"topReferrer,omitempty"`
	TopCountry     string      `json:"topCountry,omitempty"`
	AccessTimes    AccessTimes `json:"accessTimes"`
}

// Summarize condenses the dashboard into headline numbers. Unique visitors
// are approximate: daily visitor sets are summed, so a visitor returning on
// a later day counts again.
func (s *Store) Summarize(ctx context.Context, code string, start, end time.Time) (*Summary, error) {
	total, err := s.totalHits(ctx, code, start, end)
	if err != nil {
		return nil, err
	}
	visitors, err := s.db.Collection(collUniqueVisitors).CountDocuments(ctx, bson.M{
		"code": code,
		"date": bson.M{
			"$gte": start.UTC().Format(dateLayout),
			"$lte": end.UTC().Format(dateLayout),
		},
	})
	if err != nil {
		return nil, err
	}
	referrers, err := s.ranked(ctx, collReferrers, code, "referrer", 1)
	if err != nil {
		return nil, err
	}
	countries, err := s.ranked(ctx, collGeographic, code, "country", 1)
	if err != nil {
		return nil, err
	}
	access, err := s.accessTimes(ctx, code)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Code: code, TotalHits: total, UniqueVisitors: visitors, AccessTimes: access}
	if len(referrers) > 0 {
		sum.TopReferrer = referrers[0].Key
	}
	if len(countries) > 0 {
		sum.TopCountry = countries[0].Key
	}
	return sum, nil
}

type hourRow struct {
	Date  string `bson:"date"`
	Hour  int    `bson:"hour"`
	Count int64  `bson:"count"`
}

type minuteRow struct {
	Date   string `bson:"date"`
	Hour   int    `bson:"hour"`
	Minute int    `bson:"minute"`
	Count  int64  `bson:"count"`
}

func dateRangeFilter(code string, start, end time.Time) bson.M {
	return bson.M{
		"code": code,
		"date": bson.M{
			"$gte": start.UTC().Format(dateLayout),
			"$lte": end.UTC().Format(dateLayout),
		},
	}
}

func (s *Store) timeSeries(ctx context.Context, code string, start, end time.Time, gran Granularity) ([]TimePoint, error) {
	counts := map[time.Time]int64{}

	if gran == GranularityMinute {
		cur, err := s.db.Collection(collHitsByMinute).Find(ctx, dateRangeFilter(code, start, end))
		if err != nil {
			return nil, err
		}
		var rows []minuteRow
		if err := cur.All(ctx, &rows); err != nil {
			return nil, err
		}
		for _, r := range rows {
			b, err := bucketTime(r.Date, r.Hour, r.Minute)
			if err != nil {
				continue
			}
			counts[b] += r.Count
		}
	} else {
		cur, err := s.db.Collection(collHitsByHour).Find(ctx, dateRangeFilter(code, start, end))
		if err != nil {
			return nil, err
		}
		var rows []hourRow
		if err := cur.All(ctx, &rows); err != nil {
			return nil, err
		}
		for _, r := range rows {
			b, err := bucketTime(r.Date, r.Hour, 0)
			if err != nil {
				continue
			}
			if gran == GranularityDay {
				b = b.Truncate(24 * time.Hour)
			}
			counts[b] += r.Count
		}
	}

	return materialize(counts, start, end, gran), nil
}

// materialize zero-fills buckets across [start, end] ascending. Oversized
// ranges fall back to the observed buckets only.
func materialize(counts map[time.Time]int64, start, end time.Time, gran Granularity) []TimePoint {
	step := time.Hour
	switch gran {
	case GranularityMinute:
		step = time.Minute
	case GranularityDay:
		step = 24 * time.Hour
	}

	first := start.Truncate(step)
	span := int(end.Sub(first)/step) + 1

	points := make([]TimePoint, 0, len(counts))
	if span > 0 && span <= maxMaterializedBuckets {
		for b := first; !b.After(end); b = b.Add(step) {
			points = append(points, TimePoint{Bucket: b, Hits: counts[b]})
		}
		// Drop observed buckets outside the filled grid (clock-skewed rows).
		return points
	}

	for b, n := range counts {
		if b.Before(first) || b.After(end) {
			continue
		}
		points = append(points, TimePoint{Bucket: b, Hits: n})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Bucket.Before(points[j].Bucket) })
	return points
}

func bucketTime(date string, hour, minute int) (time.Time, error) {
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute), nil
}

func (s *Store) totalHits(ctx context.Context, code string, start, end time.Time) (int64, error) {
	cur, err := s.db.Collection(collHitsByHour).Find(ctx, dateRangeFilter(code, start, end))
	if err != nil {
		return 0, err
	}
	var rows []hourRow
	if err := cur.All(ctx, &rows); err != nil {
		return 0, err
	}
	var total int64
	for _, r := range rows {
		total += r.Count
	}
	return total, nil
}

// ranked loads all counter rows for code keyed by field, sorts descending
// and annotates the top rows with their percentage of the dimension total.
func (s *Store) ranked(ctx context.Context, coll, code, field string, limit int) ([]RankedRow, error) {
	cur, err := s.db.Collection(coll).Find(ctx, bson.M{"code": code})
	if err != nil {
		return nil, err
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	rows := make([]RankedRow, 0, len(docs))
	var total int64
	for _, doc := range docs {
		key, _ := doc[field].(string)
		count := asInt64(doc["count"])
		total += count
		rows = append(rows, RankedRow{Key: key, Count: count})
	}
	return topWithPercentage(rows, total, limit), nil
}

type deviceRow struct {
	DeviceType string `bson:"device_type"`
	Browser    string `bson:"browser"`
	Count      int64  `bson:"count"`
}

// deviceBreakdown aggregates the devices table independently by device
// type and by browser.
func (s *Store) deviceBreakdown(ctx context.Context, code string, limit int) (devices, browsers []RankedRow, err error) {
	cur, err := s.db.Collection(collDevices).Find(ctx, bson.M{"code": code})
	if err != nil {
		return nil, nil, err
	}
	var rows []deviceRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, nil, err
	}

	byDevice := map[string]int64{}
	byBrowser := map[string]int64{}
	var total int64
	for _, r := range rows {
		byDevice[r.DeviceType] += r.Count
		byBrowser[r.Browser] += r.Count
		total += r.Count
	}

	devices = topWithPercentage(mapToRows(byDevice), total, limit)
	browsers = topWithPercentage(mapToRows(byBrowser), total, limit)
	return devices, browsers, nil
}

type accessRow struct {
	FirstAt time.Time `bson:"first_at"`
	LastAt  time.Time `bson:"last_at"`
}

func (s *Store) accessTimes(ctx context.Context, code string) (AccessTimes, error) {
	var row accessRow
	err := s.db.Collection(collAccessTimes).FindOne(ctx, bson.M{"code": code}).Decode(&row)
	if err == mongo.ErrNoDocuments {
		return AccessTimes{}, nil
	}
	if err != nil {
		return AccessTimes{}, err
	}
	first, last := row.FirstAt, row.LastAt
	return AccessTimes{FirstAccessed: &first, LastAccessed: &last}, nil
}

func topWithPercentage(rows []RankedRow, total int64, limit int) []RankedRow {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Key < rows[j].Key
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	for i := range rows {
		if total > 0 {
			rows[i].Percentage = 100 * float64(rows[i].Count) / float64(total)
		}
	}
	return rows
}

func mapToRows(m map[string]int64) []RankedRow {
	rows := make([]RankedRow, 0, len(m))
	for k, n := range m {
		rows = append(rows, RankedRow{Key: k, Count: n})
	}
	return rows
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
