package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mx-space/shortener/internal/pkg/eventbus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collHitsByHour     = "hits_by_hour"
	collHitsByMinute   = "hits_by_minute"
	collReferrers      = "referrers"
	collGeographic     = "geographic"
	collDevices        = "devices"
	collAccessTimes    = "access_times"
	collUniqueVisitors = "unique_visitors"

	minuteTTL  = 30 * 24 * time.Hour
	visitorTTL = 90 * 24 * time.Hour

	dateLayout = "2006-01-02"
)

// Store is the wide-column analytics adapter on MongoDB. All counter
// updates are commutative ($inc / $min / $max), so at-least-once delivery
// with retries is safe.
type Store struct {
	db *mongo.Database
}

func NewStore(db *mongo.Database) *Store { return &Store{db: db} }

// EnsureIndexes creates the schema idempotently. Called at startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	asc := func(keys bson.D, opts *options.IndexOptions) mongo.IndexModel {
		return mongo.IndexModel{Keys: keys, Options: opts}
	}

	unique := options.Index().SetUnique(true)

	specs := map[string][]mongo.IndexModel{
		collHitsByHour: {
			asc(bson.D{{Key: "code", Value: 1}, {Key: "date", Value: 1}, {Key: "hour", Value: 1}}, unique),
		},
		collHitsByMinute: {
			asc(bson.D{{Key: "code", Value: 1}, {Key: "date", Value: 1}, {Key: "hour", Value: 1}, {Key: "minute", Value: 1}}, unique),
			asc(bson.D{{Key: "bucket_at", Value: 1}}, options.Index().SetExpireAfterSeconds(int32(minuteTTL.Seconds()))),
		},
		collReferrers: {
			asc(bson.D{{Key: "code", Value: 1}, {Key: "referrer", Value: 1}}, unique),
		},
		collGeographic: {
			asc(bson.D{{Key: "code", Value: 1}, {Key: "country", Value: 1}}, unique),
		},
		collDevices: {
			asc(bson.D{{Key: "code", Value: 1}, {Key: "device_type", Value: 1}, {Key: "browser", Value: 1}, {Key: "os", Value: 1}}, unique),
		},
		collAccessTimes: {
			asc(bson.D{{Key: "code", Value: 1}}, unique),
		},
		collUniqueVisitors: {
			asc(bson.D{{Key: "code", Value: 1}, {Key: "date", Value: 1}, {Key: "visitor_hash", Value: 1}}, unique),
			asc(bson.D{{Key: "seen_at", Value: 1}}, options.Index().SetExpireAfterSeconds(int32(visitorTTL.Seconds()))),
		},
	}

	for coll, models := range specs {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("ensure indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// ApplyHit increments the counter batch for one event: hour and minute
// buckets always, referrer when present and not direct, country when
// present, and the device triple with unknown fill-ins.
func (s *Store) ApplyHit(ctx context.Context, ev eventbus.HitEvent) error {
	ts := ev.Timestamp.UTC()
	date := ts.Format(dateLayout)
	upsert := options.Update().SetUpsert(true)

	_, err := s.db.Collection(collHitsByHour).UpdateOne(ctx,
		bson.M{"code": ev.Code, "date": date, "hour": ts.Hour()},
		bson.M{"$inc": bson.M{"count": 1}},
		upsert)
	if err != nil {
		return fmt.Errorf("hits_by_hour: %w", err)
	}

	bucketAt := ts.Truncate(time.Minute)
	_, err = s.db.Collection(collHitsByMinute).UpdateOne(ctx,
		bson.M{"code": ev.Code, "date": date, "hour": ts.Hour(), "minute": ts.Minute()},
		bson.M{
			"$inc":         bson.M{"count": 1},
			"$setOnInsert": bson.M{"bucket_at": bucketAt},
		},
		upsert)
	if err != nil {
		return fmt.Errorf("hits_by_minute: %w", err)
	}

	if ev.Referrer != "" && ev.Referrer != "direct" {
		_, err = s.db.Collection(collReferrers).UpdateOne(ctx,
			bson.M{"code": ev.Code, "referrer": ev.Referrer},
			bson.M{"$inc": bson.M{"count": 1}},
			upsert)
		if err != nil {
			return fmt.Errorf("referrers: %w", err)
		}
	}

	if ev.Country != "" {
		_, err = s.db.Collection(collGeographic).UpdateOne(ctx,
			bson.M{"code": ev.Code, "country": ev.Country},
			bson.M{"$inc": bson.M{"count": 1}},
			upsert)
		if err != nil {
			return fmt.Errorf("geographic: %w", err)
		}
	}

	_, err = s.db.Collection(collDevices).UpdateOne(ctx,
		bson.M{
			"code":        ev.Code,
			"device_type": orUnknown(ev.DeviceType),
			"browser":     orUnknown(ev.Browser),
			"os":          orUnknown(ev.OS),
		},
		bson.M{"$inc": bson.M{"count": 1}},
		upsert)
	if err != nil {
		return fmt.Errorf("devices: %w", err)
	}
	return nil
}

// TouchAccessTimes folds t into the per-code first/last markers.
func (s *Store) TouchAccessTimes(ctx context.Context, code string, t time.Time) error {
	_, err := s.db.Collection(collAccessTimes).UpdateOne(ctx,
		bson.M{"code": code},
		bson.M{
			"$min": bson.M{"first_at": t.UTC()},
			"$max": bson.M{"last_at": t.UTC()},
		},
		options.Update().SetUpsert(true))
	return err
}

// RecordUniqueVisitor is an idempotent set insert: replays of the same
// visitor on the same day do not grow the set.
func (s *Store) RecordUniqueVisitor(ctx context.Context, code, date, visitorHash string) error {
	_, err := s.db.Collection(collUniqueVisitors).UpdateOne(ctx,
		bson.M{"code": code, "date": date, "visitor_hash": visitorHash},
		bson.M{"$setOnInsert": bson.M{"seen_at": time.Now().UTC()}},
		options.Update().SetUpsert(true))
	return err
}

// VisitorHash derives the anonymized visitor key: the first 16 hex chars of
// SHA-256 over "ip:userAgent". Deliberately not reversible to PII.
func VisitorHash(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + ":" + userAgent))
	return hex.EncodeToString(sum[:])[:16]
}

// Ping verifies connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
