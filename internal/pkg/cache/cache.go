package cache

import (
	"context"
	"encoding/json"
	"time"

	redisc "github.com/mx-space/shortener/internal/pkg/redis"
)

const keyPrefix = "shortener:url:"

// Target is the cached projection of a URL record used on the redirect path.
// It is eventually consistent with the primary store.
type Target struct {
	Code      string     `json:"code"`
	Original  string     `json:"original"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	HitCount  int64      `json:"hit_count"`
}

// RedirectCache is a TTL-bounded code→target cache on Redis.
type RedirectCache struct {
	rc  *redisc.Client
	ttl time.Duration
}

func New(rc *redisc.Client, ttl time.Duration) *RedirectCache {
	return &RedirectCache{rc: rc, ttl: ttl}
}

func key(code string) string { return keyPrefix + code }

// Get returns the cached target, or nil on miss. A corrupt entry is treated
// as a miss and evicted.
func (c *RedirectCache) Get(ctx context.Context, code string) (*Target, error) {
	raw, err := c.rc.Get(ctx, key(code))
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var t Target
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		_ = c.rc.Del(ctx, key(code))
		return nil, nil
	}
	return &t, nil
}

// Set stores the target under the configured TTL.
func (c *RedirectCache) Set(ctx context.Context, t *Target) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return c.rc.Set(ctx, key(t.Code), data, c.ttl)
}

// Invalidate removes the entry. Authoritative on admin delete.
func (c *RedirectCache) Invalidate(ctx context.Context, code string) error {
	return c.rc.Del(ctx, key(code))
}
