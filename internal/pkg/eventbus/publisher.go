package eventbus

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	redisc "github.com/mx-space/shortener/internal/pkg/redis"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// Retention window for the hits stream; enforced by the MINID janitor.
	retention    = 7 * 24 * time.Hour
	trimInterval = time.Hour

	publishTimeout = 30 * time.Second
	initialBackoff = 300 * time.Millisecond
	maxAttempts    = 8

	fieldKey     = "code"
	fieldPayload = "payload"
)

// Publisher appends hit events to the Redis stream topic. Publish is meant
// to be called from a background goroutine; the redirect path never waits
// on it.
type Publisher struct {
	rc     *redisc.Client
	topic  string
	logger *zap.Logger

	// onPublished/onDropped are metric hooks; either may be nil.
	onPublished func()
	onDropped   func()

	lastTrim atomic.Int64 // unix nanos of the last retention sweep
}

func NewPublisher(rc *redisc.Client, topic string, logger *zap.Logger) *Publisher {
	return &Publisher{rc: rc, topic: topic, logger: logger}
}

// WithHooks installs metric callbacks for successful and dropped publishes.
func (p *Publisher) WithHooks(onPublished, onDropped func()) *Publisher {
	p.onPublished = onPublished
	p.onDropped = onDropped
	return p
}

// Publish appends the event with bounded retry (300 ms initial backoff,
// doubling, up to 8 attempts). After exhaustion the event is dropped and
// counted; the caller is never blocked beyond the publish timeout.
func (p *Publisher) Publish(ctx context.Context, ev HitEvent) {
	payload, err := ev.encode()
	if err != nil {
		p.logger.Error("hit event encode failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	backoff := initialBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = p.rc.Raw().XAdd(ctx, &redis.XAddArgs{
			Stream: p.topic,
			Values: map[string]interface{}{
				fieldKey:     ev.Code,
				fieldPayload: payload,
			},
		}).Err()
		if err == nil {
			if p.onPublished != nil {
				p.onPublished()
			}
			p.maybeTrim(ctx)
			return
		}
		// No wait after the last attempt; the event is dropped either way.
		if ctx.Err() != nil || attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	if p.onDropped != nil {
		p.onDropped()
	}
	p.logger.Warn("hit event dropped after publish retries",
		zap.String("code", ev.Code), zap.Error(err))
}

// maybeTrim drops entries older than the retention window, at most once per
// trimInterval. Trim failures only lose disk, never events, so they are
// logged and forgotten.
func (p *Publisher) maybeTrim(ctx context.Context) {
	now := time.Now()
	last := p.lastTrim.Load()
	if now.UnixNano()-last < int64(trimInterval) {
		return
	}
	if !p.lastTrim.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	minID := formatMinID(now.Add(-retention))
	if err := p.rc.Raw().XTrimMinIDApprox(ctx, p.topic, minID, 0).Err(); err != nil {
		p.logger.Warn("stream trim failed", zap.String("topic", p.topic), zap.Error(err))
	}
}

// formatMinID renders a stream ID at the millisecond boundary t.
func formatMinID(t time.Time) string {
	ms := t.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatInt(ms, 10)
}
