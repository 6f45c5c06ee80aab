package eventbus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	redisc "github.com/mx-space/shortener/internal/pkg/redis"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultBatchSize   = 100
	defaultConcurrency = 5

	blockInterval    = 3 * time.Second  // heartbeat-sized poll
	claimMinIdle     = 30 * time.Second // session timeout before reclaim
	claimInterval    = 60 * time.Second // rebalance-sized sweep
	maxDeliveries    = 5
	deadLetterSuffix = ".dlq"
)

// ErrPermanent marks a handler failure that can never succeed on retry;
// the message goes straight to the dead-letter stream.
var ErrPermanent = errors.New("permanent handler failure")

// Message is one delivered hit event with its stream bookkeeping.
type Message struct {
	ID    string
	Event HitEvent
}

// Handler applies one event. A nil return acknowledges the message; an
// error leaves it pending for redelivery until maxDeliveries, after which
// the message is routed to the dead-letter stream.
type Handler func(ctx context.Context, msg Message) error

// Consumer is one member of a consumer group on the hits stream. Members
// compete for entries; pending entries of dead members are reclaimed with
// XAUTOCLAIM after the idle threshold.
//
// Delivery order is not guaranteed per code: concurrent members and
// reclaimed entries may interleave events for the same code. Handlers must
// therefore be commutative or idempotent per event, which the counter
// updates downstream are.
type Consumer struct {
	rc     *redisc.Client
	topic  string
	group  string
	name   string
	logger *zap.Logger

	batchSize   int
	concurrency int

	onConsumed   func()
	onDeadLetter func()
}

func NewConsumer(rc *redisc.Client, topic, group, name string, logger *zap.Logger) *Consumer {
	return &Consumer{
		rc:          rc,
		topic:       topic,
		group:       group,
		name:        name,
		logger:      logger,
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
	}
}

// WithBatch overrides the flush batch size and the in-flight flush count.
func (c *Consumer) WithBatch(size, concurrency int) *Consumer {
	if size > 0 {
		c.batchSize = size
	}
	if concurrency > 0 {
		c.concurrency = concurrency
	}
	return c
}

// WithHooks installs metric callbacks.
func (c *Consumer) WithHooks(onConsumed, onDeadLetter func()) *Consumer {
	c.onConsumed = onConsumed
	c.onDeadLetter = onDeadLetter
	return c
}

// EnsureGroup creates the consumer group (and the stream) idempotently.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rc.Raw().XGroupCreateMkStream(ctx, c.topic, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Run consumes until ctx is cancelled. On return all in-flight batches have
// drained and their offsets are committed.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, c.concurrency)

	claimTicker := time.NewTicker(claimInterval)
	defer claimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-claimTicker.C:
			c.reclaim(ctx, handler, &wg, sem)
		default:
		}

		res, err := c.rc.Raw().XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{c.topic, ">"},
			Count:    int64(c.batchSize),
			Block:    blockInterval,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			c.logger.Warn("stream read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				wg.Wait()
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range res {
			batch := stream.Messages
			if len(batch) == 0 {
				continue
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return nil
			}
			wg.Add(1)
			go func(entries []redis.XMessage) {
				defer wg.Done()
				defer func() { <-sem }()
				c.flush(ctx, entries, handler)
			}(batch)
		}
	}
}

// flush applies a batch with per-message isolation: one poisoned event does
// not halt the rest.
func (c *Consumer) flush(ctx context.Context, entries []redis.XMessage, handler Handler) {
	for _, entry := range entries {
		c.handleEntry(ctx, entry, 1, handler)
	}
}

func (c *Consumer) handleEntry(ctx context.Context, entry redis.XMessage, deliveries int64, handler Handler) {
	raw, _ := entry.Values[fieldPayload].(string)
	ev, err := decodeEvent(raw)
	if err != nil {
		// Undecodable entries can never succeed; dead-letter immediately.
		c.deadLetter(ctx, entry, "decode: "+err.Error())
		return
	}

	if err := handler(ctx, Message{ID: entry.ID, Event: ev}); err != nil {
		if errors.Is(err, ErrPermanent) || deliveries >= maxDeliveries {
			c.deadLetter(ctx, entry, err.Error())
			return
		}
		// Leave pending; redelivered by the reclaim sweep.
		c.logger.Warn("hit event apply failed, will retry",
			zap.String("id", entry.ID), zap.Int64("deliveries", deliveries), zap.Error(err))
		return
	}

	if err := c.rc.Raw().XAck(ctx, c.topic, c.group, entry.ID).Err(); err != nil {
		c.logger.Warn("ack failed", zap.String("id", entry.ID), zap.Error(err))
		return
	}
	if c.onConsumed != nil {
		c.onConsumed()
	}
}

// reclaim adopts pending entries whose consumer went quiet, carrying their
// delivery count so poison messages still reach the dead-letter stream.
func (c *Consumer) reclaim(ctx context.Context, handler Handler, wg *sync.WaitGroup, sem chan struct{}) {
	start := "0-0"
	for {
		entries, next, err := c.rc.Raw().XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.topic,
			Group:    c.group,
			Consumer: c.name,
			MinIdle:  claimMinIdle,
			Start:    start,
			Count:    int64(c.batchSize),
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				c.logger.Warn("autoclaim failed", zap.Error(err))
			}
			return
		}
		if len(entries) == 0 {
			return
		}

		pending, pendErr := c.rc.Raw().XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: c.topic,
			Group:  c.group,
			Start:  entries[0].ID,
			End:    entries[len(entries)-1].ID,
			Count:  int64(len(entries)),
		}).Result()
		deliveryCount := map[string]int64{}
		if pendErr == nil {
			for _, p := range pending {
				deliveryCount[p.ID] = p.RetryCount
			}
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func(claimed []redis.XMessage) {
			defer wg.Done()
			defer func() { <-sem }()
			for _, entry := range claimed {
				deliveries := deliveryCount[entry.ID]
				if deliveries == 0 {
					deliveries = 2
				}
				c.handleEntry(ctx, entry, deliveries, handler)
			}
		}(entries)

		if next == "0-0" {
			return
		}
		start = next
	}
}

// deadLetter moves an unprocessable entry to the side stream and acks it so
// the group can advance.
func (c *Consumer) deadLetter(ctx context.Context, entry redis.XMessage, reason string) {
	values := map[string]interface{}{"reason": reason}
	for k, v := range entry.Values {
		values[k] = v
	}
	if err := c.rc.Raw().XAdd(ctx, &redis.XAddArgs{
		Stream: c.topic + deadLetterSuffix,
		Values: values,
	}).Err(); err != nil {
		c.logger.Error("dead-letter append failed", zap.String("id", entry.ID), zap.Error(err))
	}
	if err := c.rc.Raw().XAck(ctx, c.topic, c.group, entry.ID).Err(); err != nil {
		c.logger.Warn("dead-letter ack failed", zap.String("id", entry.ID), zap.Error(err))
	}
	if c.onDeadLetter != nil {
		c.onDeadLetter()
	}
}
