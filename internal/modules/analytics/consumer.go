package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/mx-space/shortener/internal/pkg/eventbus"
	"go.uber.org/zap"
)

const (
	// toleranceBehind/Ahead bound accepted event timestamps. Events outside
	// the window are dead-lettered rather than folded into stale buckets.
	toleranceBehind = 24 * time.Hour
	toleranceAhead  = 5 * time.Minute
)

// Consumer applies hit events from the bus to the counter store.
type Consumer struct {
	store  *Store
	bus    *eventbus.Consumer
	logger *zap.Logger
}

func NewConsumer(store *Store, bus *eventbus.Consumer, logger *zap.Logger) *Consumer {
	return &Consumer{store: store, bus: bus, logger: logger}
}

// Run blocks until ctx is cancelled, draining in-flight batches on exit.
func (c *Consumer) Run(ctx context.Context) error {
	return c.bus.Run(ctx, c.apply)
}

// apply folds one event into the counter rows. All updates are commutative
// or idempotent, so redelivery after a partial failure is safe.
func (c *Consumer) apply(ctx context.Context, msg eventbus.Message) error {
	ev := msg.Event
	if !ev.Valid() {
		return fmt.Errorf("%w: missing required fields", eventbus.ErrPermanent)
	}
	now := time.Now().UTC()
	ts := ev.Timestamp.UTC()
	if ts.Before(now.Add(-toleranceBehind)) || ts.After(now.Add(toleranceAhead)) {
		return fmt.Errorf("%w: timestamp %s outside tolerance window", eventbus.ErrPermanent, ts.Format(time.RFC3339))
	}

	if err := c.store.ApplyHit(ctx, ev); err != nil {
		return fmt.Errorf("apply hit: %w", err)
	}
	if err := c.store.TouchAccessTimes(ctx, ev.Code, ts); err != nil {
		return fmt.Errorf("touch access times: %w", err)
	}
	if err := c.store.RecordUniqueVisitor(ctx, ev.Code, ts.Format(dateLayout), VisitorHash(ev.IP, ev.UserAgent)); err != nil {
		return fmt.Errorf("record visitor: %w", err)
	}

	c.logger.Debug("hit applied", zap.String("code", ev.Code), zap.String("id", msg.ID))
	return nil
}
