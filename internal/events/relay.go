package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store reads and acknowledges outbox rows.
type Store interface {
	// Pending returns up to limit unpublished events, oldest first. Inside a
	// transaction the rows stay claimed until it ends.
	Pending(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RelayConfig tunes the relay loop.
type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
	// Claim keeps the batch locked in a transaction while it is published so
	// that several relays can drain one outbox. Stores with a single writer
	// connection must leave it off: the open transaction would hold that
	// connection across broker calls and stall every checkout.
	Claim bool
	// PublishTimeout bounds the broker calls of one batch. Zero means no limit.
	PublishTimeout time.Duration
}

// Relay moves committed events from the outbox to a broker. Delivery is at
// least once: a crash between publishing and marking republishes the batch.
type Relay struct {
	tx             TxRunner
	store          Store
	publisher      Publisher
	interval       time.Duration
	batchSize      int
	claim          bool
	publishTimeout time.Duration
}

// NewRelay creates a Relay.
func NewRelay(tx TxRunner, store Store, publisher Publisher, cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{
		tx:             tx,
		store:          store,
		publisher:      publisher,
		interval:       cfg.Interval,
		batchSize:      cfg.BatchSize,
		claim:          cfg.Claim,
		publishTimeout: cfg.PublishTimeout,
	}
}

// Run polls the outbox until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("relay")
	lg.Info("Starting outbox relay", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		// Drain full batches before waiting for the next tick.
		for {
			n, err := r.Flush(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				lg.Error("Outbox flush failed", zap.Error(err))
				break
			}
			if n < r.batchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch and returns how many events were published.
// Events published before a broker failure are still marked.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	if r.claim {
		return r.flushClaimed(ctx)
	}

	// Unclaimed: no transaction is open while the broker is called.
	pending, err := r.store.Pending(ctx, r.batchSize)
	if err != nil {
		return 0, errors.Wrap(err, "read pending events")
	}
	ids, publishErr := r.publish(ctx, pending)
	if len(ids) > 0 {
		if err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
			return r.store.MarkPublished(ctx, ids)
		}); err != nil {
			return 0, errors.Wrap(err, "mark events published")
		}
	}
	if publishErr != nil {
		return len(ids), errors.Wrap(publishErr, "publish event")
	}
	return len(ids), nil
}

func (r *Relay) flushClaimed(ctx context.Context) (int, error) {
	var (
		published  int
		publishErr error
	)
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		pending, err := r.store.Pending(ctx, r.batchSize)
		if err != nil {
			return errors.Wrap(err, "read pending events")
		}

		var ids []uuid.UUID
		ids, publishErr = r.publish(ctx, pending)
		if len(ids) > 0 {
			if err := r.store.MarkPublished(ctx, ids); err != nil {
				return errors.Wrap(err, "mark events published")
			}
		}
		published = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if publishErr != nil {
		return published, errors.Wrap(publishErr, "publish event")
	}
	return published, nil
}

// publish sends events in order and stops at the first failure. It returns
// the IDs of the events the broker accepted.
func (r *Relay) publish(ctx context.Context, pending []Event) ([]uuid.UUID, error) {
	if r.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.publishTimeout)
		defer cancel()
	}
	ids := make([]uuid.UUID, 0, len(pending))
	for _, e := range pending {
		if err := r.publisher.Publish(ctx, e); err != nil {
			return ids, err
		}
		ids = append(ids, e.ID)
	}
	return ids, nil
}
