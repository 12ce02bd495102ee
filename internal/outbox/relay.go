package outbox

import (
	"context"
	"time"

	"github.com/ariefcatur/go-secure-checkout/internal/metrics"
	"go.uber.org/zap"
)

// Publisher delivers one message to the broker and returns only after the
// broker acknowledged it.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Relay polls the outbox and forwards due messages to the Publisher. A
// message is marked published only after the broker ack; failed messages are
// rescheduled with exponential backoff, so delivery is at-least-once.
type Relay struct {
	store Store
	pub   Publisher
	log   *zap.Logger
	cfg   RelayConfig
	now   func() time.Time
}

func NewRelay(store Store, pub Publisher, log *zap.Logger, cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{store: store, pub: pub, log: log, cfg: cfg, now: time.Now}
}

func (r *Relay) Run(ctx context.Context) {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("outbox_poll_failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce publishes one batch and returns how many messages were delivered.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	msgs, err := r.store.ClaimPending(ctx, r.now().UTC(), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, m := range msgs {
		if err := r.pub.Publish(ctx, m); err != nil {
			attempts := m.Attempts + 1
			next := r.now().UTC().Add(r.backoff(attempts))
			metrics.OutboxPublished.WithLabelValues("error").Inc()
			r.log.Warn("outbox_publish_failed",
				zap.String("message_id", m.ID),
				zap.String("topic", m.Topic),
				zap.Int("attempts", attempts),
				zap.Time("next_attempt_at", next),
				zap.Error(err),
			)
			if err := r.store.MarkFailed(ctx, m.ID, attempts, next, err.Error()); err != nil {
				r.log.Error("outbox_mark_failed_failed", zap.String("message_id", m.ID), zap.Error(err))
			}
			continue
		}
		if err := r.store.MarkPublished(ctx, m.ID, r.now().UTC()); err != nil {
			// The message will be sent again; consumers dedupe by event id.
			r.log.Error("outbox_mark_published_failed", zap.String("message_id", m.ID), zap.Error(err))
			continue
		}
		metrics.OutboxPublished.WithLabelValues("ok").Inc()
		sent++
	}
	return sent, nil
}

func (r *Relay) backoff(attempts int) time.Duration {
	d := r.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= r.cfg.MaxBackoff {
			return r.cfg.MaxBackoff
		}
	}
	return d
}
