package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler must return nil only when processing succeeded and the offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	workers int
	log     *zap.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, log: log.With(zap.String("topic", topic), zap.String("group", group))}
}

// Start fetches messages and fans them out to a worker pool. It returns nil
// on context cancellation and the fetch error otherwise.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, 1024)
	errs := make(chan error, c.workers)
	var wg sync.WaitGroup

	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			report := func(err error) {
				select {
				case errs <- err:
				default:
					c.log.Warn("consumer_worker_error", zap.Int("worker", id), zap.Error(err))
				}
			}
			for m := range jobs {
				if err := h(ctx, m); err != nil {
					report(err)
					continue
				}
				if err := c.r.CommitMessages(ctx, m); err != nil {
					report(err)
				}
			}
		}(i)
	}
	stop := func() {
		close(jobs)
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			stop()
			return nil
		}

		// drain without blocking so a slow worker cannot stall the dispatcher
		select {
		case e := <-errs:
			c.log.Warn("consumer_worker_error", zap.Error(e))
			time.Sleep(200 * time.Millisecond)
		default:
		}
	}
}

// WithRetry retries h with doubling delay. After the last attempt the message
// is logged and acknowledged so one poison message cannot block the partition.
func WithRetry(h Handler, attempts int, delay time.Duration, log *zap.Logger) Handler {
	if attempts <= 0 {
		attempts = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, m kafka.Message) error {
		var err error
		wait := delay
		for i := 1; i <= attempts; i++ {
			if err = h(ctx, m); err == nil {
				return nil
			}
			if i == attempts {
				break
			}
			select {
			case <-time.After(wait):
				wait *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		log.Error("message_dropped_after_retries",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.String("key", string(m.Key)),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return nil
	}
}
