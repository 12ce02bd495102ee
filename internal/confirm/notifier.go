package confirm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-secure-checkout/internal/apperr"
	kafkax "github.com/ariefcatur/go-secure-checkout/internal/kafka"
	"github.com/ariefcatur/go-secure-checkout/internal/notify"
	"github.com/ariefcatur/go-secure-checkout/internal/orders"
	"github.com/ariefcatur/go-secure-checkout/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Notifier turns confirmation-requested events into confirmation e-mails.
type Notifier struct {
	Tokens      *TokenService
	Orders      OrderService
	Directory   notify.Directory
	Mailer      notify.Mailer
	Redis       redis.Cmdable
	ServiceName string
	Log         *zap.Logger
}

// HandleConfirmationRequested is installed as the consumer handler. It returns
// an error only for failures worth retrying; undecodable messages and events
// for orders that no longer need confirmation are acknowledged.
func (n *Notifier) HandleConfirmationRequested(ctx context.Context, m kafkago.Message) error {
	log := n.Log
	if log == nil {
		log = zap.NewNop()
	}

	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		log.Error("notifier_bad_envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventConfirmationRequested {
		return nil
	}
	log = log.With(zap.String("event_id", env.EventID), zap.String("order_id", env.CorrelationID))

	// dedup by event id; the key is written only after the mail went out so a
	// failed attempt is retried
	dkey := redisx.DedupKey(n.ServiceName, env.EventID)
	if seen, err := redisx.Exists(ctx, n.Redis, dkey); err == nil && seen {
		log.Debug("notifier_duplicate_event")
		return nil
	}
	lock := redisx.InflightKey(n.ServiceName, env.EventID)
	if got, err := redisx.Claim(ctx, n.Redis, lock, redisx.TTLInflight); err == nil {
		if !got {
			log.Debug("notifier_event_in_flight")
			return nil
		}
		defer n.Redis.Del(context.WithoutCancel(ctx), lock)
		// a worker that held the claim before us may have finished in between
		if seen, err := redisx.Exists(ctx, n.Redis, dkey); err == nil && seen {
			log.Debug("notifier_duplicate_event")
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.ConfirmationRequestedPayload](env.Payload)
	if err != nil {
		log.Error("notifier_bad_payload", zap.Error(err))
		return nil
	}

	confirmed, err := n.Orders.IsConfirmed(ctx, p.OrderID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		log.Warn("notifier_order_missing")
		return nil
	case err != nil:
		return err
	case confirmed:
		log.Info("notifier_order_already_confirmed")
		n.markDone(ctx, log, dkey)
		return nil
	}

	rcpt, err := n.Directory.Lookup(ctx, p.UserID)
	if errors.Is(err, notify.ErrRecipientNotFound) {
		log.Warn("notifier_recipient_missing", zap.String("user_id", p.UserID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup recipient: %w", err)
	}

	link, err := n.Tokens.Issue(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if err := n.Mailer.Send(ctx, confirmationMail(rcpt, p, link)); err != nil {
		return err
	}

	n.markDone(ctx, log, dkey)
	log.Info("confirmation_mail_sent", zap.String("user_id", p.UserID))
	return nil
}

func (n *Notifier) markDone(ctx context.Context, log *zap.Logger, key string) {
	if err := n.Redis.Set(ctx, key, "1", redisx.TTLDedup).Err(); err != nil {
		log.Warn("notifier_dedup_write_failed", zap.Error(err))
	}
}

func confirmationMail(r notify.Recipient, p orders.ConfirmationRequestedPayload, link string) notify.Message {
	name := r.Name
	if name == "" {
		name = "customer"
	}
	return notify.Message{
		To:      r.Email,
		Subject: "Please confirm your order " + p.OrderID,
		Body: fmt.Sprintf("Hello %s,\n\nThank you for your order %s (total %s VND).\n"+
			"Please confirm it within 24 hours by opening the link below:\n\n%s\n",
			name, p.OrderID, p.GrandTotal, link),
	}
}
