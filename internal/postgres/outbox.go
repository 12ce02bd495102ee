package postgres

import (
	"context"
	"sort"
	"time"

	"github.com/ariefcatur/go-secure-checkout/internal/outbox"
)

// claimLease pushes claimed rows out of the due window so a second relay
// instance does not pick them up while the first is still publishing.
const claimLease = 30 * time.Second

type outboxWriter struct{ q querier }

func (w outboxWriter) Enqueue(ctx context.Context, m outbox.Message) error {
	if m.NextAttemptAt.IsZero() {
		m.NextAttemptAt = m.CreatedAt
	}
	_, err := w.q.Exec(ctx, `
		INSERT INTO outbox(id, topic, key, event_type, payload, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)`,
		m.ID, m.Topic, m.Key, m.EventType, m.Payload, m.NextAttemptAt, m.CreatedAt)
	return err
}

var _ outbox.Store = (*Store)(nil)

func (s *Store) ClaimPending(ctx context.Context, now time.Time, limit int) ([]outbox.Message, error) {
	rows, err := s.DB.Query(ctx, `
		UPDATE outbox SET next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM outbox
			WHERE published_at IS NULL AND next_attempt_at <= $1
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id::text, topic, key, event_type, payload, attempts, next_attempt_at, last_error, created_at`,
		now, now.Add(claimLease), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []outbox.Message
	for rows.Next() {
		var m outbox.Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &m.EventType, &m.Payload,
			&m.Attempts, &m.NextAttemptAt, &m.LastError, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := s.DB.Exec(ctx, `UPDATE outbox SET published_at=$2, last_error='' WHERE id=$1`, id, at)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	_, err := s.DB.Exec(ctx, `UPDATE outbox SET attempts=$2, next_attempt_at=$3, last_error=$4 WHERE id=$1`,
		id, attempts, next, lastErr)
	return err
}
