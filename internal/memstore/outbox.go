package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/ariefcatur/go-secure-checkout/internal/outbox"
)

var _ outbox.Store = (*Store)(nil)

func (s *Store) ClaimPending(_ context.Context, now time.Time, limit int) ([]outbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []outbox.Message
	for _, r := range s.st.outbox {
		if r.publishedAt == nil && !r.msg.NextAttemptAt.After(now) {
			out = append(out, r.msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkPublished(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.outbox[id]
	if !ok {
		return nil
	}
	r.publishedAt = &at
	s.st.outbox[id] = r
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id string, attempts int, next time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.outbox[id]
	if !ok {
		return nil
	}
	r.msg.Attempts = attempts
	r.msg.NextAttemptAt = next
	r.msg.LastError = lastErr
	s.st.outbox[id] = r
	return nil
}

// Published reports whether the relay delivered message id.
func (s *Store) Published(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.outbox[id]
	return ok && r.publishedAt != nil
}
