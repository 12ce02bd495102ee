// Package confirm lets a customer confirm an order through a one-time e-mail
// link and answers the storefront's confirmation-status poll.
package confirm

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/ariefcatur/go-secure-checkout/internal/apperr"
	"github.com/ariefcatur/go-secure-checkout/internal/logging"
	"github.com/ariefcatur/go-secure-checkout/internal/metrics"
	"github.com/ariefcatur/go-secure-checkout/internal/orders"
	"github.com/ariefcatur/go-secure-checkout/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OrderService is the part of the order state machine the token flow needs.
type OrderService interface {
	ConfirmOrder(ctx context.Context, id string) (orders.Details, error)
	IsConfirmed(ctx context.Context, id string) (bool, error)
}

// TokenService stores sha256(token) -> order id so a leaked cache never
// yields a usable link.
type TokenService struct {
	rdb         redis.Cmdable
	orders      OrderService
	frontendURL string
	ttl         time.Duration
	log         *zap.Logger
	rand        io.Reader
}

func NewTokenService(rdb redis.Cmdable, svc OrderService, frontendURL string, log *zap.Logger) *TokenService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenService{
		rdb:         rdb,
		orders:      svc,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		ttl:         redisx.TTLConfirmToken,
		log:         log,
		rand:        rand.Reader,
	}
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Issue stores a fresh token for orderID and returns the confirmation link.
func (s *TokenService) Issue(ctx context.Context, orderID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(s.rand, buf); err != nil {
		metrics.ConfirmationTokens.WithLabelValues("issue", "error").Inc()
		return "", fmt.Errorf("generate token: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)

	if err := s.rdb.Set(ctx, redisx.ConfirmTokenKey(hashToken(raw)), orderID, s.ttl).Err(); err != nil {
		metrics.ConfirmationTokens.WithLabelValues("issue", "error").Inc()
		return "", fmt.Errorf("store token: %w", err)
	}
	metrics.ConfirmationTokens.WithLabelValues("issue", "ok").Inc()
	return s.frontendURL + "/confirm-order?token=" + url.QueryEscape(raw), nil
}

// Redeem confirms the order bound to raw exactly once. It returns false for
// an unknown, expired or already used token. An order that already left
// PENDING by another path counts as success.
func (s *TokenService) Redeem(ctx context.Context, raw string) (bool, error) {
	log := logging.FromContext(ctx, s.log)
	if raw == "" {
		return false, nil
	}
	key := redisx.ConfirmTokenKey(hashToken(raw))

	orderID, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		metrics.ConfirmationTokens.WithLabelValues("redeem", "unknown").Inc()
		return false, nil
	}
	if err != nil {
		metrics.ConfirmationTokens.WithLabelValues("redeem", "error").Inc()
		return false, fmt.Errorf("read token: %w", err)
	}
	log = log.With(zap.String("order_id", orderID))

	confirmed, err := s.orders.IsConfirmed(ctx, orderID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		s.forget(ctx, log, key)
		metrics.ConfirmationTokens.WithLabelValues("redeem", "order_missing").Inc()
		return false, nil
	case err != nil:
		metrics.ConfirmationTokens.WithLabelValues("redeem", "error").Inc()
		return false, err
	case confirmed:
		s.forget(ctx, log, key)
		metrics.ConfirmationTokens.WithLabelValues("redeem", "already_confirmed").Inc()
		log.Info("confirmation_token_order_already_confirmed")
		return true, nil
	}

	if _, err := s.orders.ConfirmOrder(ctx, orderID); err != nil {
		// Lost a race with another confirmation path.
		if !errors.Is(err, apperr.ErrInvalidTransition) {
			metrics.ConfirmationTokens.WithLabelValues("redeem", "error").Inc()
			return false, err
		}
		log.Info("confirmation_token_order_left_pending", zap.Error(err))
	}
	s.forget(ctx, log, key)
	metrics.ConfirmationTokens.WithLabelValues("redeem", "ok").Inc()
	log.Info("order_confirmed_by_token")
	return true, nil
}

func (s *TokenService) forget(ctx context.Context, log *zap.Logger, key string) {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		// The token still expires on its TTL and the order is no longer PENDING.
		log.Warn("confirmation_token_delete_failed", zap.Error(err))
	}
}
