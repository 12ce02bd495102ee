package redisx

import (
	"fmt"
	"time"
)

const (
	// Confirmation token: order_confirm_token:{sha256(token)} -> order_id
	KeyConfirmToken = "order_confirm_token:%s"

	// Positive confirmation cache: order_confirmed:{order_id} -> "1"
	KeyOrderConfirmed = "order_confirmed:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Short lock held while one worker handles an event: inflight:{service}:{event_id}
	KeyInflight = "inflight:%s:%s"
)

var (
	TTLConfirmToken   = 24 * time.Hour
	TTLConfirmedCache = 10 * time.Minute
	TTLDedup          = 48 * time.Hour
	TTLInflight       = 2 * time.Minute
)

func ConfirmTokenKey(tokenHash string) string { return fmt.Sprintf(KeyConfirmToken, tokenHash) }

func OrderConfirmedKey(orderID string) string { return fmt.Sprintf(KeyOrderConfirmed, orderID) }

func DedupKey(service, id string) string { return fmt.Sprintf(KeyDedup, service, id) }

func InflightKey(service, id string) string { return fmt.Sprintf(KeyInflight, service, id) }
