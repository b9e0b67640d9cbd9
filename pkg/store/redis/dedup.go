package redis

import (
	"context"
	"time"
)

const dedupKeyPrefix = "cf:webhook:seen:"

// Deduper is the fast-path duplicate filter for webhook notification ids.
// It is advisory only: the attempt row's last-processed-notification id is
// the authoritative guard, this just skips the provider round-trip on hot
// redeliveries. Ids are marked only after a notification was fully handled,
// so a failed run never poisons the cache.
type Deduper struct {
	client *Client
	ttl    time.Duration
}

func NewDeduper(client *Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Deduper{client: client, ttl: ttl}
}

// Seen reports whether the notification id was already fully processed.
// Errors degrade to "not seen" so a redis outage never blocks
// reconciliation.
func (d *Deduper) Seen(ctx context.Context, notificationID string) bool {
	if d == nil || notificationID == "" {
		return false
	}
	n, err := d.client.Client().Exists(ctx, dedupKeyPrefix+notificationID).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// Mark records a fully processed notification id.
func (d *Deduper) Mark(ctx context.Context, notificationID string) {
	if d == nil || notificationID == "" {
		return
	}
	_ = d.client.Client().Set(ctx, dedupKeyPrefix+notificationID, 1, d.ttl).Err()
}
