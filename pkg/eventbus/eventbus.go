package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type Event struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// AttemptEvent announces a payment attempt status change to live staff UI
// subscribers.
type AttemptEvent struct {
	AttemptID string `json:"attempt_id"`
	TenantID  string `json:"tenant_id"`
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Flow      string `json:"flow"`
}

// CredentialEvent announces a provider connection state change.
type CredentialEvent struct {
	TenantID string `json:"tenant_id"`
	Status   string `json:"status"`
}

const (
	ChannelAttempt    = "cf:events:attempt"
	ChannelCredential = "cf:events:credential"
)

type Bus struct {
	client redis.UniversalClient
}

func NewBus(client redis.UniversalClient) *Bus {
	return &Bus{client: client}
}

func NewEvent(eventType string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}, nil
}

func (b *Bus) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *Bus) Subscribe(ctx context.Context, channels ...string) <-chan *Event {
	sub := b.client.Subscribe(ctx, channels...)
	ch := make(chan *Event, 100)

	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			ch <- &event
		}
	}()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	return ch
}
