package api

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"shipflosync/internal/model"
)

const eventsChannel = "shipflo:dispatch_events"

// RedisBroker implements EventBroker over Redis Pub/Sub so event streams
// work across multiple service instances.
type RedisBroker struct {
	rdb *redis.Client
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func (b *RedisBroker) Subscribe() chan model.DispatchEvent {
	ch := make(chan model.DispatchEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, eventsChannel)
	// initial consume to ensure the subscription is live
	_, _ = ps.Receive(ctx)
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt model.DispatchEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select {
				case ch <- evt:
				default:
				}
			}
		}
	}()
	return ch
}

func (b *RedisBroker) Unsubscribe(ch chan model.DispatchEvent) {
	// The reader goroutine exits and closes ch when the PubSub connection
	// goes away; nothing else to tear down per subscriber.
}

func (b *RedisBroker) Publish(evt model.DispatchEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	_ = b.rdb.Publish(ctx, eventsChannel, data).Err()
}
