package api

import (
	"sync"

	"shipflosync/internal/model"
)

// EventBroker fans dispatch lifecycle events out to stream subscribers.
type EventBroker interface {
	Subscribe() chan model.DispatchEvent
	Unsubscribe(ch chan model.DispatchEvent)
	Publish(evt model.DispatchEvent)
}

// Broker is the in-process EventBroker used when no Redis is configured.
type Broker struct {
	mu   sync.Mutex
	subs map[chan model.DispatchEvent]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: map[chan model.DispatchEvent]struct{}{}}
}

func (b *Broker) Subscribe() chan model.DispatchEvent {
	ch := make(chan model.DispatchEvent, 8)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(ch chan model.DispatchEvent) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish never blocks: slow subscribers drop events.
func (b *Broker) Publish(evt model.DispatchEvent) {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
