package api

import (
	"testing"
	"time"

	"shipflosync/internal/model"
)

func TestBrokerFanOutAndUnsubscribe(t *testing.T) {
	b := NewBroker()
	a := b.Subscribe()
	c := b.Subscribe()

	b.Publish(model.DispatchEvent{Type: "order.posted", OrderID: 1})
	for _, ch := range []chan model.DispatchEvent{a, c} {
		select {
		case evt := <-ch:
			if evt.Type != "order.posted" || evt.OrderID != 1 {
				t.Fatalf("event: %+v", evt)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	b.Unsubscribe(c)
	if _, ok := <-c; ok {
		t.Fatal("unsubscribed channel not closed")
	}

	// Publishing with a gone subscriber must not panic or block.
	b.Publish(model.DispatchEvent{Type: "order.failed", OrderID: 2})
	select {
	case evt := <-a:
		if evt.OrderID != 2 {
			t.Fatalf("event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber starved")
	}
}
