package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: "sync.completed", Timestamp: time.Now()})

	select {
	case evt := <-ch:
		if evt.Kind != "sync.completed" {
			t.Errorf("kind = %q, want sync.completed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("settings.", 10)
	defer unsub()

	b.Publish(Event{Kind: "sync.completed"})
	b.Publish(Event{Kind: "settings.updated", Payload: SettingRef{Category: "preferences", Key: "theme"}})

	select {
	case evt := <-ch:
		if evt.Kind != "settings.updated" {
			t.Errorf("kind = %q, want settings.updated (sync.* must be filtered)", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for settings.updated")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 1)
	unsub()

	b.Publish(Event{Kind: "sync.started"})

	select {
	case evt := <-ch:
		t.Errorf("received %q after unsubscribe", evt.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFullSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("sync.", 1)
	defer unsub()

	// Second publish would block a naive implementation; it must drop instead.
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Kind: "sync.started"})
		b.Publish(Event{Kind: "sync.completed"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on full subscriber")
	}
}
