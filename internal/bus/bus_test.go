package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	defer unsub()

	b.Publish(Now(KindChatChanged, ChatChange{ChatID: "c1"}))

	select {
	case evt := <-ch:
		if evt.Kind != KindChatChanged {
			t.Errorf("got kind %s, want %s", evt.Kind, KindChatChanged)
		}
		change, ok := evt.Payload.(ChatChange)
		if !ok {
			t.Fatalf("payload type = %T, want ChatChange", evt.Payload)
		}
		if change.ChatID != "c1" {
			t.Errorf("chat id = %s, want c1", change.ChatID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	chatCh, unsub1 := b.Subscribe("chat.", 10)
	defer unsub1()
	actionCh, unsub2 := b.Subscribe("action.", 10)
	defer unsub2()

	b.Publish(Now(KindChatChanged, ChatChange{ChatID: "c1"}))

	select {
	case <-chatCh:
	case <-time.After(time.Second):
		t.Fatal("chat subscriber should receive chat events")
	}

	select {
	case evt := <-actionCh:
		t.Errorf("action subscriber received %s", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyPrefixReceivesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Publish(Now(KindChatChanged, nil))
	b.Publish(Now(KindActionFailed, nil))
	b.Publish(Now(KindEngineConnected, nil))

	for i := 0; i < 3; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	unsub()

	b.Publish(Now(KindChatChanged, ChatChange{ChatID: "c1"}))

	select {
	case evt := <-ch:
		t.Errorf("received %s after unsubscribe", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

// A slow subscriber loses events instead of stalling the publisher.
func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("chat.", 1)
	defer unsub()

	b.Publish(Now(KindChatChanged, ChatChange{ChatID: "c1"}))
	b.Publish(Now(KindChatChanged, ChatChange{ChatID: "c2"}))

	if got := b.Dropped(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}
