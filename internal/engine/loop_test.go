package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/matbrandao/chatsync/internal/bus"
	"github.com/matbrandao/chatsync/internal/ingest"
	"github.com/matbrandao/chatsync/internal/metrics"
	"github.com/matbrandao/chatsync/internal/model"
	"github.com/matbrandao/chatsync/internal/reconcile"
	"github.com/matbrandao/chatsync/internal/state"
)

func loopFixture(t *testing.T) (*Loop, *state.Store, *bus.Bus) {
	t.Helper()
	b := bus.New()
	st := state.New("u1", 30_000, 512, b, metrics.New(), nil)
	st.UpsertChat(&model.Chat{
		ID: "c1", Name: "Alice",
		Participants: []model.User{{ID: "u1"}, {ID: "u2"}},
	})
	return NewLoop(b, st, nil), st, b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestLoopDrainsRemoteEvents(t *testing.T) {
	l, st, b := loopFixture(t)
	rec := reconcile.New(st, nil, metrics.New(), nil)

	l.Start(context.Background(), rec)
	defer l.Stop()

	b.Publish(bus.Now(bus.KindRemoteEvent, &ingest.ChangeEvent{
		Kind: ingest.MessageInserted, ChatID: "c1", ServerTS: 1000,
		Message: &model.Message{
			ID: "m1", ChatID: "c1", Sender: model.User{ID: "u2"},
			Content: "hi", Timestamp: 1000,
			Statuses: make(map[string]model.MessageStatus),
		},
	}))

	waitFor(t, func() bool {
		_, ok := st.Message("c1", "m1")
		return ok
	})
}

func TestLoopSerializesTasks(t *testing.T) {
	l, st, _ := loopFixture(t)
	rec := reconcile.New(st, nil, metrics.New(), nil)

	l.Start(context.Background(), rec)
	defer l.Stop()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		l.Do(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 10
	})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("task order = %v, want strictly sequential", order)
		}
	}
}

func TestLoopStopIsIdempotentForDo(t *testing.T) {
	l, st, _ := loopFixture(t)
	rec := reconcile.New(st, nil, metrics.New(), nil)

	l.Start(context.Background(), rec)
	l.Stop()

	// A completion arriving after shutdown must not block forever.
	done := make(chan struct{})
	go func() {
		l.Do(func() {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Do blocked after Stop")
	}
}
