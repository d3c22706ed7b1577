package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matbrandao/chatsync/internal/bus"
	"github.com/matbrandao/chatsync/internal/ingest"
	"github.com/matbrandao/chatsync/internal/reconcile"
	"github.com/matbrandao/chatsync/internal/state"
)

// orphanPruneInterval between orphan buffer sweeps.
const orphanPruneInterval = 5 * time.Second

// Loop is the single cooperative apply loop: inbound remote events and
// write-request completions mutate state strictly sequentially, in
// arrival order. Write requests themselves run on their own goroutines
// and re-enter through Do.
type Loop struct {
	bus    *bus.Bus
	store  *state.Store
	logger *zap.Logger

	tasks  chan func()
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop creates the apply loop.
func NewLoop(b *bus.Bus, st *state.Store, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		bus:    b,
		store:  st,
		logger: logger,
		tasks:  make(chan func(), 256),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Do schedules a state mutation on the loop. Used by the action tracker
// for request completions; implements action.Scheduler.
func (l *Loop) Do(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.ctx.Done():
	}
}

// Start begins draining events. The reconciler is passed here rather
// than at construction because it depends on the tracker, which in turn
// schedules onto this loop.
func (l *Loop) Start(ctx context.Context, rec *reconcile.Reconciler) {
	l.done = make(chan struct{})

	remoteCh, unsub := l.bus.Subscribe("remote.", 1024)

	go func() {
		defer close(l.done)
		defer unsub()

		prune := time.NewTicker(orphanPruneInterval)
		defer prune.Stop()

		for {
			select {
			case evt := <-remoteCh:
				ev, ok := evt.Payload.(*ingest.ChangeEvent)
				if !ok {
					continue
				}
				rec.Apply(ev)
			case fn := <-l.tasks:
				fn()
			case <-prune.C:
				l.store.PruneOrphans()
			case <-l.ctx.Done():
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the loop and waits for it to drain.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		<-l.done
	}
}
