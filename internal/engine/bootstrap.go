package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matbrandao/chatsync/internal/action"
	"github.com/matbrandao/chatsync/internal/backend"
	"github.com/matbrandao/chatsync/internal/state"
	"github.com/matbrandao/chatsync/internal/status"
)

const bootstrapTimeout = 30 * time.Second

// Bootstrapper seeds the store from the backend on every (re)connect:
// the label catalog and the full chat snapshot, filtered to chats the
// viewer participates in. Seeding is idempotent, so a reconnect replay
// is harmless.
type Bootstrapper struct {
	client  *backend.Client
	store   *state.Store
	tracker *action.Tracker
	machine *status.Machine
	loop    *Loop
	logger  *zap.Logger
}

// NewBootstrapper creates the bootstrap fetcher.
func NewBootstrapper(c *backend.Client, st *state.Store, tr *action.Tracker, m *status.Machine, l *Loop, logger *zap.Logger) *Bootstrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bootstrapper{client: c, store: st, tracker: tr, machine: m, loop: l, logger: logger}
}

// Run fetches and seeds. Called after the change stream connects so no
// events are missed between snapshot and stream.
func (b *Bootstrapper) Run(ctx context.Context) {
	_ = b.machine.Transition(status.Syncing)

	ctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()

	labels, err := b.client.FetchLabels(ctx)
	if err != nil {
		b.logger.Error("label catalog fetch failed", zap.Error(err))
		_ = b.machine.Transition(status.Degraded)
		return
	}
	b.tracker.SetLabelCatalog(labels)

	chats, err := b.client.FetchBootstrap(ctx)
	if err != nil {
		b.logger.Error("bootstrap fetch failed", zap.Error(err))
		_ = b.machine.Transition(status.Degraded)
		return
	}

	// Seeding goes through the apply loop like every other mutation.
	seeded := make(chan int, 1)
	b.loop.Do(func() {
		seeded <- b.store.SeedChats(chats)
	})

	select {
	case n := <-seeded:
		b.logger.Info("bootstrap complete", zap.Int("chats", n), zap.Int("labels", len(labels)))
		_ = b.machine.Transition(status.Ready)
	case <-ctx.Done():
		b.logger.Error("bootstrap seeding timed out")
		_ = b.machine.Transition(status.Degraded)
	}
}
