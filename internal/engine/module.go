package engine

import (
	"context"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matbrandao/chatsync/internal/action"
	"github.com/matbrandao/chatsync/internal/api"
	"github.com/matbrandao/chatsync/internal/backend"
	"github.com/matbrandao/chatsync/internal/bus"
	"github.com/matbrandao/chatsync/internal/config"
	"github.com/matbrandao/chatsync/internal/logging"
	"github.com/matbrandao/chatsync/internal/metrics"
	"github.com/matbrandao/chatsync/internal/model"
	"github.com/matbrandao/chatsync/internal/profile"
	"github.com/matbrandao/chatsync/internal/reconcile"
	"github.com/matbrandao/chatsync/internal/state"
	"github.com/matbrandao/chatsync/internal/status"
)

// Params holds the resolved profile configuration passed to the fx
// module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the engine, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("engine",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideMetrics,
			provideStore,
			provideClient,
			provideStream,
			provideLoop,
			provideTracker,
			provideReconciler,
			provideBootstrapper,
			provideService,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*profile.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := profile.AcquireLock(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideStore(cfg *config.Config, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *state.Store {
	return state.New(cfg.Viewer.ID, cfg.Engine.OrphanTTLMs, cfg.Engine.OrphanCap, b, m, logger)
}

func provideClient(cfg *config.Config, logger *zap.Logger) *backend.Client {
	return backend.NewClient(cfg.Backend.BaseURL, logger)
}

func provideStream(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *backend.Stream {
	return backend.NewStream(cfg.Backend.WSURL, b, logger)
}

func provideLoop(b *bus.Bus, st *state.Store, logger *zap.Logger) *Loop {
	return NewLoop(b, st, logger)
}

func provideTracker(cfg *config.Config, st *state.Store, client *backend.Client, loop *Loop, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *action.Tracker {
	viewer := model.User{ID: cfg.Viewer.ID, Name: cfg.Viewer.Name}
	return action.New(st, client, loop, b, m, viewer, logger)
}

func provideReconciler(st *state.Store, tr *action.Tracker, m *metrics.Metrics, logger *zap.Logger) *reconcile.Reconciler {
	return reconcile.New(st, tr, m, logger)
}

func provideBootstrapper(client *backend.Client, st *state.Store, tr *action.Tracker, machine *status.Machine, loop *Loop, logger *zap.Logger) *Bootstrapper {
	return NewBootstrapper(client, st, tr, machine, loop, logger)
}

func provideService(st *state.Store, tr *action.Tracker, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(st, tr, b, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	loop *Loop,
	rec *reconcile.Reconciler,
	stream *backend.Stream,
	machine *status.Machine,
	lk *profile.Lock,
	boot *Bootstrapper,
	m *metrics.Metrics,
	b *bus.Bus,
	logger *zap.Logger,
) {
	supCtx, supCancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			loop.Start(context.Background(), rec)

			// The supervisor drives the runtime state machine from
			// stream connectivity and re-runs bootstrap per connect.
			// Subscribe before the stream starts: the bus drops events
			// with no matching subscriber, and the first connected
			// event must not slip past the supervisor.
			supCh, unsub := b.Subscribe("engine.", 64)
			go supervise(supCtx, supCh, unsub, machine, boot, logger)

			if cfg.Engine.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", m.Handler())
				go func() {
					if err := http.ListenAndServe(cfg.Engine.MetricsAddr, mux); err != nil {
						logger.Error("metrics listener error", zap.Error(err))
					}
				}()
			}

			_ = machine.Transition(status.Connecting)
			stream.Start(context.Background())
			return nil
		},
		OnStop: func(_ context.Context) error {
			supCancel()
			stream.Stop()
			loop.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("engine stopped")
			return nil
		},
	})
}

// bootRunner is the slice of Bootstrapper the supervisor drives.
type bootRunner interface {
	Run(ctx context.Context)
}

func supervise(ctx context.Context, ch <-chan bus.Event, unsub func(), machine *status.Machine, boot bootRunner, logger *zap.Logger) {
	defer unsub()

	for {
		select {
		case evt := <-ch:
			switch evt.Kind {
			case bus.KindEngineConnected:
				if machine.Current() == status.Reconnecting {
					_ = machine.Transition(status.Connecting)
				}
				go boot.Run(ctx)
			case bus.KindEngineDisconnected:
				logger.Warn("change stream lost")
				_ = machine.Transition(status.Reconnecting)
			}
		case <-ctx.Done():
			return
		}
	}
}
