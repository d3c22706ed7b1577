package backend

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matbrandao/chatsync/internal/bus"
	"github.com/matbrandao/chatsync/internal/ingest"
)

// reconnectDelay between websocket connection attempts. Deliberately a
// fixed delay, not a backoff: failed user writes are never retried
// automatically, and the stream is read-only.
const reconnectDelay = 2 * time.Second

// Stream consumes the backend's change-event channel. Each frame is
// normalized and published on the bus under "remote.event"; the apply
// loop drains them in arrival order. Within one remote stream the
// backend preserves order; across streams nothing is guaranteed, which
// is the reconciler's problem, not ours.
type Stream struct {
	url    string
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStream creates a change-event stream client.
func NewStream(wsURL string, b *bus.Bus, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{url: wsURL, bus: b, logger: logger}
}

// Start connects and keeps reading until Stop. Reconnects with a fixed
// delay on any failure.
func (s *Stream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop terminates the stream and waits for the read loop to exit.
func (s *Stream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.logger.Warn("change stream dial failed", zap.Error(err))
			if !s.sleep(ctx) {
				return
			}
			continue
		}

		s.logger.Info("change stream connected", zap.String("url", s.url))
		s.bus.Publish(bus.Now(bus.KindEngineConnected, nil))

		s.read(ctx, conn)
		_ = conn.Close()

		s.bus.Publish(bus.Now(bus.KindEngineDisconnected, nil))
		if !s.sleep(ctx) {
			return
		}
	}
}

func (s *Stream) read(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadMessage when the context is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("change stream read failed", zap.Error(err))
			}
			return
		}

		ev, err := ingest.Normalize(raw)
		if err != nil {
			// A malformed or unknown frame is dropped, never fatal.
			s.logger.Warn("dropping unparseable change event", zap.Error(err))
			continue
		}
		s.bus.Publish(bus.Now(bus.KindRemoteEvent, ev))
	}
}

func (s *Stream) sleep(ctx context.Context) bool {
	select {
	case <-time.After(reconnectDelay):
		return true
	case <-ctx.Done():
		return false
	}
}
