// Package reconcile merges normalized change events into the state
// store. There is one ingress contract regardless of which remote
// stream produced an event, and the merge rules are safe under any
// interleaving of the three streams and local optimistic actions:
// duplicates are absorbed, statuses never regress, and concurrent
// content changes resolve by last server timestamp.
package reconcile

import (
	"go.uber.org/zap"

	"github.com/matbrandao/chatsync/internal/ingest"
	"github.com/matbrandao/chatsync/internal/metrics"
	"github.com/matbrandao/chatsync/internal/model"
	"github.com/matbrandao/chatsync/internal/state"
)

// PendingResolver matches a confirmed insert against the registry of
// optimistic sends. Implementations remove the returned action from the
// registry.
type PendingResolver interface {
	ResolveInsert(clientID, signature string) (*model.PendingAction, bool)
}

// Reconciler applies normalized events to the store.
type Reconciler struct {
	store   *state.Store
	pending PendingResolver
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a reconciler. pending may be nil when no optimistic
// actions exist (bootstrap replay, tests).
func New(st *state.Store, pending PendingResolver, m *metrics.Metrics, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: st, pending: pending, metrics: m, logger: logger}
}

// Apply merges one event. Events referencing unknown entities are
// buffered by the store and replayed when the reference arrives, so
// Apply never fails; it only accounts for what happened.
func (r *Reconciler) Apply(ev *ingest.ChangeEvent) {
	switch ev.Kind {
	case ingest.MessageInserted:
		r.applyInsert(ev.Message)
	case ingest.StatusChanged:
		r.record(string(ev.Kind), r.store.UpsertStatus(ev.Status))
	case ingest.ContentChanged:
		r.record(string(ev.Kind), r.store.ApplyContentChange(ev.Content))
	default:
		r.logger.Warn("unknown change event kind", zap.String("kind", string(ev.Kind)))
	}
}

// applyInsert resolves a confirmed echo of an optimistic send against
// the pending registry, replacing the tentative entry in place under
// the server identity and timestamp. Inserts with no pending match are
// messages from other participants or devices and upsert directly.
func (r *Reconciler) applyInsert(m *model.Message) {
	sig := model.SendSignature(m.Sender.ID, m.ChatID, m.Content)
	if r.pending != nil {
		if pa, ok := r.pending.ResolveInsert(m.ClientID, sig); ok {
			out := r.store.ResolveTentative(pa.ChatID, pa.ClientID, m)
			r.logger.Info("optimistic send confirmed",
				zap.String("correlation_id", pa.CorrelationID),
				zap.String("msg_id", m.ID))
			r.record(string(ingest.MessageInserted), out)
			return
		}
	}
	r.record(string(ingest.MessageInserted), r.store.UpsertMessage(m))
}

func (r *Reconciler) record(kind string, out state.Outcome) {
	if r.metrics == nil {
		return
	}
	switch out {
	case state.Applied:
		r.metrics.EventsApplied.WithLabelValues(kind).Inc()
	case state.Unchanged:
		r.metrics.DuplicatesSeen.Inc()
	case state.Stale:
		r.metrics.StaleStatusDrops.Inc()
	}
	// Buffered outcomes are counted by the store's orphan buffer.
}
