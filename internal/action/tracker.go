// Package action applies local user actions optimistically and settles
// them: a confirmed action resolves against the server echo, a failed
// write rolls the store back to its pre-mutation value. Retry is always
// user-initiated, never automatic.
package action

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matbrandao/chatsync/internal/bus"
	"github.com/matbrandao/chatsync/internal/metrics"
	"github.com/matbrandao/chatsync/internal/model"
	"github.com/matbrandao/chatsync/internal/state"
)

var (
	ErrUnknownLabel = errors.New("label not in catalog")
	ErrNotFailed    = errors.New("message is not in failed state")
)

// requestTimeout bounds each write request.
const requestTimeout = 15 * time.Second

// Writer is the slice of the backend write API the tracker needs.
type Writer interface {
	InsertMessage(ctx context.Context, m *model.Message) (*model.Message, error)
	UpdateMessageContent(ctx context.Context, chatID, msgID, content string) error
	DeleteMessage(ctx context.Context, chatID, msgID string) error
	InsertChat(ctx context.Context, c *model.Chat) (*model.Chat, error)
	UpsertStatuses(ctx context.Context, rows []model.MessageStatus) error
	UpdateChatLabels(ctx context.Context, chatID string, labelNames []string) error
	UpdateChatPreview(ctx context.Context, chatID, preview string, ts int64) error
}

// Scheduler re-enters the serialized apply loop: request completions
// must mutate state in the same queue as inbound remote events.
type Scheduler interface {
	Do(fn func())
}

// Tracker is the optimistic action tracker.
type Tracker struct {
	store   *state.Store
	writer  Writer
	sched   Scheduler
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	viewer  model.User

	mu       sync.Mutex
	catalog  map[string]model.Label
	pending  map[string]*model.PendingAction // by correlation id
	byClient map[string]string               // client id -> correlation id
	bySig    map[string]string               // send signature -> correlation id

	now   func() int64
	newID func() string
}

// New creates a tracker for the given viewer identity.
func New(st *state.Store, w Writer, sched Scheduler, b *bus.Bus, m *metrics.Metrics, viewer model.User, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:    st,
		writer:   w,
		sched:    sched,
		bus:      b,
		metrics:  m,
		logger:   logger,
		viewer:   viewer,
		catalog:  make(map[string]model.Label),
		pending:  make(map[string]*model.PendingAction),
		byClient: make(map[string]string),
		bySig:    make(map[string]string),
		now:      func() int64 { return time.Now().UnixMilli() },
		newID:    newUUID,
	}
}

// SetLabelCatalog installs the global label catalog fetched at
// bootstrap.
func (t *Tracker) SetLabelCatalog(labels []model.Label) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.catalog = make(map[string]model.Label, len(labels))
	for _, l := range labels {
		t.catalog[l.ID] = l
	}
}

// ResolveInsert matches a server-confirmed insert against the pending
// registry, preferring the echoed client id over the content signature,
// and removes the matched action. Implements reconcile.PendingResolver.
func (t *Tracker) ResolveInsert(clientID, signature string) (*model.PendingAction, bool) {
	t.mu.Lock()
	corrID, ok := t.byClient[clientID]
	if !ok {
		corrID, ok = t.bySig[signature]
	}
	if !ok {
		t.mu.Unlock()
		return nil, false
	}
	pa := t.pending[corrID]
	t.removeLocked(pa)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.ActionsResolved.Inc()
	}
	t.publish(bus.KindActionResolved, pa, "")
	return pa, true
}

// PendingCount returns the number of unsettled actions.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) register(pa *model.PendingAction) {
	t.mu.Lock()
	t.pending[pa.CorrelationID] = pa
	if pa.ClientID != "" {
		t.byClient[pa.ClientID] = pa.CorrelationID
	}
	if pa.Signature != "" {
		t.bySig[pa.Signature] = pa.CorrelationID
	}
	t.mu.Unlock()

	t.publish(bus.KindActionPending, pa, "")
}

// settle removes a pending action at request completion. Returns false
// if the action was already resolved by the reconciler.
func (t *Tracker) settle(corrID string) (*model.PendingAction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pa, ok := t.pending[corrID]
	if !ok {
		return nil, false
	}
	t.removeLocked(pa)
	return pa, true
}

func (t *Tracker) removeLocked(pa *model.PendingAction) {
	delete(t.pending, pa.CorrelationID)
	if pa.ClientID != "" {
		delete(t.byClient, pa.ClientID)
	}
	if pa.Signature != "" {
		delete(t.bySig, pa.Signature)
	}
}

func (t *Tracker) fail(pa *model.PendingAction, err error) {
	if t.metrics != nil {
		t.metrics.ActionsFailed.Inc()
	}
	t.logger.Warn("optimistic action failed, rolled back",
		zap.String("kind", string(pa.Kind)),
		zap.String("chat_id", pa.ChatID),
		zap.Error(err))
	t.publish(bus.KindActionFailed, pa, err.Error())
}

func (t *Tracker) publish(kind string, pa *model.PendingAction, errMsg string) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(bus.Now(kind, bus.ActionUpdate{
		CorrelationID: pa.CorrelationID,
		Kind:          string(pa.Kind),
		ChatID:        pa.ChatID,
		Error:         errMsg,
	}))
}

// reqContext builds the context for one write request. The request is
// independent of the caller: the optimistic mutation already happened
// and the dispatcher has returned.
func reqContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}
