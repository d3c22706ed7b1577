// Package state owns the canonical in-memory graph of chats, messages
// and per-recipient statuses. Every other component reads through the
// query surface or requests mutations through the operations here; no
// component keeps a writable copy. Mutations are atomic per entity
// upsert and idempotent: applying the same entity value twice yields
// the same state as applying it once.
package state

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matbrandao/chatsync/internal/bus"
	"github.com/matbrandao/chatsync/internal/derive"
	"github.com/matbrandao/chatsync/internal/metrics"
	"github.com/matbrandao/chatsync/internal/model"
)

// Outcome reports what a mutation did, so the reconciler can account
// for duplicates and stale updates without inspecting state.
type Outcome int

const (
	// Applied means the mutation changed state.
	Applied Outcome = iota
	// Unchanged means the entity value was already present (duplicate
	// or replayed event, absorbed).
	Unchanged
	// Stale means the mutation was rejected by an ordering rule
	// (status regression or a losing concurrent content change).
	Stale
	// Buffered means the event referenced an unknown chat or message
	// and was parked in the orphan buffer.
	Buffered
)

// Store is the canonical state store.
type Store struct {
	mu       sync.RWMutex
	viewerID string
	chats    map[string]*chatEntry
	orphans  orphanBuffer

	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() int64
}

// chatEntry pairs a chat with an id index over its messages. The map
// values are the same pointers held in chat.Messages.
type chatEntry struct {
	chat *model.Chat
	msgs map[string]*model.Message
}

// New creates an empty store. orphanTTLms and orphanCap bound the
// orphan buffer (see PruneOrphans).
func New(viewerID string, orphanTTLms int64, orphanCap int, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		viewerID: viewerID,
		chats:    make(map[string]*chatEntry),
		orphans:  orphanBuffer{ttlMs: orphanTTLms, cap: orphanCap},
		bus:      b,
		metrics:  m,
		logger:   logger,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// ViewerID returns the identity derived values are computed for.
func (s *Store) ViewerID() string {
	return s.viewerID
}

// Chats returns chat snapshots without message bodies, sorted by last
// message time descending.
func (s *Store) Chats() []model.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Chat, 0, len(s.chats))
	for _, e := range s.chats {
		out = append(out, cloneChatMeta(e.chat))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt != out[j].LastMessageAt {
			return out[i].LastMessageAt > out[j].LastMessageAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ChatsByLabel returns chats carrying the given label id.
func (s *Store) ChatsByLabel(labelID string) []model.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Chat
	for _, e := range s.chats {
		if e.chat.HasLabel(labelID) {
			out = append(out, cloneChatMeta(e.chat))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt > out[j].LastMessageAt
	})
	return out
}

// FilterChats returns chats whose name contains query, case-insensitive.
func (s *Store) FilterChats(query string) []model.Chat {
	q := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Chat
	for _, e := range s.chats {
		if strings.Contains(strings.ToLower(e.chat.Name), q) {
			out = append(out, cloneChatMeta(e.chat))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt > out[j].LastMessageAt
	})
	return out
}

// Snapshot returns a deep copy of one chat including its messages.
func (s *Store) Snapshot(chatID string) (model.Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.chats[chatID]
	if !ok {
		return model.Chat{}, false
	}
	c := cloneChatMeta(e.chat)
	c.Messages = make([]*model.Message, len(e.chat.Messages))
	for i, m := range e.chat.Messages {
		c.Messages[i] = m.Clone()
	}
	return c, true
}

// Messages returns deep copies of a chat's messages in (timestamp, id)
// order.
func (s *Store) Messages(chatID string) []*model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	out := make([]*model.Message, len(e.chat.Messages))
	for i, m := range e.chat.Messages {
		out[i] = m.Clone()
	}
	return out
}

// Message returns a deep copy of one message.
func (s *Store) Message(chatID, msgID string) (*model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.chats[chatID]
	if !ok {
		return nil, false
	}
	m, ok := e.msgs[msgID]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// UnreadCount returns the cached unread counter for a chat. The cache
// is recomputed from the message set after every mutation touching the
// chat, so it never diverges once reconciliation completes.
func (s *Store) UnreadCount(chatID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.chats[chatID]; ok {
		return e.chat.Unread
	}
	return 0
}

func cloneChatMeta(c *model.Chat) model.Chat {
	out := *c
	out.Messages = nil
	out.Participants = append([]model.User(nil), c.Participants...)
	out.Labels = append([]model.Label(nil), c.Labels...)
	return out
}

// refresh recomputes the cached per-chat derived values. Caller holds
// the write lock.
func (s *Store) refresh(e *chatEntry) {
	e.chat.Unread = derive.UnreadCount(e.chat, s.viewerID)
	if p, ok := derive.LastMessage(e.chat); ok {
		e.chat.LastMessage = p.Text
		e.chat.LastMessageAt = p.Timestamp
	}
}

// notify publishes the localized invalidation for one chat. Called
// after the write lock is released.
func (s *Store) notify(chatID string) {
	if s.bus != nil {
		s.bus.Publish(bus.Now(bus.KindChatChanged, bus.ChatChange{ChatID: chatID}))
	}
}
