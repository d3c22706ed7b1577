// Package api is the surface exposed to the view layer: read-only
// snapshot accessors and action dispatchers. Reconciliation mechanics
// stay internal; callers see success or failure and bus notifications.
package api

import (
	"sync"

	"go.uber.org/zap"

	"github.com/matbrandao/chatsync/internal/action"
	"github.com/matbrandao/chatsync/internal/bus"
	"github.com/matbrandao/chatsync/internal/derive"
	"github.com/matbrandao/chatsync/internal/model"
	"github.com/matbrandao/chatsync/internal/state"
)

// Service is the view-layer facade.
type Service struct {
	store   *state.Store
	tracker *action.Tracker
	bus     *bus.Bus
	logger  *zap.Logger

	mu         sync.Mutex
	activeChat string
}

// NewService creates the facade.
func NewService(st *state.Store, tr *action.Tracker, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, tracker: tr, bus: b, logger: logger}
}

// GetChats returns the chat list sorted by last activity.
func (s *Service) GetChats() []model.Chat {
	return s.store.Chats()
}

// GetChatsByLabel returns chats carrying the given label.
func (s *Service) GetChatsByLabel(labelID string) []model.Chat {
	return s.store.ChatsByLabel(labelID)
}

// SearchChats filters the chat list by name, case-insensitive.
func (s *Service) SearchChats(query string) []model.Chat {
	return s.store.FilterChats(query)
}

// GetUnreadCount returns the unread counter for one chat.
func (s *Service) GetUnreadCount(chatID string) int {
	return s.store.UnreadCount(chatID)
}

// SetActiveChat switches the active conversation and marks it read.
func (s *Service) SetActiveChat(chatID string) error {
	s.mu.Lock()
	s.activeChat = chatID
	s.mu.Unlock()
	return s.tracker.MarkChatRead(chatID)
}

// ActiveChat returns the currently active chat id.
func (s *Service) ActiveChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChat
}

// GetActiveChatMessages returns the active chat's messages in
// (timestamp, id) order.
func (s *Service) GetActiveChatMessages() []*model.Message {
	return s.store.Messages(s.ActiveChat())
}

// GetMessageBlocks returns the active chat's messages grouped into
// consecutive same-sender runs for display.
func (s *Service) GetMessageBlocks() []derive.Block {
	chat, ok := s.store.Snapshot(s.ActiveChat())
	if !ok {
		return nil
	}
	return derive.GroupBySender(&chat)
}

// GetReply resolves a message's reply target, yielding a placeholder
// when the target is missing locally.
func (s *Service) GetReply(chatID, msgID string) (derive.Reply, bool) {
	chat, ok := s.store.Snapshot(chatID)
	if !ok {
		return derive.Reply{}, false
	}
	msg, ok := s.store.Message(chatID, msgID)
	if !ok {
		return derive.Reply{}, false
	}
	return derive.ResolveReply(&chat, msg)
}

// SendMessage sends to the active chat, returning the tentative
// message id.
func (s *Service) SendMessage(content, replyID string) (string, error) {
	return s.tracker.Send(s.ActiveChat(), content, replyID)
}

// RetrySend re-issues a failed send.
func (s *Service) RetrySend(chatID, msgID string) error {
	return s.tracker.RetrySend(chatID, msgID)
}

// EditMessage edits a message's content.
func (s *Service) EditMessage(chatID, msgID, content string) error {
	return s.tracker.Edit(chatID, msgID, content)
}

// DeleteMessage tombstones a message.
func (s *Service) DeleteMessage(chatID, msgID string) error {
	return s.tracker.Delete(chatID, msgID)
}

// AddLabel attaches a catalog label to a chat.
func (s *Service) AddLabel(chatID, labelID string) error {
	return s.tracker.AddLabel(chatID, labelID)
}

// RemoveLabel detaches a label from a chat.
func (s *Service) RemoveLabel(chatID, labelID string) error {
	return s.tracker.RemoveLabel(chatID, labelID)
}

// CreateChat creates a conversation with another user and makes it
// active immediately; the id is tentative until the backend confirms.
func (s *Service) CreateChat(other model.User) (string, error) {
	id, err := s.tracker.NewChat(other)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.activeChat = id
	s.mu.Unlock()
	return id, nil
}

// Watch subscribes the view layer to change notifications under the
// given namespace prefix ("chat.", "action.", "engine.").
func (s *Service) Watch(prefix string, bufSize int) (<-chan bus.Event, func()) {
	return s.bus.Subscribe(prefix, bufSize)
}
