package state

import (
	"errors"

	"github.com/matbrandao/chatsync/internal/model"
)

var (
	ErrUnknownChat    = errors.New("unknown chat")
	ErrUnknownMessage = errors.New("unknown message")
)

// The operations in this file serve locally-initiated optimistic
// actions only. They are never reachable from remote events: remote
// reconciliation goes exclusively through the idempotent upserts in
// mutate.go.

// InsertTentative inserts a locally-generated message awaiting its
// server echo. Unlike remote upserts the chat must exist: the user can
// only type into a chat that is already on screen.
func (s *Store) InsertTentative(m *model.Message) error {
	s.mu.Lock()
	e, ok := s.chats[m.ChatID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownChat
	}
	s.upsertMessageLocked(e, m)
	if held, ok := e.msgs[m.ID]; ok {
		held.Pending = m.Pending
	}
	s.refresh(e)
	s.mu.Unlock()

	s.notify(m.ChatID)
	return nil
}

// MarkSendFailed flags a tentative message whose write request failed.
// The message stays visible with a failure marker so the user can retry;
// it must not silently disappear.
func (s *Store) MarkSendFailed(chatID, msgID string) error {
	s.mu.Lock()
	e, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownChat
	}
	m, ok := e.msgs[msgID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	m.Pending = false
	m.Failed = true
	s.mu.Unlock()

	s.notify(chatID)
	return nil
}

// RemoveMessage removes a tentative message outright, used when the user
// discards a failed send.
func (s *Store) RemoveMessage(chatID, msgID string) error {
	s.mu.Lock()
	e, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownChat
	}
	if !removeMessage(e, msgID) {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	s.refresh(e)
	s.mu.Unlock()

	s.notify(chatID)
	return nil
}

// ResolveTentative swaps a tentative message for its server-confirmed
// counterpart in a single mutation, so the displayed message neither
// flickers nor duplicates. If the tentative entry is already gone the
// confirmed message is upserted on its own, which keeps the operation
// safe under replays.
func (s *Store) ResolveTentative(chatID, tentativeID string, confirmed *model.Message) Outcome {
	s.mu.Lock()
	e, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return s.UpsertMessage(confirmed)
	}
	removeMessage(e, tentativeID)
	confirmed.Pending = false
	confirmed.Failed = false
	out := s.upsertMessageLocked(e, confirmed)
	s.refresh(e)
	s.mu.Unlock()

	s.notify(chatID)
	return out
}

// ContentSnapshot preserves a message's pre-mutation content for
// rollback of a failed edit or delete.
type ContentSnapshot struct {
	Content   string
	Edited    bool
	Deleted   bool
	ContentTS int64
}

// SetMessageContent applies an optimistic edit or delete, returning the
// prior content so the caller can roll back if the write fails.
func (s *Store) SetMessageContent(chatID, msgID, content string, edited, deleted bool) (ContentSnapshot, error) {
	s.mu.Lock()
	e, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return ContentSnapshot{}, ErrUnknownChat
	}
	m, ok := e.msgs[msgID]
	if !ok {
		s.mu.Unlock()
		return ContentSnapshot{}, ErrUnknownMessage
	}
	prev := ContentSnapshot{Content: m.Content, Edited: m.Edited, Deleted: m.Deleted, ContentTS: m.ContentTS}
	m.Content = content
	m.Edited = edited
	m.Deleted = deleted
	s.refresh(e)
	s.mu.Unlock()

	s.notify(chatID)
	return prev, nil
}

// RestoreMessageContent rolls a message back to a pre-mutation snapshot.
func (s *Store) RestoreMessageContent(chatID, msgID string, snap ContentSnapshot) error {
	s.mu.Lock()
	e, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownChat
	}
	m, ok := e.msgs[msgID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	m.Content = snap.Content
	m.Edited = snap.Edited
	m.Deleted = snap.Deleted
	m.ContentTS = snap.ContentTS
	s.refresh(e)
	s.mu.Unlock()

	s.notify(chatID)
	return nil
}

// InsertTentativeChat creates a locally-generated chat with an empty
// message list, shown immediately while the create request is in
// flight.
func (s *Store) InsertTentativeChat(c *model.Chat) {
	c.Pending = true
	s.UpsertChat(c)
}

// ResolveTentativeChat replaces a tentative chat with its backend-
// confirmed identity, carrying over any messages that accumulated under
// the temporary id.
func (s *Store) ResolveTentativeChat(tentativeID string, confirmed *model.Chat) {
	s.mu.Lock()
	old, ok := s.chats[tentativeID]
	if ok {
		delete(s.chats, tentativeID)
	}
	e, exists := s.chats[confirmed.ID]
	if !exists {
		e = newChatEntry(confirmed)
		s.chats[confirmed.ID] = e
	} else {
		mergeChatMeta(e.chat, confirmed)
	}
	e.chat.Pending = false
	if ok {
		for _, m := range old.chat.Messages {
			moved := m.Clone()
			moved.ChatID = confirmed.ID
			s.upsertMessageLocked(e, moved)
		}
	}
	// Messages for the confirmed id may have raced the create response.
	flushed := s.orphans.takeForChat(confirmed.ID)
	for _, o := range flushed {
		s.upsertMessageLocked(e, o.msg)
	}
	s.refresh(e)
	s.mu.Unlock()

	s.notify(confirmed.ID)
}

// RemoveChat removes a tentative chat after a failed create request.
func (s *Store) RemoveChat(chatID string) {
	s.mu.Lock()
	_, ok := s.chats[chatID]
	if ok {
		delete(s.chats, chatID)
	}
	s.mu.Unlock()

	if ok {
		s.notify(chatID)
	}
}

// MarkChatRead moves every delivered status row for the viewer to read
// and zeroes the unread cache, returning the prior rows for rollback.
func (s *Store) MarkChatRead(chatID string) ([]model.MessageStatus, error) {
	s.mu.Lock()
	e, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrUnknownChat
	}
	now := s.now()
	var prev []model.MessageStatus
	for _, m := range e.chat.Messages {
		st, ok := m.Statuses[s.viewerID]
		if !ok || st.Status != model.StatusDelivered {
			continue
		}
		prev = append(prev, st)
		st.Status = model.StatusRead
		st.Timestamp = now
		m.Statuses[s.viewerID] = st
	}
	s.refresh(e)
	s.mu.Unlock()

	s.notify(chatID)
	return prev, nil
}

// RestoreStatuses rolls back status rows to their prior values.
func (s *Store) RestoreStatuses(chatID string, prev []model.MessageStatus) {
	s.mu.Lock()
	e, ok := s.chats[chatID]
	if ok {
		for _, st := range prev {
			if m, found := e.msgs[st.MessageID]; found {
				m.Statuses[st.UserID] = st
			}
		}
		s.refresh(e)
	}
	s.mu.Unlock()

	if ok {
		s.notify(chatID)
	}
}
