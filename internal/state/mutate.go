package state

import (
	"sort"

	"go.uber.org/zap"

	"github.com/matbrandao/chatsync/internal/model"
)

// UpsertChat inserts or updates a chat by id. Message history is owned
// by the store and survives metadata updates. Buffered orphan messages
// waiting on this chat are replayed.
func (s *Store) UpsertChat(c *model.Chat) Outcome {
	s.mu.Lock()
	e, ok := s.chats[c.ID]
	var out Outcome
	if !ok {
		e = newChatEntry(c)
		s.chats[c.ID] = e
		out = Applied
	} else {
		out = mergeChatMeta(e.chat, c)
	}

	// Seed any messages carried on the entity (bootstrap payloads).
	for _, m := range c.Messages {
		if _, exists := e.msgs[m.ID]; !exists {
			s.upsertMessageLocked(e, m)
			out = Applied
		}
	}

	// First-message events can race chat creation; replay anything
	// parked for this chat.
	flushed := s.orphans.takeForChat(c.ID)
	for _, o := range flushed {
		s.upsertMessageLocked(e, o.msg)
		out = Applied
	}
	if n := len(flushed); n > 0 && s.metrics != nil {
		s.metrics.OrphansFlushed.Add(float64(n))
	}

	s.refresh(e)
	s.mu.Unlock()

	if out == Applied {
		s.notify(c.ID)
	}
	return out
}

// UpsertMessage inserts or updates a message by id. A message for an
// unknown chat is buffered rather than dropped.
func (s *Store) UpsertMessage(m *model.Message) Outcome {
	s.mu.Lock()
	e, ok := s.chats[m.ChatID]
	if !ok {
		s.bufferOrphan(orphan{kind: orphanMessage, chatID: m.ChatID, msgID: m.ID, msg: m, at: s.now()})
		s.mu.Unlock()
		return Buffered
	}

	out := s.upsertMessageLocked(e, m)
	s.refresh(e)
	s.mu.Unlock()

	if out == Applied {
		s.notify(m.ChatID)
	}
	return out
}

// UpsertStatus applies a delivery-status row by its (message, user)
// composite key. Transitions only move forward: a delivered arriving
// after a recorded read is rejected, since status timestamps are not
// causally ordered across the two values.
func (s *Store) UpsertStatus(st *model.MessageStatus) Outcome {
	s.mu.Lock()
	e, ok := s.chats[st.ChatID]
	if !ok {
		s.bufferOrphan(orphan{kind: orphanStatus, chatID: st.ChatID, msgID: st.MessageID, status: st, at: s.now()})
		s.mu.Unlock()
		return Buffered
	}
	m, ok := e.msgs[st.MessageID]
	if !ok {
		s.bufferOrphan(orphan{kind: orphanStatus, chatID: st.ChatID, msgID: st.MessageID, status: st, at: s.now()})
		s.mu.Unlock()
		return Buffered
	}

	out := upsertStatusLocked(m, st)
	if out == Applied {
		s.refresh(e)
	}
	s.mu.Unlock()

	if out == Applied {
		s.notify(st.ChatID)
	}
	return out
}

// ApplyContentChange applies an edit or tombstone to an existing
// message. Unknown references are buffered; concurrent changes resolve
// by last server timestamp, deletion winning ties.
func (s *Store) ApplyContentChange(ch *model.ContentChange) Outcome {
	s.mu.Lock()
	e, ok := s.chats[ch.ChatID]
	if !ok {
		s.bufferOrphan(orphan{kind: orphanContent, chatID: ch.ChatID, msgID: ch.MessageID, content: ch, at: s.now()})
		s.mu.Unlock()
		return Buffered
	}
	m, ok := e.msgs[ch.MessageID]
	if !ok {
		s.bufferOrphan(orphan{kind: orphanContent, chatID: ch.ChatID, msgID: ch.MessageID, content: ch, at: s.now()})
		s.mu.Unlock()
		return Buffered
	}

	out := applyContentLocked(m, ch)
	if out == Applied {
		s.refresh(e)
	}
	s.mu.Unlock()

	if out == Applied {
		s.notify(ch.ChatID)
	}
	return out
}

// MarkDeleted applies a tombstone to a message. Identity and timestamp
// are retained so ordering and reply references stay stable.
func (s *Store) MarkDeleted(chatID, msgID string, ts int64) Outcome {
	return s.ApplyContentChange(&model.ContentChange{
		MessageID: msgID,
		ChatID:    chatID,
		Deleted:   true,
		Timestamp: ts,
	})
}

// UpdateLabels replaces a chat's label set, returning the prior set so
// a failed write can roll back.
func (s *Store) UpdateLabels(chatID string, labels []model.Label) ([]model.Label, error) {
	s.mu.Lock()
	e, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrUnknownChat
	}
	prev := e.chat.Labels
	e.chat.Labels = append([]model.Label(nil), labels...)
	s.mu.Unlock()

	s.notify(chatID)
	return prev, nil
}

// SeedChats bulk-loads the bootstrap snapshot, keeping only chats the
// viewer participates in.
func (s *Store) SeedChats(chats []*model.Chat) int {
	var seeded []string
	s.mu.Lock()
	for _, c := range chats {
		if !c.HasParticipant(s.viewerID) {
			continue
		}
		e, ok := s.chats[c.ID]
		if !ok {
			e = newChatEntry(c)
			s.chats[c.ID] = e
		} else {
			mergeChatMeta(e.chat, c)
		}
		for _, m := range c.Messages {
			s.upsertMessageLocked(e, m)
		}
		s.refresh(e)
		seeded = append(seeded, c.ID)
	}
	s.mu.Unlock()

	for _, id := range seeded {
		s.notify(id)
	}
	return len(seeded)
}

// upsertMessageLocked merges one message into a chat entry and replays
// any orphan content/status events waiting on it. Caller holds the
// write lock and refreshes the entry afterwards.
func (s *Store) upsertMessageLocked(e *chatEntry, m *model.Message) Outcome {
	existing, ok := e.msgs[m.ID]
	if ok {
		return mergeMessage(existing, m)
	}

	ins := m.Clone()
	if ins.Statuses == nil {
		ins.Statuses = make(map[string]model.MessageStatus)
	}
	e.msgs[ins.ID] = ins
	insertSorted(e.chat, ins)

	// Content and status events can outrun the insert they refer to.
	flushed := s.orphans.takeForMessage(ins.ID)
	for _, o := range flushed {
		switch o.kind {
		case orphanContent:
			applyContentLocked(ins, o.content)
		case orphanStatus:
			upsertStatusLocked(ins, o.status)
		}
	}
	if n := len(flushed); n > 0 && s.metrics != nil {
		s.metrics.OrphansFlushed.Add(float64(n))
	}
	return Applied
}

func (s *Store) bufferOrphan(o orphan) {
	evicted := s.orphans.add(o)
	if s.metrics != nil {
		s.metrics.OrphansBuffered.Inc()
		if evicted {
			s.metrics.OrphansEvicted.Inc()
		}
	}
	if evicted {
		s.logger.Warn("orphan buffer full, evicted oldest entry",
			zap.String("chat_id", o.chatID), zap.String("msg_id", o.msgID))
	}
}

// PruneOrphans drops buffered orphans older than the retry budget.
// Called periodically from the apply loop.
func (s *Store) PruneOrphans() int {
	s.mu.Lock()
	dropped := s.orphans.expire(s.now())
	s.mu.Unlock()

	for _, o := range dropped {
		s.logger.Warn("orphan event never resolved, dropping",
			zap.String("chat_id", o.chatID), zap.String("msg_id", o.msgID))
	}
	if n := len(dropped); n > 0 && s.metrics != nil {
		s.metrics.OrphansExpired.Add(float64(n))
	}
	return len(dropped)
}

// OrphanCount returns the number of buffered orphan events.
func (s *Store) OrphanCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orphans.entries)
}

func newChatEntry(c *model.Chat) *chatEntry {
	chat := cloneChatMeta(c)
	return &chatEntry{chat: &chat, msgs: make(map[string]*model.Message)}
}

// mergeChatMeta folds incoming chat metadata into the canonical copy.
func mergeChatMeta(dst, src *model.Chat) Outcome {
	out := Unchanged
	if src.Name != "" && src.Name != dst.Name {
		dst.Name = src.Name
		out = Applied
	}
	if src.IsGroup != dst.IsGroup {
		dst.IsGroup = src.IsGroup
		out = Applied
	}
	if len(src.Participants) > 0 && !sameUsers(dst.Participants, src.Participants) {
		dst.Participants = append([]model.User(nil), src.Participants...)
		out = Applied
	}
	if src.Labels != nil && !sameLabels(dst.Labels, src.Labels) {
		dst.Labels = append([]model.Label(nil), src.Labels...)
		out = Applied
	}
	if dst.Pending && !src.Pending {
		dst.Pending = false
		out = Applied
	}
	return out
}

// mergeMessage folds a replayed or updated copy of a message into the
// canonical one. A message that already absorbed a content change keeps
// its content: the change event carries the later server timestamp and
// must not be clobbered by a replayed insert.
func mergeMessage(dst, src *model.Message) Outcome {
	out := Unchanged
	if dst.ContentTS == 0 && src.Content != dst.Content {
		dst.Content = src.Content
		out = Applied
	}
	if src.Sender.Name != "" && src.Sender.Name != dst.Sender.Name {
		dst.Sender.Name = src.Sender.Name
		out = Applied
	}
	if src.ReplyID != "" && src.ReplyID != dst.ReplyID {
		dst.ReplyID = src.ReplyID
		out = Applied
	}
	if dst.Pending || dst.Failed {
		// Server copy confirms the send.
		dst.Pending = false
		dst.Failed = false
		out = Applied
	}
	for _, st := range src.Statuses {
		stCopy := st
		if upsertStatusLocked(dst, &stCopy) == Applied {
			out = Applied
		}
	}
	return out
}

func upsertStatusLocked(m *model.Message, st *model.MessageStatus) Outcome {
	existing, ok := m.Statuses[st.UserID]
	if !ok {
		m.Statuses[st.UserID] = *st
		return Applied
	}
	newRank, oldRank := st.Status.Rank(), existing.Status.Rank()
	switch {
	case newRank > oldRank:
		m.Statuses[st.UserID] = *st
		return Applied
	case newRank < oldRank:
		return Stale
	case st.Timestamp > existing.Timestamp:
		m.Statuses[st.UserID] = *st
		return Applied
	}
	return Unchanged
}

func applyContentLocked(m *model.Message, ch *model.ContentChange) Outcome {
	if ch.Timestamp < m.ContentTS {
		return Stale
	}
	if ch.Timestamp == m.ContentTS {
		// Replay of the applied change, or the losing side of a tie.
		// Deletion wins ties so a tombstone is never resurrected by an
		// equal-timestamp edit.
		if ch.Deleted && !m.Deleted {
			m.Content = ""
			m.Deleted = true
			return Applied
		}
		return Unchanged
	}

	if ch.Deleted {
		m.Content = ""
		m.Deleted = true
	} else {
		m.Content = ch.Content
		m.Edited = true
		m.Deleted = false
	}
	m.ContentTS = ch.Timestamp
	return Applied
}

// insertSorted places a message at its (timestamp, id) position.
func insertSorted(c *model.Chat, m *model.Message) {
	i := sort.Search(len(c.Messages), func(i int) bool {
		return model.Less(m, c.Messages[i])
	})
	c.Messages = append(c.Messages, nil)
	copy(c.Messages[i+1:], c.Messages[i:])
	c.Messages[i] = m
}

func removeMessage(e *chatEntry, msgID string) bool {
	m, ok := e.msgs[msgID]
	if !ok {
		return false
	}
	delete(e.msgs, msgID)
	for i, cur := range e.chat.Messages {
		if cur == m {
			e.chat.Messages = append(e.chat.Messages[:i], e.chat.Messages[i+1:]...)
			break
		}
	}
	return true
}

func sameUsers(a, b []model.User) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

func sameLabels(a, b []model.Label) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}
