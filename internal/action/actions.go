package action

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matbrandao/chatsync/internal/bus"
	"github.com/matbrandao/chatsync/internal/model"
	"github.com/matbrandao/chatsync/internal/state"
)

func newUUID() string { return uuid.NewString() }

// Send constructs a tentative message, shows it immediately and issues
// the write. The tentative entry is replaced in place when the server
// echo reconciles; a failed write leaves it visible with a failure
// marker for user-initiated retry.
func (t *Tracker) Send(chatID, content, replyID string) (string, error) {
	id := t.newID()
	msg := &model.Message{
		ID:        id,
		ClientID:  id,
		ChatID:    chatID,
		Sender:    t.viewer,
		Content:   content,
		Timestamp: t.now(),
		ReplyID:   replyID,
		Pending:   true,
		Statuses:  make(map[string]model.MessageStatus),
	}
	if err := t.store.InsertTentative(msg); err != nil {
		return "", err
	}

	pa := &model.PendingAction{
		CorrelationID: id,
		Kind:          model.ActionSend,
		ChatID:        chatID,
		ClientID:      id,
		Signature:     model.SendSignature(t.viewer.ID, chatID, content),
		CreatedAt:     t.now(),
	}
	t.register(pa)
	t.issueSend(pa, msg)
	return id, nil
}

// RetrySend re-issues a failed send under its original identity.
func (t *Tracker) RetrySend(chatID, msgID string) error {
	msg, ok := t.store.Message(chatID, msgID)
	if !ok {
		return ErrNotFailed
	}
	if !msg.Failed {
		return ErrNotFailed
	}
	msg.Failed = false
	msg.Pending = true
	if err := t.store.InsertTentative(msg); err != nil {
		return err
	}

	pa := &model.PendingAction{
		CorrelationID: msg.ID,
		Kind:          model.ActionSend,
		ChatID:        chatID,
		ClientID:      msg.ID,
		Signature:     model.SendSignature(t.viewer.ID, chatID, msg.Content),
		CreatedAt:     t.now(),
	}
	t.register(pa)
	t.issueSend(pa, msg)
	return nil
}

// DiscardFailed removes a failed send the user gave up on.
func (t *Tracker) DiscardFailed(chatID, msgID string) error {
	msg, ok := t.store.Message(chatID, msgID)
	if !ok || !msg.Failed {
		return ErrNotFailed
	}
	return t.store.RemoveMessage(chatID, msgID)
}

func (t *Tracker) issueSend(pa *model.PendingAction, msg *model.Message) {
	go func() {
		ctx, cancel := reqContext()
		defer cancel()

		confirmed, err := t.writer.InsertMessage(ctx, msg)
		t.sched.Do(func() {
			if err != nil {
				if settled, ok := t.settle(pa.CorrelationID); ok {
					_ = t.store.MarkSendFailed(pa.ChatID, pa.ClientID)
					t.fail(settled, err)
				}
				return
			}
			// The pending entry stays registered: the echoed stream
			// event resolves it. The follow-up writes mirror what a
			// successful insert fans out to: delivered rows for each
			// recipient and the chat-list preview.
			t.fanOutSend(pa, msg, confirmed)
		})
	}()
}

// fanOutSend writes delivered-status rows for every recipient and
// updates the chat preview. Failures here are logged, not rolled back:
// the message itself was accepted.
func (t *Tracker) fanOutSend(pa *model.PendingAction, msg, confirmed *model.Message) {
	chat, ok := t.store.Snapshot(pa.ChatID)
	if !ok {
		return
	}
	serverID := msg.ID
	if confirmed != nil && confirmed.ID != "" {
		serverID = confirmed.ID
	}

	var rows []model.MessageStatus
	for _, p := range chat.Participants {
		if p.ID == t.viewer.ID {
			continue
		}
		rows = append(rows, model.MessageStatus{
			MessageID: serverID,
			UserID:    p.ID,
			ChatID:    pa.ChatID,
			Status:    model.StatusDelivered,
			Timestamp: t.now(),
		})
	}

	go func() {
		ctx, cancel := reqContext()
		defer cancel()

		if len(rows) > 0 {
			if err := t.writer.UpsertStatuses(ctx, rows); err != nil {
				t.logger.Warn("status fan-out failed", zap.Error(err), zap.String("msg_id", serverID))
			}
		}
		if err := t.writer.UpdateChatPreview(ctx, pa.ChatID, msg.Content, msg.Timestamp); err != nil {
			t.logger.Warn("preview update failed", zap.Error(err), zap.String("chat_id", pa.ChatID))
		}
	}()
}

// Edit applies the new content immediately and rolls back to the prior
// value if the write fails.
func (t *Tracker) Edit(chatID, msgID, content string) error {
	prev, err := t.store.SetMessageContent(chatID, msgID, content, true, false)
	if err != nil {
		return err
	}

	pa := &model.PendingAction{
		CorrelationID: t.newID(),
		Kind:          model.ActionEdit,
		ChatID:        chatID,
		ClientID:      msgID,
		CreatedAt:     t.now(),
	}
	t.register(pa)

	go func() {
		ctx, cancel := reqContext()
		defer cancel()

		err := t.writer.UpdateMessageContent(ctx, chatID, msgID, content)
		t.sched.Do(func() {
			settled, ok := t.settle(pa.CorrelationID)
			if !ok {
				return
			}
			if err != nil {
				_ = t.store.RestoreMessageContent(chatID, msgID, prev)
				t.fail(settled, err)
				return
			}
			t.publish(bus.KindActionResolved, settled, "")
		})
	}()
	return nil
}

// Delete tombstones the message immediately and rolls back on failure.
func (t *Tracker) Delete(chatID, msgID string) error {
	prev, err := t.store.SetMessageContent(chatID, msgID, "", false, true)
	if err != nil {
		return err
	}

	pa := &model.PendingAction{
		CorrelationID: t.newID(),
		Kind:          model.ActionDelete,
		ChatID:        chatID,
		ClientID:      msgID,
		CreatedAt:     t.now(),
	}
	t.register(pa)

	go func() {
		ctx, cancel := reqContext()
		defer cancel()

		err := t.writer.DeleteMessage(ctx, chatID, msgID)
		t.sched.Do(func() {
			settled, ok := t.settle(pa.CorrelationID)
			if !ok {
				return
			}
			if err != nil {
				_ = t.store.RestoreMessageContent(chatID, msgID, prev)
				t.fail(settled, err)
				return
			}
			t.publish(bus.KindActionResolved, settled, "")
		})
	}()
	return nil
}

// AddLabel attaches a catalog label to a chat; the label reverts if the
// write fails.
func (t *Tracker) AddLabel(chatID, labelID string) error {
	t.mu.Lock()
	label, ok := t.catalog[labelID]
	t.mu.Unlock()
	if !ok {
		return ErrUnknownLabel
	}

	chat, ok := t.store.Snapshot(chatID)
	if !ok {
		return state.ErrUnknownChat
	}
	if chat.HasLabel(labelID) {
		return nil
	}
	next := append(append([]model.Label(nil), chat.Labels...), label)
	return t.updateLabels(chatID, next, model.ActionLabelAdd)
}

// RemoveLabel detaches a label from a chat; the label comes back if the
// write fails.
func (t *Tracker) RemoveLabel(chatID, labelID string) error {
	chat, ok := t.store.Snapshot(chatID)
	if !ok {
		return state.ErrUnknownChat
	}
	if !chat.HasLabel(labelID) {
		return nil
	}
	var next []model.Label
	for _, l := range chat.Labels {
		if l.ID != labelID {
			next = append(next, l)
		}
	}
	return t.updateLabels(chatID, next, model.ActionLabelRemove)
}

func (t *Tracker) updateLabels(chatID string, next []model.Label, kind model.ActionKind) error {
	prev, err := t.store.UpdateLabels(chatID, next)
	if err != nil {
		return err
	}

	pa := &model.PendingAction{
		CorrelationID: t.newID(),
		Kind:          kind,
		ChatID:        chatID,
		CreatedAt:     t.now(),
	}
	t.register(pa)

	names := make([]string, len(next))
	for i, l := range next {
		names[i] = l.Name
	}

	go func() {
		ctx, cancel := reqContext()
		defer cancel()

		err := t.writer.UpdateChatLabels(ctx, chatID, names)
		t.sched.Do(func() {
			settled, ok := t.settle(pa.CorrelationID)
			if !ok {
				return
			}
			if err != nil {
				_, _ = t.store.UpdateLabels(chatID, prev)
				t.fail(settled, err)
				return
			}
			t.publish(bus.KindActionResolved, settled, "")
		})
	}()
	return nil
}

// NewChat creates a tentative chat shown immediately; the caller
// switches the active view to the returned id. The tentative chat is
// replaced under the backend-confirmed id when the create resolves, or
// removed on failure.
func (t *Tracker) NewChat(other model.User) (string, error) {
	id := t.newID()
	chat := &model.Chat{
		ID:           id,
		Name:         other.Name,
		IsGroup:      false,
		Participants: []model.User{t.viewer, other},
	}
	t.store.InsertTentativeChat(chat)

	pa := &model.PendingAction{
		CorrelationID: id,
		Kind:          model.ActionNewChat,
		ChatID:        id,
		ClientID:      id,
		CreatedAt:     t.now(),
	}
	t.register(pa)

	go func() {
		ctx, cancel := reqContext()
		defer cancel()

		confirmed, err := t.writer.InsertChat(ctx, chat)
		t.sched.Do(func() {
			settled, ok := t.settle(pa.CorrelationID)
			if !ok {
				return
			}
			if err != nil {
				t.store.RemoveChat(id)
				t.fail(settled, err)
				return
			}
			t.store.ResolveTentativeChat(id, confirmed)
			if t.metrics != nil {
				t.metrics.ActionsResolved.Inc()
			}
			t.publish(bus.KindActionResolved, settled, "")
		})
	}()
	return id, nil
}

// MarkChatRead moves the viewer's delivered rows to read when a chat is
// opened, optimistically zeroing the unread count. A failed write
// restores the prior rows.
func (t *Tracker) MarkChatRead(chatID string) error {
	prev, err := t.store.MarkChatRead(chatID)
	if err != nil {
		return err
	}
	if len(prev) == 0 {
		return nil
	}

	rows := make([]model.MessageStatus, len(prev))
	for i, st := range prev {
		st.Status = model.StatusRead
		st.Timestamp = t.now()
		rows[i] = st
	}

	pa := &model.PendingAction{
		CorrelationID: t.newID(),
		Kind:          model.ActionMarkRead,
		ChatID:        chatID,
		CreatedAt:     t.now(),
	}

	go func() {
		ctx, cancel := reqContext()
		defer cancel()

		err := t.writer.UpsertStatuses(ctx, rows)
		t.sched.Do(func() {
			if err != nil {
				t.store.RestoreStatuses(chatID, prev)
				t.fail(pa, err)
			}
		})
	}()
	return nil
}
