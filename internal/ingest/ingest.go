// Package ingest normalizes the backend's three change streams into a
// single internal event shape. It is purely translation: duplicates and
// replays pass through unchanged, dedup happens during reconciliation.
package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/matbrandao/chatsync/internal/model"
)

// Kind identifies the normalized event kind.
type Kind string

const (
	MessageInserted Kind = "message-inserted"
	StatusChanged   Kind = "status-changed"
	ContentChanged  Kind = "message-content-changed"
)

// ChangeEvent is the single internal event shape all three remote
// streams normalize into. Exactly one of Message, Status and Content is
// set, matching Kind.
type ChangeEvent struct {
	Kind     Kind
	ChatID   string
	ServerTS int64

	Message *model.Message
	Status  *model.MessageStatus
	Content *model.ContentChange
}

// wireFrame is the envelope on the websocket: a kind plus the raw
// kind-specific payload.
type wireFrame struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type wireMessage struct {
	ID        string   `json:"id"`
	ClientID  string   `json:"clientId"`
	ChatID    string   `json:"chatId"`
	Sender    wireUser `json:"sender"`
	Content   string   `json:"content"`
	Timestamp int64    `json:"timestamp"`
	ReplyID   string   `json:"replyId"`
}

type wireUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type wireStatus struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	ChatID    string `json:"chatId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

type wireContentChange struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	Content   string `json:"content"`
	IsDeleted bool   `json:"isDeleted"`
	Timestamp int64  `json:"timestamp"`
}

// Normalize translates one raw frame from the change-event channel into
// a ChangeEvent.
func Normalize(raw []byte) (*ChangeEvent, error) {
	var frame wireFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch Kind(frame.Kind) {
	case MessageInserted:
		var wm wireMessage
		if err := json.Unmarshal(frame.Payload, &wm); err != nil {
			return nil, fmt.Errorf("decode message-inserted: %w", err)
		}
		return &ChangeEvent{
			Kind:     MessageInserted,
			ChatID:   wm.ChatID,
			ServerTS: wm.Timestamp,
			Message:  wm.toModel(),
		}, nil

	case StatusChanged:
		var ws wireStatus
		if err := json.Unmarshal(frame.Payload, &ws); err != nil {
			return nil, fmt.Errorf("decode status-changed: %w", err)
		}
		sv := model.StatusValue(ws.Status)
		if sv != model.StatusDelivered && sv != model.StatusRead {
			return nil, fmt.Errorf("unknown status value %q", ws.Status)
		}
		return &ChangeEvent{
			Kind:     StatusChanged,
			ChatID:   ws.ChatID,
			ServerTS: ws.Timestamp,
			Status: &model.MessageStatus{
				MessageID: ws.MessageID,
				UserID:    ws.UserID,
				ChatID:    ws.ChatID,
				Status:    sv,
				Timestamp: ws.Timestamp,
			},
		}, nil

	case ContentChanged:
		var wc wireContentChange
		if err := json.Unmarshal(frame.Payload, &wc); err != nil {
			return nil, fmt.Errorf("decode message-content-changed: %w", err)
		}
		return &ChangeEvent{
			Kind:     ContentChanged,
			ChatID:   wc.ChatID,
			ServerTS: wc.Timestamp,
			Content: &model.ContentChange{
				MessageID: wc.ID,
				ChatID:    wc.ChatID,
				Content:   wc.Content,
				Deleted:   wc.IsDeleted,
				Timestamp: wc.Timestamp,
			},
		}, nil
	}

	return nil, fmt.Errorf("unknown event kind %q", frame.Kind)
}

func (wm *wireMessage) toModel() *model.Message {
	// ClientID is the backend's echo of a locally-generated id; it is
	// carried through for correlation during reconciliation.
	return &model.Message{
		ID:        wm.ID,
		ClientID:  wm.ClientID,
		ChatID:    wm.ChatID,
		Sender:    model.User{ID: wm.Sender.ID, Name: wm.Sender.Name},
		Content:   wm.Content,
		Timestamp: wm.Timestamp,
		ReplyID:   wm.ReplyID,
		Statuses:  make(map[string]model.MessageStatus),
	}
}
