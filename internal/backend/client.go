// Package backend talks to the remote messaging backend: a websocket
// change-event channel and an HTTP write API whose responses share one
// {data, error, status} envelope. Everything here is translation and
// transport; merge logic lives in the reconciler.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/matbrandao/chatsync/internal/model"
)

// Envelope is the backend's uniform response for write operations.
type Envelope struct {
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
	Status int             `json:"status"`
}

// WriteError is a failed write request, carrying the backend's error
// string and HTTP status.
type WriteError struct {
	Status  int
	Message string
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("backend write failed (status %d): %s", e.Status, e.Message)
}

// Client is the HTTP write API client.
type Client struct {
	base   string
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a write API client for the given base URL.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:   baseURL,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

// InsertMessage writes a new message. The returned record, when the
// backend includes one, carries the server-assigned id.
func (c *Client) InsertMessage(ctx context.Context, m *model.Message) (*model.Message, error) {
	env, err := c.do(ctx, http.MethodPost, "/messages", outboundMessage{
		ID:        m.ID,
		ClientID:  m.ClientID,
		ChatID:    m.ChatID,
		Sender:    wireUser{ID: m.Sender.ID, Name: m.Sender.Name},
		Content:   m.Content,
		Timestamp: m.Timestamp,
		ReplyID:   m.ReplyID,
	})
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 {
		return nil, nil
	}
	var rec messageRecord
	if err := json.Unmarshal(env.Data, &rec); err != nil {
		return nil, fmt.Errorf("decode inserted message: %w", err)
	}
	return rec.toModel(), nil
}

// UpdateMessageContent edits a message's content.
func (c *Client) UpdateMessageContent(ctx context.Context, chatID, msgID, content string) error {
	_, err := c.do(ctx, http.MethodPatch, "/messages/"+msgID, map[string]any{
		"chatId":   chatID,
		"content":  content,
		"isEdited": true,
	})
	return err
}

// DeleteMessage tombstones a message. Deletion is an update, not a
// removal.
func (c *Client) DeleteMessage(ctx context.Context, chatID, msgID string) error {
	_, err := c.do(ctx, http.MethodPatch, "/messages/"+msgID, map[string]any{
		"chatId":    chatID,
		"isDeleted": true,
	})
	return err
}

// InsertChat creates a chat, returning the backend-confirmed record.
func (c *Client) InsertChat(ctx context.Context, chat *model.Chat) (*model.Chat, error) {
	participants := make([]wireUser, len(chat.Participants))
	for i, p := range chat.Participants {
		participants[i] = wireUser{ID: p.ID, Name: p.Name}
	}
	env, err := c.do(ctx, http.MethodPost, "/chats", map[string]any{
		"clientId":     chat.ID,
		"name":         chat.Name,
		"isGroup":      chat.IsGroup,
		"participants": participants,
	})
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("insert chat: empty response data")
	}
	var rec chatRecord
	if err := json.Unmarshal(env.Data, &rec); err != nil {
		return nil, fmt.Errorf("decode inserted chat: %w", err)
	}
	return rec.toModel(), nil
}

// UpsertStatuses writes a batch of delivery-status rows.
func (c *Client) UpsertStatuses(ctx context.Context, rows []model.MessageStatus) error {
	wire := make([]wireStatus, len(rows))
	for i, r := range rows {
		wire[i] = wireStatus{
			MessageID: r.MessageID,
			UserID:    r.UserID,
			ChatID:    r.ChatID,
			Status:    string(r.Status),
			Timestamp: r.Timestamp,
		}
	}
	_, err := c.do(ctx, http.MethodPost, "/message-status", wire)
	return err
}

// UpdateChatLabels replaces a chat's label set by name.
func (c *Client) UpdateChatLabels(ctx context.Context, chatID string, labelNames []string) error {
	_, err := c.do(ctx, http.MethodPatch, "/chats/"+chatID, map[string]any{
		"labels": labelNames,
	})
	return err
}

// UpdateChatPreview updates the chat-list preview after a send.
func (c *Client) UpdateChatPreview(ctx context.Context, chatID, preview string, ts int64) error {
	_, err := c.do(ctx, http.MethodPatch, "/chats/"+chatID, map[string]any{
		"lastMessage":     preview,
		"lastMessageTime": ts,
	})
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*Envelope, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Status == 0 {
		env.Status = resp.StatusCode
	}
	if env.Error != "" || env.Status >= 400 {
		return nil, &WriteError{Status: env.Status, Message: env.Error}
	}
	return &env, nil
}
