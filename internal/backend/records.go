package backend

import "github.com/matbrandao/chatsync/internal/model"

// Wire records shared by the write API and the bootstrap fetch.

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

type outboundMessage struct {
	ID        string   `json:"id"`
	ClientID  string   `json:"clientId"`
	ChatID    string   `json:"chatId"`
	Sender    wireUser `json:"sender"`
	Content   string   `json:"content"`
	Timestamp int64    `json:"timestamp"`
	ReplyID   string   `json:"replyId,omitempty"`
}

type messageRecord struct {
	ID        string       `json:"id"`
	ClientID  string       `json:"clientId"`
	ChatID    string       `json:"chatId"`
	Sender    wireUser     `json:"sender"`
	Content   string       `json:"content"`
	Timestamp int64        `json:"timestamp"`
	ReplyID   string       `json:"replyId"`
	IsEdited  bool         `json:"isEdited"`
	IsDeleted bool         `json:"isDeleted"`
	Statuses  []wireStatus `json:"message_status"`
}

type labelRecord struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type chatRecord struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	IsGroup         bool            `json:"isGroup"`
	Participants    []wireUser      `json:"participants"`
	Labels          []labelRecord   `json:"labels"`
	LastMessage     string          `json:"lastMessage"`
	LastMessageTime int64           `json:"lastMessageTime"`
	Messages        []messageRecord `json:"messages"`
}

func (r *messageRecord) toModel() *model.Message {
	m := &model.Message{
		ID:        r.ID,
		ClientID:  r.ClientID,
		ChatID:    r.ChatID,
		Sender:    model.User{ID: r.Sender.ID, Name: r.Sender.Name},
		Content:   r.Content,
		Timestamp: r.Timestamp,
		ReplyID:   r.ReplyID,
		Edited:    r.IsEdited,
		Deleted:   r.IsDeleted,
		Statuses:  make(map[string]model.MessageStatus, len(r.Statuses)),
	}
	if m.Deleted {
		m.Content = ""
	}
	for _, st := range r.Statuses {
		m.Statuses[st.UserID] = model.MessageStatus{
			MessageID: st.MessageID,
			UserID:    st.UserID,
			ChatID:    st.ChatID,
			Status:    model.StatusValue(st.Status),
			Timestamp: st.Timestamp,
		}
	}
	return m
}

func (r *chatRecord) toModel() *model.Chat {
	c := &model.Chat{
		ID:            r.ID,
		Name:          r.Name,
		IsGroup:       r.IsGroup,
		LastMessage:   r.LastMessage,
		LastMessageAt: r.LastMessageTime,
	}
	for _, p := range r.Participants {
		c.Participants = append(c.Participants, model.User{ID: p.ID, Name: p.Name})
	}
	for _, l := range r.Labels {
		c.Labels = append(c.Labels, model.Label{ID: l.ID, Name: l.Name, Color: l.Color})
	}
	for _, m := range r.Messages {
		rec := m
		c.Messages = append(c.Messages, rec.toModel())
	}
	return c
}
