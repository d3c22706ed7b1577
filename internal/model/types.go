package model

// User represents a chat participant.
type User struct {
	ID     string
	Name   string
	Online bool
}

// Label represents an entry in the global label catalog.
type Label struct {
	ID    string
	Name  string
	Color string
}

// StatusValue is a per-recipient delivery state. Transitions only move
// forward: delivered -> read.
type StatusValue string

const (
	StatusDelivered StatusValue = "delivered"
	StatusRead      StatusValue = "read"
)

// Rank orders status values for forward-only transition checks.
func (s StatusValue) Rank() int {
	switch s {
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return 0
}

// MessageStatus is one recipient's delivery state for one message.
// At most one entry exists per (MessageID, UserID).
type MessageStatus struct {
	MessageID string
	UserID    string
	ChatID    string
	Status    StatusValue
	Timestamp int64
}

// TombstoneText replaces the content of a deleted message.
const TombstoneText = "This message was deleted"

// Message represents one message in a chat. Deletion is an update, not a
// removal: a deleted message keeps its identity and timestamp so ordering
// and reply references stay stable.
type Message struct {
	ID        string
	// ClientID is the locally-generated id echoed back by the backend
	// on confirmed sends. Empty for messages from other participants.
	ClientID  string
	ChatID    string
	Sender    User
	Content   string
	Timestamp int64
	ReplyID   string
	Edited    bool
	Deleted   bool

	// ContentTS is the server timestamp of the last applied content
	// change (edit or delete). Zero until a content change lands; used
	// for last-write-wins between concurrent edits and deletes.
	ContentTS int64

	// Pending marks a local tentative send awaiting the server echo.
	// Failed marks a send whose write request failed; the message stays
	// visible with a failure marker until the user retries or discards.
	Pending bool
	Failed  bool

	// Statuses is keyed by recipient user id.
	Statuses map[string]MessageStatus
}

// DisplayContent returns the content to render, substituting the
// tombstone for deleted messages.
func (m *Message) DisplayContent() string {
	if m.Deleted {
		return TombstoneText
	}
	return m.Content
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.Statuses != nil {
		c.Statuses = make(map[string]MessageStatus, len(m.Statuses))
		for k, v := range m.Statuses {
			c.Statuses[k] = v
		}
	}
	return &c
}

// ContentChange carries an edit or delete of an existing message. The
// timestamp is the server's, used for last-write-wins between
// concurrent edits and deletes.
type ContentChange struct {
	MessageID string
	ChatID    string
	Content   string
	Deleted   bool
	Timestamp int64
}

// Chat represents a conversation owning an ordered message history.
type Chat struct {
	ID            string
	Name          string
	IsGroup       bool
	Participants  []User
	Labels        []Label
	LastMessage   string
	LastMessageAt int64
	Unread        int

	// Messages is kept sorted by (Timestamp, ID) ascending.
	Messages []*Message

	// Pending marks a local tentative chat awaiting the create response.
	Pending bool
}

// HasParticipant reports whether the user is part of this chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// HasLabel reports whether the chat carries the given label id.
func (c *Chat) HasLabel(labelID string) bool {
	for _, l := range c.Labels {
		if l.ID == labelID {
			return true
		}
	}
	return false
}

// Less is the total order for messages within a chat: primary key is the
// canonical timestamp, message id breaks ties so the order is independent
// of arrival order.
func Less(a, b *Message) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.ID < b.ID
}
