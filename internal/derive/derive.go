// Package derive computes values derived from canonical chat state:
// unread counts, last-message previews, sender-grouped display blocks
// and reply-target resolution. Everything here is a pure function of a
// chat snapshot; the store caches the results it keeps hot and
// invalidates per chat, never rescanning the whole store.
package derive

import "github.com/matbrandao/chatsync/internal/model"

// UnreadCount counts messages from other senders that the viewer has
// received but not read: a delivered status row for the viewer must
// exist. No row (not yet delivered) and a read row both exclude the
// message.
func UnreadCount(chat *model.Chat, viewerID string) int {
	n := 0
	for _, m := range chat.Messages {
		if m.Sender.ID == viewerID {
			continue
		}
		st, ok := m.Statuses[viewerID]
		if ok && st.Status == model.StatusDelivered {
			n++
		}
	}
	return n
}

// Preview is the last-message summary shown in the chat list.
type Preview struct {
	Text      string
	Timestamp int64
}

// LastMessage returns the preview for the message with the greatest
// (timestamp, id) key, or false if the chat has no messages. Deleted
// messages contribute their tombstone text.
func LastMessage(chat *model.Chat) (Preview, bool) {
	if len(chat.Messages) == 0 {
		return Preview{}, false
	}
	// Messages are kept sorted by (timestamp, id) ascending.
	last := chat.Messages[len(chat.Messages)-1]
	return Preview{Text: last.DisplayContent(), Timestamp: last.Timestamp}, true
}

// Block is a maximal run of consecutive messages sharing one sender,
// used by the view layer for visual grouping.
type Block struct {
	Sender   model.User
	Messages []*model.Message
}

// GroupBySender partitions the chat's ordered messages into sender runs.
func GroupBySender(chat *model.Chat) []Block {
	var blocks []Block
	for _, m := range chat.Messages {
		if n := len(blocks); n > 0 && blocks[n-1].Sender.ID == m.Sender.ID {
			blocks[n-1].Messages = append(blocks[n-1].Messages, m)
			continue
		}
		blocks = append(blocks, Block{Sender: m.Sender, Messages: []*model.Message{m}})
	}
	return blocks
}

// ReplyNotFoundText is shown when a reply target is missing locally.
const ReplyNotFoundText = "Message not found"

// Reply is the resolved target of a reply reference.
type Reply struct {
	Found   bool
	Sender  model.User
	Content string
}

// ResolveReply looks up msg's reply target within the same chat. A
// missing target yields a placeholder rather than an error: the target
// may be outside the locally-loaded window or deleted server-side.
func ResolveReply(chat *model.Chat, msg *model.Message) (Reply, bool) {
	if msg.ReplyID == "" {
		return Reply{}, false
	}
	for _, m := range chat.Messages {
		if m.ID == msg.ReplyID {
			return Reply{Found: true, Sender: m.Sender, Content: m.DisplayContent()}, true
		}
	}
	return Reply{Found: false, Content: ReplyNotFoundText}, true
}
