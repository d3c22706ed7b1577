package state

import "github.com/matbrandao/chatsync/internal/model"

type orphanKind int

const (
	orphanMessage orphanKind = iota // message for an unknown chat
	orphanContent                   // content change for an unknown message
	orphanStatus                    // status row for an unknown message
)

// orphan is one buffered event whose referenced chat or message has not
// arrived yet.
type orphan struct {
	kind    orphanKind
	chatID  string
	msgID   string
	msg     *model.Message
	content *model.ContentChange
	status  *model.MessageStatus
	at      int64
}

// orphanBuffer is a bounded, time-boxed FIFO of orphan events. The cap
// guards against a stream replaying a large unknown backlog; the TTL is
// the retry budget after which an orphan is dropped for good.
type orphanBuffer struct {
	ttlMs   int64
	cap     int
	entries []orphan
}

// add appends an entry, evicting the oldest when full. Reports whether
// an eviction happened.
func (b *orphanBuffer) add(o orphan) bool {
	evicted := false
	if b.cap > 0 && len(b.entries) >= b.cap {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:len(b.entries)-1]
		evicted = true
	}
	b.entries = append(b.entries, o)
	return evicted
}

// takeForChat removes and returns buffered messages waiting on a chat.
func (b *orphanBuffer) takeForChat(chatID string) []orphan {
	return b.take(func(o orphan) bool {
		return o.kind == orphanMessage && o.chatID == chatID
	})
}

// takeForMessage removes and returns content/status events waiting on a
// message.
func (b *orphanBuffer) takeForMessage(msgID string) []orphan {
	return b.take(func(o orphan) bool {
		return o.kind != orphanMessage && o.msgID == msgID
	})
}

func (b *orphanBuffer) take(match func(orphan) bool) []orphan {
	var taken []orphan
	kept := b.entries[:0]
	for _, o := range b.entries {
		if match(o) {
			taken = append(taken, o)
		} else {
			kept = append(kept, o)
		}
	}
	b.entries = kept
	return taken
}

// expire removes and returns entries older than the TTL.
func (b *orphanBuffer) expire(nowMs int64) []orphan {
	return b.take(func(o orphan) bool {
		return nowMs-o.at > b.ttlMs
	})
}
