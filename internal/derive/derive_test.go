package derive

import (
	"testing"

	"github.com/matbrandao/chatsync/internal/model"
)

func mkMsg(id, sender, content string, ts int64) *model.Message {
	return &model.Message{
		ID:        id,
		Sender:    model.User{ID: sender, Name: sender},
		Content:   content,
		Timestamp: ts,
		Statuses:  make(map[string]model.MessageStatus),
	}
}

func TestUnreadCount(t *testing.T) {
	mine := mkMsg("m1", "u1", "mine", 100)
	delivered := mkMsg("m2", "u2", "a", 200)
	delivered.Statuses["u1"] = model.MessageStatus{Status: model.StatusDelivered}
	read := mkMsg("m3", "u2", "b", 300)
	read.Statuses["u1"] = model.MessageStatus{Status: model.StatusRead}
	noRow := mkMsg("m4", "u2", "c", 400)

	chat := &model.Chat{Messages: []*model.Message{mine, delivered, read, noRow}}
	if got := UnreadCount(chat, "u1"); got != 1 {
		t.Errorf("unread = %d, want 1 (only the delivered row counts)", got)
	}
}

func TestLastMessage(t *testing.T) {
	chat := &model.Chat{}
	if _, ok := LastMessage(chat); ok {
		t.Error("empty chat should have no preview")
	}

	chat.Messages = []*model.Message{
		mkMsg("m1", "u2", "first", 100),
		mkMsg("m2", "u2", "last", 200),
	}
	p, ok := LastMessage(chat)
	if !ok || p.Text != "last" || p.Timestamp != 200 {
		t.Errorf("preview = %+v, want last@200", p)
	}

	chat.Messages[1].Deleted = true
	p, _ = LastMessage(chat)
	if p.Text != model.TombstoneText {
		t.Errorf("preview of deleted message = %q, want tombstone", p.Text)
	}
}

func TestGroupBySender(t *testing.T) {
	chat := &model.Chat{Messages: []*model.Message{
		mkMsg("m1", "u1", "a", 100),
		mkMsg("m2", "u1", "b", 200),
		mkMsg("m3", "u2", "c", 300),
		mkMsg("m4", "u1", "d", 400),
	}}

	blocks := GroupBySender(chat)
	wantSizes := []int{2, 1, 1}
	if len(blocks) != len(wantSizes) {
		t.Fatalf("got %d blocks, want %d", len(blocks), len(wantSizes))
	}
	for i, n := range wantSizes {
		if len(blocks[i].Messages) != n {
			t.Errorf("block %d has %d messages, want %d", i, len(blocks[i].Messages), n)
		}
	}
	if blocks[0].Sender.ID != "u1" || blocks[1].Sender.ID != "u2" {
		t.Errorf("senders = %s, %s", blocks[0].Sender.ID, blocks[1].Sender.ID)
	}
}

func TestResolveReply(t *testing.T) {
	target := mkMsg("m1", "u2", "question", 100)
	reply := mkMsg("m2", "u1", "answer", 200)
	reply.ReplyID = "m1"
	plain := mkMsg("m3", "u1", "other", 300)
	dangling := mkMsg("m4", "u1", "huh", 400)
	dangling.ReplyID = "m99"

	chat := &model.Chat{Messages: []*model.Message{target, reply, plain, dangling}}

	if _, ok := ResolveReply(chat, plain); ok {
		t.Error("message without reply id should resolve to nothing")
	}

	r, ok := ResolveReply(chat, reply)
	if !ok || !r.Found || r.Content != "question" || r.Sender.ID != "u2" {
		t.Errorf("resolved reply = %+v", r)
	}

	r, ok = ResolveReply(chat, dangling)
	if !ok || r.Found || r.Content != ReplyNotFoundText {
		t.Errorf("dangling reply = %+v, want placeholder", r)
	}
}

func TestResolveReplyToDeletedTarget(t *testing.T) {
	target := mkMsg("m1", "u2", "secret", 100)
	target.Deleted = true
	reply := mkMsg("m2", "u1", "re", 200)
	reply.ReplyID = "m1"

	chat := &model.Chat{Messages: []*model.Message{target, reply}}
	r, _ := ResolveReply(chat, reply)
	if !r.Found || r.Content != model.TombstoneText {
		t.Errorf("reply to deleted = %+v, want tombstone text", r)
	}
}
