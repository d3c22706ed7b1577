package state

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/matbrandao/chatsync/internal/bus"
	"github.com/matbrandao/chatsync/internal/metrics"
	"github.com/matbrandao/chatsync/internal/model"
)

const viewer = "u1"

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(viewer, 30_000, 512, bus.New(), metrics.New(), nil)
}

func chat(id string, participants ...string) *model.Chat {
	c := &model.Chat{ID: id, Name: "chat-" + id}
	for _, p := range participants {
		c.Participants = append(c.Participants, model.User{ID: p, Name: p})
	}
	return c
}

func msg(chatID, id, sender, content string, ts int64) *model.Message {
	return &model.Message{
		ID:        id,
		ChatID:    chatID,
		Sender:    model.User{ID: sender, Name: sender},
		Content:   content,
		Timestamp: ts,
		Statuses:  make(map[string]model.MessageStatus),
	}
}

func status(chatID, msgID, userID string, v model.StatusValue, ts int64) *model.MessageStatus {
	return &model.MessageStatus{MessageID: msgID, UserID: userID, ChatID: chatID, Status: v, Timestamp: ts}
}

func TestMessagesOrderedByTimestampThenID(t *testing.T) {
	s := testStore(t)
	s.UpsertChat(chat("c1", viewer, "u2"))

	// Arrival order deliberately scrambled; m2/m3 share a timestamp.
	s.UpsertMessage(msg("c1", "m3", "u2", "three", 2000))
	s.UpsertMessage(msg("c1", "m1", "u2", "one", 1000))
	s.UpsertMessage(msg("c1", "m2", "u2", "two", 2000))

	got := s.Messages("c1")
	want := []string{"m1", "m2", "m3"}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	s := testStore(t)
	s.UpsertChat(chat("c1", viewer, "u2"))

	m := msg("c1", "m1", "u2", "hello", 1000)
	if out := s.UpsertMessage(m); out != Applied {
		t.Fatalf("first upsert = %v, want Applied", out)
	}
	if out := s.UpsertMessage(msg("c1", "m1", "u2", "hello", 1000)); out != Unchanged {
		t.Errorf("replayed upsert = %v, want Unchanged", out)
	}

	msgs := s.Messages("c1")
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Errorf("got %d messages, want 1 with content=hello", len(msgs))
	}
}

func TestUpsertChatIdempotent(t *testing.T) {
	s := testStore(t)
	c := chat("c1", viewer, "u2")
	if out := s.UpsertChat(c); out != Applied {
		t.Fatalf("first upsert = %v, want Applied", out)
	}
	if out := s.UpsertChat(chat("c1", viewer, "u2")); out != Unchanged {
		t.Errorf("replayed upsert = %v, want Unchanged", out)
	}
	if got := len(s.Chats()); got != 1 {
		t.Errorf("got %d chats, want 1", got)
	}
}

func TestMessageForUnknownChatIsBuffered(t *testing.T) {
	s := testStore(t)

	if out := s.UpsertMessage(msg("c9", "m1", "u2", "early", 1000)); out != Buffered {
		t.Fatalf("upsert = %v, want Buffered", out)
	}
	if got := s.OrphanCount(); got != 1 {
		t.Fatalf("orphan count = %d, want 1", got)
	}

	// Chat arrives; the buffered message is replayed.
	s.UpsertChat(chat("c9", viewer, "u2"))

	msgs := s.Messages("c9")
	if len(msgs) != 1 || msgs[0].Content != "early" {
		t.Fatalf("got %d messages, want the buffered one", len(msgs))
	}
	if got := s.OrphanCount(); got != 0 {
		t.Errorf("orphan count after flush = %d, want 0", got)
	}

	// A second upsert of the same chat must not replay again.
	s.UpsertChat(chat("c9", viewer, "u2"))
	if got := len(s.Messages("c9")); got != 1 {
		t.Errorf("messages after duplicate chat upsert = %d, want 1", got)
	}
}

func TestContentChangeBeforeInsertAppliesAfterFlush(t *testing.T) {
	s := testStore(t)
	s.UpsertChat(chat("c1", viewer, "u2"))

	// Deletion for a message we have not seen yet.
	out := s.ApplyContentChange(&model.ContentChange{
		MessageID: "m1", ChatID: "c1", Deleted: true, Timestamp: 1500,
	})
	if out != Buffered {
		t.Fatalf("content change = %v, want Buffered", out)
	}

	// The insert arrives late; the buffered deletion must win.
	s.UpsertMessage(msg("c1", "m1", "u2", "hello", 1000))

	m, ok := s.Message("c1", "m1")
	if !ok {
		t.Fatal("message not found")
	}
	if !m.Deleted {
		t.Error("message should be deleted after orphan replay")
	}
	if m.DisplayContent() != model.TombstoneText {
		t.Errorf("display content = %q, want tombstone", m.DisplayContent())
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	s := testStore(t)
	s.UpsertChat(chat("c1", viewer, "u2"))
	s.UpsertMessage(msg("c1", "m5", viewer, "hi", 1000))

	// read arrives first (T2), then delivered (T1 < T2).
	if out := s.UpsertStatus(status("c1", "m5", "u2", model.StatusRead, 2000)); out != Applied {
		t.Fatalf("read upsert = %v, want Applied", out)
	}
	if out := s.UpsertStatus(status("c1", "m5", "u2", model.StatusDelivered, 1000)); out != Stale {
		t.Errorf("stale delivered = %v, want Stale", out)
	}

	m, _ := s.Message("c1", "m5")
	if got := m.Statuses["u2"].Status; got != model.StatusRead {
		t.Errorf("final status = %s, want read", got)
	}
}

func TestStatusDuplicateAbsorbed(t *testing.T) {
	s := testStore(t)
	s.UpsertChat(chat("c1", viewer, "u2"))
	s.UpsertMessage(msg("c1", "m1", viewer, "hi", 1000))

	st := status("c1", "m1", "u2", model.StatusDelivered, 1100)
	if out := s.UpsertStatus(st); out != Applied {
		t.Fatalf("first = %v, want Applied", out)
	}
	if out := s.UpsertStatus(st); out != Unchanged {
		t.Errorf("duplicate = %v, want Unchanged", out)
	}
}

func TestStatusForUnknownMessageIsBuffered(t *testing.T) {
	s := testStore(t)
	s.UpsertChat(chat("c1", viewer, "u2"))

	if out := s.UpsertStatus(status("c1", "m1", "u2", model.StatusDelivered, 1100)); out != Buffered {
		t.Fatalf("status = %v, want Buffered", out)
	}

	s.UpsertMessage(msg("c1", "m1", viewer, "hi", 1000))
	m, _ := s.Message("c1", "m1")
	if got := m.Statuses["u2"].Status; got != model.StatusDelivered {
		t.Errorf("status after flush = %q, want delivered", got)
	}
}

func TestTombstoneKeepsIdentityAndOrdering(t *testing.T) {
	s := testStore(t)
	s.UpsertChat(chat("c1", viewer, "u2"))
	s.UpsertMessage(msg("c1", "m1", "u2", "first", 1000))
	s.UpsertMessage(msg("c1", "m2", "u2", "second", 2000))

	if out := s.MarkDeleted("c1", "m1", 3000); out != Applied {
		t.Fatalf("mark deleted = %v, want Applied", out)
	}

	msgs := s.Messages("c1")
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (deletion is an update, not a removal)", len(msgs))
	}
	if msgs[0].ID != "m1" || !msgs[0].Deleted {
		t.Errorf("m1 should remain in place, deleted")
	}
	if msgs[0].Timestamp != 1000 {
		t.Errorf("deleted message timestamp = %d, want original 1000", msgs[0].Timestamp)
	}
}

func TestConcurrentEditDeleteLastWriteWins(t *testing.T) {
	s := testStore(t)
	s.UpsertChat(chat("c1", viewer, "u2"))
	s.UpsertMessage(msg("c1", "m1", "u2", "orig", 1000))

	s.MarkDeleted("c1", "m1", 2000)

	// An edit with an earlier server timestamp loses.
	out := s.ApplyContentChange(&model.ContentChange{
		MessageID: "m1", ChatID: "c1", Content: "late edit", Timestamp: 1500,
	})
	if out != Stale {
		t.Errorf("earlier edit = %v, want Stale", out)
	}
	m, _ := s.Message("c1", "m1")
	if !m.Deleted {
		t.Error("message should still be deleted")
	}

	// An equal-timestamp edit also loses: deletion wins ties.
	out = s.ApplyContentChange(&model.ContentChange{
		MessageID: "m1", ChatID: "c1", Content: "tie edit", Timestamp: 2000,
	})
	if out != Unchanged {
		t.Errorf("tie edit = %v, want Unchanged", out)
	}

	// A strictly later edit wins.
	out = s.ApplyContentChange(&model.ContentChange{
		MessageID: "m1", ChatID: "c1", Content: "final", Timestamp: 2500,
	})
	if out != Applied {
		t.Fatalf("later edit = %v, want Applied", out)
	}
	m, _ = s.Message("c1", "m1")
	if m.Deleted || m.Content != "final" || !m.Edited {
		t.Errorf("final state = %+v, want edited content 'final'", m)
	}
}

func TestReplayedInsertDoesNotClobberContentChange(t *testing.T) {
	s := testStore(t)
	s.UpsertChat(chat("c1", viewer, "u2"))
	s.UpsertMessage(msg("c1", "m1", "u2", "hello", 1000))
	s.MarkDeleted("c1", "m1", 2000)

	// Replay of the original insert.
	s.UpsertMessage(msg("c1", "m1", "u2", "hello", 1000))

	m, _ := s.Message("c1", "m1")
	if !m.Deleted {
		t.Error("replayed insert must not resurrect a tombstoned message")
	}
}

func TestUnreadCountTracksStatuses(t *testing.T) {
	s := testStore(t)
	s.UpsertChat(chat("c1", viewer, "u2"))

	// Message from the viewer: never unread.
	s.UpsertMessage(msg("c1", "m0", viewer, "mine", 500))
	// Message from u2 with no status row for the viewer: not unread yet.
	s.UpsertMessage(msg("c1", "m1", "u2", "a", 1000))
	if got := s.UnreadCount("c1"); got != 0 {
		t.Errorf("unread = %d, want 0 before delivery", got)
	}

	s.UpsertStatus(status("c1", "m1", viewer, model.StatusDelivered, 1100))
	if got := s.UnreadCount("c1"); got != 1 {
		t.Errorf("unread = %d, want 1 after delivered", got)
	}

	s.UpsertStatus(status("c1", "m1", viewer, model.StatusRead, 1200))
	if got := s.UnreadCount("c1"); got != 0 {
		t.Errorf("unread = %d, want 0 after read", got)
	}
}

func TestLastMessagePreviewFollowsTotalOrder(t *testing.T) {
	s := testStore(t)
	s.UpsertChat(chat("c1", viewer, "u2"))
	s.UpsertMessage(msg("c1", "m2", "u2", "latest", 2000))
	s.UpsertMessage(msg("c1", "m1", "u2", "older", 1000))

	chats := s.Chats()
	if len(chats) != 1 {
		t.Fatal("want one chat")
	}
	if chats[0].LastMessage != "latest" || chats[0].LastMessageAt != 2000 {
		t.Errorf("preview = %q@%d, want latest@2000", chats[0].LastMessage, chats[0].LastMessageAt)
	}

	// Deleting the last message swaps the preview to the tombstone.
	s.MarkDeleted("c1", "m2", 3000)
	chats = s.Chats()
	if chats[0].LastMessage != model.TombstoneText {
		t.Errorf("preview after delete = %q, want tombstone", chats[0].LastMessage)
	}
}

func TestResolveTentativeReplacesInPlace(t *testing.T) {
	s := testStore(t)
	s.UpsertChat(chat("c1", viewer, "u2"))

	tentative := msg("c1", "tmp-1", viewer, "hi", 1000)
	tentative.Pending = true
	if err := s.InsertTentative(tentative); err != nil {
		t.Fatal(err)
	}

	confirmed := msg("c1", "m42", viewer, "hi", 1005)
	confirmed.ClientID = "tmp-1"
	s.ResolveTentative("c1", "tmp-1", confirmed)

	msgs := s.Messages("c1")
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want exactly 1 (no duplicate tentative)", len(msgs))
	}
	if msgs[0].ID != "m42" || msgs[0].Content != "hi" || msgs[0].Pending {
		t.Errorf("resolved message = %+v, want m42/hi/not pending", msgs[0])
	}
}

func TestMarkSendFailedKeepsMessageVisible(t *testing.T) {
	s := testStore(t)
	s.UpsertChat(chat("c1", viewer, "u2"))

	tentative := msg("c1", "tmp-1", viewer, "hi", 1000)
	tentative.Pending = true
	_ = s.InsertTentative(tentative)

	if err := s.MarkSendFailed("c1", "tmp-1"); err != nil {
		t.Fatal(err)
	}
	m, ok := s.Message("c1", "tmp-1")
	if !ok {
		t.Fatal("failed message must not disappear")
	}
	if m.Pending || !m.Failed {
		t.Errorf("flags = pending:%v failed:%v, want failed only", m.Pending, m.Failed)
	}
}

func TestMarkChatReadAndRestore(t *testing.T) {
	s := testStore(t)
	s.UpsertChat(chat("c1", viewer, "u2"))
	s.UpsertMessage(msg("c1", "m1", "u2", "a", 1000))
	s.UpsertStatus(status("c1", "m1", viewer, model.StatusDelivered, 1100))

	prev, err := s.MarkChatRead("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(prev) != 1 {
		t.Fatalf("prev rows = %d, want 1", len(prev))
	}
	if got := s.UnreadCount("c1"); got != 0 {
		t.Errorf("unread after read = %d, want 0", got)
	}

	s.RestoreStatuses("c1", prev)
	if got := s.UnreadCount("c1"); got != 1 {
		t.Errorf("unread after rollback = %d, want 1", got)
	}
}

func TestUpdateLabelsReturnsPriorSet(t *testing.T) {
	s := testStore(t)
	s.UpsertChat(chat("c1", viewer, "u2"))

	work := model.Label{ID: "l1", Name: "Work", Color: "#0f0"}
	prev, err := s.UpdateLabels("c1", []model.Label{work})
	if err != nil {
		t.Fatal(err)
	}
	if len(prev) != 0 {
		t.Errorf("prev labels = %d, want 0", len(prev))
	}

	// Roll back to the prior (empty) set.
	if _, err := s.UpdateLabels("c1", prev); err != nil {
		t.Fatal(err)
	}
	chats := s.Chats()
	if len(chats[0].Labels) != 0 {
		t.Errorf("labels after rollback = %v, want none", chats[0].Labels)
	}
}

func TestOrphanTTLPrune(t *testing.T) {
	m := metrics.New()
	s := New(viewer, 30_000, 512, bus.New(), m, nil)
	base := time.Now().UnixMilli()
	s.now = func() int64 { return base }

	s.UpsertMessage(msg("c9", "m1", "u2", "early", 1000))
	if got := s.OrphanCount(); got != 1 {
		t.Fatalf("orphan count = %d, want 1", got)
	}

	// Within budget: kept.
	s.now = func() int64 { return base + 10_000 }
	if dropped := s.PruneOrphans(); dropped != 0 {
		t.Errorf("dropped = %d, want 0 within TTL", dropped)
	}

	// Past budget: dropped with a warning.
	s.now = func() int64 { return base + 31_000 }
	if dropped := s.PruneOrphans(); dropped != 1 {
		t.Errorf("dropped = %d, want 1 past TTL", dropped)
	}
	if got := s.OrphanCount(); got != 0 {
		t.Errorf("orphan count after prune = %d, want 0", got)
	}

	// A TTL drop is an expiry, not an eviction.
	if got := testutil.ToFloat64(m.OrphansExpired); got != 1 {
		t.Errorf("expired counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OrphansEvicted); got != 0 {
		t.Errorf("evicted counter = %v, want 0", got)
	}
}

func TestOrphanCapEvictsOldest(t *testing.T) {
	m := metrics.New()
	s := New(viewer, 30_000, 2, bus.New(), m, nil)

	s.UpsertMessage(msg("c9", "m1", "u2", "one", 1000))
	s.UpsertMessage(msg("c9", "m2", "u2", "two", 2000))
	s.UpsertMessage(msg("c9", "m3", "u2", "three", 3000))

	if got := s.OrphanCount(); got != 2 {
		t.Fatalf("orphan count = %d, want cap of 2", got)
	}

	// A cap eviction is an eviction, not an expiry.
	if got := testutil.ToFloat64(m.OrphansEvicted); got != 1 {
		t.Errorf("evicted counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OrphansExpired); got != 0 {
		t.Errorf("expired counter = %v, want 0", got)
	}

	// m1 was evicted; only m2 and m3 replay.
	s.UpsertChat(chat("c9", viewer, "u2"))
	msgs := s.Messages("c9")
	if len(msgs) != 2 || msgs[0].ID != "m2" {
		t.Errorf("replayed %d messages starting at %s, want 2 starting at m2", len(msgs), msgs[0].ID)
	}
}

func TestSeedChatsFiltersByViewer(t *testing.T) {
	s := testStore(t)
	mine := chat("c1", viewer, "u2")
	mine.Messages = []*model.Message{msg("c1", "m1", "u2", "hey", 1000)}
	other := chat("c2", "u3", "u4")

	if n := s.SeedChats([]*model.Chat{mine, other}); n != 1 {
		t.Errorf("seeded = %d, want 1", n)
	}
	if got := len(s.Chats()); got != 1 {
		t.Errorf("chats = %d, want 1", got)
	}
	if got := len(s.Messages("c1")); got != 1 {
		t.Errorf("seeded messages = %d, want 1", got)
	}
}

func TestChatChangedInvalidationIsLocalized(t *testing.T) {
	b := bus.New()
	s := New(viewer, 30_000, 512, b, metrics.New(), nil)
	ch, unsub := b.Subscribe("chat.", 16)
	defer unsub()

	s.UpsertChat(chat("c1", viewer, "u2"))

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(bus.ChatChange)
		if !ok {
			t.Fatalf("payload type = %T, want ChatChange", evt.Payload)
		}
		if change.ChatID != "c1" {
			t.Errorf("chat id = %s, want c1", change.ChatID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for chat.changed")
	}
}

func TestFilterAndLabelQueries(t *testing.T) {
	s := testStore(t)
	c1 := chat("c1", viewer, "u2")
	c1.Name = "Alice"
	c1.Labels = []model.Label{{ID: "l1", Name: "Work"}}
	c2 := chat("c2", viewer, "u3")
	c2.Name = "Bob"
	s.UpsertChat(c1)
	s.UpsertChat(c2)

	if got := s.FilterChats("ali"); len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("FilterChats(ali) = %v, want c1", got)
	}
	if got := s.ChatsByLabel("l1"); len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("ChatsByLabel(l1) = %v, want c1", got)
	}
	if got := s.ChatsByLabel("l9"); len(got) != 0 {
		t.Errorf("ChatsByLabel(l9) = %v, want empty", got)
	}
}
