package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"campus/chat/internal/hub"
)

func newMessageService(t *testing.T) (*Messages, *MemoryStore, *recordingBus, *recordingNotifier, *Chat) {
	t.Helper()
	store := NewMemoryStore()
	bus := &recordingBus{}
	notifier := &recordingNotifier{}
	svc := NewMessages(store, store, bus, notifier)
	c := activeChat(t, store, "student-1", "faculty-1")
	return svc, store, bus, notifier, c
}

func TestSendPublishesAndNotifies(t *testing.T) {
	svc, _, bus, notifier, c := newMessageService(t)

	msg, err := svc.Send(context.Background(), SendInput{ChatID: c.ID, SenderID: "student-1", Content: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Content != "hello" || msg.Seen {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.CreatedAt.IsZero() {
		t.Fatalf("createdAt must be assigned at persistence")
	}

	events := bus.all()
	if len(events) != 1 || events[0].Room != c.ChannelID || events[0].Event.Name != hub.EventMessageNew {
		t.Fatalf("expected message_new on chat channel, got %v", events)
	}
	userID, n := notifier.last()
	if userID != "faculty-1" || n.Type != "chat_message" {
		t.Fatalf("expected counterpart notification, got %s %v", userID, n)
	}
}

func TestSendRejectsNonParticipant(t *testing.T) {
	svc, _, _, _, c := newMessageService(t)
	if _, err := svc.Send(context.Background(), SendInput{ChatID: c.ID, SenderID: "stranger", Content: "hi"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestSendRequiresActiveChat(t *testing.T) {
	store := NewMemoryStore()
	svc := NewMessages(store, store, &recordingBus{}, &recordingNotifier{})
	lc := NewLifecycle(store, &recordingNotifier{}, nil)
	pending, _ := lc.Request(context.Background(), "student-1", "faculty-1")

	if _, err := svc.Send(context.Background(), SendInput{ChatID: pending.ID, SenderID: "student-1", Content: "hi"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state on pending chat, got %v", err)
	}
}

func TestSendValidation(t *testing.T) {
	svc, _, _, _, c := newMessageService(t)

	if _, err := svc.Send(context.Background(), SendInput{ChatID: c.ID, SenderID: "student-1", Content: "   "}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty message, got %v", err)
	}
	if _, err := svc.Send(context.Background(), SendInput{
		ChatID:      c.ID,
		SenderID:    "student-1",
		Attachments: []Attachment{{URL: "u", Type: "gif"}},
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown attachment type, got %v", err)
	}
}

func TestSendAttachmentsOnly(t *testing.T) {
	svc, _, _, _, c := newMessageService(t)

	msg, err := svc.Send(context.Background(), SendInput{
		ChatID:      c.ID,
		SenderID:    "student-1",
		Attachments: []Attachment{{URL: "https://cdn/img.png", Type: AttachmentImage, Name: "img.png", Size: 123}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(msg.Attachments) != 1 || msg.Content != "" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestSendReplyMustTargetSameChat(t *testing.T) {
	store := NewMemoryStore()
	bus := &recordingBus{}
	svc := NewMessages(store, store, bus, &recordingNotifier{})
	first := activeChat(t, store, "student-1", "faculty-1")
	second := activeChat(t, store, "student-2", "faculty-1")
	parent := sendN(t, svc, first.ID, "student-1", "root")[0]

	reply, err := svc.Send(context.Background(), SendInput{ChatID: first.ID, SenderID: "faculty-1", Content: "re", ReplyToID: parent.ID})
	if err != nil {
		t.Fatalf("reply in same chat: %v", err)
	}
	if reply.ReplyToID != parent.ID {
		t.Fatalf("expected replyToId %s, got %s", parent.ID, reply.ReplyToID)
	}

	if _, err := svc.Send(context.Background(), SendInput{ChatID: second.ID, SenderID: "student-2", Content: "re", ReplyToID: parent.ID}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for cross-chat reply, got %v", err)
	}
}

func TestEditKeepsIdentityAndRepublishes(t *testing.T) {
	svc, _, bus, _, c := newMessageService(t)
	msg := sendN(t, svc, c.ID, "student-1", "hello")[0]

	edited, err := svc.Edit(context.Background(), msg.ID, "student-1", "hello there")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.ID != msg.ID || !edited.CreatedAt.Equal(msg.CreatedAt) {
		t.Fatalf("edit must keep id and createdAt")
	}
	if edited.Content != "hello there" || edited.EditedAt == nil {
		t.Fatalf("unexpected edited message %+v", edited)
	}

	events := bus.all()
	last := events[len(events)-1]
	if last.Event.Name != hub.EventMessageUpdated || last.Room != c.ChannelID {
		t.Fatalf("expected message_updated on chat channel, got %v", last)
	}
}

func TestEditOnlyBySender(t *testing.T) {
	svc, _, _, _, c := newMessageService(t)
	msg := sendN(t, svc, c.ID, "student-1", "hello")[0]

	if _, err := svc.Edit(context.Background(), msg.ID, "faculty-1", "hijack"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestDeleteTombstonesAndWinsOverEdit(t *testing.T) {
	svc, _, bus, _, c := newMessageService(t)
	msg := sendN(t, svc, c.ID, "student-1", "hello")[0]

	deleted, err := svc.Delete(context.Background(), msg.ID, "student-1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted.IsDeleted || deleted.Content != "" || len(deleted.Attachments) != 0 {
		t.Fatalf("tombstone must clear content and attachments: %+v", deleted)
	}
	if deleted.ID != msg.ID || !deleted.CreatedAt.Equal(msg.CreatedAt) {
		t.Fatalf("tombstone must keep id and createdAt")
	}

	// Delete wins: a later edit fails instead of resurrecting the message.
	if _, err := svc.Edit(context.Background(), msg.ID, "student-1", "revive"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state editing tombstone, got %v", err)
	}

	// Idempotent: the second delete returns the tombstone without an event.
	before := len(bus.all())
	again, err := svc.Delete(context.Background(), msg.ID, "student-1")
	if err != nil || !again.IsDeleted {
		t.Fatalf("second delete: %v %+v", err, again)
	}
	if len(bus.all()) != before {
		t.Fatalf("idempotent delete must not republish")
	}
}

func TestMarkSeenBatchesAndSkipsSelf(t *testing.T) {
	svc, _, bus, _, c := newMessageService(t)
	sendN(t, svc, c.ID, "student-1", "one", "two")
	sendN(t, svc, c.ID, "faculty-1", "three")

	result, err := svc.MarkSeen(context.Background(), c.ID, "faculty-1")
	if err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if result.Count != 2 {
		t.Fatalf("expected 2 messages seen, got %d", result.Count)
	}
	for _, msg := range result.Messages {
		if msg.SenderID == "faculty-1" {
			t.Fatalf("viewer's own message flipped: %+v", msg)
		}
		if !msg.Seen || msg.SeenAt == nil {
			t.Fatalf("expected seen flags, got %+v", msg)
		}
	}

	var seenEvents int
	for _, ev := range bus.all() {
		if ev.Event.Name == hub.EventMessagesSeen {
			seenEvents++
			payload := ev.Event.Payload.(hub.MessagesSeenPayload)
			if payload.SeenBy != "faculty-1" || payload.Count != 2 || payload.ChatID != c.ID {
				t.Fatalf("unexpected messages_seen payload %+v", payload)
			}
		}
	}
	if seenEvents != 1 {
		t.Fatalf("expected a single messages_seen event, got %d", seenEvents)
	}
}

func TestMarkSeenIdempotent(t *testing.T) {
	svc, _, bus, _, c := newMessageService(t)
	sendN(t, svc, c.ID, "student-1", "hello")

	if result, err := svc.MarkSeen(context.Background(), c.ID, "faculty-1"); err != nil || result.Count != 1 {
		t.Fatalf("first mark seen: %v %+v", err, result)
	}
	before := len(bus.all())

	result, err := svc.MarkSeen(context.Background(), c.ID, "faculty-1")
	if err != nil {
		t.Fatalf("second mark seen: %v", err)
	}
	if result.Count != 0 {
		t.Fatalf("expected count 0 on repeat, got %d", result.Count)
	}
	if len(bus.all()) != before {
		t.Fatalf("no messages_seen event expected when nothing changed")
	}
}

func TestMarkSeenRequiresParticipant(t *testing.T) {
	svc, _, _, _, c := newMessageService(t)
	if _, err := svc.MarkSeen(context.Background(), c.ID, "stranger"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestConcurrentEditAndDeleteSerialized(t *testing.T) {
	svc, _, _, _, c := newMessageService(t)
	msg := sendN(t, svc, c.ID, "student-1", "hello")[0]

	done := make(chan struct{}, 2)
	go func() {
		_, _ = svc.Edit(context.Background(), msg.ID, "student-1", "edited")
		done <- struct{}{}
	}()
	go func() {
		_, _ = svc.Delete(context.Background(), msg.ID, "student-1")
		done <- struct{}{}
	}()
	<-done
	<-done

	final, err := svc.messages.GetMessage(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Whatever the interleaving, the tombstone is final: deleted with
	// cleared content.
	if !final.IsDeleted || final.Content != "" {
		t.Fatalf("expected tombstone to win, got %+v", final)
	}
}

func TestPreviewTruncation(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	if got := preview(string(long), nil); len(got) != 83 {
		t.Fatalf("expected truncated preview, got %d chars", len(got))
	}
	if got := preview("", []Attachment{{}, {}}); got != "Sent 2 attachment(s)" {
		t.Fatalf("unexpected attachment preview %q", got)
	}
}

func TestCreatedAtMonotonicPerStore(t *testing.T) {
	store := NewMemoryStore()
	store.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	svc := NewMessages(store, store, &recordingBus{}, &recordingNotifier{})
	c := activeChat(t, store, "student-1", "faculty-1")

	msgs := sendN(t, svc, c.ID, "student-1", "a", "b", "c")
	for i := 1; i < len(msgs); i++ {
		if !msgs[i].CreatedAt.After(msgs[i-1].CreatedAt) {
			t.Fatalf("createdAt not strictly increasing: %v then %v", msgs[i-1].CreatedAt, msgs[i].CreatedAt)
		}
	}
}
