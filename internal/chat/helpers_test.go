package chat

import (
	"context"
	"sync"
	"testing"

	"campus/chat/internal/hub"
)

type recordedEvent struct {
	Room  string
	Event hub.Event
}

type recordingBus struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *recordingBus) Publish(room string, ev hub.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{Room: room, Event: ev})
}

func (b *recordingBus) PublishUser(userID string, ev hub.Event) {
	b.Publish(hub.UserRoom(userID), ev)
}

func (b *recordingBus) all() []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]recordedEvent, len(b.events))
	copy(out, b.events)
	return out
}

type joinedRoom struct {
	UserID string
	Room   string
}

type recordingJoiner struct {
	mu     sync.Mutex
	joined []joinedRoom
}

func (j *recordingJoiner) JoinUser(userID, room string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.joined = append(j.joined, joinedRoom{UserID: userID, Room: room})
}

func (j *recordingJoiner) all() []joinedRoom {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]joinedRoom, len(j.joined))
	copy(out, j.joined)
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []*Notification
	users []string
}

func (n *recordingNotifier) NotifyUser(userID string, notification *Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, userID)
	n.sent = append(n.sent, notification)
}

func (n *recordingNotifier) last() (string, *Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return "", nil
	}
	return n.users[len(n.users)-1], n.sent[len(n.sent)-1]
}

func activeChat(t *testing.T, store *MemoryStore, studentID, facultyID string) *Chat {
	t.Helper()
	lc := NewLifecycle(store, &recordingNotifier{}, nil)
	created, err := lc.Request(context.Background(), studentID, facultyID)
	if err != nil {
		t.Fatalf("request chat: %v", err)
	}
	updated, err := lc.Approve(context.Background(), created.ID, facultyID)
	if err != nil {
		t.Fatalf("approve chat: %v", err)
	}
	return updated
}

func sendN(t *testing.T, svc *Messages, chatID, senderID string, contents ...string) []*Message {
	t.Helper()
	out := make([]*Message, 0, len(contents))
	for _, content := range contents {
		msg, err := svc.Send(context.Background(), SendInput{ChatID: chatID, SenderID: senderID, Content: content})
		if err != nil {
			t.Fatalf("send %q: %v", content, err)
		}
		out = append(out, msg)
	}
	return out
}
