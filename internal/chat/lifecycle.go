package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lifecycle drives the chat request/approval state machine. PENDING is the
// initial state; ACTIVE and REJECTED are terminal.
type Lifecycle struct {
	chats    ChatRepository
	notifier Notifier
	rooms    RoomJoiner
	now      func() time.Time
}

// rooms may be nil when no realtime layer is attached.
func NewLifecycle(chats ChatRepository, notifier Notifier, rooms RoomJoiner) *Lifecycle {
	return &Lifecycle{chats: chats, notifier: notifier, rooms: rooms, now: time.Now}
}

// Request creates a PENDING chat between the pair and notifies the faculty
// member. Returns ErrConflict when any chat already exists for the pair,
// whatever its status.
func (l *Lifecycle) Request(ctx context.Context, studentID, facultyID string) (*Chat, error) {
	if studentID == "" || facultyID == "" || studentID == facultyID {
		return nil, fmt.Errorf("%w: invalid participant pair", ErrValidation)
	}

	channelID := PairChannelID(studentID, facultyID)
	if _, err := l.chats.GetChatByChannelID(ctx, channelID); err == nil {
		return nil, fmt.Errorf("%w: chat already exists for pair", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	chat := &Chat{
		ID:        uuid.New().String(),
		StudentID: studentID,
		FacultyID: facultyID,
		ChannelID: channelID,
		Status:    ChatStatusPending,
		CreatedAt: l.now().UTC(),
	}
	// The unique channel_id index closes the lookup/insert race.
	if err := l.chats.CreateChat(ctx, chat); err != nil {
		return nil, err
	}
	l.joinParticipants(chat)

	l.notifier.NotifyUser(facultyID, &Notification{
		UserID:   facultyID,
		Title:    "New chat request",
		Message:  "A student has requested to chat with you",
		Type:     "chat_request",
		Metadata: map[string]string{"chatId": chat.ID},
	})
	return chat, nil
}

// Approve transitions a PENDING chat to ACTIVE and notifies the student.
// actorID must be the chat's faculty member.
func (l *Lifecycle) Approve(ctx context.Context, chatID, actorID string) (*Chat, error) {
	return l.resolve(ctx, chatID, actorID, ChatStatusActive, "Chat request approved", "Your chat request was approved")
}

// Reject transitions a PENDING chat to REJECTED and notifies the student.
func (l *Lifecycle) Reject(ctx context.Context, chatID, actorID string) (*Chat, error) {
	return l.resolve(ctx, chatID, actorID, ChatStatusRejected, "Chat request rejected", "Your chat request was rejected")
}

func (l *Lifecycle) resolve(ctx context.Context, chatID, actorID string, status ChatStatus, title, message string) (*Chat, error) {
	chat, err := l.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if actorID != "" && actorID != chat.FacultyID {
		return nil, fmt.Errorf("%w: only the faculty participant can resolve a request", ErrForbidden)
	}
	if chat.Status != ChatStatusPending {
		return nil, fmt.Errorf("%w: chat is %s", ErrInvalidState, chat.Status)
	}

	updated, err := l.chats.UpdateChatStatus(ctx, chatID, status)
	if err != nil {
		return nil, err
	}
	if status == ChatStatusActive {
		l.joinParticipants(updated)
	}

	l.notifier.NotifyUser(updated.StudentID, &Notification{
		UserID:   updated.StudentID,
		Title:    title,
		Message:  message,
		Type:     "chat_" + string(status),
		Metadata: map[string]string{"chatId": updated.ID},
	})
	return updated, nil
}

// joinParticipants attaches both participants' live connections to the chat
// channel. Connections opened before the chat existed only hold the rooms
// known at connect time, so without this a chat created mid-session would
// deliver its pushes to nobody.
func (l *Lifecycle) joinParticipants(c *Chat) {
	if l.rooms == nil {
		return
	}
	l.rooms.JoinUser(c.StudentID, c.ChannelID)
	l.rooms.JoinUser(c.FacultyID, c.ChannelID)
}
