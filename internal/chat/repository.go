package chat

import (
	"context"
	"time"
)

// ChatRepository persists chat threads. Implementations map storage-level
// "no rows" to ErrNotFound and unique violations to ErrConflict.
type ChatRepository interface {
	CreateChat(ctx context.Context, chat *Chat) error
	GetChat(ctx context.Context, id string) (*Chat, error)
	GetChatByChannelID(ctx context.Context, channelID string) (*Chat, error)
	UpdateChatStatus(ctx context.Context, id string, status ChatStatus) (*Chat, error)
	ListChatsByUser(ctx context.Context, userID string) ([]*Chat, error)
}

// MessageRepository persists messages. CreateMessage assigns CreatedAt at
// persistence time; callers must not rely on their own clock for ordering.
type MessageRepository interface {
	CreateMessage(ctx context.Context, message *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) (*Message, error)
	// TombstoneMessage sets is_deleted and clears content and attachments
	// while keeping id and created_at. Tombstoning an already-deleted
	// message is a no-op.
	TombstoneMessage(ctx context.Context, id string) (*Message, error)
	// MarkSeen flips seen on every unseen message in the chat not sent by
	// viewerID, in one batch, and returns the updated rows. An empty result
	// means nothing was written.
	MarkSeen(ctx context.Context, chatID, viewerID string, seenAt time.Time) ([]*Message, error)
	CountUnseen(ctx context.Context, chatID, viewerID string) (int, error)
	// ListBefore returns up to limit messages strictly older than the given
	// cursor message, oldest-first. ListLast returns the newest limit
	// messages, oldest-first.
	ListBefore(ctx context.Context, chatID string, before *Message, limit int) ([]*Message, error)
	ListLast(ctx context.Context, chatID string, limit int) ([]*Message, error)
	Search(ctx context.Context, chatID, query string, limit int) ([]*Message, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]*Notification, error)
	// MarkNotificationRead reports whether the notification was actually
	// flipped; false means it was already read. Missing notifications are
	// ErrNotFound.
	MarkNotificationRead(ctx context.Context, id, userID string) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int64, error)
}

// AttachmentStore uploads raw bytes and returns a served descriptor. Upload
// and the backing storage are external to this service.
type AttachmentStore interface {
	Upload(ctx context.Context, name string, data []byte) (Attachment, error)
}

// Notifier delivers a notification to a user without blocking the caller.
// Failures are logged by the implementation and never surface here.
type Notifier interface {
	NotifyUser(userID string, n *Notification)
}

// RoomJoiner attaches a user's live realtime connections to a room.
type RoomJoiner interface {
	JoinUser(userID, room string)
}
