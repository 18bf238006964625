package hub

import "time"

// Outbound event names. The set is closed: every payload published through
// the hub is one of the structs below (or a domain struct passed by the
// publishing service), never an ad-hoc map keyed by a free-form name.
const (
	EventNotification        = "notification"
	EventUnreadCount         = "unread_count"
	EventChannelNotification = "channel_notification"
	EventMessageNew          = "message_new"
	EventMessageUpdated      = "message_updated"
	EventMessageDeleted      = "message_deleted"
	EventMessagesSeen        = "messages_seen"
	EventUserStatus          = "user_status"
	EventPresenceSnapshot    = "presence_snapshot"
	EventError               = "error"
	EventPong                = "pong"
)

// Event is the wire envelope written to every subscribed connection.
type Event struct {
	Name    string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

type MessagesSeenPayload struct {
	ChatID    string    `json:"chatId"`
	SeenBy    string    `json:"seenBy"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

type UserStatusPayload struct {
	UserID     string     `json:"userId"`
	IsOnline   bool       `json:"isOnline"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

type PresenceSnapshotPayload struct {
	OnlineUserIDs []string  `json:"onlineUserIds"`
	Timestamp     time.Time `json:"timestamp"`
}

type UnreadCountPayload struct {
	Count int64 `json:"count"`
}

type ChannelNotificationPayload struct {
	Channel string    `json:"channel"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sentAt"`
}

type ErrorPayload struct {
	Code string `json:"code"`
}

// Inbound control commands sent by clients over the socket. Action is the
// discriminator; unknown actions are answered with an error event instead of
// being dropped.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionMarkRead    = "mark_read"
	ActionMarkAllRead = "mark_all_read"
	ActionPing        = "ping"
)

type ClientCommand struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
	ID      string `json:"id,omitempty"`
}
