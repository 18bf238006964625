package chat

import (
	"fmt"
	"time"
)

type ChatStatus string

const (
	ChatStatusPending  ChatStatus = "pending"
	ChatStatusActive   ChatStatus = "active"
	ChatStatusRejected ChatStatus = "rejected"
)

// Chat is a two-party student/faculty thread. ChannelID is derived from the
// participant pair, so at most one chat can exist per pair.
type Chat struct {
	ID        string     `json:"id"`
	StudentID string     `json:"studentId"`
	FacultyID string     `json:"facultyId"`
	ChannelID string     `json:"channelId"`
	Status    ChatStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// PairChannelID derives the realtime room name for a student/faculty pair.
// The smaller id always comes first so both participants derive the same name.
func PairChannelID(studentID, facultyID string) string {
	lo, hi := studentID, facultyID
	if hi < lo {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("chat:%s:%s", lo, hi)
}

type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentAudio AttachmentType = "audio"
	AttachmentVideo AttachmentType = "video"
	AttachmentFile  AttachmentType = "file"
)

type Attachment struct {
	URL  string         `json:"url"`
	Type AttachmentType `json:"type"`
	Name string         `json:"name"`
	Size int64          `json:"size"`
}

// Message is a single chat entry. SenderID and ChatID never change after
// creation. Seen only transitions false to true. A deleted message keeps its
// id and createdAt as an ordering tombstone with content and attachments
// cleared.
type Message struct {
	ID          string       `json:"id"`
	ChatID      string       `json:"chatId"`
	SenderID    string       `json:"senderId"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyToID   string       `json:"replyToId,omitempty"`
	Seen        bool         `json:"seen"`
	SeenAt      *time.Time   `json:"seenAt,omitempty"`
	IsDeleted   bool         `json:"isDeleted"`
	EditedAt    *time.Time   `json:"editedAt,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Participant reports whether userID is one of the two chat parties.
func (c *Chat) Participant(userID string) bool {
	return userID == c.StudentID || userID == c.FacultyID
}

// Counterpart returns the other party of the chat, or "" when userID is not
// a participant.
func (c *Chat) Counterpart(userID string) string {
	switch userID {
	case c.StudentID:
		return c.FacultyID
	case c.FacultyID:
		return c.StudentID
	default:
		return ""
	}
}

// Notification is a persisted side-channel record with a lifecycle
// independent from messages.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Type      string            `json:"type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	IsRead    bool              `json:"isRead"`
	CreatedAt time.Time         `json:"createdAt"`
}
