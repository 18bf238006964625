package chat

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"campus/chat/internal/hub"
)

// Messages is the message write path: send, edit, delete and seen-marking.
// Fan-out goes through the hub's publish API only; notification side effects
// are fire-and-forget through the Notifier.
type Messages struct {
	chats    ChatRepository
	messages MessageRepository
	bus      hub.Publisher
	notifier Notifier
	locks    idLocks
	now      func() time.Time
}

func NewMessages(chats ChatRepository, messages MessageRepository, bus hub.Publisher, notifier Notifier) *Messages {
	return &Messages{
		chats:    chats,
		messages: messages,
		bus:      bus,
		notifier: notifier,
		now:      time.Now,
	}
}

type SendInput struct {
	ChatID      string
	SenderID    string
	Content     string
	Attachments []Attachment
	ReplyToID   string
}

// Send validates and persists a message, publishes it on the chat channel,
// then notifies the counterpart. Only ACTIVE chats accept messages.
func (m *Messages) Send(ctx context.Context, in SendInput) (*Message, error) {
	chat, err := m.chats.GetChat(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	if !chat.Participant(in.SenderID) {
		return nil, fmt.Errorf("%w: sender is not a chat participant", ErrForbidden)
	}
	if chat.Status != ChatStatusActive {
		return nil, fmt.Errorf("%w: chat is %s", ErrInvalidState, chat.Status)
	}

	content := strings.TrimSpace(in.Content)
	if content == "" && len(in.Attachments) == 0 {
		return nil, fmt.Errorf("%w: message needs content or attachments", ErrValidation)
	}
	for _, a := range in.Attachments {
		switch a.Type {
		case AttachmentImage, AttachmentAudio, AttachmentVideo, AttachmentFile:
		default:
			return nil, fmt.Errorf("%w: unknown attachment type %q", ErrValidation, a.Type)
		}
	}
	if in.ReplyToID != "" {
		parent, err := m.messages.GetMessage(ctx, in.ReplyToID)
		if err != nil {
			return nil, fmt.Errorf("%w: reply target not found", ErrValidation)
		}
		if parent.ChatID != chat.ID {
			return nil, fmt.Errorf("%w: reply target belongs to another chat", ErrValidation)
		}
	}

	msg := &Message{
		ID:          uuid.New().String(),
		ChatID:      chat.ID,
		SenderID:    in.SenderID,
		Content:     content,
		Attachments: in.Attachments,
		ReplyToID:   in.ReplyToID,
	}
	if err := m.messages.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	m.bus.Publish(chat.ChannelID, hub.Event{Name: hub.EventMessageNew, Payload: msg})

	recipient := chat.Counterpart(in.SenderID)
	m.notifier.NotifyUser(recipient, &Notification{
		UserID:   recipient,
		Title:    "New message",
		Message:  preview(content, in.Attachments),
		Type:     "chat_message",
		Metadata: map[string]string{"chatId": chat.ID, "messageId": msg.ID},
	})
	return msg, nil
}

// Edit replaces the content of the actor's own message and republishes it.
// Edits and deletes of the same message are serialized per message id;
// delete always wins, so editing a tombstone fails with ErrInvalidState.
func (m *Messages) Edit(ctx context.Context, messageID, actorID, newContent string) (*Message, error) {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return nil, fmt.Errorf("%w: new content is empty", ErrValidation)
	}

	unlock := m.locks.lock(messageID)
	defer unlock()

	msg, err := m.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != actorID {
		return nil, fmt.Errorf("%w: only the sender can edit a message", ErrForbidden)
	}
	if msg.IsDeleted {
		return nil, fmt.Errorf("%w: message is deleted", ErrInvalidState)
	}

	updated, err := m.messages.UpdateMessageContent(ctx, messageID, newContent, m.now().UTC())
	if err != nil {
		return nil, err
	}

	if chat, err := m.chats.GetChat(ctx, updated.ChatID); err == nil {
		m.bus.Publish(chat.ChannelID, hub.Event{Name: hub.EventMessageUpdated, Payload: updated})
	}
	return updated, nil
}

// Delete tombstones the actor's own message: content and attachments are
// cleared, id and createdAt survive for ordering. Idempotent.
func (m *Messages) Delete(ctx context.Context, messageID, actorID string) (*Message, error) {
	unlock := m.locks.lock(messageID)
	defer unlock()

	msg, err := m.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != actorID {
		return nil, fmt.Errorf("%w: only the sender can delete a message", ErrForbidden)
	}
	if msg.IsDeleted {
		return msg, nil
	}

	deleted, err := m.messages.TombstoneMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	if chat, err := m.chats.GetChat(ctx, deleted.ChatID); err == nil {
		m.bus.Publish(chat.ChannelID, hub.Event{Name: hub.EventMessageDeleted, Payload: deleted})
	}
	return deleted, nil
}

type SeenResult struct {
	Count    int        `json:"count"`
	Messages []*Message `json:"messages,omitempty"`
}

// MarkSeen flips every unseen message not sent by the viewer in one batch
// and publishes a single messages_seen event. When nothing is unseen it
// returns {count:0} without writing or publishing.
func (m *Messages) MarkSeen(ctx context.Context, chatID, viewerID string) (*SeenResult, error) {
	chat, err := m.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.Participant(viewerID) {
		return nil, fmt.Errorf("%w: viewer is not a chat participant", ErrForbidden)
	}

	seenAt := m.now().UTC()
	updated, err := m.messages.MarkSeen(ctx, chatID, viewerID, seenAt)
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return &SeenResult{Count: 0}, nil
	}

	m.bus.Publish(chat.ChannelID, hub.Event{Name: hub.EventMessagesSeen, Payload: hub.MessagesSeenPayload{
		ChatID:    chatID,
		SeenBy:    viewerID,
		Count:     len(updated),
		Timestamp: seenAt,
	}})
	return &SeenResult{Count: len(updated), Messages: updated}, nil
}

func preview(content string, attachments []Attachment) string {
	if content == "" && len(attachments) > 0 {
		return fmt.Sprintf("Sent %d attachment(s)", len(attachments))
	}
	const max = 80
	if len(content) > max {
		return content[:max] + "..."
	}
	return content
}

// idLocks serializes concurrent writes to the same message id with a fixed
// set of striped mutexes.
type idLocks struct {
	stripes [32]sync.Mutex
}

func (l *idLocks) lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	mu.Lock()
	return mu.Unlock
}
