package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of the repository interfaces.
// It backs local development when no DATABASE_URL is configured, and the
// unit tests. Ordering matches the Postgres implementation: (created_at, id).
type MemoryStore struct {
	mu            sync.Mutex
	chats         map[string]*Chat
	byChannel     map[string]string
	messages      map[string]*Message
	byChat        map[string][]string
	notifications map[string][]*Notification
	lastCreated   time.Time
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:         make(map[string]*Chat),
		byChannel:     make(map[string]string),
		messages:      make(map[string]*Message),
		byChat:        make(map[string][]string),
		notifications: make(map[string][]*Notification),
		now:           time.Now,
	}
}

func (s *MemoryStore) CreateChat(_ context.Context, chat *Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byChannel[chat.ChannelID]; exists {
		return fmt.Errorf("%w: chat already exists for pair", ErrConflict)
	}
	cp := *chat
	s.chats[chat.ID] = &cp
	s.byChannel[chat.ChannelID] = chat.ID
	return nil
}

func (s *MemoryStore) GetChat(_ context.Context, id string) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, fmt.Errorf("%w: chat %s", ErrNotFound, id)
	}
	cp := *chat
	return &cp, nil
}

func (s *MemoryStore) GetChatByChannelID(_ context.Context, channelID string) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byChannel[channelID]
	if !ok {
		return nil, fmt.Errorf("%w: channel %s", ErrNotFound, channelID)
	}
	cp := *s.chats[id]
	return &cp, nil
}

func (s *MemoryStore) UpdateChatStatus(_ context.Context, id string, status ChatStatus) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, fmt.Errorf("%w: chat %s", ErrNotFound, id)
	}
	chat.Status = status
	cp := *chat
	return &cp, nil
}

func (s *MemoryStore) ListChatsByUser(_ context.Context, userID string) ([]*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Chat
	for _, chat := range s.chats {
		if chat.Participant(userID) {
			cp := *chat
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, message *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	// Persistence time defines ordering; nudge forward on clock collisions
	// so the (created_at, id) cursor stays strictly increasing per chat.
	created := s.now().UTC()
	if !created.After(s.lastCreated) {
		created = s.lastCreated.Add(time.Microsecond)
	}
	s.lastCreated = created
	message.CreatedAt = created

	cp := *message
	s.messages[message.ID] = &cp
	s.byChat[message.ChatID] = append(s.byChat[message.ChatID], message.ID)
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: message %s", ErrNotFound, id)
	}
	cp := *msg
	return &cp, nil
}

func (s *MemoryStore) UpdateMessageContent(_ context.Context, id, content string, editedAt time.Time) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: message %s", ErrNotFound, id)
	}
	if msg.IsDeleted {
		return nil, fmt.Errorf("%w: message is deleted", ErrInvalidState)
	}
	msg.Content = content
	t := editedAt.UTC()
	msg.EditedAt = &t
	cp := *msg
	return &cp, nil
}

func (s *MemoryStore) TombstoneMessage(_ context.Context, id string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: message %s", ErrNotFound, id)
	}
	if !msg.IsDeleted {
		msg.IsDeleted = true
		msg.Content = ""
		msg.Attachments = nil
	}
	cp := *msg
	return &cp, nil
}

func (s *MemoryStore) MarkSeen(_ context.Context, chatID, viewerID string, seenAt time.Time) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := seenAt.UTC()
	var updated []*Message
	for _, id := range s.byChat[chatID] {
		msg := s.messages[id]
		if msg.SenderID == viewerID || msg.Seen || msg.IsDeleted {
			continue
		}
		msg.Seen = true
		msg.SeenAt = &t
		cp := *msg
		updated = append(updated, &cp)
	}
	return updated, nil
}

func (s *MemoryStore) CountUnseen(_ context.Context, chatID, viewerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, id := range s.byChat[chatID] {
		msg := s.messages[id]
		if msg.SenderID != viewerID && !msg.Seen && !msg.IsDeleted {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListBefore(_ context.Context, chatID string, before *Message, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ordered := s.orderedLocked(chatID)
	idx := len(ordered)
	for i, msg := range ordered {
		if msg.ID == before.ID {
			idx = i
			break
		}
	}
	start := idx - limit
	if start < 0 {
		start = 0
	}
	return copyMessages(ordered[start:idx]), nil
}

func (s *MemoryStore) ListLast(_ context.Context, chatID string, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ordered := s.orderedLocked(chatID)
	start := len(ordered) - limit
	if start < 0 {
		start = 0
	}
	return copyMessages(ordered[start:]), nil
}

func (s *MemoryStore) Search(_ context.Context, chatID, query string, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(query)
	var out []*Message
	for _, msg := range s.orderedLocked(chatID) {
		if msg.IsDeleted {
			continue
		}
		if strings.Contains(strings.ToLower(msg.Content), needle) {
			cp := *msg
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) orderedLocked(chatID string) []*Message {
	ids := s.byChat[chatID]
	ordered := make([]*Message, 0, len(ids))
	for _, id := range ids {
		ordered = append(ordered, s.messages[id])
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	return ordered
}

func copyMessages(in []*Message) []*Message {
	out := make([]*Message, len(in))
	for i, msg := range in {
		cp := *msg
		out[i] = &cp
	}
	return out
}

func (s *MemoryStore) CreateNotification(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	cp := *n
	s.notifications[n.UserID] = append(s.notifications[n.UserID], &cp)
	return nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, userID string, limit int) ([]*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.notifications[userID]
	start := len(all) - limit
	if limit <= 0 || start < 0 {
		start = 0
	}
	out := make([]*Notification, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		cp := *all[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, id, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications[userID] {
		if n.ID == id {
			if n.IsRead {
				return false, nil
			}
			n.IsRead = true
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: notification %s", ErrNotFound, id)
}

func (s *MemoryStore) MarkAllNotificationsRead(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.notifications[userID] {
		if !n.IsRead {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountUnreadNotifications(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.notifications[userID] {
		if !n.IsRead {
			count++
		}
	}
	return count, nil
}
