package client

import (
	"sort"
	"sync"
	"time"

	"campus/chat/internal/chat"
	"campus/chat/internal/hub"
)

// ScrollKind tells the rendering layer what to do with the viewport after a
// store mutation.
type ScrollKind int

const (
	// ScrollNone leaves the viewport alone.
	ScrollNone ScrollKind = iota
	// ScrollToBottom jumps to the newest message.
	ScrollToBottom
	// ScrollPreserve restores the pre-mutation distance from the bottom;
	// Top carries the recomputed scrollTop.
	ScrollPreserve
)

type ScrollDirective struct {
	Kind ScrollKind
	Top  float64
}

// Viewport is the scroll geometry of the rendered message list, captured by
// the caller immediately before a history prepend.
type Viewport struct {
	ScrollTop    float64
	ScrollHeight float64
	ClientHeight float64
}

func (v Viewport) distanceFromBottom() float64 {
	return v.ScrollHeight - v.ScrollTop - v.ClientHeight
}

// MarkSeenFunc is called when the visibility observer decides the viewer has
// read unseen messages in a chat. Wired to the markSeen REST call.
type MarkSeenFunc func(chatID string)

// Store reconciles optimistic local sends, server push events and paginated
// history fetches into one ordered duplicate-free message sequence per chat,
// and tracks presence state for rendering.
type Store struct {
	mu     sync.Mutex
	selfID string

	chats    map[string]*thread
	online   map[string]bool
	lastSeen map[string]time.Time

	markSeen MarkSeenFunc
}

// thread is one chat's ordered message sequence: a slice for order plus an
// id index for duplicate suppression.
type thread struct {
	order    []*chat.Message
	index    map[string]int
	observed map[string]bool
}

func NewStore(selfID string, markSeen MarkSeenFunc) *Store {
	return &Store{
		selfID:   selfID,
		chats:    make(map[string]*thread),
		online:   make(map[string]bool),
		lastSeen: make(map[string]time.Time),
		markSeen: markSeen,
	}
}

func (s *Store) thread(chatID string) *thread {
	t, ok := s.chats[chatID]
	if !ok {
		t = &thread{index: make(map[string]int), observed: make(map[string]bool)}
		s.chats[chatID] = t
	}
	return t
}

// Messages returns the chat's sequence oldest-first. The slice is a copy.
func (s *Store) Messages(chatID string) []*chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	out := make([]*chat.Message, len(t.order))
	copy(out, t.order)
	return out
}

// ApplyNew handles a pushed (or optimistically sent) new message. A message
// id already present is a no-op with no scroll change.
func (s *Store) ApplyNew(msg *chat.Message) ScrollDirective {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.thread(msg.ChatID)
	if _, ok := t.index[msg.ID]; ok {
		return ScrollDirective{Kind: ScrollNone}
	}
	t.append(msg)
	return ScrollDirective{Kind: ScrollToBottom}
}

// ApplyUpdate replaces an existing message in place, keeping its position.
// Used for both edit and delete pushes. Unknown ids are ignored.
func (s *Store) ApplyUpdate(msg *chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.chats[msg.ChatID]
	if !ok {
		return
	}
	if i, ok := t.index[msg.ID]; ok {
		t.order[i] = msg
	}
}

// PrependPage merges a page of older history fetched while the viewport sat
// at vp. Messages already present are skipped. The returned directive
// restores the viewer's distance from the bottom given the viewport geometry
// after the prepend.
func (s *Store) PrependPage(chatID string, page []*chat.Message, vp Viewport, after Viewport) ScrollDirective {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.thread(chatID)
	fresh := make([]*chat.Message, 0, len(page))
	for _, msg := range page {
		if _, ok := t.index[msg.ID]; !ok {
			fresh = append(fresh, msg)
		}
	}
	if len(fresh) == 0 {
		return ScrollDirective{Kind: ScrollNone}
	}
	t.prepend(fresh)

	top := after.ScrollHeight - after.ClientHeight - vp.distanceFromBottom()
	if top < 0 {
		top = 0
	}
	return ScrollDirective{Kind: ScrollPreserve, Top: top}
}

// ApplySeen applies a messages_seen broadcast: every message in the chat not
// sent by seenBy flips to seen. The viewer's own copy of the event (seenBy ==
// self) is applied the same way; self-sent messages are never flipped by the
// self's own seen event.
func (s *Store) ApplySeen(p hub.MessagesSeenPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.chats[p.ChatID]
	if !ok {
		return
	}
	for i, msg := range t.order {
		if msg.SenderID == p.SeenBy || msg.Seen {
			continue
		}
		clone := *msg
		clone.Seen = true
		ts := p.Timestamp
		clone.SeenAt = &ts
		t.order[i] = &clone
	}
}

// ObserveVisible is the visibility-observer callback: messageID became ratio
// visible in chatID. Fires the markSeen trigger at most once per visibility
// session, only for unseen messages from another sender that cross the half
// visible threshold.
func (s *Store) ObserveVisible(chatID, messageID string, ratio float64) {
	s.mu.Lock()
	t, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return
	}
	i, ok := t.index[messageID]
	if !ok {
		s.mu.Unlock()
		return
	}
	msg := t.order[i]
	fire := ratio > 0.5 && !msg.Seen && msg.SenderID != s.selfID && !t.observed[messageID]
	if fire {
		t.observed[messageID] = true
	}
	s.mu.Unlock()

	if fire && s.markSeen != nil {
		s.markSeen(chatID)
	}
}

// ResetVisibility starts a new visibility session for a chat, typically when
// the chat view is closed and reopened.
func (s *Store) ResetVisibility(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.chats[chatID]; ok {
		t.observed = make(map[string]bool)
	}
}

// ApplyUserStatus applies a single-user presence transition.
func (s *Store) ApplyUserStatus(p hub.UserStatusPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[p.UserID] = p.IsOnline
	if !p.IsOnline && p.LastSeenAt != nil {
		s.lastSeen[p.UserID] = *p.LastSeenAt
	}
}

// ApplySnapshot reconciles against a full presence snapshot: users in the
// snapshot are online, and every tracked-online user missing from it goes
// offline at the snapshot timestamp.
func (s *Store) ApplySnapshot(p hub.PresenceSnapshotPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inSnapshot := make(map[string]bool, len(p.OnlineUserIDs))
	for _, id := range p.OnlineUserIDs {
		inSnapshot[id] = true
		s.online[id] = true
	}
	for id, online := range s.online {
		if online && !inSnapshot[id] {
			s.online[id] = false
			s.lastSeen[id] = p.Timestamp
		}
	}
}

func (s *Store) IsOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userID]
}

func (s *Store) LastSeen(userID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastSeen[userID]
	return t, ok
}

func (t *thread) append(msg *chat.Message) {
	t.index[msg.ID] = len(t.order)
	t.order = append(t.order, msg)
}

func (t *thread) prepend(page []*chat.Message) {
	sort.SliceStable(page, func(i, j int) bool {
		if !page[i].CreatedAt.Equal(page[j].CreatedAt) {
			return page[i].CreatedAt.Before(page[j].CreatedAt)
		}
		return page[i].ID < page[j].ID
	})
	merged := make([]*chat.Message, 0, len(page)+len(t.order))
	merged = append(merged, page...)
	merged = append(merged, t.order...)
	t.order = merged
	for i, msg := range t.order {
		t.index[msg.ID] = i
	}
}
