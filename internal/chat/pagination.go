package chat

import (
	"context"
	"fmt"
	"strings"
)

// Pager implements cursor-based history reads. Both queries are pure reads:
// seen-state is untouched, the caller marks messages seen separately once
// they are rendered.
type Pager struct {
	chats       ChatRepository
	messages    MessageRepository
	defaultSize int
	maxSize     int
}

func NewPager(chats ChatRepository, messages MessageRepository, defaultSize, maxSize int) *Pager {
	return &Pager{chats: chats, messages: messages, defaultSize: defaultSize, maxSize: maxSize}
}

// LoadOlderThan returns up to count messages immediately preceding
// beforeMessageID, oldest-first. The cursor message must belong to the chat.
func (p *Pager) LoadOlderThan(ctx context.Context, chatID, beforeMessageID string, count int) ([]*Message, error) {
	before, err := p.messages.GetMessage(ctx, beforeMessageID)
	if err != nil {
		return nil, err
	}
	if before.ChatID != chatID {
		return nil, fmt.Errorf("%w: cursor message not in chat", ErrNotFound)
	}
	return p.messages.ListBefore(ctx, chatID, before, p.clamp(count))
}

// LoadLast returns the most recent count messages, oldest-first. Used when
// a chat is first opened.
func (p *Pager) LoadLast(ctx context.Context, chatID string, count int) ([]*Message, error) {
	if _, err := p.chats.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	return p.messages.ListLast(ctx, chatID, p.clamp(count))
}

// Search does a naive case-insensitive substring match over non-deleted
// message content, oldest-first.
func (p *Pager) Search(ctx context.Context, chatID, query string, count int) ([]*Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", ErrValidation)
	}
	if _, err := p.chats.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	return p.messages.Search(ctx, chatID, query, p.clamp(count))
}

func (p *Pager) clamp(count int) int {
	if count <= 0 {
		return p.defaultSize
	}
	if count > p.maxSize {
		return p.maxSize
	}
	return count
}
