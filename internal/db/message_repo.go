package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"campus/chat/internal/chat"
)

type MessageRepo struct {
	store *Store
}

func NewMessageRepo(store *Store) *MessageRepo {
	return &MessageRepo{store: store}
}

const messageColumns = "id, chat_id, sender_id, content, attachments, reply_to_id, seen, seen_at, is_deleted, edited_at, created_at"

func (r *MessageRepo) CreateMessage(ctx context.Context, m *chat.Message) error {
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return err
	}
	var replyTo *string
	if m.ReplyToID != "" {
		replyTo = &m.ReplyToID
	}
	// created_at comes from the database clock: persistence time defines
	// message ordering.
	var createdAt pgtype.Timestamptz
	err = r.store.Pool.QueryRow(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, content, attachments, reply_to_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, m.ID, m.ChatID, m.SenderID, m.Content, attachments, replyTo).Scan(&createdAt)
	if err != nil {
		return mapErr(err, "message")
	}
	m.CreatedAt = createdAt.Time.UTC()
	return nil
}

func (r *MessageRepo) GetMessage(ctx context.Context, id string) (*chat.Message, error) {
	row := r.store.Pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

func (r *MessageRepo) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) (*chat.Message, error) {
	row := r.store.Pool.QueryRow(ctx, `
		UPDATE messages SET content = $2, edited_at = $3
		WHERE id = $1 AND NOT is_deleted
		RETURNING `+messageColumns, id, content, pgTime(editedAt))
	m, err := scanMessage(row)
	if errors.Is(err, chat.ErrNotFound) {
		// Zero rows covers both a missing message and a tombstone; editing
		// a deleted message is invalid state, not not-found.
		var deleted bool
		if checkErr := r.store.Pool.QueryRow(ctx, `SELECT is_deleted FROM messages WHERE id = $1`, id).Scan(&deleted); checkErr == nil && deleted {
			return nil, fmt.Errorf("%w: message is deleted", chat.ErrInvalidState)
		}
	}
	return m, err
}

func (r *MessageRepo) TombstoneMessage(ctx context.Context, id string) (*chat.Message, error) {
	row := r.store.Pool.QueryRow(ctx, `
		UPDATE messages SET is_deleted = TRUE, content = '', attachments = '[]'
		WHERE id = $1
		RETURNING `+messageColumns, id)
	return scanMessage(row)
}

func (r *MessageRepo) MarkSeen(ctx context.Context, chatID, viewerID string, seenAt time.Time) ([]*chat.Message, error) {
	rows, err := r.store.Pool.Query(ctx, `
		UPDATE messages SET seen = TRUE, seen_at = $3
		WHERE chat_id = $1 AND sender_id <> $2 AND NOT seen AND NOT is_deleted
		RETURNING `+messageColumns, chatID, viewerID, pgTime(seenAt))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows, false)
}

func (r *MessageRepo) CountUnseen(ctx context.Context, chatID, viewerID string) (int, error) {
	var count int
	err := r.store.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE chat_id = $1 AND sender_id <> $2 AND NOT seen AND NOT is_deleted
	`, chatID, viewerID).Scan(&count)
	return count, err
}

func (r *MessageRepo) ListBefore(ctx context.Context, chatID string, before *chat.Message, limit int) ([]*chat.Message, error) {
	rows, err := r.store.Pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = $1 AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, chatID, pgTime(before.CreatedAt), before.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows, true)
}

func (r *MessageRepo) ListLast(ctx context.Context, chatID string, limit int) ([]*chat.Message, error) {
	rows, err := r.store.Pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows, true)
}

func (r *MessageRepo) Search(ctx context.Context, chatID, query string, limit int) ([]*chat.Message, error) {
	rows, err := r.store.Pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = $1 AND NOT is_deleted AND content ILIKE '%' || $2 || '%'
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`, chatID, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows, false)
}

func scanMessage(row pgx.Row) (*chat.Message, error) {
	var m chat.Message
	var attachments []byte
	var replyTo *string
	var seenAt, editedAt, createdAt pgtype.Timestamptz
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &attachments, &replyTo,
		&m.Seen, &seenAt, &m.IsDeleted, &editedAt, &createdAt)
	if err != nil {
		return nil, mapErr(err, "message")
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, err
		}
	}
	if replyTo != nil {
		m.ReplyToID = *replyTo
	}
	m.SeenAt = timePtr(seenAt)
	m.EditedAt = timePtr(editedAt)
	m.CreatedAt = createdAt.Time.UTC()
	return &m, nil
}

// collectMessages scans all rows; reverse flips a newest-first page back to
// oldest-first for the caller.
func collectMessages(rows pgx.Rows, reverse bool) ([]*chat.Message, error) {
	var messages []*chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if reverse {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, nil
}
