package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"campus/chat/internal/chat"
)

type ChatRepo struct {
	store *Store
}

func NewChatRepo(store *Store) *ChatRepo {
	return &ChatRepo{store: store}
}

const chatColumns = "id, student_id, faculty_id, channel_id, status, created_at"

func (r *ChatRepo) CreateChat(ctx context.Context, c *chat.Chat) error {
	_, err := r.store.Pool.Exec(ctx, `
		INSERT INTO chats (id, student_id, faculty_id, channel_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.StudentID, c.FacultyID, c.ChannelID, c.Status, pgTime(c.CreatedAt))
	return mapErr(err, "chat for pair")
}

func (r *ChatRepo) GetChat(ctx context.Context, id string) (*chat.Chat, error) {
	row := r.store.Pool.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, id)
	return scanChat(row)
}

func (r *ChatRepo) GetChatByChannelID(ctx context.Context, channelID string) (*chat.Chat, error) {
	row := r.store.Pool.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats WHERE channel_id = $1`, channelID)
	return scanChat(row)
}

func (r *ChatRepo) UpdateChatStatus(ctx context.Context, id string, status chat.ChatStatus) (*chat.Chat, error) {
	row := r.store.Pool.QueryRow(ctx, `
		UPDATE chats SET status = $2 WHERE id = $1
		RETURNING `+chatColumns, id, status)
	return scanChat(row)
}

func (r *ChatRepo) ListChatsByUser(ctx context.Context, userID string) ([]*chat.Chat, error) {
	rows, err := r.store.Pool.Query(ctx, `
		SELECT `+chatColumns+` FROM chats
		WHERE student_id = $1 OR faculty_id = $1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*chat.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func scanChat(row pgx.Row) (*chat.Chat, error) {
	var c chat.Chat
	var createdAt pgtype.Timestamptz
	err := row.Scan(&c.ID, &c.StudentID, &c.FacultyID, &c.ChannelID, &c.Status, &createdAt)
	if err != nil {
		return nil, mapErr(err, "chat")
	}
	c.CreatedAt = createdAt.Time.UTC()
	return &c, nil
}
