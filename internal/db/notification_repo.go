package db

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"campus/chat/internal/chat"
)

type NotificationRepo struct {
	store *Store
}

func NewNotificationRepo(store *Store) *NotificationRepo {
	return &NotificationRepo{store: store}
}

func (r *NotificationRepo) CreateNotification(ctx context.Context, n *chat.Notification) error {
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return err
	}
	_, err = r.store.Pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, title, message, type, metadata, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, n.UserID, n.Title, n.Message, n.Type, metadata, n.IsRead, pgTime(n.CreatedAt))
	return mapErr(err, "notification")
}

func (r *NotificationRepo) ListNotifications(ctx context.Context, userID string, limit int) ([]*chat.Notification, error) {
	rows, err := r.store.Pool.Query(ctx, `
		SELECT id, user_id, title, message, type, metadata, is_read, created_at
		FROM notifications WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*chat.Notification
	for rows.Next() {
		var n chat.Notification
		var metadata []byte
		var createdAt pgtype.Timestamptz
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &metadata, &n.IsRead, &createdAt); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
				return nil, err
			}
		}
		n.CreatedAt = createdAt.Time.UTC()
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (r *NotificationRepo) MarkNotificationRead(ctx context.Context, id, userID string) (bool, error) {
	tag, err := r.store.Pool.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE id = $1 AND user_id = $2 AND NOT is_read
	`, id, userID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	// Zero rows: either already read (idempotent no-op) or missing.
	var exists bool
	err = r.store.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1 AND user_id = $2)
	`, id, userID).Scan(&exists)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, mapErr(pgx.ErrNoRows, "notification")
	}
	return false, nil
}

func (r *NotificationRepo) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	tag, err := r.store.Pool.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read
	`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *NotificationRepo) CountUnreadNotifications(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.store.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read
	`, userID).Scan(&count)
	return count, err
}
