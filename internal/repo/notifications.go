package repo

import (
	"context"

	"govline/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	isRead := 0
	if n.IsRead {
		isRead = 1
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO notifications(id,user_id,type,title,message,link,is_read,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, nullable(n.Link), isRead, n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	query := `SELECT id,user_id,type,title,message,COALESCE(link,''),is_read,created_at FROM notifications WHERE user_id=?`
	if unreadOnly {
		query += ` AND is_read=0`
	}
	query += ` ORDER BY created_at DESC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var isRead int
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Link, &isRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.IsRead = isRead != 0
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkNotificationRead flips is_read for a notification owned by userID.
func (r Repo) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
