package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vietlearn/class-access-api/internal/models"
)

// NotificationRepository persists notification events. Events are
// append-only: nothing in this service updates them besides the read
// flag.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Insert appends a notification event.
func (r *NotificationRepository) Insert(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, user_id, kind, related_id, title, message, read, created_at)
        VALUES (:id, :user_id, :kind, :related_id, :title, :message, :read, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ExistsRecent reports whether an event of this kind for this relation
// was created at or after the given instant. This is the dedup-window
// query the expiry reconciler guards warning inserts with.
func (r *NotificationRepository) ExistsRecent(ctx context.Context, userID string, kind models.NotificationKind, relatedID string, since time.Time) (bool, error) {
	const query = `SELECT 1 FROM notifications WHERE user_id = $1 AND kind = $2 AND related_id = $3 AND created_at >= $4 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, userID, kind, relatedID, since); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check recent notification: %w", err)
	}
	return true, nil
}

// List returns a user's notifications newest first.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	where := "WHERE user_id = $1"
	args := []interface{}{filter.UserID}
	if filter.UnreadOnly {
		where += " AND read = FALSE"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT id, user_id, kind, related_id, title, message, read, created_at
        FROM notifications %s ORDER BY created_at DESC LIMIT %d OFFSET %d`, where, size, offset)
	var notifications []models.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM notifications %s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return notifications, total, nil
}

// MarkRead flags a notification as read. Scoped by user so one user
// cannot acknowledge another's events.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string) error {
	const query = `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
