package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/vietlearn/class-access-api/internal/models"
)

func newNotificationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestNotificationRepositoryInsertDefaults(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	notification := &models.Notification{
		UserID:    "stu-1",
		Kind:      models.NotificationKindTrialExpiring24h,
		RelatedID: "cls-1",
		Title:     "Sắp hết hạn học thử!",
		Message:   "Lớp học của bạn sẽ hết hạn trong 5 giờ nữa. Hãy gia hạn ngay!",
	}
	require.NoError(t, repo.Insert(context.Background(), notification))
	require.NotEmpty(t, notification.ID)
	require.False(t, notification.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryExistsRecent(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	since := time.Now().Add(-24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM notifications WHERE user_id = $1 AND kind = $2 AND related_id = $3 AND created_at >= $4")).
		WithArgs("stu-1", models.NotificationKindRealExpiring24h, "cls-1", since).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.ExistsRecent(context.Background(), "stu-1", models.NotificationKindRealExpiring24h, "cls-1", since)
	require.NoError(t, err)
	require.True(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM notifications WHERE user_id = $1 AND kind = $2 AND related_id = $3 AND created_at >= $4")).
		WithArgs("stu-1", models.NotificationKindRealExpiring3Days, "cls-1", since).
		WillReturnError(sql.ErrNoRows)

	exists, err = repo.ExistsRecent(context.Background(), "stu-1", models.NotificationKindRealExpiring3Days, "cls-1", since)
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryList(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "kind", "related_id", "title", "message", "read", "created_at"}).
		AddRow("ntf-2", "stu-1", "TRIAL_EXPIRED", "cls-1", "Hết hạn học thử", "Thời gian học thử của bạn đã hết. Vui lòng đăng ký lại để tiếp tục học.", false, now).
		AddRow("ntf-1", "stu-1", "TRIAL_EXPIRING_24H", "cls-1", "Sắp hết hạn học thử!", "Lớp học của bạn sẽ hết hạn trong 3 giờ nữa. Hãy gia hạn ngay!", true, now.Add(-time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, kind, related_id, title, message, read, created_at")).
		WithArgs("stu-1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notifications")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	notifications, total, err := repo.List(context.Background(), models.NotificationFilter{UserID: "stu-1"})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, notifications, 2)
	require.Equal(t, "ntf-2", notifications[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryMarkRead(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2")).
		WithArgs("ntf-1", "stu-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkRead(context.Background(), "ntf-1", "stu-1"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2")).
		WithArgs("ntf-1", "stu-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRead(context.Background(), "ntf-1", "stu-2")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
