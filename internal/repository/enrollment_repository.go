package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vietlearn/class-access-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN students s ON s.id = e.student_id
LEFT JOIN classes c ON c.id = e.class_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("e.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("e.type = $%d", len(args)+1))
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "e.created_at",
		"expires_at":   "e.expires_at",
		"student_name": "s.full_name",
		"class_name":   "c.name",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.class_id, e.type, e.status, e.expires_at, e.removal_reason, e.created_at, e.updated_at,
        s.full_name AS student_name, c.name AS class_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, class_id, type, status, expires_at, removal_reason, created_at, updated_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.class_id, e.type, e.status, e.expires_at, e.removal_reason, e.created_at, e.updated_at,
        s.full_name AS student_name, c.name AS class_name
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN classes c ON c.id = e.class_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsOpen checks whether a pending or approved enrollment already
// exists for the student/class pair.
func (r *EnrollmentRepository) ExistsOpen(ctx context.Context, studentID, classID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND class_id = $2 AND status IN ($3, $4) LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, classID, models.EnrollmentStatusPending, models.EnrollmentStatusApproved); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check open enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}
	const query = `INSERT INTO enrollments (id, student_id, class_id, type, status, expires_at, removal_reason, created_at, updated_at)
        VALUES (:id, :student_id, :class_id, :type, :status, :expires_at, :removal_reason, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpdateDecision resolves a pending enrollment to approved or rejected,
// recording the expiry granted on approval.
func (r *EnrollmentRepository) UpdateDecision(ctx context.Context, id string, status models.EnrollmentStatus, expiresAt *time.Time) error {
	const query = `UPDATE enrollments SET status = $2, expires_at = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, expiresAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("update enrollment decision: %w", err)
	}
	return nil
}

// ListApproved returns the student's approved enrollments, the expiry
// reconciler's candidate set.
func (r *EnrollmentRepository) ListApproved(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	const query = `SELECT id, student_id, class_id, type, status, expires_at, removal_reason, created_at, updated_at FROM enrollments WHERE student_id = $1 AND status = $2`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID, models.EnrollmentStatusApproved); err != nil {
		return nil, fmt.Errorf("list approved enrollments: %w", err)
	}
	return enrollments, nil
}

// MarkRemoved transitions an approved enrollment to removed with the
// given reason. The status guard makes it idempotent: a second call for
// the same enrollment matches no row and returns sql.ErrNoRows.
func (r *EnrollmentRepository) MarkRemoved(ctx context.Context, id, reason string) error {
	const query = `UPDATE enrollments SET status = $2, removal_reason = $3, updated_at = $4 WHERE id = $1 AND status = $5`
	result, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusRemoved, reason, time.Now().UTC(), models.EnrollmentStatusApproved)
	if err != nil {
		return fmt.Errorf("mark enrollment removed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark enrollment removed: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// HasActiveAccess reports whether the student currently holds an
// approved, unexpired enrollment for the class. Expiry is evaluated
// against the caller's clock so cached checks stay consistent with the
// reconciler.
func (r *EnrollmentRepository) HasActiveAccess(ctx context.Context, studentID, classID string, now time.Time) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND class_id = $2 AND status = $3 AND (expires_at IS NULL OR expires_at > $4) LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, classID, models.EnrollmentStatusApproved, now); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check class access: %w", err)
	}
	return true, nil
}

// ListExpiringBefore returns approved enrollments whose expiry falls in
// (now, until], used by the expiring-soon report.
func (r *EnrollmentRepository) ListExpiringBefore(ctx context.Context, now, until time.Time) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.class_id, e.type, e.status, e.expires_at, e.removal_reason, e.created_at, e.updated_at,
        s.full_name AS student_name, c.name AS class_name
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN classes c ON c.id = e.class_id
        WHERE e.status = $1 AND e.expires_at IS NOT NULL AND e.expires_at > $2 AND e.expires_at <= $3
        ORDER BY e.expires_at ASC`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, models.EnrollmentStatusApproved, now, until); err != nil {
		return nil, fmt.Errorf("list expiring enrollments: %w", err)
	}
	return enrollments, nil
}
