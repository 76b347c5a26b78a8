package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/vietlearn/class-access-api/internal/expiry"
	"github.com/vietlearn/class-access-api/internal/models"
	appErrors "github.com/vietlearn/class-access-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ExistsOpen(ctx context.Context, studentID, classID string) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	UpdateDecision(ctx context.Context, id string, status models.EnrollmentStatus, expiresAt *time.Time) error
	MarkRemoved(ctx context.Context, id, reason string) error
	HasActiveAccess(ctx context.Context, studentID, classID string, now time.Time) (bool, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type classReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type accessCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// RequestEnrollmentRequest describes a student's ask to join a class.
type RequestEnrollmentRequest struct {
	StudentID string                `json:"student_id" validate:"required"`
	ClassID   string                `json:"class_id" validate:"required"`
	Type      models.EnrollmentType `json:"type" validate:"required,oneof=TRIAL REAL"`
}

// ApproveEnrollmentRequest grants access, optionally time-bounded. A
// nil expiry is only legal for REAL enrollments (permanent access).
type ApproveEnrollmentRequest struct {
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// RevokeEnrollmentRequest documents a manual removal.
type RevokeEnrollmentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// EnrollmentService orchestrates enrollment workflows. Status beyond
// approval/rejection/manual revocation is owned by the expiry
// reconciler.
type EnrollmentService struct {
	repo      enrollmentRepository
	students  studentReader
	classes   classReader
	cache     accessCache
	cacheTTL  time.Duration
	clock     expiry.Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students studentReader, classes classReader, cache accessCache, cacheTTL time.Duration, clock expiry.Clock, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = expiry.SystemClock{}
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &EnrollmentService{repo: repo, students: students, classes: classes, cache: cache, cacheTTL: cacheTTL, clock: clock, validator: validate, logger: logger}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Get returns one enrollment with contextual info.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// Request creates a pending enrollment for a student and class.
func (s *EnrollmentService) Request(ctx context.Context, req RequestEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student inactive")
	}
	class, err := s.classes.FindByID(ctx, req.ClassID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if !class.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "class inactive")
	}
	exists, err := s.repo.ExistsOpen(ctx, req.StudentID, req.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already has an open enrollment for class")
	}
	enrollment := &models.Enrollment{StudentID: req.StudentID, ClassID: req.ClassID, Type: req.Type, Status: models.EnrollmentStatusPending}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	return s.detail(ctx, enrollment.ID)
}

// Approve grants access on a pending enrollment. Trial enrollments must
// carry an expiry in the future; real enrollments may omit it for
// permanent access.
func (s *EnrollmentService) Approve(ctx context.Context, id string, req ApproveEnrollmentRequest) (*models.EnrollmentDetail, error) {
	enrollment, err := s.pending(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "expiry must be in the future")
	}
	if enrollment.Type == models.EnrollmentTypeTrial && req.ExpiresAt == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "trial enrollment requires an expiry")
	}
	if err := s.repo.UpdateDecision(ctx, id, models.EnrollmentStatusApproved, req.ExpiresAt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve enrollment")
	}
	s.invalidateAccess(ctx, enrollment.StudentID)
	return s.detail(ctx, id)
}

// Reject declines a pending enrollment.
func (s *EnrollmentService) Reject(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.pending(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateDecision(ctx, id, models.EnrollmentStatusRejected, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject enrollment")
	}
	s.invalidateAccess(ctx, enrollment.StudentID)
	return s.detail(ctx, id)
}

// Revoke removes an approved enrollment manually with a documented
// reason, the same one-way transition the reconciler performs.
func (s *EnrollmentService) Revoke(ctx context.Context, id string, req RevokeEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid revoke payload")
	}
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if err := s.repo.MarkRemoved(ctx, id, req.Reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment not approved")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke enrollment")
	}
	s.invalidateAccess(ctx, enrollment.StudentID)
	return s.detail(ctx, id)
}

// AccessResult is the cached answer to a class access check.
type AccessResult struct {
	Allowed   bool      `json:"allowed"`
	CheckedAt time.Time `json:"checked_at"`
}

// CheckAccess reports whether the student currently holds access to the
// class. Results are cached briefly; approval, rejection and revocation
// invalidate the student's entries.
func (s *EnrollmentService) CheckAccess(ctx context.Context, studentID, classID string) (*AccessResult, error) {
	key := accessCacheKey(studentID, classID)
	if s.cache != nil {
		var cached AccessResult
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("access cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	now := s.clock.Now()
	allowed, err := s.repo.HasActiveAccess(ctx, studentID, classID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check class access")
	}
	result := &AccessResult{Allowed: allowed, CheckedAt: now}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, result, s.cacheTTL); err != nil {
			s.logger.Warn("access cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return result, nil
}

func (s *EnrollmentService) pending(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment not pending")
	}
	return enrollment, nil
}

func (s *EnrollmentService) detail(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

func (s *EnrollmentService) invalidateAccess(ctx context.Context, studentID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("access:%s:*", studentID)); err != nil {
		s.logger.Warn("access cache invalidation failed", zap.String("student_id", studentID), zap.Error(err))
	}
}

func accessCacheKey(studentID, classID string) string {
	return fmt.Sprintf("access:%s:%s", studentID, classID)
}
