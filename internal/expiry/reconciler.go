package expiry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vietlearn/class-access-api/internal/models"
)

// EnrollmentStore is the slice of enrollment persistence the reconciler
// consumes. MarkRemoved must be idempotent: it returns sql.ErrNoRows
// when no approved row matched, which the reconciler treats as already
// resolved rather than a failure.
type EnrollmentStore interface {
	ListApproved(ctx context.Context, studentID string) ([]models.Enrollment, error)
	MarkRemoved(ctx context.Context, enrollmentID, reason string) error
}

// NotificationSink is an append-only event store with a trailing-window
// existence query used for dedup.
type NotificationSink interface {
	ExistsRecent(ctx context.Context, userID string, kind models.NotificationKind, relatedID string, since time.Time) (bool, error)
	Insert(ctx context.Context, n *models.Notification) error
}

// Sentinel errors classifying pass-level failures.
var (
	ErrStoreUnavailable = errors.New("enrollment store unavailable")
	ErrSinkUnavailable  = errors.New("notification sink unavailable")
)

// PartialPassError aggregates per-enrollment failures within an
// otherwise completed pass.
type PartialPassError struct {
	Failed int
	Total  int
}

func (e *PartialPassError) Error() string {
	return fmt.Sprintf("expiry pass completed with %d/%d enrollments failed", e.Failed, e.Total)
}

// Outcome records what one pass did with one enrollment.
type Outcome struct {
	EnrollmentID string
	ClassID      string
	Band         Band
	Transitioned bool
	Notified     bool
	Suppressed   bool
	Err          error
}

// Reconciler runs a single expiry pass over a student's approved
// enrollments: classify each against the warning bands, revoke expired
// access, and emit dedup-guarded notifications.
type Reconciler struct {
	store  EnrollmentStore
	sink   NotificationSink
	clock  Clock
	logger *zap.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(store EnrollmentStore, sink NotificationSink, clock Clock, logger *zap.Logger) *Reconciler {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, sink: sink, clock: clock, logger: logger}
}

// Run executes one pass for the given student. A failure to fetch the
// candidate set aborts the pass; failures on individual enrollments are
// recorded in their outcome and processing continues, surfacing a
// PartialPassError so callers can observe the degradation. An empty
// candidate set completes as a no-op.
func (r *Reconciler) Run(ctx context.Context, studentID string) ([]Outcome, error) {
	now := r.clock.Now()

	enrollments, err := r.store.ListApproved(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("%w: list approved enrollments for student %s: %v", ErrStoreUnavailable, studentID, err)
	}
	if len(enrollments) == 0 {
		return nil, nil
	}

	outcomes := make([]Outcome, 0, len(enrollments))
	failed := 0
	for _, enrollment := range enrollments {
		outcome := r.reconcileOne(ctx, now, enrollment)
		if outcome.Err != nil {
			failed++
			r.logger.Warn("expiry step failed",
				zap.String("student_id", studentID),
				zap.String("enrollment_id", outcome.EnrollmentID),
				zap.Stringer("band", outcome.Band),
				zap.Error(outcome.Err))
		}
		outcomes = append(outcomes, outcome)
	}

	if failed > 0 {
		return outcomes, &PartialPassError{Failed: failed, Total: len(enrollments)}
	}
	return outcomes, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, now time.Time, enrollment models.Enrollment) Outcome {
	outcome := Outcome{
		EnrollmentID: enrollment.ID,
		ClassID:      enrollment.ClassID,
		Band:         Classify(now, enrollment.ExpiresAt),
	}

	switch outcome.Band {
	case BandExpiring3Days:
		daysLeft := DaysLeft(now, *enrollment.ExpiresAt)
		outcome.Notified, outcome.Suppressed, outcome.Err = r.notifyOnce(ctx, now, enrollment, outcome.Band,
			warning3DaysTitle(enrollment.Type, daysLeft),
			warning3DaysMessage(daysLeft))

	case BandExpiring24h:
		hoursLeft := HoursLeft(now, *enrollment.ExpiresAt)
		outcome.Notified, outcome.Suppressed, outcome.Err = r.notifyOnce(ctx, now, enrollment, outcome.Band,
			warning24hTitle(enrollment.Type),
			warning24hMessage(hoursLeft))

	case BandExpired:
		outcome.Transitioned, outcome.Notified, outcome.Err = r.expire(ctx, enrollment)
	}

	return outcome
}

// notifyOnce inserts a warning notification unless one of the same kind
// for the same class already exists inside the band's dedup window. The
// check-then-insert pair is not atomic; the scheduler's per-subject
// non-overlap guarantee keeps a single subject's timer from racing
// itself.
func (r *Reconciler) notifyOnce(ctx context.Context, now time.Time, enrollment models.Enrollment, band Band, title, message string) (notified, suppressed bool, err error) {
	kind := kindFor(enrollment.Type, band)
	since := now.Add(-dedupWindow(band))

	exists, err := r.sink.ExistsRecent(ctx, enrollment.StudentID, kind, enrollment.ClassID, since)
	if err != nil {
		return false, false, fmt.Errorf("%w: check recent %s: %v", ErrSinkUnavailable, kind, err)
	}
	if exists {
		return false, true, nil
	}

	notification := &models.Notification{
		UserID:    enrollment.StudentID,
		Kind:      kind,
		RelatedID: enrollment.ClassID,
		Title:     title,
		Message:   message,
	}
	if err := r.sink.Insert(ctx, notification); err != nil {
		return false, false, fmt.Errorf("%w: insert %s: %v", ErrSinkUnavailable, kind, err)
	}
	return true, false, nil
}

// expire revokes access and notifies. The transition is one-way and
// naturally idempotent: once removed the enrollment drops out of the
// candidate set, so the expired notification needs no dedup window. A
// sql.ErrNoRows from the store means another writer already resolved
// the enrollment; the step completes without notifying again.
func (r *Reconciler) expire(ctx context.Context, enrollment models.Enrollment) (transitioned, notified bool, err error) {
	if err := r.store.MarkRemoved(ctx, enrollment.ID, RemovalReason(enrollment.Type)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("%w: mark removed: %v", ErrStoreUnavailable, err)
	}

	notification := &models.Notification{
		UserID:    enrollment.StudentID,
		Kind:      kindFor(enrollment.Type, BandExpired),
		RelatedID: enrollment.ClassID,
		Title:     expiredTitle(enrollment.Type),
		Message:   expiredMessage(enrollment.Type),
	}
	if err := r.sink.Insert(ctx, notification); err != nil {
		return true, false, fmt.Errorf("%w: insert expired notification: %v", ErrSinkUnavailable, err)
	}
	return true, true, nil
}
