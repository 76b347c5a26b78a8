package expiry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietlearn/class-access-api/internal/models"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// stubStore keeps enrollments in memory and mimics the repository's
// conditional-update semantics: MarkRemoved only matches approved rows
// and reports sql.ErrNoRows otherwise.
type stubStore struct {
	enrollments []*models.Enrollment
	listErr     error
	removeErr   map[string]error
	removeCalls int
}

func (s *stubStore) ListApproved(_ context.Context, studentID string) ([]models.Enrollment, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var approved []models.Enrollment
	for _, e := range s.enrollments {
		if e.StudentID == studentID && e.Status == models.EnrollmentStatusApproved {
			approved = append(approved, *e)
		}
	}
	return approved, nil
}

func (s *stubStore) MarkRemoved(_ context.Context, enrollmentID, reason string) error {
	s.removeCalls++
	if err := s.removeErr[enrollmentID]; err != nil {
		return err
	}
	for _, e := range s.enrollments {
		if e.ID == enrollmentID && e.Status == models.EnrollmentStatusApproved {
			e.Status = models.EnrollmentStatusRemoved
			e.RemovalReason = &reason
			return nil
		}
	}
	return sql.ErrNoRows
}

// stubSink records inserted notifications, stamping them with the test
// clock so ExistsRecent can honor the dedup window.
type stubSink struct {
	clock     *fakeClock
	events    []models.Notification
	existsErr error
	insertErr map[models.NotificationKind]error
}

func (s *stubSink) ExistsRecent(_ context.Context, userID string, kind models.NotificationKind, relatedID string, since time.Time) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	for _, n := range s.events {
		if n.UserID == userID && n.Kind == kind && n.RelatedID == relatedID && !n.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubSink) Insert(_ context.Context, n *models.Notification) error {
	if err := s.insertErr[n.Kind]; err != nil {
		return err
	}
	stamped := *n
	stamped.CreatedAt = s.clock.Now()
	s.events = append(s.events, stamped)
	return nil
}

func (s *stubSink) eventsOfKind(kind models.NotificationKind) []models.Notification {
	var out []models.Notification
	for _, n := range s.events {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func newExpiryFixture(now time.Time, enrollments ...*models.Enrollment) (*Reconciler, *stubStore, *stubSink, *fakeClock) {
	clock := &fakeClock{now: now}
	store := &stubStore{enrollments: enrollments, removeErr: map[string]error{}}
	sink := &stubSink{clock: clock, insertErr: map[models.NotificationKind]error{}}
	return NewReconciler(store, sink, clock, nil), store, sink, clock
}

func approvedEnrollment(id, studentID, classID string, t models.EnrollmentType, expiresAt *time.Time) *models.Enrollment {
	return &models.Enrollment{
		ID:        id,
		StudentID: studentID,
		ClassID:   classID,
		Type:      t,
		Status:    models.EnrollmentStatusApproved,
		ExpiresAt: expiresAt,
	}
}

func TestRunExpiredTrialRevokesAndNotifies(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	enrollment := approvedEnrollment("enr-1", "stu-1", "cls-1", models.EnrollmentTypeTrial, ts(now.Add(-time.Hour)))
	reconciler, store, sink, _ := newExpiryFixture(now, enrollment)

	outcomes, err := reconciler.Run(context.Background(), "stu-1")

	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, BandExpired, outcomes[0].Band)
	assert.True(t, outcomes[0].Transitioned)
	assert.True(t, outcomes[0].Notified)

	assert.Equal(t, models.EnrollmentStatusRemoved, store.enrollments[0].Status)
	require.NotNil(t, store.enrollments[0].RemovalReason)
	assert.Equal(t, "Hết hạn học thử", *store.enrollments[0].RemovalReason)

	events := sink.eventsOfKind(models.NotificationKindTrialExpired)
	require.Len(t, events, 1)
	assert.Equal(t, "stu-1", events[0].UserID)
	assert.Equal(t, "cls-1", events[0].RelatedID)
	assert.Equal(t, "Hết hạn học thử", events[0].Title)
	assert.Equal(t, "Thời gian học thử của bạn đã hết. Vui lòng đăng ký lại để tiếp tục học.", events[0].Message)
}

func TestRunExpiredIsIdempotentAcrossPasses(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	enrollment := approvedEnrollment("enr-1", "stu-1", "cls-1", models.EnrollmentTypeReal, ts(now.Add(-time.Minute)))
	reconciler, store, sink, clock := newExpiryFixture(now, enrollment)

	_, err := reconciler.Run(context.Background(), "stu-1")
	require.NoError(t, err)

	// Removed enrollments drop out of the candidate set, so the second
	// pass is a no-op: no extra update, no duplicate notification.
	clock.advance(time.Minute)
	outcomes, err := reconciler.Run(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Equal(t, 1, store.removeCalls)
	assert.Len(t, sink.eventsOfKind(models.NotificationKindRealExpired), 1)
	assert.Equal(t, models.EnrollmentStatusRemoved, store.enrollments[0].Status)
}

func TestRunExpiredAlreadyResolvedByAnotherWriter(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	enrollment := approvedEnrollment("enr-1", "stu-1", "cls-1", models.EnrollmentTypeTrial, ts(now.Add(-time.Hour)))
	reconciler, store, sink, _ := newExpiryFixture(now, enrollment)
	store.removeErr["enr-1"] = sql.ErrNoRows

	outcomes, err := reconciler.Run(context.Background(), "stu-1")

	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Transitioned)
	assert.False(t, outcomes[0].Notified)
	assert.Nil(t, outcomes[0].Err)
	assert.Empty(t, sink.events)
}

func TestRun24hWarning(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	enrollment := approvedEnrollment("enr-1", "stu-1", "cls-1", models.EnrollmentTypeReal, ts(now.Add(2*time.Hour)))
	reconciler, store, sink, _ := newExpiryFixture(now, enrollment)

	outcomes, err := reconciler.Run(context.Background(), "stu-1")

	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, BandExpiring24h, outcomes[0].Band)
	assert.True(t, outcomes[0].Notified)
	assert.False(t, outcomes[0].Transitioned)
	assert.Equal(t, models.EnrollmentStatusApproved, store.enrollments[0].Status)

	events := sink.eventsOfKind(models.NotificationKindRealExpiring24h)
	require.Len(t, events, 1)
	assert.Equal(t, "Sắp hết hạn học thật!", events[0].Title)
	assert.Equal(t, "Lớp học của bạn sẽ hết hạn trong 2 giờ nữa. Hãy gia hạn ngay!", events[0].Message)
}

func TestRun3DayWarning(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	enrollment := approvedEnrollment("enr-1", "stu-1", "cls-1", models.EnrollmentTypeTrial, ts(now.Add(50*time.Hour)))
	reconciler, _, sink, _ := newExpiryFixture(now, enrollment)

	outcomes, err := reconciler.Run(context.Background(), "stu-1")

	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, BandExpiring3Days, outcomes[0].Band)

	events := sink.eventsOfKind(models.NotificationKindTrialExpiring3Days)
	require.Len(t, events, 1)
	assert.Equal(t, "Còn 3 ngày học thử", events[0].Title)
	assert.Equal(t, "Lớp học của bạn sẽ hết hạn trong 3 ngày nữa. Hãy chuẩn bị gia hạn!", events[0].Message)
}

func TestRunWarningSuppressedInsideDedupWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	enrollment := approvedEnrollment("enr-1", "stu-1", "cls-1", models.EnrollmentTypeReal, ts(now.Add(20*time.Hour)))
	reconciler, _, sink, clock := newExpiryFixture(now, enrollment)

	// Three passes over an hour produce exactly one warning.
	for i := 0; i < 3; i++ {
		outcomes, err := reconciler.Run(context.Background(), "stu-1")
		require.NoError(t, err)
		require.Len(t, outcomes, 1)
		if i == 0 {
			assert.True(t, outcomes[0].Notified)
		} else {
			assert.True(t, outcomes[0].Suppressed)
			assert.False(t, outcomes[0].Notified)
		}
		clock.advance(30 * time.Minute)
	}

	assert.Len(t, sink.eventsOfKind(models.NotificationKindRealExpiring24h), 1)
}

func TestRunWarningRepeatsOnceWindowElapses(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	// Far-future expiry keeps the enrollment in the 3-day band across
	// both passes once the clock jumps past the 48h dedup window.
	enrollment := approvedEnrollment("enr-1", "stu-1", "cls-1", models.EnrollmentTypeTrial, ts(now.Add(120*time.Hour)))
	reconciler, _, sink, clock := newExpiryFixture(now, enrollment)

	clock.advance(60 * time.Hour) // now in the 3-day band
	_, err := reconciler.Run(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, sink.eventsOfKind(models.NotificationKindTrialExpiring3Days), 1)

	clock.advance(49 * time.Hour)
	// Past the dedup window the enrollment has also crossed into the
	// 24h band, so the next event is the sharper warning.
	_, err = reconciler.Run(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Len(t, sink.eventsOfKind(models.NotificationKindTrialExpiring24h), 1)
}

func TestRunSkipsNonExpiringEnrollments(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	perpetual := approvedEnrollment("enr-1", "stu-1", "cls-1", models.EnrollmentTypeReal, nil)
	active := approvedEnrollment("enr-2", "stu-1", "cls-2", models.EnrollmentTypeReal, ts(now.Add(30*24*time.Hour)))
	reconciler, store, sink, _ := newExpiryFixture(now, perpetual, active)

	outcomes, err := reconciler.Run(context.Background(), "stu-1")

	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, BandNotApplicable, outcomes[0].Band)
	assert.Equal(t, BandActive, outcomes[1].Band)
	assert.Empty(t, sink.events)
	assert.Equal(t, 0, store.removeCalls)
}

func TestRunEmptyCandidateSet(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	reconciler, _, _, _ := newExpiryFixture(now)

	outcomes, err := reconciler.Run(context.Background(), "stu-1")

	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestRunAbortsWhenFetchFails(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	reconciler, store, _, _ := newExpiryFixture(now)
	store.listErr = fmt.Errorf("connection refused")

	outcomes, err := reconciler.Run(context.Background(), "stu-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Nil(t, outcomes)
}

func TestRunContinuesPastPerEnrollmentFailure(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	failing := approvedEnrollment("enr-1", "stu-1", "cls-1", models.EnrollmentTypeTrial, ts(now.Add(-time.Hour)))
	healthy := approvedEnrollment("enr-2", "stu-1", "cls-2", models.EnrollmentTypeReal, ts(now.Add(2*time.Hour)))
	reconciler, store, sink, _ := newExpiryFixture(now, failing, healthy)
	store.removeErr["enr-1"] = fmt.Errorf("deadlock detected")

	outcomes, err := reconciler.Run(context.Background(), "stu-1")

	var partial *PartialPassError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 1, partial.Failed)
	assert.Equal(t, 2, partial.Total)

	require.Len(t, outcomes, 2)
	assert.ErrorIs(t, outcomes[0].Err, ErrStoreUnavailable)
	assert.Nil(t, outcomes[1].Err)
	assert.True(t, outcomes[1].Notified)
	assert.Len(t, sink.eventsOfKind(models.NotificationKindRealExpiring24h), 1)
}

func TestRunInsertFailureAfterTransition(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	enrollment := approvedEnrollment("enr-1", "stu-1", "cls-1", models.EnrollmentTypeTrial, ts(now.Add(-time.Hour)))
	reconciler, store, sink, _ := newExpiryFixture(now, enrollment)
	sink.insertErr[models.NotificationKindTrialExpired] = errors.New("sink down")

	outcomes, err := reconciler.Run(context.Background(), "stu-1")

	var partial *PartialPassError
	require.ErrorAs(t, err, &partial)
	require.Len(t, outcomes, 1)
	// The transition landed even though the notification failed.
	assert.True(t, outcomes[0].Transitioned)
	assert.False(t, outcomes[0].Notified)
	assert.ErrorIs(t, outcomes[0].Err, ErrSinkUnavailable)
	assert.Equal(t, models.EnrollmentStatusRemoved, store.enrollments[0].Status)
}

func TestRunDedupCheckFailureLeavesStateUntouched(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	enrollment := approvedEnrollment("enr-1", "stu-1", "cls-1", models.EnrollmentTypeReal, ts(now.Add(2*time.Hour)))
	reconciler, _, sink, _ := newExpiryFixture(now, enrollment)
	sink.existsErr = errors.New("sink down")

	outcomes, err := reconciler.Run(context.Background(), "stu-1")

	var partial *PartialPassError
	require.ErrorAs(t, err, &partial)
	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0].Err, ErrSinkUnavailable)
	assert.Empty(t, sink.events)
}

func TestRunTrialAndRealWarningsDedupIndependently(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	trial := approvedEnrollment("enr-1", "stu-1", "cls-1", models.EnrollmentTypeTrial, ts(now.Add(2*time.Hour)))
	paid := approvedEnrollment("enr-2", "stu-1", "cls-1", models.EnrollmentTypeReal, ts(now.Add(3*time.Hour)))
	reconciler, _, sink, _ := newExpiryFixture(now, trial, paid)

	_, err := reconciler.Run(context.Background(), "stu-1")

	require.NoError(t, err)
	assert.Len(t, sink.eventsOfKind(models.NotificationKindTrialExpiring24h), 1)
	assert.Len(t, sink.eventsOfKind(models.NotificationKindRealExpiring24h), 1)
}
