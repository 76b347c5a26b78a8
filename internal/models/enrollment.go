package models

import "time"

// EnrollmentType distinguishes trial access from paid access.
type EnrollmentType string

// Supported enrollment types.
const (
	EnrollmentTypeTrial EnrollmentType = "TRIAL"
	EnrollmentTypeReal  EnrollmentType = "REAL"
)

// Label returns the Vietnamese display label used in notifications.
func (t EnrollmentType) Label() string {
	if t == EnrollmentTypeTrial {
		return "học thử"
	}
	return "học thật"
}

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. REMOVED is terminal: the expiry
// reconciler never moves an enrollment back to APPROVED.
const (
	EnrollmentStatusPending  EnrollmentStatus = "PENDING"
	EnrollmentStatusApproved EnrollmentStatus = "APPROVED"
	EnrollmentStatusRejected EnrollmentStatus = "REJECTED"
	EnrollmentStatusRemoved  EnrollmentStatus = "REMOVED"
)

// Enrollment grants a student time-bounded access to a class.
// A nil ExpiresAt means the enrollment never expires.
type Enrollment struct {
	ID            string           `db:"id" json:"id"`
	StudentID     string           `db:"student_id" json:"student_id"`
	ClassID       string           `db:"class_id" json:"class_id"`
	Type          EnrollmentType   `db:"type" json:"type"`
	Status        EnrollmentStatus `db:"status" json:"status"`
	ExpiresAt     *time.Time       `db:"expires_at" json:"expires_at,omitempty"`
	RemovalReason *string          `db:"removal_reason" json:"removal_reason,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and class info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	ClassName   string `db:"class_name" json:"class_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	ClassID   string
	Type      EnrollmentType
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
