package models

import "time"

// NotificationKind identifies the reason a notification was produced.
// Kinds are qualified by enrollment type so a trial warning and a paid
// warning for the same class dedup independently.
type NotificationKind string

// Expiry notification kinds.
const (
	NotificationKindTrialExpiring3Days NotificationKind = "TRIAL_EXPIRING_3D"
	NotificationKindTrialExpiring24h   NotificationKind = "TRIAL_EXPIRING_24H"
	NotificationKindTrialExpired       NotificationKind = "TRIAL_EXPIRED"
	NotificationKindRealExpiring3Days  NotificationKind = "REAL_EXPIRING_3D"
	NotificationKindRealExpiring24h    NotificationKind = "REAL_EXPIRING_24H"
	NotificationKindRealExpired        NotificationKind = "REAL_EXPIRED"
)

// Notification is an append-only event delivered to a user's inbox.
// RelatedID references the class the event concerns.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	Kind      NotificationKind `db:"kind" json:"kind"`
	RelatedID string           `db:"related_id" json:"related_id"`
	Title     string           `db:"title" json:"title"`
	Message   string           `db:"message" json:"message"`
	Read      bool             `db:"read" json:"read"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// NotificationFilter selects notifications for listing.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Page       int
	PageSize   int
}
