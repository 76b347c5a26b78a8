package expiry

import (
	"fmt"
	"time"

	"github.com/vietlearn/class-access-api/internal/models"
)

// Dedup windows per warning band. A repeat notification of the same
// kind for the same class is suppressed while a previous one exists
// inside the window. Expired transitions need no window: once removed,
// the enrollment is no longer a candidate on the next pass.
const (
	dedupWindow3Days = 48 * time.Hour
	dedupWindow24h   = 24 * time.Hour
)

func dedupWindow(band Band) time.Duration {
	switch band {
	case BandExpiring3Days:
		return dedupWindow3Days
	case BandExpiring24h:
		return dedupWindow24h
	default:
		return 0
	}
}

// kindFor qualifies the notification kind by enrollment type so trial
// and paid warnings for the same class dedup independently.
func kindFor(t models.EnrollmentType, band Band) models.NotificationKind {
	trial := t == models.EnrollmentTypeTrial
	switch band {
	case BandExpiring3Days:
		if trial {
			return models.NotificationKindTrialExpiring3Days
		}
		return models.NotificationKindRealExpiring3Days
	case BandExpiring24h:
		if trial {
			return models.NotificationKindTrialExpiring24h
		}
		return models.NotificationKindRealExpiring24h
	case BandExpired:
		if trial {
			return models.NotificationKindTrialExpired
		}
		return models.NotificationKindRealExpired
	default:
		return ""
	}
}

// RemovalReason is the free-text reason written when an expired
// enrollment transitions to removed.
func RemovalReason(t models.EnrollmentType) string {
	return "Hết hạn " + t.Label()
}

func warning3DaysTitle(t models.EnrollmentType, daysLeft int) string {
	return fmt.Sprintf("Còn %d ngày %s", daysLeft, t.Label())
}

func warning3DaysMessage(daysLeft int) string {
	return fmt.Sprintf("Lớp học của bạn sẽ hết hạn trong %d ngày nữa. Hãy chuẩn bị gia hạn!", daysLeft)
}

func warning24hTitle(t models.EnrollmentType) string {
	return fmt.Sprintf("Sắp hết hạn %s!", t.Label())
}

func warning24hMessage(hoursLeft int) string {
	return fmt.Sprintf("Lớp học của bạn sẽ hết hạn trong %d giờ nữa. Hãy gia hạn ngay!", hoursLeft)
}

func expiredTitle(t models.EnrollmentType) string {
	return fmt.Sprintf("Hết hạn %s", t.Label())
}

func expiredMessage(t models.EnrollmentType) string {
	return fmt.Sprintf("Thời gian %s của bạn đã hết. Vui lòng đăng ký lại để tiếp tục học.", t.Label())
}
