package expiry

import "time"

// Band is the classifier's bucket for how close an enrollment is to
// expiry at a given instant.
type Band int

// Bands ordered by precedence. Classify evaluates them top to bottom,
// so each instant maps to exactly one band even at window boundaries.
const (
	BandNotApplicable Band = iota
	BandExpired
	BandExpiring24h
	BandExpiring3Days
	BandActive
)

// Warning window widths measured from now.
const (
	Window24h   = 24 * time.Hour
	Window3Days = 72 * time.Hour
)

// String implements fmt.Stringer for logging.
func (b Band) String() string {
	switch b {
	case BandNotApplicable:
		return "not_applicable"
	case BandExpired:
		return "expired"
	case BandExpiring24h:
		return "expiring_24h"
	case BandExpiring3Days:
		return "expiring_3d"
	case BandActive:
		return "active"
	default:
		return "unknown"
	}
}

// Classify maps an enrollment expiry instant to its band. A nil
// expiresAt means the enrollment never expires. The intervals are
// half-open with first-match-wins precedence: an enrollment exactly 24
// hours from expiry lands in the 24h band only, never both warning
// bands.
func Classify(now time.Time, expiresAt *time.Time) Band {
	if expiresAt == nil {
		return BandNotApplicable
	}
	switch {
	case expiresAt.Before(now):
		return BandExpired
	case !expiresAt.After(now.Add(Window24h)):
		return BandExpiring24h
	case !expiresAt.After(now.Add(Window3Days)):
		return BandExpiring3Days
	default:
		return BandActive
	}
}

// DaysLeft returns the remaining time until expiry in whole days,
// rounded up. The ceiling matters: 2 days and 1 second reads as "3
// ngày" in the warning message.
func DaysLeft(now, expiresAt time.Time) int {
	return ceilDiv(expiresAt.Sub(now), 24*time.Hour)
}

// HoursLeft returns the remaining time until expiry in whole hours,
// rounded up.
func HoursLeft(now, expiresAt time.Time) int {
	return ceilDiv(expiresAt.Sub(now), time.Hour)
}

func ceilDiv(d, unit time.Duration) int {
	if d <= 0 {
		return 0
	}
	n := d / unit
	if d%unit != 0 {
		n++
	}
	return int(n)
}
