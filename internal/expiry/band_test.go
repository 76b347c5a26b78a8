package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(t time.Time) *time.Time {
	return &t
}

func TestClassifyBands(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		expiresAt *time.Time
		want      Band
	}{
		{"nil expiry", nil, BandNotApplicable},
		{"expired one second ago", ts(now.Add(-time.Second)), BandExpired},
		{"expired long ago", ts(now.Add(-30 * 24 * time.Hour)), BandExpired},
		{"expires exactly now", ts(now), BandExpiring24h},
		{"expires in 2 hours", ts(now.Add(2 * time.Hour)), BandExpiring24h},
		{"expires exactly in 24h", ts(now.Add(Window24h)), BandExpiring24h},
		{"expires just past 24h", ts(now.Add(Window24h + time.Second)), BandExpiring3Days},
		{"expires in 50 hours", ts(now.Add(50 * time.Hour)), BandExpiring3Days},
		{"expires exactly in 72h", ts(now.Add(Window3Days)), BandExpiring3Days},
		{"expires just past 72h", ts(now.Add(Window3Days + time.Second)), BandActive},
		{"expires next month", ts(now.Add(30 * 24 * time.Hour)), BandActive},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(now, tc.expiresAt))
		})
	}
}

// Sweeping a dense range of expiry offsets, the precedence-ordered
// classifier must agree with the piecewise banding definition at every
// instant, including the window boundaries where naive independent
// interval checks would overlap.
func TestClassifySweepMatchesBandingRule(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for offset := -100 * time.Hour; offset <= 100*time.Hour; offset += 17 * time.Minute {
		expiresAt := now.Add(offset)
		got := Classify(now, &expiresAt)

		var want Band
		switch {
		case expiresAt.Before(now):
			want = BandExpired
		case !expiresAt.After(now.Add(Window24h)):
			want = BandExpiring24h
		case !expiresAt.After(now.Add(Window3Days)):
			want = BandExpiring3Days
		default:
			want = BandActive
		}
		require.Equalf(t, want, got, "offset %s", offset)
	}
}

func TestRemainders(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// Ceiling, not floor: any fraction of a unit counts as one more.
	assert.Equal(t, 3, DaysLeft(now, now.Add(50*time.Hour)))
	assert.Equal(t, 2, DaysLeft(now, now.Add(48*time.Hour)))
	assert.Equal(t, 3, DaysLeft(now, now.Add(48*time.Hour+time.Second)))
	assert.Equal(t, 1, DaysLeft(now, now.Add(time.Minute)))
	assert.Equal(t, 0, DaysLeft(now, now))

	assert.Equal(t, 2, HoursLeft(now, now.Add(2*time.Hour)))
	assert.Equal(t, 3, HoursLeft(now, now.Add(2*time.Hour+time.Minute)))
	assert.Equal(t, 1, HoursLeft(now, now.Add(time.Second)))
	assert.Equal(t, 0, HoursLeft(now, now.Add(-time.Hour)))
}

func TestBandString(t *testing.T) {
	assert.Equal(t, "expired", BandExpired.String())
	assert.Equal(t, "expiring_24h", BandExpiring24h.String())
	assert.Equal(t, "expiring_3d", BandExpiring3Days.String())
	assert.Equal(t, "active", BandActive.String())
	assert.Equal(t, "not_applicable", BandNotApplicable.String())
}
