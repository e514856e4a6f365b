package deadline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/realty-crm/internal/model"
)

func TestClassifyBoundaries(t *testing.T) {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		due  time.Time
		want model.Tier
	}{
		{"one second past due", now.Add(-time.Second), model.TierOverdue},
		{"due exactly now", now, model.TierUrgent},
		{"due in 20 hours", now.Add(20 * time.Hour), model.TierUrgent},
		{"exactly 24h is upcoming", now.Add(24 * time.Hour), model.TierUpcoming},
		{"just under 24h is urgent", now.Add(24*time.Hour - time.Second), model.TierUrgent},
		{"due in 48 hours", now.Add(48 * time.Hour), model.TierUpcoming},
		{"exactly 72h is normal", now.Add(72 * time.Hour), model.TierNormal},
		{"just under 72h is upcoming", now.Add(72*time.Hour - time.Second), model.TierUpcoming},
		{"due next month", now.AddDate(0, 1, 0), model.TierNormal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.due, now))
		})
	}
}

func TestClassifyMonotonicAsNowAdvances(t *testing.T) {
	due := time.Date(2025, time.June, 5, 9, 0, 0, 0, time.UTC)

	prev := -1
	for now := due.Add(-100 * time.Hour); now.Before(due.Add(10 * time.Hour)); now = now.Add(30 * time.Minute) {
		tier := Classify(due, now)
		assert.GreaterOrEqual(t, tier.Rank(), prev, "urgency must never decrease as now advances (now=%s)", now)
		prev = tier.Rank()
	}
	assert.Equal(t, model.TierOverdue.Rank(), prev)
}

func TestTierOrdering(t *testing.T) {
	urgent := model.TierUrgent

	assert.True(t, model.TierOverdue.MoreUrgentThan(&urgent))
	assert.False(t, model.TierUrgent.MoreUrgentThan(&urgent))
	assert.False(t, model.TierUpcoming.MoreUrgentThan(&urgent))
	assert.True(t, model.TierUpcoming.MoreUrgentThan(nil))
	assert.False(t, model.TierNormal.MoreUrgentThan(nil), "Normal never triggers a notification")
}
