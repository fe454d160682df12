package retry

import (
	"testing"
	"time"

	"tinko-recovery/internal/models"
	"tinko-recovery/internal/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() *models.RetryPolicy {
	return &models.RetryPolicy{
		MaxRetries:          3,
		InitialDelayMinutes: 60,
		BackoffMultiplier:   2,
		MaxDelayMinutes:     1440,
	}
}

// ==========================
// Backoff Tests
// ==========================

func TestNextRetryAt_ExponentialGrowth(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	policy := testPolicy()

	tests := []struct {
		name         string
		attemptIndex int
		expectedMins int
	}{
		{name: "first retry uses initial delay", attemptIndex: 0, expectedMins: 60},
		{name: "second retry doubles", attemptIndex: 1, expectedMins: 120},
		{name: "third retry doubles again", attemptIndex: 2, expectedMins: 240},
		{name: "fourth retry", attemptIndex: 3, expectedMins: 480},
		{name: "capped at max delay", attemptIndex: 10, expectedMins: 1440},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRetryAt(policy, now, tt.attemptIndex)
			assert.Equal(t, now.Add(time.Duration(tt.expectedMins)*time.Minute), got)
		})
	}
}

func TestNextRetryAt_CapEqualsInitial(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	policy := &models.RetryPolicy{
		InitialDelayMinutes: 30,
		BackoffMultiplier:   3,
		MaxDelayMinutes:     30,
	}

	// Every attempt collapses onto the cap.
	for i := 0; i < 5; i++ {
		got := NextRetryAt(policy, now, i)
		assert.Equal(t, now.Add(30*time.Minute), got, "attempt %d", i)
	}
}

func TestNextRetryAt_MultiplierOne(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	policy := &models.RetryPolicy{
		InitialDelayMinutes: 15,
		BackoffMultiplier:   1,
		MaxDelayMinutes:     1440,
	}

	got := NextRetryAt(policy, now, 7)
	assert.Equal(t, now.Add(15*time.Minute), got)
}

// ==========================
// Smart Delay Tests
// ==========================

func TestSmartDelays_PassThrough(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		strategy   rules.ScheduleStrategy
		configured []int
		expected   []int
	}{
		{name: "network ladder kept", strategy: rules.StrategyNetworkRetry, configured: []int{0, 5}, expected: []int{0, 5}},
		{name: "poll ladder kept", strategy: rules.StrategyPoll, configured: []int{0, 2, 5}, expected: []int{0, 2, 5}},
		{name: "standard kept", strategy: rules.StrategyStandard, configured: []int{0}, expected: []int{0}},
		{name: "empty falls back to immediate", strategy: rules.StrategyStandard, configured: []int{}, expected: []int{0}},
		{name: "nil falls back to immediate", strategy: rules.StrategyPoll, configured: nil, expected: []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SmartDelays(tt.strategy, tt.configured, now))
		})
	}
}

func TestSmartDelays_Payday(t *testing.T) {
	tests := []struct {
		name     string
		now      time.Time
		expected time.Time
	}{
		{
			name:     "before the 5th targets the 5th",
			now:      time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC),
			expected: time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "between the 5th and 15th targets the 15th",
			now:      time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
			expected: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "after the 15th rolls to next month's 5th",
			now:      time.Date(2025, 3, 20, 8, 0, 0, 0, time.UTC),
			expected: time.Date(2025, 4, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "exactly midnight on the 5th targets the 15th",
			now:      time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
			expected: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "december rolls into january",
			now:      time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC),
			expected: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delays := SmartDelays(rules.StrategyPayday, nil, tt.now)
			require.Len(t, delays, 1)
			assert.Equal(t, int(tt.expected.Sub(tt.now).Minutes()), delays[0])
		})
	}
}

func TestSmartDelays_PaydayIsStrictlyFuture(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	delays := SmartDelays(rules.StrategyPayday, nil, now)
	require.Len(t, delays, 1)
	assert.Greater(t, delays[0], 0)
}
