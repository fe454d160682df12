// internal/retry/schedule.go
package retry

import (
	"time"

	"tinko-recovery/internal/models"
	"tinko-recovery/internal/rules"
)

// NextRetryAt computes the next retry timestamp for a recovery attempt
// using exponential backoff with a hard cap. attemptIndex is 0-based
// (0 = first retry). No jitter: attempts created in the same instant retry
// in lockstep.
func NextRetryAt(policy *models.RetryPolicy, now time.Time, attemptIndex int) time.Time {
	delay := policy.InitialDelayMinutes
	for i := 0; i < attemptIndex; i++ {
		delay *= policy.BackoffMultiplier
		if delay >= policy.MaxDelayMinutes {
			delay = policy.MaxDelayMinutes
			break
		}
	}
	if delay > policy.MaxDelayMinutes {
		delay = policy.MaxDelayMinutes
	}
	return now.Add(time.Duration(delay) * time.Minute)
}

// SmartDelays turns a schedule strategy into concrete minute offsets from
// now. The result is never empty.
func SmartDelays(strategy rules.ScheduleStrategy, configured []int, now time.Time) []int {
	if strategy == rules.StrategyPayday {
		return []int{minutesUntilNextPayday(now)}
	}
	if len(configured) == 0 {
		return []int{0}
	}
	return configured
}

// minutesUntilNextPayday finds the first strictly-future 5th or 15th of the
// current or next month. Candidates are evaluated chronologically.
func minutesUntilNextPayday(now time.Time) int {
	year, month, _ := now.Date()

	candidates := []time.Time{
		time.Date(year, month, 5, 0, 0, 0, 0, now.Location()),
		time.Date(year, month, 15, 0, 0, 0, 0, now.Location()),
	}

	nextMonth := time.Date(year, month, 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
	candidates = append(candidates,
		time.Date(nextMonth.Year(), nextMonth.Month(), 5, 0, 0, 0, 0, now.Location()),
		time.Date(nextMonth.Year(), nextMonth.Month(), 15, 0, 0, 0, 0, now.Location()),
	)

	for _, cand := range candidates {
		if cand.After(now) {
			return int(cand.Sub(now).Minutes())
		}
	}

	// Unreachable: the next month's 5th is always in the future.
	return 24 * 60
}
