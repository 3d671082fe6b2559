package errors

import (
	"math"
	"time"
)

// ExponentialBackoff returns the delay before retry number attempt (1-based):
// baseDelay * 2^(attempt-1), capped at maxDelay when maxDelay is positive.
func ExponentialBackoff(attempt int, baseDelay time.Duration, maxDelay time.Duration) time.Duration {
	if attempt <= 0 {
		return baseDelay
	}

	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

// BackoffSchedule lists the delays that precede each of maxRetries retries.
func BackoffSchedule(maxRetries int, baseDelay, maxDelay time.Duration) []time.Duration {
	schedule := make([]time.Duration, 0, maxRetries)
	for attempt := 1; attempt <= maxRetries; attempt++ {
		schedule = append(schedule, ExponentialBackoff(attempt, baseDelay, maxDelay))
	}
	return schedule
}
