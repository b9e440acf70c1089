package scheduler

import (
	"math/rand"
	"time"
)

// backoffDelay computes the delay before retry number attempt (0-based):
// base doubled per attempt, capped at max, with up to 25% random jitter so
// a burst of failures against one provider does not retry in lockstep.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30 // avoid shift overflow, the cap applies anyway
	}

	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
