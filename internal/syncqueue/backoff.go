package syncqueue

import (
	"math/rand"
	"time"
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

// retryDelay returns the wait before the next attempt: the base doubles per
// completed attempt up to max, then a ±10% jitter spreads retries so failed
// batches do not reconverge on the LMS at the same instant.
func retryDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = 2 * time.Minute
	}
	if max <= 0 {
		max = 32 * time.Minute
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}

	window := int64(delay / 10)
	if window <= 0 {
		return delay
	}
	jitter := time.Duration(jitterSource.Int63n(2*window+1) - window)
	return delay + jitter
}
