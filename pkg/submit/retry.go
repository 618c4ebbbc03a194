package submit

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy bounds how long and how eagerly a submission polls the log.
// The zero value is not usable; use DefaultRetryPolicy as a starting point.
type RetryPolicy struct {
	MaxAttempts int           // max poll rounds before giving up
	BaseDelay   time.Duration // delay before the first poll
	Multiplier  float64       // backoff growth per round
	MaxDelay    time.Duration // cap on a single delay
	Jitter      float64       // fraction of the delay randomized, [0,1]
	Deadline    time.Duration // absolute budget for the whole submission
}

// DefaultRetryPolicy matches a log that merges queued leaves within a few
// seconds.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 10,
	BaseDelay:   1 * time.Second,
	Multiplier:  2,
	MaxDelay:    10 * time.Second,
	Jitter:      0.1,
	Deadline:    30 * time.Second,
}

// delay returns the backoff delay for the given zero-based poll round
func (p *RetryPolicy) delay(round int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < round; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
			break
		}
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// wait blocks for the round's backoff delay or until the context is done, in
// which case it reports false.  This is the submission's only suspension
// point besides the network calls themselves.
func (p *RetryPolicy) wait(ctx context.Context, round int) bool {
	timer := time.NewTimer(p.delay(round))
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
