package mailout

import "time"

const (
	defaultBaseDelay   = 30 * time.Second
	defaultMaxDelay    = 30 * time.Minute
	defaultMaxAttempts = 5
)

// RetryPolicy computes retry schedules for failed delivery attempts.
// NextAttempt is a pure function of (attempt, policy, now): given the same
// inputs and Rand source it always returns the same schedule.
type RetryPolicy struct {
	// BaseDelay is the delay after the first failed attempt.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
	// MaxAttempts bounds the total number of delivery attempts.
	MaxAttempts int
	// Jitter is the maximum random addition to a computed delay. Zero keeps
	// the schedule fully deterministic.
	Jitter time.Duration
	// Rand yields values in [0, 1) for jitter. Nil disables jitter.
	Rand func() float64
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}

	return p
}

// NextAttempt schedules the retry after failed attempt n (1-based). It
// returns ok=false when the retry budget is exhausted (n >= MaxAttempts) and
// the message must fail terminally. Otherwise it returns
// now + BaseDelay*2^(n-1), capped at MaxDelay, plus bounded jitter.
func (p RetryPolicy) NextAttempt(n int, now time.Time) (time.Time, bool) {
	p = p.withDefaults()

	if n >= p.MaxAttempts {
		return time.Time{}, false
	}

	delay := p.BaseDelay
	for i := 1; i < n; i++ {
		// Doubling past MaxDelay/2 would hit the cap anyway, and doubling
		// unchecked can overflow time.Duration for very large caps.
		if delay > p.MaxDelay/2 {
			delay = p.MaxDelay
			break
		}
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter > 0 && p.Rand != nil {
		delay += time.Duration(p.Rand() * float64(p.Jitter))
	}

	return now.Add(delay), true
}
