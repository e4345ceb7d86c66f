package mailout

import "time"

// Metrics captures dispatcher-level telemetry.
type Metrics interface {
	// ObserveAttemptDuration records the time spent on one delivery attempt.
	ObserveAttemptDuration(duration time.Duration)
	// AddSent increments the count of delivered messages.
	AddSent(count int)
	// AddRetried increments the count of attempts scheduled for retry.
	AddRetried(count int)
	// AddFailed increments the count of permanently failed messages.
	AddFailed(count int)
	// SetQueueDepth updates the current number of claimable messages.
	SetQueueDepth(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveAttemptDuration implements Metrics.
func (NopMetrics) ObserveAttemptDuration(time.Duration) {}

// AddSent implements Metrics.
func (NopMetrics) AddSent(int) {}

// AddRetried implements Metrics.
func (NopMetrics) AddRetried(int) {}

// AddFailed implements Metrics.
func (NopMetrics) AddFailed(int) {}

// SetQueueDepth implements Metrics.
func (NopMetrics) SetQueueDepth(int) {}
