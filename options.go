package mailout

import "time"

const (
	defaultPollInterval  = 50 * time.Millisecond
	defaultWorkers       = 1
	defaultLeaseDuration = 1 * time.Minute
	defaultDepthCheck    = 0
)

// DispatcherConfig defines how the Dispatcher claims and processes messages.
type DispatcherConfig struct {
	Workers           int
	PollInterval      time.Duration
	LeaseDuration     time.Duration
	ClaimTimeout      time.Duration
	SendTimeout       time.Duration
	RetryPolicy       RetryPolicy
	Clock             Clock
	ErrorHandler      FailureHandler
	Logger            Logger
	Metrics           Metrics
	FailureClassifier FailureClassifier
	DepthInterval     time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = defaultLeaseDuration
	}
	c.RetryPolicy = c.RetryPolicy.withDefaults()
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.FailureClassifier == nil {
		c.FailureClassifier = defaultFailureClassifier
	}
	if c.DepthInterval <= 0 {
		c.DepthInterval = defaultDepthCheck
	}

	return c
}

// DispatcherOption configures Dispatcher behavior.
type DispatcherOption func(*DispatcherConfig)

// WithWorkers sets the number of concurrent claiming workers.
func WithWorkers(count int) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Workers = count
	}
}

// WithPollInterval sets the delay between empty claim attempts.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.PollInterval = interval
	}
}

// WithLeaseDuration sets how long a claim stays exclusive before the message
// becomes reclaimable.
func WithLeaseDuration(lease time.Duration) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.LeaseDuration = lease
	}
}

// WithClaimTimeout bounds a single claim attempt against the store.
func WithClaimTimeout(timeout time.Duration) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.ClaimTimeout = timeout
	}
}

// WithSendTimeout bounds a single transport attempt; expiry is treated as a
// transient failure.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.SendTimeout = timeout
	}
}

// WithRetryPolicy sets the backoff schedule for transient failures.
func WithRetryPolicy(policy RetryPolicy) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.RetryPolicy = policy
	}
}

// WithClock sets the Dispatcher clock.
func WithClock(clock Clock) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Clock = clock
	}
}

// WithErrorHandler registers a callback for delivery failures.
func WithErrorHandler(handler FailureHandler) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.ErrorHandler = handler
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger Logger) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the dispatcher metrics recorder.
func WithMetrics(metrics Metrics) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Metrics = metrics
	}
}

// WithFailureClassifier overrides the retry/permanent decision for delivery
// failures.
func WithFailureClassifier(classifier FailureClassifier) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.FailureClassifier = classifier
	}
}

// WithDepthInterval sets the minimum interval between queue depth samples.
// Use a positive value to enable sampling or zero to keep it disabled.
// The default is disabled.
func WithDepthInterval(interval time.Duration) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.DepthInterval = interval
	}
}
