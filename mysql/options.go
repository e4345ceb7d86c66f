package mysql

import "github.com/velmie/mailout"

const (
	defaultPrefix      = "email"
	defaultMaxAttempts = 5
)

// Config defines MySQL store behavior.
type Config struct {
	// Prefix names the three tables: <prefix>_templates, <prefix>_outbox,
	// <prefix>_log. Use schema.prefix for a non-default schema.
	Prefix string
	// MaxAttempts bounds attempts consumed by expired-lease requeues; it
	// should match the dispatcher's retry policy.
	MaxAttempts int
	Clock       mailout.Clock
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.Clock == nil {
		c.Clock = mailout.SystemClock{}
	}

	return c
}

// Option configures the MySQL store.
type Option func(*Config)

// WithPrefix sets the table name prefix.
func WithPrefix(prefix string) Option {
	return func(c *Config) {
		c.Prefix = prefix
	}
}

// WithMaxAttempts sets the attempt budget applied to lease-expiry requeues.
func WithMaxAttempts(max int) Option {
	return func(c *Config) {
		c.MaxAttempts = max
	}
}

// WithClock sets the store clock.
func WithClock(clock mailout.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}
