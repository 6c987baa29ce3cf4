package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Config groups the runner tunables. The service config loads it from
// environment variables with the prefix "EMBER_JOBS_", e.g. EMBER_JOBS_WORKERS=8.
type Config struct {
	// Workers is the number of shards, and so the maximum number of captures
	// processed at once.
	Workers        int           `envconfig:"WORKERS"         default:"4"`
	QueueSize      int           `envconfig:"QUEUE_SIZE"      default:"128"`
	EnqueueTimeout time.Duration `envconfig:"ENQUEUE_TIMEOUT" default:"100ms"`

	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"4"`
	BaseBackoff time.Duration `envconfig:"BASE_BACKOFF" default:"1s"`
	MaxInterval time.Duration `envconfig:"MAX_INTERVAL" default:"30s"`

	// ErrorHandler is called synchronously with the final error of a job
	// that did not succeed. Leave nil if you do not care.
	ErrorHandler func(key string, err error) `ignored:"true"`

	// OnExhausted is called after a job used up MaxAttempts on recoverable
	// errors, after the job's own Exhausted hook if it has one.
	OnExhausted func(ctx context.Context, key string, err error) `ignored:"true"`

	// Admission gates new submissions per key. Nil admits everything.
	Admission Admission `ignored:"true"`

	Logger zerolog.Logger `ignored:"true"`
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 100 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
}
