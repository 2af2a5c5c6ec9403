package diag

import (
	"github.com/pion/logging"

	"github.com/thesyncim/rtcdiag/pkg/diag/internal"
)

// Option configures a runner.
type Option func(*runnerConfig)

type runnerConfig struct {
	loggerFactory logging.LoggerFactory
	clock         internal.Clock
}

// WithLoggerFactory sets the factory runners obtain their loggers from.
// Default: a pion DefaultLoggerFactory logging errors only.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(c *runnerConfig) {
		c.loggerFactory = f
	}
}

// withClock replaces the clock used for the bitrate test deadline.
func withClock(clock internal.Clock) Option {
	return func(c *runnerConfig) {
		c.clock = clock
	}
}

func newRunnerConfig(opts []Option) runnerConfig {
	c := runnerConfig{}
	for _, opt := range opts {
		opt(&c)
	}
	if c.loggerFactory == nil {
		f := logging.NewDefaultLoggerFactory()
		f.DefaultLogLevel = logging.LogLevelError
		c.loggerFactory = f
	}
	if c.clock == nil {
		c.clock = internal.MonotonicClock{}
	}
	return c
}
