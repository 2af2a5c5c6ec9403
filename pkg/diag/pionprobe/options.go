package pionprobe

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

// Option configures the probes built by a factory.
type Option func(*config) error

type config struct {
	loggerFactory  logging.LoggerFactory
	callDuration   time.Duration
	sampleInterval time.Duration
	messageSize    int
	dialer         *websocket.Dialer
	now            func() time.Time
}

func defaultConfig() config {
	return config{
		callDuration:   10 * time.Second,
		sampleInterval: time.Second,
		messageSize:    1024,
		dialer:         websocket.DefaultDialer,
		now:            time.Now,
	}
}

func newConfig(opts []Option) (config, error) {
	c := defaultConfig()
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return config{}, err
		}
	}
	if c.loggerFactory == nil {
		f := logging.NewDefaultLoggerFactory()
		f.DefaultLogLevel = logging.LogLevelError
		c.loggerFactory = f
	}
	return c, nil
}

// WithLoggerFactory sets the logger factory shared by the probe and the
// Pion stack underneath it.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(c *config) error {
		c.loggerFactory = f
		return nil
	}
}

// WithCallDuration sets how long a connectivity test call stays up once
// connected.
// Default: 10 seconds
func WithCallDuration(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return errors.New("call duration must be positive")
		}
		c.callDuration = d
		return nil
	}
}

// WithSampleInterval sets how often the bitrate probe reports a value.
// Default: 1 second
func WithSampleInterval(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return errors.New("sample interval must be positive")
		}
		c.sampleInterval = d
		return nil
	}
}

// WithMessageSize sets the DataChannel message size used by the bitrate
// probe.
// Default: 1024 bytes
func WithMessageSize(n int) Option {
	return func(c *config) error {
		if n <= 0 || n > 65535 {
			return errors.New("message size must be in (0, 65535]")
		}
		c.messageSize = n
		return nil
	}
}

// WithDialer sets the WebSocket dialer used for signaling.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *config) error {
		if d == nil {
			return errors.New("dialer must not be nil")
		}
		c.dialer = d
		return nil
	}
}
