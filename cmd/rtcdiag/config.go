package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"gopkg.in/yaml.v3"

	"github.com/thesyncim/rtcdiag/pkg/diag"
)

// Config is the on-disk configuration of a diagnostic run. Flags override
// individual fields.
type Config struct {
	Edge         string            `yaml:"edge"`
	Token        string            `yaml:"token"`
	SignalingURL string            `yaml:"signalingUrl"`
	ICEServers   []ICEServerConfig `yaml:"iceServers"`
	Codecs       []string          `yaml:"codecs"`
	CallDuration time.Duration     `yaml:"callDuration"`
	SkipBitrate  bool              `yaml:"skipBitrate"`
	LogLevel     string            `yaml:"logLevel"`
}

// ICEServerConfig is one STUN or TURN server entry.
type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Edge:         string(diag.EdgeRoaming),
		SignalingURL: "ws://localhost:8080/signal",
		ICEServers: []ICEServerConfig{
			{URLs: []string{"stun:global.stun.twilio.com:3478"}},
		},
		Codecs:       []string{string(diag.CodecOpus), string(diag.CodecPCMU)},
		CallDuration: 10 * time.Second,
		LogLevel:     "error",
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig. Unknown keys are an
// error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// plan is a validated Config.
type plan struct {
	edge         diag.Edge
	token        string
	signalingURL string
	iceServers   []webrtc.ICEServer
	codecs       []diag.Codec
	callDuration time.Duration
	skipBitrate  bool
	logLevel     logging.LogLevel
}

func (c Config) validate() (plan, error) {
	edge, err := diag.ParseEdge(c.Edge)
	if err != nil {
		return plan{}, err
	}
	if c.SignalingURL == "" {
		return plan{}, errors.New("signaling url is required")
	}
	if c.CallDuration <= 0 {
		return plan{}, fmt.Errorf("call duration must be positive, got %v", c.CallDuration)
	}

	p := plan{
		edge:         edge,
		token:        c.Token,
		signalingURL: c.SignalingURL,
		callDuration: c.CallDuration,
		skipBitrate:  c.SkipBitrate,
	}
	for _, name := range c.Codecs {
		codec, err := diag.ParseCodec(name)
		if err != nil {
			return plan{}, err
		}
		p.codecs = append(p.codecs, codec)
	}
	for i, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			return plan{}, fmt.Errorf("ice server %d has no urls", i)
		}
		p.iceServers = append(p.iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if p.logLevel, err = parseLogLevel(c.LogLevel); err != nil {
		return plan{}, err
	}
	return p, nil
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "", "error":
		return logging.LogLevelError, nil
	case "disabled":
		return logging.LogLevelDisabled, nil
	case "warn":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return logging.LogLevelDisabled, fmt.Errorf("unknown log level %q", s)
	}
}
