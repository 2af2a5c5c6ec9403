package diag

import (
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	// SignalingTimeout bounds how long the connectivity probe waits for
	// signaling to complete.
	SignalingTimeout = 10 * time.Second

	// BitrateTestDuration is how long the bitrate probe runs before the
	// runner stops it.
	BitrateTestDuration = 15 * time.Second
)

// ConnectivityOptions configures a connectivity probe.
type ConnectivityOptions struct {
	// Edge is the edge the test call is placed through.
	Edge Edge

	// ICEServers are the already regionalized STUN/TURN servers.
	ICEServers []webrtc.ICEServer

	// CodecPreferences lists acceptable codecs, most preferred first.
	CodecPreferences []Codec

	// Debug enables verbose tracing inside the probe.
	Debug bool

	// SignalingTimeout bounds signaling setup.
	SignalingTimeout time.Duration

	// FakeMicInput replaces the microphone with a synthetic audio source.
	FakeMicInput bool
}

// ConnectivityProbe places a test call and reports its progress through
// event handlers. Handlers must be registered before Start. A probe emits at
// most one of Completed or Failed.
type ConnectivityProbe interface {
	// OnCompleted sets the handler called with the final report.
	OnCompleted(func(*ConnectivityReport))

	// OnConnected sets the handler called once the call is connected.
	OnConnected(func())

	// OnSample sets the handler called for each telemetry sample.
	OnSample(func(Sample))

	// OnFailed sets the handler called when the test fails.
	OnFailed(func(error))

	// OnWarning sets the handler called for non-fatal conditions.
	OnWarning(func(name string, data any))

	// Start begins the test. It must not block on the test itself.
	Start() error
}

// ConnectivityProbeFactory constructs a connectivity probe for token.
type ConnectivityProbeFactory func(token string, opts ConnectivityOptions) (ConnectivityProbe, error)

// BitrateOptions configures a bitrate probe.
type BitrateOptions struct {
	// ICEServers are the already regionalized STUN/TURN servers.
	ICEServers []webrtc.ICEServer
}

// BitrateProbe measures transport capacity and reports through event
// handlers. Handlers must be registered before Start. A probe emits at most
// one of End or Error.
type BitrateProbe interface {
	// OnBitrate sets the handler called with each measurement in bits per second.
	OnBitrate(func(bps float64))

	// OnError sets the handler called when the test fails.
	OnError(func(error))

	// OnEnd sets the handler called with the final report.
	OnEnd(func(*BitrateReport))

	// Start begins the test. It must not block on the test itself.
	Start() error

	// Stop ends the test. It may be called any number of times, including
	// after the probe has already terminated.
	Stop()
}

// BitrateProbeFactory constructs a bitrate probe.
type BitrateProbeFactory func(opts BitrateOptions) (BitrateProbe, error)
