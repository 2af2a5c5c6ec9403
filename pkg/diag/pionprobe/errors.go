package pionprobe

import "errors"

var (
	// ErrSignalingTimeout is reported when signaling does not complete
	// within the configured timeout.
	ErrSignalingTimeout = errors.New("signaling timed out")

	// ErrSignalingRejected is reported when the endpoint refuses the call.
	ErrSignalingRejected = errors.New("signaling rejected")

	// ErrSignalingClosed is reported when the signaling connection drops
	// during a call.
	ErrSignalingClosed = errors.New("signaling connection closed")

	// ErrICEFailed is reported when no ICE candidate pair could connect.
	ErrICEFailed = errors.New("ice connection failed")

	// ErrNoBitrateData is reported when a bitrate test stops before any
	// measurement was taken.
	ErrNoBitrateData = errors.New("no bitrate data collected")

	// ErrMicrophoneUnavailable is returned when a connectivity test is
	// requested without the synthetic microphone.
	ErrMicrophoneUnavailable = errors.New("no audio input available; enable fake mic input")

	errAlreadyStarted = errors.New("probe already started")
	errStopped        = errors.New("probe already stopped")
)
