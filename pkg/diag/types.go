package diag

import (
	"fmt"
	"strings"
	"time"
)

// Codec is an audio codec the connectivity test may negotiate.
type Codec string

const (
	// CodecPCMU is G.711 mu-law, 8 kHz.
	CodecPCMU Codec = "pcmu"
	// CodecOpus is Opus, 48 kHz.
	CodecOpus Codec = "opus"
)

// ParseCodec resolves a codec name, ignoring case.
func ParseCodec(s string) (Codec, error) {
	switch c := Codec(strings.ToLower(strings.TrimSpace(s))); c {
	case CodecPCMU, CodecOpus:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCodec, s)
	}
}

// Sample is one periodic telemetry snapshot taken during a connectivity test.
type Sample struct {
	// Timestamp is when the snapshot was taken.
	Timestamp time.Time `json:"timestamp"`

	// RTT is the round-trip time of the media path.
	RTT time.Duration `json:"rtt"`

	// Jitter is the interarrival jitter reported by the remote receiver.
	Jitter time.Duration `json:"jitter"`

	// PacketsSent is the cumulative number of media packets sent.
	PacketsSent uint64 `json:"packetsSent"`

	// PacketsLost is the cumulative number of packets the remote reported lost.
	PacketsLost uint32 `json:"packetsLost"`

	// PacketsLostFraction is the loss over the last report interval, in percent.
	PacketsLostFraction float64 `json:"packetsLostFraction"`

	// MOS is the estimated mean opinion score (1.0-4.5). Zero when unknown.
	MOS float64 `json:"mos"`
}

// CallQuality grades a call by its average MOS.
type CallQuality string

const (
	CallQualityExcellent CallQuality = "excellent"
	CallQualityGreat     CallQuality = "great"
	CallQualityGood      CallQuality = "good"
	CallQualityFair      CallQuality = "fair"
	CallQualityDegraded  CallQuality = "degraded"
)

// QualityFromMOS maps an average MOS to a call quality grade.
func QualityFromMOS(mos float64) CallQuality {
	switch {
	case mos > 4.2:
		return CallQualityExcellent
	case mos >= 4.1:
		return CallQualityGreat
	case mos >= 3.7:
		return CallQualityGood
	case mos >= 3.1:
		return CallQualityFair
	default:
		return CallQualityDegraded
	}
}

// Stats summarizes a series of values.
type Stats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
}

// SummarizeStats computes min, max and average over values.
// It returns the zero Stats for an empty series.
func SummarizeStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	s := Stats{Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += v
	}
	s.Average = sum / float64(len(values))
	return s
}

// Warning is a non-fatal condition raised by a probe.
type Warning struct {
	Name      string    `json:"name"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TimeMeasurement records when a phase started and how long it took.
type TimeMeasurement struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// NewTimeMeasurement builds a measurement from a start and end time.
func NewTimeMeasurement(start, end time.Time) TimeMeasurement {
	return TimeMeasurement{Start: start, End: end, Duration: end.Sub(start)}
}

// NetworkTiming breaks down connection setup.
type NetworkTiming struct {
	Signaling      TimeMeasurement `json:"signaling"`
	ICE            TimeMeasurement `json:"ice"`
	PeerConnection TimeMeasurement `json:"peerConnection"`
}

// CandidatePair describes the ICE candidate pair carrying media.
type CandidatePair struct {
	LocalType  string `json:"localType"`
	LocalAddr  string `json:"localAddress"`
	RemoteType string `json:"remoteType"`
	RemoteAddr string `json:"remoteAddress"`
	Protocol   string `json:"protocol"`
}

// ConnectivityReport is the result of a completed connectivity test.
type ConnectivityReport struct {
	CallID         string          `json:"callId"`
	Edge           Edge            `json:"edge"`
	Codec          Codec           `json:"codec"`
	IsTURNRequired bool            `json:"isTurnRequired"`
	SelectedPair   *CandidatePair  `json:"selectedIceCandidatePair,omitempty"`
	CallQuality    CallQuality     `json:"callQuality,omitempty"`
	NetworkTiming  NetworkTiming   `json:"networkTiming"`
	RTT            Stats           `json:"rtt"`
	Jitter         Stats           `json:"jitter"`
	MOS            Stats           `json:"mos"`
	Samples        []Sample        `json:"samples"`
	Warnings       []Warning       `json:"warnings"`
	TestTiming     TimeMeasurement `json:"testTiming"`
}

// BitrateReport is the result of a completed bitrate test.
type BitrateReport struct {
	// AverageBitrate is the mean of Values in bits per second.
	AverageBitrate float64 `json:"averageBitrate"`

	// Values holds one measurement per second, in bits per second.
	Values []float64 `json:"values"`

	IsTURNRequired bool            `json:"isTurnRequired"`
	SelectedPair   *CandidatePair  `json:"selectedIceCandidatePair,omitempty"`
	TestTiming     TimeMeasurement `json:"testTiming"`
}
