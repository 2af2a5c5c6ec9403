package pionprobe

import (
	"math"
	"time"

	"github.com/pion/rtcp"

	"github.com/thesyncim/rtcdiag/pkg/diag"
)

// Warning names raised by the connectivity probe.
const (
	WarningHighRTT        = "high-rtt"
	WarningHighJitter     = "high-jitter"
	WarningHighPacketLoss = "high-packet-loss"
	WarningLowMOS         = "low-mos"
)

// Thresholds above which a sample raises a warning.
const (
	maxRTT           = 400 * time.Millisecond
	maxJitter        = 30 * time.Millisecond
	maxPacketLossPct = 3.0
	minMOS           = 3.5
)

// ntpEpochOffset is the number of seconds between 1900-01-01 and 1970-01-01.
const ntpEpochOffset = 2208988800

// ntpMiddle returns the middle 32 bits of the NTP timestamp for t, the
// format used by the LSR field of RTCP reception reports.
func ntpMiddle(t time.Time) uint32 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return uint32(secs&0xffff)<<16 | uint32(frac>>16)
}

// roundTrip computes the RTT from a reception report received at. It returns
// zero when the remote has not yet seen a sender report.
func roundTrip(rep rtcp.ReceptionReport, at time.Time) time.Duration {
	if rep.LastSenderReport == 0 {
		return 0
	}
	delta := ntpMiddle(at) - rep.LastSenderReport - rep.Delay
	if delta > math.MaxInt32 {
		// Clock skew made the delta wrap; no usable measurement.
		return 0
	}
	return time.Duration(uint64(delta) * uint64(time.Second) >> 16)
}

// sampleFromReport turns a reception report about our stream into a Sample.
func sampleFromReport(rep rtcp.ReceptionReport, clockRate uint32, sent uint64, at time.Time) diag.Sample {
	var jitter time.Duration
	if clockRate > 0 {
		jitter = time.Duration(uint64(rep.Jitter) * uint64(time.Second) / uint64(clockRate))
	}
	s := diag.Sample{
		Timestamp:           at,
		RTT:                 roundTrip(rep, at),
		Jitter:              jitter,
		PacketsSent:         sent,
		PacketsLost:         rep.TotalLost,
		PacketsLostFraction: float64(rep.FractionLost) * 100 / 256,
	}
	s.MOS = CalculateMOS(s.RTT, s.Jitter, s.PacketsLostFraction)
	return s
}

// r0 is the base R-factor of the E-model.
const r0 = 94.768

// CalculateMOS estimates the mean opinion score of a call from its RTT,
// jitter and packet loss percentage using a simplified E-model.
func CalculateMOS(rtt, jitter time.Duration, lossPct float64) float64 {
	rttMs := float64(rtt) / float64(time.Millisecond)
	jitterMs := float64(jitter) / float64(time.Millisecond)
	effectiveLatency := rttMs + jitterMs*2 + 10

	var r float64
	switch {
	case effectiveLatency < 160:
		r = r0 - effectiveLatency/40
	case effectiveLatency < 1000:
		r = r0 - (effectiveLatency-120)/10
	}

	if lossPct <= r/2.5 {
		r = math.Max(r-lossPct*2.5, 6.52)
	} else {
		r = 0
	}

	return 1 + 0.035*r + 0.000007*r*(r-60)*(100-r)
}

// threshold is one warning condition evaluated against a sample.
type threshold struct {
	name     string
	exceeded bool
}

// exceededThresholds evaluates every warning condition for s, in a fixed
// order.
func exceededThresholds(s diag.Sample) []threshold {
	return []threshold{
		{WarningHighRTT, s.RTT > maxRTT},
		{WarningHighJitter, s.Jitter > maxJitter},
		{WarningHighPacketLoss, s.PacketsLostFraction > maxPacketLossPct},
		{WarningLowMOS, s.MOS > 0 && s.MOS < minMOS},
	}
}

// summarize fills the RTT, jitter, MOS and quality fields of report from
// its samples. Samples without an RTT measurement are left out of the RTT
// and MOS series.
func summarize(report *diag.ConnectivityReport) {
	var rtts, jitters, moses []float64
	for _, s := range report.Samples {
		jitters = append(jitters, float64(s.Jitter)/float64(time.Millisecond))
		if s.RTT > 0 {
			rtts = append(rtts, float64(s.RTT)/float64(time.Millisecond))
			moses = append(moses, s.MOS)
		}
	}
	report.RTT = diag.SummarizeStats(rtts)
	report.Jitter = diag.SummarizeStats(jitters)
	report.MOS = diag.SummarizeStats(moses)
	if len(moses) > 0 {
		report.CallQuality = diag.QualityFromMOS(report.MOS.Average)
	}
}
