package pionprobe

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/rtcdiag/pkg/diag"
)

func TestCalculateMOS(t *testing.T) {
	tests := []struct {
		name    string
		rtt     time.Duration
		jitter  time.Duration
		lossPct float64
		want    float64
		quality diag.CallQuality
	}{
		{"ideal path", 0, 0, 0, 4.433, diag.CallQualityExcellent},
		{"long haul", 500 * time.Millisecond, 0, 0, 2.879, diag.CallQualityDegraded},
		{"loss beyond recovery", 0, 0, 50, 1.0, diag.CallQualityDegraded},
		{"unusable latency", 2 * time.Second, 0, 0, 1.0, diag.CallQualityDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mos := CalculateMOS(tt.rtt, tt.jitter, tt.lossPct)
			assert.InDelta(t, tt.want, mos, 0.01)
			assert.Equal(t, tt.quality, diag.QualityFromMOS(mos))
		})
	}
}

func TestCalculateMOS_Monotonic(t *testing.T) {
	prev := CalculateMOS(0, 0, 0)
	for rtt := 50 * time.Millisecond; rtt <= 900*time.Millisecond; rtt += 50 * time.Millisecond {
		mos := CalculateMOS(rtt, 5*time.Millisecond, 1)
		assert.LessOrEqual(t, mos, prev, "rtt=%v", rtt)
		prev = mos
	}
}

func TestNTPMiddle(t *testing.T) {
	at := time.Unix(1_700_000_000, int64(500*time.Millisecond))
	mid := ntpMiddle(at)

	// Lower 16 bits carry the fraction: half a second is 0x8000.
	assert.Equal(t, uint32(0x8000), mid&0xffff)
	assert.Equal(t, uint32((1_700_000_000+ntpEpochOffset)&0xffff), mid>>16)
}

func TestRoundTrip(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	rep := rtcp.ReceptionReport{
		LastSenderReport: ntpMiddle(at.Add(-300 * time.Millisecond)),
		Delay:            uint32(100 * 65536 / 1000),
	}
	rtt := roundTrip(rep, at)
	assert.InDelta(t, 200, float64(rtt)/float64(time.Millisecond), 1)

	t.Run("no sender report yet", func(t *testing.T) {
		assert.Zero(t, roundTrip(rtcp.ReceptionReport{Delay: 10}, at))
	})

	t.Run("delay exceeds elapsed time", func(t *testing.T) {
		rep := rtcp.ReceptionReport{
			LastSenderReport: ntpMiddle(at.Add(-10 * time.Millisecond)),
			Delay:            uint32(65536),
		}
		assert.Zero(t, roundTrip(rep, at))
	})
}

func TestSampleFromReport(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	rep := rtcp.ReceptionReport{
		FractionLost:     64,
		TotalLost:        12,
		Jitter:           800,
		LastSenderReport: ntpMiddle(at.Add(-150 * time.Millisecond)),
		Delay:            uint32(50 * 65536 / 1000),
	}

	s := sampleFromReport(rep, 8000, 250, at)
	assert.Equal(t, at, s.Timestamp)
	assert.Equal(t, 100*time.Millisecond, s.Jitter)
	assert.InDelta(t, 100, float64(s.RTT)/float64(time.Millisecond), 1)
	assert.Equal(t, uint64(250), s.PacketsSent)
	assert.Equal(t, uint32(12), s.PacketsLost)
	assert.InDelta(t, 25.0, s.PacketsLostFraction, 0.001)
	assert.InDelta(t, CalculateMOS(s.RTT, s.Jitter, s.PacketsLostFraction), s.MOS, 1e-9)

	t.Run("unknown clock rate", func(t *testing.T) {
		s := sampleFromReport(rep, 0, 0, at)
		assert.Zero(t, s.Jitter)
	})
}

func TestExceededThresholds(t *testing.T) {
	good := diag.Sample{RTT: 50 * time.Millisecond, Jitter: 5 * time.Millisecond, MOS: 4.4}
	for _, th := range exceededThresholds(good) {
		assert.False(t, th.exceeded, th.name)
	}

	bad := diag.Sample{
		RTT:                 600 * time.Millisecond,
		Jitter:              40 * time.Millisecond,
		PacketsLostFraction: 10,
		MOS:                 2.0,
	}
	var names []string
	for _, th := range exceededThresholds(bad) {
		if th.exceeded {
			names = append(names, th.name)
		}
	}
	assert.Equal(t, []string{WarningHighRTT, WarningHighJitter, WarningHighPacketLoss, WarningLowMOS}, names)

	t.Run("unknown MOS does not warn", func(t *testing.T) {
		for _, th := range exceededThresholds(diag.Sample{}) {
			assert.False(t, th.exceeded, th.name)
		}
	})
}

func TestSummarize(t *testing.T) {
	report := &diag.ConnectivityReport{
		Samples: []diag.Sample{
			// First report arrives before any sender report.
			{Jitter: 2 * time.Millisecond},
			{RTT: 40 * time.Millisecond, Jitter: 4 * time.Millisecond, MOS: 4.4},
			{RTT: 60 * time.Millisecond, Jitter: 6 * time.Millisecond, MOS: 4.2},
		},
	}
	summarize(report)

	assert.Equal(t, diag.Stats{Min: 40, Max: 60, Average: 50}, report.RTT)
	assert.Equal(t, diag.Stats{Min: 2, Max: 6, Average: 4}, report.Jitter)
	assert.InDelta(t, 4.3, report.MOS.Average, 1e-9)
	assert.Equal(t, diag.CallQualityExcellent, report.CallQuality)

	t.Run("no samples", func(t *testing.T) {
		empty := &diag.ConnectivityReport{}
		summarize(empty)
		require.Zero(t, empty.MOS)
		assert.Empty(t, empty.CallQuality)
	})
}
