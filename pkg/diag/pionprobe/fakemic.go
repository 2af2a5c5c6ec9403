package pionprobe

import (
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/thesyncim/rtcdiag/pkg/diag"
)

const (
	frameDuration = 20 * time.Millisecond
	toneFrequency = 440.0 // Hz
	toneAmplitude = 8000.0
	pcmuRate      = 8000
)

// opusSilence is a single 20 ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// fakeMic is a local audio track that feeds a synthetic signal so a test
// call can run without a capture device: a 440 Hz tone for PCMU, silence
// frames for Opus.
//
// It binds to the first negotiated codec it can produce, so the remote's
// choice among the offered codecs decides what is sent.
type fakeMic struct {
	tone toneSource
	sent atomic.Uint64

	mu      sync.Mutex
	binding *micBinding

	// Owned by the goroutine calling writeFrame.
	seq uint16
	ts  uint32
}

// micBinding is the negotiated output of the track.
type micBinding struct {
	id     string
	codec  diag.Codec
	params webrtc.RTPCodecParameters
	ssrc   uint32
	out    webrtc.TrackLocalWriter
}

func newFakeMic() *fakeMic {
	return &fakeMic{
		tone: toneSource{frequency: toneFrequency, rate: pcmuRate},
	}
}

// codecForMime maps a negotiated MIME type to a codec the mic can produce.
func codecForMime(mime string) (diag.Codec, bool) {
	switch {
	case strings.EqualFold(mime, webrtc.MimeTypePCMU):
		return diag.CodecPCMU, true
	case strings.EqualFold(mime, webrtc.MimeTypeOpus):
		return diag.CodecOpus, true
	default:
		return "", false
	}
}

// Bind is called by the RTPSender once the remote description is applied.
func (m *fakeMic) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	for _, params := range ctx.CodecParameters() {
		codec, ok := codecForMime(params.MimeType)
		if !ok {
			continue
		}
		m.mu.Lock()
		m.binding = &micBinding{
			id:     ctx.ID(),
			codec:  codec,
			params: params,
			ssrc:   uint32(ctx.SSRC()),
			out:    ctx.WriteStream(),
		}
		m.mu.Unlock()
		return params, nil
	}
	return webrtc.RTPCodecParameters{}, webrtc.ErrUnsupportedCodec
}

// Unbind drops the binding for ctx.
func (m *fakeMic) Unbind(ctx webrtc.TrackLocalContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.binding != nil && m.binding.id == ctx.ID() {
		m.binding = nil
	}
	return nil
}

func (m *fakeMic) ID() string                { return "audio" }
func (m *fakeMic) RID() string               { return "" }
func (m *fakeMic) StreamID() string          { return "rtcdiag-fake-mic" }
func (m *fakeMic) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }

// Negotiated returns the bound codec and its clock rate.
func (m *fakeMic) Negotiated() (diag.Codec, uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.binding == nil {
		return "", 0, false
	}
	return m.binding.codec, m.binding.params.ClockRate, true
}

// writeFrame sends the next 20 ms frame. It reports false while unbound or
// if the write failed.
func (m *fakeMic) writeFrame() bool {
	m.mu.Lock()
	b := m.binding
	m.mu.Unlock()
	if b == nil {
		return false
	}

	var payload []byte
	if b.codec == diag.CodecOpus {
		payload = opusSilence
	} else {
		payload = m.tone.pcmuFrame(pcmuRate * int(frameDuration/time.Millisecond) / 1000)
	}

	hdr := &rtp.Header{
		Version:        2,
		PayloadType:    uint8(b.params.PayloadType),
		SequenceNumber: m.seq,
		Timestamp:      m.ts,
		SSRC:           b.ssrc,
	}
	m.seq++
	m.ts += b.params.ClockRate * uint32(frameDuration/time.Millisecond) / 1000
	if _, err := b.out.WriteRTP(hdr, payload); err != nil {
		return false
	}
	m.sent.Add(1)
	return true
}

// run writes frames in real time until stop is closed.
func (m *fakeMic) run(stop <-chan struct{}) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.writeFrame()
		}
	}
}

// Sent returns the number of frames written.
func (m *fakeMic) Sent() uint64 {
	return m.sent.Load()
}

// toneSource generates a continuous sine wave.
type toneSource struct {
	frequency float64
	rate      int
	phase     float64
}

// pcmuFrame returns n mu-law encoded samples of the tone.
func (t *toneSource) pcmuFrame(n int) []byte {
	out := make([]byte, n)
	step := 2 * math.Pi * t.frequency / float64(t.rate)
	for i := range out {
		out[i] = linearToMulaw(int16(toneAmplitude * math.Sin(t.phase)))
		t.phase += step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return out
}

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// linearToMulaw encodes a 16-bit PCM sample as G.711 mu-law.
func linearToMulaw(sample int16) byte {
	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := 7
	for mask := 0x4000; s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0f
	return ^byte(sign | exponent<<4 | mantissa)
}
