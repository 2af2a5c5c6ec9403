package pionprobe

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/thesyncim/rtcdiag/pkg/diag"
)

// defaultCodecs is the codec order used when the caller states no
// preference.
var defaultCodecs = []diag.Codec{diag.CodecOpus, diag.CodecPCMU}

// codecParameters returns the RTP parameters registered for c.
func codecParameters(c diag.Codec) (webrtc.RTPCodecParameters, error) {
	switch c {
	case diag.CodecPCMU:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
			PayloadType:        0,
		}, nil
	case diag.CodecOpus:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		}, nil
	default:
		return webrtc.RTPCodecParameters{}, fmt.Errorf("%w: %q", diag.ErrUnknownCodec, c)
	}
}

// newAPI builds a Pion API with the audio codecs registered in preference
// order and RTCP sender/receiver reports enabled. When debug is false the
// Pion stack only logs warnings and errors.
func newAPI(codecs []diag.Codec, lf logging.LoggerFactory, debug bool) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range codecs {
		params, err := codecParameters(c)
		if err != nil {
			return nil, err
		}
		if err := m.RegisterCodec(params, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c, err)
		}
	}

	i := &interceptor.Registry{}
	if err := webrtc.ConfigureRTCPReports(i); err != nil {
		return nil, fmt.Errorf("configure rtcp reports: %w", err)
	}

	s := webrtc.SettingEngine{}
	if debug {
		s.LoggerFactory = lf
	} else {
		s.LoggerFactory = quietFactory{lf}
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(s),
	), nil
}

// quietFactory hands out loggers that drop trace, debug and info output.
type quietFactory struct {
	logging.LoggerFactory
}

func (f quietFactory) NewLogger(scope string) logging.LeveledLogger {
	return quietLogger{f.LoggerFactory.NewLogger(scope)}
}

type quietLogger struct {
	logging.LeveledLogger
}

func (quietLogger) Trace(string)                  {}
func (quietLogger) Tracef(string, ...interface{}) {}
func (quietLogger) Debug(string)                  {}
func (quietLogger) Debugf(string, ...interface{}) {}
func (quietLogger) Info(string)                   {}
func (quietLogger) Infof(string, ...interface{})  {}

// hasTURN reports whether any server offers a TURN relay.
func hasTURN(servers []webrtc.ICEServer) bool {
	for _, s := range servers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}

// selectedPair describes the candidate pair in use on t and reports whether
// it goes through a TURN relay.
func selectedPair(t *webrtc.ICETransport) (*diag.CandidatePair, bool) {
	if t == nil {
		return nil, false
	}
	pair, err := t.GetSelectedCandidatePair()
	if err != nil || pair == nil || pair.Local == nil || pair.Remote == nil {
		return nil, false
	}
	cp := &diag.CandidatePair{
		LocalType:  pair.Local.Typ.String(),
		LocalAddr:  net.JoinHostPort(pair.Local.Address, strconv.Itoa(int(pair.Local.Port))),
		RemoteType: pair.Remote.Typ.String(),
		RemoteAddr: net.JoinHostPort(pair.Remote.Address, strconv.Itoa(int(pair.Remote.Port))),
		Protocol:   pair.Local.Protocol.String(),
	}
	relayed := pair.Local.Typ == webrtc.ICECandidateTypeRelay || pair.Remote.Typ == webrtc.ICECandidateTypeRelay
	return cp, relayed
}
