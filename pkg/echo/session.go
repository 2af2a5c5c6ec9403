package echo

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/thesyncim/rtcdiag/pkg/signaling"
)

var (
	errNoAudioCodec     = errors.New("offer carries no supported audio codec")
	errUnexpectedOffer  = errors.New("expected an offer")
	errGatheringTimeout = errors.New("ice gathering timed out")
)

// echoCodecs are the audio codecs the answering API registers.
var echoCodecs = []string{"opus", "PCMU", "PCMA", "G722"}

// handleSignal upgrades an authorized caller and runs its session on the
// request goroutine.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !s.authorized(q.Get(signaling.QueryToken)) {
		s.metrics.sessions.WithLabelValues(resultRejected).Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("upgrade: %v", err)
		return
	}

	sess := &session{
		srv:  s,
		conn: conn,
		id:   uuid.NewString(),
		edge: q.Get(signaling.QueryEdge),
		log:  s.log,
	}
	if !s.track(sess) {
		_ = conn.Close()
		return
	}
	defer s.untrack(sess)
	sess.run()
}

// session is one test call.
type session struct {
	srv  *Server
	conn *websocket.Conn
	id   string
	edge string
	log  logging.LeveledLogger

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	closeOnce sync.Once
}

func (sess *session) run() {
	m := sess.srv.metrics
	m.active.Inc()
	defer m.active.Dec()
	defer sess.close()

	start := time.Now()
	offer, err := sess.readOffer()
	if err != nil {
		sess.reject(err)
		return
	}
	if err := sess.answer(offer); err != nil {
		sess.reject(err)
		return
	}
	sess.log.Infof("call %s answered (edge=%q)", sess.id, sess.edge)

	result := sess.serve()
	m.duration.Observe(time.Since(start).Seconds())
	m.sessions.WithLabelValues(result).Inc()
	sess.log.Infof("call %s ended: %s", sess.id, result)
}

// readOffer waits for the caller's offer.
func (sess *session) readOffer() (webrtc.SessionDescription, error) {
	_ = sess.conn.SetReadDeadline(time.Now().Add(sess.srv.cfg.OfferTimeout))
	defer func() { _ = sess.conn.SetReadDeadline(time.Time{}) }()

	var msg signaling.Message
	if err := sess.conn.ReadJSON(&msg); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("read offer: %w", err)
	}
	if msg.Type != signaling.TypeOffer || msg.SDP == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w, got %q", errUnexpectedOffer, msg.Type)
	}
	return *msg.SDP, nil
}

// answer builds the echoing PeerConnection and replies with a complete
// answer and the call id.
func (sess *session) answer(offer webrtc.SessionDescription) error {
	codec, err := offeredAudioCodec(offer.SDP)
	if err != nil {
		return err
	}

	pc, err := sess.srv.api.NewPeerConnection(webrtc.Configuration{ICEServers: sess.srv.cfg.ICEServers})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	sess.mu.Lock()
	sess.pc = pc
	sess.mu.Unlock()

	echo, err := webrtc.NewTrackLocalStaticRTP(codec, "audio", "rtcdiag-echo-"+sess.id)
	if err != nil {
		return fmt.Errorf("create echo track: %w", err)
	}
	sender, err := pc.AddTrack(echo)
	if err != nil {
		return fmt.Errorf("add echo track: %w", err)
	}
	go func() {
		for {
			if _, _, err := sender.ReadRTCP(); err != nil {
				return
			}
		}
	}()

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		sess.log.Debugf("call %s: receiving %s", sess.id, remote.Codec().MimeType)
		go func() {
			for {
				pkt, _, err := remote.ReadRTP()
				if err != nil {
					return
				}
				if err := sess.forward(echo, pkt); err != nil {
					sess.log.Warnf("call %s: echo: %v", sess.id, err)
					return
				}
			}
		}()
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		sess.log.Debugf("call %s: connection state %s", sess.id, state)
		if state == webrtc.PeerConnectionStateFailed {
			sess.close()
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-time.After(sess.srv.cfg.OfferTimeout):
		return errGatheringTimeout
	}

	return sess.conn.WriteJSON(signaling.Message{
		Type:   signaling.TypeAnswer,
		SDP:    pc.LocalDescription(),
		CallID: sess.id,
	})
}

// forward sends pkt back to the caller. The track rewrites payload type
// and SSRC for the negotiated binding.
func (sess *session) forward(track *webrtc.TrackLocalStaticRTP, pkt *rtp.Packet) error {
	if err := track.WriteRTP(pkt); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return nil
		}
		return err
	}
	sess.srv.metrics.packets.Inc()
	return nil
}

// serve keeps the call up until the caller hangs up or the connection
// goes away, and reports how it ended.
func (sess *session) serve() string {
	for {
		var msg signaling.Message
		if err := sess.conn.ReadJSON(&msg); err != nil {
			sess.log.Debugf("call %s: signaling closed: %v", sess.id, err)
			return resultFailed
		}
		if msg.Type == signaling.TypeHangup {
			return resultCompleted
		}
	}
}

// reject reports err to the caller before the session closes.
func (sess *session) reject(err error) {
	sess.log.Warnf("call %s: %v", sess.id, err)
	sess.srv.metrics.sessions.WithLabelValues(resultFailed).Inc()
	_ = sess.conn.WriteJSON(signaling.Message{Type: signaling.TypeError, CallID: sess.id, Error: err.Error()})
}

func (sess *session) close() {
	sess.closeOnce.Do(func() {
		sess.mu.Lock()
		pc := sess.pc
		sess.mu.Unlock()
		if pc != nil {
			if err := pc.Close(); err != nil {
				sess.log.Warnf("call %s: close peer connection: %v", sess.id, err)
			}
		}
		_ = sess.conn.Close()
	})
}

// offeredAudioCodec returns the first codec of the offer's audio section
// that the echo side can send back.
func offeredAudioCodec(raw string) (webrtc.RTPCodecCapability, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return webrtc.RTPCodecCapability{}, fmt.Errorf("parse offer: %w", err)
	}
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		for _, format := range md.MediaName.Formats {
			pt, err := strconv.ParseUint(format, 10, 8)
			if err != nil {
				continue
			}
			codec, err := desc.GetCodecForPayloadType(uint8(pt))
			if err != nil || !supported(codec.Name) {
				continue
			}
			capability := webrtc.RTPCodecCapability{
				MimeType:    "audio/" + codec.Name,
				ClockRate:   codec.ClockRate,
				SDPFmtpLine: codec.Fmtp,
			}
			if ch, err := strconv.ParseUint(codec.EncodingParameters, 10, 16); err == nil {
				capability.Channels = uint16(ch)
			}
			return capability, nil
		}
	}
	return webrtc.RTPCodecCapability{}, errNoAudioCodec
}

func supported(name string) bool {
	for _, c := range echoCodecs {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}
