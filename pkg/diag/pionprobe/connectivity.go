package pionprobe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/thesyncim/rtcdiag/pkg/diag"
	"github.com/thesyncim/rtcdiag/pkg/signaling"
)

// NewConnectivityFactory returns a factory for probes that place their test
// call through the signaling endpoint at signalingURL.
func NewConnectivityFactory(signalingURL string, opts ...Option) diag.ConnectivityProbeFactory {
	return func(token string, probeOpts diag.ConnectivityOptions) (diag.ConnectivityProbe, error) {
		cfg, err := newConfig(opts)
		if err != nil {
			return nil, err
		}
		return newConnectivityProbe(signalingURL, token, probeOpts, cfg)
	}
}

// ConnectivityProbe places one test call and reports on it.
type ConnectivityProbe struct {
	cfg  config
	opts diag.ConnectivityOptions
	url  string
	api  *webrtc.API
	log  logging.LeveledLogger

	events      emitter
	onCompleted func(*diag.ConnectivityReport)
	onConnected func()
	onSample    func(diag.Sample)
	onFailed    func(error)
	onWarning   func(string, any)

	started atomic.Bool

	mu       sync.Mutex
	samples  []diag.Sample
	warnings []diag.Warning
	raised   map[string]bool
}

// newConnectivityProbe builds a probe for one call.
func newConnectivityProbe(signalingURL, token string, opts diag.ConnectivityOptions, cfg config) (*ConnectivityProbe, error) {
	if !opts.FakeMicInput {
		return nil, ErrMicrophoneUnavailable
	}
	dialURL, err := signaling.DialURL(signalingURL, token, opts.Edge.String())
	if err != nil {
		return nil, err
	}

	codecs := opts.CodecPreferences
	if len(codecs) == 0 {
		codecs = defaultCodecs
	}
	api, err := newAPI(codecs, cfg.loggerFactory, opts.Debug)
	if err != nil {
		return nil, err
	}
	if opts.SignalingTimeout <= 0 {
		opts.SignalingTimeout = diag.SignalingTimeout
	}

	return &ConnectivityProbe{
		cfg:         cfg,
		opts:        opts,
		url:         dialURL,
		api:         api,
		log:         cfg.loggerFactory.NewLogger("connectivity-probe"),
		onCompleted: func(*diag.ConnectivityReport) {},
		onConnected: func() {},
		onSample:    func(diag.Sample) {},
		onFailed:    func(error) {},
		onWarning:   func(string, any) {},
		raised:      make(map[string]bool),
	}, nil
}

// OnCompleted sets the handler called with the final report.
func (p *ConnectivityProbe) OnCompleted(f func(*diag.ConnectivityReport)) { p.onCompleted = f }

// OnConnected sets the handler called once media is flowing.
func (p *ConnectivityProbe) OnConnected(f func()) { p.onConnected = f }

// OnSample sets the handler called for every RTCP receiver report.
func (p *ConnectivityProbe) OnSample(f func(diag.Sample)) { p.onSample = f }

// OnFailed sets the handler called when the call fails.
func (p *ConnectivityProbe) OnFailed(f func(error)) { p.onFailed = f }

// OnWarning sets the handler called when a sample crosses a threshold.
func (p *ConnectivityProbe) OnWarning(f func(name string, data any)) { p.onWarning = f }

// Start places the call in the background.
func (p *ConnectivityProbe) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return errAlreadyStarted
	}
	go p.run()
	return nil
}

func (p *ConnectivityProbe) fail(err error) {
	p.events.terminate(func() {
		p.log.Debugf("call failed: %v", err)
		p.onFailed(err)
	})
}

// run drives the call from signaling to hangup.
func (p *ConnectivityProbe) run() {
	testStart := p.cfg.now()
	report := &diag.ConnectivityReport{
		Edge: p.opts.Edge,
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.SignalingTimeout)
	defer cancel()

	conn, err := p.dial(ctx)
	if err != nil {
		p.fail(err)
		return
	}
	defer conn.Close()

	pc, err := p.api.NewPeerConnection(webrtc.Configuration{ICEServers: p.opts.ICEServers})
	if err != nil {
		p.fail(fmt.Errorf("create peer connection: %w", err))
		return
	}
	defer pc.Close()

	mic := newFakeMic()
	sender, err := pc.AddTrack(mic)
	if err != nil {
		p.fail(fmt.Errorf("add audio track: %w", err))
		return
	}

	connected := make(chan struct{})
	iceFailed := make(chan error, 1)
	var connectedOnce sync.Once
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debugf("peer connection state: %s", state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			connectedOnce.Do(func() { close(connected) })
		case webrtc.PeerConnectionStateFailed:
			select {
			case iceFailed <- ErrICEFailed:
			default:
			}
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		// Drain the echoed audio.
		go func() {
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})

	signalingStart := p.cfg.now()
	callID, err := p.negotiate(ctx, conn, pc)
	if err != nil {
		p.fail(err)
		return
	}
	signalingEnd := p.cfg.now()
	report.CallID = callID
	// Senders bind while the answer is applied.
	codec, clockRate, _ := mic.Negotiated()
	report.Codec = codec
	report.NetworkTiming.Signaling = diag.NewTimeMeasurement(signalingStart, signalingEnd)
	cancel()

	hangup := make(chan error, 1)
	go p.readSignaling(conn, hangup)

	select {
	case <-connected:
	case err := <-iceFailed:
		p.fail(err)
		return
	case err := <-hangup:
		p.fail(err)
		return
	}
	connectedAt := p.cfg.now()
	report.NetworkTiming.ICE = diag.NewTimeMeasurement(signalingEnd, connectedAt)
	report.NetworkTiming.PeerConnection = diag.NewTimeMeasurement(signalingStart, connectedAt)
	p.events.emit(func() {
		p.log.Debug("call connected")
		p.onConnected()
	})

	stopMic := make(chan struct{})
	go mic.run(stopMic)
	go p.readRTCP(sender, mic, clockRate)

	timer := time.NewTimer(p.cfg.callDuration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case err := <-iceFailed:
		close(stopMic)
		p.fail(err)
		return
	case err := <-hangup:
		close(stopMic)
		p.fail(err)
		return
	}
	close(stopMic)

	report.SelectedPair, report.IsTURNRequired = selectedPair(sender.Transport().ICETransport())
	_ = conn.WriteJSON(signaling.Message{Type: signaling.TypeHangup, CallID: callID})
	if err := pc.Close(); err != nil {
		p.log.Warnf("close peer connection: %v", err)
	}

	p.mu.Lock()
	report.Samples = append([]diag.Sample(nil), p.samples...)
	report.Warnings = append([]diag.Warning(nil), p.warnings...)
	p.mu.Unlock()
	summarize(report)
	report.TestTiming = diag.NewTimeMeasurement(testStart, p.cfg.now())

	p.events.terminate(func() {
		p.log.Debugf("call completed: %s", report.CallID)
		p.onCompleted(report)
	})
}

// dial opens the signaling connection.
func (p *ConnectivityProbe) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := p.cfg.dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrSignalingTimeout
		}
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("%w: status %d", ErrSignalingRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial signaling: %w", err)
	}
	return conn, nil
}

// negotiate sends an offer with all ICE candidates and applies the answer.
// It returns the call id assigned by the endpoint.
func (p *ConnectivityProbe) negotiate(ctx context.Context, conn *websocket.Conn, pc *webrtc.PeerConnection) (string, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ErrSignalingTimeout
	}

	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)
	defer func() {
		_ = conn.SetWriteDeadline(time.Time{})
		_ = conn.SetReadDeadline(time.Time{})
	}()

	if err := conn.WriteJSON(signaling.Message{Type: signaling.TypeOffer, SDP: pc.LocalDescription()}); err != nil {
		return "", p.signalingErr(ctx, err)
	}

	var msg signaling.Message
	if err := conn.ReadJSON(&msg); err != nil {
		return "", p.signalingErr(ctx, err)
	}
	switch {
	case msg.Type == signaling.TypeError:
		return "", fmt.Errorf("%w: %s", ErrSignalingRejected, msg.Error)
	case msg.Type != signaling.TypeAnswer || msg.SDP == nil:
		return "", fmt.Errorf("%w: unexpected %q message", ErrSignalingRejected, msg.Type)
	}
	if err := pc.SetRemoteDescription(*msg.SDP); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	return msg.CallID, nil
}

func (p *ConnectivityProbe) signalingErr(ctx context.Context, err error) error {
	var netErr interface{ Timeout() bool }
	if ctx.Err() != nil || (errors.As(err, &netErr) && netErr.Timeout()) {
		return ErrSignalingTimeout
	}
	return fmt.Errorf("%w: %v", ErrSignalingClosed, err)
}

// readSignaling watches the signaling connection for the rest of the call.
// Any hangup, error or read failure ends the call.
func (p *ConnectivityProbe) readSignaling(conn *websocket.Conn, hangup chan<- error) {
	for {
		var msg signaling.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if p.events.done() {
				return
			}
			hangup <- fmt.Errorf("%w: %v", ErrSignalingClosed, err)
			return
		}
		switch msg.Type {
		case signaling.TypeHangup:
			hangup <- fmt.Errorf("%w: remote hung up", ErrSignalingClosed)
			return
		case signaling.TypeError:
			hangup <- fmt.Errorf("%w: %s", ErrSignalingRejected, msg.Error)
			return
		}
	}
}

// readRTCP turns receiver reports about the fake microphone stream into
// samples until the sender is closed. clockRate is that of the negotiated
// codec and scales the reported jitter.
func (p *ConnectivityProbe) readRTCP(sender *webrtc.RTPSender, mic *fakeMic, clockRate uint32) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			rr, ok := pkt.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, rep := range rr.Reports {
				p.recordSample(sampleFromReport(rep, clockRate, mic.Sent(), p.cfg.now()))
			}
		}
	}
}

// recordSample stores s, emits it and raises any warning it newly crosses.
func (p *ConnectivityProbe) recordSample(s diag.Sample) {
	p.mu.Lock()
	p.samples = append(p.samples, s)
	var newly []diag.Warning
	for _, th := range exceededThresholds(s) {
		if th.exceeded && !p.raised[th.name] {
			w := diag.Warning{Name: th.name, Data: s, Timestamp: s.Timestamp}
			p.warnings = append(p.warnings, w)
			newly = append(newly, w)
		}
		p.raised[th.name] = th.exceeded
	}
	p.mu.Unlock()

	p.events.emit(func() {
		p.onSample(s)
		for _, w := range newly {
			p.onWarning(w.Name, w.Data)
		}
	})
}
