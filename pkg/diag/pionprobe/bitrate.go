package pionprobe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/thesyncim/rtcdiag/pkg/diag"
)

const (
	bitrateChannelLabel = "rtcdiag-bitrate"

	// The sender keeps the channel buffer between these marks.
	bufferHigh = 1 << 20
	bufferLow  = 256 << 10
)

// NewBitrateFactory returns a factory for DataChannel bitrate probes.
func NewBitrateFactory(opts ...Option) diag.BitrateProbeFactory {
	return func(probeOpts diag.BitrateOptions) (diag.BitrateProbe, error) {
		cfg, err := newConfig(opts)
		if err != nil {
			return nil, err
		}
		return newBitrateProbe(probeOpts, cfg)
	}
}

// BitrateProbe measures how fast data crosses the ICE path between two
// local PeerConnections. When TURN servers are supplied the sending side is
// restricted to relay candidates, so the measurement covers the relay path.
type BitrateProbe struct {
	cfg  config
	opts diag.BitrateOptions
	api  *webrtc.API
	log  logging.LeveledLogger

	events    emitter
	onBitrate func(float64)
	onError   func(error)
	onEnd     func(*diag.BitrateReport)

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	received atomic.Uint64

	mu       sync.Mutex
	offerer  *webrtc.PeerConnection
	answerer *webrtc.PeerConnection
	values   []float64
	start    time.Time
}

func newBitrateProbe(opts diag.BitrateOptions, cfg config) (*BitrateProbe, error) {
	s := webrtc.SettingEngine{}
	s.LoggerFactory = quietFactory{cfg.loggerFactory}
	return &BitrateProbe{
		cfg:       cfg,
		opts:      opts,
		api:       webrtc.NewAPI(webrtc.WithSettingEngine(s)),
		log:       cfg.loggerFactory.NewLogger("bitrate-probe"),
		onBitrate: func(float64) {},
		onError:   func(error) {},
		onEnd:     func(*diag.BitrateReport) {},
		stop:      make(chan struct{}),
	}, nil
}

// OnBitrate sets the handler called with each measurement in bits per second.
func (p *BitrateProbe) OnBitrate(f func(bps float64)) { p.onBitrate = f }

// OnError sets the handler called when the test fails.
func (p *BitrateProbe) OnError(f func(error)) { p.onError = f }

// OnEnd sets the handler called with the final report.
func (p *BitrateProbe) OnEnd(f func(*diag.BitrateReport)) { p.onEnd = f }

// Start connects the two PeerConnections and begins sending. Negotiation
// continues in the background.
func (p *BitrateProbe) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return errAlreadyStarted
	}
	select {
	case <-p.stop:
		return errStopped
	default:
	}

	policy := webrtc.ICETransportPolicyAll
	if hasTURN(p.opts.ICEServers) {
		policy = webrtc.ICETransportPolicyRelay
	}
	offerer, err := p.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         p.opts.ICEServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return fmt.Errorf("create sending peer connection: %w", err)
	}
	answerer, err := p.api.NewPeerConnection(webrtc.Configuration{ICEServers: p.opts.ICEServers})
	if err != nil {
		_ = offerer.Close()
		return fmt.Errorf("create receiving peer connection: %w", err)
	}

	p.mu.Lock()
	select {
	case <-p.stop:
		// Stopped while the connections were being created; finish has
		// already run and would not see them.
		p.mu.Unlock()
		_ = offerer.Close()
		_ = answerer.Close()
		return errStopped
	default:
	}
	p.offerer = offerer
	p.answerer = answerer
	p.start = p.cfg.now()
	p.mu.Unlock()

	dc, err := offerer.CreateDataChannel(bitrateChannelLabel, nil)
	if err != nil {
		p.closeConnections()
		return fmt.Errorf("create data channel: %w", err)
	}
	dc.OnOpen(func() {
		go p.send(dc)
		go p.measure()
	})

	answerer.OnDataChannel(func(d *webrtc.DataChannel) {
		d.OnMessage(func(msg webrtc.DataChannelMessage) {
			p.received.Add(uint64(len(msg.Data)))
		})
	})
	offerer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debugf("sending peer connection state: %s", state)
		if state == webrtc.PeerConnectionStateFailed {
			go p.finish(ErrICEFailed)
		}
	})

	go func() {
		if err := p.negotiate(offerer, answerer); err != nil {
			p.finish(err)
		}
	}()
	return nil
}

// Stop ends the test and reports the measurements taken so far. It is safe
// to call any number of times, before or after the probe terminated.
func (p *BitrateProbe) Stop() {
	p.finish(nil)
}

// negotiate exchanges descriptions with complete candidates.
func (p *BitrateProbe) negotiate(offerer, answerer *webrtc.PeerConnection) error {
	offer, err := offerer.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	offerGathered := webrtc.GatheringCompletePromise(offerer)
	if err := offerer.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set offer: %w", err)
	}
	select {
	case <-offerGathered:
	case <-p.stop:
		return nil
	}
	if err := answerer.SetRemoteDescription(*offerer.LocalDescription()); err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}

	answer, err := answerer.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	answerGathered := webrtc.GatheringCompletePromise(answerer)
	if err := answerer.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set answer: %w", err)
	}
	select {
	case <-answerGathered:
	case <-p.stop:
		return nil
	}
	if err := offerer.SetRemoteDescription(*answerer.LocalDescription()); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	return nil
}

// send fills the channel as fast as its buffer drains.
func (p *BitrateProbe) send(dc *webrtc.DataChannel) {
	payload := make([]byte, p.cfg.messageSize)
	low := make(chan struct{}, 1)
	dc.SetBufferedAmountLowThreshold(bufferLow)
	dc.OnBufferedAmountLow(func() {
		select {
		case low <- struct{}{}:
		default:
		}
	})

	for {
		select {
		case <-p.stop:
			return
		default:
		}
		if dc.BufferedAmount() > bufferHigh {
			select {
			case <-low:
			case <-p.stop:
				return
			}
			continue
		}
		if err := dc.Send(payload); err != nil {
			return
		}
	}
}

// measure converts received bytes into one bitrate value per interval.
func (p *BitrateProbe) measure() {
	ticker := time.NewTicker(p.cfg.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			bytes := p.received.Swap(0)
			bps := float64(bytes*8) / p.cfg.sampleInterval.Seconds()

			p.events.emit(func() {
				// Once stopped, finish has taken its snapshot of values.
				p.mu.Lock()
				select {
				case <-p.stop:
					p.mu.Unlock()
					return
				default:
				}
				p.values = append(p.values, bps)
				p.mu.Unlock()
				p.onBitrate(bps)
			})
		}
	}
}

// finish tears the probe down and emits the terminal event. A nil err
// reports the measurements, or ErrNoBitrateData if there are none.
func (p *BitrateProbe) finish(err error) {
	p.stopOnce.Do(func() {
		close(p.stop)

		p.mu.Lock()
		var pair *diag.CandidatePair
		var relayed bool
		if p.offerer != nil {
			if sctp := p.offerer.SCTP(); sctp != nil && sctp.Transport() != nil {
				pair, relayed = selectedPair(sctp.Transport().ICETransport())
			}
		}
		values := append([]float64(nil), p.values...)
		start := p.start
		p.mu.Unlock()

		p.closeConnections()

		if err == nil && len(values) == 0 {
			err = ErrNoBitrateData
		}
		if err != nil {
			p.events.terminate(func() {
				p.log.Debugf("bitrate test failed: %v", err)
				p.onError(err)
			})
			return
		}

		report := &diag.BitrateReport{
			AverageBitrate: diag.SummarizeStats(values).Average,
			Values:         values,
			IsTURNRequired: relayed,
			SelectedPair:   pair,
			TestTiming:     diag.NewTimeMeasurement(start, p.cfg.now()),
		}
		p.events.terminate(func() {
			p.log.Debugf("bitrate test ended: average %.0f bps", report.AverageBitrate)
			p.onEnd(report)
		})
	})
}

func (p *BitrateProbe) closeConnections() {
	p.mu.Lock()
	offerer, answerer := p.offerer, p.answerer
	p.mu.Unlock()
	for _, pc := range []*webrtc.PeerConnection{offerer, answerer} {
		if pc == nil {
			continue
		}
		if err := pc.Close(); err != nil {
			p.log.Warnf("close peer connection: %v", err)
		}
	}
}
