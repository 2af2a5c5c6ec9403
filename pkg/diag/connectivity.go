package diag

import (
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// ConnectivityRunner runs connectivity tests: a short call through the
// signaling service with a synthetic microphone.
//
// The runner imposes no deadline of its own. A probe that never reaches
// Completed or Failed, and whose signaling timeout never fires, leaves the
// returned Future pending.
type ConnectivityRunner struct {
	newProbe ConnectivityProbeFactory
	log      logging.LeveledLogger
}

// NewConnectivityRunner creates a runner that builds probes with factory.
func NewConnectivityRunner(factory ConnectivityProbeFactory, opts ...Option) *ConnectivityRunner {
	cfg := newRunnerConfig(opts)
	return &ConnectivityRunner{
		newProbe: factory,
		log:      cfg.loggerFactory.NewLogger("connectivity-test"),
	}
}

// connectivityRun holds the progress of one invocation.
type connectivityRun struct {
	mu           sync.Mutex
	hasConnected bool
	latestSample *Sample
}

func (r *connectivityRun) connected() {
	r.mu.Lock()
	r.hasConnected = true
	r.mu.Unlock()
}

func (r *connectivityRun) sample(s Sample) {
	r.mu.Lock()
	r.latestSample = &s
	r.mu.Unlock()
}

func (r *connectivityRun) enrich(err error) *ConnectivityError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &ConnectivityError{
		Err:          err,
		HasConnected: r.hasConnected,
		LatestSample: r.latestSample,
	}
}

// Run starts a connectivity test through edge and returns its Future.
//
// iceServers are regionalized for edge before the probe is built. The
// Future resolves with the probe's report unchanged, or rejects with a
// *ConnectivityError carrying whether the call connected and the last
// sample seen.
func (r *ConnectivityRunner) Run(edge Edge, token string, iceServers []webrtc.ICEServer, codecPreferences []Codec) *Future[*ConnectivityReport] {
	future := newFuture[*ConnectivityReport]()

	probe, err := r.newProbe(token, ConnectivityOptions{
		Edge:             edge,
		ICEServers:       Regionalize(edge, iceServers),
		CodecPreferences: codecPreferences,
		Debug:            false,
		SignalingTimeout: SignalingTimeout,
		FakeMicInput:     true,
	})
	if err != nil {
		future.reject(fmt.Errorf("create connectivity probe: %w", err))
		return future
	}

	run := &connectivityRun{}

	probe.OnCompleted(func(report *ConnectivityReport) {
		r.log.Debugf("connectivity test: completed: %+v", report)
		future.resolve(report)
	})
	probe.OnConnected(func() {
		r.log.Debug("connectivity test: connected")
		run.connected()
	})
	probe.OnSample(func(s Sample) {
		run.sample(s)
	})
	probe.OnFailed(func(err error) {
		r.log.Debugf("connectivity test: failed: %v", err)
		future.reject(run.enrich(err))
	})
	probe.OnWarning(func(name string, data any) {
		r.log.Warnf("connectivity test: warning %s: %v", name, data)
	})

	future.start()
	if err := probe.Start(); err != nil {
		future.reject(fmt.Errorf("start connectivity probe: %w", err))
	}
	return future
}
