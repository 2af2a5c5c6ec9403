package diag

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/thesyncim/rtcdiag/pkg/diag/internal"
)

// BitrateRunner runs bitrate tests over the raw ICE path. Every test is
// stopped BitrateTestDuration after it starts.
type BitrateRunner struct {
	newProbe BitrateProbeFactory
	log      logging.LeveledLogger
	clock    internal.Clock
}

// NewBitrateRunner creates a runner that builds probes with factory.
func NewBitrateRunner(factory BitrateProbeFactory, opts ...Option) *BitrateRunner {
	cfg := newRunnerConfig(opts)
	return &BitrateRunner{
		newProbe: factory,
		log:      cfg.loggerFactory.NewLogger("bitrate-test"),
		clock:    cfg.clock,
	}
}

// Run starts a bitrate test through edge and returns its Future.
//
// The Future resolves with the probe's End report or rejects with the
// probe's error as-is. If neither arrives within BitrateTestDuration the
// probe is stopped. The deadline is disarmed once the Future settles.
func (r *BitrateRunner) Run(edge Edge, iceServers []webrtc.ICEServer) *Future[*BitrateReport] {
	future := newFuture[*BitrateReport]()

	probe, err := r.newProbe(BitrateOptions{
		ICEServers: Regionalize(edge, iceServers),
	})
	if err != nil {
		future.reject(fmt.Errorf("create bitrate probe: %w", err))
		return future
	}

	probe.OnBitrate(func(bps float64) {
		r.log.Debugf("bitrate test: bitrate %.0f bps", bps)
	})
	probe.OnError(func(err error) {
		r.log.Debugf("bitrate test: error: %v", err)
		future.reject(err)
	})
	probe.OnEnd(func(report *BitrateReport) {
		r.log.Debugf("bitrate test: end: %+v", report)
		future.resolve(report)
	})

	deadline := r.clock.AfterFunc(BitrateTestDuration, func() {
		r.log.Debug("bitrate test: duration reached, stopping probe")
		probe.Stop()
	})
	future.onSettle(func() {
		deadline.Stop()
	})

	future.start()
	if err := probe.Start(); err != nil {
		future.reject(fmt.Errorf("start bitrate probe: %w", err))
		probe.Stop()
	}
	return future
}
