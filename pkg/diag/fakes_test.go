package diag

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"
)

// fakeConnectivityProbe is a scripted ConnectivityProbe. Tests drive its
// event stream through the emit helpers.
type fakeConnectivityProbe struct {
	token    string
	opts     ConnectivityOptions
	startErr error
	started  atomic.Int32

	onCompleted func(*ConnectivityReport)
	onConnected func()
	onSample    func(Sample)
	onFailed    func(error)
	onWarning   func(string, any)
}

func (p *fakeConnectivityProbe) OnCompleted(f func(*ConnectivityReport)) { p.onCompleted = f }
func (p *fakeConnectivityProbe) OnConnected(f func())                    { p.onConnected = f }
func (p *fakeConnectivityProbe) OnSample(f func(Sample))                 { p.onSample = f }
func (p *fakeConnectivityProbe) OnFailed(f func(error))                  { p.onFailed = f }
func (p *fakeConnectivityProbe) OnWarning(f func(string, any))           { p.onWarning = f }

func (p *fakeConnectivityProbe) Start() error {
	p.started.Add(1)
	return p.startErr
}

// connectivityFactory returns a factory handing out fresh fakes and a
// function listing every fake built so far.
func connectivityFactory() (ConnectivityProbeFactory, func() []*fakeConnectivityProbe) {
	var (
		mu     sync.Mutex
		probes []*fakeConnectivityProbe
	)
	factory := func(token string, opts ConnectivityOptions) (ConnectivityProbe, error) {
		mu.Lock()
		defer mu.Unlock()
		p := &fakeConnectivityProbe{token: token, opts: opts}
		probes = append(probes, p)
		return p, nil
	}
	built := func() []*fakeConnectivityProbe {
		mu.Lock()
		defer mu.Unlock()
		return append([]*fakeConnectivityProbe(nil), probes...)
	}
	return factory, built
}

// fakeBitrateProbe is a scripted BitrateProbe.
type fakeBitrateProbe struct {
	opts     BitrateOptions
	startErr error
	stops    atomic.Int32

	// onStopCalled, if set, runs on every Stop call.
	onStopCalled func(p *fakeBitrateProbe)

	onBitrate func(float64)
	onError   func(error)
	onEnd     func(*BitrateReport)
}

func (p *fakeBitrateProbe) OnBitrate(f func(float64))    { p.onBitrate = f }
func (p *fakeBitrateProbe) OnError(f func(error))        { p.onError = f }
func (p *fakeBitrateProbe) OnEnd(f func(*BitrateReport)) { p.onEnd = f }
func (p *fakeBitrateProbe) Start() error                 { return p.startErr }

func (p *fakeBitrateProbe) Stop() {
	p.stops.Add(1)
	if p.onStopCalled != nil {
		p.onStopCalled(p)
	}
}

// captureLoggerFactory records every log line, keyed by scope.
type captureLoggerFactory struct {
	mu    sync.Mutex
	lines []string
}

func (f *captureLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &captureLogger{factory: f, scope: scope}
}

func (f *captureLoggerFactory) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

type captureLogger struct {
	factory *captureLoggerFactory
	scope   string
}

func (l *captureLogger) record(level, msg string) {
	l.factory.mu.Lock()
	defer l.factory.mu.Unlock()
	l.factory.lines = append(l.factory.lines, fmt.Sprintf("%s %s: %s", l.scope, level, msg))
}

func (l *captureLogger) Trace(msg string) { l.record("TRACE", msg) }
func (l *captureLogger) Tracef(format string, args ...interface{}) {
	l.record("TRACE", fmt.Sprintf(format, args...))
}
func (l *captureLogger) Debug(msg string) { l.record("DEBUG", msg) }
func (l *captureLogger) Debugf(format string, args ...interface{}) {
	l.record("DEBUG", fmt.Sprintf(format, args...))
}
func (l *captureLogger) Info(msg string) { l.record("INFO", msg) }
func (l *captureLogger) Infof(format string, args ...interface{}) {
	l.record("INFO", fmt.Sprintf(format, args...))
}
func (l *captureLogger) Warn(msg string) { l.record("WARN", msg) }
func (l *captureLogger) Warnf(format string, args ...interface{}) {
	l.record("WARN", fmt.Sprintf(format, args...))
}
func (l *captureLogger) Error(msg string) { l.record("ERROR", msg) }
func (l *captureLogger) Errorf(format string, args ...interface{}) {
	l.record("ERROR", fmt.Sprintf(format, args...))
}
